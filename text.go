package tacplus

import (
	"fmt"
	"strings"
)

// FieldText is a protocol text value made only of printable ASCII (0x20-0x7e).
type FieldText string

// NewFieldText validates s and returns it as FieldText.
func NewFieldText(s string) (FieldText, error) {
	for i := 0; i < len(s); i++ {
		if !isPrintable(s[i]) {
			return "", fmt.Errorf("%w: byte %#x at offset %d", ErrInvalidText, s[i], i)
		}
	}

	return FieldText(s), nil
}

// ParseFieldText validates raw wire bytes and copies them into a FieldText.
func ParseFieldText(b []byte) (FieldText, error) {
	for i, c := range b {
		if !isPrintable(c) {
			return "", fmt.Errorf("%w: byte %#x at offset %d", ErrInvalidText, c, i)
		}
	}

	return FieldText(b), nil
}

// EscapeFieldText converts s into FieldText, replacing every byte outside the
// printable ASCII range with a \xHH escape. The conversion is lossy: a literal
// "\x41" in s is indistinguishable from an escaped byte in the result.
func EscapeFieldText(s string) FieldText {
	clean := true
	for i := 0; i < len(s); i++ {
		if !isPrintable(s[i]) {
			clean = false
			break
		}
	}

	if clean {
		return FieldText(s)
	}

	var sb strings.Builder
	sb.Grow(len(s) + 8)

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isPrintable(c) {
			sb.WriteByte(c)
			continue
		}

		fmt.Fprintf(&sb, `\x%02x`, c)
	}

	return FieldText(sb.String())
}

// MustFieldText is like NewFieldText but panics on invalid input. It is
// meant for constants known at compile time.
func MustFieldText(s string) FieldText {
	t, err := NewFieldText(s)
	if err != nil {
		panic(err)
	}

	return t
}

func (t FieldText) String() string {
	return string(t)
}

func isPrintable(c byte) bool {
	return c >= 0x20 && c <= 0x7e
}
