package tacplus

import (
	"encoding/binary"
	"fmt"
)

// bodyReader walks a body whose total size has already been reconciled with
// the declared field lengths, so reads never run past the buffer.
type bodyReader struct {
	buf []byte
	err error
}

func (r *bodyReader) u8() uint8 {
	c := r.buf[0]
	r.buf = r.buf[1:]
	return c
}

func (r *bodyReader) u16() uint16 {
	n := binary.BigEndian.Uint16(r.buf)
	r.buf = r.buf[2:]
	return n
}

// bytes returns an owned copy of the next n bytes.
func (r *bodyReader) bytes(n int) []byte {
	if n == 0 {
		return nil
	}
	b := append([]byte(nil), r.buf[:n]...)
	r.buf = r.buf[n:]
	return b
}

// text reads a FieldText, keeping the first validation error.
func (r *bodyReader) text(n int, field string) FieldText {
	raw := r.buf[:n]
	r.buf = r.buf[n:]

	t, err := ParseFieldText(raw)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", field, err)
	}
	return t
}

// args reads one argument per length.
func (r *bodyReader) args(lens []uint8) []Argument {
	if len(lens) == 0 {
		return nil
	}

	args := make([]Argument, 0, len(lens))
	for i, n := range lens {
		raw := r.buf[:n]
		r.buf = r.buf[n:]

		arg, err := ParseArgument(raw)
		if err != nil {
			if r.err == nil {
				r.err = fmt.Errorf("%w: argument %d: %w", ErrMalformedPacket, i, err)
			}
			continue
		}
		args = append(args, arg)
	}
	return args
}

// checkBodySize reconciles the fixed part plus declared variable lengths with
// the actual buffer length.
func checkBodySize(data []byte, want int, body string) error {
	if len(data) == want {
		return nil
	}

	if isBadSecretError(len(data), want) {
		return fmt.Errorf("%w: %w: %s declares %d bytes, got %d", ErrMalformedPacket, ErrBadSecret, body, want, len(data))
	}

	return fmt.Errorf("%w: %s declares %d bytes, got %d", ErrMalformedPacket, body, want, len(data))
}

func checkFixedSize(data []byte, fixed int, body string) error {
	if len(data) < fixed {
		return fmt.Errorf("%w: %s needs at least %d bytes, got %d", ErrMalformedPacket, body, fixed, len(data))
	}
	return nil
}

func checkLen8(n int, field string) error {
	if n > 0xff {
		return fmt.Errorf("%w: %s is %d bytes, at most 255 allowed", ErrMalformedPacket, field, n)
	}
	return nil
}

func checkLen16(n int, field string) error {
	if n > 0xffff {
		return fmt.Errorf("%w: %s is %d bytes, at most 65535 allowed", ErrMalformedPacket, field, n)
	}
	return nil
}

func appendUint16(b []byte, v int) []byte {
	return binary.BigEndian.AppendUint16(b, uint16(v))
}

// marshal runs an AppendBinary implementation into a right-sized buffer.
func marshal(size int, appendFn func([]byte) ([]byte, error)) ([]byte, error) {
	return appendFn(make([]byte, 0, size))
}
