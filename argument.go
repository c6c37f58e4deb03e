package tacplus

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	argDelimMandatory = '='
	argDelimOptional  = '*'

	maxArgumentLength = 0xff
)

// Argument is an authorization or accounting attribute-value pair. It is
// encoded as name=value when mandatory and name*value when optional.
type Argument struct {
	Name      FieldText
	Value     FieldText
	Mandatory bool
}

// NewArgument validates name and value and builds an Argument.
func NewArgument(name, value string, mandatory bool) (Argument, error) {
	n, err := NewFieldText(name)
	if err != nil {
		return Argument{}, fmt.Errorf("argument name: %w", err)
	}

	v, err := NewFieldText(value)
	if err != nil {
		return Argument{}, fmt.Errorf("argument value: %w", err)
	}

	arg := Argument{Name: n, Value: v, Mandatory: mandatory}
	if err := arg.Validate(); err != nil {
		return Argument{}, err
	}

	return arg, nil
}

// Mandatory builds a mandatory argument. Invalid input is reported when the
// argument is encoded.
func Mandatory(name, value string) Argument {
	return Argument{Name: FieldText(name), Value: FieldText(value), Mandatory: true}
}

// Optional builds an optional argument. Invalid input is reported when the
// argument is encoded.
func Optional(name, value string) Argument {
	return Argument{Name: FieldText(name), Value: FieldText(value)}
}

// ParseArgument decodes the wire form of an argument. The first '=' or '*'
// is the delimiter, so values may contain either character.
func ParseArgument(b []byte) (Argument, error) {
	idx := bytes.IndexAny(b, "=*")
	if idx < 0 {
		return Argument{}, fmt.Errorf("%w: no delimiter in %q", ErrInvalidArgument, b)
	}

	if idx == 0 {
		return Argument{}, fmt.Errorf("%w: empty name", ErrInvalidArgument)
	}

	name, err := ParseFieldText(b[:idx])
	if err != nil {
		return Argument{}, fmt.Errorf("argument name: %w", err)
	}

	value, err := ParseFieldText(b[idx+1:])
	if err != nil {
		return Argument{}, fmt.Errorf("argument value: %w", err)
	}

	return Argument{
		Name:      name,
		Value:     value,
		Mandatory: b[idx] == argDelimMandatory,
	}, nil
}

// Validate checks that the argument can be encoded.
func (a Argument) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidArgument)
	}

	if strings.ContainsAny(string(a.Name), "=*") {
		return fmt.Errorf("%w: name %q contains a delimiter", ErrInvalidArgument, a.Name)
	}

	if _, err := NewFieldText(string(a.Name)); err != nil {
		return fmt.Errorf("argument name: %w", err)
	}

	if _, err := NewFieldText(string(a.Value)); err != nil {
		return fmt.Errorf("argument value: %w", err)
	}

	if a.encodedLen() > maxArgumentLength {
		return fmt.Errorf("%w: %q encodes to %d bytes", ErrInvalidArgument, a.Name, a.encodedLen())
	}

	return nil
}

func (a Argument) delimiter() byte {
	if a.Mandatory {
		return argDelimMandatory
	}
	return argDelimOptional
}

func (a Argument) encodedLen() int {
	return len(a.Name) + 1 + len(a.Value)
}

func (a Argument) appendTo(b []byte) []byte {
	b = append(b, a.Name...)
	b = append(b, a.delimiter())
	return append(b, a.Value...)
}

func (a Argument) String() string {
	return string(a.Name) + string(a.delimiter()) + string(a.Value)
}

// MergeArguments combines the arguments of an authorization request with the
// arguments returned by the server, as described in RFC8907 Section 6.1.
//
// A response argument overrides the request argument of the same name when it
// is mandatory or when the request left the value empty. Request arguments the
// server did not mention are kept unchanged, response arguments the request
// did not carry are appended in response order.
func MergeArguments(request, response []Argument) []Argument {
	return mergeArguments(request, response, false)
}

// ReplaceArguments merges like MergeArguments but every response argument
// overrides the request argument of the same name. It is applied to
// PASS_REPL responses.
func ReplaceArguments(request, response []Argument) []Argument {
	return mergeArguments(request, response, true)
}

func mergeArguments(request, response []Argument, replace bool) []Argument {
	merged := make([]Argument, len(request), len(request)+len(response))
	copy(merged, request)

	index := make(map[FieldText]int, len(request))
	for i, arg := range request {
		if _, ok := index[arg.Name]; !ok {
			index[arg.Name] = i
		}
	}

	for _, arg := range response {
		i, ok := index[arg.Name]
		if !ok {
			index[arg.Name] = len(merged)
			merged = append(merged, arg)
			continue
		}

		if replace || arg.Mandatory || merged[i].Value == "" {
			merged[i] = arg
		}
	}

	return merged
}

// appendArgLengths writes the per-argument length bytes of an argument list.
func appendArgLengths(b []byte, args []Argument) []byte {
	for _, arg := range args {
		b = append(b, uint8(arg.encodedLen()))
	}
	return b
}

func appendArgs(b []byte, args []Argument) []byte {
	for _, arg := range args {
		b = arg.appendTo(b)
	}
	return b
}

func validateArgs(args []Argument) error {
	if len(args) > 0xff {
		return fmt.Errorf("%w: %d arguments, at most 255 allowed", ErrInvalidArgument, len(args))
	}

	for i, arg := range args {
		if err := arg.Validate(); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}

	return nil
}

func argsSize(args []Argument) int {
	n := len(args)
	for _, arg := range args {
		n += arg.encodedLen()
	}
	return n
}

// FindArgument returns the first argument with the given name.
func FindArgument(args []Argument, name string) (Argument, bool) {
	for _, arg := range args {
		if string(arg.Name) == name {
			return arg, true
		}
	}
	return Argument{}, false
}
