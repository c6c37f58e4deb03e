package tacplus

import (
	"fmt"
)

const (
	requestFixedLen        = 8
	authorResponseFixedLen = 6
)

// AuthorRequest is the authorization REQUEST body defined in RFC8907 Section 6.1.
type AuthorRequest struct {
	AuthenMethod AuthenMethod
	PrivLevel    uint8
	AuthenType   AuthenType
	Service      AuthenService
	User         FieldText
	Port         FieldText
	RemoteAddr   FieldText
	Args         []Argument
}

// NewAuthorRequest returns a REQUEST body for user at the user privilege level.
func NewAuthorRequest(method AuthenMethod, authenType AuthenType, service AuthenService, user FieldText) *AuthorRequest {
	return &AuthorRequest{
		AuthenMethod: method,
		PrivLevel:    PrivLvlUser,
		AuthenType:   authenType,
		Service:      service,
		User:         user,
	}
}

// AddArg appends an argument.
func (p *AuthorRequest) AddArg(arg Argument) {
	p.Args = append(p.Args, arg)
}

// WireSize returns the encoded body size.
func (p *AuthorRequest) WireSize() int {
	return requestFixedLen + len(p.User) + len(p.Port) + len(p.RemoteAddr) + argsSize(p.Args)
}

// MarshalBinary encodes the body.
func (p *AuthorRequest) MarshalBinary() ([]byte, error) {
	return marshal(p.WireSize(), p.AppendBinary)
}

// AppendBinary appends the encoded body to b.
func (p *AuthorRequest) AppendBinary(b []byte) ([]byte, error) {
	return appendRequestBody(b, p.AuthenMethod, p.PrivLevel, p.AuthenType, p.Service, p.User, p.Port, p.RemoteAddr, p.Args)
}

// UnmarshalBinary decodes a REQUEST body that must fill data exactly.
func (p *AuthorRequest) UnmarshalBinary(data []byte) error {
	var rb requestBody
	if err := rb.decode(data, "authorization request"); err != nil {
		return err
	}

	p.AuthenMethod = rb.method
	p.PrivLevel = rb.priv
	p.AuthenType = rb.authenType
	p.Service = rb.service
	p.User = rb.user
	p.Port = rb.port
	p.RemoteAddr = rb.remoteAddr
	p.Args = rb.args

	return nil
}

// AuthorResponse is the authorization RESPONSE body defined in RFC8907 Section 6.2.
type AuthorResponse struct {
	Status    AuthorStatus
	Args      []Argument
	ServerMsg FieldText
	Data      FieldText
}

// NewAuthorResponse returns a RESPONSE body with the given status.
func NewAuthorResponse(status AuthorStatus) *AuthorResponse {
	return &AuthorResponse{Status: status}
}

// AddArg appends an argument.
func (p *AuthorResponse) AddArg(arg Argument) {
	p.Args = append(p.Args, arg)
}

// WireSize returns the encoded body size.
func (p *AuthorResponse) WireSize() int {
	return authorResponseFixedLen + len(p.ServerMsg) + len(p.Data) + argsSize(p.Args)
}

// MarshalBinary encodes the body.
func (p *AuthorResponse) MarshalBinary() ([]byte, error) {
	return marshal(p.WireSize(), p.AppendBinary)
}

// AppendBinary appends the encoded body to b.
func (p *AuthorResponse) AppendBinary(b []byte) ([]byte, error) {
	if err := checkLen16(len(p.ServerMsg), "server_msg"); err != nil {
		return b, err
	}
	if err := checkLen16(len(p.Data), "data"); err != nil {
		return b, err
	}
	if err := validateText(p.ServerMsg, p.Data); err != nil {
		return b, err
	}
	if err := validateArgs(p.Args); err != nil {
		return b, err
	}

	b = append(b, uint8(p.Status), uint8(len(p.Args)))
	b = appendUint16(b, len(p.ServerMsg))
	b = appendUint16(b, len(p.Data))
	b = appendArgLengths(b, p.Args)
	b = append(b, p.ServerMsg...)
	b = append(b, p.Data...)
	return appendArgs(b, p.Args), nil
}

// UnmarshalBinary decodes a RESPONSE body that must fill data exactly.
func (p *AuthorResponse) UnmarshalBinary(data []byte) error {
	const body = "authorization response"

	if err := checkFixedSize(data, authorResponseFixedLen, body); err != nil {
		return err
	}

	r := bodyReader{buf: data}
	p.Status = AuthorStatus(r.u8())
	argCount := int(r.u8())
	msgLen, dataLen := int(r.u16()), int(r.u16())

	if err := checkFixedSize(data, authorResponseFixedLen+argCount, body); err != nil {
		return err
	}

	argLens := r.buf[:argCount]
	r.buf = r.buf[argCount:]

	want := authorResponseFixedLen + argCount + msgLen + dataLen + sumLens(argLens)
	if err := checkBodySize(data, want, body); err != nil {
		return err
	}

	if !p.Status.valid() {
		return fmt.Errorf("%w: unknown authorization status %#x", ErrMalformedPacket, uint8(p.Status))
	}

	p.ServerMsg = r.text(msgLen, "server_msg")
	p.Data = r.text(dataLen, "data")
	p.Args = r.args(argLens)

	return r.err
}

// IsPass reports whether the request was authorized.
func (p *AuthorResponse) IsPass() bool {
	return p.Status == AuthorStatusPassAdd || p.Status == AuthorStatusPassRepl
}

// IsFail reports whether the request was denied.
func (p *AuthorResponse) IsFail() bool {
	return p.Status == AuthorStatusFail
}

// IsError reports whether the server failed to process the request.
func (p *AuthorResponse) IsError() bool {
	return p.Status == AuthorStatusError
}

// Err returns a *StatusError unless the request was authorized.
func (p *AuthorResponse) Err() error {
	if p.IsPass() {
		return nil
	}

	return &StatusError{Type: PacketTypeAuthor, Status: uint8(p.Status), ServerMsg: p.ServerMsg}
}

// requestBody is the layout shared by authorization and accounting requests
// after the accounting flags byte.
type requestBody struct {
	method     AuthenMethod
	priv       uint8
	authenType AuthenType
	service    AuthenService
	user       FieldText
	port       FieldText
	remoteAddr FieldText
	args       []Argument
}

func appendRequestBody(b []byte, method AuthenMethod, priv uint8, authenType AuthenType, service AuthenService,
	user, port, remoteAddr FieldText, args []Argument,
) ([]byte, error) {
	for _, f := range []struct {
		name string
		n    int
	}{
		{"user", len(user)},
		{"port", len(port)},
		{"rem_addr", len(remoteAddr)},
	} {
		if err := checkLen8(f.n, f.name); err != nil {
			return b, err
		}
	}

	if err := validateText(user, port, remoteAddr); err != nil {
		return b, err
	}
	if err := validateArgs(args); err != nil {
		return b, err
	}

	b = append(b,
		uint8(method), priv, uint8(authenType), uint8(service),
		uint8(len(user)), uint8(len(port)), uint8(len(remoteAddr)), uint8(len(args)),
	)
	b = appendArgLengths(b, args)
	b = append(b, user...)
	b = append(b, port...)
	b = append(b, remoteAddr...)
	return appendArgs(b, args), nil
}

func (rb *requestBody) decode(data []byte, body string) error {
	if err := checkFixedSize(data, requestFixedLen, body); err != nil {
		return err
	}

	userLen, portLen, remLen, argCount := int(data[4]), int(data[5]), int(data[6]), int(data[7])
	if err := checkFixedSize(data, requestFixedLen+argCount, body); err != nil {
		return err
	}

	argLens := data[requestFixedLen : requestFixedLen+argCount]
	want := requestFixedLen + argCount + userLen + portLen + remLen + sumLens(argLens)
	if err := checkBodySize(data, want, body); err != nil {
		return err
	}

	r := bodyReader{buf: data}
	rb.method = AuthenMethod(r.u8())
	rb.priv = r.u8()
	rb.authenType = AuthenType(r.u8())
	rb.service = AuthenService(r.u8())
	r.buf = r.buf[4+argCount:]

	rb.user = r.text(userLen, "user")
	rb.port = r.text(portLen, "port")
	rb.remoteAddr = r.text(remLen, "rem_addr")
	rb.args = r.args(argLens)

	return r.err
}

func sumLens(lens []uint8) int {
	n := 0
	for _, l := range lens {
		n += int(l)
	}
	return n
}
