package tacplus

import (
	"fmt"
)

const (
	authenStartFixedLen    = 8
	authenReplyFixedLen    = 6
	authenContinueFixedLen = 5
)

// AuthenStart is the authentication START body defined in RFC8907 Section 5.1.
// It opens every authentication session.
type AuthenStart struct {
	Action     AuthenAction
	PrivLevel  uint8
	AuthenType AuthenType
	Service    AuthenService
	User       FieldText
	Port       FieldText
	RemoteAddr FieldText
	Data       []byte
}

// NewAuthenStart returns a START body for user at the user privilege level.
func NewAuthenStart(action AuthenAction, authenType AuthenType, service AuthenService, user FieldText) *AuthenStart {
	return &AuthenStart{
		Action:     action,
		PrivLevel:  PrivLvlUser,
		AuthenType: authenType,
		Service:    service,
		User:       user,
	}
}

// WireSize returns the encoded body size.
func (p *AuthenStart) WireSize() int {
	return authenStartFixedLen + len(p.User) + len(p.Port) + len(p.RemoteAddr) + len(p.Data)
}

// MarshalBinary encodes the body.
func (p *AuthenStart) MarshalBinary() ([]byte, error) {
	return marshal(p.WireSize(), p.AppendBinary)
}

// AppendBinary appends the encoded body to b.
func (p *AuthenStart) AppendBinary(b []byte) ([]byte, error) {
	for _, f := range []struct {
		name string
		n    int
	}{
		{"user", len(p.User)},
		{"port", len(p.Port)},
		{"rem_addr", len(p.RemoteAddr)},
		{"data", len(p.Data)},
	} {
		if err := checkLen8(f.n, f.name); err != nil {
			return b, err
		}
	}

	if err := validateText(p.User, p.Port, p.RemoteAddr); err != nil {
		return b, err
	}

	b = append(b,
		uint8(p.Action), p.PrivLevel, uint8(p.AuthenType), uint8(p.Service),
		uint8(len(p.User)), uint8(len(p.Port)), uint8(len(p.RemoteAddr)), uint8(len(p.Data)),
	)
	b = append(b, p.User...)
	b = append(b, p.Port...)
	b = append(b, p.RemoteAddr...)
	return append(b, p.Data...), nil
}

// UnmarshalBinary decodes a START body that must fill data exactly.
func (p *AuthenStart) UnmarshalBinary(data []byte) error {
	if err := checkFixedSize(data, authenStartFixedLen, "authentication start"); err != nil {
		return err
	}

	userLen, portLen, remLen, dataLen := int(data[4]), int(data[5]), int(data[6]), int(data[7])
	if err := checkBodySize(data, authenStartFixedLen+userLen+portLen+remLen+dataLen, "authentication start"); err != nil {
		return err
	}

	r := bodyReader{buf: data}
	p.Action = AuthenAction(r.u8())
	p.PrivLevel = r.u8()
	p.AuthenType = AuthenType(r.u8())
	p.Service = AuthenService(r.u8())
	r.buf = r.buf[4:]

	p.User = r.text(userLen, "user")
	p.Port = r.text(portLen, "port")
	p.RemoteAddr = r.text(remLen, "rem_addr")
	p.Data = r.bytes(dataLen)

	return r.err
}

// AuthenReply is the authentication REPLY body defined in RFC8907 Section 5.2.
type AuthenReply struct {
	Status    AuthenStatus
	Flags     uint8
	ServerMsg FieldText
	Data      []byte
}

// NewAuthenReply returns a REPLY body with the given status.
func NewAuthenReply(status AuthenStatus) *AuthenReply {
	return &AuthenReply{Status: status}
}

// WireSize returns the encoded body size.
func (p *AuthenReply) WireSize() int {
	return authenReplyFixedLen + len(p.ServerMsg) + len(p.Data)
}

// MarshalBinary encodes the body.
func (p *AuthenReply) MarshalBinary() ([]byte, error) {
	return marshal(p.WireSize(), p.AppendBinary)
}

// AppendBinary appends the encoded body to b.
func (p *AuthenReply) AppendBinary(b []byte) ([]byte, error) {
	if err := checkLen16(len(p.ServerMsg), "server_msg"); err != nil {
		return b, err
	}
	if err := checkLen16(len(p.Data), "data"); err != nil {
		return b, err
	}
	if err := validateText(p.ServerMsg); err != nil {
		return b, err
	}

	b = append(b, uint8(p.Status), p.Flags)
	b = appendUint16(b, len(p.ServerMsg))
	b = appendUint16(b, len(p.Data))
	b = append(b, p.ServerMsg...)
	return append(b, p.Data...), nil
}

// UnmarshalBinary decodes a REPLY body that must fill data exactly.
func (p *AuthenReply) UnmarshalBinary(data []byte) error {
	if err := checkFixedSize(data, authenReplyFixedLen, "authentication reply"); err != nil {
		return err
	}

	r := bodyReader{buf: data}
	p.Status = AuthenStatus(r.u8())
	p.Flags = r.u8()
	msgLen, dataLen := int(r.u16()), int(r.u16())

	if err := checkBodySize(data, authenReplyFixedLen+msgLen+dataLen, "authentication reply"); err != nil {
		return err
	}

	if !p.Status.valid() {
		return fmt.Errorf("%w: unknown authentication status %#x", ErrMalformedPacket, uint8(p.Status))
	}

	p.ServerMsg = r.text(msgLen, "server_msg")
	p.Data = r.bytes(dataLen)

	return r.err
}

// IsPass reports whether the user was authenticated.
func (p *AuthenReply) IsPass() bool {
	return p.Status == AuthenStatusPass
}

// IsFail reports whether authentication was denied.
func (p *AuthenReply) IsFail() bool {
	return p.Status == AuthenStatusFail
}

// IsError reports whether the server failed to process the request.
func (p *AuthenReply) IsError() bool {
	return p.Status == AuthenStatusError
}

// NeedsInput reports whether the server asks for more data.
func (p *AuthenReply) NeedsInput() bool {
	return p.Status == AuthenStatusGetData ||
		p.Status == AuthenStatusGetUser ||
		p.Status == AuthenStatusGetPass
}

// IsTerminal reports whether the reply ends the authentication session.
func (p *AuthenReply) IsTerminal() bool {
	return !p.NeedsInput()
}

// NoEcho reports whether the user's response should not be echoed.
func (p *AuthenReply) NoEcho() bool {
	return p.Flags&AuthenReplyFlagNoEcho != 0
}

// Err returns a *StatusError for Fail and Error replies and nil otherwise.
func (p *AuthenReply) Err() error {
	if p.Status != AuthenStatusFail && p.Status != AuthenStatusError {
		return nil
	}

	return &StatusError{Type: PacketTypeAuthen, Status: uint8(p.Status), ServerMsg: p.ServerMsg}
}

// AuthenContinue is the authentication CONTINUE body defined in RFC8907
// Section 5.3. UserMsg carries the user's answer verbatim, so it is not
// restricted to printable text.
type AuthenContinue struct {
	Flags   uint8
	UserMsg []byte
	Data    []byte
}

// NewAuthenContinue returns a CONTINUE body carrying userMsg.
func NewAuthenContinue(userMsg string) *AuthenContinue {
	return &AuthenContinue{UserMsg: []byte(userMsg)}
}

// NewAuthenAbort returns a CONTINUE body with the abort flag set. reason is
// carried in the data field.
func NewAuthenAbort(reason string) *AuthenContinue {
	return &AuthenContinue{Flags: AuthenContinueFlagAbort, Data: []byte(reason)}
}

// WireSize returns the encoded body size.
func (p *AuthenContinue) WireSize() int {
	return authenContinueFixedLen + len(p.UserMsg) + len(p.Data)
}

// MarshalBinary encodes the body.
func (p *AuthenContinue) MarshalBinary() ([]byte, error) {
	return marshal(p.WireSize(), p.AppendBinary)
}

// AppendBinary appends the encoded body to b.
func (p *AuthenContinue) AppendBinary(b []byte) ([]byte, error) {
	if err := checkLen16(len(p.UserMsg), "user_msg"); err != nil {
		return b, err
	}
	if err := checkLen16(len(p.Data), "data"); err != nil {
		return b, err
	}

	b = appendUint16(b, len(p.UserMsg))
	b = appendUint16(b, len(p.Data))
	b = append(b, p.Flags)
	b = append(b, p.UserMsg...)
	return append(b, p.Data...), nil
}

// UnmarshalBinary decodes a CONTINUE body that must fill data exactly.
func (p *AuthenContinue) UnmarshalBinary(data []byte) error {
	if err := checkFixedSize(data, authenContinueFixedLen, "authentication continue"); err != nil {
		return err
	}

	r := bodyReader{buf: data}
	msgLen, dataLen := int(r.u16()), int(r.u16())
	p.Flags = r.u8()

	if err := checkBodySize(data, authenContinueFixedLen+msgLen+dataLen, "authentication continue"); err != nil {
		return err
	}

	p.UserMsg = r.bytes(msgLen)
	p.Data = r.bytes(dataLen)

	return nil
}

// IsAbort reports whether the abort flag is set.
func (p *AuthenContinue) IsAbort() bool {
	return p.Flags&AuthenContinueFlagAbort != 0
}

// SetAbort sets or clears the abort flag.
func (p *AuthenContinue) SetAbort(abort bool) {
	if abort {
		p.Flags |= AuthenContinueFlagAbort
	} else {
		p.Flags &^= AuthenContinueFlagAbort
	}
}

func validateText(fields ...FieldText) error {
	for _, f := range fields {
		if _, err := NewFieldText(string(f)); err != nil {
			return err
		}
	}
	return nil
}
