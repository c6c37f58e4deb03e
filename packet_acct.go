package tacplus

import (
	"fmt"
)

const (
	acctRequestFixedLen = 1 + requestFixedLen
	acctReplyFixedLen   = 5
)

// AcctRequest is the accounting REQUEST body defined in RFC8907 Section 7.1.
type AcctRequest struct {
	Flags        uint8
	AuthenMethod AuthenMethod
	PrivLevel    uint8
	AuthenType   AuthenType
	Service      AuthenService
	User         FieldText
	Port         FieldText
	RemoteAddr   FieldText
	Args         []Argument
}

// NewAcctRequest returns a REQUEST body for user at the user privilege level.
func NewAcctRequest(flags uint8, method AuthenMethod, authenType AuthenType, service AuthenService, user FieldText) *AcctRequest {
	return &AcctRequest{
		Flags:        flags,
		AuthenMethod: method,
		PrivLevel:    PrivLvlUser,
		AuthenType:   authenType,
		Service:      service,
		User:         user,
	}
}

// AddArg appends an argument.
func (p *AcctRequest) AddArg(arg Argument) {
	p.Args = append(p.Args, arg)
}

// IsStart reports whether the START flag is set.
func (p *AcctRequest) IsStart() bool {
	return p.Flags&AcctFlagStart != 0
}

// IsStop reports whether the STOP flag is set.
func (p *AcctRequest) IsStop() bool {
	return p.Flags&AcctFlagStop != 0
}

// IsWatchdog reports whether the WATCHDOG flag is set.
func (p *AcctRequest) IsWatchdog() bool {
	return p.Flags&AcctFlagWatchdog != 0
}

// WireSize returns the encoded body size.
func (p *AcctRequest) WireSize() int {
	return acctRequestFixedLen + len(p.User) + len(p.Port) + len(p.RemoteAddr) + argsSize(p.Args)
}

// MarshalBinary encodes the body.
func (p *AcctRequest) MarshalBinary() ([]byte, error) {
	return marshal(p.WireSize(), p.AppendBinary)
}

// AppendBinary appends the encoded body to b.
func (p *AcctRequest) AppendBinary(b []byte) ([]byte, error) {
	if err := validAcctFlags(p.Flags); err != nil {
		return b, err
	}

	b = append(b, p.Flags)
	return appendRequestBody(b, p.AuthenMethod, p.PrivLevel, p.AuthenType, p.Service, p.User, p.Port, p.RemoteAddr, p.Args)
}

// UnmarshalBinary decodes a REQUEST body that must fill data exactly.
func (p *AcctRequest) UnmarshalBinary(data []byte) error {
	if err := checkFixedSize(data, acctRequestFixedLen, "accounting request"); err != nil {
		return err
	}

	var rb requestBody
	if err := rb.decode(data[1:], "accounting request"); err != nil {
		return err
	}

	if err := validAcctFlags(data[0]); err != nil {
		return err
	}

	p.Flags = data[0]
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

// validAcctFlags accepts the flag combinations of RFC8907 Section 7.2:
// START, STOP, WATCHDOG and WATCHDOG with START.
func validAcctFlags(flags uint8) error {
	switch flags {
	case AcctFlagStart, AcctFlagStop, AcctFlagWatchdog, AcctFlagWatchdog | AcctFlagStart:
		return nil
	}
	return fmt.Errorf("%w: invalid accounting flags %#x", ErrMalformedPacket, flags)
}

// AcctReply is the accounting REPLY body defined in RFC8907 Section 7.2.
type AcctReply struct {
	Status    AcctStatus
	ServerMsg FieldText
	Data      FieldText
}

// NewAcctReply returns a REPLY body with the given status.
func NewAcctReply(status AcctStatus) *AcctReply {
	return &AcctReply{Status: status}
}

// WireSize returns the encoded body size.
func (p *AcctReply) WireSize() int {
	return acctReplyFixedLen + len(p.ServerMsg) + len(p.Data)
}

// MarshalBinary encodes the body.
func (p *AcctReply) MarshalBinary() ([]byte, error) {
	return marshal(p.WireSize(), p.AppendBinary)
}

// AppendBinary appends the encoded body to b.
func (p *AcctReply) AppendBinary(b []byte) ([]byte, error) {
	if err := checkLen16(len(p.ServerMsg), "server_msg"); err != nil {
		return b, err
	}
	if err := checkLen16(len(p.Data), "data"); err != nil {
		return b, err
	}
	if err := validateText(p.ServerMsg, p.Data); err != nil {
		return b, err
	}

	b = appendUint16(b, len(p.ServerMsg))
	b = appendUint16(b, len(p.Data))
	b = append(b, uint8(p.Status))
	b = append(b, p.ServerMsg...)
	return append(b, p.Data...), nil
}

// UnmarshalBinary decodes a REPLY body that must fill data exactly.
func (p *AcctReply) UnmarshalBinary(data []byte) error {
	if err := checkFixedSize(data, acctReplyFixedLen, "accounting reply"); err != nil {
		return err
	}

	r := bodyReader{buf: data}
	msgLen, dataLen := int(r.u16()), int(r.u16())
	p.Status = AcctStatus(r.u8())

	if err := checkBodySize(data, acctReplyFixedLen+msgLen+dataLen, "accounting reply"); err != nil {
		return err
	}

	if !p.Status.valid() {
		return fmt.Errorf("%w: unknown accounting status %#x", ErrMalformedPacket, uint8(p.Status))
	}

	p.ServerMsg = r.text(msgLen, "server_msg")
	p.Data = r.text(dataLen, "data")

	return r.err
}

// IsSuccess reports whether the record was accepted.
func (p *AcctReply) IsSuccess() bool {
	return p.Status == AcctStatusSuccess
}

// IsError reports whether the server failed to record the request.
func (p *AcctReply) IsError() bool {
	return p.Status == AcctStatusError
}

// Err returns a *StatusError unless the record was accepted.
func (p *AcctReply) Err() error {
	if p.IsSuccess() {
		return nil
	}

	return &StatusError{Type: PacketTypeAcct, Status: uint8(p.Status), ServerMsg: p.ServerMsg}
}
