package tacplus

import (
	"encoding"
	"fmt"
)

// Packet is implemented by every TACACS+ body type.
type Packet interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
	encoding.BinaryAppender

	// WireSize returns the exact encoded size of the body.
	WireSize() int
}

// ParseAuthenPacket decodes an authentication body. Sequence number 1 is a
// START, other odd numbers are CONTINUE and even numbers are REPLY.
func ParseAuthenPacket(seqNo uint8, data []byte) (Packet, error) {
	var p Packet

	switch {
	case seqNo == 0:
		return nil, fmt.Errorf("%w: sequence number cannot be 0", ErrInvalidSequence)
	case seqNo == 1:
		p = &AuthenStart{}
	case seqNo%2 == 0:
		p = &AuthenReply{}
	default:
		p = &AuthenContinue{}
	}

	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseAuthorPacket decodes an authorization body: REQUEST at sequence 1,
// RESPONSE at sequence 2.
func ParseAuthorPacket(seqNo uint8, data []byte) (Packet, error) {
	var p Packet

	switch seqNo {
	case 1:
		p = &AuthorRequest{}
	case 2:
		p = &AuthorResponse{}
	default:
		return nil, fmt.Errorf("%w: authorization only uses sequence 1 and 2, got %d", ErrInvalidSequence, seqNo)
	}

	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseAcctPacket decodes an accounting body: REQUEST at sequence 1, REPLY at
// sequence 2.
func ParseAcctPacket(seqNo uint8, data []byte) (Packet, error) {
	var p Packet

	switch seqNo {
	case 1:
		p = &AcctRequest{}
	case 2:
		p = &AcctReply{}
	default:
		return nil, fmt.Errorf("%w: accounting only uses sequence 1 and 2, got %d", ErrInvalidSequence, seqNo)
	}

	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

// ParsePacket decodes an unmasked body according to the header's type and
// sequence number.
func ParsePacket(header *Header, data []byte) (Packet, error) {
	if header == nil {
		return nil, fmt.Errorf("%w: header is nil", ErrInvalidHeader)
	}

	switch header.Type {
	case PacketTypeAuthen:
		return ParseAuthenPacket(header.SeqNo, data)
	case PacketTypeAuthor:
		return ParseAuthorPacket(header.SeqNo, data)
	case PacketTypeAcct:
		return ParseAcctPacket(header.SeqNo, data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, uint8(header.Type))
	}
}

// PacketTypeOf returns the packet type a body belongs to, or 0 for unknown bodies.
func PacketTypeOf(p Packet) PacketType {
	switch p.(type) {
	case *AuthenStart, *AuthenReply, *AuthenContinue:
		return PacketTypeAuthen
	case *AuthorRequest, *AuthorResponse:
		return PacketTypeAuthor
	case *AcctRequest, *AcctReply:
		return PacketTypeAcct
	default:
		return 0
	}
}

// IsClientPacket reports whether the body is sent by clients.
func IsClientPacket(p Packet) bool {
	switch p.(type) {
	case *AuthenStart, *AuthenContinue, *AuthorRequest, *AcctRequest:
		return true
	default:
		return false
	}
}

// IsServerPacket reports whether the body is sent by servers.
func IsServerPacket(p Packet) bool {
	switch p.(type) {
	case *AuthenReply, *AuthorResponse, *AcctReply:
		return true
	default:
		return false
	}
}

// EncodePacket appends a complete frame to dst: the header with its Length
// set from the body, followed by the body masked with secret. header.Length is
// updated in place. The frame is built entirely in dst, so a caller reusing a
// scratch buffer pays no allocation.
func EncodePacket(dst []byte, header *Header, body Packet, secret []byte) ([]byte, error) {
	if !header.IsUnencrypted() && len(secret) == 0 {
		return dst, obfuscationError(header)
	}

	size := body.WireSize()
	header.Length = uint32(size)

	start := len(dst)
	dst, err := header.AppendBinary(dst)
	if err != nil {
		return dst[:start], err
	}

	bodyStart := len(dst)
	dst, err = body.AppendBinary(dst)
	if err != nil {
		return dst[:start], err
	}

	if len(dst)-bodyStart != size {
		return dst[:start], fmt.Errorf("%w: body encoded to %d bytes, expected %d", ErrMalformedPacket, len(dst)-bodyStart, size)
	}

	if !header.IsUnencrypted() {
		ApplyPad(dst[bodyStart:], generatePseudoPad(header, secret, size))
	}

	return dst, nil
}

// DecodePacket decodes one frame from the front of data and returns the
// header, the unmasked body and the number of bytes consumed. A header whose
// Length exceeds the bytes available is ErrMalformedPacket.
func DecodePacket(data, secret []byte) (*Header, Packet, int, error) {
	header := &Header{}
	if err := header.UnmarshalBinary(data); err != nil {
		return nil, nil, 0, err
	}

	if err := header.Validate(); err != nil {
		return header, nil, 0, err
	}

	avail := len(data) - HeaderLength
	if uint64(header.Length) > uint64(avail) {
		return header, nil, 0, fmt.Errorf("%w: header declares %d body bytes, %d available", ErrMalformedPacket, header.Length, avail)
	}

	end := HeaderLength + int(header.Length)
	body, err := Obfuscate(header, secret, data[HeaderLength:end])
	if err != nil {
		return header, nil, 0, err
	}

	p, err := ParsePacket(header, body)
	if err != nil {
		return header, nil, 0, err
	}

	return header, p, end, nil
}
