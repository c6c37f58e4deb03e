package tacplus

import (
	"encoding/binary"
	"fmt"
)

// Header is the 12 byte TACACS+ packet header defined in RFC8907 Section 4.1.
//   - Version: major version (high nibble) and minor version (low nibble)
//   - Type: authentication, authorization or accounting
//   - SeqNo: position of the packet within its session, odd for the client
//   - Flags: unencrypted and single-connect bits
//   - SessionID: random session identifier
//   - Length: body length in bytes
type Header struct {
	Version   uint8
	Type      PacketType
	SeqNo     uint8
	Flags     uint8
	SessionID uint32
	Length    uint32
}

// NewHeader returns a header for the first packet of a session.
func NewHeader(packetType PacketType, sessionID uint32) *Header {
	return &Header{
		Version:   MajorVersion<<4 | MinorVersionDefault,
		Type:      packetType,
		SeqNo:     1,
		SessionID: sessionID,
	}
}

// MarshalBinary encodes the header in network byte order.
func (h *Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderLength))
}

// AppendBinary appends the encoded header to b.
func (h *Header) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, h.Version, uint8(h.Type), h.SeqNo, h.Flags)
	b = binary.BigEndian.AppendUint32(b, h.SessionID)
	b = binary.BigEndian.AppendUint32(b, h.Length)
	return b, nil
}

// UnmarshalBinary decodes the first HeaderLength bytes of data.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderLength {
		return fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformedPacket, HeaderLength, len(data))
	}

	h.Version = data[0]
	h.Type = PacketType(data[1])
	h.SeqNo = data[2]
	h.Flags = data[3]
	h.SessionID = binary.BigEndian.Uint32(data[4:8])
	h.Length = binary.BigEndian.Uint32(data[8:12])

	return nil
}

// Validate checks the version, type and sequence number fields.
func (h *Header) Validate() error {
	if h.MajorVersionNumber() != MajorVersion {
		return fmt.Errorf("%w: major version %#x, expected %#x", ErrInvalidVersion, h.MajorVersionNumber(), MajorVersion)
	}

	if minor := h.MinorVersionNumber(); minor != MinorVersionDefault && minor != MinorVersionOne {
		return fmt.Errorf("%w: minor version %d", ErrInvalidVersion, minor)
	}

	switch h.Type {
	case PacketTypeAuthen, PacketTypeAuthor, PacketTypeAcct:
	default:
		return fmt.Errorf("%w: %d", ErrInvalidType, uint8(h.Type))
	}

	if h.SeqNo == 0 {
		return fmt.Errorf("%w: sequence number cannot be 0", ErrInvalidSequence)
	}

	return nil
}

// MajorVersionNumber returns the high nibble of the version byte.
func (h *Header) MajorVersionNumber() uint8 {
	return h.Version >> 4
}

// MinorVersionNumber returns the low nibble of the version byte.
func (h *Header) MinorVersionNumber() uint8 {
	return h.Version & 0x0f
}

// SetMinorVersion replaces the minor version nibble.
func (h *Header) SetMinorVersion(minor uint8) {
	h.Version = MajorVersion<<4 | minor&0x0f
}

// IsUnencrypted reports whether the unencrypted flag is set.
func (h *Header) IsUnencrypted() bool {
	return h.Flags&FlagUnencrypted != 0
}

// IsSingleConnect reports whether the single-connect flag is set.
func (h *Header) IsSingleConnect() bool {
	return h.Flags&FlagSingleConnect != 0
}

// SetUnencrypted sets or clears the unencrypted flag.
func (h *Header) SetUnencrypted(unencrypted bool) {
	if unencrypted {
		h.Flags |= FlagUnencrypted
	} else {
		h.Flags &^= FlagUnencrypted
	}
}

// SetSingleConnect sets or clears the single-connect flag.
func (h *Header) SetSingleConnect(singleConnect bool) {
	if singleConnect {
		h.Flags |= FlagSingleConnect
	} else {
		h.Flags &^= FlagSingleConnect
	}
}

// IsClientOriginated reports whether the sequence number is odd.
func (h *Header) IsClientOriginated() bool {
	return h.SeqNo%2 == 1
}
