package tacplus

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
)

// PseudoPad computes the RFC8907 Section 4.5 pad for a body of the given
// length. The first block is MD5(session_id, key, version, seq_no) and each
// following block also hashes the previous one. Returns nil for length 0.
func PseudoPad(sessionID uint32, secret []byte, version, seqNo uint8, length int) []byte {
	if length <= 0 {
		return nil
	}

	prefix := make([]byte, 0, 4+len(secret)+2)
	prefix = binary.BigEndian.AppendUint32(prefix, sessionID)
	prefix = append(prefix, secret...)
	prefix = append(prefix, version, seqNo)

	pad := make([]byte, 0, length+md5.Size)
	input := make([]byte, 0, len(prefix)+md5.Size)
	var block [md5.Size]byte

	for len(pad) < length {
		input = append(input[:0], prefix...)
		if len(pad) > 0 {
			input = append(input, block[:]...)
		}

		block = md5.Sum(input)
		pad = append(pad, block[:]...)
	}

	return pad[:length]
}

// ApplyPad XORs pad into body in place. Applying the same pad twice restores
// the original body. pad must be at least as long as body.
func ApplyPad(body, pad []byte) {
	for i := range body {
		body[i] ^= pad[i]
	}
}

// Obfuscate masks or unmasks body for the packet described by header and
// returns the result in a new slice. Bodies of packets carrying the
// unencrypted flag are returned unchanged. An empty secret without the
// unencrypted flag is ErrObfuscationConfig.
func Obfuscate(header *Header, secret, body []byte) ([]byte, error) {
	if header.IsUnencrypted() {
		return body, nil
	}

	if len(secret) == 0 {
		return nil, obfuscationError(header)
	}

	if body == nil {
		return nil, nil
	}

	out := make([]byte, len(body))
	copy(out, body)
	ApplyPad(out, generatePseudoPad(header, secret, len(body)))

	return out, nil
}

func generatePseudoPad(header *Header, secret []byte, length int) []byte {
	return PseudoPad(header.SessionID, secret, header.Version, header.SeqNo, length)
}

// isBadSecretError reports whether the declared body size is so far beyond
// the received size that the lengths were most likely unmasked with the wrong
// secret rather than truncated.
func isBadSecretError(actual, expected int) bool {
	return expected > actual*2 && expected-actual > 64
}

func obfuscationError(header *Header) error {
	return fmt.Errorf("%w: session %#08x seq %d", ErrObfuscationConfig, header.SessionID, header.SeqNo)
}
