package tacplus

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	// ErrInvalidText indicates a text field holds non-printable or non-ASCII bytes.
	ErrInvalidText = errors.New("invalid text")

	// ErrInvalidArgument indicates an argument name or encoding is not acceptable.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedPacket indicates declared lengths do not reconcile with the
	// buffer, or a fixed field holds an unknown value.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrInvalidHeader indicates the packet header is malformed.
	ErrInvalidHeader = errors.New("invalid header")

	// ErrInvalidVersion indicates an unsupported protocol version.
	ErrInvalidVersion = errors.New("invalid version")

	// ErrInvalidType indicates an unexpected packet type.
	ErrInvalidType = errors.New("invalid packet type")

	// ErrBadSecret indicates declared lengths far exceed the received body,
	// which almost always means the shared secrets of client and server differ.
	// It is reported together with ErrMalformedPacket.
	ErrBadSecret = errors.New("bad secret")

	// ErrBodyTooLarge indicates the packet body exceeds the configured maximum.
	ErrBodyTooLarge = errors.New("body too large")
)

// Session errors.
var (
	// ErrInvalidSequence indicates a reply did not carry the expected sequence number.
	ErrInvalidSequence = errors.New("invalid sequence number")

	// ErrSessionMismatch indicates a reply carried another session id.
	ErrSessionMismatch = errors.New("session id mismatch")

	// ErrSequenceOverflow indicates the session ran out of sequence numbers.
	ErrSequenceOverflow = errors.New("sequence number overflow")

	// ErrObfuscationConfig indicates obfuscation was required but no secret is configured.
	ErrObfuscationConfig = errors.New("obfuscation requires a shared secret")

	// ErrSessionBusy indicates an exchange is already in flight on the session.
	ErrSessionBusy = errors.New("session busy")

	// ErrSessionFaulted indicates the session failed earlier and cannot be reused.
	ErrSessionFaulted = errors.New("session faulted")

	// ErrTransport wraps failures reported by the underlying connection.
	ErrTransport = errors.New("transport error")

	// ErrClientClosed indicates the client was closed.
	ErrClientClosed = errors.New("client closed")
)

// Exchange outcome errors.
var (
	// ErrProtocolStatus is matched by every *StatusError.
	ErrProtocolStatus = errors.New("protocol status")

	// ErrAuthenFollow indicates the server asked the client to use another server.
	ErrAuthenFollow = errors.New("authentication follow requested")

	// ErrAuthenRestart indicates the server asked the client to restart authentication.
	ErrAuthenRestart = errors.New("authentication restart requested")

	// ErrAuthenAborted indicates the client aborted an authentication exchange.
	ErrAuthenAborted = errors.New("authentication aborted")
)

// Accounting task usage errors.
var (
	ErrTaskNotStarted     = errors.New("accounting task not started")
	ErrTaskAlreadyStarted = errors.New("accounting task already started")
	ErrTaskStopped        = errors.New("accounting task already stopped")
)

// StatusError reports a defined failure status returned by the server.
type StatusError struct {
	Type      PacketType
	Status    uint8
	ServerMsg FieldText
}

func (e *StatusError) Error() string {
	var status string

	switch e.Type {
	case PacketTypeAuthen:
		status = AuthenStatus(e.Status).String()
	case PacketTypeAuthor:
		status = AuthorStatus(e.Status).String()
	case PacketTypeAcct:
		status = AcctStatus(e.Status).String()
	default:
		status = fmt.Sprintf("%#x", e.Status)
	}

	if e.ServerMsg == "" {
		return fmt.Sprintf("%s: %s", e.Type, status)
	}

	return fmt.Sprintf("%s: %s: %s", e.Type, status, e.ServerMsg)
}

// Is reports whether target is ErrProtocolStatus.
func (e *StatusError) Is(target error) bool {
	return target == ErrProtocolStatus
}

// IsRetryable reports whether err was caused by a lost connection, meaning a
// new connection may succeed. Malformed input and configuration errors are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
