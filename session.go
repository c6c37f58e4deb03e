package tacplus

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/vitalvas/tacplus/internal/logging"
)

// SessionState is the state of the exchange currently driven by a Session.
type SessionState uint8

const (
	// SessionIdle is a session that has not sent anything yet.
	SessionIdle SessionState = iota

	// SessionAwaitingResponse is a session with a request on the wire.
	SessionAwaitingResponse

	// SessionComplete is a session whose last request was answered.
	SessionComplete

	// SessionFaulted is a session that hit a protocol or transport error. It
	// must not be used again.
	SessionFaulted
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "IDLE"
	case SessionAwaitingResponse:
		return "AWAITING_RESPONSE"
	case SessionComplete:
		return "COMPLETE"
	case SessionFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Secret is the shared key used to mask bodies. It is never logged.
	Secret []byte

	// SingleConnect sets the single-connect flag on every packet sent.
	SingleConnect bool

	// Unencrypted sends bodies in the clear. Replies must carry the same flag.
	Unencrypted bool

	// MaxBodyLength bounds the body length accepted in replies. Zero means
	// DefaultMaxBodyLength.
	MaxBodyLength uint32

	// Timeout bounds every read and write when the context has no earlier
	// deadline. Zero means no timeout.
	Timeout time.Duration

	// Logger receives per-packet debug records. Nil discards them.
	Logger *slog.Logger
}

// Session runs one TACACS+ session over a connection it has exclusive use of.
// Only one request may be in flight at a time; the sequence number, the
// session id and the state are changed by the session alone.
type Session struct {
	mu      sync.Mutex
	conn    Conn
	cfg     SessionConfig
	logger  *slog.Logger
	id      uint32
	seqNo   uint8
	version uint8
	kind    PacketType
	state   SessionState
	err     error
	ended   bool

	// receiving is set while a Receive owns the connection.
	receiving bool
	// interrupted is set once a cancellation expired the connection
	// deadline, even if the operation itself completed.
	interrupted bool

	serverSingleConnect bool
	serverError         bool

	created      time.Time
	lastActivity time.Time

	buf    []byte
	header [HeaderLength]byte
}

// NewSession starts a session with a random session id on conn.
func NewSession(conn Conn, cfg SessionConfig) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	return NewSessionWithID(conn, id, cfg), nil
}

// NewSessionWithID starts a session with the given session id on conn.
func NewSessionWithID(conn Conn, id uint32, cfg SessionConfig) *Session {
	if cfg.MaxBodyLength == 0 {
		cfg.MaxBodyLength = DefaultMaxBodyLength
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	now := time.Now()
	return &Session{
		conn:         conn,
		cfg:          cfg,
		logger:       logger.With(slog.String(logging.FieldSessionID, fmt.Sprintf("%#08x", id))),
		id:           id,
		state:        SessionIdle,
		created:      now,
		lastActivity: now,
	}
}

// ID returns the session id.
func (s *Session) ID() uint32 {
	return s.id
}

// SeqNo returns the sequence number of the last packet sent or received.
func (s *Session) SeqNo() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seqNo
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that faulted the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Created returns the session creation time.
func (s *Session) Created() time.Time {
	return s.created
}

// LastActivity returns the time of the last packet sent or received.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// ServerSingleConnect reports whether the server's first reply carried the
// single-connect flag.
func (s *Session) ServerSingleConnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSingleConnect
}

// Ended reports whether the session reached a terminal reply or was aborted.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Exchange sends req and reads the matching reply into reply.
func (s *Session) Exchange(ctx context.Context, req, reply Packet) (*Header, error) {
	if err := s.Send(ctx, req); err != nil {
		return nil, err
	}
	return s.Receive(ctx, reply)
}

// Send frames, masks and writes body as the next client packet. Encoding
// errors leave the session untouched since nothing reached the wire.
func (s *Session) Send(ctx context.Context, body Packet) error {
	s.mu.Lock()
	if err := s.sendableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	if s.seqNo >= maxSeqNo-1 {
		s.mu.Unlock()
		return s.fail(fmt.Errorf("%w: session %#08x at %d", ErrSequenceOverflow, s.id, s.seqNo))
	}

	header, err := s.headerLocked(body)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	prev := s.state
	s.state = SessionAwaitingResponse
	s.mu.Unlock()

	frame, err := EncodePacket(s.buf[:0], header, body, s.cfg.Secret)
	if err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		return err
	}
	s.buf = frame[:0]

	if err := s.withDeadline(ctx, func() error { return writeAll(s.conn, frame) }); err != nil {
		return s.fail(s.transportErr(ctx, "write", err))
	}

	s.mu.Lock()
	s.seqNo = header.SeqNo
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "packet sent",
		slog.String("type", header.Type.String()),
		slog.Int("seq", int(header.SeqNo)),
		slog.Int("length", int(header.Length)),
	)

	return nil
}

// Receive reads the reply to the request in flight into body. A second Receive
// while one is reading fails with ErrSessionBusy. The header is
// checked before the body is read: session id, then sequence number, then
// packet type, then flags and length.
func (s *Session) Receive(ctx context.Context, body Packet) (*Header, error) {
	s.mu.Lock()
	switch s.state {
	case SessionAwaitingResponse:
		if s.receiving {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: receive already in progress", ErrSessionBusy)
		}
	case SessionFaulted:
		err := s.err
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrSessionFaulted, err)
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no request in flight", ErrInvalidSequence)
	}
	if !IsServerPacket(body) || PacketTypeOf(body) != s.kind {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot decode a %s reply into %T", ErrInvalidType, s.kind, body)
	}
	expectSeq := s.seqNo + 1
	s.receiving = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.receiving = false
		s.mu.Unlock()
	}()

	var header Header
	var raw []byte

	err := s.withDeadline(ctx, func() error {
		if _, err := io.ReadFull(s.conn, s.header[:]); err != nil {
			return s.transportErr(ctx, "read header", err)
		}

		if err := header.UnmarshalBinary(s.header[:]); err != nil {
			return err
		}

		if err := s.checkReplyHeader(&header, expectSeq); err != nil {
			return err
		}

		raw = make([]byte, header.Length)
		if _, err := io.ReadFull(s.conn, raw); err != nil {
			return s.transportErr(ctx, "read body", err)
		}
		return nil
	})
	if err != nil {
		return &header, s.fail(err)
	}

	plain, err := Obfuscate(&header, s.cfg.Secret, raw)
	if err != nil {
		return &header, s.fail(err)
	}

	if err := body.UnmarshalBinary(plain); err != nil {
		return &header, s.fail(fmt.Errorf("%s reply: %w", header.Type, err))
	}

	s.mu.Lock()
	s.seqNo = header.SeqNo
	s.state = SessionComplete
	s.lastActivity = time.Now()
	if header.SeqNo == 2 {
		s.serverSingleConnect = header.IsSingleConnect()
	}
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "packet received",
		slog.String("type", header.Type.String()),
		slog.Int("seq", int(header.SeqNo)),
		slog.Int("length", int(header.Length)),
		slog.Bool("single_connect", header.IsSingleConnect()),
	)

	return &header, nil
}

// Abort sends an authentication CONTINUE with the abort flag set and ends the
// session. The server does not answer an abort.
func (s *Session) Abort(ctx context.Context, reason string) error {
	err := s.Send(ctx, NewAuthenAbort(reason))

	s.mu.Lock()
	s.ended = true
	if s.state == SessionAwaitingResponse {
		s.state = SessionComplete
	}
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "authentication aborted", slog.String("reason", reason))

	return err
}

// end marks the session finished after a terminal reply. serverError records
// an ERROR status, after which the connection is not reused.
func (s *Session) end(serverError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.serverError = s.serverError || serverError
}

// reusable reports whether the connection may carry another session.
func (s *Session) reusable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == SessionComplete && s.ended && !s.serverError && s.serverSingleConnect && !s.interrupted
}

func (s *Session) sendableLocked() error {
	switch {
	case s.state == SessionAwaitingResponse:
		return ErrSessionBusy
	case s.state == SessionFaulted:
		return fmt.Errorf("%w: %w", ErrSessionFaulted, s.err)
	case s.ended:
		return fmt.Errorf("%w: session %#08x already ended", ErrSessionFaulted, s.id)
	}
	return nil
}

// headerLocked builds the header for the next client packet. The first
// packet fixes the packet type and version for the rest of the session.
func (s *Session) headerLocked(body Packet) (*Header, error) {
	if !IsClientPacket(body) {
		return nil, fmt.Errorf("%w: %T is not a client packet", ErrInvalidType, body)
	}

	kind := PacketTypeOf(body)
	seq := s.seqNo + 1

	if seq == 1 {
		if _, ok := body.(*AuthenContinue); ok {
			return nil, fmt.Errorf("%w: authentication must open with START", ErrInvalidType)
		}

		s.kind = kind
		s.version = MajorVersion<<4 | MinorVersionDefault
		if start, ok := body.(*AuthenStart); ok {
			s.version = MajorVersion<<4 | start.AuthenType.MinorVersion(start.Action)
		}
	} else if kind != s.kind {
		return nil, fmt.Errorf("%w: %s packet in a %s session", ErrInvalidType, kind, s.kind)
	} else if _, ok := body.(*AuthenContinue); !ok {
		return nil, fmt.Errorf("%w: only CONTINUE may follow a reply", ErrInvalidType)
	}

	header := &Header{
		Version:   s.version,
		Type:      kind,
		SeqNo:     seq,
		SessionID: s.id,
	}
	header.SetSingleConnect(s.cfg.SingleConnect)
	header.SetUnencrypted(s.cfg.Unencrypted)

	return header, nil
}

func (s *Session) checkReplyHeader(h *Header, expectSeq uint8) error {
	if h.MajorVersionNumber() != MajorVersion {
		return fmt.Errorf("%w: major version %#x", ErrInvalidVersion, h.MajorVersionNumber())
	}

	if h.SessionID != s.id {
		return fmt.Errorf("%w: expected %#08x, got %#08x", ErrSessionMismatch, s.id, h.SessionID)
	}

	if h.SeqNo != expectSeq {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidSequence, expectSeq, h.SeqNo)
	}

	if h.Type != s.kind {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidType, s.kind, h.Type)
	}

	if h.IsUnencrypted() != s.cfg.Unencrypted {
		return fmt.Errorf("%w: unencrypted flag mismatch", ErrMalformedPacket)
	}

	if h.Length > s.cfg.MaxBodyLength {
		return fmt.Errorf("%w: body length %d exceeds maximum %d", ErrBodyTooLarge, h.Length, s.cfg.MaxBodyLength)
	}

	return nil
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.state = SessionFaulted
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	s.logger.Debug("session faulted", logging.WithError(err))

	return err
}

// withDeadline runs fn with the connection deadline taken from ctx and the
// configured timeout. Cancelling ctx interrupts fn by expiring the deadline.
func (s *Session) withDeadline(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("session %#08x: %w", s.id, context.Cause(ctx))
	}

	var deadline time.Time
	if s.cfg.Timeout > 0 {
		deadline = time.Now().Add(s.cfg.Timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	if err := s.conn.SetDeadline(deadline); err != nil {
		return s.transportErr(ctx, "set deadline", err)
	}

	expired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(expired)
		s.conn.SetDeadline(time.Unix(1, 0)) //nolint:errcheck
	})

	err := fn()
	if !stop() {
		<-expired
		s.mu.Lock()
		s.interrupted = true
		s.mu.Unlock()
	}

	return err
}

// transportErr wraps a connection failure in ErrTransport, or reports the
// context's cause when the failure came from cancellation.
func (s *Session) transportErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("session %#08x %s: %w", s.id, op, context.Cause(ctx))
	}

	// The connection deadline can fire just before the context notices its own.
	if d, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(d) {
		return fmt.Errorf("session %#08x %s: %w", s.id, op, context.DeadlineExceeded)
	}

	return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
}

// generateSessionID returns a cryptographically random session id.
func generateSessionID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
