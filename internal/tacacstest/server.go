// Package tacacstest provides an in-process TACACS+ server for exercising
// clients in tests.
package tacacstest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/vitalvas/tacplus"
	"github.com/vitalvas/tacplus/internal/logging"
)

// AuthenStartRequest is an authentication START as seen by a handler.
type AuthenStartRequest struct {
	Header     tacplus.Header
	Start      *tacplus.AuthenStart
	RemoteAddr net.Addr
}

// AuthenContinueRequest is an authentication CONTINUE as seen by a handler.
type AuthenContinueRequest struct {
	Header     tacplus.Header
	Start      *tacplus.AuthenStart
	Continue   *tacplus.AuthenContinue
	RemoteAddr net.Addr
}

// AuthorRequest is an authorization REQUEST as seen by a handler.
type AuthorRequest struct {
	Header     tacplus.Header
	Request    *tacplus.AuthorRequest
	RemoteAddr net.Addr
}

// AcctRequest is an accounting REQUEST as seen by a handler.
type AcctRequest struct {
	Header     tacplus.Header
	Request    *tacplus.AcctRequest
	RemoteAddr net.Addr
}

// AuthenticationHandler answers authentication packets.
type AuthenticationHandler interface {
	HandleAuthenStart(ctx context.Context, req *AuthenStartRequest) *tacplus.AuthenReply
	HandleAuthenContinue(ctx context.Context, req *AuthenContinueRequest) *tacplus.AuthenReply
}

// AuthorizationHandler answers authorization requests.
type AuthorizationHandler interface {
	HandleAuthorRequest(ctx context.Context, req *AuthorRequest) *tacplus.AuthorResponse
}

// AccountingHandler answers accounting requests.
type AccountingHandler interface {
	HandleAcctRequest(ctx context.Context, req *AcctRequest) *tacplus.AcctReply
}

// AuthenHandlerFunc answers START packets; CONTINUE gets an ERROR reply.
type AuthenHandlerFunc func(ctx context.Context, req *AuthenStartRequest) *tacplus.AuthenReply

// HandleAuthenStart calls f.
func (f AuthenHandlerFunc) HandleAuthenStart(ctx context.Context, req *AuthenStartRequest) *tacplus.AuthenReply {
	return f(ctx, req)
}

// HandleAuthenContinue replies ERROR.
func (f AuthenHandlerFunc) HandleAuthenContinue(_ context.Context, _ *AuthenContinueRequest) *tacplus.AuthenReply {
	return &tacplus.AuthenReply{Status: tacplus.AuthenStatusError, ServerMsg: "CONTINUE not supported"}
}

// AuthorHandlerFunc adapts a function to AuthorizationHandler.
type AuthorHandlerFunc func(ctx context.Context, req *AuthorRequest) *tacplus.AuthorResponse

// HandleAuthorRequest calls f.
func (f AuthorHandlerFunc) HandleAuthorRequest(ctx context.Context, req *AuthorRequest) *tacplus.AuthorResponse {
	return f(ctx, req)
}

// AcctHandlerFunc adapts a function to AccountingHandler.
type AcctHandlerFunc func(ctx context.Context, req *AcctRequest) *tacplus.AcctReply

// HandleAcctRequest calls f.
func (f AcctHandlerFunc) HandleAcctRequest(ctx context.Context, req *AcctRequest) *tacplus.AcctReply {
	return f(ctx, req)
}

// Record is one client packet received by the server.
type Record struct {
	Conn   int
	Header tacplus.Header
	Body   tacplus.Packet
}

// Option configures a Server.
type Option func(*Server)

// WithSecret sets the shared secret.
func WithSecret(secret string) Option {
	return func(s *Server) {
		s.secret = []byte(secret)
	}
}

// WithAuthenticationHandler sets the authentication handler.
func WithAuthenticationHandler(h AuthenticationHandler) Option {
	return func(s *Server) {
		s.authen = h
	}
}

// WithAuthorizationHandler sets the authorization handler.
func WithAuthorizationHandler(h AuthorizationHandler) Option {
	return func(s *Server) {
		s.author = h
	}
}

// WithAccountingHandler sets the accounting handler.
func WithAccountingHandler(h AccountingHandler) Option {
	return func(s *Server) {
		s.acct = h
	}
}

// WithSingleConnect makes the server accept single-connect requests.
func WithSingleConnect(enabled bool) Option {
	return func(s *Server) {
		s.singleConnect = enabled
	}
}

// WithDropRequests closes the connection instead of answering the first n
// requests that open a session.
func WithDropRequests(n int) Option {
	return func(s *Server) {
		s.drop = n
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is a TACACS+ server running on a loopback listener.
type Server struct {
	mu            sync.Mutex
	listener      net.Listener
	secret        []byte
	authen        AuthenticationHandler
	author        AuthorizationHandler
	acct          AccountingHandler
	singleConnect bool
	drop          int
	logger        *slog.Logger

	conns   int
	records []Record
	open    map[net.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 with a random port.
func NewServer(opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		listener: ln,
		logger:   slog.New(slog.DiscardHandler),
		open:     make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.serve()

	return s, nil
}

// Addr returns the listening address as host:port.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Records returns the client packets received so far.
func (s *Server) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Close stops the server and closes every open connection.
func (s *Server) Close() error {
	s.cancel()
	err := s.listener.Close()

	s.mu.Lock()
	for conn := range s.open {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// CloseConnections closes every open connection but keeps listening.
func (s *Server) CloseConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.open {
		conn.Close()
	}
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns++
		id := s.conns
		s.open[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn, id)
	}
}

// session is the server side view of one session on a connection.
type session struct {
	seq   uint8
	start *tacplus.AuthenStart
}

func (s *Server) handleConnection(conn net.Conn, id int) {
	defer s.wg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.open, conn)
		s.mu.Unlock()
	}()

	sessions := make(map[uint32]*session)
	single := false

	for {
		conn.SetReadDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

		header, body, err := s.readPacket(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("read failed", logging.WithError(err))
			}
			return
		}

		s.record(id, header, body)

		sess, ok := sessions[header.SessionID]
		if !ok {
			if header.SeqNo != 1 {
				return
			}
			sess = &session{}
			sessions[header.SessionID] = sess

			if s.shouldDrop() {
				return
			}

			// The first session decides single-connect for the connection.
			if len(sessions) == 1 {
				single = s.singleConnect && header.IsSingleConnect()
			}
		} else if header.SeqNo != sess.seq+1 {
			return
		}
		sess.seq = header.SeqNo

		reply, done := s.dispatch(sess, header, body, conn.RemoteAddr())
		if reply == nil {
			delete(sessions, header.SessionID)
			if !single {
				return
			}
			continue
		}

		respHeader := tacplus.Header{
			Version:   header.Version,
			Type:      header.Type,
			SeqNo:     header.SeqNo + 1,
			SessionID: header.SessionID,
		}
		respHeader.SetUnencrypted(header.IsUnencrypted())
		respHeader.SetSingleConnect(single)

		frame, err := tacplus.EncodePacket(nil, &respHeader, reply, s.secret)
		if err != nil {
			s.logger.Debug("encode failed", logging.WithError(err))
			return
		}

		if _, err := conn.Write(frame); err != nil {
			return
		}
		sess.seq = respHeader.SeqNo

		if done {
			delete(sessions, header.SessionID)
			if !single {
				return
			}
		}
	}
}

func (s *Server) shouldDrop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drop > 0 {
		s.drop--
		return true
	}
	return false
}

func (s *Server) record(conn int, header *tacplus.Header, body tacplus.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{Conn: conn, Header: *header, Body: body})
}

func (s *Server) readPacket(conn net.Conn) (*tacplus.Header, tacplus.Packet, error) {
	buf := make([]byte, tacplus.HeaderLength)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, nil, err
	}

	header := &tacplus.Header{}
	if err := header.UnmarshalBinary(buf); err != nil {
		return nil, nil, err
	}

	frame := make([]byte, tacplus.HeaderLength+int(header.Length))
	copy(frame, buf)
	if _, err := io.ReadFull(conn, frame[tacplus.HeaderLength:]); err != nil {
		return nil, nil, err
	}

	header, body, _, err := tacplus.DecodePacket(frame, s.secret)
	if err != nil {
		return nil, nil, err
	}

	return header, body, nil
}

// dispatch returns the reply to send and whether it ends the session. A nil
// reply ends the session without answering.
func (s *Server) dispatch(sess *session, header *tacplus.Header, body tacplus.Packet, remote net.Addr) (tacplus.Packet, bool) {
	switch p := body.(type) {
	case *tacplus.AuthenStart:
		sess.start = p
		reply := &tacplus.AuthenReply{Status: tacplus.AuthenStatusError, ServerMsg: "no authentication handler"}
		if s.authen != nil {
			reply = orAuthenError(s.authen.HandleAuthenStart(s.ctx, &AuthenStartRequest{Header: *header, Start: p, RemoteAddr: remote}))
		}
		return reply, !reply.NeedsInput()

	case *tacplus.AuthenContinue:
		if p.IsAbort() {
			return nil, true
		}
		reply := &tacplus.AuthenReply{Status: tacplus.AuthenStatusError, ServerMsg: "no authentication handler"}
		if s.authen != nil {
			reply = orAuthenError(s.authen.HandleAuthenContinue(s.ctx, &AuthenContinueRequest{
				Header: *header, Start: sess.start, Continue: p, RemoteAddr: remote,
			}))
		}
		return reply, !reply.NeedsInput()

	case *tacplus.AuthorRequest:
		reply := &tacplus.AuthorResponse{Status: tacplus.AuthorStatusError, ServerMsg: "no authorization handler"}
		if s.author != nil {
			if r := s.author.HandleAuthorRequest(s.ctx, &AuthorRequest{Header: *header, Request: p, RemoteAddr: remote}); r != nil {
				reply = r
			}
		}
		return reply, true

	case *tacplus.AcctRequest:
		reply := &tacplus.AcctReply{Status: tacplus.AcctStatusError, ServerMsg: "no accounting handler"}
		if s.acct != nil {
			if r := s.acct.HandleAcctRequest(s.ctx, &AcctRequest{Header: *header, Request: p, RemoteAddr: remote}); r != nil {
				reply = r
			}
		}
		return reply, true
	}

	return nil, true
}

func orAuthenError(reply *tacplus.AuthenReply) *tacplus.AuthenReply {
	if reply == nil {
		return &tacplus.AuthenReply{Status: tacplus.AuthenStatusError, ServerMsg: "handler returned nil response"}
	}
	return reply
}
