package tacplus

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/vitalvas/tacplus/internal/logging"
)

// Client talks to one TACACS+ server. Calls are serialized: each opens a new
// session, on a new connection or on the connection kept from an earlier
// call when single-connect mode was negotiated.
type Client struct {
	mu      sync.Mutex
	address string
	secret  []byte
	dialer  Dialer
	conn    Conn
	closed  bool

	// connSingle is set once the server echoed the single-connect flag on
	// the first session of the current connection.
	connSingle bool

	timeout       time.Duration
	singleConnect bool
	unencrypted   bool
	maxBodyLength uint32

	logger  *slog.Logger
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds dialing and every read and write.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithSecret sets the shared secret used to mask packet bodies.
func WithSecret(secret string) ClientOption {
	return func(c *Client) {
		c.secret = []byte(secret)
	}
}

// WithSecretBytes sets the shared secret used to mask packet bodies.
func WithSecretBytes(secret []byte) ClientOption {
	return func(c *Client) {
		c.secret = append([]byte(nil), secret...)
	}
}

// WithTLSConfig dials the server over TLS.
func WithTLSConfig(config *tls.Config) ClientOption {
	return func(c *Client) {
		c.dialer = &TLSDialer{Config: config}
	}
}

// WithDialer sets a custom dialer. A nil dialer keeps the default.
func WithDialer(dialer Dialer) ClientOption {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithSingleConnect requests single-connect mode. The connection is kept
// only if the server agrees in its first reply.
func WithSingleConnect(enabled bool) ClientOption {
	return func(c *Client) {
		c.singleConnect = enabled
	}
}

// WithUnencrypted sends bodies in the clear. RFC8907 deprecates this; it is
// meant for lab servers and packet capture debugging.
func WithUnencrypted(enabled bool) ClientOption {
	return func(c *Client) {
		c.unencrypted = enabled
	}
}

// WithMaxBodyLength bounds the body length accepted from the server.
func WithMaxBodyLength(maxLength uint32) ClientOption {
	return func(c *Client) {
		c.maxBodyLength = maxLength
	}
}

// WithLogger sets the logger. The secret is never logged.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCircuitBreaker stops dialing for cooldown after failures consecutive
// dial failures, failing calls fast while the server is down.
func WithCircuitBreaker(failures uint32, cooldown time.Duration) ClientOption {
	return func(c *Client) {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "tacplus-dial",
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("circuit breaker state changed",
					slog.String("cb_name", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
					slog.String(logging.FieldAddress, c.address),
				)
			},
		})
	}
}

// WithDialRateLimit limits how often new connections are opened.
func WithDialRateLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// NewClient returns a client for the server at address (host:port).
func NewClient(address string, opts ...ClientOption) *Client {
	c := &Client{
		address:       address,
		timeout:       30 * time.Second,
		dialer:        DefaultTCPDialer(),
		maxBodyLength: DefaultMaxBodyLength,
		logger:        slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(c)
	}

	switch d := c.dialer.(type) {
	case *TCPDialer:
		d.Timeout = c.timeout
	case *TLSDialer:
		d.Timeout = c.timeout
	}

	return c
}

// Authenticate authenticates username with PAP using the login service.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*AuthenReply, error) {
	return c.AuthenticatePAP(ctx, Request{User: username, PrivLevel: PrivLvlUser, Service: AuthenServiceLogin}, password)
}

// AuthenticatePAP authenticates req.User with PAP. The password travels in the
// START data and answers a GETPASS if the server still asks for it.
func (c *Client) AuthenticatePAP(ctx context.Context, req Request, password string) (*AuthenReply, error) {
	start, err := req.authenStart(AuthenTypePAP, []byte(password))
	if err != nil {
		return nil, err
	}

	return c.authenticate(ctx, start, papResponder(start.User, password))
}

// AuthenticateCHAP authenticates req.User with CHAP using a random PPP id and
// challenge.
func (c *Client) AuthenticateCHAP(ctx context.Context, req Request, password string) (*AuthenReply, error) {
	data, err := newCHAPData(password)
	if err != nil {
		return nil, err
	}

	start, err := req.authenStart(AuthenTypeCHAP, data)
	if err != nil {
		return nil, err
	}

	return c.authenticate(ctx, start, nil)
}

// AuthenticateASCII runs an interactive login. promptHandler answers every
// GETDATA, GETUSER and GETPASS reply; an error from it aborts the exchange.
func (c *Client) AuthenticateASCII(ctx context.Context, req Request, promptHandler PromptHandler) (*AuthenReply, error) {
	start, err := req.authenStart(AuthenTypeASCII, nil)
	if err != nil {
		return nil, err
	}

	return c.authenticate(ctx, start, promptResponder(promptHandler))
}

// authenticate is never retried: a login the server may have seen must not
// be replayed.
func (c *Client) authenticate(ctx context.Context, start *AuthenStart, respond Responder) (*AuthenReply, error) {
	var reply *AuthenReply

	err := c.do(ctx, false, func(ctx context.Context, s *Session) error {
		var err error
		reply, err = s.Authenticate(ctx, start, respond)
		if reply != nil {
			c.logger.DebugContext(ctx, "authentication finished",
				slog.String(logging.FieldUser, string(start.User)),
				slog.String("authen_type", start.AuthenType.String()),
				slog.String("status", reply.Status.String()),
			)
		}
		return err
	})

	return reply, err
}

// Authorize asks whether req.User may use req.Service with req.Args. The
// result carries the server's reply and the arguments merged per RFC8907.
// A denial is not an error; check result.Allowed or result.Err.
func (c *Client) Authorize(ctx context.Context, req Request) (*AuthorizeResult, error) {
	body, err := req.authorRequest()
	if err != nil {
		return nil, err
	}

	var reply *AuthorResponse
	err = c.do(ctx, true, func(ctx context.Context, s *Session) error {
		var err error
		reply, err = s.Authorize(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "authorization finished",
		slog.String(logging.FieldUser, string(body.User)),
		slog.String("status", reply.Status.String()),
	)

	return &AuthorizeResult{
		Reply: reply,
		Args:  reply.ResolveArgs(body.Args),
	}, nil
}

// Accounting sends one accounting record with the given flags.
func (c *Client) Accounting(ctx context.Context, flags uint8, req Request) (*AcctReply, error) {
	return c.account(ctx, flags, req, nil)
}

func (c *Client) account(ctx context.Context, flags uint8, req Request, extra []Argument) (*AcctReply, error) {
	body, err := req.acctRequest(flags, extra)
	if err != nil {
		return nil, err
	}

	var reply *AcctReply
	err = c.do(ctx, true, func(ctx context.Context, s *Session) error {
		var err error
		reply, err = s.Account(ctx, body)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.DebugContext(ctx, "accounting finished",
		slog.String(logging.FieldUser, string(body.User)),
		slog.Int("flags", int(flags)),
		slog.String("status", reply.Status.String()),
	)

	return reply, nil
}

// do runs fn on a fresh session. When retry is set and the attempt lost its
// connection, fn runs once more on a new connection and a new session.
func (c *Client) do(ctx context.Context, retry bool, fn func(context.Context, *Session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	err := c.attempt(ctx, fn)
	if err == nil || !retry || !IsRetryable(err) || ctx.Err() != nil {
		return err
	}

	c.logger.WarnContext(ctx, "connection lost, retrying on a new connection",
		slog.String(logging.FieldAddress, c.address),
		logging.WithError(err),
	)

	return c.attempt(ctx, fn)
}

func (c *Client) attempt(ctx context.Context, fn func(context.Context, *Session) error) error {
	fresh, err := c.connectLocked(ctx)
	if err != nil {
		return err
	}

	s, err := NewSession(c.conn, SessionConfig{
		Secret:        c.secret,
		SingleConnect: c.singleConnect,
		Unencrypted:   c.unencrypted,
		MaxBodyLength: c.maxBodyLength,
		Timeout:       c.timeout,
		Logger:        c.logger,
	})
	if err != nil {
		c.closeLocked()
		return err
	}

	err = fn(ctx, s)
	c.releaseLocked(s, fresh)

	return err
}

// connectLocked makes sure a usable connection exists and reports whether it
// was just dialed. A kept connection the server has since closed is replaced.
func (c *Client) connectLocked(ctx context.Context) (bool, error) {
	if c.conn != nil {
		if isConnAlive(c.conn) {
			return false, nil
		}

		c.logger.DebugContext(ctx, "kept connection is gone", slog.String(logging.FieldAddress, c.address))
		c.closeLocked()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("dial rate limit: %w", err)
		}
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: failed to connect to %s: %w", ErrTransport, c.address, err)
	}

	c.conn = conn
	c.connSingle = false

	c.logger.DebugContext(ctx, "connected",
		slog.String(logging.FieldAddress, c.address),
		slog.String("local_addr", conn.LocalAddr().String()),
	)

	return true, nil
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	if c.breaker == nil {
		return c.dialer.Dial(ctx, "tcp", c.address)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.dialer.Dial(ctx, "tcp", c.address)
	})
	if err != nil {
		return nil, err
	}

	return result.(Conn), nil
}

// releaseLocked keeps the connection only while single-connect mode holds:
// the server must have agreed on the first session of the connection, and
// the session must have ended cleanly.
func (c *Client) releaseLocked(s *Session, fresh bool) {
	if c.conn == nil {
		return
	}

	if fresh {
		c.connSingle = c.singleConnect && s.ServerSingleConnect()
	}

	if c.connSingle && s.reusable() {
		return
	}

	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn == nil {
		return
	}

	if err := c.conn.Close(); err != nil && !isNetClosedError(err) {
		c.logger.Debug("close connection", logging.WithError(err))
	}

	c.conn = nil
	c.connSingle = false
}

// Close closes the kept connection, if any. Calls made after Close fail with
// ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.connSingle = false

	if isNetClosedError(err) {
		return nil
	}
	return err
}

// IsConnected reports whether a connection is kept open between calls.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SingleConnect reports whether the kept connection runs in single-connect mode.
func (c *Client) SingleConnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.connSingle
}

// Address returns the server address.
func (c *Client) Address() string {
	return c.address
}

// LocalAddr returns the local address of the kept connection, or nil.
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote address of the kept connection, or nil.
func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}
