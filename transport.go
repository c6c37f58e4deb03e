package tacplus

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

// Conn is the byte stream a session runs over.
type Conn interface {
	net.Conn
}

// Dialer opens connections to TACACS+ servers.
//
//go:generate mockgen -destination=mock_dialer_test.go -package=tacplus_test github.com/vitalvas/tacplus Dialer
type Dialer interface {
	// Dial connects to the address on the named network.
	Dial(ctx context.Context, network, address string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, network, address string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, network, address string) (Conn, error) {
	return f(ctx, network, address)
}

// TCPDialer dials plain TCP connections.
type TCPDialer struct {
	// Timeout bounds the dial. Zero means no timeout beyond the context.
	Timeout time.Duration

	// LocalAddr is the local address to dial from. Nil picks one automatically.
	LocalAddr *net.TCPAddr
}

// Dial connects to the address using TCP.
func (d *TCPDialer) Dial(ctx context.Context, network, address string) (Conn, error) {
	dialer := &net.Dialer{
		Timeout: d.Timeout,
	}
	if d.LocalAddr != nil {
		dialer.LocalAddr = d.LocalAddr
	}

	return dialer.DialContext(ctx, network, address)
}

// TLSDialer dials TACACS+ over TLS connections (RFC9887).
type TLSDialer struct {
	// Timeout bounds the dial and handshake.
	Timeout time.Duration

	// Config is the TLS configuration. Nil uses the crypto/tls defaults.
	Config *tls.Config
}

// Dial connects to the address and completes the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, network, address string) (Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout: d.Timeout,
		},
		Config: d.Config,
	}

	return dialer.DialContext(ctx, network, address)
}

// DefaultTCPDialer returns a TCP dialer with a 30 second timeout.
func DefaultTCPDialer() *TCPDialer {
	return &TCPDialer{
		Timeout: 30 * time.Second,
	}
}

// NewTLSClientConfig returns a client TLS configuration requiring TLS 1.2 or
// newer.
func NewTLSClientConfig(serverName string, insecureSkipVerify bool) *tls.Config {
	return &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // opt-in for lab servers
		MinVersion:         tls.VersionTLS12,
	}
}

// writeAll writes b completely, looping over short writes.
func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

// connProbeTimeout is how long isConnAlive waits for pending EOF.
const connProbeTimeout = time.Millisecond

// isConnAlive reports whether an idle connection can still be used. A server
// that closed the connection shows up as EOF or a reset on a short read.
// Unsolicited data also makes the connection unusable.
func isConnAlive(conn Conn) bool {
	if err := conn.SetReadDeadline(time.Now().Add(connProbeTimeout)); err != nil {
		return false
	}
	defer conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	var b [1]byte
	n, err := conn.Read(b[:])
	if n > 0 {
		return false
	}

	return errors.Is(err, os.ErrDeadlineExceeded)
}

// isNetClosedError reports whether err means the peer or the local side
// closed the connection.
func isNetClosedError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
