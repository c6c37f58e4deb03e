// Package logging holds the slog helpers shared by the client library and the
// command line client.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Attribute keys shared by client log records.
const (
	FieldAddress   = "address"
	FieldUser      = "user"
	FieldSessionID = "session_id"
	FieldError     = "error"
)

// ParseLevel parses debug, info, warn or error, ignoring case.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// New returns a logger writing to w in the given format, text or json.
func New(level, format string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// WithError returns the error attribute, empty for a nil error.
func WithError(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// MaskSecret hides a shared secret for display. Only its length is kept.
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return fmt.Sprintf("****(%d)", len(secret))
}
