package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"Warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New("info", "json", &buf)
		require.NoError(t, err)

		logger.Debug("hidden")
		logger.Info("connected", slog.String(FieldAddress, "127.0.0.1:49"))

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "connected", rec["msg"])
		assert.Equal(t, "127.0.0.1:49", rec[FieldAddress])
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New("debug", "text", &buf)
		require.NoError(t, err)

		logger.Debug("packet sent", WithError(errors.New("boom")))
		assert.Contains(t, buf.String(), "msg=\"packet sent\"")
		assert.Contains(t, buf.String(), "error=boom")
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := New("info", "xml", &bytes.Buffer{})
		assert.Error(t, err)
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := New("loud", "text", &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestWithError(t *testing.T) {
	assert.Equal(t, "", WithError(nil).Value.String())
	assert.Equal(t, "boom", WithError(errors.New("boom")).Value.String())
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "****(6)", MaskSecret("secret"))
	assert.NotContains(t, MaskSecret("tacacs-key"), "tacacs")
}
