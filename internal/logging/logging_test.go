package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "json", Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("ambiguous contract", "provider_id", "org-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ambiguous contract", rec["msg"])
	assert.Equal(t, "org-1", rec["provider_id"])
}

func TestNew_TextHasNoColorOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "text", Level: "info"}, &buf)
	require.NoError(t, err)

	logger.Info("claim priced", "outcome", "PRICED")

	assert.Contains(t, buf.String(), "claim priced")
	assert.Contains(t, buf.String(), "outcome=PRICED")
	assert.NotContains(t, buf.String(), "\033[")
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New(Config{Format: "xml"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestTraceHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraceHandler(&buf, slog.LevelInfo)).With("claim", "c-1")

	logger.Debug("hidden")
	logger.Info("ACCUM", "message", "[BASE] Rule r-1 (Score: 1000) Added: +$127.50")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "ACCUM")
	assert.Contains(t, out, "claim"+colorReset+"=c-1")
	assert.Contains(t, out, "+$127.50")
}
