package logger

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedLogger(buf *bytes.Buffer, level Level) *Logger {
	l := New(buf, level)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return l
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := fixedLogger(&buf, WARN)

	l.Debug("hidden %d", 1)
	l.Info("hidden %d", 2)
	l.Warn("shown %d", 3)
	l.Error("shown %d", 4)

	assert.Equal(t,
		"[2026-01-02 03:04:05] WARN: shown 3\n[2026-01-02 03:04:05] ERROR: shown 4\n",
		buf.String())
}

func TestLoggerWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := fixedLogger(&buf, DEBUG).With("watch:").With("a.png")

	l.Info("queued")

	assert.Equal(t, "[2026-01-02 03:04:05] INFO: watch: a.png queued\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{" error ", ERROR, false},
		{"trace", INFO, true},
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

func TestLevelString(t *testing.T) {
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "LEVEL(9)", Level(9).String())
}
