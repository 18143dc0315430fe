package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestContextHandlerAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewRequestContextHandler(slog.NewTextHandler(&buf, nil)))

	logger.InfoContext(WithRequestID(context.Background(), "req-1"), "analyzed")
	logger.With("component", "api").InfoContext(context.Background(), "idle")

	out := buf.String()
	assert.Contains(t, out, "msg=analyzed request_id=req-1")
	assert.Contains(t, out, "msg=idle component=api")
	assert.NotContains(t, out, "msg=idle component=api request_id")
}

func TestRequestID(t *testing.T) {
	assert.Equal(t, "", RequestID(context.Background()))
	assert.Equal(t, "abc", RequestID(WithRequestID(context.Background(), "abc")))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in     string
		want   slog.Level
		wantOK bool
	}{
		{in: "debug", want: slog.LevelDebug, wantOK: true},
		{in: "INFO", want: slog.LevelInfo, wantOK: true},
		{in: "warn", want: slog.LevelWarn, wantOK: true},
		{in: "error", want: slog.LevelError, wantOK: true},
		{in: "verbose", want: slog.LevelInfo, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
