package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewLogger_TextFormatWithoutRollbar(t *testing.T) {
	var buf bytes.Buffer
	log, flush := newLogger(&buf, config.LoggingConfig{Level: "debug", Format: "text"}, "test")
	defer flush()

	log.Debug("dbg", "a", 1)
	log.Info("inf", "b", 2)

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "msg=dbg")
	assert.Contains(t, out, "b=2")
}

func TestRollbarHandler_ReportsOnlyErrors(t *testing.T) {
	var buf bytes.Buffer
	type report struct {
		err    error
		extras map[string]interface{}
	}
	var reports []report

	h := &rollbarHandler{
		next: slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		report: func(err error, extras map[string]interface{}) {
			reports = append(reports, report{err, extras})
		},
	}
	log := slog.New(h).With("component", "reminder")

	log.Info("fine")
	log.Warn("careful")
	boom := errors.New("boom")
	log.ErrorContext(context.Background(), "dispatch failed", "error", boom, "date_id", 7)
	log.WithGroup("batch").Error("no error attr")

	require.Len(t, reports, 2)
	assert.ErrorIs(t, reports[0].err, boom)
	assert.Equal(t, "reminder", reports[0].extras["component"])
	assert.Equal(t, "7", reports[0].extras["date_id"])
	assert.Equal(t, "dispatch failed", reports[0].extras["message"])
	assert.EqualError(t, reports[1].err, "no error attr")

	assert.Contains(t, buf.String(), "msg=fine")
}
