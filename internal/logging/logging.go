// Package logging builds the process-wide slog logger. Error records are
// additionally reported to Rollbar when a token is configured.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rollbar/rollbar-go"

	"welfare/internal/config"
)

// New returns the logger and a flush function to call on shutdown.
func New(cfg config.LoggingConfig, version string) (*slog.Logger, func()) {
	return newLogger(os.Stdout, cfg, version)
}

func newLogger(w io.Writer, cfg config.LoggingConfig, version string) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	if cfg.RollbarToken == "" {
		return slog.New(h), func() {}
	}

	rollbar.SetToken(cfg.RollbarToken)
	rollbar.SetEnvironment(cfg.RollbarEnvironment)
	rollbar.SetCodeVersion(version)
	if host, err := os.Hostname(); err == nil {
		rollbar.SetServerHost(host)
	}
	return slog.New(&rollbarHandler{next: h, report: reportToRollbar}), rollbar.Wait
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func reportToRollbar(err error, extras map[string]interface{}) {
	rollbar.Error(err, extras)
}

type rollbarHandler struct {
	next   slog.Handler
	attrs  []slog.Attr
	group  string
	report func(err error, extras map[string]interface{})
}

func (h *rollbarHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *rollbarHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		extras := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
		var reported error
		collect := func(a slog.Attr) bool {
			if e, ok := a.Value.Any().(error); ok && reported == nil {
				reported = e
			}
			extras[h.key(a.Key)] = a.Value.String()
			return true
		}
		for _, a := range h.attrs {
			collect(a)
		}
		r.Attrs(collect)
		if reported == nil {
			reported = errors.New(r.Message)
		}
		extras["message"] = r.Message
		h.report(reported, extras)
	}
	return h.next.Handle(ctx, r)
}

func (h *rollbarHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func (h *rollbarHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.next = h.next.WithAttrs(attrs)
	cp.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &cp
}

func (h *rollbarHandler) WithGroup(name string) slog.Handler {
	cp := *h
	cp.next = h.next.WithGroup(name)
	cp.group = h.key(name)
	return &cp
}

// Discard is a logger that drops everything; handy in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
