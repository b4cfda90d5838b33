// Package audit appends audit log entries without ever failing the caller.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"welfare/internal/model"
)

const appendTimeout = 2 * time.Second

type Writer interface {
	LogAudit(ctx context.Context, e model.AuditEntry) error
}

type Sink struct {
	w      Writer
	logger *slog.Logger
}

func NewSink(w Writer, logger *slog.Logger) *Sink {
	return &Sink{w: w, logger: logger}
}

// Append records one entry. detail may be a string or any JSON-encodable
// value. Failures are logged and swallowed so audit trouble never blocks a
// member-facing operation.
func (s *Sink) Append(ctx context.Context, actor, action string, detail any, sourceIP string) {
	if actor == "" {
		actor = model.ActorSystem
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	err := s.w.LogAudit(ctx, model.AuditEntry{
		Actor:     actor,
		Action:    action,
		Detail:    encodeDetail(detail),
		IPAddress: sourceIP,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit append failed", "action", action, "actor", actor, "error", err)
	}
}

func encodeDetail(detail any) string {
	switch d := detail.(type) {
	case nil:
		return ""
	case string:
		return d
	case []byte:
		return string(d)
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return ""
	}
	return string(b)
}
