package service

import (
	"context"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"strings"
	"time"

	"welfare/internal/audit"
	"welfare/internal/mail"
	"welfare/internal/metrics"
	"welfare/internal/model"
	"welfare/internal/store"
	"welfare/internal/validate"
)

const bulkTemplate = "bulk_message"

type BulkRequest struct {
	Subject   string  `json:"subject" validate:"notblank,max=200"`
	Body      string  `json:"body" validate:"notblank,max=20000"`
	MemberIDs []int64 `json:"member_ids" validate:"omitempty,max=5000"`
}

type BulkFailure struct {
	MemberID int64  `json:"member_id"`
	Address  string `json:"address"`
	Error    string `json:"error"`
}

type BulkSummary struct {
	Targeted int           `json:"targeted"`
	Sent     int           `json:"sent"`
	Skipped  int           `json:"skipped"`
	Failures []BulkFailure `json:"failures"`
}

type Renderer interface {
	Render(name string, data map[string]string) (string, error)
}

// BulkMailer sends one committee message to many members, one at a time
// with the same pacing as reminders.
type BulkMailer struct {
	store     store.Store
	renderer  Renderer
	transport mail.Transport
	audit     *audit.Sink
	delay     time.Duration
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration)
}

func NewBulkMailer(st store.Store, r Renderer, t mail.Transport, sink *audit.Sink, delay time.Duration, logger *slog.Logger) *BulkMailer {
	return &BulkMailer{
		store:     st,
		renderer:  r,
		transport: t,
		audit:     sink,
		delay:     delay,
		logger:    logger,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Send targets every active member, or only the listed ids. Inactive and
// email-less members are skipped; a failed send never stops the rest.
func (b *BulkMailer) Send(ctx context.Context, actor *model.Member, req BulkRequest, ip string) (BulkSummary, error) {
	sum := BulkSummary{Failures: []BulkFailure{}}
	if err := validate.Struct(req); err != nil {
		return sum, err
	}

	targets, err := b.targets(ctx, req.MemberIDs)
	if err != nil {
		return sum, err
	}
	sum.Targeted = len(targets)

	first := true
	for _, m := range targets {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if !m.Active() || strings.TrimSpace(m.Email) == "" {
			sum.Skipped++
			continue
		}
		if !first {
			b.sleep(ctx, b.delay)
		}
		first = false

		if err := b.sendOne(ctx, m, req); err != nil {
			metrics.EmailsSent.WithLabelValues("failed").Inc()
			sum.Failures = append(sum.Failures, BulkFailure{MemberID: m.ID, Address: m.Email, Error: err.Error()})
			b.logger.WarnContext(ctx, "bulk email failed", "member_id", m.ID, "error", err)
			continue
		}
		metrics.EmailsSent.WithLabelValues("sent").Inc()
		sum.Sent++
	}

	b.audit.Append(ctx, actor.MembershipNumber, "email.bulk", map[string]any{
		"subject":  req.Subject,
		"targeted": sum.Targeted,
		"sent":     sum.Sent,
		"failed":   len(sum.Failures),
		"skipped":  sum.Skipped,
	}, ip)
	return sum, nil
}

func (b *BulkMailer) targets(ctx context.Context, ids []int64) ([]model.Member, error) {
	if len(ids) == 0 {
		return b.store.ListActiveMembers(ctx)
	}
	seen := make(map[int64]bool, len(ids))
	var out []model.Member
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		m, err := b.store.GetMemberByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, fmt.Errorf("%w: member %d", store.ErrNotFound, id)
		}
		out = append(out, *m)
	}
	return out, nil
}

func (b *BulkMailer) sendOne(ctx context.Context, m model.Member, req BulkRequest) error {
	html, err := b.renderer.Render(bulkTemplate, map[string]string{
		"subject":        req.Subject,
		"recipient_name": m.FullName(),
		"body":           req.Body,
	})
	if err != nil {
		return err
	}
	_, err = b.transport.Send(ctx, mail.Message{
		To:      netmail.Address{Name: m.FullName(), Address: m.Email},
		Subject: req.Subject,
		HTML:    html,
	})
	return err
}
