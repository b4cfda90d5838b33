package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	netmail "net/mail"
	"time"

	"welfare/internal/mail"
	"welfare/internal/metrics"
	"welfare/internal/model"
	"welfare/internal/notify"
	"welfare/internal/store"
)

const (
	templateName  = "special_date_reminder"
	dateLayoutOut = "Monday, 2 January 2006"

	EventReminderSent   = "reminder.sent"
	EventReminderFailed = "reminder.failed"
	EventReminderGap    = "reminder.unresolved"

	// settleTimeout bounds the status write that follows a send.
	settleTimeout = 10 * time.Second
)

var ErrNotRetryable = errors.New("reminder log is not retryable")

type LogStore interface {
	CreateReminderLog(ctx context.Context, l *model.ReminderLog) error
	MarkReminderLog(ctx context.Context, id int64, status, providerID, errDetail string) error
	GetReminderLog(ctx context.Context, id int64) (*model.ReminderLog, error)
	HasReminderRetry(ctx context.Context, logID int64) (bool, error)
	GetSpecialDate(ctx context.Context, id int64) (*model.SpecialDate, error)
	GetMemberByID(ctx context.Context, id int64) (*model.Member, error)
}

type Renderer interface {
	Render(name string, data map[string]string) (string, error)
}

type Auditor interface {
	Append(ctx context.Context, actor, action string, detail any, sourceIP string)
}

type Broadcaster interface {
	Broadcast(ev notify.Event)
}

// Attempt is the outcome of one send to one recipient.
type Attempt struct {
	LogID     int64
	Recipient Recipient
	Status    string
	Error     string
}

type Result struct {
	Attempts []Attempt
	Sent     int
	Failed   int
}

type Dispatcher struct {
	store     LogStore
	renderer  Renderer
	transport mail.Transport
	audit     Auditor
	events    Broadcaster
	logger    *slog.Logger

	delay time.Duration
	sleep func(ctx context.Context, d time.Duration)
}

func NewDispatcher(s LogStore, r Renderer, t mail.Transport, a Auditor, events Broadcaster, delay time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:     s,
		renderer:  r,
		transport: t,
		audit:     a,
		events:    events,
		logger:    logger,
		delay:     delay,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Dispatch sends one reminder per recipient, in order, pausing between
// sends. A failing recipient is recorded and the next one is still tried.
// The returned error is set when a log entry could not be written or ctx
// ended; recipients not yet reached stay unlogged for the next batch.
func (d *Dispatcher) Dispatch(ctx context.Context, due Due, recipients []Recipient) (Result, error) {
	var res Result
	for i, rcpt := range recipients {
		if i > 0 {
			d.sleep(ctx, d.delay)
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		entry := &model.ReminderLog{
			SpecialDateID:    due.Date.ID,
			MemberID:         due.Member.ID,
			Occurrence:       due.Occurrence,
			RecipientKind:    rcpt.Kind,
			RecipientName:    rcpt.Name,
			RecipientAddress: rcpt.Address,
			Attempt:          1,
		}
		att, err := d.attempt(ctx, due.Member, due.Date, entry)
		if err != nil {
			return res, err
		}
		res.add(att)
	}
	return res, nil
}

// Retry re-sends the attempt recorded under logID. The earlier entry is left
// untouched; the new attempt gets its own entry pointing back at it.
func (d *Dispatcher) Retry(ctx context.Context, logID int64) (Attempt, error) {
	prev, err := d.store.GetReminderLog(ctx, logID)
	if err != nil {
		return Attempt{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if prev == nil {
		return Attempt{}, store.ErrNotFound
	}
	if prev.Status == model.ReminderSent {
		return Attempt{}, fmt.Errorf("%w: log %d was already sent", ErrNotRetryable, logID)
	}
	retried, err := d.store.HasReminderRetry(ctx, logID)
	if err != nil {
		return Attempt{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if retried {
		return Attempt{}, fmt.Errorf("%w: log %d was already retried", ErrNotRetryable, logID)
	}

	date, err := d.store.GetSpecialDate(ctx, prev.SpecialDateID)
	if err != nil {
		return Attempt{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	member, err := d.store.GetMemberByID(ctx, prev.MemberID)
	if err != nil {
		return Attempt{}, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if date == nil || member == nil {
		return Attempt{}, fmt.Errorf("%w: date or member no longer exists", ErrNotRetryable)
	}

	retryOf := prev.ID
	entry := &model.ReminderLog{
		SpecialDateID:    prev.SpecialDateID,
		MemberID:         prev.MemberID,
		Occurrence:       prev.Occurrence,
		RecipientKind:    prev.RecipientKind,
		RecipientName:    prev.RecipientName,
		RecipientAddress: prev.RecipientAddress,
		Attempt:          prev.Attempt + 1,
		RetryOf:          &retryOf,
	}
	return d.attempt(ctx, *member, *date, entry)
}

// attempt writes the pending entry before talking to the transport so a
// crash mid-send leaves a visible pending row rather than nothing. Once the
// transport has answered, the outcome is recorded even if ctx has ended.
func (d *Dispatcher) attempt(ctx context.Context, m model.Member, date model.SpecialDate, entry *model.ReminderLog) (Attempt, error) {
	entry.Channel = model.ChannelEmail
	entry.Status = model.ReminderPending
	if err := d.store.CreateReminderLog(ctx, entry); err != nil {
		return Attempt{}, fmt.Errorf("%w: creating reminder log: %w", ErrTransient, err)
	}

	rcpt := Recipient{Kind: entry.RecipientKind, Name: entry.RecipientName, Address: entry.RecipientAddress}
	providerID, sendErr := d.send(ctx, m, date, entry.Occurrence, rcpt)

	att := Attempt{LogID: entry.ID, Recipient: rcpt, Status: model.ReminderSent}
	if sendErr != nil {
		att.Status = model.ReminderFailed
		att.Error = sendErr.Error()
	}
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	if err := d.store.MarkReminderLog(settleCtx, entry.ID, att.Status, providerID, att.Error); err != nil {
		return att, fmt.Errorf("%w: marking reminder log %d: %w", ErrTransient, entry.ID, err)
	}

	metrics.RemindersDispatched.WithLabelValues(att.Status).Inc()

	action := EventReminderSent
	if sendErr != nil {
		action = EventReminderFailed
		d.logger.WarnContext(ctx, "reminder send failed",
			"log_id", entry.ID, "date_id", date.ID, "to", rcpt.Address, "error", sendErr)
	} else {
		d.logger.InfoContext(ctx, "reminder sent",
			"log_id", entry.ID, "date_id", date.ID, "to", rcpt.Address, "provider_id", providerID)
	}

	detail := map[string]any{
		"log_id":         entry.ID,
		"special_date":   date.ID,
		"member":         m.MembershipNumber,
		"recipient":      rcpt.Address,
		"recipient_kind": rcpt.Kind,
		"occurrence":     entry.Occurrence.Format("2006-01-02"),
		"attempt":        entry.Attempt,
	}
	if att.Error != "" {
		detail["error"] = att.Error
	}
	d.audit.Append(settleCtx, model.ActorSystem, action, detail, "")
	if d.events != nil {
		d.events.Broadcast(notify.Event{Type: action, Payload: detail, At: time.Now()})
	}
	return att, nil
}

func (d *Dispatcher) send(ctx context.Context, m model.Member, date model.SpecialDate, occ time.Time, rcpt Recipient) (string, error) {
	subject := Subject(m, date, occ)
	html, err := d.renderer.Render(templateName, map[string]string{
		"subject":        subject,
		"recipient_name": rcpt.Name,
		"recipient_kind": rcpt.Kind,
		"member_name":    m.FullName(),
		"label":          date.Label,
		"date":           occ.Format(dateLayoutOut),
	})
	if err != nil {
		return "", fmt.Errorf("rendering reminder: %w", err)
	}
	return d.transport.Send(ctx, mail.Message{
		To:      netmail.Address{Name: rcpt.Name, Address: rcpt.Address},
		Subject: subject,
		HTML:    html,
	})
}

func Subject(m model.Member, date model.SpecialDate, occ time.Time) string {
	return fmt.Sprintf("Reminder: %s of %s on %s", date.Label, m.FullName(), occ.Format("2 January"))
}

func (r *Result) add(a Attempt) {
	r.Attempts = append(r.Attempts, a)
	switch a.Status {
	case model.ReminderSent:
		r.Sent++
	case model.ReminderFailed:
		r.Failed++
	}
}
