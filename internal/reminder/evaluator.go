package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"welfare/internal/model"
)

// ErrTransient marks failures of the backing store; the batch should be
// retried later rather than treated as data errors.
var ErrTransient = errors.New("reminder store unavailable")

type DateSource interface {
	ListReminderCandidates(ctx context.Context) ([]model.SpecialDate, error)
	ListLoggedRecipients(ctx context.Context, specialDateID int64, occurrence time.Time) ([]string, error)
	GetMemberByID(ctx context.Context, id int64) (*model.Member, error)
}

// Due is one (member, date) pair whose occurrence falls in the window.
// Logged holds the lowercased addresses already recorded for the occurrence;
// those recipients are not sent to again.
type Due struct {
	Member     model.Member
	Date       model.SpecialDate
	Occurrence time.Time
	Logged     map[string]bool
}

// Pending drops the recipients that already have a log entry.
func (d Due) Pending(recipients []Recipient) []Recipient {
	if len(d.Logged) == 0 {
		return recipients
	}
	var out []Recipient
	for _, r := range recipients {
		if !d.Logged[strings.ToLower(r.Address)] {
			out = append(out, r)
		}
	}
	return out
}

type Evaluator struct {
	src       DateSource
	lookahead time.Duration
	loc       *time.Location
	logger    *slog.Logger
}

func NewEvaluator(src DateSource, lookahead time.Duration, loc *time.Location, logger *slog.Logger) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{src: src, lookahead: lookahead, loc: loc, logger: logger}
}

// Due returns the pairs whose next occurrence lies in the inclusive window
// [start of now's day, now+lookahead], together with the recipients already
// logged for that occurrence. Any store failure aborts the whole evaluation.
func (e *Evaluator) Due(ctx context.Context, now time.Time) ([]Due, error) {
	dates, err := e.src.ListReminderCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing dates: %w", ErrTransient, err)
	}

	until := now.Add(e.lookahead)
	members := make(map[int64]*model.Member)
	var due []Due

	for _, d := range dates {
		if !d.ReminderEnabled {
			continue
		}
		occ, ok := NextOccurrence(d, now, e.loc)
		if !ok || occ.After(until) {
			continue
		}

		logged, err := e.src.ListLoggedRecipients(ctx, d.ID, occ)
		if err != nil {
			return nil, fmt.Errorf("%w: checking log for date %d: %w", ErrTransient, d.ID, err)
		}

		m, seen := members[d.MemberID]
		if !seen {
			m, err = e.src.GetMemberByID(ctx, d.MemberID)
			if err != nil {
				return nil, fmt.Errorf("%w: loading member %d: %w", ErrTransient, d.MemberID, err)
			}
			members[d.MemberID] = m
		}
		if !m.Active() {
			e.logger.DebugContext(ctx, "skipping date of inactive or missing member",
				"date_id", d.ID, "member_id", d.MemberID)
			continue
		}

		item := Due{Member: *m, Date: d, Occurrence: occ}
		if len(logged) > 0 {
			item.Logged = make(map[string]bool, len(logged))
			for _, addr := range logged {
				item.Logged[strings.ToLower(addr)] = true
			}
		}
		due = append(due, item)
	}
	return due, nil
}
