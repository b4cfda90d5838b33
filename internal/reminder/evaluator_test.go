package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/logging"
	"welfare/internal/model"
)

var scenarioNow = time.Date(2025, time.May, 14, 0, 0, 0, 0, time.UTC)

func TestEvaluator_BirthdayInsideWindow(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "M001", "thandi@example.org")
	d := f.date(t, m.ID, "Birthday", day(2024, time.May, 15), true, model.RecipientMember)

	ev := NewEvaluator(f.store, 24*time.Hour, time.UTC, logging.Discard())
	due, err := ev.Due(context.Background(), scenarioNow)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, d.ID, due[0].Date.ID)
	assert.Equal(t, m.ID, due[0].Member.ID)
	assert.Equal(t, day(2025, time.May, 15), due[0].Occurrence)
}

func TestEvaluator_OutsideWindowAndFiltered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.member(t, "M001", "a@example.org")
	f.date(t, m.ID, "Later", day(2024, time.May, 17), true, model.RecipientMember)
	f.date(t, m.ID, "Past one-off", day(2025, time.May, 13), false, model.RecipientMember)

	disabled := f.date(t, m.ID, "Muted", day(2024, time.May, 14), true, model.RecipientMember)
	disabled.ReminderEnabled = false
	require.NoError(t, f.store.UpdateSpecialDate(ctx, &disabled))

	gone := f.member(t, "M002", "b@example.org")
	f.date(t, gone.ID, "Birthday", day(2024, time.May, 14), true, model.RecipientMember)
	require.NoError(t, f.store.SetMemberStatus(ctx, gone.ID, model.StatusInactive))

	ev := NewEvaluator(f.store, 24*time.Hour, time.UTC, logging.Discard())
	due, err := ev.Due(ctx, scenarioNow)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestEvaluator_CarriesLoggedRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.member(t, "M001", "a@example.org")
	d := f.date(t, m.ID, "Birthday", day(2024, time.May, 15), true, model.RecipientMember, model.RecipientPrimaryKin)

	require.NoError(t, f.store.CreateReminderLog(ctx, &model.ReminderLog{
		SpecialDateID:    d.ID,
		MemberID:         m.ID,
		Occurrence:       day(2025, time.May, 15),
		RecipientAddress: "A@Example.org",
		Status:           model.ReminderFailed,
	}))

	ev := NewEvaluator(f.store, 24*time.Hour, time.UTC, logging.Discard())
	due, err := ev.Due(ctx, scenarioNow.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, map[string]bool{"a@example.org": true}, due[0].Logged)

	pending := due[0].Pending([]Recipient{
		{Kind: model.RecipientMember, Address: "a@example.org"},
		{Kind: model.RecipientPrimaryKin, Address: "kin@example.org"},
	})
	require.Len(t, pending, 1)
	assert.Equal(t, "kin@example.org", pending[0].Address)

	// Next year's occurrence is a different key.
	due, err = ev.Due(ctx, day(2026, time.May, 14))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Empty(t, due[0].Logged)
}

type brokenSource struct {
	dates  []model.SpecialDate
	logErr error
}

func (b brokenSource) ListReminderCandidates(context.Context) ([]model.SpecialDate, error) {
	if b.dates == nil {
		return nil, errors.New("connection refused")
	}
	return b.dates, nil
}

func (b brokenSource) ListLoggedRecipients(context.Context, int64, time.Time) ([]string, error) {
	return nil, b.logErr
}

func (b brokenSource) GetMemberByID(_ context.Context, id int64) (*model.Member, error) {
	return &model.Member{ID: id, Status: model.StatusActive}, nil
}

func TestEvaluator_StoreFailureIsTransient(t *testing.T) {
	ev := NewEvaluator(brokenSource{}, 24*time.Hour, time.UTC, logging.Discard())
	due, err := ev.Due(context.Background(), scenarioNow)
	require.ErrorIs(t, err, ErrTransient)
	assert.Nil(t, due)

	src := brokenSource{
		dates: []model.SpecialDate{
			{ID: 1, MemberID: 1, Date: day(2024, time.May, 14), Annual: true, ReminderEnabled: true},
		},
		logErr: errors.New("timeout"),
	}
	ev = NewEvaluator(src, 24*time.Hour, time.UTC, logging.Discard())
	due, err = ev.Due(context.Background(), scenarioNow)
	require.ErrorIs(t, err, ErrTransient)
	assert.Nil(t, due)
}
