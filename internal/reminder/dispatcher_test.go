package reminder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/model"
	"welfare/internal/store"
)

func TestDispatcher_FailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.member(t, "M001", "member@example.org")
	d := f.date(t, m.ID, "Anniversary", day(2010, time.May, 15), true, model.RecipientMember, model.RecipientAllKin)
	f.mail.FailFor("member@example.org", errors.New("mailbox unavailable"))

	due := Due{Member: m, Date: d, Occurrence: day(2025, time.May, 15)}
	res, err := f.dispatcher.Dispatch(ctx, due, []Recipient{
		{Kind: model.RecipientMember, Name: "Member", Address: "member@example.org"},
		{Kind: model.RecipientAllKin, Name: "Kin", Address: "kin@example.org"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []time.Duration{250 * time.Millisecond}, f.sleeps)

	logs := f.logs(t)
	require.Len(t, logs, 2)
	byAddr := map[string]model.ReminderLog{}
	for _, l := range logs {
		byAddr[l.RecipientAddress] = l
	}
	assert.Equal(t, model.ReminderFailed, byAddr["member@example.org"].Status)
	assert.Contains(t, byAddr["member@example.org"].Error, "mailbox unavailable")
	assert.Equal(t, model.ReminderSent, byAddr["kin@example.org"].Status)
	assert.Equal(t, "rec-1", byAddr["kin@example.org"].ProviderMessageID)

	sent := f.mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "kin@example.org", sent[0].To.Address)
	assert.True(t, strings.HasPrefix(sent[0].Subject, "Reminder: Anniversary"))
	assert.Contains(t, sent[0].HTML, "Thursday, 15 May 2025")

	entries, _, err := f.store.ListAuditLog(ctx, 10, 0)
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []string{EventReminderFailed, EventReminderSent}, actions)
	assert.ElementsMatch(t, []string{EventReminderFailed, EventReminderSent}, f.events.types())
}

func TestDispatcher_RetryCreatesNewEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.member(t, "M001", "member@example.org")
	d := f.date(t, m.ID, "Birthday", day(1985, time.May, 15), true, model.RecipientMember)
	f.mail.FailFor("member@example.org", errors.New("rate limited"))

	_, err := f.dispatcher.Dispatch(ctx, Due{Member: m, Date: d, Occurrence: day(2025, time.May, 15)},
		[]Recipient{{Kind: model.RecipientMember, Name: "Member", Address: "member@example.org"}})
	require.NoError(t, err)
	first := f.logs(t)
	require.Len(t, first, 1)
	require.Equal(t, model.ReminderFailed, first[0].Status)

	delete(f.mail.Fail, "member@example.org")
	att, err := f.dispatcher.Retry(ctx, first[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderSent, att.Status)

	prev, err := f.store.GetReminderLog(ctx, first[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderFailed, prev.Status)

	retried, err := f.store.GetReminderLog(ctx, att.LogID)
	require.NoError(t, err)
	assert.Equal(t, 2, retried.Attempt)
	require.NotNil(t, retried.RetryOf)
	assert.Equal(t, first[0].ID, *retried.RetryOf)
	assert.Equal(t, first[0].Occurrence, retried.Occurrence)
	assert.Equal(t, model.RecipientMember, retried.RecipientKind)

	_, err = f.dispatcher.Retry(ctx, att.LogID)
	assert.ErrorIs(t, err, ErrNotRetryable)

	// The failed entry already has a follow-up attempt.
	_, err = f.dispatcher.Retry(ctx, first[0].ID)
	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Len(t, f.logs(t), 2)
	assert.Len(t, f.mail.Sent(), 1)

	_, err = f.dispatcher.Retry(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDispatcher_OutcomeRecordedAfterCancel(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, "M001", "member@example.org")
	d := f.date(t, m.ID, "Birthday", day(1985, time.May, 15), true, model.RecipientMember, model.RecipientAllKin)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.wire(ctxAwareLogs{LogStore: f.store}, cancelOnSend{inner: f.mail, cancel: cancel})

	res, err := f.dispatcher.Dispatch(ctx, Due{Member: m, Date: d, Occurrence: day(2025, time.May, 15)}, []Recipient{
		{Kind: model.RecipientMember, Name: "Member", Address: "member@example.org"},
		{Kind: model.RecipientAllKin, Name: "Kin", Address: "kin@example.org"},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Sent)

	logs := f.logs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, "member@example.org", logs[0].RecipientAddress)
	assert.Equal(t, model.ReminderSent, logs[0].Status)
	assert.Equal(t, "rec-1", logs[0].ProviderMessageID)
	assert.Len(t, f.mail.Sent(), 1)
}
