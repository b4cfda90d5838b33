package reminder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"welfare/internal/audit"
	"welfare/internal/logging"
	"welfare/internal/mail"
	"welfare/internal/model"
	"welfare/internal/notify"
	"welfare/internal/store/memstore"
	"welfare/web"
)

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (e *eventLog) Broadcast(ev notify.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store      *memstore.Store
	mail       *mail.Recorder
	events     *eventLog
	dispatcher *Dispatcher
	scheduler  *Scheduler
	sleeps     []time.Duration

	renderer *mail.Renderer
	sink     *audit.Sink
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()

	renderer, err := mail.NewRenderer(web.EmailTemplateFS(), map[string]string{
		"association": "Harbour Welfare Society",
		"base_url":    "http://localhost:8080",
	})
	require.NoError(t, err)

	f := &fixture{
		store:    memstore.New(),
		mail:     mail.NewRecorder(),
		events:   &eventLog{},
		renderer: renderer,
		logger:   logger,
	}
	f.sink = audit.NewSink(f.store, logger)
	f.wire(f.store, f.mail)
	return f
}

// wire rebuilds the dispatcher and scheduler over the given log store and
// transport. The evaluator always reads the fixture's memstore.
func (f *fixture) wire(logs LogStore, transport mail.Transport) {
	f.dispatcher = NewDispatcher(logs, f.renderer, transport, f.sink, f.events, 250*time.Millisecond, f.logger)
	f.dispatcher.sleep = func(_ context.Context, d time.Duration) { f.sleeps = append(f.sleeps, d) }

	ev := NewEvaluator(f.store, 24*time.Hour, time.UTC, f.logger)
	f.scheduler = NewScheduler(ev, NewResolver(f.logger), f.dispatcher, f.store, f.sink, NewLocalLocker(), time.Hour, f.logger)
}

func (f *fixture) member(t *testing.T, number, email string) model.Member {
	t.Helper()
	m := &model.Member{
		MembershipNumber: number,
		FirstName:        "Thandi",
		LastName:         number,
		Email:            email,
	}
	require.NoError(t, f.store.CreateMember(context.Background(), m, ""))
	return *m
}

func (f *fixture) date(t *testing.T, memberID int64, label string, date time.Time, annual bool, recipients ...string) model.SpecialDate {
	t.Helper()
	d := &model.SpecialDate{
		MemberID:        memberID,
		Label:           label,
		Date:            date,
		Annual:          annual,
		Recipients:      recipients,
		ReminderEnabled: true,
	}
	require.NoError(t, f.store.CreateSpecialDate(context.Background(), d))
	return *d
}

func (f *fixture) kin(t *testing.T, memberID int64, name, email string, primary bool) {
	t.Helper()
	require.NoError(t, f.store.CreateNextOfKin(context.Background(), &model.NextOfKin{
		MemberID:     memberID,
		Name:         name,
		Relationship: "sibling",
		Email:        email,
		IsPrimary:    primary,
	}))
}

func (f *fixture) logs(t *testing.T) []model.ReminderLog {
	t.Helper()
	logs, _, err := f.store.ListReminderLogs(context.Background(), model.ReminderLogFilter{Limit: 100})
	require.NoError(t, err)
	return logs
}

// failingCreates fails the nth CreateReminderLog call.
type failingCreates struct {
	LogStore
	failAt int
	calls  int
}

func (s *failingCreates) CreateReminderLog(ctx context.Context, l *model.ReminderLog) error {
	s.calls++
	if s.calls == s.failAt {
		return errors.New("connection reset by peer")
	}
	return s.LogStore.CreateReminderLog(ctx, l)
}

// ctxAwareLogs refuses status writes on an ended context, like a real
// database driver would.
type ctxAwareLogs struct {
	LogStore
}

func (s ctxAwareLogs) MarkReminderLog(ctx context.Context, id int64, status, providerID, errDetail string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.LogStore.MarkReminderLog(ctx, id, status, providerID, errDetail)
}

// cancelOnSend accepts the message and then cancels the batch context, as
// happens when shutdown lands while the provider call is in flight.
type cancelOnSend struct {
	inner  mail.Transport
	cancel context.CancelFunc
}

func (t cancelOnSend) Send(ctx context.Context, msg mail.Message) (string, error) {
	id, err := t.inner.Send(ctx, msg)
	t.cancel()
	return id, err
}
