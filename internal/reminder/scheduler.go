package reminder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"welfare/internal/metrics"
	"welfare/internal/model"
)

type KinSource interface {
	ListNextOfKin(ctx context.Context, memberID int64) ([]model.NextOfKin, error)
}

type RunSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Due       int           `json:"due"`
	Attempted int           `json:"attempted"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	Gaps      int           `json:"gaps"`
}

type Scheduler struct {
	evaluator  *Evaluator
	resolver   *Resolver
	dispatcher *Dispatcher
	kin        KinSource
	audit      Auditor
	locker     Locker
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(ev *Evaluator, res *Resolver, disp *Dispatcher, kin KinSource, audit Auditor, locker Locker, interval time.Duration, logger *slog.Logger) *Scheduler {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Scheduler{
		evaluator:  ev,
		resolver:   res,
		dispatcher: disp,
		kin:        kin,
		audit:      audit,
		locker:     locker,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// RunOnce performs one complete batch. Every dispatch outcome is written to
// the reminder log before it returns.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (RunSummary, error) {
	sum := RunSummary{StartedAt: now}

	release, err := s.locker.TryLock(ctx)
	if err != nil {
		if errors.Is(err, ErrBatchRunning) {
			metrics.ReminderBatchRuns.WithLabelValues("skipped").Inc()
		}
		return sum, err
	}
	defer release()

	start := time.Now()
	defer func() {
		sum.Duration = time.Since(start)
		metrics.ReminderBatchDuration.Observe(sum.Duration.Seconds())
	}()

	due, err := s.evaluator.Due(ctx, now)
	if err != nil {
		metrics.ReminderBatchRuns.WithLabelValues("error").Inc()
		return sum, err
	}

	type job struct {
		item       Due
		resolution Resolution
		pending    []Recipient
	}
	kinCache := make(map[int64][]model.NextOfKin)
	var jobs []job
	for _, item := range due {
		kin, ok := kinCache[item.Member.ID]
		if !ok {
			kin, err = s.kin.ListNextOfKin(ctx, item.Member.ID)
			if err != nil {
				metrics.ReminderBatchRuns.WithLabelValues("error").Inc()
				return sum, errors.Join(ErrTransient, err)
			}
			kinCache[item.Member.ID] = kin
		}

		resolved := s.resolver.Resolve(ctx, item.Member, kin, item.Date.Recipients)
		pending := item.Pending(resolved.Recipients)
		// Every resolvable recipient already has an entry for this occurrence.
		if len(pending) == 0 && len(item.Logged) > 0 {
			continue
		}
		jobs = append(jobs, job{item: item, resolution: resolved, pending: pending})
	}
	sum.Due = len(jobs)
	metrics.RemindersDue.Set(float64(len(jobs)))

	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			metrics.ReminderBatchRuns.WithLabelValues("error").Inc()
			return sum, err
		}

		sum.Gaps += len(j.resolution.Gaps)
		if len(j.pending) == 0 {
			s.audit.Append(ctx, model.ActorSystem, EventReminderGap, map[string]any{
				"special_date": j.item.Date.ID,
				"member":       j.item.Member.MembershipNumber,
				"occurrence":   j.item.Occurrence.Format("2006-01-02"),
				"gaps":         j.resolution.Gaps,
			}, "")
			continue
		}

		res, err := s.dispatcher.Dispatch(ctx, j.item, j.pending)
		sum.Attempted += len(res.Attempts)
		sum.Sent += res.Sent
		sum.Failed += res.Failed
		if err != nil {
			metrics.ReminderBatchRuns.WithLabelValues("error").Inc()
			return sum, err
		}
	}

	metrics.ReminderBatchRuns.WithLabelValues("ok").Inc()
	s.logger.InfoContext(ctx, "reminder batch finished",
		"due", sum.Due, "attempted", sum.Attempted, "sent", sum.Sent,
		"failed", sum.Failed, "gaps", sum.Gaps)
	return sum, nil
}

// Retry re-sends one logged attempt under the batch lock, so it never races
// a running batch or a second retry of the same entry.
func (s *Scheduler) Retry(ctx context.Context, logID int64) (Attempt, error) {
	release, err := s.locker.TryLock(ctx)
	if err != nil {
		return Attempt{}, err
	}
	defer release()
	return s.dispatcher.Retry(ctx, logID)
}

// Start runs a batch immediately and then once per interval until Stop or
// ctx cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	s.logger.Info("reminder scheduler started", "interval", s.interval)
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx, s.now()); err != nil {
		switch {
		case errors.Is(err, ErrBatchRunning):
			s.logger.InfoContext(ctx, "reminder batch skipped, previous run still active")
		case errors.Is(err, context.Canceled):
		default:
			s.logger.ErrorContext(ctx, "reminder batch failed", "error", err)
		}
	}
}

// Stop cancels the loop and waits for an in-flight batch to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
