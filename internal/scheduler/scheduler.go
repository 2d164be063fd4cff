package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/scheduler/repo"
	"github.com/ovaphlow/pitchfork/service-reminder/pkg/utilities"
)

// Handler is invoked once for every expired timer. A non-nil error keeps
// the timer and retries it later.
type Handler func(ctx context.Context, reminderID string) error

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNoHandler      = errors.New("scheduler handler is required")
)

type Config struct {
	// RetryDelay is the base delay before a failed firing runs again; the
	// n-th retry waits n*RetryDelay.
	RetryDelay  time.Duration
	MaxAttempts int
	FireTimeout time.Duration
}

// ConfigFromEnv reads SCHEDULER_* variables.
func ConfigFromEnv() Config {
	return Config{
		RetryDelay:  utilities.GetEnvAsDuration("SCHEDULER_RETRY_DELAY", 30*time.Second),
		MaxAttempts: utilities.GetEnvAsInt("SCHEDULER_MAX_ATTEMPTS", 5),
		FireTimeout: utilities.GetEnvAsDuration("SCHEDULER_FIRE_TIMEOUT", 30*time.Second),
	}
}

// Scheduler keeps one single-shot timer per reminder id. Timers are
// persisted through repo.JobRepo and reloaded by Start, and they expire on a
// single background loop that calls the handler.
type Scheduler struct {
	jobs  *repo.JobRepo
	clock clockwork.Clock
	log   *zap.SugaredLogger
	cfg   Config

	// armMu orders "persist then update memory" for Schedule and Cancel.
	armMu sync.Mutex

	mu       sync.Mutex
	queue    timerQueue
	byID     map[string]*entry
	inflight map[string]string // reminder id -> token of the firing in progress
	restored bool
	handler  Handler
	cancel   context.CancelFunc
	done     chan struct{}

	wake chan struct{}
}

func New(jobs *repo.JobRepo, clock clockwork.Clock, logger *zap.SugaredLogger, cfg Config) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Scheduler{
		jobs:     jobs,
		clock:    clock,
		log:      logger,
		cfg:      cfg,
		byID:     map[string]*entry{},
		inflight: map[string]string{},
		wake:     make(chan struct{}, 1),
	}
}

// Restore loads persisted timers into memory without running them. Start
// calls it when it has not run yet; calling it first lets the caller inspect
// Pending before any timer fires.
func (s *Scheduler) Restore(ctx context.Context) error {
	s.mu.Lock()
	restored := s.restored
	s.mu.Unlock()
	if restored {
		return nil
	}

	persisted, err := s.jobs.List(ctx)
	if err != nil {
		return fmt.Errorf("load timers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.restored {
		return nil
	}
	for _, j := range persisted {
		if _, ok := s.byID[j.ReminderID]; ok {
			continue
		}
		e := &entry{id: j.ReminderID, token: j.Token, at: j.RunAt, attempts: j.Attempts}
		heap.Push(&s.queue, e)
		s.byID[e.id] = e
	}
	s.restored = true
	s.log.Infow("timers restored", "count", len(persisted))
	return nil
}

// Start runs the expiry loop until Stop is called or ctx is done. Timers
// whose time already passed fire immediately.
func (s *Scheduler) Start(ctx context.Context, h Handler) error {
	if h == nil {
		return ErrNoHandler
	}
	s.mu.Lock()
	started := s.done != nil
	s.mu.Unlock()
	if started {
		return ErrAlreadyStarted
	}
	if err := s.Restore(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.handler = h
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)

	s.log.Infow("scheduler started", "pending", len(s.queue))
	return nil
}

// Stop ends the loop and waits for an in-flight firing to return. Pending
// timers stay persisted for the next Start.
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
	s.mu.Lock()
	s.done = nil
	s.mu.Unlock()
	s.log.Infow("scheduler stopped")
}

// Schedule arms the timer for reminderID at at, replacing any timer already
// pending for it.
func (s *Scheduler) Schedule(ctx context.Context, reminderID string, at time.Time) error {
	if reminderID == "" {
		return errors.New("reminder id is required")
	}
	token := utilities.NewKSUID()

	s.armMu.Lock()
	defer s.armMu.Unlock()

	if err := s.jobs.Upsert(ctx, repo.Job{ReminderID: reminderID, Token: token, RunAt: at}); err != nil {
		return fmt.Errorf("persist timer %s: %w", reminderID, err)
	}

	s.mu.Lock()
	if old, ok := s.byID[reminderID]; ok {
		heap.Remove(&s.queue, old.index)
	}
	delete(s.inflight, reminderID)
	e := &entry{id: reminderID, token: token, at: at}
	heap.Push(&s.queue, e)
	s.byID[reminderID] = e
	s.mu.Unlock()

	s.signal()
	s.log.Debugw("timer armed", "reminder_id", reminderID, "at", at)
	return nil
}

// Cancel removes the pending timer for reminderID. It is a no-op when none
// exists. A firing that already started is not interrupted.
func (s *Scheduler) Cancel(ctx context.Context, reminderID string) error {
	s.armMu.Lock()
	defer s.armMu.Unlock()

	if err := s.jobs.Delete(ctx, reminderID); err != nil {
		return fmt.Errorf("delete timer %s: %w", reminderID, err)
	}

	s.mu.Lock()
	old, ok := s.byID[reminderID]
	if ok {
		heap.Remove(&s.queue, old.index)
		delete(s.byID, reminderID)
	}
	delete(s.inflight, reminderID)
	s.mu.Unlock()

	if ok {
		s.signal()
		s.log.Debugw("timer cancelled", "reminder_id", reminderID)
	}
	return nil
}

// Pending returns the target time of the timer armed for reminderID.
func (s *Scheduler) Pending(reminderID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[reminderID]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Len is the number of pending timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		s.mu.Lock()
		var next time.Time
		has := len(s.queue) > 0
		if has {
			next = s.queue[0].at
		}
		s.mu.Unlock()

		var timer clockwork.Timer
		var fireC <-chan time.Time
		if has {
			d := next.Sub(s.clock.Now())
			if d <= 0 {
				s.fireNext(ctx)
				if ctx.Err() != nil {
					return
				}
				continue
			}
			timer = s.clock.NewTimer(d)
			fireC = timer.Chan()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fireC:
		}
	}
}

// fireNext pops the earliest timer if it is due and runs the handler for it.
func (s *Scheduler) fireNext(ctx context.Context) {
	s.mu.Lock()
	if len(s.queue) == 0 || s.queue[0].at.After(s.clock.Now()) {
		s.mu.Unlock()
		return
	}
	e := heap.Pop(&s.queue).(*entry)
	delete(s.byID, e.id)
	s.inflight[e.id] = e.token
	h := s.handler
	s.mu.Unlock()

	err := s.invoke(ctx, h, e.id)
	switch {
	case err == nil:
		s.finish(ctx, e)
	case ctx.Err() != nil:
		// Shutting down: the persisted job runs again after the next Start.
		s.mu.Lock()
		if s.inflight[e.id] == e.token {
			delete(s.inflight, e.id)
		}
		s.mu.Unlock()
		s.log.Warnw("firing interrupted by shutdown", "reminder_id", e.id, "err", err)
	default:
		s.retry(ctx, e, err)
	}
}

func (s *Scheduler) invoke(ctx context.Context, h Handler, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if s.cfg.FireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FireTimeout)
		defer cancel()
	}
	return h(ctx, id)
}

func (s *Scheduler) finish(ctx context.Context, e *entry) {
	s.mu.Lock()
	if s.inflight[e.id] == e.token {
		delete(s.inflight, e.id)
	}
	s.mu.Unlock()

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.jobs.DeleteToken(dctx, e.id, e.token); err != nil {
		s.log.Warnw("remove fired timer failed; it may fire again after restart", "reminder_id", e.id, "err", err)
	}
}

func (s *Scheduler) retry(ctx context.Context, e *entry, cause error) {
	attempts := e.attempts + 1

	s.mu.Lock()
	if s.inflight[e.id] != e.token {
		// Re-armed or cancelled while the handler ran.
		s.mu.Unlock()
		s.log.Warnw("firing failed after timer was replaced", "reminder_id", e.id, "err", cause)
		return
	}
	delete(s.inflight, e.id)
	if attempts >= s.cfg.MaxAttempts {
		s.mu.Unlock()
		s.log.Errorw("firing failed; giving up", "reminder_id", e.id, "attempts", attempts, "err", cause)
		if err := s.jobs.DeleteToken(ctx, e.id, e.token); err != nil {
			s.log.Warnw("remove abandoned timer failed", "reminder_id", e.id, "err", err)
		}
		return
	}
	e.attempts = attempts
	e.at = s.clock.Now().Add(time.Duration(attempts) * s.cfg.RetryDelay)
	heap.Push(&s.queue, e)
	s.byID[e.id] = e
	s.mu.Unlock()

	s.log.Errorw("firing failed; will retry", "reminder_id", e.id, "attempts", attempts, "retry_at", e.at, "err", cause)
	if err := s.jobs.Reschedule(ctx, e.id, e.token, e.at, attempts); err != nil {
		s.log.Warnw("persist retry failed", "reminder_id", e.id, "err", err)
	}
}
