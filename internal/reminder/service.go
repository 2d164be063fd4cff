package reminder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/reminder/entity"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/reminder/repo"
	"github.com/ovaphlow/pitchfork/service-reminder/pkg/utilities"
)

var (
	ErrNotFound     = errors.New("reminder not found")
	ErrForbidden    = errors.New("reminder belongs to another user")
	ErrInvalidInput = errors.New("invalid reminder input")
	ErrInvalidState = errors.New("reminder state does not allow this operation")
)

// Upper bounds for user-supplied durations, ten years each.
const (
	MaxRepeatIntervalSeconds = 10 * 365 * 24 * 3600
	MaxSnoozeMinutes         = 10 * 365 * 24 * 60
)

// Timers is the part of the scheduler the service drives.
type Timers interface {
	Schedule(ctx context.Context, reminderID string, at time.Time) error
	Cancel(ctx context.Context, reminderID string) error
	Pending(reminderID string) (time.Time, bool)
}

// CreateInput carries the user-supplied fields of a new reminder.
type CreateInput struct {
	Title string
	Body  string
	When  time.Time
	// Recurrence is a label; it only drives re-arming when it describes a
	// fixed interval and RepeatIntervalSeconds is absent.
	Recurrence            *string
	RepeatIntervalSeconds *int64
	Category              *string
	Tags                  *string
}

// Service implements reminder operations on behalf of an authenticated user.
type Service struct {
	repo   *repo.ReminderRepo
	timers Timers
	clock  clockwork.Clock
	log    *zap.SugaredLogger
}

func NewService(r *repo.ReminderRepo, timers Timers, clock clockwork.Clock, logger *zap.SugaredLogger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{repo: r, timers: timers, clock: clock, log: logger}
}

// Create stores a new scheduled reminder and arms its timer.
func (s *Service) Create(ctx context.Context, userID int64, in CreateInput) (*entity.Reminder, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.When.IsZero() {
		return nil, fmt.Errorf("%w: when is required", ErrInvalidInput)
	}
	if in.RepeatIntervalSeconds != nil {
		if iv := *in.RepeatIntervalSeconds; iv <= 0 || iv > MaxRepeatIntervalSeconds {
			return nil, fmt.Errorf("%w: repeat_interval_seconds must be between 1 and %d", ErrInvalidInput, MaxRepeatIntervalSeconds)
		}
	}

	rem := &entity.Reminder{
		ID:             utilities.NewSnowflakeID(),
		UserID:         userID,
		Title:          title,
		Body:           in.Body,
		When:           in.When.UTC().Truncate(time.Second),
		CreatedAt:      s.clock.Now().UTC().Truncate(time.Second),
		Status:         entity.StatusScheduled,
		Recurrence:     in.Recurrence,
		RepeatInterval: in.RepeatIntervalSeconds,
		Category:       in.Category,
		Tags:           in.Tags,
	}
	if rem.RepeatInterval == nil && rem.Recurrence != nil {
		if iv, ok := IntervalForLabel(*rem.Recurrence); ok {
			rem.RepeatInterval = &iv
		}
	}

	if err := s.repo.Save(ctx, rem); err != nil {
		return nil, fmt.Errorf("save reminder: %w", err)
	}
	if err := s.timers.Schedule(ctx, rem.ID, rem.When); err != nil {
		if derr := s.repo.Delete(ctx, rem.ID); derr != nil {
			s.log.Errorw("rollback of unscheduled reminder failed", "reminder_id", rem.ID, "err", derr)
		}
		return nil, fmt.Errorf("schedule reminder: %w", err)
	}
	s.log.Infow("reminder created", "reminder_id", rem.ID, "user_id", userID, "when", rem.When, "repeat_interval", rem.RepeatInterval)
	return rem, nil
}

// Get returns one of the user's reminders.
func (s *Service) Get(ctx context.Context, userID int64, id string) (*entity.Reminder, error) {
	return s.owned(ctx, userID, id)
}

// List returns the user's reminders in creation order.
func (s *Service) List(ctx context.Context, userID int64) ([]*entity.Reminder, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Snooze moves the reminder to now+minutes and re-arms it. Cancelled
// reminders cannot be snoozed.
func (s *Service) Snooze(ctx context.Context, userID int64, id string, minutes int) (time.Time, error) {
	if minutes <= 0 || minutes > MaxSnoozeMinutes {
		return time.Time{}, fmt.Errorf("%w: minutes must be between 1 and %d", ErrInvalidInput, MaxSnoozeMinutes)
	}
	rem, err := s.owned(ctx, userID, id)
	if err != nil {
		return time.Time{}, err
	}
	if rem.Status == entity.StatusCancelled {
		return time.Time{}, fmt.Errorf("%w: reminder is cancelled", ErrInvalidState)
	}

	until := s.clock.Now().UTC().Add(time.Duration(minutes) * time.Minute).Truncate(time.Second)
	if err := s.repo.Snooze(ctx, id, until); err != nil {
		return time.Time{}, s.storeErr(err)
	}
	if err := s.timers.Schedule(ctx, id, until); err != nil {
		return time.Time{}, fmt.Errorf("schedule reminder: %w", err)
	}
	s.log.Infow("reminder snoozed", "reminder_id", id, "user_id", userID, "until", until)
	return until, nil
}

// Cancel stops a scheduled reminder from firing. Cancelling twice is a
// no-op; a fired reminder cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, userID int64, id string) error {
	rem, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	switch rem.Status {
	case entity.StatusCancelled:
		return nil
	case entity.StatusFired:
		return fmt.Errorf("%w: reminder already fired", ErrInvalidState)
	}
	if err := s.repo.SetStatus(ctx, id, entity.StatusCancelled); err != nil {
		return s.storeErr(err)
	}
	if err := s.timers.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancel timer: %w", err)
	}
	s.log.Infow("reminder cancelled", "reminder_id", id, "user_id", userID)
	return nil
}

// Delete removes the reminder, its firing log and its timer.
func (s *Service) Delete(ctx context.Context, userID int64, id string) error {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.storeErr(err)
	}
	if err := s.timers.Cancel(ctx, id); err != nil {
		return fmt.Errorf("cancel timer: %w", err)
	}
	s.log.Infow("reminder deleted", "reminder_id", id, "user_id", userID)
	return nil
}

// PollFired returns the user's firings scheduled after since (all when since
// is nil), oldest first.
func (s *Service) PollFired(ctx context.Context, userID int64, since *time.Time) ([]*entity.Firing, error) {
	return s.repo.ListFirings(ctx, userID, since)
}

// Reconcile arms a timer for every scheduled reminder that has none and
// returns how many were armed.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	scheduled, err := s.repo.ListByStatus(ctx, entity.StatusScheduled)
	if err != nil {
		return 0, fmt.Errorf("list scheduled reminders: %w", err)
	}
	armed := 0
	for _, rem := range scheduled {
		if _, ok := s.timers.Pending(rem.ID); ok {
			continue
		}
		if err := s.timers.Schedule(ctx, rem.ID, rem.When); err != nil {
			s.log.Errorw("reconcile: arming reminder failed", "reminder_id", rem.ID, "err", err)
			continue
		}
		armed++
	}
	if armed > 0 {
		s.log.Warnw("reconcile: armed reminders that had no timer", "count", armed)
	}
	return armed, nil
}

func (s *Service) owned(ctx context.Context, userID int64, id string) (*entity.Reminder, error) {
	rem, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, s.storeErr(err)
	}
	if rem.UserID != userID {
		return nil, ErrForbidden
	}
	return rem, nil
}

func (s *Service) storeErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
