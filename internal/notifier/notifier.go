// Package notifier runs when a reminder's timer expires: it records the
// firing, emails the owner, relays an event and re-arms recurring reminders.
package notifier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/mailer"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/relay"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/reminder/entity"
	userentity "github.com/ovaphlow/pitchfork/service-reminder/internal/user/entity"
)

type ReminderStore interface {
	Get(ctx context.Context, id string) (*entity.Reminder, error)
	MarkFired(ctx context.Context, f *entity.Firing) error
	Rearm(ctx context.Context, id string, when time.Time) error
}

type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*userentity.User, error)
}

type EventPublisher interface {
	Publish(e relay.Event)
}

// Rearmer arms the next occurrence of a recurring reminder.
type Rearmer interface {
	Schedule(ctx context.Context, reminderID string, at time.Time) error
}

type Notifier struct {
	reminders ReminderStore
	users     UserLookup
	mail      mailer.Mailer
	events    EventPublisher
	timers    Rearmer
	clock     clockwork.Clock
	log       *zap.SugaredLogger
}

// New wires a Notifier. mail and events may be nil.
func New(reminders ReminderStore, users UserLookup, mail mailer.Mailer, events EventPublisher, timers Rearmer, clock clockwork.Clock, logger *zap.SugaredLogger) *Notifier {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Notifier{
		reminders: reminders,
		users:     users,
		mail:      mail,
		events:    events,
		timers:    timers,
		clock:     clock,
		log:       logger,
	}
}

// Fire handles one expired timer. Errors are returned only for store
// failures before the firing is recorded, so the caller can retry.
func (n *Notifier) Fire(ctx context.Context, reminderID string) error {
	rem, err := n.reminders.Get(ctx, reminderID)
	if errors.Is(err, sql.ErrNoRows) {
		n.log.Debugw("fired reminder no longer exists", "reminder_id", reminderID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reminder %s: %w", reminderID, err)
	}

	err = n.reminders.MarkFired(ctx, &entity.Firing{
		ReminderID: rem.ID,
		UserID:     rem.UserID,
		Title:      rem.Title,
		Body:       rem.Body,
		When:       rem.When,
		FiredAt:    n.clock.Now(),
	})
	if errors.Is(err, sql.ErrNoRows) {
		n.log.Debugw("reminder cancelled or deleted before firing", "reminder_id", rem.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark reminder %s fired: %w", rem.ID, err)
	}
	n.log.Infow("reminder fired", "reminder_id", rem.ID, "user_id", rem.UserID, "when", rem.When)

	n.deliver(ctx, rem)

	if n.events != nil {
		n.events.Publish(relay.NewFiredEvent(rem.ID, rem.UserID, rem.Title, rem.When))
	}

	if rem.Recurring() {
		n.rearm(ctx, rem)
	}
	return nil
}

func (n *Notifier) deliver(ctx context.Context, rem *entity.Reminder) {
	u, err := n.users.GetByID(ctx, rem.UserID)
	if err != nil {
		n.log.Warnw("reminder owner lookup failed; skipping email", "reminder_id", rem.ID, "user_id", rem.UserID, "err", err)
		return
	}
	if n.mail == nil {
		n.log.Debugw("mail not configured; skipping email", "reminder_id", rem.ID)
		return
	}
	if err := n.mail.Send(ctx, u.Email, rem.Title, MessageBody(rem)); err != nil {
		n.log.Warnw("reminder email delivery failed", "reminder_id", rem.ID, "to", u.Email, "err", err)
		return
	}
	n.log.Debugw("reminder email sent", "reminder_id", rem.ID, "to", u.Email)
}

// MessageBody is the reminder body followed by its scheduled time.
func MessageBody(rem *entity.Reminder) string {
	return fmt.Sprintf("%s\n\nScheduled for: %s", rem.Body, rem.When.UTC().Format(time.RFC3339))
}

func (n *Notifier) rearm(ctx context.Context, rem *entity.Reminder) {
	next := rem.NextOccurrenceAfter(n.clock.Now())
	err := n.reminders.Rearm(ctx, rem.ID, next)
	if errors.Is(err, sql.ErrNoRows) {
		n.log.Debugw("recurring reminder changed while firing; not re-armed", "reminder_id", rem.ID)
		return
	}
	if err != nil {
		n.log.Errorw("recurring reminder re-arm failed", "reminder_id", rem.ID, "next", next, "err", err)
		return
	}
	if n.timers == nil {
		return
	}
	if err := n.timers.Schedule(ctx, rem.ID, next); err != nil {
		n.log.Errorw("recurring reminder re-arm failed", "reminder_id", rem.ID, "next", next, "err", err)
		return
	}
	n.log.Infow("recurring reminder re-armed", "reminder_id", rem.ID, "next", next)
}
