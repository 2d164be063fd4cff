package entity

import "time"

// Status values for reminders.
const (
	StatusScheduled = "scheduled"
	StatusFired     = "fired"
	StatusCancelled = "cancelled"
)

// Reminder represents a row in the `reminders` table.
type Reminder struct {
	ID             string     `json:"id"`
	UserID         int64      `json:"user_id"`
	Title          string     `json:"title"`
	Body           string     `json:"body"`
	When           time.Time  `json:"when"`
	CreatedAt      time.Time  `json:"created_at"`
	Status         string     `json:"status"`
	SnoozeUntil    *time.Time `json:"snooze_until,omitempty"`
	Recurrence     *string    `json:"recurrence,omitempty"`
	RepeatInterval *int64     `json:"repeat_interval,omitempty"` // seconds
	Category       *string    `json:"category,omitempty"`
	Tags           *string    `json:"tags,omitempty"`
}

// Recurring reports whether the reminder re-arms itself after firing.
func (r *Reminder) Recurring() bool {
	return r.RepeatInterval != nil && *r.RepeatInterval > 0
}

// NextOccurrenceAfter returns the first time When + k*RepeatInterval (k >= 1)
// that is after now. Occurrences that passed while nothing fired are skipped.
func (r *Reminder) NextOccurrenceAfter(now time.Time) time.Time {
	step := *r.RepeatInterval
	next := r.When.Unix() + step
	if cur := now.Unix(); next <= cur {
		next += ((cur-next)/step + 1) * step
	}
	return time.Unix(next, 0).UTC()
}

// Firing records one delivered occurrence of a reminder, so a recurring
// reminder that was already re-armed still shows its original fire time.
type Firing struct {
	ID         int64     `json:"-"`
	ReminderID string    `json:"id"`
	UserID     int64     `json:"-"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	When       time.Time `json:"when"`
	FiredAt    time.Time `json:"fired_at"`
}
