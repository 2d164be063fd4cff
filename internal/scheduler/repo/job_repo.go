package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-reminder/pkg/database"
)

// Job is one armed timer. Token identifies the arming, so a row re-armed
// while an older firing is in flight is never removed by that firing.
type Job struct {
	ReminderID string
	Token      string
	RunAt      time.Time
	Attempts   int
}

// JobRepo persists pending timers in the reminder_jobs table.
type JobRepo struct {
	db *sqlx.DB
}

func NewJobRepo(db *sqlx.DB) *JobRepo { return &JobRepo{db: db} }

// EnsureTable creates the reminder_jobs table if it does not exist.
func (r *JobRepo) EnsureTable(ctx context.Context) error {
	return database.ExecAll(ctx, r.db, `
CREATE TABLE IF NOT EXISTS reminder_jobs (
  reminder_id TEXT PRIMARY KEY,
  token TEXT NOT NULL,
  run_at BIGINT NOT NULL,
  attempts INT NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_jobs_run_at ON reminder_jobs(run_at)`,
	)
}

// Upsert stores j, replacing any job for the same reminder.
func (r *JobRepo) Upsert(ctx context.Context, j Job) error {
	q := r.db.Rebind(`INSERT INTO reminder_jobs (reminder_id, token, run_at, attempts) VALUES (?, ?, ?, ?)
		ON CONFLICT (reminder_id) DO UPDATE SET token = excluded.token, run_at = excluded.run_at, attempts = excluded.attempts`)
	_, err := r.db.ExecContext(ctx, q, j.ReminderID, j.Token, j.RunAt.Unix(), j.Attempts)
	return err
}

// Delete removes the job for reminderID, if any.
func (r *JobRepo) Delete(ctx context.Context, reminderID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM reminder_jobs WHERE reminder_id = ?`), reminderID)
	return err
}

// DeleteToken removes the job only if it still carries token.
func (r *JobRepo) DeleteToken(ctx context.Context, reminderID, token string) error {
	q := r.db.Rebind(`DELETE FROM reminder_jobs WHERE reminder_id = ? AND token = ?`)
	_, err := r.db.ExecContext(ctx, q, reminderID, token)
	return err
}

// Reschedule moves a job that failed to run, keeping its token.
func (r *JobRepo) Reschedule(ctx context.Context, reminderID, token string, runAt time.Time, attempts int) error {
	q := r.db.Rebind(`UPDATE reminder_jobs SET run_at = ?, attempts = ? WHERE reminder_id = ? AND token = ?`)
	_, err := r.db.ExecContext(ctx, q, runAt.Unix(), attempts, reminderID, token)
	return err
}

// List returns every persisted job ordered by run time.
func (r *JobRepo) List(ctx context.Context) ([]Job, error) {
	var rows []struct {
		ReminderID string `db:"reminder_id"`
		Token      string `db:"token"`
		RunAt      int64  `db:"run_at"`
		Attempts   int    `db:"attempts"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT reminder_id, token, run_at, attempts FROM reminder_jobs ORDER BY run_at`); err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, Job{
			ReminderID: row.ReminderID,
			Token:      row.Token,
			RunAt:      time.Unix(row.RunAt, 0).UTC(),
			Attempts:   row.Attempts,
		})
	}
	return jobs, nil
}
