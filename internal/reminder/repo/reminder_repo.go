package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/reminder/entity"
	"github.com/ovaphlow/pitchfork/service-reminder/pkg/database"
)

// ReminderRepo provides data access for the reminders and reminder_firings
// tables. Times are stored as unix seconds.
type ReminderRepo struct {
	db *sqlx.DB
}

func NewReminderRepo(db *sqlx.DB) *ReminderRepo { return &ReminderRepo{db: db} }

type reminderRow struct {
	ID             string         `db:"id"`
	UserID         int64          `db:"user_id"`
	Title          string         `db:"title"`
	Body           string         `db:"body"`
	WhenTS         int64          `db:"when_ts"`
	CreatedAt      int64          `db:"created_at"`
	Status         string         `db:"status"`
	SnoozeUntil    sql.NullInt64  `db:"snooze_until"`
	Recurrence     sql.NullString `db:"recurrence"`
	RepeatInterval sql.NullInt64  `db:"repeat_interval"`
	Category       sql.NullString `db:"category"`
	Tags           sql.NullString `db:"tags"`
}

const reminderColumns = `id, user_id, title, body, when_ts, created_at, status, snooze_until, recurrence, repeat_interval, category, tags`

func (row reminderRow) toEntity() *entity.Reminder {
	r := &entity.Reminder{
		ID:        row.ID,
		UserID:    row.UserID,
		Title:     row.Title,
		Body:      row.Body,
		When:      time.Unix(row.WhenTS, 0).UTC(),
		CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		Status:    row.Status,
	}
	if row.SnoozeUntil.Valid {
		t := time.Unix(row.SnoozeUntil.Int64, 0).UTC()
		r.SnoozeUntil = &t
	}
	if row.Recurrence.Valid {
		r.Recurrence = &row.Recurrence.String
	}
	if row.RepeatInterval.Valid {
		r.RepeatInterval = &row.RepeatInterval.Int64
	}
	if row.Category.Valid {
		r.Category = &row.Category.String
	}
	if row.Tags.Valid {
		r.Tags = &row.Tags.String
	}
	return r
}

func fromEntity(r *entity.Reminder) reminderRow {
	row := reminderRow{
		ID:        r.ID,
		UserID:    r.UserID,
		Title:     r.Title,
		Body:      r.Body,
		WhenTS:    r.When.Unix(),
		CreatedAt: r.CreatedAt.Unix(),
		Status:    r.Status,
	}
	if r.SnoozeUntil != nil {
		row.SnoozeUntil = sql.NullInt64{Int64: r.SnoozeUntil.Unix(), Valid: true}
	}
	if r.Recurrence != nil {
		row.Recurrence = sql.NullString{String: *r.Recurrence, Valid: true}
	}
	if r.RepeatInterval != nil {
		row.RepeatInterval = sql.NullInt64{Int64: *r.RepeatInterval, Valid: true}
	}
	if r.Category != nil {
		row.Category = sql.NullString{String: *r.Category, Valid: true}
	}
	if r.Tags != nil {
		row.Tags = sql.NullString{String: *r.Tags, Valid: true}
	}
	return row
}

// EnsureTable creates the reminders and reminder_firings tables if they do
// not exist. The users table must exist first.
func (r *ReminderRepo) EnsureTable(ctx context.Context) error {
	firingID := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if database.IsPostgres(r.db) {
		firingID = "id BIGSERIAL PRIMARY KEY"
	}
	return database.ExecAll(ctx, r.db, `
CREATE TABLE IF NOT EXISTS reminders (
  id TEXT PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  title TEXT NOT NULL,
  body TEXT NOT NULL DEFAULT '',
  when_ts BIGINT NOT NULL,
  created_at BIGINT NOT NULL,
  status TEXT NOT NULL,
  snooze_until BIGINT,
  recurrence TEXT,
  repeat_interval BIGINT,
  category TEXT,
  tags TEXT
)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_user_id ON reminders(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_status ON reminders(status)`,
		`
CREATE TABLE IF NOT EXISTS reminder_firings (
  `+firingID+`,
  reminder_id TEXT NOT NULL,
  user_id BIGINT NOT NULL,
  title TEXT NOT NULL,
  body TEXT NOT NULL DEFAULT '',
  when_ts BIGINT NOT NULL,
  fired_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_firings_user_when ON reminder_firings(user_id, when_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_firings_reminder ON reminder_firings(reminder_id)`,
	)
}

// Get returns a reminder by id or sql.ErrNoRows.
func (r *ReminderRepo) Get(ctx context.Context, id string) (*entity.Reminder, error) {
	var row reminderRow
	q := r.db.Rebind(`SELECT ` + reminderColumns + ` FROM reminders WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

// Save inserts the reminder or updates every column of an existing row with
// the same id.
func (r *ReminderRepo) Save(ctx context.Context, rem *entity.Reminder) error {
	const q = `INSERT INTO reminders (` + reminderColumns + `)
		VALUES (:id, :user_id, :title, :body, :when_ts, :created_at, :status, :snooze_until, :recurrence, :repeat_interval, :category, :tags)
		ON CONFLICT (id) DO UPDATE SET
		  user_id = excluded.user_id,
		  title = excluded.title,
		  body = excluded.body,
		  when_ts = excluded.when_ts,
		  status = excluded.status,
		  snooze_until = excluded.snooze_until,
		  recurrence = excluded.recurrence,
		  repeat_interval = excluded.repeat_interval,
		  category = excluded.category,
		  tags = excluded.tags`
	_, err := r.db.NamedExecContext(ctx, q, fromEntity(rem))
	return err
}

// SetStatus updates the status field only. It returns sql.ErrNoRows when no
// row matched.
func (r *ReminderRepo) SetStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE reminders SET status = ? WHERE id = ?`), status, id)
	return affectedOne(res, err)
}

// Rearm moves a fired reminder to its next occurrence and back to
// scheduled. It returns sql.ErrNoRows when the reminder is gone or no longer
// fired.
func (r *ReminderRepo) Rearm(ctx context.Context, id string, when time.Time) error {
	q := r.db.Rebind(`UPDATE reminders SET when_ts = ?, status = ? WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, q, when.Unix(), entity.StatusScheduled, id, entity.StatusFired)
	return affectedOne(res, err)
}

// Snooze moves the target time to until, records snooze_until and puts the
// reminder back to scheduled.
func (r *ReminderRepo) Snooze(ctx context.Context, id string, until time.Time) error {
	q := r.db.Rebind(`UPDATE reminders SET snooze_until = ?, when_ts = ?, status = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, until.Unix(), until.Unix(), entity.StatusScheduled, id)
	return affectedOne(res, err)
}

// Delete removes the reminder and its firing log. The reminder row goes
// first so a concurrent MarkFired either fails or commits a firing this
// transaction then removes.
func (r *ReminderRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM reminders WHERE id = ?`), id)
	if err := affectedOne(res, err); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM reminder_firings WHERE reminder_id = ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

// ListByUser returns the user's reminders in insertion order. Reminder ids
// are snowflake ids of equal width, so ordering by id follows creation.
func (r *ReminderRepo) ListByUser(ctx context.Context, userID int64) ([]*entity.Reminder, error) {
	q := r.db.Rebind(`SELECT ` + reminderColumns + ` FROM reminders WHERE user_id = ? ORDER BY created_at, id`)
	return r.list(ctx, q, userID)
}

// ListByStatus returns every reminder with the given status.
func (r *ReminderRepo) ListByStatus(ctx context.Context, status string) ([]*entity.Reminder, error) {
	q := r.db.Rebind(`SELECT ` + reminderColumns + ` FROM reminders WHERE status = ? ORDER BY created_at, id`)
	return r.list(ctx, q, status)
}

func (r *ReminderRepo) list(ctx context.Context, q string, args ...any) ([]*entity.Reminder, error) {
	var rows []reminderRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]*entity.Reminder, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

// MarkFired sets the reminder to fired and appends f to the firing log in
// one transaction. It returns sql.ErrNoRows when the reminder was deleted or
// cancelled.
func (r *ReminderRepo) MarkFired(ctx context.Context, f *entity.Firing) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := tx.Rebind(`UPDATE reminders SET status = ? WHERE id = ? AND status <> ?`)
	res, err := tx.ExecContext(ctx, q, entity.StatusFired, f.ReminderID, entity.StatusCancelled)
	if err := affectedOne(res, err); err != nil {
		return err
	}
	q = tx.Rebind(`INSERT INTO reminder_firings (reminder_id, user_id, title, body, when_ts, fired_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, q, f.ReminderID, f.UserID, f.Title, f.Body, f.When.Unix(), f.FiredAt.Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

// ListFirings returns the user's firings with when > since (all when since
// is nil), oldest first.
func (r *ReminderRepo) ListFirings(ctx context.Context, userID int64, since *time.Time) ([]*entity.Firing, error) {
	var rows []struct {
		ID         int64  `db:"id"`
		ReminderID string `db:"reminder_id"`
		UserID     int64  `db:"user_id"`
		Title      string `db:"title"`
		Body       string `db:"body"`
		WhenTS     int64  `db:"when_ts"`
		FiredAt    int64  `db:"fired_at"`
	}
	q := `SELECT id, reminder_id, user_id, title, body, when_ts, fired_at FROM reminder_firings WHERE user_id = ?`
	args := []any{userID}
	if since != nil {
		q += ` AND when_ts > ?`
		args = append(args, since.Unix())
	}
	q += ` ORDER BY when_ts, id`
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	out := make([]*entity.Firing, 0, len(rows))
	for _, row := range rows {
		out = append(out, &entity.Firing{
			ID:         row.ID,
			ReminderID: row.ReminderID,
			UserID:     row.UserID,
			Title:      row.Title,
			Body:       row.Body,
			When:       time.Unix(row.WhenTS, 0).UTC(),
			FiredAt:    time.Unix(row.FiredAt, 0).UTC(),
		})
	}
	return out, nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
