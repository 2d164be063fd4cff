package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-reminder/pkg/database"
)

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

type userRow struct {
	ID           int64  `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    int64  `db:"created_at"`
}

func (row userRow) toEntity() *entity.User {
	return &entity.User{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		CreatedAt:    time.Unix(row.CreatedAt, 0).UTC(),
	}
}

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if database.IsPostgres(r.db) {
		idCol = "id BIGSERIAL PRIMARY KEY"
	}
	return database.ExecAll(ctx, r.db, `
CREATE TABLE IF NOT EXISTS users (
  `+idCol+`,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  created_at BIGINT NOT NULL
)`)
}

// Create inserts a new user row. Returns new ID.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	q := r.db.Rebind(`INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?) RETURNING id`)
	if err := r.db.GetContext(ctx, &u.ID, q, u.Email, u.PasswordHash, u.CreatedAt.Unix()); err != nil {
		return 0, err
	}
	return u.ID, nil
}

// GetByEmail returns a user matched by email or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*entity.User, error) {
	var row userRow
	q := r.db.Rebind(`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`)
	if err := r.db.GetContext(ctx, &row, q, email); err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

// GetByID fetches a full user row or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var row userRow
	q := r.db.Rebind(`SELECT id, email, password_hash, created_at FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}
