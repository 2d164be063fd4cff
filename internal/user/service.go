package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-reminder/internal/user/repo"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (string, error)
	Verify(hash, pw string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(pw string) (string, error) {
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// UserService orchestrates registration and password authentication.
type UserService struct {
	repo   *userrepo.UserRepo
	hasher PasswordHasher
}

func NewUserService(db *sqlx.DB, r *userrepo.UserRepo, hasher PasswordHasher) *UserService {
	if r == nil {
		r = userrepo.NewUserRepo(db)
	}
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	return &UserService{repo: r, hasher: hasher}
}

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrUserExists     = errors.New("user already exists")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrInvalidInput   = errors.New("email and password required")
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user with a hashed password and returns its id.
func (s *UserService) Register(ctx context.Context, email, password string) (int64, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") || password == "" {
		return 0, ErrInvalidInput
	}
	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return 0, ErrUserExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return 0, err
	}
	return s.repo.Create(ctx, &entity.User{Email: email, PasswordHash: hash})
}

// Authenticate verifies email and password and returns the matching user.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*entity.User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrBadCredentials
	}
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBadCredentials
		} // avoid user enumeration
		return nil, err
	}
	if !s.hasher.Verify(u.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	return u, nil
}

// GetByID returns the user or ErrUserNotFound.
func (s *UserService) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// Exists reports whether a user with id is present.
func (s *UserService) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
