package repo

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-reminder/pkg/database/dbtest"
)

func newRepo(t *testing.T) *UserRepo {
	t.Helper()
	r := NewUserRepo(dbtest.Open(t))
	require.NoError(t, r.EnsureTable(context.Background()))
	return r
}

func TestUserRepoCreateAndGet(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	id, err := r.Create(ctx, &entity.User{Email: "a@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	assert.Positive(t, id)

	byID, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", byID.Email)
	assert.False(t, byID.CreatedAt.IsZero())

	byEmail, err := r.GetByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)
}

func TestUserRepoEmailUnique(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)

	_, err := r.Create(ctx, &entity.User{Email: "dup@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	_, err = r.Create(ctx, &entity.User{Email: "dup@example.com", PasswordHash: "h"})
	assert.Error(t, err)
}

func TestUserRepoMissing(t *testing.T) {
	r := newRepo(t)
	_, err := r.GetByID(context.Background(), 404)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEnsureTableIdempotent(t *testing.T) {
	r := newRepo(t)
	require.NoError(t, r.EnsureTable(context.Background()))
}
