package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIssueAndParse(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewTokenService(Config{Secret: "k", TTL: time.Hour}, clock)

	tok, ttl, err := s.Issue(7)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	uid, err := s.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)

	clock.Advance(2 * time.Hour)
	_, err = s.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRejectsForeignKey(t *testing.T) {
	a := NewTokenService(Config{Secret: "a"}, nil)
	b := NewTokenService(Config{Secret: "b"}, nil)
	tok, _, err := a.Issue(1)
	require.NoError(t, err)
	_, err = b.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type stubUsers map[int64]bool

func (s stubUsers) Exists(_ context.Context, id int64) (bool, error) { return s[id], nil }

func TestRequireUser(t *testing.T) {
	tokens := NewTokenService(Config{Secret: "k"}, nil)
	mw := RequireUser(tokens, stubUsers{1: true}, zap.NewNop().Sugar())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserIDFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, int64(1), uid)
		w.WriteHeader(http.StatusNoContent)
	}))

	good, _, _ := tokens.Issue(1)
	ghost, _, _ := tokens.Issue(2)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"unknown user", "Bearer " + ghost, http.StatusUnauthorized},
		{"ok", "Bearer " + good, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestIPLimiter(t *testing.T) {
	l := NewIPLimiter(2)
	assert.True(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"))

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "1.1.1.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
