package router

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-reminder/internal/auth"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/reminder"
	reminderrepo "github.com/ovaphlow/pitchfork/service-reminder/internal/reminder/repo"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/scheduler"
	schedrepo "github.com/ovaphlow/pitchfork/service-reminder/internal/scheduler/repo"
	"github.com/ovaphlow/pitchfork/service-reminder/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-reminder/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-reminder/pkg/database/dbtest"
)

type api struct {
	t     *testing.T
	srv   *httptest.Server
	sched *scheduler.Scheduler
}

func newAPI(t *testing.T) *api {
	t.Helper()
	ctx := context.Background()
	log := zap.NewNop().Sugar()
	db := dbtest.Open(t)

	users := userrepo.NewUserRepo(db)
	require.NoError(t, users.EnsureTable(ctx))
	reminders := reminderrepo.NewReminderRepo(db)
	require.NoError(t, reminders.EnsureTable(ctx))
	jobs := schedrepo.NewJobRepo(db)
	require.NoError(t, jobs.EnsureTable(ctx))

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	sched := scheduler.New(jobs, clock, log, scheduler.Config{})
	userSvc := user.NewUserService(db, users, user.BcryptHasher{Cost: bcrypt.MinCost})
	tokens := auth.NewTokenService(auth.Config{Secret: "test-secret", TTL: time.Hour}, nil)

	h := RegisterRoutes(log, Deps{
		Users:       user.NewHandler(userSvc, tokens, log),
		Reminders:   reminder.NewHandler(reminder.NewService(reminders, sched, clock, log), log),
		RequireUser: auth.RequireUser(tokens, userSvc, log),
		AuthLimiter: auth.NewIPLimiter(1000),
		Timers:      sched,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, sched: sched}
}

func (a *api) do(method, path, token, body string) (int, map[string]any) {
	a.t.Helper()
	code, raw := a.raw(method, path, token, body)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(a.t, json.Unmarshal(raw, &out))
	}
	return code, out
}

func (a *api) raw(method, path, token, body string) (int, []byte) {
	a.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+Prefix+path, rd)
	require.NoError(a.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	return resp.StatusCode, raw
}

func (a *api) signup(email string) string {
	a.t.Helper()
	creds := `{"email":"` + email + `","password":"hunter22"}`
	code, _ := a.do(http.MethodPost, "/auth/register", "", creds)
	require.Equal(a.t, http.StatusCreated, code)
	code, body := a.do(http.MethodPost, "/auth/login", "", creds)
	require.Equal(a.t, http.StatusOK, code)
	assert.Equal(a.t, "bearer", body["token_type"])
	return body["access_token"].(string)
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["pending_timers"])
}

func TestSecurityHeaders(t *testing.T) {
	a := newAPI(t)
	resp, err := a.srv.Client().Get(a.srv.URL + Prefix + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestRemindersRequireToken(t *testing.T) {
	a := newAPI(t)
	code, _ := a.do(http.MethodGet, "/reminders", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = a.do(http.MethodGet, "/reminders", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRegisterDuplicate(t *testing.T) {
	a := newAPI(t)
	a.signup("alice@example.com")
	code, body := a.do(http.MethodPost, "/auth/register", "", `{"email":"ALICE@example.com","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "user already exists", body["error"])
}

func TestReminderLifecycle(t *testing.T) {
	a := newAPI(t)
	alice := a.signup("alice@example.com")

	code, body := a.do(http.MethodPost, "/reminders", alice, `{"title":"Standup","body":"Daily sync","when":"2025-03-10T09:01:00","recurrence":"daily"}`)
	require.Equal(t, http.StatusCreated, code)
	id := body["id"].(string)
	assert.Equal(t, float64(86400), body["repeat_interval"])
	assert.Equal(t, 1, a.sched.Len())

	code, raw := a.raw(http.MethodGet, "/reminders", alice, "")
	require.Equal(t, http.StatusOK, code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])
	assert.Equal(t, "scheduled", list[0]["status"])
	assert.Equal(t, float64(time.Date(2025, 3, 10, 9, 1, 0, 0, time.UTC).Unix()), list[0]["when"])

	code, body = a.do(http.MethodPost, "/reminders/"+id+"/snooze?minutes=15", alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2025-03-10T09:15:00Z", body["snoozed_until"])
	at, ok := a.sched.Pending(id)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 15, 0, 0, time.UTC), at)

	code, body = a.do(http.MethodPost, "/reminders/"+id+"/cancel", alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, 0, a.sched.Len())

	code, _ = a.do(http.MethodPost, "/reminders/"+id+"/snooze", alice, "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = a.do(http.MethodDelete, "/reminders/"+id, alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "deleted", body["status"])

	code, _ = a.do(http.MethodGet, "/reminders/"+id, alice, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = a.do(http.MethodGet, "/notifications/poll?since=0", alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["notifications"])
}

func TestCrossUserAccessIsForbidden(t *testing.T) {
	a := newAPI(t)
	alice := a.signup("alice@example.com")
	bob := a.signup("bob@example.com")

	code, body := a.do(http.MethodPost, "/reminders", bob, `{"title":"bob's","when":"2025-03-10T10:00:00Z"}`)
	require.Equal(t, http.StatusCreated, code)
	id := body["id"].(string)

	code, _ = a.do(http.MethodPost, "/reminders/"+id+"/snooze", alice, "")
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(http.MethodDelete, "/reminders/"+id, alice, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, raw := a.raw(http.MethodGet, "/reminders", alice, "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(raw))
}

func TestCreateValidation(t *testing.T) {
	a := newAPI(t)
	alice := a.signup("alice@example.com")

	code, _ := a.do(http.MethodPost, "/reminders", alice, `{"title":"x","when":"tomorrow"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(http.MethodPost, "/reminders", alice, `{"title":"","when":"2025-03-10T10:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(http.MethodPost, "/reminders/x/snooze?minutes=soon", alice, "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(http.MethodGet, "/notifications/poll?since=yesterday", alice, "")
	assert.Equal(t, http.StatusBadRequest, code)
}
