package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingMailer struct {
	mu    sync.Mutex
	sends int
}

func (c *countingMailer) Send(context.Context, string, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends++
	return nil
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MAIL_PROVIDER", "")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_USER", "bot@example.com")
	t.Setenv("MAIL_FROM", "")
	t.Setenv("MAIL_RATE_PER_SEC", "2")

	cfg := ConfigFromEnv()
	assert.Equal(t, ProviderSMTP, cfg.Provider)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.Equal(t, "bot@example.com", cfg.From)
	assert.Equal(t, 2, cfg.RatePerSec)
}

func TestNew(t *testing.T) {
	log := zap.NewNop().Sugar()

	m, err := New(Config{}, log)
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = New(Config{Provider: ProviderSMTP}, log)
	assert.Error(t, err)

	_, err = New(Config{Provider: ProviderSendGrid}, log)
	assert.Error(t, err)

	_, err = New(Config{Provider: "pigeon"}, log)
	assert.Error(t, err)

	m, err = New(Config{Provider: ProviderSMTP, SMTPHost: "localhost", SMTPPort: 25, RatePerSec: 1}, log)
	require.NoError(t, err)
	assert.IsType(t, &Throttled{}, m)

	m, err = New(Config{Provider: ProviderSendGrid, SendGridAPIKey: "key"}, log)
	require.NoError(t, err)
	assert.IsType(t, &SendGrid{}, m)
}

func encode(t *testing.T, b enmime.MailBuilder) []byte {
	t.Helper()
	part, err := b.Build()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, part.Encode(&buf))
	return buf.Bytes()
}

func TestSMTPMessage(t *testing.T) {
	s := NewSMTP(Config{SMTPHost: "localhost", SMTPPort: 25, From: "bot@example.com", FromName: "Reminders"})
	raw := encode(t, s.message("alice@example.com", "Standup", "Daily sync\n\nScheduled for: 2025-01-01T09:00:00Z"))

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Standup", env.GetHeader("Subject"))
	assert.Contains(t, env.GetHeader("From"), "bot@example.com")
	assert.Contains(t, env.GetHeader("To"), "alice@example.com")
	assert.Contains(t, env.Text, "Scheduled for: 2025-01-01T09:00:00Z")
}

func TestSMTPMessage_SubjectCannotAddHeaders(t *testing.T) {
	s := NewSMTP(Config{SMTPHost: "localhost", SMTPPort: 25, From: "bot@example.com"})
	raw := encode(t, s.message("owner@example.com", "hi\r\nBcc: victim@evil.example", "body"))

	assert.NotContains(t, string(raw), "\nBcc:")
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "hi Bcc: victim@evil.example", env.GetHeader("Subject"))
	assert.Empty(t, env.GetHeader("Bcc"))
}

func TestSMTPMessage_NonASCIISubject(t *testing.T) {
	s := NewSMTP(Config{SMTPHost: "localhost", SMTPPort: 25, From: "bot@example.com"})
	raw := encode(t, s.message("owner@example.com", "Réunion ☕", "body"))

	assert.NotContains(t, string(raw), "Réunion")
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Réunion ☕", env.GetHeader("Subject"))
}

func TestSendGrid_Send(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sg := NewSendGrid(Config{SendGridAPIKey: "sg-key", SendGridHost: srv.URL, From: "bot@example.com", FromName: "Reminders"})
	require.NoError(t, sg.Send(context.Background(), "alice@example.com", "Standup", "Daily sync"))

	assert.Equal(t, "Bearer sg-key", gotAuth)
	assert.Equal(t, "Standup", gotBody["subject"])
}

func TestSendGrid_SendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	sg := NewSendGrid(Config{SendGridAPIKey: "wrong", SendGridHost: srv.URL, From: "bot@example.com"})
	err := sg.Send(context.Background(), "alice@example.com", "Standup", "Daily sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestThrottled(t *testing.T) {
	next := &countingMailer{}
	m := NewThrottled(next, 1)

	require.NoError(t, m.Send(context.Background(), "a@example.com", "s", "b"))

	// The bucket is empty now; a second send must wait longer than this deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, m.Send(ctx, "a@example.com", "s", "b"))
	assert.Equal(t, 1, next.sends)
}
