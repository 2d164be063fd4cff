// Package mailer delivers reminder notifications by email.
package mailer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ovaphlow/pitchfork/service-reminder/pkg/utilities"
)

// Mailer sends one plain-text message.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

const (
	ProviderSMTP     = "smtp"
	ProviderSendGrid = "sendgrid"
)

type Config struct {
	Provider string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	SendGridAPIKey string
	SendGridHost   string

	From     string
	FromName string

	// RatePerSec caps outgoing messages; zero disables throttling.
	RatePerSec int
}

// ConfigFromEnv reads MAIL_*, SMTP_* and SENDGRID_* variables. When
// MAIL_PROVIDER is empty but SMTP_HOST is set, SMTP is used.
func ConfigFromEnv() Config {
	cfg := Config{
		Provider:       strings.ToLower(utilities.GetEnvAsString("MAIL_PROVIDER", "")),
		SMTPHost:       utilities.GetEnvAsString("SMTP_HOST", ""),
		SMTPPort:       utilities.GetEnvAsInt("SMTP_PORT", 587),
		SMTPUser:       utilities.GetEnvAsString("SMTP_USER", ""),
		SMTPPassword:   utilities.GetEnvAsString("SMTP_PASSWORD", ""),
		SendGridAPIKey: utilities.GetEnvAsString("SENDGRID_API_KEY", ""),
		SendGridHost:   utilities.GetEnvAsString("SENDGRID_HOST", defaultSendGridHost),
		From:           utilities.GetEnvAsString("MAIL_FROM", ""),
		FromName:       utilities.GetEnvAsString("MAIL_FROM_NAME", "Reminders"),
		RatePerSec:     utilities.GetEnvAsInt("MAIL_RATE_PER_SEC", 5),
	}
	if cfg.Provider == "" && cfg.SMTPHost != "" {
		cfg.Provider = ProviderSMTP
	}
	if cfg.From == "" {
		cfg.From = cfg.SMTPUser
	}
	return cfg
}

// New builds the configured mailer. It returns nil, nil when no provider is
// configured; callers treat a nil Mailer as "skip delivery".
func New(cfg Config, logger *zap.SugaredLogger) (Mailer, error) {
	var m Mailer
	switch cfg.Provider {
	case "":
		logger.Infow("mail delivery not configured")
		return nil, nil
	case ProviderSMTP:
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("mailer: SMTP_HOST is required for provider %q", cfg.Provider)
		}
		m = NewSMTP(cfg)
	case ProviderSendGrid:
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("mailer: SENDGRID_API_KEY is required for provider %q", cfg.Provider)
		}
		m = NewSendGrid(cfg)
	default:
		return nil, fmt.Errorf("mailer: unknown provider %q", cfg.Provider)
	}
	logger.Infow("mail delivery configured", "provider", cfg.Provider, "rate_per_sec", cfg.RatePerSec)
	if cfg.RatePerSec > 0 {
		m = NewThrottled(m, cfg.RatePerSec)
	}
	return m, nil
}

// Throttled delays sends so that at most perSec messages leave per second.
type Throttled struct {
	next    Mailer
	limiter *rate.Limiter
}

func NewThrottled(next Mailer, perSec int) *Throttled {
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSec), perSec)}
}

func (t *Throttled) Send(ctx context.Context, to, subject, body string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail throttle: %w", err)
	}
	return t.next.Send(ctx, to, subject, body)
}
