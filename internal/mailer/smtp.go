package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
)

// SMTP sends through a submission server, upgrading with STARTTLS when the
// server offers it and authenticating when a user is configured.
type SMTP struct {
	addr     string
	host     string
	user     string
	password string
	from     string
	fromName string
}

func NewSMTP(cfg Config) *SMTP {
	return &SMTP{
		addr:     net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		host:     cfg.SMTPHost,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.From,
		fromName: cfg.FromName,
	}
}

func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	return s.message(to, subject, body).Send(smtpSession{ctx: ctx, s: s})
}

// message builds the MIME message; enmime encodes non-ASCII headers and the
// subject is folded onto one line.
func (s *SMTP) message(to, subject, body string) enmime.MailBuilder {
	return enmime.Builder().
		From(s.fromName, s.from).
		To("", to).
		Subject(headerText(subject)).
		Date(time.Now()).
		Text([]byte(body))
}

// smtpSession hands one encoded message from the builder to deliver.
type smtpSession struct {
	ctx context.Context
	s   *SMTP
}

func (x smtpSession) Send(reversePath string, recipients []string, msg []byte) error {
	return x.s.deliver(x.ctx, reversePath, recipients, msg)
}

func (s *SMTP) deliver(ctx context.Context, from string, recipients []string, msg []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", s.addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	c, err := smtp.NewClient(conn, s.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.user != "" {
		if err := c.Auth(smtp.PlainAuth("", s.user, s.password, s.host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, to := range recipients {
		if err := c.Rcpt(to); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", to, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA close: %w", err)
	}
	return c.Quit()
}

// headerText collapses line breaks and runs of whitespace so user text
// stays inside a single header field.
func headerText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
