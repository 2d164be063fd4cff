package mailer

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const defaultSendGridHost = "https://api.sendgrid.com"

// SendGrid sends through the SendGrid v3 mail API.
type SendGrid struct {
	apiKey string
	host   string
	from   *mail.Email
}

func NewSendGrid(cfg Config) *SendGrid {
	host := cfg.SendGridHost
	if host == "" {
		host = defaultSendGridHost
	}
	return &SendGrid{
		apiKey: cfg.SendGridAPIKey,
		host:   host,
		from:   mail.NewEmail(cfg.FromName, cfg.From),
	}
}

func (s *SendGrid) Send(ctx context.Context, to, subject, body string) error {
	message := mail.NewSingleEmail(s.from, headerText(subject), mail.NewEmail("", to), body, "<pre>"+html.EscapeString(body)+"</pre>")
	req := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(message)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
