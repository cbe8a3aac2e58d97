package auth

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"text/template"
	"time"
)

// Mailer delivers account mail.
type Mailer interface {
	SendVerification(ctx context.Context, to, link string) error
}

// LogMailer writes verification links to the log instead of sending mail.
// It is the default when no SMTP server is configured.
type LogMailer struct{}

// SendVerification implements Mailer.
func (LogMailer) SendVerification(_ context.Context, to, link string) error {
	slog.Info("verification mail (not sent, no SMTP configured)", "to", to, "link", link)
	return nil
}

var verificationMail = template.Must(template.New("verify").Parse(
	"From: {{.From}}\r\n" +
		"To: {{.To}}\r\n" +
		"Subject: Confirm your email\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Open this link to confirm your email address and activate your account:\r\n" +
		"\r\n" +
		"{{.Link}}\r\n"))

// SMTPMailer sends mail through an SMTP relay with optional PLAIN auth.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer creates a mailer for addr (host:port). Authentication is used
// when user is set.
func NewSMTPMailer(addr, user, password, from string) (*SMTPMailer, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("smtp address %q: %w", addr, err)
	}
	if strings.TrimSpace(from) == "" {
		return nil, fmt.Errorf("mail sender address is required")
	}
	m := &SMTPMailer{addr: addr, from: from, send: smtp.SendMail}
	if user != "" {
		m.auth = smtp.PlainAuth("", user, password, host)
	}
	return m, nil
}

// SendVerification implements Mailer. net/smtp has no context support, so
// cancellation is only checked before dialing.
func (m *SMTPMailer) SendVerification(ctx context.Context, to, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient %q", to)
	}
	var buf bytes.Buffer
	if err := verificationMail.Execute(&buf, map[string]string{"From": m.from, "To": to, "Link": link}); err != nil {
		return fmt.Errorf("render verification mail: %w", err)
	}
	start := time.Now()
	if err := m.send(m.addr, m.auth, m.from, []string{to}, buf.Bytes()); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	slog.Info("verification mail sent", "to", to, "duration", time.Since(start))
	return nil
}
