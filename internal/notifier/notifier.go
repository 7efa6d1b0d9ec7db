// Package notifier delivers pipeline alerts. Notifications are advisory: a
// failed send is logged and never fails the run that triggered it.
package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Notifier is the alert sink the run coordinator talks to.
type Notifier interface {
	// Notify sends one alert. Implementations must not block the pipeline
	// on delivery problems; returning an error is for logging only.
	Notify(ctx context.Context, subject, body string) error
}

// Nop drops every notification. Used when no notifier is configured.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// Config configures the SMTP notifier.
type Config struct {
	Host     string
	Port     int
	From     string
	Password string
	To       []string
}

// SMTP sends alerts as plain-text mail over SMTP with AUTH PLAIN, the
// gmail-app-password setup the operators run.
type SMTP struct {
	cfg Config

	// send is swapped out by tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTP(cfg Config) (*SMTP, error) {
	if cfg.Host == "" || cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("notifier: host, from and to are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTP{cfg: cfg, send: smtp.SendMail}, nil
}

func (s *SMTP) Notify(_ context.Context, subject, body string) error {
	msg := buildMessage(s.cfg.From, s.cfg.To, subject, body)
	auth := smtp.PlainAuth("", s.cfg.From, s.cfg.Password, s.cfg.Host)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	if err := s.send(addr, auth, s.cfg.From, s.cfg.To, msg); err != nil {
		return fmt.Errorf("notifier: send %q: %w", subject, err)
	}
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
