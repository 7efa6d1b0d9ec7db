package notifier

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestNewSMTP_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewSMTP(Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
	n, err := NewSMTP(Config{Host: "smtp.gmail.com", From: "etl@example.com", To: []string{"ops@example.com"}})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}
	if n.cfg.Port != 587 {
		t.Fatalf("default port=%d want 587", n.cfg.Port)
	}
}

func TestSMTP_NotifyBuildsMessage(t *testing.T) {
	t.Parallel()

	n, err := NewSMTP(Config{
		Host: "smtp.gmail.com",
		From: "etl@example.com",
		To:   []string{"ops@example.com", "dev@example.com"},
	})
	if err != nil {
		t.Fatalf("NewSMTP: %v", err)
	}

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err = n.Notify(context.Background(), "run skipped", "id_config=1 date=2026-08-28 already in LS")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotAddr != "smtp.gmail.com:587" || gotFrom != "etl@example.com" || len(gotTo) != 2 {
		t.Fatalf("addr=%q from=%q to=%v", gotAddr, gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: run skipped\r\n") {
		t.Fatalf("missing subject: %q", msg)
	}
	if !strings.Contains(msg, "already in LS") {
		t.Fatalf("missing body: %q", msg)
	}
}

func TestSMTP_NotifyWrapsSendError(t *testing.T) {
	t.Parallel()

	n, _ := NewSMTP(Config{Host: "h", From: "f@x", To: []string{"t@x"}})
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	if err := n.Notify(context.Background(), "s", "b"); err == nil {
		t.Fatalf("expected wrapped send error")
	}
}

func TestNop_Notify(t *testing.T) {
	t.Parallel()

	if err := (Nop{}).Notify(context.Background(), "s", "b"); err != nil {
		t.Fatalf("Nop must never fail: %v", err)
	}
}
