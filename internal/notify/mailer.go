// Package notify delivers complaint lifecycle email. The notifier is an
// explicitly constructed dependency with a verify-at-startup lifecycle; no
// package-level enable flag exists.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"civicdesk.org/internal/complaint"
	"civicdesk.org/internal/obs"
)

// Mailer sends complaint notifications over SMTP. It implements
// complaint.Notifier.
type Mailer struct {
	addr       string // host:port
	from       string
	adminEmail string // escalation notices go here
	auth       smtp.Auth
}

// Config collects the SMTP settings read at startup.
type Config struct {
	Addr       string
	From       string
	AdminEmail string
	Username   string
	Password   string
}

// NewMailer constructs a mailer. Call Verify before serving traffic.
func NewMailer(cfg Config) (*Mailer, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("notify: smtp address is required")
	}
	if strings.TrimSpace(cfg.From) == "" || strings.TrimSpace(cfg.AdminEmail) == "" {
		return nil, errors.New("notify: from and admin addresses are required")
	}
	m := &Mailer{
		addr:       cfg.Addr,
		from:       cfg.From,
		adminEmail: cfg.AdminEmail,
	}
	if cfg.Username != "" {
		host := cfg.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return m, nil
}

// Verify dials the SMTP server once so a misconfigured transport fails at
// startup instead of during the first escalation sweep.
func (m *Mailer) Verify(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		client, err := smtp.Dial(m.addr)
		if err != nil {
			done <- err
			return
		}
		done <- client.Quit()
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify: smtp verify: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases transport resources. SMTP connections are per-send, so
// there is nothing persistent to tear down; the method exists to anchor the
// lifecycle in one place.
func (m *Mailer) Close() error { return nil }

// ComplaintEscalated mails the administrative inbox.
func (m *Mailer) ComplaintEscalated(_ context.Context, c complaint.Complaint, level int) error {
	subject := fmt.Sprintf("Complaint %s escalated to level %d", c.ID, level)
	body := fmt.Sprintf(
		"Complaint %s (%s, %s priority) breached its SLA and is now at escalation level %d.\r\nSubmitted: %s\r\n",
		c.ID, c.Category, c.Priority, level, c.CreatedAt.Format("2006-01-02 15:04 MST"),
	)
	return m.send(m.adminEmail, subject, body)
}

// ComplaintResolved mails the complaint owner, if known.
func (m *Mailer) ComplaintResolved(_ context.Context, c complaint.Complaint) error {
	if c.Anonymous() {
		return nil
	}
	subject := fmt.Sprintf("Your complaint %s has been resolved", c.ID)
	body := fmt.Sprintf(
		"Your complaint about %q has been marked resolved.\r\nThank you for your report.\r\n",
		c.Category,
	)
	return m.send(c.OwnerEmail, subject, body)
}

func (m *Mailer) send(to, subject, body string) error {
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(m.addr, m.auth, m.from, []string{to}, []byte(msg))
}

// Noop discards every notification. Used when email is not configured so
// the rest of the system keeps a real notifier dependency.
type Noop struct{}

// NewNoop constructs a discarding notifier and logs that email is off.
func NewNoop() Noop {
	obs.LogEvent(map[string]any{
		"level": "info",
		"msg":   "email notifications disabled",
	})
	return Noop{}
}

func (Noop) ComplaintEscalated(context.Context, complaint.Complaint, int) error { return nil }
func (Noop) ComplaintResolved(context.Context, complaint.Complaint) error       { return nil }
