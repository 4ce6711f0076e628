package monitor

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/gomail.v2"
)

// AlertSubject is the subject line of every connection failure alert.
const AlertSubject = "ALERT: directory connection failure"

// Alert describes one failed reachability check.
type Alert struct {
	At     time.Time
	Domain string
	Host   string
	Port   int
	Detail string
}

// Notifier delivers alerts to operators.
type Notifier interface {
	NotifyFailure(ctx context.Context, a Alert) error
}

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailConfig configures MailNotifier.
type MailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

// MailNotifier sends alerts through an SMTP relay.
type MailNotifier struct {
	from   string
	to     string
	sender mailSender
}

// NewMailNotifier creates a notifier. Port 465 uses implicit TLS.
func NewMailNotifier(cfg MailConfig) *MailNotifier {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &MailNotifier{
		from:   from,
		to:     cfg.To,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
	}
}

var alertTemplate = template.Must(template.New("alert").Parse(`<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; border: 1px solid #e0e0e0;">
  <div style="background-color: #fff4f4; border-left: 4px solid #d9534f; padding: 15px;">
    <h3 style="color: #d9534f; margin-top: 0;">Directory connection failure</h3>
    <p>The automatic monitor could not reach the LDAP/Active Directory server.</p>
  </div>
  <table style="width: 100%; border-collapse: collapse; font-size: 14px;">
    <tr><td><strong>Date:</strong></td><td>{{.At.Format "2006-01-02 15:04:05 MST"}}</td></tr>
    <tr><td><strong>Domain:</strong></td><td>{{.Domain}}</td></tr>
    <tr><td><strong>Server:</strong></td><td>{{.Host}}:{{.Port}}</td></tr>
    <tr><td><strong>Detail:</strong></td><td style="font-family: monospace;">{{.Detail}}</td></tr>
  </table>
  <p style="color: #777; font-size: 13px;">User logins and permission checks may fail until the server is reachable again.</p>
</div>`))

// NotifyFailure sends a and honours ctx cancellation before dialing.
func (n *MailNotifier) NotifyFailure(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var html bytes.Buffer
	if err := alertTemplate.Execute(&html, a); err != nil {
		return errors.Wrap(err, "render alert")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", n.from, "LDAP API Monitor")
	m.SetHeader("To", n.to)
	m.SetHeader("Subject", AlertSubject)
	m.SetBody("text/plain", fmt.Sprintf("The directory connection failed at %s (domain %s, server %s:%d). Detail: %s",
		a.At.Format(time.RFC3339), a.Domain, a.Host, a.Port, a.Detail))
	m.AddAlternative("text/html", html.String())

	if err := n.sender.DialAndSend(m); err != nil {
		return errors.Wrapf(err, "send alert to %s", n.to)
	}
	return nil
}
