package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/tourfolio/apiserver/config"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages. Implementations must be safe for concurrent
// use; tests inject fakes.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	addr     string
	host     string
	username string
	password string
	from     string
}

// NewSMTPMailer constructs a mailer from config.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}
}

// Send delivers the message, authenticating only when credentials are
// configured. There is no internal timeout; callers bound the operation
// through ctx and the server's write deadline.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(m.addr, auth, m.from, []string{msg.To}, m.render(msg))
}

func (m *SMTPMailer) render(msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// PasswordResetMessage composes the reset email. The reset URL is the
// only place the plaintext token ever leaves the server.
func PasswordResetMessage(to, resetURL string) Message {
	body := fmt.Sprintf(
		"Forgot your password? Submit a PATCH request with your new password to:\n\n%s\n\nThe link is valid for 10 minutes. If you didn't request a password reset, ignore this email.",
		resetURL,
	)
	return Message{
		To:      to,
		Subject: "Your password reset token (valid for 10 minutes)",
		Body:    body,
	}
}
