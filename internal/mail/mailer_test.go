package mail

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tourfolio/apiserver/config"
)

func TestPasswordResetMessage(t *testing.T) {
	msg := PasswordResetMessage("ada@example.com", "http://localhost:8080/auth/reset-password/abc123")

	assert.Equal(t, "ada@example.com", msg.To)
	assert.Contains(t, msg.Subject, "10 minutes")
	assert.Contains(t, msg.Body, "http://localhost:8080/auth/reset-password/abc123")
}

func TestRenderProducesValidHeaders(t *testing.T) {
	mailer := NewSMTPMailer(config.SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "noreply@example.com",
	})

	raw := string(mailer.render(Message{
		To:      "ada@example.com",
		Subject: "Hello",
		Body:    "Body text",
	}))

	headers, body, found := strings.Cut(raw, "\r\n\r\n")
	assert.True(t, found, "headers and body must be separated by a blank line")
	assert.Contains(t, headers, "From: noreply@example.com")
	assert.Contains(t, headers, "To: ada@example.com")
	assert.Contains(t, headers, "Subject: Hello")
	assert.Equal(t, "Body text", body)
}
