package mq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tourfolio/apiserver/internal/logging"
)

// AuthEventsTopic carries every authentication event envelope.
const AuthEventsTopic = "auth-events"

// Auth event types.
const (
	EventSignup               = "user.signup"
	EventLogin                = "user.login"
	EventPasswordResetRequest = "user.password_reset_requested"
	EventPasswordReset        = "user.password_reset"
	EventPasswordChange       = "user.password_changed"
)

// Event is the JSON envelope published for each authentication event.
type Event struct {
	ID    string    `json:"id"`
	Type  string    `json:"type"`
	Email string    `json:"email"`
	At    time.Time `json:"at"`
}

// Publisher emits auth events on the broker. Emission is best effort: a
// broker failure is logged and never surfaces to the client.
type Publisher struct {
	mq  *MQ
	log logging.Logger
}

func NewPublisher(mq *MQ, log logging.Logger) *Publisher {
	if log == nil {
		log = logging.Default()
	}
	return &Publisher{mq: mq, log: log}
}

// Emit publishes one event envelope.
func (p *Publisher) Emit(ctx context.Context, eventType, email string) {
	event := Event{
		ID:    uuid.NewString(),
		Type:  eventType,
		Email: email,
		At:    time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error(ctx, "auth event marshal failed", "type", eventType, "error", err)
		return
	}

	if _, err := p.mq.Publish(ctx, AuthEventsTopic, data, map[string]string{"type": eventType}); err != nil {
		p.log.Error(ctx, "auth event publish failed", "type", eventType, "error", err)
	}
}

// Tail subscribes to the auth-events topic and invokes fn for each
// decoded envelope. It blocks until ctx is cancelled or the broker fails.
func (p *Publisher) Tail(ctx context.Context, fn func(Event) error) error {
	return p.mq.Subscribe(ctx, AuthEventsTopic, func(ctx context.Context, msg Message) error {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			p.log.Warn(ctx, "skipping malformed auth event", "id", msg.ID, "error", err)
			return nil
		}
		return fn(event)
	})
}
