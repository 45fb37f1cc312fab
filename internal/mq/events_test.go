package mq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	published []Message
	failWith  error
}

func (f *fakeBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.published = append(f.published, Message{ID: "msg-1", Data: data, Attributes: attrs})
	return "msg-1", nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	f.mu.Lock()
	messages := append([]Message(nil), f.published...)
	f.mu.Unlock()
	for _, msg := range messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func TestEmitPublishesEnvelope(t *testing.T) {
	backend := &fakeBackend{}
	publisher := NewPublisher(New(backend), nil)

	publisher.Emit(context.Background(), EventLogin, "ada@example.com")

	require.Len(t, backend.published, 1)
	msg := backend.published[0]
	assert.Equal(t, EventLogin, msg.Attributes["type"])

	var event Event
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventLogin, event.Type)
	assert.Equal(t, "ada@example.com", event.Email)
	assert.WithinDuration(t, time.Now(), event.At, time.Minute)
}

func TestEmitSwallowsBrokerFailure(t *testing.T) {
	backend := &fakeBackend{failWith: errors.New("broker down")}
	publisher := NewPublisher(New(backend), nil)

	// Must not panic or propagate; emission is best effort.
	publisher.Emit(context.Background(), EventSignup, "ada@example.com")
	assert.Empty(t, backend.published)
}

func TestTailDecodesEnvelopes(t *testing.T) {
	backend := &fakeBackend{}
	publisher := NewPublisher(New(backend), nil)
	publisher.Emit(context.Background(), EventPasswordReset, "ada@example.com")

	var seen []Event
	require.NoError(t, publisher.Tail(context.Background(), func(event Event) error {
		seen = append(seen, event)
		return nil
	}))

	require.Len(t, seen, 1)
	assert.Equal(t, EventPasswordReset, seen[0].Type)
}

func TestTailSkipsMalformedPayloads(t *testing.T) {
	backend := &fakeBackend{published: []Message{{ID: "bad", Data: []byte("{not json")}}}
	publisher := NewPublisher(New(backend), nil)

	called := 0
	require.NoError(t, publisher.Tail(context.Background(), func(Event) error {
		called++
		return nil
	}))
	assert.Zero(t, called)
}
