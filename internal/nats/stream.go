package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tripmate/tripmate-sync/internal/model"
)

const (
	// StreamName is the name of the store events stream.
	StreamName = "TRIPMATE"

	// SubjectPrefix is the prefix for all store event subjects.
	SubjectPrefix = "tripmate"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the store events stream exists.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Pin and chat history store transitions",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EventSubject returns the subject for a store event.
func EventSubject(store string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, store, eventType)
}

// Publish publishes a store event to JetStream.
func (m *StreamManager) Publish(ctx context.Context, event *model.StoreEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, EventSubject(event.Store, event.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
