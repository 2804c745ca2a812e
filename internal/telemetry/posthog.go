package telemetry

import (
	"context"

	"github.com/posthog/posthog-go"
)

type posthogService struct {
	client posthog.Client
}

// NewPostHog creates a Telemetry backed by the PostHog batch client.
func NewPostHog(apiKey, endpoint string) (Telemetry, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	return &posthogService{client: client}, nil
}

// Send enqueues the event; delivery happens in the client's background batch.
func (s *posthogService) Send(_ context.Context, event Event) error {
	capture := posthog.Capture{
		DistinctId: event.DistinctID,
		Event:      event.Name,
		Properties: event.Properties,
	}

	if err := capture.Validate(); err != nil {
		return err
	}

	return s.client.Enqueue(capture)
}

// Close flushes pending events.
func (s *posthogService) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
