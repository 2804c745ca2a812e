// Package telemetry sends product events (connections, drafts, publications,
// subscriptions) to PostHog. When no API key is configured a no-op
// implementation is used, so callers never branch on configuration.
package telemetry

import "context"

const (
	EventMarketplaceConnected  = "marketplace_connected"
	EventQuestionDrafted       = "question_drafted"
	EventAnswerPublished       = "answer_published"
	EventSubscriptionActivated = "subscription_activated"
)

type Event struct {
	DistinctID string
	Name       string
	Properties map[string]any
}

type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

type noop struct{}

// NewNoop returns a Telemetry that drops every event.
func NewNoop() Telemetry {
	return noop{}
}

func (noop) Send(context.Context, Event) error { return nil }

func (noop) Close() error { return nil }
