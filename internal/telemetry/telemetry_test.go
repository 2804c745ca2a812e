package telemetry

import (
	"context"
	"testing"
)

func TestNoop(t *testing.T) {
	tl := NewNoop()

	if err := tl.Send(context.Background(), Event{DistinctID: "user_1", Name: EventAnswerPublished}); err != nil {
		t.Errorf("Send() error = %v", err)
	}
	if err := tl.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPostHog_RejectsEventWithoutDistinctID(t *testing.T) {
	tl, err := NewPostHog("phc_test", "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("NewPostHog() error = %v", err)
	}
	defer tl.Close()

	if err := tl.Send(context.Background(), Event{Name: EventQuestionDrafted}); err == nil {
		t.Error("Send() without distinct id should fail validation")
	}
}
