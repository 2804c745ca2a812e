package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/marketplace"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/worker"
)

type pipelineFixture struct {
	pipeline *QuestionPipeline
	store    *memStore
	market   *fakeMarket
	drafter  *fakeDrafter
	notifier *fakeNotifier
	queue    *syncQueue
	tel      *recordingTelemetry
	user     *model.User
}

// newPipelineFixture connects one seller (id 42, token tok-1) that owns
// question 1001 on item MLB1.
func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		store:    newMemStore(),
		market:   newFakeMarket(),
		drafter:  &fakeDrafter{text: "Sim, temos em estoque!"},
		notifier: &fakeNotifier{},
		queue:    &syncQueue{},
		tel:      &recordingTelemetry{},
	}
	f.user = f.store.addUser(model.User{ClerkUserID: "clerk_1", Email: "seller@example.com"})
	f.store.creds[f.user.ID] = &model.Credential{UserID: f.user.ID, AccessToken: "tok-1", SellerID: "42"}

	f.market.items["MLB1"] = marketplace.Item{ID: "MLB1", Title: "Fone Bluetooth"}
	f.market.questions["1001"] = marketplace.Question{
		ID: 1001, SellerID: 42, ItemID: "MLB1", Text: "Tem pronta entrega?",
		Status: marketplace.QuestionStatusUnanswered,
	}

	f.pipeline = NewQuestionPipeline(PipelineDeps{
		Users:       f.store,
		Credentials: f.store,
		Questions:   f.store,
		Feedback:    f.store,
		Tokens:      staticTokens{store: f.store},
		Market:      f.market,
		Drafter:     f.drafter,
		Notifier:    f.notifier,
		Queue:       f.queue,
		Telemetry:   f.tel,
		Logger:      testLogger(),
	})
	f.queue.handler = f.pipeline.ProcessPayload
	return f
}

func questionWebhook(sellerID any) Notification {
	body := map[string]any{"topic": "questions", "resource": "/questions/1001"}
	if sellerID != nil {
		body["user_id"] = sellerID
	}
	raw, _ := json.Marshal(body)
	var n Notification
	_ = json.Unmarshal(raw, &n)
	return n
}

// =========================================================================
// Webhook handling
// =========================================================================

func TestHandleNotification_CreatesDraft(t *testing.T) {
	f := newPipelineFixture(t)

	if err := f.pipeline.HandleNotification(context.Background(), questionWebhook(42)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pq, err := f.store.GetPendingQuestion(context.Background(), f.user.ID, "1001")
	if err != nil {
		t.Fatalf("pending question not stored: %v", err)
	}
	if pq.DraftAnswer != "Sim, temos em estoque!" {
		t.Errorf("DraftAnswer = %q", pq.DraftAnswer)
	}
	if pq.ItemTitle != "Fone Bluetooth" || pq.QuestionText != "Tem pronta entrega?" {
		t.Errorf("stored question = %+v", pq)
	}
	if pq.Status != model.QuestionPending {
		t.Errorf("Status = %q, want pending", pq.Status)
	}
	if len(f.notifier.alerts) != 1 {
		t.Errorf("notifications = %d, want 1", len(f.notifier.alerts))
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].Kind != JobProcessQuestion || f.queue.jobs[0].Key != "1001" {
		t.Errorf("queued jobs = %+v", f.queue.jobs)
	}
	if names := f.tel.names(); len(names) != 1 || names[0] != "question_drafted" {
		t.Errorf("telemetry = %v", names)
	}
}

func TestHandleNotification_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newPipelineFixture(t)

	for i := 0; i < 3; i++ {
		if err := f.pipeline.HandleNotification(context.Background(), questionWebhook("42")); err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
	}

	if n := f.store.questionCount(); n != 1 {
		t.Errorf("pending questions = %d, want 1", n)
	}
	if n := len(f.drafter.reqs); n != 1 {
		t.Errorf("draft calls = %d, want 1", n)
	}
	if n := len(f.notifier.alerts); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestHandleNotification_OtherTopicsIgnored(t *testing.T) {
	for _, topic := range []string{"payments", "orders_v2", "items", ""} {
		t.Run(topic, func(t *testing.T) {
			f := newPipelineFixture(t)
			n := Notification{Topic: topic, Resource: "/questions/1001", UserID: "42"}

			if err := f.pipeline.HandleNotification(context.Background(), n); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(f.queue.jobs) != 0 || f.store.questionCount() != 0 {
				t.Errorf("topic %q produced work", topic)
			}
		})
	}
}

func TestHandleNotification_InvalidResource(t *testing.T) {
	f := newPipelineFixture(t)
	for _, res := range []string{"", "/questions/", "/questions/abc"} {
		n := Notification{Topic: "questions", Resource: res}
		if err := f.pipeline.HandleNotification(context.Background(), n); err != nil {
			t.Errorf("resource %q: unexpected error: %v", res, err)
		}
	}
	if len(f.queue.jobs) != 0 {
		t.Errorf("jobs = %d, want 0", len(f.queue.jobs))
	}
}

func TestHandleNotification_QueueFull(t *testing.T) {
	f := newPipelineFixture(t)
	f.queue.err = worker.ErrQueueFull

	err := f.pipeline.HandleNotification(context.Background(), questionWebhook(42))
	if !errors.Is(err, apperror.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestHandleNotification_OtherEnqueueErrorsAreAcknowledged(t *testing.T) {
	f := newPipelineFixture(t)
	f.queue.err = errors.New("redis down")

	if err := f.pipeline.HandleNotification(context.Background(), questionWebhook(42)); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

// =========================================================================
// Processing
// =========================================================================

func TestProcess_LLMFailureUsesFallback(t *testing.T) {
	f := newPipelineFixture(t)
	f.drafter.err = errors.New("openai: 500")

	if err := f.pipeline.Process(context.Background(), "1001", "42"); err != nil {
		t.Fatalf("pipeline must not fail on LLM errors: %v", err)
	}

	pq, err := f.store.GetPendingQuestion(context.Background(), f.user.ID, "1001")
	if err != nil {
		t.Fatalf("pending question not stored: %v", err)
	}
	if pq.DraftAnswer != FallbackDraft {
		t.Errorf("DraftAnswer = %q, want fallback", pq.DraftAnswer)
	}
}

func TestProcess_DraftIsBounded(t *testing.T) {
	f := newPipelineFixture(t)

	start := time.Now()
	if err := f.pipeline.Process(context.Background(), "1001", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.drafter.deadlines) != 1 {
		t.Fatalf("drafter called %d times, want 1", len(f.drafter.deadlines))
	}
	deadline := f.drafter.deadlines[0]
	if deadline.IsZero() {
		t.Fatal("draft request has no deadline")
	}
	if deadline.After(start.Add(DraftTimeout + time.Second)) {
		t.Errorf("draft deadline %v is later than %v after start", deadline.Sub(start), DraftTimeout)
	}
}

func TestProcess_NoDrafterUsesFallback(t *testing.T) {
	f := newPipelineFixture(t)
	f.pipeline.deps.Drafter = nil

	if err := f.pipeline.Process(context.Background(), "1001", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pq, _ := f.store.GetPendingQuestion(context.Background(), f.user.ID, "1001")
	if pq == nil || pq.DraftAnswer != FallbackDraft {
		t.Errorf("pending question = %+v, want fallback draft", pq)
	}
}

func TestProcess_NotificationFailureIsSwallowed(t *testing.T) {
	f := newPipelineFixture(t)
	f.notifier.err = errors.New("telegram down")

	if err := f.pipeline.Process(context.Background(), "1001", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.questionCount() != 1 {
		t.Error("question should still be stored")
	}
}

func TestProcess_ItemLookupFailureIsTolerated(t *testing.T) {
	f := newPipelineFixture(t)
	f.market.getItemErr = errors.New("timeout")

	if err := f.pipeline.Process(context.Background(), "1001", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pq, _ := f.store.GetPendingQuestion(context.Background(), f.user.ID, "1001")
	if pq == nil || pq.ItemTitle != "" {
		t.Errorf("pending question = %+v, want empty title", pq)
	}
}

func TestProcess_SkipsAnsweredQuestions(t *testing.T) {
	f := newPipelineFixture(t)
	q := f.market.questions["1001"]
	q.Status = "ANSWERED"
	f.market.questions["1001"] = q

	if err := f.pipeline.Process(context.Background(), "1001", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.questionCount() != 0 {
		t.Error("answered question must not be stored")
	}
}

func TestProcess_UsesRecentFeedbackAsExamples(t *testing.T) {
	f := newPipelineFixture(t)
	for i := 0; i < 7; i++ {
		f.store.feedback = append(f.store.feedback, model.QuestionFeedback{
			UserID: f.user.ID, QuestionText: "q", FinalAnswer: "a",
		})
	}
	f.store.feedback = append(f.store.feedback, model.QuestionFeedback{
		UserID: "someone-else", QuestionText: "x", FinalAnswer: "y",
	})

	if err := f.pipeline.Process(context.Background(), "1001", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.drafter.reqs) != 1 {
		t.Fatalf("draft calls = %d", len(f.drafter.reqs))
	}
	req := f.drafter.reqs[0]
	if len(req.Examples) != 5 {
		t.Errorf("examples = %d, want 5", len(req.Examples))
	}
	if req.ItemTitle != "Fone Bluetooth" || req.Question != "Tem pronta entrega?" {
		t.Errorf("draft request = %+v", req)
	}
}

// =========================================================================
// Owner resolution
// =========================================================================

func TestProcess_ResolvesOwnerByScanWhenSellerMissing(t *testing.T) {
	f := newPipelineFixture(t)

	// A second seller connected before the owner; its token cannot read
	// the question.
	other := f.store.addUser(model.User{ClerkUserID: "clerk_0"})
	f.store.creds[other.ID] = &model.Credential{UserID: other.ID, AccessToken: "tok-0", SellerID: "7"}
	f.market.questionTokens["1001"] = "tok-1"

	for _, seller := range []string{"", "999"} {
		f.store.questions = make(map[string]*model.PendingQuestion)
		if err := f.pipeline.Process(context.Background(), "1001", seller); err != nil {
			t.Fatalf("seller %q: unexpected error: %v", seller, err)
		}
		pq, err := f.store.GetPendingQuestion(context.Background(), f.user.ID, "1001")
		if err != nil {
			t.Fatalf("seller %q: question not attributed to the owner: %v", seller, err)
		}
		if pq.UserID != f.user.ID {
			t.Errorf("seller %q: UserID = %q, want %q", seller, pq.UserID, f.user.ID)
		}
	}
}

func TestProcess_IndexHitDoesNotScan(t *testing.T) {
	f := newPipelineFixture(t)
	other := f.store.addUser(model.User{ClerkUserID: "clerk_0"})
	f.store.creds[other.ID] = &model.Credential{UserID: other.ID, AccessToken: "tok-0", SellerID: "7"}

	if err := f.pipeline.Process(context.Background(), "1001", "42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.market.getQuestionBy; len(got) != 1 || got[0] != "tok-1" {
		t.Errorf("question fetched with tokens %v, want only tok-1", got)
	}
}

func TestProcess_UnresolvedOwnerIsDropped(t *testing.T) {
	f := newPipelineFixture(t)
	f.market.questionTokens["1001"] = "tok-unknown"

	if err := f.pipeline.Process(context.Background(), "1001", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.store.questionCount() != 0 {
		t.Error("unresolved question must not be stored")
	}
}

func TestFlexibleID(t *testing.T) {
	tests := []struct {
		in   string
		want FlexibleID
	}{
		{`{"user_id": 123456789}`, "123456789"},
		{`{"user_id": "987"}`, "987"},
		{`{"user_id": null}`, ""},
		{`{}`, ""},
	}
	for _, tt := range tests {
		var n Notification
		if err := json.Unmarshal([]byte(tt.in), &n); err != nil {
			t.Errorf("%s: unexpected error: %v", tt.in, err)
			continue
		}
		if n.UserID != tt.want {
			t.Errorf("%s: UserID = %q, want %q", tt.in, n.UserID, tt.want)
		}
	}

	var n Notification
	if err := json.Unmarshal([]byte(`{"user_id": true}`), &n); err == nil {
		t.Error("expected an error for a boolean id")
	}
}

func TestNotificationQuestionID(t *testing.T) {
	tests := map[string]string{
		"/questions/1001":  "1001",
		"/questions/1001/": "1001",
		"1001":             "1001",
		"/questions/abc":   "",
		"":                 "",
	}
	for resource, want := range tests {
		if got := (Notification{Resource: resource}).QuestionID(); got != want {
			t.Errorf("QuestionID(%q) = %q, want %q", resource, got, want)
		}
	}
}
