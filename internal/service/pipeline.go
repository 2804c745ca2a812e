package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/llm"
	"github.com/sakif/mercado-insights/internal/marketplace"
	"github.com/sakif/mercado-insights/internal/metrics"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/notify"
	"github.com/sakif/mercado-insights/internal/repository"
	"github.com/sakif/mercado-insights/internal/telemetry"
	"github.com/sakif/mercado-insights/internal/worker"
)

const (
	// JobProcessQuestion is the worker job kind for a received question.
	JobProcessQuestion = "question:process"

	// FallbackDraft is stored when no draft could be generated.
	FallbackDraft = "Olá! Obrigado pela sua pergunta. Vamos verificar e já respondemos."

	// DraftTimeout bounds one draft request; past it the fallback is used.
	DraftTimeout = 15 * time.Second

	topicQuestions = "questions"
	webhookSource  = "mercadolivre"
)

// Question pipeline outcomes, used as metric labels.
const (
	outcomeCreated    = "created"
	outcomeDuplicate  = "duplicate"
	outcomeSkipped    = "skipped"
	outcomeUnresolved = "unresolved"
	outcomeError      = "error"
)

// FlexibleID decodes an id sent either as a JSON number or a string.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flexible id: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

// Notification is a Mercado Livre webhook delivery.
type Notification struct {
	ID            string     `json:"_id"`
	Topic         string     `json:"topic"`
	Resource      string     `json:"resource"`
	UserID        FlexibleID `json:"user_id"`
	ApplicationID FlexibleID `json:"application_id"`
	Attempts      int        `json:"attempts"`
}

// QuestionID returns the numeric id at the end of Resource, or "".
func (n Notification) QuestionID() string {
	res := strings.TrimRight(strings.TrimSpace(n.Resource), "/")
	if i := strings.LastIndex(res, "/"); i >= 0 {
		res = res[i+1:]
	}
	if res == "" {
		return ""
	}
	if _, err := strconv.ParseInt(res, 10, 64); err != nil {
		return ""
	}
	return res
}

type questionJob struct {
	QuestionID string `json:"question_id"`
	SellerID   string `json:"seller_id,omitempty"`
}

// PipelineDeps wires a QuestionPipeline. Drafter and Notifier are optional.
type PipelineDeps struct {
	Users       repository.UserRepository
	Credentials repository.CredentialRepository
	Questions   repository.QuestionRepository
	Feedback    repository.FeedbackRepository
	Tokens      TokenProvider
	Market      Marketplace
	Drafter     Drafter
	Notifier    QuestionNotifier
	Queue       worker.Queue
	Telemetry   telemetry.Telemetry
	Logger      *slog.Logger
}

// QuestionPipeline turns question webhooks into drafted PendingQuestions.
//
// FLOW:
//
//	HandleNotification (request path)   → filter topic, enqueue job
//	ProcessPayload     (worker)         → resolve owner, dedupe, draft,
//	                                      persist, notify
//
// The webhook answers as soon as the job is queued. Drafting and
// notification failures are logged and never reach the marketplace.
type QuestionPipeline struct {
	deps PipelineDeps
	log  *slog.Logger
}

func NewQuestionPipeline(deps PipelineDeps) *QuestionPipeline {
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewNoop()
	}
	return &QuestionPipeline{deps: deps, log: deps.Logger}
}

// HandleNotification accepts a webhook delivery. Only the "questions" topic
// is queued; everything else is acknowledged and dropped. A full queue is
// reported as apperror.ErrUnavailable so the marketplace redelivers later.
func (p *QuestionPipeline) HandleNotification(ctx context.Context, n Notification) error {
	if n.Topic != topicQuestions {
		metrics.WebhooksTotal.WithLabelValues(webhookSource, "ignored").Inc()
		p.log.Debug("webhook ignored", slog.String("topic", n.Topic))
		return nil
	}

	qid := n.QuestionID()
	if qid == "" {
		metrics.WebhooksTotal.WithLabelValues(webhookSource, "invalid").Inc()
		p.log.Warn("question webhook without a question id", slog.String("resource", n.Resource))
		return nil
	}

	payload, err := json.Marshal(questionJob{QuestionID: qid, SellerID: string(n.UserID)})
	if err != nil {
		return fmt.Errorf("service/pipeline: encoding job: %w", err)
	}

	err = p.deps.Queue.Enqueue(ctx, worker.Job{Kind: JobProcessQuestion, Key: qid, Payload: payload})
	switch {
	case err == nil:
		metrics.WebhooksTotal.WithLabelValues(webhookSource, "enqueued").Inc()
		return nil
	case errors.Is(err, worker.ErrQueueFull):
		metrics.WebhooksTotal.WithLabelValues(webhookSource, "rejected").Inc()
		p.log.Warn("question queue full, asking for redelivery", slog.String("questionID", qid))
		return apperror.Unavailable("Fila de processamento cheia. Tente novamente.")
	default:
		metrics.WebhooksTotal.WithLabelValues(webhookSource, "error").Inc()
		p.log.Error("enqueueing question job",
			slog.String("questionID", qid),
			slog.String("error", err.Error()),
		)
		return nil
	}
}

// ProcessPayload is the worker.Handler for JobProcessQuestion.
func (p *QuestionPipeline) ProcessPayload(ctx context.Context, payload []byte) error {
	var job questionJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("service/pipeline: decoding job: %w", err)
	}
	return p.Process(ctx, job.QuestionID, job.SellerID)
}

// Process drafts and stores one question. It returns an error only for
// storage failures; every other problem ends the job with a logged outcome.
func (p *QuestionPipeline) Process(ctx context.Context, questionID, sellerID string) error {
	outcome, err := p.process(ctx, questionID, sellerID)
	metrics.QuestionsProcessedTotal.WithLabelValues(outcome).Inc()
	return err
}

func (p *QuestionPipeline) process(ctx context.Context, questionID, sellerID string) (string, error) {
	log := p.log.With(slog.String("questionID", questionID))

	exists, err := p.deps.Questions.QuestionExists(ctx, questionID)
	if err != nil {
		return outcomeError, fmt.Errorf("service/pipeline: checking %s: %w", questionID, err)
	}
	if exists {
		log.Debug("question already recorded")
		return outcomeDuplicate, nil
	}

	owner, err := p.resolveOwner(ctx, questionID, sellerID)
	if err != nil {
		log.Warn("question owner not resolved",
			slog.String("sellerID", sellerID),
			slog.String("error", err.Error()),
		)
		return outcomeUnresolved, nil
	}
	log = log.With(slog.String("userID", owner.userID))

	q := owner.question
	if q.Status != marketplace.QuestionStatusUnanswered {
		log.Debug("question not awaiting an answer", slog.String("status", q.Status))
		return outcomeSkipped, nil
	}

	user, err := p.deps.Users.GetUserByID(ctx, owner.userID)
	if err != nil {
		return outcomeError, fmt.Errorf("service/pipeline: loading user %s: %w", owner.userID, err)
	}

	var itemTitle string
	if q.ItemID != "" {
		item, err := p.deps.Market.GetItem(ctx, owner.cred.AccessToken, q.ItemID)
		if err != nil {
			log.Warn("item title unavailable",
				slog.String("itemID", q.ItemID),
				slog.String("error", err.Error()),
			)
		} else {
			itemTitle = item.Title
		}
	}

	draft := p.draft(ctx, log, owner.userID, itemTitle, q.Text)

	pq := &model.PendingQuestion{
		UserID:       owner.userID,
		QuestionID:   questionID,
		ItemID:       q.ItemID,
		ItemTitle:    itemTitle,
		QuestionText: q.Text,
		DraftAnswer:  draft,
	}
	if err := p.deps.Questions.CreatePendingQuestion(ctx, pq); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			log.Debug("question recorded concurrently")
			return outcomeDuplicate, nil
		}
		return outcomeError, fmt.Errorf("service/pipeline: saving %s: %w", questionID, err)
	}

	log.Info("question drafted", slog.String("itemID", q.ItemID))
	track(ctx, p.deps.Telemetry, p.log, owner.userID, telemetry.EventQuestionDrafted, map[string]any{
		"item_id":  q.ItemID,
		"fallback": draft == FallbackDraft,
	})

	p.notify(ctx, log, user, notify.QuestionAlert{ItemTitle: itemTitle, Question: q.Text, Draft: draft})
	return outcomeCreated, nil
}

// draft asks the LLM for an answer, using the seller's recent published
// answers as examples. Any failure yields FallbackDraft.
func (p *QuestionPipeline) draft(ctx context.Context, log *slog.Logger, userID, itemTitle, question string) string {
	if p.deps.Drafter == nil {
		metrics.DraftsTotal.WithLabelValues("fallback").Inc()
		return FallbackDraft
	}

	var examples []llm.Example
	recent, err := p.deps.Feedback.RecentFeedback(ctx, userID, llm.MaxExamples)
	if err != nil {
		log.Warn("loading draft examples", slog.String("error", err.Error()))
	}
	for _, fb := range recent {
		examples = append(examples, llm.Example{Question: fb.QuestionText, Answer: fb.FinalAnswer})
	}

	draftCtx, cancel := context.WithTimeout(ctx, DraftTimeout)
	defer cancel()
	text, err := p.deps.Drafter.DraftAnswer(draftCtx, llm.DraftRequest{
		ItemTitle: itemTitle,
		Question:  question,
		Examples:  examples,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			log.Warn("draft generation failed", slog.String("error", err.Error()))
		}
		metrics.DraftsTotal.WithLabelValues("fallback").Inc()
		return FallbackDraft
	}
	metrics.DraftsTotal.WithLabelValues("llm").Inc()
	return strings.TrimSpace(text)
}

func (p *QuestionPipeline) notify(ctx context.Context, log *slog.Logger, u *model.User, alert notify.QuestionAlert) {
	if p.deps.Notifier == nil {
		return
	}
	channel, err := p.deps.Notifier.NotifyQuestion(ctx, u, alert)
	if err != nil {
		log.Warn("seller notification failed", slog.String("error", err.Error()))
		return
	}
	log.Debug("seller notified", slog.String("channel", channel))
}

type questionOwner struct {
	userID   string
	cred     *model.Credential
	question *marketplace.Question
}

var errNoOwner = errors.New("no connected seller owns the question")

// resolveOwner finds the user the question belongs to. The seller id from
// the webhook is looked up in the credential index first. When it is
// missing or unmapped, every connected seller is probed with the question
// id; the probe is linear in the number of connected sellers.
func (p *QuestionPipeline) resolveOwner(ctx context.Context, questionID, sellerID string) (*questionOwner, error) {
	if sellerID != "" {
		userID, err := p.deps.Credentials.FindUserIDBySellerID(ctx, sellerID)
		switch {
		case err == nil:
			return p.fetchAs(ctx, userID, questionID)
		case errors.Is(err, apperror.ErrNotFound):
			p.log.Debug("seller id not indexed, probing", slog.String("sellerID", sellerID))
		default:
			return nil, fmt.Errorf("reverse index lookup: %w", err)
		}
	}
	return p.scanOwners(ctx, questionID)
}

func (p *QuestionPipeline) fetchAs(ctx context.Context, userID, questionID string) (*questionOwner, error) {
	cred, err := p.deps.Tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("token for %s: %w", userID, err)
	}
	q, err := p.deps.Market.GetQuestion(ctx, cred.AccessToken, questionID)
	if err != nil {
		return nil, fmt.Errorf("fetching question as %s: %w", userID, err)
	}
	return &questionOwner{userID: userID, cred: cred, question: q}, nil
}

func (p *QuestionPipeline) scanOwners(ctx context.Context, questionID string) (*questionOwner, error) {
	userIDs, err := p.deps.Credentials.ListCredentialUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing connected sellers: %w", err)
	}
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		owner, err := p.fetchAs(ctx, userID, questionID)
		if err != nil {
			continue
		}
		if owner.question.SellerID != 0 && owner.cred.SellerID != "" &&
			strconv.FormatInt(owner.question.SellerID, 10) != owner.cred.SellerID {
			continue
		}
		return owner, nil
	}
	return nil, errNoOwner
}
