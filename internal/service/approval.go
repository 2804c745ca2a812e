package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/metrics"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
	"github.com/sakif/mercado-insights/internal/telemetry"
)

// maxAnswerLength is the marketplace limit for an answer, in runes.
const maxAnswerLength = 2000

// PublishResult reports what happened after the marketplace accepted the
// answer. FeedbackRecorded is false when no pending record matched.
type PublishResult struct {
	Published        bool `json:"published"`
	FeedbackRecorded bool `json:"feedback_recorded"`
}

// ApprovalService lists drafted questions and publishes approved answers.
type ApprovalService struct {
	questions repository.QuestionRepository
	tokens    TokenProvider
	market    Marketplace
	telemetry telemetry.Telemetry
	now       Clock
	logger    *slog.Logger
}

func NewApprovalService(
	questions repository.QuestionRepository,
	tokens TokenProvider,
	market Marketplace,
	tel telemetry.Telemetry,
	logger *slog.Logger,
) *ApprovalService {
	if tel == nil {
		tel = telemetry.NewNoop()
	}
	return &ApprovalService{
		questions: questions,
		tokens:    tokens,
		market:    market,
		telemetry: tel,
		now:       systemClock,
		logger:    logger,
	}
}

// ListPending returns the user's questions awaiting approval, newest first.
func (s *ApprovalService) ListPending(ctx context.Context, userID string) ([]model.PendingQuestion, error) {
	qs, err := s.questions.ListPendingQuestions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/approval: listing pending: %w", err)
	}
	if qs == nil {
		qs = []model.PendingQuestion{}
	}
	return qs, nil
}

// Publish posts text as the answer to questionID.
//
// Nothing local changes unless the marketplace accepts the answer. After
// that, the pending record is marked published and the draft/final pair is
// stored as feedback; a missing record or a storage failure there is logged
// and the publication still succeeds.
func (s *ApprovalService) Publish(ctx context.Context, userID, questionID, text string) (*PublishResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperror.ValidationFailed("text", "A resposta não pode estar vazia.")
	}
	if len([]rune(text)) > maxAnswerLength {
		return nil, apperror.ValidationFailed("text",
			fmt.Sprintf("A resposta deve ter no máximo %d caracteres.", maxAnswerLength))
	}
	if _, err := strconv.ParseInt(questionID, 10, 64); err != nil {
		return nil, apperror.ValidationFailed("question_id", "ID da pergunta inválido.")
	}

	cred, err := s.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	_, err = s.market.PostAnswer(ctx, cred.AccessToken, questionID, text)
	metrics.AnswersPublishedTotal.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		s.logger.Warn("publishing answer failed",
			slog.String("userID", userID),
			slog.String("questionID", questionID),
			slog.String("error", err.Error()),
		)
		return nil, upstream("Não foi possível publicar a resposta no Mercado Livre.", err)
	}

	track(ctx, s.telemetry, s.logger, userID, telemetry.EventAnswerPublished, map[string]any{
		"question_id": questionID,
	})

	return &PublishResult{
		Published:        true,
		FeedbackRecorded: s.recordFeedback(ctx, userID, questionID, text),
	}, nil
}

func (s *ApprovalService) recordFeedback(ctx context.Context, userID, questionID, text string) bool {
	log := s.logger.With(slog.String("userID", userID), slog.String("questionID", questionID))

	pq, err := s.questions.GetPendingQuestion(ctx, userID, questionID)
	if errors.Is(err, apperror.ErrNotFound) {
		log.Debug("published answer has no pending record")
		return false
	}
	if err != nil {
		log.Error("loading pending question", slog.String("error", err.Error()))
		return false
	}
	if pq.Status != model.QuestionPending {
		return false
	}

	fb := &model.QuestionFeedback{
		UserID:       userID,
		QuestionID:   questionID,
		QuestionText: pq.QuestionText,
		DraftAnswer:  pq.DraftAnswer,
		FinalAnswer:  text,
	}
	if err := s.questions.MarkPublished(ctx, pq.ID, s.now(), fb); err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			log.Error("recording answer feedback", slog.String("error", err.Error()))
		}
		return false
	}
	log.Info("answer published", slog.Bool("edited", pq.DraftAnswer != text))
	return true
}
