package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/service"
)

// ApprovalService lists drafted answers and publishes the seller's choice.
type ApprovalService interface {
	ListPending(ctx context.Context, userID string) ([]model.PendingQuestion, error)
	Publish(ctx context.Context, userID, questionID, text string) (*service.PublishResult, error)
}

// NotificationReceiver accepts marketplace webhook deliveries.
type NotificationReceiver interface {
	HandleNotification(ctx context.Context, n service.Notification) error
}

var (
	_ ApprovalService      = (*service.ApprovalService)(nil)
	_ NotificationReceiver = (*service.QuestionPipeline)(nil)
)

type QuestionHandler struct {
	approvals ApprovalService
	pipeline  NotificationReceiver
	logger    *slog.Logger
}

func NewQuestionHandler(approvals ApprovalService, pipeline NotificationReceiver, logger *slog.Logger) *QuestionHandler {
	return &QuestionHandler{approvals: approvals, pipeline: pipeline, logger: logger}
}

type answerRequest struct {
	Text string `json:"text" validate:"required"`
}

type pendingResponse struct {
	Questions []model.PendingQuestion `json:"questions"`
}

func (h *QuestionHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	qs, err := h.approvals.ListPending(r.Context(), u.ID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if qs == nil {
		qs = []model.PendingQuestion{}
	}
	writeJSON(w, http.StatusOK, pendingResponse{Questions: qs})
}

// HandleAnswer publishes the approved (possibly edited) answer.
func (h *QuestionHandler) HandleAnswer(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req answerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	res, err := h.approvals.Publish(r.Context(), u.ID, chi.URLParam(r, "questionID"), req.Text)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleWebhook acknowledges a Mercado Livre notification. The body is
// queued and processed in the background; only a full queue is reported
// back so the marketplace retries. Unparseable bodies are acknowledged too,
// since redelivering them would never succeed.
func (h *QuestionHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var n service.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		h.logger.Warn("unreadable marketplace webhook", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.pipeline.HandleNotification(r.Context(), n); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
