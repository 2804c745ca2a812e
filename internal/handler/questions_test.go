package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/auth"
	"github.com/sakif/mercado-insights/internal/handler"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var seller = &model.User{ID: "u1", ClerkUserID: "user_1", Email: "seller@example.com", Plan: model.PlanActive}

// asUser attaches u to the request the way auth.RequireUser does.
func asUser(r *http.Request, u *model.User) *http.Request {
	return r.WithContext(auth.WithUser(r.Context(), u))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var body handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

// ============================================================================
// Mock approval service and pipeline
// ============================================================================

type mockApprovals struct {
	pending []model.PendingQuestion
	result  *service.PublishResult
	err     error
	gotUser string
	gotID   string
	gotText string
}

func (m *mockApprovals) ListPending(_ context.Context, userID string) ([]model.PendingQuestion, error) {
	m.gotUser = userID
	return m.pending, m.err
}

func (m *mockApprovals) Publish(_ context.Context, userID, questionID, text string) (*service.PublishResult, error) {
	m.gotUser, m.gotID, m.gotText = userID, questionID, text
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockReceiver struct {
	got []service.Notification
	err error
}

func (m *mockReceiver) HandleNotification(_ context.Context, n service.Notification) error {
	m.got = append(m.got, n)
	return m.err
}

func questionRouter(h *handler.QuestionHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/questions/pending", h.HandlePending)
	r.Post("/api/questions/{questionID}/answer", h.HandleAnswer)
	r.Post("/api/webhooks/mercadolivre", h.HandleWebhook)
	return r
}

func TestQuestionHandler_HandlePending(t *testing.T) {
	t.Run("lists pending questions for the user", func(t *testing.T) {
		approvals := &mockApprovals{pending: []model.PendingQuestion{
			{ID: "p1", QuestionID: "123", ItemTitle: "Caneca", QuestionText: "Tem azul?", DraftAnswer: "Temos sim!", Status: model.QuestionPending, CreatedAt: time.Now()},
		}}
		h := handler.NewQuestionHandler(approvals, &mockReceiver{}, testLogger())

		req := asUser(httptest.NewRequest(http.MethodGet, "/api/questions/pending", nil), seller)
		rr := httptest.NewRecorder()
		questionRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "u1", approvals.gotUser)

		var body struct {
			Questions []model.PendingQuestion `json:"questions"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		require.Len(t, body.Questions, 1)
		assert.Equal(t, "123", body.Questions[0].QuestionID)
	})

	t.Run("empty list is an empty array", func(t *testing.T) {
		h := handler.NewQuestionHandler(&mockApprovals{}, &mockReceiver{}, testLogger())

		req := asUser(httptest.NewRequest(http.MethodGet, "/api/questions/pending", nil), seller)
		rr := httptest.NewRecorder()
		questionRouter(h).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"questions":[]}`, rr.Body.String())
	})

	t.Run("no user in context", func(t *testing.T) {
		h := handler.NewQuestionHandler(&mockApprovals{}, &mockReceiver{}, testLogger())

		rr := httptest.NewRecorder()
		questionRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/questions/pending", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestQuestionHandler_HandleAnswer(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "published",
			body:       `{"text":"Temos sim, pode comprar!"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing text",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "malformed json",
			body:       `{"text":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "unknown question",
			body:       `{"text":"ok"}`,
			serviceErr: apperror.NotFound("Pergunta", "999"),
			wantStatus: http.StatusNotFound,
			wantCode:   "not_found",
		},
		{
			name:       "marketplace not connected",
			body:       `{"text":"ok"}`,
			serviceErr: apperror.NotConnected(),
			wantStatus: http.StatusForbidden,
			wantCode:   "ml_not_connected",
		},
		{
			name:       "marketplace rejected the answer",
			body:       `{"text":"ok"}`,
			serviceErr: apperror.Upstream("Erro ao publicar resposta.", errors.New("status 400")),
			wantStatus: http.StatusBadGateway,
			wantCode:   "upstream_error",
		},
		{
			name:       "unexpected failure hides details",
			body:       `{"text":"ok"}`,
			serviceErr: errors.New("database is locked"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			approvals := &mockApprovals{
				result: &service.PublishResult{Published: true, FeedbackRecorded: true},
				err:    tt.serviceErr,
			}
			h := handler.NewQuestionHandler(approvals, &mockReceiver{}, testLogger())

			req := asUser(httptest.NewRequest(http.MethodPost, "/api/questions/123/answer", bytes.NewBufferString(tt.body)), seller)
			rr := httptest.NewRecorder()
			questionRouter(h).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantCode != "" {
				body := decodeError(t, rr)
				assert.Equal(t, tt.wantCode, body.Error)
				assert.NotContains(t, body.Message, "database")
				return
			}
			assert.Equal(t, "123", approvals.gotID)
			assert.Equal(t, "Temos sim, pode comprar!", approvals.gotText)
			assert.JSONEq(t, `{"published":true,"feedback_recorded":true}`, rr.Body.String())
		})
	}
}

func TestQuestionHandler_HandleWebhook(t *testing.T) {
	t.Run("question notification is handed to the pipeline", func(t *testing.T) {
		recv := &mockReceiver{}
		h := handler.NewQuestionHandler(&mockApprovals{}, recv, testLogger())

		body := `{"_id":"abc","topic":"questions","resource":"/questions/5036111","user_id":123456789,"application_id":42,"attempts":1}`
		rr := httptest.NewRecorder()
		questionRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadolivre", bytes.NewBufferString(body)))

		assert.Equal(t, http.StatusOK, rr.Code)
		require.Len(t, recv.got, 1)
		assert.Equal(t, "5036111", recv.got[0].QuestionID())
		assert.Equal(t, service.FlexibleID("123456789"), recv.got[0].UserID)
	})

	t.Run("full queue asks for redelivery", func(t *testing.T) {
		recv := &mockReceiver{err: apperror.Unavailable("Fila de processamento cheia. Tente novamente.")}
		h := handler.NewQuestionHandler(&mockApprovals{}, recv, testLogger())

		body := `{"topic":"questions","resource":"/questions/1"}`
		rr := httptest.NewRecorder()
		questionRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadolivre", bytes.NewBufferString(body)))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("unreadable body is acknowledged", func(t *testing.T) {
		recv := &mockReceiver{}
		h := handler.NewQuestionHandler(&mockApprovals{}, recv, testLogger())

		rr := httptest.NewRecorder()
		questionRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/webhooks/mercadolivre", bytes.NewBufferString("not json")))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, recv.got)
	})
}
