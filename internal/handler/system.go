package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/mercado-insights/internal/auth"
	"github.com/sakif/mercado-insights/internal/model"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClerkPublicConfig is what the frontend needs to initialise Clerk.
type ClerkPublicConfig struct {
	PublishableKey string `json:"publishableKey"`
	FrontendAPI    string `json:"frontendApi"`
}

type SystemHandler struct {
	clerk  ClerkPublicConfig
	db     Pinger
	logger *slog.Logger
}

func NewSystemHandler(clerk ClerkPublicConfig, db Pinger, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{clerk: clerk, db: db, logger: logger}
}

// HandleHealth answers 200 when the database responds within two seconds.
func (h *SystemHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SystemHandler) HandleClerkConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.clerk)
}

// currentUser returns the user set by auth.RequireUser. Routes are always
// mounted behind it, so a miss is answered as unauthorized.
func currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Sessão inválida. Faça login novamente.",
		})
		return nil, false
	}
	return u, true
}
