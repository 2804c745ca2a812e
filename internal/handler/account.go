package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/service"
)

// AccountService is the profile and notification settings surface.
// *service.UserService implements it.
type AccountService interface {
	Profile(u *model.User) service.Profile
	UpdateNotifications(ctx context.Context, u *model.User, telegramChatID, notifyEmail string) (*model.User, error)
	SendTestNotification(ctx context.Context, u *model.User) error
}

var _ AccountService = (*service.UserService)(nil)

type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

type notificationsRequest struct {
	TelegramChatID string `json:"telegram_chat_id" validate:"max=64"`
	NotifyEmail    string `json:"notify_email" validate:"max=254"`
}

// HandleMe returns the signed-in seller's profile.
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.accounts.Profile(u))
}

func (h *AccountHandler) HandleUpdateNotifications(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req notificationsRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	updated, err := h.accounts.UpdateNotifications(r.Context(), u, req.TelegramChatID, req.NotifyEmail)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.accounts.Profile(updated))
}

func (h *AccountHandler) HandleTestNotification(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.accounts.SendTestNotification(r.Context(), u); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}
