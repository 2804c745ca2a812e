package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
	"github.com/sakif/mercado-insights/internal/service"
)

type AdminService interface {
	ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error)
	ListSubscriptions(ctx context.Context, opts repository.ListOptions) ([]model.SubscriptionView, error)
}

var _ AdminService = (*service.AdminService)(nil)

type AdminHandler struct {
	admin  AdminService
	logger *slog.Logger
}

func NewAdminHandler(admin AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

func (h *AdminHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r, 100)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	users, err := h.admin.ListUsers(r.Context(), repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *AdminHandler) HandleSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r, 100)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	subs, err := h.admin.ListSubscriptions(r.Context(), repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if subs == nil {
		subs = []model.SubscriptionView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}
