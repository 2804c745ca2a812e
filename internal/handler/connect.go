package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/mercado-insights/internal/service"
)

// ConnectService runs the Mercado Livre account connection.
type ConnectService interface {
	AuthURL(ctx context.Context, userID string) (string, error)
	Connect(ctx context.Context, userID, code, state string) (*service.ConnectionStatus, error)
	Status(ctx context.Context, userID string) (*service.ConnectionStatus, error)
}

var _ ConnectService = (*service.CredentialService)(nil)

type ConnectHandler struct {
	credentials ConnectService
	logger      *slog.Logger
}

func NewConnectHandler(credentials ConnectService, logger *slog.Logger) *ConnectHandler {
	return &ConnectHandler{credentials: credentials, logger: logger}
}

type oauthCallbackRequest struct {
	Code  string `json:"code" validate:"required,max=512"`
	State string `json:"state" validate:"required,max=64"`
}

// HandleAuthURL returns the marketplace consent URL.
func (h *ConnectHandler) HandleAuthURL(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	url, err := h.credentials.AuthURL(r.Context(), u.ID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// HandleCallback receives the authorization code and state captured by the
// frontend after the marketplace redirect.
func (h *ConnectHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req oauthCallbackRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	st, err := h.credentials.Connect(r.Context(), u.ID, req.Code, req.State)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "seller_id": st.SellerID})
}

func (h *ConnectHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	st, err := h.credentials.Status(r.Context(), u.ID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
