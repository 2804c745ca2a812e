package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/service"
)

type BillingService interface {
	Checkout(ctx context.Context, u *model.User) (string, error)
	HandleWebhook(ctx context.Context, n service.PaymentNotification) error
}

var _ BillingService = (*service.BillingService)(nil)

type BillingHandler struct {
	billing BillingService
	logger  *slog.Logger
}

func NewBillingHandler(billing BillingService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{billing: billing, logger: logger}
}

// HandleCheckout returns the Mercado Pago subscription page for the user.
func (h *BillingHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	url, err := h.billing.Checkout(r.Context(), u)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *BillingHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var n service.PaymentNotification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		writeError(w, h.logger, r, apperror.ValidationFailed("", "Payload inválido."))
		return
	}
	if err := h.billing.HandleWebhook(r.Context(), n); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
