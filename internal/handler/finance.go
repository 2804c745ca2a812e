package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/mercado-insights/internal/finance"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/service"
)

type FinanceService interface {
	Panel(ctx context.Context, userID string) (*finance.Panel, error)
	SaveCosts(ctx context.Context, userID string, updates []model.CostUpdate) (int, error)
	Calculate(in finance.ProfitInput) (finance.ProfitResult, error)
	Insights(ctx context.Context, userID string) (*service.Insights, error)
}

var _ FinanceService = (*service.FinanceService)(nil)

type FinanceHandler struct {
	finance FinanceService
	logger  *slog.Logger
}

func NewFinanceHandler(fs FinanceService, logger *slog.Logger) *FinanceHandler {
	return &FinanceHandler{finance: fs, logger: logger}
}

type saveCostsRequest struct {
	Items []model.CostUpdate `json:"items" validate:"required,min=1,dive"`
}

func (h *FinanceHandler) HandlePanel(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	panel, err := h.finance.Panel(r.Context(), u.ID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, panel)
}

func (h *FinanceHandler) HandleSaveCosts(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req saveCostsRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	n, err := h.finance.SaveCosts(r.Context(), u.ID, req.Items)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": n})
}

func (h *FinanceHandler) HandleInsights(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	ins, err := h.finance.Insights(r.Context(), u.ID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ins)
}

// HandleCalculate is the standalone profit calculator. It needs no
// marketplace connection.
func (h *FinanceHandler) HandleCalculate(w http.ResponseWriter, r *http.Request) {
	var in finance.ProfitInput
	if err := decode(w, r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	res, err := h.finance.Calculate(in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
