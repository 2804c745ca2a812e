package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/marketplace"
	"github.com/sakif/mercado-insights/internal/service"
)

// ListingService is the read-only view of the seller's marketplace account.
type ListingService interface {
	Items(ctx context.Context, userID, status string, limit, offset int) (*service.ItemsPage, error)
	Item(ctx context.Context, userID, itemID string) (*service.ItemDetail, error)
	Orders(ctx context.Context, userID, status string, limit, offset int) (*marketplace.OrderPage, error)
	Order(ctx context.Context, userID, orderID string) (*marketplace.Order, error)
	Questions(ctx context.Context, userID, itemID, status string, limit, offset int) (*marketplace.QuestionPage, error)
	Search(ctx context.Context, userID string, sq marketplace.SearchQuery) (*marketplace.SearchPage, error)
	Compare(ctx context.Context, userID, itemID string) (*service.Comparison, error)
	Metrics(ctx context.Context, userID string) (*service.AccountMetrics, error)
}

var _ ListingService = (*service.ListingService)(nil)

const defaultPageSize = 20

var itemStatuses = map[string]bool{
	marketplace.StatusAll: true,
	"active":              true,
	"paused":              true,
	"closed":              true,
	"under_review":        true,
}

type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, logger: logger}
}

// HandleItems lists the seller's listings. ?status= accepts active, paused,
// closed, under_review or all (default active).
func (h *ListingHandler) HandleItems(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, offset, err := pageParams(r, defaultPageSize)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	status := strings.ToLower(r.URL.Query().Get("status"))
	if status == "" {
		status = "active"
	}
	if !itemStatuses[status] {
		writeError(w, h.logger, r, apperror.ValidationFailed("status", "Status de anúncio inválido."))
		return
	}

	page, err := h.listings.Items(r.Context(), u.ID, status, limit, offset)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ListingHandler) HandleItem(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	detail, err := h.listings.Item(r.Context(), u.ID, chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *ListingHandler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, offset, err := pageParams(r, defaultPageSize)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	page, err := h.listings.Orders(r.Context(), u.ID, r.URL.Query().Get("status"), limit, offset)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ListingHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	order, err := h.listings.Order(r.Context(), u.ID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// HandleQuestions lists questions as the marketplace reports them, either
// for one listing (?item_id=) or for the whole account.
func (h *ListingHandler) HandleQuestions(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, offset, err := pageParams(r, defaultPageSize)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	q := r.URL.Query()
	page, err := h.listings.Questions(r.Context(), u.ID, q.Get("item_id"), q.Get("status"), limit, offset)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ListingHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit, offset, err := pageParams(r, defaultPageSize)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	q := r.URL.Query()
	page, err := h.listings.Search(r.Context(), u.ID, marketplace.SearchQuery{
		Query:  q.Get("q"),
		Sort:   q.Get("sort"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ListingHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	cmp, err := h.listings.Compare(r.Context(), u.ID, chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

func (h *ListingHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	m, err := h.listings.Metrics(r.Context(), u.ID)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
