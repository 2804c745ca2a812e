package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/finance"
	"github.com/sakif/mercado-insights/internal/marketplace"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
)

const (
	minSearchLength   = 2
	compareTermLength = 80
	compareDepth      = marketplace.MaxPageSize
)

// ItemView is a listing with the seller's saved cost sheet, when any.
type ItemView struct {
	marketplace.Item
	Cost *model.CostRecord `json:"cost,omitempty"`
}

type ItemsPage struct {
	Total   int        `json:"total"`
	Offset  int        `json:"offset"`
	Limit   int        `json:"limit"`
	Items   []ItemView `json:"items"`
	ItemIDs []string   `json:"item_ids"`
}

type ItemDetail struct {
	Item        *marketplace.Item `json:"item"`
	Description string            `json:"description"`
}

// Comparison places one of the seller's listings among the search results
// for its own title. UserPosition is 1-based and nil outside the top 50.
type Comparison struct {
	MyItem       *marketplace.Item       `json:"my_item"`
	SearchTerm   string                  `json:"search_term"`
	Results      []marketplace.SearchHit `json:"results"`
	Paging       marketplace.Paging      `json:"paging"`
	UserPosition *int                    `json:"user_position"`
	TotalResults int                     `json:"total_results"`
	InTop50      bool                    `json:"in_top_50"`
}

type ItemCounts struct {
	Active int `json:"active"`
	Paused int `json:"paused"`
	Closed int `json:"closed"`
	Total  int `json:"total"`
}

type AccountMetrics struct {
	Items  ItemCounts `json:"items"`
	Orders struct {
		Paid int `json:"paid"`
	} `json:"orders"`
}

// ListingService serves the seller's marketplace data: listings, orders,
// remote questions, search and account metrics.
type ListingService struct {
	tokens TokenProvider
	market Marketplace
	costs  repository.CostRepository
	logger *slog.Logger
}

func NewListingService(tokens TokenProvider, market Marketplace, costs repository.CostRepository, logger *slog.Logger) *ListingService {
	return &ListingService{tokens: tokens, market: market, costs: costs, logger: logger}
}

// Items returns one page of listings with details. Subscription plan
// listings are removed and saved costs are attached.
func (s *ListingService) Items(ctx context.Context, userID, status string, limit, offset int) (*ItemsPage, error) {
	cred, err := connected(ctx, s.tokens, userID)
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = "active"
	}

	ids, err := s.market.ListItemIDs(ctx, cred.AccessToken, cred.SellerID, status, limit, offset)
	if err != nil {
		return nil, upstream("Erro ao buscar anúncios do Mercado Livre.", err)
	}

	page := &ItemsPage{
		Total:   ids.Paging.Total,
		Offset:  ids.Paging.Offset,
		Limit:   ids.Paging.Limit,
		Items:   []ItemView{},
		ItemIDs: ids.Results,
	}
	if len(ids.Results) == 0 {
		return page, nil
	}

	items, err := s.market.GetItems(ctx, cred.AccessToken, ids.Results)
	if err != nil {
		return nil, upstream("Erro ao buscar detalhes dos anúncios.", err)
	}

	costs, err := s.costs.ListCosts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/listing: loading costs: %w", err)
	}

	for _, it := range items {
		if finance.IsSubscriptionPlan(it.Title) {
			continue
		}
		view := ItemView{Item: it}
		if c, ok := costs[it.ID]; ok {
			view.Cost = &c
		}
		page.Items = append(page.Items, view)
	}
	return page, nil
}

// Item returns one listing and its description.
func (s *ListingService) Item(ctx context.Context, userID, itemID string) (*ItemDetail, error) {
	cred, err := s.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	item, err := s.market.GetItem(ctx, cred.AccessToken, itemID)
	if err != nil {
		return nil, notFoundOr(err, "Anúncio", itemID, "Erro ao buscar o anúncio.")
	}

	desc, err := s.market.GetItemDescription(ctx, cred.AccessToken, itemID)
	if err != nil {
		s.logger.Warn("item description unavailable",
			slog.String("itemID", itemID),
			slog.String("error", err.Error()),
		)
	}
	return &ItemDetail{Item: item, Description: desc}, nil
}

func (s *ListingService) Orders(ctx context.Context, userID, status string, limit, offset int) (*marketplace.OrderPage, error) {
	cred, err := connected(ctx, s.tokens, userID)
	if err != nil {
		return nil, err
	}
	page, err := s.market.ListOrders(ctx, cred.AccessToken, cred.SellerID, status, limit, offset)
	if err != nil {
		return nil, upstream("Erro ao buscar pedidos do Mercado Livre.", err)
	}
	return page, nil
}

func (s *ListingService) Order(ctx context.Context, userID, orderID string) (*marketplace.Order, error) {
	cred, err := s.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	order, err := s.market.GetOrder(ctx, cred.AccessToken, orderID)
	if err != nil {
		return nil, notFoundOr(err, "Pedido", orderID, "Erro ao buscar o pedido.")
	}
	return order, nil
}

// Questions lists the questions received on the seller's listings, as the
// marketplace reports them.
func (s *ListingService) Questions(ctx context.Context, userID, itemID, status string, limit, offset int) (*marketplace.QuestionPage, error) {
	cred, err := connected(ctx, s.tokens, userID)
	if err != nil {
		return nil, err
	}
	page, err := s.market.SearchQuestions(ctx, cred.AccessToken, marketplace.QuestionFilter{
		SellerID: cred.SellerID,
		ItemID:   itemID,
		Status:   status,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return nil, upstream("Erro ao buscar perguntas do Mercado Livre.", err)
	}
	return page, nil
}

// Search runs a catalogue search. The seller's token is used when
// available but is not required.
func (s *ListingService) Search(ctx context.Context, userID string, sq marketplace.SearchQuery) (*marketplace.SearchPage, error) {
	sq.Query = strings.TrimSpace(sq.Query)
	if len([]rune(sq.Query)) < minSearchLength {
		return nil, apperror.ValidationFailed("q", "Digite pelo menos 2 caracteres para buscar.")
	}

	var token string
	if cred, err := s.tokens.GetValidToken(ctx, userID); err == nil {
		token = cred.AccessToken
	}

	page, err := s.market.Search(ctx, token, sq)
	if err != nil {
		return nil, upstream("Erro ao buscar no Mercado Livre.", err)
	}
	return page, nil
}

// Compare searches the marketplace for the listing's title (or category
// when the title is empty) and reports where the listing ranks.
func (s *ListingService) Compare(ctx context.Context, userID, itemID string) (*Comparison, error) {
	cred, err := connected(ctx, s.tokens, userID)
	if err != nil {
		return nil, err
	}

	item, err := s.market.GetItem(ctx, cred.AccessToken, itemID)
	if err != nil {
		return nil, notFoundOr(err, "Anúncio", itemID, "Erro ao buscar o anúncio.")
	}

	term := strings.TrimSpace(item.Title)
	if term == "" {
		term = item.CategoryID
	}
	if len([]rune(term)) < minSearchLength {
		return nil, apperror.ValidationFailed("item_id", "Não foi possível definir termo de busca para este anúncio.")
	}
	if r := []rune(term); len(r) > compareTermLength {
		term = string(r[:compareTermLength])
	}

	page, err := s.market.Search(ctx, cred.AccessToken, marketplace.SearchQuery{Query: term, Limit: compareDepth})
	if err != nil {
		return nil, upstream("Erro ao buscar concorrentes.", err)
	}

	cmp := &Comparison{
		MyItem:       item,
		SearchTerm:   term,
		Results:      page.Results,
		Paging:       page.Paging,
		TotalResults: page.Paging.Total,
	}
	for i, hit := range page.Results {
		if hit.ID == itemID {
			pos := i + 1
			cmp.UserPosition = &pos
			cmp.InTop50 = true
			break
		}
	}
	return cmp, nil
}

// Metrics counts listings per status and paid orders. The four lookups run
// concurrently; a failed lookup counts as zero.
func (s *ListingService) Metrics(ctx context.Context, userID string) (*AccountMetrics, error) {
	cred, err := connected(ctx, s.tokens, userID)
	if err != nil {
		return nil, err
	}

	var (
		m                      AccountMetrics
		active, paused, closed int
	)
	g, gctx := errgroup.WithContext(ctx)

	count := func(status string, dst *int) func() error {
		return func() error {
			page, err := s.market.ListItemIDs(gctx, cred.AccessToken, cred.SellerID, status, 1, 0)
			if err != nil {
				s.logger.Warn("counting listings",
					slog.String("status", status),
					slog.String("error", err.Error()),
				)
				return nil
			}
			*dst = page.Paging.Total
			return nil
		}
	}
	g.Go(count("active", &active))
	g.Go(count("paused", &paused))
	g.Go(count("closed", &closed))
	g.Go(func() error {
		page, err := s.market.ListOrders(gctx, cred.AccessToken, cred.SellerID, "paid", 1, 0)
		if err != nil {
			s.logger.Warn("counting paid orders", slog.String("error", err.Error()))
			return nil
		}
		m.Orders.Paid = page.Paging.Total
		return nil
	})
	_ = g.Wait()

	m.Items = ItemCounts{
		Active: active,
		Paused: paused,
		Closed: closed,
		Total:  active + paused + closed,
	}
	return &m, nil
}

// notFoundOr maps a marketplace 404 to apperror.ErrNotFound and anything
// else to an upstream failure.
func notFoundOr(err error, resource, id, message string) error {
	if marketplace.StatusCode(err) == http.StatusNotFound {
		return apperror.NotFound(resource, id)
	}
	return upstream(message, err)
}
