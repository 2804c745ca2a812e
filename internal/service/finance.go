package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/finance"
	"github.com/sakif/mercado-insights/internal/marketplace"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
)

// MaxCostUpdates caps one SaveCosts batch.
const MaxCostUpdates = 500

// Insights is the LLM reading of a financial panel.
type Insights struct {
	Summary       string   `json:"resumo"`
	Alerts        []string `json:"alertas"`
	Suggestions   []string `json:"sugestoes"`
	Opportunities []string `json:"top_oportunidades"`
}

// FinanceService builds the financial panel from live listings and the
// seller's cost sheet.
type FinanceService struct {
	tokens   TokenProvider
	market   Marketplace
	costs    repository.CostRepository
	analyzer Analyzer
	logger   *slog.Logger
}

// NewFinanceService creates a FinanceService. analyzer is nil when no LLM
// is configured; Insights then reports the feature as unavailable.
func NewFinanceService(
	tokens TokenProvider,
	market Marketplace,
	costs repository.CostRepository,
	analyzer Analyzer,
	logger *slog.Logger,
) *FinanceService {
	return &FinanceService{
		tokens:   tokens,
		market:   market,
		costs:    costs,
		analyzer: analyzer,
		logger:   logger,
	}
}

// Panel computes per-item and aggregate profit over the seller's listings
// in every status (first page of each).
func (s *FinanceService) Panel(ctx context.Context, userID string) (*finance.Panel, error) {
	cred, err := connected(ctx, s.tokens, userID)
	if err != nil {
		return nil, err
	}

	ids, err := s.market.ListItemIDs(ctx, cred.AccessToken, cred.SellerID, marketplace.StatusAll, marketplace.MaxPageSize, 0)
	if err != nil {
		return nil, upstream("Erro ao buscar anúncios do Mercado Livre.", err)
	}

	var listings []finance.Listing
	if len(ids.Results) > 0 {
		items, err := s.market.GetItems(ctx, cred.AccessToken, ids.Results)
		if err != nil {
			return nil, upstream("Erro ao buscar detalhes dos anúncios.", err)
		}
		for _, it := range items {
			if finance.IsSubscriptionPlan(it.Title) {
				continue
			}
			listings = append(listings, finance.Listing{
				ID:                it.ID,
				Title:             it.Title,
				SKU:               it.SKU(),
				Price:             it.Price,
				SoldQuantity:      it.SoldQuantity,
				AvailableQuantity: it.AvailableQuantity,
				Status:            it.Status,
			})
		}
	}

	costs, err := s.costs.ListCosts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/finance: loading costs: %w", err)
	}

	panel := finance.Compute(listings, costs)
	return &panel, nil
}

// SaveCosts upserts the seller's cost sheet. Only supplied fields change.
func (s *FinanceService) SaveCosts(ctx context.Context, userID string, updates []model.CostUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, apperror.ValidationFailed("items", "Nenhum custo informado.")
	}
	if len(updates) > MaxCostUpdates {
		return 0, apperror.ValidationFailed("items",
			fmt.Sprintf("Envie no máximo %d itens por vez.", MaxCostUpdates))
	}
	for i := range updates {
		updates[i].ItemID = strings.TrimSpace(updates[i].ItemID)
		if updates[i].ItemID == "" {
			return 0, apperror.ValidationFailed("item_id", "Todo custo precisa do ID do anúncio.")
		}
	}

	n, err := s.costs.UpsertCosts(ctx, userID, updates)
	if err != nil {
		return 0, fmt.Errorf("service/finance: saving costs: %w", err)
	}
	s.logger.Info("costs saved", slog.String("userID", userID), slog.Int("count", n))
	return n, nil
}

// Calculate runs the standalone profit calculator.
func (s *FinanceService) Calculate(in finance.ProfitInput) (finance.ProfitResult, error) {
	if in.SalePrice <= 0 {
		return finance.ProfitResult{}, apperror.ValidationFailed("sale_price", "Preço de venda deve ser maior que zero.")
	}
	return finance.Calculate(in), nil
}

// Insights asks the LLM for a short reading of the seller's panel.
func (s *FinanceService) Insights(ctx context.Context, userID string) (*Insights, error) {
	if s.analyzer == nil {
		return nil, apperror.Unavailable("IA não configurada. Defina OPENAI_API_KEY.")
	}

	panel, err := s.Panel(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out Insights
	if err := s.analyzer.AnalyzeJSON(ctx, insightsPrompt(panel), &out); err != nil {
		s.logger.Warn("insights generation failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream("Não foi possível gerar os insights agora.", err)
	}
	if out.Alerts == nil {
		out.Alerts = []string{}
	}
	if out.Suggestions == nil {
		out.Suggestions = []string{}
	}
	if out.Opportunities == nil {
		out.Opportunities = []string{}
	}
	return &out, nil
}

func insightsPrompt(p *finance.Panel) string {
	return fmt.Sprintf(`Analise os dados financeiros de um vendedor do Mercado Livre e retorne um JSON com:
- "resumo": string curta (1-2 frases) sobre a saúde financeira geral
- "alertas": lista de strings com problemas (ex: muitos itens sem custo, margem baixa)
- "sugestoes": lista de strings com recomendações de melhoria
- "top_oportunidades": lista de até 3 strings com as maiores oportunidades

Dados: %d anúncios, lucro total R$ %.2f, margem média %.2f%%, %d itens sem custo cadastrado.
Retorne APENAS o JSON, sem markdown.`,
		len(p.Items), p.Metrics.ProfitTotal, p.Metrics.MarginMean, p.Metrics.MissingCost)
}
