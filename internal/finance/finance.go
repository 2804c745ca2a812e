// Package finance joins listing data with seller-entered costs to compute
// profit and margin. Everything here is pure: no I/O, no clock.
package finance

import (
	"math"
	"sort"
	"strings"

	"github.com/sakif/mercado-insights/internal/model"
)

const (
	DefaultFeePct = 13.0
	DefaultTaxPct = 5.0

	// TopProfitSize is how many items the top_profit ranking holds.
	TopProfitSize = 10
)

// Listing is the subset of a marketplace listing the panel needs.
type Listing struct {
	ID                string
	Title             string
	SKU               string
	Price             float64
	SoldQuantity      int
	AvailableQuantity int
	Status            string
}

// ItemResult is one row of the financial panel. Profit and MarginPct are nil
// when the seller has not entered a product cost.
type ItemResult struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	SKU               string   `json:"sku"`
	Price             float64  `json:"price"`
	SoldQuantity      int      `json:"sold_quantity"`
	AvailableQuantity int      `json:"available_quantity"`
	Status            string   `json:"status"`
	ProductCost       *float64 `json:"product_cost"`
	Packaging         float64  `json:"packaging"`
	Shipping          float64  `json:"shipping"`
	FeePct            float64  `json:"fee_pct"`
	TaxPct            float64  `json:"tax_pct"`
	FeeAmount         float64  `json:"fee_amount"`
	TaxAmount         float64  `json:"tax_amount"`
	CostTotal         float64  `json:"cost_total"`
	Profit            *float64 `json:"profit"`
	MarginPct         *float64 `json:"margin_pct"`
}

type Metrics struct {
	TotalListings  int     `json:"total_listings"`
	ActiveListings int     `json:"active_listings"`
	TotalStock     int     `json:"total_stock"`
	AvgPrice       float64 `json:"avg_price"`
	AvgFeePct      float64 `json:"avg_fee_pct"`
	ProfitMean     float64 `json:"profit_mean"`
	MarginMean     float64 `json:"margin_mean"`
	ProfitTotal    float64 `json:"profit_total"`
	FeeTotal       float64 `json:"fee_total"`
	MissingCost    int     `json:"missing_cost"`
}

type TopItem struct {
	ItemID    string   `json:"item_id"`
	SKU       string   `json:"sku"`
	Title     string   `json:"title"`
	Price     float64  `json:"price"`
	Cost      *float64 `json:"cost"`
	Profit    float64  `json:"profit"`
	MarginPct *float64 `json:"margin_pct"`
}

type Panel struct {
	Metrics   Metrics      `json:"metrics"`
	Items     []ItemResult `json:"items"`
	TopProfit []TopItem    `json:"top_profit"`
}

// Compute builds the panel for listings using the seller's cost records,
// keyed by item id. Fee, tax and profit totals are taken only over items
// with a known product cost.
func Compute(listings []Listing, costs map[string]model.CostRecord) Panel {
	p := Panel{
		Items:     make([]ItemResult, 0, len(listings)),
		TopProfit: []TopItem{},
	}
	if len(listings) == 0 {
		p.Metrics.AvgFeePct = DefaultFeePct
		return p
	}

	var (
		priceSum, feePctSum    float64
		profitSum, marginSum   float64
		feeTotal               float64
		withProfit, withMargin int
	)

	for _, l := range listings {
		r := itemResult(l, costs[l.ID])
		p.Items = append(p.Items, r)

		p.Metrics.TotalListings++
		if strings.EqualFold(l.Status, "active") {
			p.Metrics.ActiveListings++
		}
		p.Metrics.TotalStock += l.AvailableQuantity
		priceSum += l.Price
		feePctSum += r.FeePct

		if r.Profit == nil {
			p.Metrics.MissingCost++
			continue
		}
		withProfit++
		profitSum += *r.Profit
		feeTotal += r.FeeAmount
		if r.MarginPct != nil {
			withMargin++
			marginSum += *r.MarginPct
		}
	}

	n := float64(p.Metrics.TotalListings)
	p.Metrics.AvgPrice = round2(priceSum / n)
	p.Metrics.AvgFeePct = round2(feePctSum / n)
	p.Metrics.ProfitTotal = round2(profitSum)
	p.Metrics.FeeTotal = round2(feeTotal)
	if withProfit > 0 {
		p.Metrics.ProfitMean = round2(profitSum / float64(withProfit))
	}
	if withMargin > 0 {
		p.Metrics.MarginMean = round2(marginSum / float64(withMargin))
	}

	p.TopProfit = topProfit(p.Items, TopProfitSize)
	return p
}

func itemResult(l Listing, c model.CostRecord) ItemResult {
	feePct := DefaultFeePct
	if c.FeePct != nil {
		feePct = *c.FeePct
	}
	taxPct := DefaultTaxPct
	if c.TaxPct != nil {
		taxPct = *c.TaxPct
	}

	sku := c.SKU
	if sku == "" {
		sku = l.SKU
	}
	if sku == "" {
		sku = l.ID
	}

	fee := l.Price * feePct / 100
	tax := l.Price * taxPct / 100
	var productCost float64
	if c.ProductCost != nil {
		productCost = *c.ProductCost
	}
	total := productCost + fee + tax + c.Packaging + c.Shipping

	r := ItemResult{
		ID:                l.ID,
		Title:             l.Title,
		SKU:               sku,
		Price:             l.Price,
		SoldQuantity:      l.SoldQuantity,
		AvailableQuantity: l.AvailableQuantity,
		Status:            l.Status,
		ProductCost:       c.ProductCost,
		Packaging:         c.Packaging,
		Shipping:          c.Shipping,
		FeePct:            feePct,
		TaxPct:            taxPct,
		FeeAmount:         round2(fee),
		TaxAmount:         round2(tax),
		CostTotal:         round2(total),
	}

	if c.ProductCost != nil {
		profit := round2(l.Price - total)
		r.Profit = &profit
		if l.Price != 0 {
			margin := round2((l.Price - total) / l.Price * 100)
			r.MarginPct = &margin
		}
	}
	return r
}

func topProfit(items []ItemResult, n int) []TopItem {
	ranked := make([]ItemResult, 0, len(items))
	for _, it := range items {
		if it.Profit != nil {
			ranked = append(ranked, it)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return *ranked[i].Profit > *ranked[j].Profit })
	if len(ranked) > n {
		ranked = ranked[:n]
	}

	out := make([]TopItem, 0, len(ranked))
	for _, it := range ranked {
		out = append(out, TopItem{
			ItemID:    it.ID,
			SKU:       it.SKU,
			Title:     it.Title,
			Price:     it.Price,
			Cost:      it.ProductCost,
			Profit:    *it.Profit,
			MarginPct: it.MarginPct,
		})
	}
	return out
}

var subscriptionMarkers = []string{"plano pro", "plano mensal", "plano anual", "assinatura"}

// IsSubscriptionPlan reports whether a listing title looks like one of the
// seller's own subscription offers rather than a product.
func IsSubscriptionPlan(title string) bool {
	t := strings.ToLower(title)
	for _, m := range subscriptionMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
