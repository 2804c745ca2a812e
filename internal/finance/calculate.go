package finance

// Calculator defaults.
const (
	DefaultCalcShipping = 20.0
	DefaultCalcFeePct   = 11.0
	DefaultCalcTaxPct   = 5.0
)

// ProfitInput feeds the standalone profit calculator. Nil fields take the
// calculator defaults.
type ProfitInput struct {
	SalePrice   float64  `json:"sale_price" validate:"gt=0"`
	ProductCost float64  `json:"product_cost" validate:"gte=0"`
	Shipping    *float64 `json:"shipping,omitempty" validate:"omitempty,gte=0"`
	FeePct      *float64 `json:"fee_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
	TaxPct      *float64 `json:"tax_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
}

type ProfitResult struct {
	UnitProfit    float64 `json:"unit_profit"`
	MarginPct     float64 `json:"margin_pct"`
	TotalExpenses float64 `json:"total_expenses"`
}

// Calculate returns unit profit, margin and non-product expenses for a sale.
func Calculate(in ProfitInput) ProfitResult {
	shipping := valueOr(in.Shipping, DefaultCalcShipping)
	fee := in.SalePrice * valueOr(in.FeePct, DefaultCalcFeePct) / 100
	tax := in.SalePrice * valueOr(in.TaxPct, DefaultCalcTaxPct) / 100

	profit := in.SalePrice - in.ProductCost - fee - tax - shipping
	var margin float64
	if in.SalePrice != 0 {
		margin = profit / in.SalePrice * 100
	}

	return ProfitResult{
		UnitProfit:    round2(profit),
		MarginPct:     round2(margin),
		TotalExpenses: round2(fee + tax + shipping),
	}
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
