package model

import "time"

// CostRecord is the seller-entered cost sheet for one listing.
// Nil percentages fall back to the panel defaults; a nil ProductCost means
// profit cannot be computed for the item.
type CostRecord struct {
	UserID      string    `json:"-"`
	ItemID      string    `json:"item_id"`
	SKU         string    `json:"sku,omitempty"`
	ProductCost *float64  `json:"product_cost"`
	Packaging   float64   `json:"packaging"`
	Shipping    float64   `json:"shipping"`
	FeePct      *float64  `json:"fee_pct"`
	TaxPct      *float64  `json:"tax_pct"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CostUpdate is a partial upsert: only non-nil fields overwrite the stored row.
type CostUpdate struct {
	ItemID      string   `json:"item_id" validate:"required,max=64"`
	SKU         *string  `json:"sku,omitempty" validate:"omitempty,max=120"`
	ProductCost *float64 `json:"product_cost,omitempty" validate:"omitempty,gte=0"`
	Packaging   *float64 `json:"packaging,omitempty" validate:"omitempty,gte=0"`
	Shipping    *float64 `json:"shipping,omitempty" validate:"omitempty,gte=0"`
	FeePct      *float64 `json:"fee_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
	TaxPct      *float64 `json:"tax_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
}
