package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
)

var _ repository.CostRepository = (*DB)(nil)

// ListCosts returns the user's cost sheet keyed by item id.
func (db *DB) ListCosts(ctx context.Context, userID string) (map[string]model.CostRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT item_id, sku, product_cost, packaging, shipping, fee_pct, tax_pct, updated_at
		 FROM item_costs WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing costs for user %s: %w", userID, err)
	}
	defer rows.Close()

	costs := make(map[string]model.CostRecord)
	for rows.Next() {
		var (
			c                 model.CostRecord
			product, fee, tax sql.NullFloat64
		)
		if err := rows.Scan(&c.ItemID, &c.SKU, &product, &c.Packaging, &c.Shipping,
			&fee, &tax, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning cost row: %w", err)
		}
		c.UserID = userID
		c.ProductCost = floatPtr(product)
		c.FeePct = floatPtr(fee)
		c.TaxPct = floatPtr(tax)
		costs[c.ItemID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating cost rows: %w", err)
	}

	return costs, nil
}

// UpsertCosts applies partial updates in one transaction. A nil field keeps
// the stored value (or the column default for new rows).
func (db *DB) UpsertCosts(ctx context.Context, userID string, updates []model.CostUpdate) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: beginning cost tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO item_costs
			(user_id, item_id, sku, product_cost, packaging, shipping, fee_pct, tax_pct, updated_at)
		 VALUES (?1, ?2, COALESCE(?3, ''), ?4, COALESCE(?5, 0), COALESCE(?6, 0), ?7, ?8, ?9)
		 ON CONFLICT(user_id, item_id) DO UPDATE SET
			sku          = COALESCE(?3, sku),
			product_cost = COALESCE(?4, product_cost),
			packaging    = COALESCE(?5, packaging),
			shipping     = COALESCE(?6, shipping),
			fee_pct      = COALESCE(?7, fee_pct),
			tax_pct      = COALESCE(?8, tax_pct),
			updated_at   = ?9`,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: preparing cost upsert: %w", err)
	}
	defer stmt.Close()

	ts := now()
	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx,
			userID,
			u.ItemID,
			nullString(u.SKU),
			nullFloat(u.ProductCost),
			nullFloat(u.Packaging),
			nullFloat(u.Shipping),
			nullFloat(u.FeePct),
			nullFloat(u.TaxPct),
			ts,
		); err != nil {
			return 0, fmt.Errorf("sqlite: upserting cost for item %s: %w", u.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: committing costs: %w", err)
	}
	return len(updates), nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
