package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/xid"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
)

var _ repository.SubscriptionRepository = (*DB)(nil)

func (db *DB) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*model.Subscription, error) {
	var (
		s         model.Subscription
		startedAt sql.NullTime
		endsAt    sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, external_id, status, started_at, ends_at, created_at, updated_at
		 FROM subscriptions WHERE external_id = ?`,
		externalID,
	).Scan(&s.ID, &s.UserID, &s.ExternalID, &s.Status, &startedAt, &endsAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("assinatura", externalID)
		}
		return nil, fmt.Errorf("sqlite: getting subscription %s: %w", externalID, err)
	}
	s.StartedAt = timePtr(startedAt)
	s.EndsAt = timePtr(endsAt)
	return &s, nil
}

// SaveSubscription upserts by external id. A nil StartedAt keeps the stored
// start date; EndsAt is always overwritten.
func (db *DB) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	ts := now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO subscriptions (id, user_id, external_id, status, started_at, ends_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			user_id    = excluded.user_id,
			status     = excluded.status,
			started_at = COALESCE(excluded.started_at, subscriptions.started_at),
			ends_at    = excluded.ends_at,
			updated_at = excluded.updated_at`,
		xid.New().String(),
		sub.UserID,
		sub.ExternalID,
		sub.Status,
		nullTimePtr(sub.StartedAt),
		nullTimePtr(sub.EndsAt),
		ts,
		ts,
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving subscription %s: %w", sub.ExternalID, err)
	}

	stored, err := db.GetSubscriptionByExternalID(ctx, sub.ExternalID)
	if err != nil {
		return err
	}
	*sub = *stored
	return nil
}

// ListSubscriptions returns subscriptions newest first with the owner email.
func (db *DB) ListSubscriptions(ctx context.Context, opts repository.ListOptions) ([]model.SubscriptionView, error) {
	limit, offset := pageBounds(opts)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.external_id, s.status, s.started_at, s.ends_at,
		        s.created_at, s.updated_at, u.email
		 FROM subscriptions s JOIN users u ON u.id = s.user_id
		 ORDER BY s.created_at DESC, s.rowid DESC
		 LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []model.SubscriptionView{}
	for rows.Next() {
		var (
			v         model.SubscriptionView
			startedAt sql.NullTime
			endsAt    sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.UserID, &v.ExternalID, &v.Status, &startedAt, &endsAt,
			&v.CreatedAt, &v.UpdatedAt, &v.UserEmail); err != nil {
			return nil, fmt.Errorf("sqlite: scanning subscription row: %w", err)
		}
		v.StartedAt = timePtr(startedAt)
		v.EndsAt = timePtr(endsAt)
		subs = append(subs, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating subscription rows: %w", err)
	}

	return subs, nil
}
