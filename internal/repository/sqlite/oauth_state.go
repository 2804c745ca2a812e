package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/repository"
)

var _ repository.OAuthStateRepository = (*DB)(nil)

// SaveOAuthState records state for userID. Expired states of every user are
// purged in the same transaction.
func (db *DB) SaveOAuthState(ctx context.Context, userID, state string, expiresAt time.Time) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning oauth state tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at <= ?`, now().Unix(),
	); err != nil {
		return fmt.Errorf("sqlite: purging oauth states: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO oauth_states (state, user_id, expires_at) VALUES (?, ?, ?)`,
		state, userID, expiresAt.Unix(),
	); err != nil {
		return fmt.Errorf("sqlite: saving oauth state for user %s: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing oauth state: %w", err)
	}
	return nil
}

func (db *DB) ConsumeOAuthState(ctx context.Context, userID, state string, now time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE state = ? AND user_id = ? AND expires_at > ?`,
		state, userID, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: consuming oauth state for user %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: consuming oauth state for user %s: %w", userID, err)
	}
	if n == 0 {
		return apperror.NotFound("estado de autorização", state)
	}
	return nil
}
