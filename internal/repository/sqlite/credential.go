package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
)

var _ repository.CredentialRepository = (*DB)(nil)

// GetCredential returns the decrypted credential for userID.
func (db *DB) GetCredential(ctx context.Context, userID string) (*model.Credential, error) {
	var (
		c         model.Credential
		access    string
		refresh   string
		expiresAt sql.NullTime
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, access_token, refresh_token, seller_id, expires_at, created_at, updated_at
		 FROM credentials WHERE user_id = ?`,
		userID,
	).Scan(&c.UserID, &access, &refresh, &c.SellerID, &expiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("credencial", userID)
		}
		return nil, fmt.Errorf("sqlite: getting credential for user %s: %w", userID, err)
	}

	if c.AccessToken, err = db.sealer.Open(access); err != nil {
		return nil, fmt.Errorf("sqlite: decrypting access token for user %s: %w", userID, err)
	}
	if c.RefreshToken, err = db.sealer.Open(refresh); err != nil {
		return nil, fmt.Errorf("sqlite: decrypting refresh token for user %s: %w", userID, err)
	}
	if expiresAt.Valid {
		c.ExpiresAt = expiresAt.Time
	}

	return &c, nil
}

// SaveCredential upserts the credential for cred.UserID. Inside the same
// transaction any other user's binding to the same seller id is removed so
// the reverse index stays one-to-one.
func (db *DB) SaveCredential(ctx context.Context, cred *model.Credential) error {
	access, err := db.sealer.Seal(cred.AccessToken)
	if err != nil {
		return fmt.Errorf("sqlite: encrypting access token: %w", err)
	}
	refresh, err := db.sealer.Seal(cred.RefreshToken)
	if err != nil {
		return fmt.Errorf("sqlite: encrypting refresh token: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning credential tx: %w", err)
	}
	defer tx.Rollback()

	if cred.SellerID != "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM credentials WHERE seller_id = ? AND user_id != ?`,
			cred.SellerID, cred.UserID,
		); err != nil {
			return fmt.Errorf("sqlite: releasing seller %s: %w", cred.SellerID, err)
		}
	}

	ts := now()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (user_id, access_token, refresh_token, seller_id, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			seller_id     = excluded.seller_id,
			expires_at    = excluded.expires_at,
			updated_at    = excluded.updated_at`,
		cred.UserID, access, refresh, cred.SellerID, nullTime(cred.ExpiresAt), ts, ts,
	); err != nil {
		return fmt.Errorf("sqlite: saving credential for user %s: %w", cred.UserID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing credential: %w", err)
	}

	cred.UpdatedAt = ts
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = ts
	}
	return nil
}

func (db *DB) FindUserIDBySellerID(ctx context.Context, sellerID string) (string, error) {
	var userID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id FROM credentials WHERE seller_id = ?`, sellerID,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperror.NotFound("vendedor", sellerID)
		}
		return "", fmt.Errorf("sqlite: resolving seller %s: %w", sellerID, err)
	}
	return userID, nil
}

// ListCredentialUserIDs returns every connected user, oldest connection first.
func (db *DB) ListCredentialUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id FROM credentials ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing credentials: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning credential row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
