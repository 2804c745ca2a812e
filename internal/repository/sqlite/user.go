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

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, clerk_user_id, email, plan, telegram_chat_id, notify_email, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.ClerkUserID,
		&u.Email,
		&u.Plan,
		&u.TelegramChatID,
		&u.NotifyEmail,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreateUser inserts a free-plan user for clerkUserID, or refreshes the
// stored email when a different non-empty one is supplied. The upsert keeps
// concurrent first requests for the same subject from creating two rows.
func (db *DB) GetOrCreateUser(ctx context.Context, clerkUserID, email string) (*model.User, error) {
	ts := now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, clerk_user_id, email, plan, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(clerk_user_id) DO UPDATE SET
			email = excluded.email,
			updated_at = excluded.updated_at
		 WHERE excluded.email != '' AND excluded.email != users.email`,
		xid.New().String(),
		clerkUserID,
		email,
		model.PlanFree,
		ts,
		ts,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: upserting user %s: %w", clerkUserID, err)
	}

	return db.GetUserByClerkID(ctx, clerkUserID)
}

// GetUserByID returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("usuário", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

func (db *DB) GetUserByClerkID(ctx context.Context, clerkUserID string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE clerk_user_id = ?`, clerkUserID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("usuário", clerkUserID)
		}
		return nil, fmt.Errorf("sqlite: getting user by clerk id %s: %w", clerkUserID, err)
	}
	return u, nil
}

func (db *DB) UpdatePlan(ctx context.Context, userID string, plan model.Plan) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET plan = ?, updated_at = ? WHERE id = ?`,
		plan, now(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating plan for user %s: %w", userID, err)
	}
	return requireRow(res, "usuário", userID)
}

func (db *DB) UpdateNotificationSettings(ctx context.Context, userID, telegramChatID, notifyEmail string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET telegram_chat_id = ?, notify_email = ?, updated_at = ? WHERE id = ?`,
		telegramChatID, notifyEmail, now(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating notification settings for user %s: %w", userID, err)
	}
	return requireRow(res, "usuário", userID)
}

// ListUsers returns users newest first.
func (db *DB) ListUsers(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	limit, offset := pageBounds(opts)

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating user rows: %w", err)
	}

	return users, nil
}

// requireRow turns "no row matched" into apperror.ErrNotFound.
func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

func pageBounds(opts repository.ListOptions) (limit, offset int) {
	limit = opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset = opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
