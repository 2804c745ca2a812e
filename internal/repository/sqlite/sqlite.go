// Package sqlite implements the repository interfaces on SQLite through
// database/sql and the pure-Go modernc.org/sqlite driver.
//
// CONNECTIONS:
// The pool is capped at a single connection. SQLite serialises writers
// anyway, and a single connection keeps ":memory:" databases (tests) from
// splitting into one empty database per pooled connection. Each repository
// method acquires the connection for one statement or one short
// transaction; no transaction spans a network call.
//
// SECRETS:
// Credential tokens pass through a Sealer before they are written and after
// they are read, so the database file never holds plaintext tokens.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Sealer encrypts token columns. *secret.Box satisfies it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// DB wraps the connection pool and implements every repository interface.
type DB struct {
	conn   *sql.DB
	sealer Sealer
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/mercado.db" → file-based database
//   - ":memory:"        → in-memory database for tests
func New(dbPath string, sealer Sealer) (*DB, error) {
	if sealer == nil {
		return nil, errors.New("sqlite: a token sealer is required")
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn, sealer: sealer}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks that the database file is still reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates every table idempotently. Later schema changes go through
// addColumnIfNotExists so existing files upgrade in place.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				id               TEXT PRIMARY KEY,
				clerk_user_id    TEXT NOT NULL UNIQUE,
				email            TEXT NOT NULL DEFAULT '',
				plan             TEXT NOT NULL DEFAULT 'free',
				telegram_chat_id TEXT NOT NULL DEFAULT '',
				created_at       DATETIME NOT NULL,
				updated_at       DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at);
		`},
		{"subscriptions", `
			CREATE TABLE IF NOT EXISTS subscriptions (
				id          TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				external_id TEXT NOT NULL UNIQUE,
				status      TEXT NOT NULL,
				started_at  DATETIME,
				ends_at     DATETIME,
				created_at  DATETIME NOT NULL,
				updated_at  DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id);
		`},
		// seller_id is the reverse index for webhook owner resolution.
		{"credentials", `
			CREATE TABLE IF NOT EXISTS credentials (
				user_id       TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
				access_token  TEXT NOT NULL,
				refresh_token TEXT NOT NULL DEFAULT '',
				seller_id     TEXT NOT NULL DEFAULT '',
				expires_at    DATETIME,
				created_at    DATETIME NOT NULL,
				updated_at    DATETIME NOT NULL
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_seller_id
				ON credentials(seller_id) WHERE seller_id != '';
		`},
		// expires_at is unix seconds so expiry checks compare integers.
		{"oauth_states", `
			CREATE TABLE IF NOT EXISTS oauth_states (
				state      TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				expires_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_oauth_states_expires_at ON oauth_states(expires_at);
		`},
		{"pending_questions", `
			CREATE TABLE IF NOT EXISTS pending_questions (
				id            TEXT PRIMARY KEY,
				user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				question_id   TEXT NOT NULL UNIQUE,
				item_id       TEXT NOT NULL DEFAULT '',
				item_title    TEXT NOT NULL DEFAULT '',
				question_text TEXT NOT NULL,
				draft_answer  TEXT NOT NULL DEFAULT '',
				status        TEXT NOT NULL DEFAULT 'pending',
				created_at    DATETIME NOT NULL,
				updated_at    DATETIME NOT NULL,
				published_at  DATETIME
			);
			CREATE INDEX IF NOT EXISTS idx_pending_questions_user_status
				ON pending_questions(user_id, status, created_at);
		`},
		{"question_feedback", `
			CREATE TABLE IF NOT EXISTS question_feedback (
				id            TEXT PRIMARY KEY,
				user_id       TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				question_id   TEXT NOT NULL,
				question_text TEXT NOT NULL,
				draft_answer  TEXT NOT NULL DEFAULT '',
				final_answer  TEXT NOT NULL,
				created_at    DATETIME NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_question_feedback_user_created
				ON question_feedback(user_id, created_at);
		`},
		{"item_costs", `
			CREATE TABLE IF NOT EXISTS item_costs (
				user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				item_id      TEXT NOT NULL,
				sku          TEXT NOT NULL DEFAULT '',
				product_cost REAL,
				packaging    REAL NOT NULL DEFAULT 0,
				shipping     REAL NOT NULL DEFAULT 0,
				fee_pct      REAL,
				tax_pct      REAL,
				updated_at   DATETIME NOT NULL,
				PRIMARY KEY (user_id, item_id)
			);
		`},
	}

	for _, step := range steps {
		if _, err := db.conn.Exec(step.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", step.name, err)
		}
	}

	// Columns appended to existing tables go through addColumnIfNotExists.
	if err := db.addColumnIfNotExists("users", "notify_email",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding notify_email to users: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

func now() time.Time {
	return time.Now().UTC()
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return nullTime(*t)
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
