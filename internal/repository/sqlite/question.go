package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/mercado-insights/internal/apperror"
	"github.com/sakif/mercado-insights/internal/model"
	"github.com/sakif/mercado-insights/internal/repository"
)

var (
	_ repository.QuestionRepository = (*DB)(nil)
	_ repository.FeedbackRepository = (*DB)(nil)
)

const questionColumns = `id, user_id, question_id, item_id, item_title, question_text,
	draft_answer, status, created_at, updated_at, published_at`

func scanQuestion(row rowScanner) (*model.PendingQuestion, error) {
	var (
		q           model.PendingQuestion
		publishedAt sql.NullTime
	)
	err := row.Scan(
		&q.ID,
		&q.UserID,
		&q.QuestionID,
		&q.ItemID,
		&q.ItemTitle,
		&q.QuestionText,
		&q.DraftAnswer,
		&q.Status,
		&q.CreatedAt,
		&q.UpdatedAt,
		&publishedAt,
	)
	if err != nil {
		return nil, err
	}
	q.PublishedAt = timePtr(publishedAt)
	return &q, nil
}

// CreatePendingQuestion inserts q with status pending. The unique
// question_id column is the idempotency key: a second insert for the same
// marketplace question is rejected with apperror.ErrConflict.
func (db *DB) CreatePendingQuestion(ctx context.Context, q *model.PendingQuestion) error {
	ts := now()
	id := xid.New().String()

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO pending_questions
			(id, user_id, question_id, item_id, item_title, question_text, draft_answer, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(question_id) DO NOTHING`,
		id, q.UserID, q.QuestionID, q.ItemID, q.ItemTitle, q.QuestionText, q.DraftAnswer,
		model.QuestionPending, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting question %s: %w", q.QuestionID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: reading rows affected: %w", err)
	}
	if n == 0 {
		return apperror.Conflict("pergunta", q.QuestionID)
	}

	q.ID = id
	q.Status = model.QuestionPending
	q.CreatedAt = ts
	q.UpdatedAt = ts
	return nil
}

func (db *DB) QuestionExists(ctx context.Context, questionID string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pending_questions WHERE question_id = ?)`, questionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking question %s: %w", questionID, err)
	}
	return exists, nil
}

// GetPendingQuestion looks up a question by marketplace id, scoped to userID.
func (db *DB) GetPendingQuestion(ctx context.Context, userID, questionID string) (*model.PendingQuestion, error) {
	q, err := scanQuestion(db.conn.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM pending_questions WHERE user_id = ? AND question_id = ?`,
		userID, questionID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("pergunta", questionID)
		}
		return nil, fmt.Errorf("sqlite: getting question %s: %w", questionID, err)
	}
	return q, nil
}

func (db *DB) ListPendingQuestions(ctx context.Context, userID string) ([]model.PendingQuestion, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM pending_questions
		 WHERE user_id = ? AND status = ?
		 ORDER BY created_at DESC, rowid DESC`,
		userID, model.QuestionPending,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing questions for user %s: %w", userID, err)
	}
	defer rows.Close()

	questions := []model.PendingQuestion{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning question row: %w", err)
		}
		questions = append(questions, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating question rows: %w", err)
	}

	return questions, nil
}

// MarkPublished moves a pending question to published and appends fb.
// Only a row still in pending is updated, so feedback is written at most
// once per question.
func (db *DB) MarkPublished(ctx context.Context, id string, publishedAt time.Time, fb *model.QuestionFeedback) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning publish tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE pending_questions SET status = ?, published_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		model.QuestionPublished, publishedAt.UTC(), now(), id, model.QuestionPending,
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking question %s published: %w", id, err)
	}
	if err := requireRow(res, "pergunta pendente", id); err != nil {
		return err
	}

	if fb != nil {
		fb.ID = xid.New().String()
		fb.CreatedAt = publishedAt.UTC()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO question_feedback
				(id, user_id, question_id, question_text, draft_answer, final_answer, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fb.ID, fb.UserID, fb.QuestionID, fb.QuestionText, fb.DraftAnswer, fb.FinalAnswer, fb.CreatedAt,
		); err != nil {
			return fmt.Errorf("sqlite: inserting feedback for question %s: %w", fb.QuestionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing publish: %w", err)
	}
	return nil
}

func (db *DB) RecentFeedback(ctx context.Context, userID string, limit int) ([]model.QuestionFeedback, error) {
	if limit <= 0 {
		return []model.QuestionFeedback{}, nil
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, question_id, question_text, draft_answer, final_answer, created_at
		 FROM question_feedback WHERE user_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing feedback for user %s: %w", userID, err)
	}
	defer rows.Close()

	out := []model.QuestionFeedback{}
	for rows.Next() {
		var f model.QuestionFeedback
		if err := rows.Scan(&f.ID, &f.UserID, &f.QuestionID, &f.QuestionText,
			&f.DraftAnswer, &f.FinalAnswer, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning feedback row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (db *DB) PruneFeedback(ctx context.Context, keepPerUser int) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM question_feedback WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY user_id ORDER BY created_at DESC, rowid DESC
				) AS rn
				FROM question_feedback
			) WHERE rn > ?
		)`,
		keepPerUser,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: pruning feedback: %w", err)
	}
	return res.RowsAffected()
}
