package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

type PublishAttemptRepository interface {
	Create(ctx context.Context, pa *models.PublishAttempt) (int64, error)
	MarkSuccess(ctx context.Context, id int64, remotePublishID string, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.PublishAttempt, error)
	ListSucceededAccountIDs(ctx context.Context, postID int64) ([]int64, error)
}

type publishAttemptRepository struct {
	db *sql.DB
}

func NewPublishAttemptRepository(db *sql.DB) PublishAttemptRepository {
	return &publishAttemptRepository{db: db}
}

// Create inserts a new attempt row pre-seeded as failed; the orchestrator
// finalizes it exactly once with MarkSuccess or MarkFailed. Rows are never
// updated after that or deleted.
func (r *publishAttemptRepository) Create(ctx context.Context, pa *models.PublishAttempt) (int64, error) {
	query := `
		INSERT INTO publish_attempts (user_id, post_id, account_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, pa.UserID, pa.PostID, pa.AccountID, models.AttemptStatusFailed).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *publishAttemptRepository) MarkSuccess(ctx context.Context, id int64, remotePublishID string, publishedAt time.Time) error {
	query := `
		UPDATE publish_attempts
		SET status = $2, remote_publish_id = $3, published_at = $4
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, models.AttemptStatusSuccess, remotePublishID, publishedAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *publishAttemptRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	query := `
		UPDATE publish_attempts
		SET status = $2, error_message = $3
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, models.AttemptStatusFailed, errorMessage)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

const attemptColumns = `id, user_id, post_id, account_id, status, COALESCE(remote_publish_id, ''),
	COALESCE(error_message, ''), published_at, created_at`

func scanAttempt(row interface{ Scan(...interface{}) error }) (*models.PublishAttempt, error) {
	var pa models.PublishAttempt
	err := row.Scan(&pa.ID, &pa.UserID, &pa.PostID, &pa.AccountID, &pa.Status,
		&pa.RemotePublishID, &pa.ErrorMessage, &pa.PublishedAt, &pa.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &pa, nil
}

func (r *publishAttemptRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PublishAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM publish_attempts WHERE post_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, postID)
}

func (r *publishAttemptRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.PublishAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM publish_attempts WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, userID)
}

func (r *publishAttemptRepository) list(ctx context.Context, query string, arg int64) ([]*models.PublishAttempt, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.PublishAttempt
	for rows.Next() {
		pa, err := scanAttempt(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		attempts = append(attempts, pa)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return attempts, nil
}

// ListSucceededAccountIDs returns the accounts that already have a successful
// attempt for the post, so a retried cycle can skip them instead of
// double-publishing.
func (r *publishAttemptRepository) ListSucceededAccountIDs(ctx context.Context, postID int64) ([]int64, error) {
	query := `SELECT DISTINCT account_id FROM publish_attempts WHERE post_id = $1 AND status = $2`

	rows, err := r.db.QueryContext(ctx, query, postID, models.AttemptStatusSuccess)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return ids, nil
}
