package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

type PostRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	ListDue(ctx context.Context, now time.Time, forward, backward time.Duration) ([]*models.Post, error)
	ClaimForPublish(ctx context.Context, postID int64) (bool, error)
	TransitionStatus(ctx context.Context, postID int64, from, to string) (bool, error)
	MarkPublished(ctx context.Context, postID int64, publishedAt time.Time) error
	MarkFailed(ctx context.Context, postID int64, errorMessage string, incrementRetry bool) error
	ResetForRetry(ctx context.Context, postID int64) (bool, error)
	SetError(ctx context.Context, postID int64, errorMessage string) error
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

const postColumns = `id, user_id, post_type, caption, title, privacy_level, scheduled_time, status,
	retry_count, max_retries, error_message, published_at, is_deleted, created_at, updated_at`

func scanPost(row interface{ Scan(...interface{}) error }) (*models.Post, error) {
	var p models.Post
	var errMsg sql.NullString
	err := row.Scan(&p.ID, &p.UserID, &p.PostType, &p.Caption, &p.Title, &p.PrivacyLevel,
		&p.ScheduledTime, &p.Status, &p.RetryCount, &p.MaxRetries, &errMsg,
		&p.PublishedAt, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ErrorMessage = errMsg.String
	return &p, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, post_type, caption, title, privacy_level, scheduled_time, status, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, post.UserID, post.PostType, post.Caption, post.Title,
			post.PrivacyLevel, post.ScheduledTime, post.Status, post.MaxRetries).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, post.UserID, post.PostType, post.Caption, post.Title,
			post.PrivacyLevel, post.ScheduledTime, post.Status, post.MaxRetries).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1 AND is_deleted = false`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 AND is_deleted = false ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return posts, nil
}

// ListDue returns scheduled posts whose time falls inside the poll window:
// no further out than now+forward, no staler than now-backward, with retry
// budget remaining.
func (r *postRepository) ListDue(ctx context.Context, now time.Time, forward, backward time.Duration) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts
		WHERE status = $1
		AND scheduled_time IS NOT NULL
		AND scheduled_time <= $2
		AND scheduled_time >= $3
		AND retry_count < max_retries
		AND is_deleted = false
		ORDER BY scheduled_time`

	rows, err := r.db.QueryContext(ctx, query, models.PostStatusScheduled, now.Add(forward), now.Add(-backward))
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return posts, nil
}

// TransitionStatus performs a conditional status update and reports whether
// this caller won the transition. The WHERE clause on the old status is what
// keeps overlapping pollers and re-delivered jobs from double-claiming a post.
func (r *postRepository) TransitionStatus(ctx context.Context, postID int64, from, to string) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status = $3 AND is_deleted = false
	`
	result, err := r.db.ExecContext(ctx, query, to, postID, from)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

// ClaimForPublish moves a pending post to publishing. Held only for the
// duration of the update itself, never across network calls.
func (r *postRepository) ClaimForPublish(ctx context.Context, postID int64) (bool, error) {
	return r.TransitionStatus(ctx, postID, models.PostStatusPending, models.PostStatusPublishing)
}

func (r *postRepository) MarkPublished(ctx context.Context, postID int64, publishedAt time.Time) error {
	query := `
		UPDATE posts
		SET status = $1, published_at = $2, error_message = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusPublished, publishedAt, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) MarkFailed(ctx context.Context, postID int64, errorMessage string, incrementRetry bool) error {
	increment := 0
	if incrementRetry {
		increment = 1
	}
	query := `
		UPDATE posts
		SET status = $1, error_message = $2, retry_count = retry_count + $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusFailed, errorMessage, increment, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ResetForRetry is the explicit user retry edge: failed -> pending with the
// retry budget and error cleared. Publishing is also accepted so a post whose
// cycle died before writing an outcome (worker crash, storage outage) has a
// manual way out.
func (r *postRepository) ResetForRetry(ctx context.Context, postID int64) (bool, error) {
	query := `
		UPDATE posts
		SET status = $1, retry_count = 0, error_message = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status IN ($3, $4) AND is_deleted = false
	`
	result, err := r.db.ExecContext(ctx, query, models.PostStatusPending, postID, models.PostStatusFailed, models.PostStatusPublishing)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *postRepository) SetError(ctx context.Context, postID int64, errorMessage string) error {
	query := `UPDATE posts SET error_message = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, errorMessage, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := `SELECT 1 FROM posts WHERE id = $1 AND user_id = $2 AND is_deleted = false`

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

// Remove soft-deletes; posts are never hard-deleted.
func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `UPDATE posts SET is_deleted = true, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
