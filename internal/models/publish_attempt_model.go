package models

import (
	"database/sql"
	"time"
)

// PublishAttempt is the append-only audit row for one (post, account) publish
// try. Rows are created pre-seeded as failed and finalized exactly once.
type PublishAttempt struct {
	ID              int64        `db:"id" json:"id"`
	UserID          int64        `db:"user_id" json:"user_id"`
	PostID          int64        `db:"post_id" json:"post_id"`
	AccountID       int64        `db:"account_id" json:"account_id"`
	Status          string       `db:"status" json:"status"`
	RemotePublishID string       `db:"remote_publish_id" json:"remote_publish_id"`
	ErrorMessage    string       `db:"error_message" json:"error_message"`
	PublishedAt     sql.NullTime `db:"published_at" json:"published_at"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
}

const (
	AttemptStatusSuccess = "success"
	AttemptStatusFailed  = "failed"
)
