package models

import (
	"database/sql"
	"time"
)

type Post struct {
	ID            int64        `db:"id" json:"id"`
	UserID        int64        `db:"user_id" json:"user_id"`
	PostType      string       `db:"post_type" json:"post_type"`
	Caption       string       `db:"caption" json:"caption"`
	Title         string       `db:"title" json:"title"`
	PrivacyLevel  string       `db:"privacy_level" json:"privacy_level"`
	ScheduledTime sql.NullTime `db:"scheduled_time" json:"scheduled_time"`
	Status        string       `db:"status" json:"status"`
	RetryCount    int          `db:"retry_count" json:"retry_count"`
	MaxRetries    int          `db:"max_retries" json:"max_retries"`
	ErrorMessage  string       `db:"error_message" json:"error_message"`
	PublishedAt   sql.NullTime `db:"published_at" json:"published_at"`
	IsDeleted     bool         `db:"is_deleted" json:"is_deleted"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at" json:"updated_at"`
}

// Post status lifecycle: draft -> scheduled -> pending -> publishing ->
// published | failed. A failed post may re-enter pending while retry budget
// remains, or via an explicit user retry. Published is terminal.
const (
	PostStatusDraft      = "draft"
	PostStatusScheduled  = "scheduled"
	PostStatusPending    = "pending"
	PostStatusPublishing = "publishing"
	PostStatusPublished  = "published"
	PostStatusFailed     = "failed"
)

const (
	PostTypeVideo     = "video"
	PostTypePhoto     = "photo"
	PostTypeSlideshow = "slideshow"
)

type MediaAsset struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	FileName    string    `db:"file_name"`
	FileType    string    `db:"file_type"`
	FileSize    int64     `db:"file_size"`
	FileURL     string    `db:"file_url"`
	Kind        string    `db:"kind"`
	IsProcessed bool      `db:"is_processed"`
	CreatedAt   time.Time `db:"created_at"`
}

const (
	MediaKindVideo           = "video"
	MediaKindImage           = "image"
	MediaKindSlideshowSource = "slideshow_source"
	MediaKindSlideshowVideo  = "slideshow_video"
)

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}
