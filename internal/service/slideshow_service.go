package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

// ComposedVideo describes the rendered slideshow after upload to storage.
type ComposedVideo struct {
	FileName string
	FileSize int64
	FileURL  string
}

// VideoComposer renders a video from ordered slideshow images. The rendered
// file is stored before the call returns; only metadata comes back.
type VideoComposer interface {
	Compose(ctx context.Context, userID int64, imageURLs []string) (*ComposedVideo, error)
}

// SlideshowResult reports one conversion cycle.
type SlideshowResult struct {
	PostID  int64
	AssetID int64
	Done    bool
	// RetryIn is how long to wait before the next conversion attempt;
	// zero when Done.
	RetryIn time.Duration
}

// SlideshowService turns a slideshow post's source images into a publishable
// video asset ahead of the scheduled publish time.
type SlideshowService interface {
	Convert(ctx context.Context, postID int64, attempt int) (*SlideshowResult, error)
}

type slideshowService struct {
	cfg      *config.Config
	posts    repository.PostRepository
	assets   repository.MediaAssetRepository
	media    repository.PostMediaRepository
	composer VideoComposer
}

func NewSlideshowService(
	cfg *config.Config,
	posts repository.PostRepository,
	assets repository.MediaAssetRepository,
	media repository.PostMediaRepository,
	composer VideoComposer,
) SlideshowService {
	return &slideshowService{
		cfg:      cfg,
		posts:    posts,
		assets:   assets,
		media:    media,
		composer: composer,
	}
}

// Convert renders the slideshow video for a post. Conversion is idempotent:
// a post that already has a processed video is left alone, so a re-delivered
// job never renders twice.
func (s *slideshowService) Convert(ctx context.Context, postID int64, attempt int) (*SlideshowResult, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	if post.PostType != models.PostTypeSlideshow {
		return nil, fmt.Errorf("%w: post %d is %s, not slideshow", ErrInvalidMedia, postID, post.PostType)
	}

	assets, err := s.assets.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	var sourceURLs []string
	for _, asset := range assets {
		switch asset.Kind {
		case models.MediaKindSlideshowVideo:
			if asset.IsProcessed {
				return &SlideshowResult{PostID: postID, AssetID: asset.ID, Done: true}, nil
			}
		case models.MediaKindSlideshowSource:
			sourceURLs = append(sourceURLs, asset.FileURL)
		}
	}

	if len(sourceURLs) < 2 {
		err := fmt.Errorf("%w: slideshow needs at least 2 images, has %d", ErrInvalidMedia, len(sourceURLs))
		if markErr := s.posts.MarkFailed(ctx, postID, err.Error(), false); markErr != nil {
			slog.Info(markErr.Error())
		}
		return &SlideshowResult{PostID: postID, Done: true}, err
	}

	composed, err := s.composer.Compose(ctx, post.UserID, sourceURLs)
	if err != nil {
		return s.finishFailedConversion(ctx, post, attempt, err)
	}

	assetID, err := s.assets.Create(ctx, nil, &models.MediaAsset{
		UserID:      post.UserID,
		FileName:    composed.FileName,
		FileType:    "video/mp4",
		FileSize:    composed.FileSize,
		FileURL:     composed.FileURL,
		Kind:        models.MediaKindSlideshowVideo,
		IsProcessed: true,
	})
	if err != nil {
		return s.finishFailedConversion(ctx, post, attempt, err)
	}

	if err := s.media.Create(ctx, nil, &models.PostMedia{
		PostID:       postID,
		AssetID:      assetID,
		DisplayOrder: len(assets),
	}); err != nil {
		return nil, err
	}

	slog.Info("slideshow converted", "post_id", postID, "asset_id", assetID, "images", len(sourceURLs))
	return &SlideshowResult{PostID: postID, AssetID: assetID, Done: true}, nil
}

// finishFailedConversion decides whether conversion gets another attempt.
// Attempt numbering starts at zero; the budget is separate from the publish
// retry budget.
func (s *slideshowService) finishFailedConversion(ctx context.Context, post *models.Post, attempt int, cause error) (*SlideshowResult, error) {
	attemptsUsed := attempt + 1
	if attemptsUsed >= s.cfg.SlideshowRetry.MaxRetries {
		if err := s.posts.MarkFailed(ctx, post.ID, fmt.Sprintf("slideshow conversion failed: %v", cause), false); err != nil {
			slog.Info(err.Error())
		}
		slog.Info("slideshow conversion failed permanently", "post_id", post.ID, "attempts", attemptsUsed)
		return &SlideshowResult{PostID: post.ID, Done: true}, cause
	}

	retryIn := s.cfg.SlideshowRetry.DelayFor(attempt)
	slog.Info("slideshow conversion failed, retry scheduled",
		"post_id", post.ID,
		"attempt", attemptsUsed,
		"retry_in", retryIn)
	return &SlideshowResult{PostID: post.ID, RetryIn: retryIn}, nil
}
