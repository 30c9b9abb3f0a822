package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

// ReadAtCloser is what a fetched media file exposes to the uploader.
// *os.File satisfies it.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// AssetFetcher pulls a stored media object down for upload.
type AssetFetcher interface {
	FetchTemp(ctx context.Context, fileName string) (ReadAtCloser, int64, error)
}

// PublishResult reports one publish cycle for a post.
type PublishResult struct {
	PostID    int64
	Succeeded int
	Failed    int
	// Skipped means the post was not in a claimable state; another worker
	// owns it or it already reached a terminal status.
	Skipped bool
	// Done marks a terminal outcome: published, retries exhausted, or a
	// fatal validation failure.
	Done bool
	// RetryIn is how long to wait before the next cycle; zero when Done.
	RetryIn time.Duration
}

// PublisherService drives one post through a publish cycle across all of its
// selected accounts.
type PublisherService interface {
	Publish(ctx context.Context, postID int64) (*PublishResult, error)
	Retry(ctx context.Context, userID, postID int64) error
}

type publisherService struct {
	cfg      *config.Config
	posts    repository.PostRepository
	accounts repository.SocialAccountRepository
	selected repository.SelectedAccountRepository
	assets   repository.MediaAssetRepository
	attempts repository.PublishAttemptRepository
	tokens   TokenService
	uploader UploadClient
	fetcher  AssetFetcher
}

func NewPublisherService(
	cfg *config.Config,
	posts repository.PostRepository,
	accounts repository.SocialAccountRepository,
	selected repository.SelectedAccountRepository,
	assets repository.MediaAssetRepository,
	attempts repository.PublishAttemptRepository,
	tokens TokenService,
	uploader UploadClient,
	fetcher AssetFetcher,
) PublisherService {
	return &publisherService{
		cfg:      cfg,
		posts:    posts,
		accounts: accounts,
		selected: selected,
		assets:   assets,
		attempts: attempts,
		tokens:   tokens,
		uploader: uploader,
		fetcher:  fetcher,
	}
}

// publishContent is the resolved media for one cycle, shared across accounts.
type publishContent struct {
	kind      string
	video     ReadAtCloser
	videoSize int64
	photoURLs []string
}

func (c *publishContent) close() {
	if c.video != nil {
		c.video.Close()
	}
}

// Publish runs one cycle. Publishing to each account is attempted at most
// once per cycle; accounts that already succeeded in an earlier cycle are
// skipped so a retry never double-posts.
func (s *publisherService) Publish(ctx context.Context, postID int64) (*PublishResult, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	if post.Status == models.PostStatusPublished {
		// Re-delivered job for an already published post: nothing to do,
		// and no attempt rows may be written.
		return &PublishResult{PostID: postID, Skipped: true, Done: true}, nil
	}

	if post.Status == models.PostStatusFailed && post.RetryCount < s.maxRetries(post) {
		// Scheduled retry cycle: revive the post so the claim below can
		// take it. Posts past their budget stay failed.
		if _, err := s.posts.TransitionStatus(ctx, postID, models.PostStatusFailed, models.PostStatusPending); err != nil {
			return nil, err
		}
	}

	claimed, err := s.posts.ClaimForPublish(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		slog.Info("post not claimable, skipping cycle", "post_id", postID, "status", post.Status)
		return &PublishResult{PostID: postID, Skipped: true}, nil
	}

	// From here on the post is claimed: every error path must write an
	// outcome back, or a redelivered job would find the post stuck in
	// publishing and skip it forever.
	selected, err := s.selected.ListByPostID(ctx, postID)
	if err != nil {
		return s.failTransient(ctx, post, fmt.Sprintf("listing selected accounts: %v", err))
	}

	// Accounts removed since selection drop out of the fan-out. A post
	// with no live accounts left cannot heal, so it fails fatally instead
	// of burning the retry ladder one dead account at a time.
	live := make([]*models.SelectedAccount, 0, len(selected))
	for _, sel := range selected {
		account, err := s.accounts.GetByID(ctx, sel.AccountID)
		if err != nil {
			return s.failTransient(ctx, post, fmt.Sprintf("loading account %d: %v", sel.AccountID, err))
		}
		if account == nil {
			slog.Info("selected account no longer exists, dropping from fan-out",
				"post_id", postID, "account_id", sel.AccountID)
			continue
		}
		live = append(live, sel)
	}
	if len(live) == 0 {
		return s.failFatal(ctx, post, ErrNoAccounts)
	}

	content, err := s.resolveContent(ctx, post)
	if err != nil {
		if IsFatal(err) {
			return s.failFatal(ctx, post, err)
		}
		return s.failTransient(ctx, post, err.Error())
	}
	defer content.close()

	succeededBefore, err := s.attempts.ListSucceededAccountIDs(ctx, postID)
	if err != nil {
		return s.failTransient(ctx, post, fmt.Sprintf("loading prior attempts: %v", err))
	}
	alreadyDone := make(map[int64]bool, len(succeededBefore))
	for _, id := range succeededBefore {
		alreadyDone[id] = true
	}

	result := &PublishResult{PostID: postID}
	var failures []string

	for _, sel := range live {
		if alreadyDone[sel.AccountID] {
			continue
		}
		if err := s.publishToAccount(ctx, post, sel.AccountID, content); err != nil {
			result.Failed++
			failures = append(failures, fmt.Sprintf("account %d: %v", sel.AccountID, err))
			slog.Info("publish attempt failed", "post_id", postID, "account_id", sel.AccountID, "error", err.Error())
			continue
		}
		result.Succeeded++
	}

	if result.Failed == 0 {
		if err := s.posts.MarkPublished(ctx, postID, time.Now()); err != nil {
			return nil, err
		}
		result.Done = true
		slog.Info("post published", "post_id", postID, "accounts", result.Succeeded)
		return result, nil
	}

	return s.finishFailedCycle(ctx, post, result, strings.Join(failures, "; "))
}

// finishFailedCycle records the failure and decides whether another cycle is
// scheduled. The retry counter on the post row is the authority; the delay
// ladder is indexed by the count before this increment.
func (s *publisherService) finishFailedCycle(ctx context.Context, post *models.Post, result *PublishResult, errorMessage string) (*PublishResult, error) {
	if err := s.posts.MarkFailed(ctx, post.ID, errorMessage, true); err != nil {
		return nil, err
	}

	cyclesUsed := post.RetryCount + 1
	if cyclesUsed >= s.maxRetries(post) {
		result.Done = true
		slog.Info("post failed permanently", "post_id", post.ID, "cycles", cyclesUsed)
		return result, nil
	}

	result.RetryIn = s.cfg.PublishRetry.DelayFor(post.RetryCount)
	slog.Info("publish cycle failed, retry scheduled",
		"post_id", post.ID,
		"cycle", cyclesUsed,
		"retry_in", result.RetryIn)
	return result, nil
}

func (s *publisherService) maxRetries(post *models.Post) int {
	if post.MaxRetries > 0 {
		return post.MaxRetries
	}
	return s.cfg.PublishRetry.MaxRetries
}

// failFatal moves the post straight to failed with no retry budget spent:
// the condition cannot heal on its own, so rescheduling would only repeat it.
func (s *publisherService) failFatal(ctx context.Context, post *models.Post, cause error) (*PublishResult, error) {
	if err := s.posts.MarkFailed(ctx, post.ID, cause.Error(), false); err != nil {
		return nil, err
	}
	slog.Info("post failed fatally", "post_id", post.ID, "reason", cause.Error())
	return &PublishResult{PostID: post.ID, Done: true}, cause
}

func (s *publisherService) failTransient(ctx context.Context, post *models.Post, reason string) (*PublishResult, error) {
	result := &PublishResult{PostID: post.ID, Failed: 1}
	return s.finishFailedCycle(ctx, post, result, reason)
}

// resolveContent maps the post's media rows to uploadable content. Slideshow
// posts publish the converted video, never the source images.
func (s *publisherService) resolveContent(ctx context.Context, post *models.Post) (*publishContent, error) {
	assets, err := s.assets.ListByPostID(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, ErrNoMedia
	}

	switch post.PostType {
	case models.PostTypeVideo:
		for _, asset := range assets {
			if asset.Kind == models.MediaKindVideo {
				return s.fetchVideo(ctx, asset)
			}
		}
		return nil, fmt.Errorf("%w: video post has no video asset", ErrNoMedia)

	case models.PostTypePhoto:
		var urls []string
		for _, asset := range assets {
			if asset.Kind == models.MediaKindImage {
				urls = append(urls, asset.FileURL)
			}
		}
		if len(urls) == 0 {
			return nil, fmt.Errorf("%w: photo post has no image assets", ErrNoMedia)
		}
		return &publishContent{kind: models.PostTypePhoto, photoURLs: urls}, nil

	case models.PostTypeSlideshow:
		for _, asset := range assets {
			if asset.Kind == models.MediaKindSlideshowVideo && asset.IsProcessed {
				return s.fetchVideo(ctx, asset)
			}
		}
		// Conversion has not landed yet; transient so the retry ladder
		// picks the post up after the converter finishes.
		return nil, errors.New("slideshow video not yet converted")

	default:
		return nil, fmt.Errorf("%w: unknown post type %q", ErrInvalidMedia, post.PostType)
	}
}

func (s *publisherService) fetchVideo(ctx context.Context, asset *models.MediaAsset) (*publishContent, error) {
	file, size, err := s.fetcher.FetchTemp(ctx, asset.FileName)
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", asset.FileName, err)
	}
	return &publishContent{kind: models.PostTypeVideo, video: file, videoSize: size}, nil
}

// publishToAccount records exactly one attempt row per (cycle, account). The
// row is created pre-seeded failed and flipped on success so a crash
// mid-upload never leaves a phantom success.
func (s *publisherService) publishToAccount(ctx context.Context, post *models.Post, accountID int64, content *publishContent) error {
	attemptID, err := s.attempts.Create(ctx, &models.PublishAttempt{
		UserID:    post.UserID,
		PostID:    post.ID,
		AccountID: accountID,
	})
	if err != nil {
		return err
	}

	outcome, err := s.uploadForAccount(ctx, post, accountID, content)
	if err != nil {
		if markErr := s.attempts.MarkFailed(ctx, attemptID, err.Error()); markErr != nil {
			slog.Info(markErr.Error())
		}
		return err
	}

	if err := s.attempts.MarkSuccess(ctx, attemptID, outcome.PublishID, time.Now()); err != nil {
		return err
	}
	return nil
}

func (s *publisherService) uploadForAccount(ctx context.Context, post *models.Post, accountID int64, content *publishContent) (*PublishOutcome, error) {
	accessToken, err := s.tokens.EnsureFresh(ctx, accountID)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("social account %d not found", accountID)
	}

	switch content.kind {
	case models.PostTypePhoto:
		return s.uploader.PublishPhotos(ctx, accessToken, account.AccountID, content.photoURLs, PhotoOptions{
			Caption:      post.Caption,
			PrivacyLevel: post.PrivacyLevel,
		})
	default:
		return s.uploader.PublishVideo(ctx, accessToken, account.AccountID, content.video, content.videoSize, VideoOptions{
			Caption:      post.Caption,
			PrivacyLevel: post.PrivacyLevel,
		})
	}
}

// Retry is the user-facing manual retry: it resets a failed post back to
// pending with a cleared budget. The caller enqueues the publish job after.
func (s *publisherService) Retry(ctx context.Context, userID, postID int64) error {
	owned, err := s.posts.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !owned {
		return ErrPostNotFound
	}

	reset, err := s.posts.ResetForRetry(ctx, postID)
	if err != nil {
		return err
	}
	if !reset {
		post, err := s.posts.GetByID(ctx, postID)
		if err != nil {
			return err
		}
		if post != nil && post.Status == models.PostStatusPublished {
			return ErrAlreadyPublished
		}
		return fmt.Errorf("post %d is not in a retryable state", postID)
	}
	return nil
}
