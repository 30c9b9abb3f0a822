package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// PostCreated tells the handler what to enqueue after a post is stored.
type PostCreated struct {
	PostID int64
	// Delay until the publish job should run; meaningless for drafts.
	Delay   time.Duration
	IsDraft bool
	// Immediate posts have no scheduled time and are enqueued directly
	// instead of waiting for the poller.
	Immediate bool
	// NeedsConversion is set for slideshow posts, which must be rendered
	// to video before they can publish.
	NeedsConversion bool
}

type PostService interface {
	CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*PostCreated, error)
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error)
	History(ctx context.Context, postID, userID int64) ([]*models.PublishAttempt, error)
	Remove(ctx context.Context, userID, postID int64) error
}

type postService struct {
	cfg *config.Config
	db  *sql.DB
	pr  repository.PostRepository
	sa  repository.SelectedAccountRepository
	ac  repository.SocialAccountRepository
	ma  repository.MediaAssetRepository
	pm  repository.PostMediaRepository
	pa  repository.PublishAttemptRepository
	r2  *R2Service
}

func NewPostService(
	cfg *config.Config,
	db *sql.DB,
	pr repository.PostRepository,
	sa repository.SelectedAccountRepository,
	ma repository.MediaAssetRepository,
	ac repository.SocialAccountRepository,
	pm repository.PostMediaRepository,
	pa repository.PublishAttemptRepository,
	r2 *R2Service) PostService {
	return &postService{
		cfg: cfg,
		db:  db,
		pr:  pr,
		sa:  sa,
		ac:  ac,
		ma:  ma,
		pm:  pm,
		pa:  pa,
		r2:  r2,
	}
}

func (s *postService) CreatePost(ctx context.Context, userID int64, pc *transfer.PostCreation, files []*multipart.FileHeader) (*PostCreated, error) {
	if pc == nil {
		err := errors.New("post creation data is nil")
		slog.Error(err.Error())
		return nil, err
	}
	if pc.Caption == "" {
		err := errors.New("caption cannot be empty")
		slog.Info(err.Error())
		return nil, err
	}

	// No scheduled time on a non-draft means publish right away.
	var scheduledTime time.Time
	immediate := false
	if !pc.IsDraft {
		if pc.ScheduledTime == "" {
			immediate = true
			scheduledTime = time.Now()
		} else {
			var err error
			scheduledTime, err = time.Parse("2006-01-02T15:04", pc.ScheduledTime)
			if err != nil {
				err = fmt.Errorf("invalid scheduled time format: %w", err)
				slog.Error(err.Error())
				return nil, err
			}
		}
	}

	var selectedAccounts []int
	if err := json.Unmarshal([]byte(pc.SelectedAccounts), &selectedAccounts); err != nil {
		err = fmt.Errorf("invalid selected accounts format: %w", err)
		slog.Error(err.Error())
		return nil, err
	}
	if len(selectedAccounts) == 0 {
		err := errors.New("no social accounts selected")
		slog.Error(err.Error())
		return nil, err
	}

	media, err := s.classifyFiles(files, pc.IsSlideshow)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	status := models.PostStatusScheduled
	if pc.IsDraft {
		status = models.PostStatusDraft
	} else if immediate {
		// Claimed up front so the poller never races the direct enqueue.
		status = models.PostStatusPending
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	post := models.Post{
		UserID:       userID,
		PostType:     media.postType,
		Caption:      pc.Caption,
		Title:        pc.Title,
		PrivacyLevel: pc.PrivacyLevel,
		Status:       status,
		MaxRetries:   s.cfg.PublishRetry.MaxRetries,
	}
	if !pc.IsDraft {
		post.ScheduledTime = sql.NullTime{Time: scheduledTime, Valid: true}
	}

	postID, err := s.pr.Create(ctx, tx, &post)
	if err != nil {
		return nil, fmt.Errorf("error creating post: %w", err)
	}

	if err = s.saveSelectedAccounts(ctx, tx, userID, postID, selectedAccounts); err != nil {
		return nil, fmt.Errorf("error processing selected accounts: %w", err)
	}

	if err = s.storeFiles(ctx, tx, userID, postID, media); err != nil {
		return nil, fmt.Errorf("error processing files: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	delay := time.Until(scheduledTime)
	if delay < 0 {
		delay = 0
	}

	return &PostCreated{
		PostID:          postID,
		Delay:           delay,
		IsDraft:         pc.IsDraft,
		Immediate:       immediate,
		NeedsConversion: media.postType == models.PostTypeSlideshow,
	}, nil
}

// classifiedMedia is the validated upload set with each file's resolved
// storage kind.
type classifiedMedia struct {
	postType string
	files    []*multipart.FileHeader
	kinds    []string
	types    []types.Type
}

// classifyFiles sniffs real content types and maps the upload set to a post
// type: one video, or one-or-more images as either a photo post or a
// slideshow. Mixing videos and images is rejected.
func (s *postService) classifyFiles(files []*multipart.FileHeader, isSlideshow bool) (*classifiedMedia, error) {
	if len(files) == 0 {
		return nil, errors.New("no files provided for the post")
	}

	videoTypes := map[string]struct{}{"mp4": {}, "mov": {}}
	imageTypes := map[string]struct{}{"jpg": {}, "jpeg": {}, "png": {}, "webp": {}}

	media := &classifiedMedia{files: files}
	videos, images := 0, 0

	for _, file := range files {
		fileType, err := sniffFileType(file)
		if err != nil {
			return nil, err
		}

		if _, ok := videoTypes[fileType.Extension]; ok {
			videos++
			media.kinds = append(media.kinds, models.MediaKindVideo)
		} else if _, ok := imageTypes[fileType.Extension]; ok {
			images++
			media.kinds = append(media.kinds, models.MediaKindImage)
		} else {
			return nil, fmt.Errorf("file type %s is not allowed", fileType.Extension)
		}
		media.types = append(media.types, fileType)
	}

	switch {
	case videos > 0 && images > 0:
		return nil, errors.New("a post cannot mix videos and images")
	case videos > 1:
		return nil, errors.New("a post can carry only one video")
	case videos == 1:
		if isSlideshow {
			return nil, errors.New("a slideshow is built from images, not video")
		}
		media.postType = models.PostTypeVideo
	case isSlideshow:
		if images < 2 {
			return nil, errors.New("a slideshow needs at least 2 images")
		}
		media.postType = models.PostTypeSlideshow
		for i := range media.kinds {
			media.kinds[i] = models.MediaKindSlideshowSource
		}
	default:
		media.postType = models.PostTypePhoto
	}

	return media, nil
}

func sniffFileType(file *multipart.FileHeader) (types.Type, error) {
	f, err := file.Open()
	if err != nil {
		return types.Unknown, fmt.Errorf("error opening file: %w", err)
	}
	defer f.Close()

	// filetype needs only the first few hundred bytes to match.
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return types.Unknown, fmt.Errorf("error reading file content: %w", err)
	}

	fileType, err := filetype.Match(head[:n])
	if err != nil || fileType == types.Unknown {
		return types.Unknown, errors.New("unsupported file type")
	}
	return fileType, nil
}

func (s *postService) saveSelectedAccounts(ctx context.Context, tx *sql.Tx, userID, postID int64, accounts []int) error {
	for _, accountID := range accounts {
		exists, err := s.ac.CheckByUserID(ctx, int64(accountID), userID)
		if err != nil {
			return fmt.Errorf("error checking social account %d: %w", accountID, err)
		}
		if !exists {
			return fmt.Errorf("social account %d does not exist", accountID)
		}

		account := models.SelectedAccount{
			PostID:    postID,
			AccountID: int64(accountID),
		}
		if err := s.sa.Create(ctx, tx, &account); err != nil {
			return fmt.Errorf("error saving selected account %d: %w", accountID, err)
		}
	}
	return nil
}

func (s *postService) storeFiles(ctx context.Context, tx *sql.Tx, userID, postID int64, media *classifiedMedia) error {
	for i, file := range media.files {
		fileContent, err := file.Open()
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}

		fileBytes, err := io.ReadAll(fileContent)
		fileContent.Close()
		if err != nil {
			return fmt.Errorf("error reading file content: %w", err)
		}

		assetID, err := s.saveFile(ctx, tx, userID, media.kinds[i], media.types[i].MIME.Value, fileBytes)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}

		postMedia := models.PostMedia{
			PostID:       postID,
			AssetID:      assetID,
			DisplayOrder: i,
		}
		if err := s.pm.Create(ctx, tx, &postMedia); err != nil {
			return fmt.Errorf("error saving media file: %w", err)
		}
	}
	return nil
}

func (s *postService) saveFile(ctx context.Context, tx *sql.Tx, userID int64, kind, fileType string, file []byte) (int64, error) {
	id, err := gonanoid.New()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	if err := s.r2.UploadToR2(ctx, id, file, fileType); err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	ma := models.MediaAsset{
		UserID:   userID,
		FileName: id,
		FileType: fileType,
		FileSize: int64(len(file)),
		FileURL:  s.r2.PublicURL(id),
		Kind:     kind,
	}

	assetID, err := s.ma.Create(ctx, tx, &ma)
	if err != nil {
		return 0, err
	}

	return assetID, nil
}

func (s *postService) PostInfo(ctx context.Context, postID, userID int64) (*models.Post, error) {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	if postID == 0 {
		err = errors.New("post id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}

	if !isValid {
		err = ErrPostNotFound
		slog.Info(err.Error())
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("error getting post info")
	}

	return post, nil
}

// History lists the publish attempts recorded for a post, newest first the
// way the repository orders them.
func (s *postService) History(ctx context.Context, postID, userID int64) ([]*models.PublishAttempt, error) {
	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	if !isValid {
		return nil, ErrPostNotFound
	}

	return s.pa.ListByPostID(ctx, postID)
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	posts, err := s.pr.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting posts")
	}
	return posts, nil
}

func (s *postService) Remove(ctx context.Context, userID, postID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("user is not valid")
		slog.Info(err.Error())
		return err
	}

	if postID == 0 {
		err = errors.New("post_id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = ErrPostNotFound
		slog.Info(err.Error())
		return err
	}

	if err = s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post")
	}

	return nil
}
