package service

import (
	"context"
	"errors"
	"testing"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
)

type fakeComposer struct {
	calls int
	err   error
}

func (c *fakeComposer) Compose(_ context.Context, userID int64, imageURLs []string) (*ComposedVideo, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &ComposedVideo{
		FileName: "slideshow.mp4",
		FileSize: 1024,
		FileURL:  "https://cdn.example.com/slideshow.mp4",
	}, nil
}

type slideshowFixture struct {
	svc      SlideshowService
	posts    *fakePostRepo
	assets   *fakeAssetRepo
	composer *fakeComposer
}

func newSlideshowFixture() *slideshowFixture {
	f := &slideshowFixture{
		posts:    newFakePostRepo(),
		assets:   newFakeAssetRepo(),
		composer: &fakeComposer{},
	}
	cfg := &config.Config{
		SlideshowRetry: config.RetryPolicy{
			MaxRetries: 2,
			Delays:     []time.Duration{2 * time.Minute, 5 * time.Minute},
		},
	}
	f.svc = NewSlideshowService(cfg, f.posts, f.assets, &fakePostMediaRepo{assets: f.assets}, f.composer)
	return f
}

func (f *slideshowFixture) seedSlideshowPost(images int) *models.Post {
	post := f.posts.put(&models.Post{
		UserID:   1,
		PostType: models.PostTypeSlideshow,
		Status:   models.PostStatusScheduled,
	})
	for i := 0; i < images; i++ {
		f.assets.addForPost(post.ID, &models.MediaAsset{
			UserID:  1,
			Kind:    models.MediaKindSlideshowSource,
			FileURL: "https://cdn.example.com/img.jpg",
		})
	}
	return post
}

func TestConvertCreatesProcessedVideoAsset(t *testing.T) {
	f := newSlideshowFixture()
	post := f.seedSlideshowPost(3)

	result, err := f.svc.Convert(context.Background(), post.ID, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !result.Done || result.AssetID == 0 {
		t.Errorf("result = %+v, want done with asset id", result)
	}

	asset, _ := f.assets.GetByID(context.Background(), result.AssetID)
	if asset == nil {
		t.Fatal("converted asset not stored")
	}
	if asset.Kind != models.MediaKindSlideshowVideo {
		t.Errorf("asset kind = %q, want slideshow_video", asset.Kind)
	}
	if !asset.IsProcessed {
		t.Error("converted asset should be marked processed")
	}

	linked, _ := f.assets.ListByPostID(context.Background(), post.ID)
	found := false
	for _, a := range linked {
		if a.ID == result.AssetID {
			found = true
		}
	}
	if !found {
		t.Error("converted asset should be linked to the post")
	}
}

func TestConvertIsIdempotent(t *testing.T) {
	f := newSlideshowFixture()
	post := f.seedSlideshowPost(2)

	first, err := f.svc.Convert(context.Background(), post.ID, 0)
	if err != nil {
		t.Fatalf("first convert: %v", err)
	}
	second, err := f.svc.Convert(context.Background(), post.ID, 0)
	if err != nil {
		t.Fatalf("second convert: %v", err)
	}

	if second.AssetID != first.AssetID {
		t.Errorf("second convert asset = %d, want existing %d", second.AssetID, first.AssetID)
	}
	if f.composer.calls != 1 {
		t.Errorf("composer calls = %d, want 1", f.composer.calls)
	}
}

func TestConvertRequiresTwoImages(t *testing.T) {
	f := newSlideshowFixture()
	post := f.seedSlideshowPost(1)

	result, err := f.svc.Convert(context.Background(), post.ID, 0)
	if !errors.Is(err, ErrInvalidMedia) {
		t.Fatalf("err = %v, want ErrInvalidMedia", err)
	}
	if !result.Done {
		t.Error("too few images is terminal, not retryable")
	}
	if f.composer.calls != 0 {
		t.Error("composer must not run for an invalid slideshow")
	}

	stored, _ := f.posts.GetByID(context.Background(), post.ID)
	if stored.Status != models.PostStatusFailed {
		t.Errorf("post status = %q, want failed", stored.Status)
	}
}

func TestConvertSchedulesRetryOnComposerFailure(t *testing.T) {
	f := newSlideshowFixture()
	post := f.seedSlideshowPost(2)
	f.composer.err = errors.New("render crashed")

	result, err := f.svc.Convert(context.Background(), post.ID, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if result.Done {
		t.Error("first failure should not be terminal")
	}
	if result.RetryIn != 2*time.Minute {
		t.Errorf("retry in = %v, want 2m (first rung)", result.RetryIn)
	}

	stored, _ := f.posts.GetByID(context.Background(), post.ID)
	if stored.Status != models.PostStatusScheduled {
		t.Errorf("post status = %q, should stay scheduled while retrying", stored.Status)
	}
}

func TestConvertFailsPostAfterBudgetExhausted(t *testing.T) {
	f := newSlideshowFixture()
	post := f.seedSlideshowPost(2)
	f.composer.err = errors.New("render crashed")

	result, err := f.svc.Convert(context.Background(), post.ID, 1)
	if err == nil {
		t.Fatal("expected error on final attempt")
	}
	if !result.Done || result.RetryIn != 0 {
		t.Errorf("result = %+v, want terminal", result)
	}

	stored, _ := f.posts.GetByID(context.Background(), post.ID)
	if stored.Status != models.PostStatusFailed {
		t.Errorf("post status = %q, want failed", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("post should record the conversion error")
	}
}

func TestConvertRejectsNonSlideshowPost(t *testing.T) {
	f := newSlideshowFixture()
	post := f.posts.put(&models.Post{
		UserID:   1,
		PostType: models.PostTypeVideo,
		Status:   models.PostStatusScheduled,
	})

	if _, err := f.svc.Convert(context.Background(), post.ID, 0); !errors.Is(err, ErrInvalidMedia) {
		t.Errorf("err = %v, want ErrInvalidMedia", err)
	}
}
