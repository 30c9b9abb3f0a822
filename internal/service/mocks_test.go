package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
)

// In-memory repository fakes shared by the service tests.

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[int64]*models.SocialAccount
	nextID   int64
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{}, nextID: 1}
}

func (r *fakeAccountRepo) put(sa *models.SocialAccount) *models.SocialAccount {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sa.ID == 0 {
		sa.ID = r.nextID
		r.nextID++
	}
	clone := *sa
	r.accounts[sa.ID] = &clone
	return sa
}

func (r *fakeAccountRepo) Create(_ context.Context, _ *sql.Tx, sa *models.SocialAccount) (int64, error) {
	return r.put(sa).ID, nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id int64) (*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa, ok := r.accounts[id]
	if !ok || sa.IsDeleted {
		return nil, nil
	}
	clone := *sa
	return &clone, nil
}

func (r *fakeAccountRepo) ListInfoByUserID(_ context.Context, userID int64) ([]*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SocialAccount
	for _, sa := range r.accounts {
		if sa.UserID == userID && !sa.IsDeleted {
			clone := *sa
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) ListExpiringBefore(_ context.Context, threshold time.Time) ([]*models.SocialAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SocialAccount
	for _, sa := range r.accounts {
		if sa.AccountStatus == models.AccountStatusActive && !sa.IsDeleted && sa.TokenExpiresAt.Before(threshold) {
			clone := *sa
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) CheckByUserID(_ context.Context, accountID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sa, ok := r.accounts[accountID]
	return ok && sa.UserID == userID && !sa.IsDeleted, nil
}

func (r *fakeAccountRepo) UpdateTokens(_ context.Context, accountID int64, sa *models.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %d not found", accountID)
	}
	existing.AccessToken = sa.AccessToken
	existing.RefreshToken = sa.RefreshToken
	existing.TokenExpiresAt = sa.TokenExpiresAt
	existing.AccountStatus = models.AccountStatusActive
	existing.LastRefreshed = sql.NullTime{Time: time.Now(), Valid: true}
	existing.LastError = ""
	return nil
}

func (r *fakeAccountRepo) SetStatus(_ context.Context, accountID int64, status, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sa, ok := r.accounts[accountID]; ok {
		sa.AccountStatus = status
		sa.LastError = lastError
	}
	return nil
}

func (r *fakeAccountRepo) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sa, ok := r.accounts[id]; ok {
		sa.IsDeleted = true
	}
	return nil
}

type fakePostRepo struct {
	mu     sync.Mutex
	posts  map[int64]*models.Post
	nextID int64
}

func newFakePostRepo() *fakePostRepo {
	return &fakePostRepo{posts: map[int64]*models.Post{}, nextID: 1}
}

func (r *fakePostRepo) put(p *models.Post) *models.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == 0 {
		p.ID = r.nextID
		r.nextID++
	}
	clone := *p
	r.posts[p.ID] = &clone
	return p
}

func (r *fakePostRepo) GetByID(_ context.Context, id int64) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok || p.IsDeleted {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (r *fakePostRepo) Create(_ context.Context, _ *sql.Tx, p *models.Post) (int64, error) {
	return r.put(p).ID, nil
}

func (r *fakePostRepo) GetByUserID(_ context.Context, userID int64) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.UserID == userID && !p.IsDeleted {
			clone := *p
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakePostRepo) ListDue(_ context.Context, now time.Time, forward, backward time.Duration) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.Status != models.PostStatusScheduled || p.IsDeleted || !p.ScheduledTime.Valid {
			continue
		}
		st := p.ScheduledTime.Time
		if st.After(now.Add(forward)) || st.Before(now.Add(-backward)) {
			continue
		}
		if p.RetryCount >= p.MaxRetries {
			continue
		}
		clone := *p
		out = append(out, &clone)
	}
	return out, nil
}

func (r *fakePostRepo) ClaimForPublish(ctx context.Context, postID int64) (bool, error) {
	return r.TransitionStatus(ctx, postID, models.PostStatusPending, models.PostStatusPublishing)
}

func (r *fakePostRepo) TransitionStatus(_ context.Context, postID int64, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	if !ok || p.IsDeleted || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}

func (r *fakePostRepo) MarkPublished(_ context.Context, postID int64, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[postID]; ok {
		p.Status = models.PostStatusPublished
		p.PublishedAt = sql.NullTime{Time: publishedAt, Valid: true}
		p.ErrorMessage = ""
	}
	return nil
}

func (r *fakePostRepo) MarkFailed(_ context.Context, postID int64, errorMessage string, incrementRetry bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[postID]; ok {
		p.Status = models.PostStatusFailed
		p.ErrorMessage = errorMessage
		if incrementRetry {
			p.RetryCount++
		}
	}
	return nil
}

func (r *fakePostRepo) ResetForRetry(_ context.Context, postID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	if !ok || p.IsDeleted || (p.Status != models.PostStatusFailed && p.Status != models.PostStatusPublishing) {
		return false, nil
	}
	p.Status = models.PostStatusPending
	p.RetryCount = 0
	p.ErrorMessage = ""
	return true, nil
}

func (r *fakePostRepo) SetError(_ context.Context, postID int64, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[postID]; ok {
		p.ErrorMessage = errorMessage
	}
	return nil
}

func (r *fakePostRepo) CheckByUserID(_ context.Context, postID, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[postID]
	return ok && p.UserID == userID && !p.IsDeleted, nil
}

func (r *fakePostRepo) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.posts[id]; ok {
		p.IsDeleted = true
	}
	return nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []*models.PublishAttempt
	nextID   int64
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{nextID: 1}
}

func (r *fakeAttemptRepo) Create(_ context.Context, pa *models.PublishAttempt) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *pa
	clone.ID = r.nextID
	clone.Status = models.AttemptStatusFailed
	clone.CreatedAt = time.Now()
	r.nextID++
	r.attempts = append(r.attempts, &clone)
	return clone.ID, nil
}

func (r *fakeAttemptRepo) MarkSuccess(_ context.Context, id int64, remotePublishID string, publishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.ID == id {
			a.Status = models.AttemptStatusSuccess
			a.RemotePublishID = remotePublishID
			a.PublishedAt = sql.NullTime{Time: publishedAt, Valid: true}
			return nil
		}
	}
	return fmt.Errorf("attempt %d not found", id)
}

func (r *fakeAttemptRepo) MarkFailed(_ context.Context, id int64, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.ID == id {
			a.Status = models.AttemptStatusFailed
			a.ErrorMessage = errorMessage
			return nil
		}
	}
	return fmt.Errorf("attempt %d not found", id)
}

func (r *fakeAttemptRepo) ListByPostID(_ context.Context, postID int64) ([]*models.PublishAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PublishAttempt
	for _, a := range r.attempts {
		if a.PostID == postID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeAttemptRepo) ListByUserID(_ context.Context, userID int64) ([]*models.PublishAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.PublishAttempt
	for _, a := range r.attempts {
		if a.UserID == userID {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeAttemptRepo) ListSucceededAccountIDs(_ context.Context, postID int64) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, a := range r.attempts {
		if a.PostID == postID && a.Status == models.AttemptStatusSuccess && !seen[a.AccountID] {
			seen[a.AccountID] = true
			out = append(out, a.AccountID)
		}
	}
	return out, nil
}

type fakeAssetRepo struct {
	mu     sync.Mutex
	assets map[int64]*models.MediaAsset
	links  []models.PostMedia
	nextID int64
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{assets: map[int64]*models.MediaAsset{}, nextID: 1}
}

func (r *fakeAssetRepo) addForPost(postID int64, ma *models.MediaAsset) *models.MediaAsset {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ma.ID == 0 {
		ma.ID = r.nextID
		r.nextID++
	}
	clone := *ma
	r.assets[ma.ID] = &clone
	r.links = append(r.links, models.PostMedia{PostID: postID, AssetID: ma.ID, DisplayOrder: len(r.links)})
	return ma
}

func (r *fakeAssetRepo) Create(_ context.Context, _ *sql.Tx, ma *models.MediaAsset) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ma.ID == 0 {
		ma.ID = r.nextID
		r.nextID++
	}
	clone := *ma
	r.assets[ma.ID] = &clone
	return ma.ID, nil
}

func (r *fakeAssetRepo) GetByID(_ context.Context, id int64) (*models.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ma, ok := r.assets[id]
	if !ok {
		return nil, nil
	}
	clone := *ma
	return &clone, nil
}

func (r *fakeAssetRepo) ListByPostID(_ context.Context, postID int64) ([]*models.MediaAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.MediaAsset
	for _, link := range r.links {
		if link.PostID != postID {
			continue
		}
		if ma, ok := r.assets[link.AssetID]; ok {
			clone := *ma
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeAssetRepo) MarkProcessed(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ma, ok := r.assets[id]; ok {
		ma.IsProcessed = true
	}
	return nil
}

func (r *fakeAssetRepo) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assets, id)
	return nil
}

type fakePostMediaRepo struct {
	assets *fakeAssetRepo
}

func (r *fakePostMediaRepo) Create(_ context.Context, _ *sql.Tx, pm *models.PostMedia) error {
	r.assets.mu.Lock()
	defer r.assets.mu.Unlock()
	r.assets.links = append(r.assets.links, *pm)
	return nil
}

func (r *fakePostMediaRepo) ListByPostID(_ context.Context, postID int64) ([]*models.PostMedia, error) {
	r.assets.mu.Lock()
	defer r.assets.mu.Unlock()
	var out []*models.PostMedia
	for _, link := range r.assets.links {
		if link.PostID == postID {
			clone := link
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakePostMediaRepo) Remove(_ context.Context, postID int64) error {
	r.assets.mu.Lock()
	defer r.assets.mu.Unlock()
	kept := r.assets.links[:0]
	for _, link := range r.assets.links {
		if link.PostID != postID {
			kept = append(kept, link)
		}
	}
	r.assets.links = kept
	return nil
}

type fakeSelectedAccountRepo struct {
	mu       sync.Mutex
	selected []models.SelectedAccount
	listErr  error
}

func (r *fakeSelectedAccountRepo) Create(_ context.Context, _ *sql.Tx, sa *models.SelectedAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = append(r.selected, *sa)
	return nil
}

func (r *fakeSelectedAccountRepo) ListByPostID(_ context.Context, postID int64) ([]*models.SelectedAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*models.SelectedAccount
	for _, sa := range r.selected {
		if sa.PostID == postID {
			clone := sa
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *fakeSelectedAccountRepo) Remove(_ context.Context, postID, accountID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.selected[:0]
	for _, sa := range r.selected {
		if sa.PostID != postID || sa.AccountID != accountID {
			kept = append(kept, sa)
		}
	}
	r.selected = kept
	return nil
}

// fakeOAuthClient counts refresh exchanges and can be told to fail.
type fakeOAuthClient struct {
	mu           sync.Mutex
	refreshCalls int
	refreshErr   error
	response     *transfer.TiktokTokenResponse
}

func (c *fakeOAuthClient) AuthorizeURL(state string) string { return "https://example.com/auth" }

func (c *fakeOAuthClient) ExchangeCode(_ context.Context, _ string) (*transfer.TiktokTokenResponse, error) {
	return c.response, nil
}

func (c *fakeOAuthClient) ExchangeRefreshToken(_ context.Context, _ string) (*transfer.TiktokTokenResponse, error) {
	c.mu.Lock()
	c.refreshCalls++
	calls := c.refreshCalls
	c.mu.Unlock()
	if c.refreshErr != nil {
		return nil, c.refreshErr
	}
	resp := *c.response
	resp.AccessToken = fmt.Sprintf("%s-%d", resp.AccessToken, calls)
	return &resp, nil
}

func (c *fakeOAuthClient) UserInfo(_ context.Context, _ string) (*transfer.TiktokUser, error) {
	return &transfer.TiktokUser{}, nil
}

func (c *fakeOAuthClient) Revoke(_ context.Context, _, _ string) error { return nil }

func (c *fakeOAuthClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshCalls
}

// fakeUploader records publish calls and returns scripted outcomes keyed by
// access token.
type fakeUploader struct {
	mu         sync.Mutex
	videoCalls []string
	photoCalls []string
	failTokens map[string]error
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{failTokens: map[string]error{}}
}

func (u *fakeUploader) PublishVideo(_ context.Context, accessToken, _ string, _ io.ReaderAt, _ int64, _ VideoOptions) (*PublishOutcome, error) {
	u.mu.Lock()
	u.videoCalls = append(u.videoCalls, accessToken)
	err := u.failTokens[accessToken]
	u.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &PublishOutcome{PublishID: "pub-" + accessToken, RemotePostID: "post-" + accessToken}, nil
}

func (u *fakeUploader) PublishPhotos(_ context.Context, accessToken, _ string, urls []string, _ PhotoOptions) (*PublishOutcome, error) {
	if err := validatePhotoURLs(urls); err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.photoCalls = append(u.photoCalls, accessToken)
	err := u.failTokens[accessToken]
	u.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &PublishOutcome{PublishID: "pub-" + accessToken, RemotePostID: "post-" + accessToken}, nil
}
