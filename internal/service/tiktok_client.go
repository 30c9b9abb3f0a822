package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/ratelimit"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	tiktokAPIBaseURL = "https://open.tiktokapis.com/v2"

	// Chunk size bounds mandated by the upload protocol. Files under the
	// minimum are sent as a single chunk equal to the full file size.
	minChunkSize = 5 * 1024 * 1024
	maxChunkSize = 64 * 1024 * 1024

	maxPhotoCount = 35

	chunkMaxRetries = 3

	defaultPollInterval = 5 * time.Second
	defaultPollAttempts = 60
)

// VideoOptions carries per-post settings for a video publish.
type VideoOptions struct {
	Caption        string
	PrivacyLevel   string
	DisableComment bool
	DisableDuet    bool
	DisableStitch  bool
}

type PhotoOptions struct {
	Caption        string
	PrivacyLevel   string
	DisableComment bool
	CoverIndex     int
}

// PublishOutcome is the terminal result of a publish flow.
type PublishOutcome struct {
	PublishID string
	// Remote post id once publicly visible; in inbox mode the publish id
	// stands in because the platform does not return one.
	RemotePostID string
	InboxMode    bool
}

// uploadSession tracks one chunked transfer. It lives only for the duration
// of a single PublishVideo call.
type uploadSession struct {
	publishID   string
	uploadURL   string
	fileSize    int64
	chunkSize   int64
	totalChunks int
}

// UploadClient transfers media to the remote platform and polls until the
// publish reaches a terminal status.
type UploadClient interface {
	PublishVideo(ctx context.Context, accessToken, openID string, video io.ReaderAt, size int64, opts VideoOptions) (*PublishOutcome, error)
	PublishPhotos(ctx context.Context, accessToken, openID string, imageURLs []string, opts PhotoOptions) (*PublishOutcome, error)
}

type tiktokUploadClient struct {
	cfg    config.Tiktok
	http   *http.Client
	limits *ratelimit.TiktokLimiters

	baseURL      string
	pollInterval time.Duration
	pollAttempts int
}

func NewTiktokUploadClient(cfg config.Tiktok, limits *ratelimit.TiktokLimiters) UploadClient {
	return &tiktokUploadClient{
		cfg:          cfg,
		http:         &http.Client{Timeout: 5 * time.Minute},
		limits:       limits,
		baseURL:      tiktokAPIBaseURL,
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
	}
}

var privacyLevels = map[string]string{
	"public":  "PUBLIC_TO_EVERYONE",
	"friends": "MUTUAL_FOLLOW_FRIENDS",
	"private": "SELF_ONLY",
}

func apiPrivacyLevel(privacy string) string {
	if level, ok := privacyLevels[privacy]; ok {
		return level
	}
	return "PUBLIC_TO_EVERYONE"
}

// calculateChunks applies the platform's sizing rule: single full-size chunk
// under the minimum, fixed minimum-size chunks otherwise.
func calculateChunks(fileSize int64) (chunkSize int64, totalChunks int) {
	if fileSize < minChunkSize {
		return fileSize, 1
	}
	chunkSize = minChunkSize
	totalChunks = int((fileSize + chunkSize - 1) / chunkSize)
	return chunkSize, totalChunks
}

// allow gates an outbound call on both the per-token and per-endpoint
// quotas. Denial is a transient error: the caller's retry cycle will come
// back after the window rolls over rather than burning a guaranteed 429.
func (c *tiktokUploadClient) allow(ctx context.Context, endpoint, openID string) error {
	ok, err := c.limits.UserToken.IsAllowed(ctx, openID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: user token quota", ErrRateLimited)
	}

	ok, err = c.limits.Endpoint.IsAllowed(ctx, endpoint)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: endpoint quota for %s", ErrRateLimited, endpoint)
	}
	return nil
}

func (c *tiktokUploadClient) PublishVideo(ctx context.Context, accessToken, openID string, video io.ReaderAt, size int64, opts VideoOptions) (*PublishOutcome, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: empty video", ErrInvalidMedia)
	}

	ok, err := c.limits.VideoUpload.IsAllowed(ctx, openID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: daily video upload quota", ErrRateLimited)
	}

	session, err := c.initVideoUpload(ctx, accessToken, openID, size, opts)
	if err != nil {
		return nil, err
	}

	if err := c.uploadChunks(ctx, video, session); err != nil {
		return nil, err
	}

	return c.pollPublishStatus(ctx, accessToken, openID, session.publishID)
}

func (c *tiktokUploadClient) initVideoUpload(ctx context.Context, accessToken, openID string, size int64, opts VideoOptions) (*uploadSession, error) {
	chunkSize, totalChunks := calculateChunks(size)

	sourceInfo := transfer.VideoSourceInfo{
		Source:          "FILE_UPLOAD",
		VideoSize:       size,
		ChunkSize:       chunkSize,
		TotalChunkCount: totalChunks,
	}

	var endpoint string
	request := transfer.VideoInitRequest{SourceInfo: sourceInfo}
	if c.cfg.SandboxMode {
		// Inbox uploads carry no post info; the user finalizes the post in
		// the app.
		endpoint = "/post/publish/inbox/video/init/"
	} else {
		endpoint = "/post/publish/video/init/"
		request.PostInfo = &transfer.VideoPostInfo{
			Title:                 opts.Caption,
			PrivacyLevel:          apiPrivacyLevel(opts.PrivacyLevel),
			DisableComment:        opts.DisableComment,
			DisableDuet:           opts.DisableDuet,
			DisableStitch:         opts.DisableStitch,
			VideoCoverTimestampMs: 1000,
		}
	}

	var result transfer.InitResponse
	if err := c.postJSON(ctx, accessToken, openID, endpoint, request, &result); err != nil {
		return nil, err
	}

	if result.Data.PublishID == "" || result.Data.UploadURL == "" {
		return nil, fmt.Errorf("init response missing publish_id or upload_url: %s", result.Error.Message)
	}

	slog.Info("video upload initiated",
		"publish_id", result.Data.PublishID,
		"size", size,
		"chunks", totalChunks,
		"sandbox", c.cfg.SandboxMode)

	return &uploadSession{
		publishID:   result.Data.PublishID,
		uploadURL:   result.Data.UploadURL,
		fileSize:    size,
		chunkSize:   chunkSize,
		totalChunks: totalChunks,
	}, nil
}

// uploadChunks sends the file as ordered byte ranges. Ordering is strict:
// range correctness depends on sequential coverage, so chunks are never
// parallelized.
func (c *tiktokUploadClient) uploadChunks(ctx context.Context, video io.ReaderAt, session *uploadSession) error {
	buf := make([]byte, session.chunkSize)

	for chunkIndex := 0; chunkIndex < session.totalChunks; chunkIndex++ {
		start := int64(chunkIndex) * session.chunkSize
		end := start + session.chunkSize
		if end > session.fileSize {
			end = session.fileSize
		}

		chunk := buf[:end-start]
		if _, err := video.ReadAt(chunk, start); err != nil && err != io.EOF {
			return fmt.Errorf("read chunk %d: %w", chunkIndex+1, err)
		}

		if err := c.uploadSingleChunk(ctx, session, chunk, start, end-1); err != nil {
			return fmt.Errorf("chunk %d/%d: %w", chunkIndex+1, session.totalChunks, err)
		}

		slog.Info("uploaded chunk",
			"publish_id", session.publishID,
			"chunk", chunkIndex+1,
			"total", session.totalChunks,
			"bytes", end-start)
	}

	return nil
}

func (c *tiktokUploadClient) uploadSingleChunk(ctx context.Context, session *uploadSession, chunk []byte, start, end int64) error {
	var lastErr error

	for attempt := 0; attempt < chunkMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.uploadURL, bytes.NewReader(chunk))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "video/mp4")
		req.Header.Set("Content-Length", strconv.Itoa(len(chunk)))
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, session.fileSize))

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			slog.Info("chunk upload error", "attempt", attempt+1, "error", err.Error())
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusPartialContent:
			return nil
		}

		lastErr = fmt.Errorf("upload returned status %d", resp.StatusCode)
		slog.Info("chunk upload rejected", "attempt", attempt+1, "status", resp.StatusCode)
	}

	return fmt.Errorf("exhausted %d attempts: %w", chunkMaxRetries, lastErr)
}

// validatePhotoURLs enforces the 1..35 bound and that every URL is reachable
// over http(s) and names a supported image extension.
func validatePhotoURLs(imageURLs []string) error {
	if len(imageURLs) < 1 {
		return fmt.Errorf("%w: at least one image required", ErrInvalidMedia)
	}
	if len(imageURLs) > maxPhotoCount {
		return fmt.Errorf("%w: maximum %d images allowed", ErrInvalidMedia, maxPhotoCount)
	}

	validExtensions := []string{".jpg", ".jpeg", ".png", ".webp"}

	for i, raw := range imageURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: image %d has invalid url", ErrInvalidMedia, i+1)
		}

		path := strings.ToLower(u.Path)
		valid := false
		for _, ext := range validExtensions {
			if strings.HasSuffix(path, ext) {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("%w: image %d must be jpg, png or webp", ErrInvalidMedia, i+1)
		}
	}
	return nil
}

func (c *tiktokUploadClient) PublishPhotos(ctx context.Context, accessToken, openID string, imageURLs []string, opts PhotoOptions) (*PublishOutcome, error) {
	if err := validatePhotoURLs(imageURLs); err != nil {
		return nil, err
	}

	coverIndex := opts.CoverIndex
	if coverIndex < 0 || coverIndex >= len(imageURLs) {
		coverIndex = 0
	}

	postMode := "DIRECT_POST"
	privacy := apiPrivacyLevel(opts.PrivacyLevel)
	if c.cfg.SandboxMode {
		// Unaudited apps may only create inbox drafts, visible to the
		// author alone.
		postMode = "MEDIA_UPLOAD"
		privacy = "SELF_ONLY"
	}

	request := transfer.PhotoInitRequest{
		MediaType: "PHOTO",
		PostMode:  postMode,
		PostInfo: transfer.PhotoPostInfo{
			Title:          opts.Caption,
			PrivacyLevel:   privacy,
			DisableComment: opts.DisableComment,
			AutoAddMusic:   true,
		},
		SourceInfo: transfer.PhotoSourceInfo{
			Source:          "PULL_FROM_URL",
			PhotoCoverIndex: coverIndex,
			PhotoImages:     imageURLs,
		},
	}

	var result transfer.InitResponse
	if err := c.postJSON(ctx, accessToken, openID, "/post/publish/content/init/", request, &result); err != nil {
		return nil, err
	}

	if result.Data.PublishID == "" {
		return nil, fmt.Errorf("init response missing publish_id: %s", result.Error.Message)
	}

	slog.Info("photo post initiated", "publish_id", result.Data.PublishID, "images", len(imageURLs))

	return c.pollPublishStatus(ctx, accessToken, openID, result.Data.PublishID)
}

// pollPublishStatus polls the status endpoint until the remote side reports
// a terminal state or the attempt bound is exceeded. Unknown statuses keep
// polling; the bound converts a wedged publish into a timeout failure.
func (c *tiktokUploadClient) pollPublishStatus(ctx context.Context, accessToken, openID, publishID string) (*PublishOutcome, error) {
	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.pollInterval):
			}
		}

		var result transfer.PublishStatusResponse
		err := c.postJSON(ctx, accessToken, openID, "/post/publish/status/fetch/",
			map[string]string{"publish_id": publishID}, &result)
		if err != nil {
			if errors.Is(err, ErrRateLimited) {
				continue
			}
			return nil, err
		}

		status := result.Data.Status
		switch status {
		case transfer.StatusPublishComplete:
			slog.Info("publish complete", "publish_id", publishID, "post_id", result.Data.PublicPostID)
			remoteID := result.Data.PublicPostID
			if remoteID == "" {
				remoteID = publishID
			}
			return &PublishOutcome{PublishID: publishID, RemotePostID: remoteID}, nil

		case transfer.StatusSentToInbox:
			slog.Info("publish sent to creator inbox", "publish_id", publishID)
			return &PublishOutcome{PublishID: publishID, RemotePostID: publishID, InboxMode: true}, nil

		case transfer.StatusFailed, transfer.StatusPublishFailed:
			reason := result.Data.FailReason
			if reason == "" {
				reason = "unknown"
			}
			return nil, fmt.Errorf("remote publish failed: %s", reason)

		default:
			slog.Info("publish still processing", "publish_id", publishID, "status", status, "attempt", attempt+1)
		}
	}

	return nil, fmt.Errorf("publish status polling timed out after %d attempts", c.pollAttempts)
}

func (c *tiktokUploadClient) postJSON(ctx context.Context, accessToken, openID, endpoint string, payload, out interface{}) error {
	if err := c.allow(ctx, endpoint, openID); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer resp.Body.Close()

	// Error responses are not guaranteed to be JSON; report the status
	// before trying to decode anything.
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		slog.Info(err.Error())
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
