package transfer

// Wire types for the TikTok content posting API v2.

type TiktokTokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	OpenID           string `json:"open_id"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type TiktokError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

type TikTokResponse struct {
	Data  TiktokUserData `json:"data"`
	Error TiktokError    `json:"error"`
}

type TiktokUserData struct {
	User TiktokUser `json:"user"`
}

type TiktokUser struct {
	OpenID      string `json:"open_id"`
	AvatarURL   string `json:"avatar_url"`
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
}

// VideoInitRequest declares a chunked FILE_UPLOAD transfer. For files under
// the 5 MiB minimum the chunk size equals the file size and the count is 1.
type VideoInitRequest struct {
	PostInfo   *VideoPostInfo  `json:"post_info,omitempty"`
	SourceInfo VideoSourceInfo `json:"source_info"`
}

type VideoPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type VideoSourceInfo struct {
	Source          string `json:"source"`
	VideoSize       int64  `json:"video_size"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunkCount int    `json:"total_chunk_count"`
}

type PhotoInitRequest struct {
	MediaType  string          `json:"media_type"`
	PostMode   string          `json:"post_mode"`
	PostInfo   PhotoPostInfo   `json:"post_info"`
	SourceInfo PhotoSourceInfo `json:"source_info"`
}

type PhotoPostInfo struct {
	Title          string `json:"title"`
	PrivacyLevel   string `json:"privacy_level"`
	DisableComment bool   `json:"disable_comment"`
	AutoAddMusic   bool   `json:"auto_add_music"`
}

type PhotoSourceInfo struct {
	Source          string   `json:"source"`
	PhotoCoverIndex int      `json:"photo_cover_index"`
	PhotoImages     []string `json:"photo_images"`
}

type InitResponse struct {
	Data  InitData    `json:"data"`
	Error TiktokError `json:"error"`
}

type InitData struct {
	PublishID string `json:"publish_id"`
	UploadURL string `json:"upload_url"`
}

type PublishStatusResponse struct {
	Data  PublishStatusData `json:"data"`
	Error TiktokError       `json:"error"`
}

type PublishStatusData struct {
	Status     string `json:"status"`
	FailReason string `json:"fail_reason"`
	// Set once the post is publicly visible (direct post mode only).
	PublicPostID string `json:"publiclyAvailablePostId"`
}

// Publish status values reported by the status fetch endpoint.
const (
	StatusPublishComplete = "PUBLISH_COMPLETE"
	StatusSentToInbox     = "SEND_TO_USER_INBOX"
	StatusFailed          = "FAILED"
	StatusPublishFailed   = "PUBLISH_FAILED"
)

type TiktokRevokeData struct {
	ErrorCode   int64  `json:"error_code"`
	Description string `json:"description"`
}
