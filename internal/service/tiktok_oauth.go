package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/transfer"
)

const (
	tiktokAuthorizeURL = "https://www.tiktok.com/v2/auth/authorize/"
	tiktokTokenURL     = "https://open.tiktokapis.com/v2/oauth/token/"
	tiktokRevokeURL    = "https://open.tiktokapis.com/v2/oauth/revoke/"
	tiktokUserInfoURL  = "https://open.tiktokapis.com/v2/user/info/?fields=open_id,avatar_url,display_name,username"

	tiktokScopes = "user.info.basic,user.info.profile,video.publish,video.upload"
)

// TiktokOAuthClient is the identity-provider collaborator: it exchanges and
// refreshes credentials but knows nothing about accounts or storage.
type TiktokOAuthClient interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*transfer.TiktokTokenResponse, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*transfer.TiktokTokenResponse, error)
	UserInfo(ctx context.Context, accessToken string) (*transfer.TiktokUser, error)
	Revoke(ctx context.Context, openID, accessToken string) error
}

type tiktokOAuthClient struct {
	cfg  config.Tiktok
	http *http.Client
}

func NewTiktokOAuthClient(cfg config.Tiktok) TiktokOAuthClient {
	return &tiktokOAuthClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *tiktokOAuthClient) AuthorizeURL(state string) string {
	params := url.Values{}
	params.Add("client_key", c.cfg.ClientKey)
	params.Add("response_type", "code")
	params.Add("scope", tiktokScopes)
	params.Add("redirect_uri", c.cfg.RedirectURI)
	params.Add("state", state)
	return tiktokAuthorizeURL + "?" + params.Encode()
}

func (c *tiktokOAuthClient) ExchangeCode(ctx context.Context, code string) (*transfer.TiktokTokenResponse, error) {
	if code == "" {
		err := errors.New("authorization code is empty")
		slog.Info(err.Error())
		return nil, err
	}

	data := url.Values{}
	data.Set("client_key", c.cfg.ClientKey)
	data.Set("client_secret", c.cfg.ClientSecret)
	data.Set("code", code)
	data.Set("grant_type", "authorization_code")
	data.Set("redirect_uri", c.cfg.RedirectURI)

	return c.tokenRequest(ctx, data)
}

func (c *tiktokOAuthClient) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*transfer.TiktokTokenResponse, error) {
	if refreshToken == "" {
		err := errors.New("refresh token is empty")
		slog.Info(err.Error())
		return nil, err
	}

	data := url.Values{}
	data.Set("client_key", c.cfg.ClientKey)
	data.Set("client_secret", c.cfg.ClientSecret)
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)

	return c.tokenRequest(ctx, data)
}

func (c *tiktokOAuthClient) tokenRequest(ctx context.Context, data url.Values) (*transfer.TiktokTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Body deliberately not logged: token endpoint responses carry secrets.
		slog.Info("token endpoint returned non-200 status", "status", resp.StatusCode)
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tokenResponse transfer.TiktokTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if tokenResponse.Error != "" {
		return nil, fmt.Errorf("token exchange rejected: %s", tokenResponse.ErrorDescription)
	}
	if tokenResponse.AccessToken == "" {
		return nil, errors.New("token response missing access token")
	}

	return &tokenResponse, nil
}

func (c *tiktokOAuthClient) UserInfo(ctx context.Context, accessToken string) (*transfer.TiktokUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tiktokUserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer resp.Body.Close()

	var result transfer.TikTokResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	if result.Error.Code != "" && result.Error.Code != "ok" {
		return nil, fmt.Errorf("user info request failed: %s", result.Error.Message)
	}

	return &result.Data.User, nil
}

func (c *tiktokOAuthClient) Revoke(ctx context.Context, openID, accessToken string) error {
	params := url.Values{}
	params.Add("open_id", openID)
	params.Add("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tiktokRevokeURL, strings.NewReader(params.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result transfer.TiktokRevokeData
		bodyBytes, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(bodyBytes, &result)
		return fmt.Errorf("failed to revoke token: %s", result.Description)
	}
	return nil
}
