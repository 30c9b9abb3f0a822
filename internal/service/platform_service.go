package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// PlatformService connects and disconnects TikTok accounts.
type PlatformService interface {
	GetAuthURL(ctx context.Context, tokenString string) string
	Callback(ctx context.Context, code string, userID int64) error
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Delete(ctx context.Context, userID, accountID int64) error
}

type platformService struct {
	cfg   *config.Config
	sa    repository.SocialAccountRepository
	oauth TiktokOAuthClient
}

func NewPlatformService(cfg *config.Config, sa repository.SocialAccountRepository, oauth TiktokOAuthClient) PlatformService {
	return &platformService{
		cfg:   cfg,
		sa:    sa,
		oauth: oauth,
	}
}

// GetAuthURL builds the authorize redirect. The caller's session token rides
// in the state parameter so the callback can tie the grant to a user.
func (s *platformService) GetAuthURL(ctx context.Context, tokenString string) string {
	return s.oauth.AuthorizeURL(tokenString)
}

// Callback finishes the OAuth dance: code for tokens, tokens encrypted at
// rest, profile stored for display.
func (s *platformService) Callback(ctx context.Context, code string, userID int64) error {
	if code == "" {
		err := errors.New("authorization code is empty")
		slog.Info(err.Error())
		return err
	}

	tokenResponse, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	if tokenResponse.Error != "" {
		err = fmt.Errorf("token exchange rejected: %s", tokenResponse.Error)
		slog.Info(err.Error())
		return err
	}

	userInfo, err := s.oauth.UserInfo(ctx, tokenResponse.AccessToken)
	if err != nil {
		return err
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(tokenResponse.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	encryptedRefreshToken, err := utils.Encrypt([]byte(tokenResponse.RefreshToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	accountInfo := &models.SocialAccount{
		UserID:          userID,
		Platform:        "tiktok",
		AccountID:       userInfo.OpenID,
		AccountName:     userInfo.DisplayName,
		AccountUsername: userInfo.Username,
		ProfilePicture:  userInfo.AvatarURL,
		AccessToken:     encryptedAccessToken,
		RefreshToken:    encryptedRefreshToken,
		TokenExpiresAt:  GetExpiresAt(tokenResponse.ExpiresIn),
		AccountStatus:   models.AccountStatusActive,
	}

	if _, err = s.sa.Create(ctx, nil, accountInfo); err != nil {
		return err
	}

	slog.Info("tiktok account connected", "user_id", userID, "open_id", userInfo.OpenID)
	return nil
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	var err error

	if userID == 0 {
		err = errors.New("user id is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	accounts, err := s.sa.ListInfoByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting social accounts")
	}

	return accounts, nil
}

// Delete revokes the grant upstream and soft-deletes the account. Revocation
// failure does not block removal; the token expires on its own.
func (s *platformService) Delete(ctx context.Context, userID, accountID int64) error {
	var err error

	if userID == 0 || accountID == 0 {
		err = errors.New("user id or account id is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.sa.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		err = errors.New("social account doesn't exist")
		slog.Info(err.Error())
		return err
	}

	accountInfo, err := s.sa.GetByID(ctx, accountID)
	if err != nil || accountInfo == nil {
		return fmt.Errorf("unable to get social account info")
	}

	decryptedAccessToken, err := utils.Decrypt(accountInfo.AccessToken, []byte(s.cfg.SecretKey))
	if err == nil {
		if err := s.oauth.Revoke(ctx, accountInfo.AccountID, decryptedAccessToken); err != nil {
			slog.Info("revoke failed", "account_id", accountID, "error", err.Error())
		}
	}

	if err = s.sa.Remove(ctx, accountID); err != nil {
		return fmt.Errorf("error removing account info")
	}

	return nil
}
