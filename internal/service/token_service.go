package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/ratelimit"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

// Tokens within this window of expiry are refreshed proactively so a
// publish never starts with a credential about to lapse mid-upload.
const refreshThreshold = time.Hour

const refreshLockWait = 30 * time.Second

// RefreshSummary reports one sweep over expiring accounts.
type RefreshSummary struct {
	Checked   int
	Refreshed int
	Failed    int
	// Errors maps account id to the failure message for that account.
	Errors map[int64]string
}

// TokenService hands out usable access tokens, refreshing them through the
// provider when they near expiry. Concurrent callers for the same account
// coordinate through a redis lock so the provider sees one refresh, not N:
// refresh tokens are single-use and a duplicate exchange revokes the pair.
type TokenService interface {
	EnsureFresh(ctx context.Context, accountID int64) (string, error)
	RefreshAllExpiring(ctx context.Context, threshold time.Duration) (*RefreshSummary, error)
}

type tokenService struct {
	cfg      *config.Config
	accounts repository.SocialAccountRepository
	oauth    TiktokOAuthClient
	locker   *ratelimit.Locker
}

func NewTokenService(cfg *config.Config, accounts repository.SocialAccountRepository, oauth TiktokOAuthClient, locker *ratelimit.Locker) TokenService {
	return &tokenService{
		cfg:      cfg,
		accounts: accounts,
		oauth:    oauth,
		locker:   locker,
	}
}

// EnsureFresh returns a decrypted access token for the account, refreshing
// first when the stored one expires within the threshold.
func (s *tokenService) EnsureFresh(ctx context.Context, accountID int64) (string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", fmt.Errorf("social account %d not found", accountID)
	}
	if account.AccountStatus == models.AccountStatusRevoked {
		return "", fmt.Errorf("social account %d is revoked", accountID)
	}

	if !s.needsRefresh(account) {
		return utils.Decrypt(account.AccessToken, []byte(s.cfg.SecretKey))
	}

	account, err = s.refreshWithLock(ctx, account)
	if err != nil {
		return "", err
	}
	return utils.Decrypt(account.AccessToken, []byte(s.cfg.SecretKey))
}

func (s *tokenService) needsRefresh(account *models.SocialAccount) bool {
	return time.Now().Add(refreshThreshold).After(account.TokenExpiresAt)
}

// refreshWithLock serializes refreshes per account. A caller that loses the
// race waits for the holder and then re-reads: the stored row is the
// authority on whether the refresh already happened.
func (s *tokenService) refreshWithLock(ctx context.Context, account *models.SocialAccount) (*models.SocialAccount, error) {
	lockKey := fmt.Sprintf("token_refresh:%d", account.ID)

	for attempt := 0; attempt < 2; attempt++ {
		token, ok, err := s.locker.Acquire(ctx, lockKey)
		if err != nil {
			return nil, err
		}
		if ok {
			defer s.locker.Release(ctx, lockKey, token)
			return s.refreshLocked(ctx, account.ID)
		}

		if err := s.locker.Wait(ctx, lockKey, refreshLockWait); err != nil {
			return nil, err
		}

		refreshed, err := s.accounts.GetByID(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		if refreshed == nil {
			return nil, fmt.Errorf("social account %d not found", account.ID)
		}
		if !s.needsRefresh(refreshed) {
			return refreshed, nil
		}
		// Holder released without refreshing (it may have failed); take
		// the lock ourselves on the next pass.
		account = refreshed
	}

	return nil, fmt.Errorf("could not acquire refresh lock for account %d", account.ID)
}

// refreshLocked performs the provider exchange. Caller holds the lock.
func (s *tokenService) refreshLocked(ctx context.Context, accountID int64) (*models.SocialAccount, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("social account %d not found", accountID)
	}
	if !s.needsRefresh(account) {
		// Someone refreshed between our check and the lock grant.
		return account, nil
	}

	refreshToken, err := utils.Decrypt(account.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}

	result, err := s.oauth.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		s.markExpired(ctx, account.ID, err.Error())
		return nil, fmt.Errorf("refresh exchange for account %d: %w", account.ID, err)
	}
	if result.Error != "" {
		s.markExpired(ctx, account.ID, result.ErrorDescription)
		return nil, fmt.Errorf("refresh rejected for account %d: %s", account.ID, result.Error)
	}

	encryptedAccessToken, err := utils.Encrypt([]byte(result.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}
	encryptedRefreshToken, err := utils.Encrypt([]byte(result.RefreshToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return nil, err
	}

	account.AccessToken = encryptedAccessToken
	account.RefreshToken = encryptedRefreshToken
	account.TokenExpiresAt = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	account.AccountStatus = models.AccountStatusActive

	if err := s.accounts.UpdateTokens(ctx, account.ID, account); err != nil {
		return nil, err
	}

	slog.Info("refreshed access token", "account_id", account.ID, "expires_at", account.TokenExpiresAt)
	return account, nil
}

func (s *tokenService) markExpired(ctx context.Context, accountID int64, reason string) {
	if err := s.accounts.SetStatus(ctx, accountID, models.AccountStatusExpired, reason); err != nil {
		slog.Info(err.Error())
	}
}

// RefreshAllExpiring sweeps accounts whose tokens expire within the given
// threshold. Failures are recorded per account and do not stop the sweep.
func (s *tokenService) RefreshAllExpiring(ctx context.Context, threshold time.Duration) (*RefreshSummary, error) {
	accounts, err := s.accounts.ListExpiringBefore(ctx, time.Now().Add(threshold))
	if err != nil {
		return nil, err
	}

	summary := &RefreshSummary{Checked: len(accounts), Errors: make(map[int64]string)}
	for _, account := range accounts {
		if _, err := s.refreshWithLock(ctx, account); err != nil {
			slog.Info("token refresh failed", "account_id", account.ID, "error", err.Error())
			summary.Failed++
			summary.Errors[account.ID] = err.Error()
			continue
		}
		summary.Refreshed++
	}

	if summary.Checked > 0 {
		slog.Info("token refresh sweep",
			"checked", summary.Checked,
			"refreshed", summary.Refreshed,
			"failed", summary.Failed)
	}
	return summary, nil
}
