package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/service"
)

// TokenRefreshJob proactively refreshes credentials nearing expiry so due
// posts never wait on a refresh at publish time.
type TokenRefreshJob struct {
	tokens service.TokenService
}

func NewTokenRefreshJob(tokens service.TokenService) *TokenRefreshJob {
	return &TokenRefreshJob{tokens: tokens}
}

func (j *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	if _, err := j.tokens.RefreshAllExpiring(ctx, time.Hour); err != nil {
		slog.Info(err.Error())
	}
}
