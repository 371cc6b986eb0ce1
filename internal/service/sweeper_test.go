package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/domain"
	"github.com/tidemark/authd/internal/repository"
	"github.com/tidemark/authd/internal/service"
)

func TestSweepDeletesOnlyRecordsPastRetention(t *testing.T) {
	ctx := context.Background()
	codes := repository.NewMemoryCodeRepo()
	tokenRepo := repository.NewMemoryTokenRepo(codes)
	sessionRepo := repository.NewMemorySessionRepo(tokenRepo)
	sweeper := service.NewSweeper(codes, tokenRepo, sessionRepo, testConfig(), zap.NewNop())

	old := time.Now().Add(-10 * 24 * time.Hour)
	recent := time.Now().Add(time.Hour)

	require.NoError(t, codes.Create(ctx, domain.AuthorizationCode{ID: "old-code", ExpiresAt: old}))
	require.NoError(t, codes.Create(ctx, domain.AuthorizationCode{ID: "live-code", ExpiresAt: recent}))
	require.NoError(t, tokenRepo.CreatePair(ctx,
		domain.AccessToken{ID: "old-access", ExpiresAt: old},
		domain.RefreshToken{ID: "old-refresh", AccessTokenID: "old-access", ExpiresAt: old},
	))
	require.NoError(t, tokenRepo.CreatePair(ctx,
		domain.AccessToken{ID: "live-access", ExpiresAt: recent},
		domain.RefreshToken{ID: "live-refresh", AccessTokenID: "live-access", ExpiresAt: recent},
	))
	require.NoError(t, sessionRepo.Create(ctx, domain.SessionToken{Token: "old-session", UserID: 1, ExpiresAt: old}))
	require.NoError(t, sessionRepo.Create(ctx, domain.SessionToken{Token: "live-session", UserID: 1, ExpiresAt: recent}))

	deleted, err := sweeper.SweepBefore(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	// old code + old refresh + old access + old session
	require.Equal(t, int64(4), deleted)

	_, err = codes.Get(ctx, "old-code")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = codes.Get(ctx, "live-code")
	require.NoError(t, err)
	_, err = tokenRepo.GetAccessToken(ctx, "live-access")
	require.NoError(t, err)
	_, err = tokenRepo.GetRefreshToken(ctx, "old-refresh")
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = sessionRepo.Get(ctx, "live-session")
	require.NoError(t, err)
	_, err = sessionRepo.Get(ctx, "old-session")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
