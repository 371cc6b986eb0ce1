package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidemark/authd/internal/domain"
	"github.com/tidemark/authd/internal/repository"
)

func TestConcurrentRotateHasOneWinner(t *testing.T) {
	ctx := context.Background()
	codes := repository.NewMemoryCodeRepo()
	tokens := repository.NewMemoryTokenRepo(codes)

	require.NoError(t, tokens.CreatePair(ctx,
		domain.AccessToken{ID: "access-1", ClientID: "c", ExpiresAt: time.Now().Add(time.Hour)},
		domain.RefreshToken{ID: "refresh-1", AccessTokenID: "access-1", ExpiresAt: time.Now().Add(time.Hour)},
	))

	const racers = 16
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := tokens.Rotate(ctx, "refresh-1",
				domain.AccessToken{ID: accessID(n), ClientID: "c", ExpiresAt: time.Now().Add(time.Hour)},
				domain.RefreshToken{ID: refreshID(n), AccessTokenID: accessID(n), ExpiresAt: time.Now().Add(time.Hour)},
			)
			if err == nil {
				wins.Add(1)
			} else {
				require.ErrorIs(t, err, repository.ErrConsumed)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int64(1), wins.Load())

	// The consumed refresh token and its access token are both revoked.
	old, err := tokens.GetRefreshToken(ctx, "refresh-1")
	require.NoError(t, err)
	require.True(t, old.Revoked)
	oldAccess, err := tokens.GetAccessToken(ctx, "access-1")
	require.NoError(t, err)
	require.True(t, oldAccess.Revoked)
}

func accessID(n int) string {
	return "access-new-" + string(rune('a'+n))
}

func refreshID(n int) string {
	return "refresh-new-" + string(rune('a'+n))
}

func TestAdjustQuantityNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	items := repository.NewMemoryItemRepo()

	item, err := items.Create(ctx, domain.Item{ID: 1, SKU: "S", Name: "N", Quantity: 5})
	require.NoError(t, err)

	const racers = 10
	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := items.AdjustQuantity(ctx, item.ID, -1); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(5), successes.Load())
	got, err := items.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Zero(t, got.Quantity)
}
