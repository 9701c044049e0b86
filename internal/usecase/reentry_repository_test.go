package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
)

func TestReentryRepository_RoundTrip(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := pendingRecord(now)

	_, err := repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, repo.SaveReentry(ctx, rec))
	got, err := repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, rec.Quantity, got.Quantity)
	assert.True(t, rec.ClosedAt.Equal(got.ClosedAt))

	keys, err := repo.ReentryKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"reentry:u1:binance:BTCUSDT"}, keys)

	require.NoError(t, repo.DeleteReentry(ctx, "u1", "binance", "BTCUSDT"))
	_, err = repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReentryRepository_RejectsInvalidRecord(t *testing.T) {
	repo := newTestRepo()
	rec := pendingRecord(time.Now())
	rec.Quantity = 2 // above original

	assert.ErrorIs(t, repo.SaveReentry(context.Background(), rec), domain.ErrValidation)
}

func TestReentryRepository_AccountScoping(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()
	now := time.Now()

	for _, acc := range []domain.Account{{UserID: "u1", Exchange: "binance"}, {UserID: "u1", Exchange: "bybit"}, {UserID: "u10", Exchange: "binance"}} {
		rec := pendingRecord(now)
		rec.UserID, rec.Exchange = acc.UserID, acc.Exchange
		require.NoError(t, repo.SaveReentry(ctx, rec))
	}

	recs, err := repo.ListReentries(ctx, "u1", "binance")
	require.NoError(t, err)
	require.Len(t, recs, 1, "u10 must not match the u1 prefix")

	n, err := repo.DeleteAccountReentries(ctx, "u1", "binance")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := repo.ListAllReentries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReentryRepository_ConfigsAndPolicies(t *testing.T) {
	repo := newTestRepo()
	ctx := context.Background()

	p, err := repo.GetRetryPolicy(ctx, "u1", "binance")
	require.NoError(t, err)
	assert.False(t, p.Enabled, "absent policy reads as disabled")

	require.NoError(t, repo.SaveTakeProfitConfig(ctx, fiveOnFiftyK()))
	require.NoError(t, repo.SaveTakeProfitConfig(ctx, &domain.TakeProfitConfig{UserID: "u2", Exchange: "bybit", Percentage: 3, InitialBalance: 1000}))

	configs, err := repo.ListTakeProfitConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
}
