package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"github.com/vitos/crypto_tp_reentry/internal/infrastructure/storage"
	"github.com/vitos/crypto_tp_reentry/internal/usecase"
)

func pendingRecord(now time.Time) *domain.ReentryRecord {
	return &domain.ReentryRecord{
		UserID:                 "u1",
		Exchange:               "binance",
		Symbol:                 "BTCUSDT",
		Side:                   domain.SideLong,
		Leverage:               10,
		EntryPrice:             100000,
		Quantity:               0.85,
		OriginalQuantity:       1,
		StopLossPrice:          90000,
		TPPercentage:           10,
		VolumeReductionPercent: 15,
		CurrentRetry:           1,
		RemainingRetries:       3,
		ClosedAt:               now.Add(-time.Hour),
	}
}

func newTestExecutor(repo *usecase.ReentryRepository, notifier *MockNotifier, metrics *MockRecorder, now time.Time) *usecase.ReentryExecutor {
	e := usecase.NewReentryExecutor(repo, usecase.NewTradeExecutor(testLogger(), metrics), notifier, testLogger(), metrics)
	e.SetClock(fixedClock(now))
	return e
}

// Quantities shrink by 15% per cycle and the record disappears after the
// last re-entry.
func TestReentryExecutor_Cascade(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo()
	ex := NewMockExchange()
	ex.FillPrice = 82000
	metrics := NewMockRecorder()
	exec := newTestExecutor(repo, &MockNotifier{}, metrics, now)

	require.NoError(t, repo.SaveReentry(ctx, pendingRecord(now)))

	want := []float64{0.85, 0.7225, 0.6141}
	for i, qty := range want {
		rec, err := repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
		require.NoError(t, err, "cycle %d", i+1)

		res, err := exec.Execute(ctx, ex, rec, 0)
		require.NoError(t, err)
		assert.InDelta(t, qty, res.Quantity, 0.0005, "cycle %d", i+1)
		assert.Equal(t, 2-i, res.RemainingRetries)
		assert.Equal(t, i == len(want)-1, res.Terminated)
	}

	_, err := repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, ex.Opened, 3)
	for i, qty := range want {
		assert.InDelta(t, qty, ex.Opened[i].Quantity, 0.0005)
		assert.Equal(t, 10, ex.Opened[i].Leverage)
	}
	assert.Equal(t, 2, metrics.get("reentry:reentered"))
	assert.Equal(t, 1, metrics.get("reentry:terminated"))
}

func TestReentryExecutor_AdvancesRecordFromFill(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo()
	ex := NewMockExchange()
	ex.FillPrice = 82000
	notifier := &MockNotifier{}
	exec := newTestExecutor(repo, notifier, NewMockRecorder(), now)

	rec := pendingRecord(now)
	require.NoError(t, repo.SaveReentry(ctx, rec))

	res, err := exec.Execute(ctx, ex, rec, 0)
	require.NoError(t, err)

	// TP and SL derive from the fill, not the stored entry.
	assert.InDelta(t, 90200, res.TakeProfitPrice, 1e-6)
	assert.InDelta(t, 73800, res.StopLossPrice, 1e-6)
	require.Len(t, ex.TakeProfits, 1)
	require.Len(t, ex.StopLosses, 1)
	assert.InDelta(t, 90200, ex.TakeProfits[0].Price, 1e-6)
	assert.InDelta(t, 73800, ex.StopLosses[0].Price, 1e-6)
	assert.InDelta(t, 0.85, ex.StopLosses[0].Quantity, 1e-9)

	next, err := repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 82000, next.EntryPrice, 1e-9)
	assert.InDelta(t, 0.7225, next.Quantity, 1e-9)
	assert.Equal(t, 2, next.CurrentRetry)
	assert.Equal(t, 2, next.RemainingRetries)
	assert.True(t, next.ClosedAt.Equal(now))
	assert.InDelta(t, 1, next.OriginalQuantity, 1e-9)

	assert.Equal(t, 1, notifier.count())
	assert.Contains(t, notifier.Messages[0], "Retries remaining: 2")
}

func TestReentryExecutor_OpenFailureLeavesRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo()
	ex := NewMockExchange()
	ex.OpenErr = domain.NewValidationError("mock", "open", -2019, errors.New("insufficient balance"))
	metrics := NewMockRecorder()
	exec := newTestExecutor(repo, &MockNotifier{}, metrics, now)

	rec := pendingRecord(now)
	require.NoError(t, repo.SaveReentry(ctx, rec))

	_, err := exec.Execute(ctx, ex, rec, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	stored, err := repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, rec.Quantity, stored.Quantity)
	assert.Equal(t, rec.RemainingRetries, stored.RemainingRetries)
	assert.True(t, stored.ClosedAt.Equal(rec.ClosedAt))
	assert.Equal(t, 1, metrics.get("reentry:error"))
}

func TestReentryExecutor_ProtectionFailureIsNonFatal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo()
	ex := NewMockExchange()
	ex.FillPrice = 82000
	ex.StopLossErr = domain.NewValidationError("mock", "stop_loss", -2021, errors.New("order would immediately trigger"))
	ex.TPErr = domain.NewTransientError("mock", "take_profit", errNetwork)
	metrics := NewMockRecorder()
	notifier := &MockNotifier{}
	exec := newTestExecutor(repo, notifier, metrics, now)

	rec := pendingRecord(now)
	require.NoError(t, repo.SaveReentry(ctx, rec))

	res, err := exec.Execute(ctx, ex, rec, 0)
	require.NoError(t, err)
	assert.False(t, res.Protection.OK())
	assert.Error(t, res.Protection.StopLossErr)
	assert.Error(t, res.Protection.TakeProfitErr)
	assert.Len(t, ex.Opened, 1)
	assert.Equal(t, 1, metrics.get("protection:stop_loss"))
	assert.Equal(t, 1, metrics.get("protection:take_profit"))

	next, err := repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, next.RemainingRetries)
	assert.Contains(t, notifier.Messages[0], "Protective orders incomplete")
}

func TestReentryExecutor_MissingFillPriceUsesMarkPrice(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo()
	ex := NewMockExchange()
	ex.Price = 81000
	exec := newTestExecutor(repo, &MockNotifier{}, NewMockRecorder(), now)

	rec := pendingRecord(now)
	require.NoError(t, repo.SaveReentry(ctx, rec))

	res, err := exec.Execute(ctx, ex, rec, 0)
	require.NoError(t, err)
	assert.InDelta(t, 81000, res.FillPrice, 1e-9)
}

func TestReentryExecutor_QuantityBelowLotSizeTerminates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo()
	ex := NewMockExchange()
	ex.FillPrice = 82000
	ex.QtyPrec = 3
	exec := newTestExecutor(repo, &MockNotifier{}, NewMockRecorder(), now)

	rec := pendingRecord(now)
	rec.Quantity = 0.001
	require.NoError(t, repo.SaveReentry(ctx, rec))

	res, err := exec.Execute(ctx, ex, rec, 0)
	require.NoError(t, err)
	assert.True(t, res.Terminated)
	assert.Zero(t, res.NextQuantity)

	_, err = repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReentryExecutor_FillPriceFallbacks(t *testing.T) {
	tests := []struct {
		name        string
		fill        float64
		marketPrice float64
		wantPrice   float64
		wantSource  string
	}{
		{name: "fill", fill: 82000, marketPrice: 83000, wantPrice: 82000, wantSource: "fill"},
		{name: "market", marketPrice: 83000, wantPrice: 83000, wantSource: "market"},
		{name: "stored entry", wantPrice: 100000, wantSource: "entry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			repo := newTestRepo()
			ex := NewMockExchange()
			ex.FillPrice = tt.fill
			ex.PriceErr = domain.NewTransientError("mock", "price", errNetwork)
			exec := newTestExecutor(repo, &MockNotifier{}, NewMockRecorder(), now)

			rec := pendingRecord(now)
			require.NoError(t, repo.SaveReentry(ctx, rec))

			res, err := exec.Execute(ctx, ex, rec, tt.marketPrice)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, res.PriceSource)
			assert.InDelta(t, tt.wantPrice, res.FillPrice, 1e-9)
			assert.InDelta(t, tt.wantPrice*1.1, res.TakeProfitPrice, 1e-6)
			require.Len(t, ex.TakeProfits, 1)
			assert.Greater(t, ex.TakeProfits[0].Price, 0.0)

			next, err := repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
			require.NoError(t, err)
			assert.InDelta(t, tt.wantPrice, next.EntryPrice, 1e-9)
			assert.InDelta(t, 0.7225, next.Quantity, 1e-9)
			assert.Equal(t, 2, next.RemainingRetries)
			assert.True(t, next.ClosedAt.Equal(now))
		})
	}
}

func TestReentryExecutor_SaveFailureRemovesRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &MockStore{MemoryStore: storage.NewMemoryStore()}
	repo := usecase.NewReentryRepository(store)
	ex := NewMockExchange()
	ex.FillPrice = 82000
	metrics := NewMockRecorder()
	notifier := &MockNotifier{}
	exec := newTestExecutor(repo, notifier, metrics, now)

	rec := pendingRecord(now)
	require.NoError(t, repo.SaveReentry(ctx, rec))
	store.SetErr = errors.New("disk I/O error")

	res, err := exec.Execute(ctx, ex, rec, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, usecase.ErrStaleRecord)
	require.NotNil(t, res)
	assert.True(t, res.Terminated)
	assert.False(t, res.Stale)
	assert.Zero(t, res.RemainingRetries)
	assert.Equal(t, 1, metrics.get("reentry:error"))
	assert.Equal(t, 1, notifier.count())

	_, err = repo.GetReentry(ctx, "u1", "binance", "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Nothing is left for a later cycle to open again.
	keys, err := repo.ReentryKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Len(t, ex.Opened, 1)
}

func TestReentryExecutor_StaleRecordReported(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &MockStore{MemoryStore: storage.NewMemoryStore()}
	repo := usecase.NewReentryRepository(store)
	ex := NewMockExchange()
	ex.FillPrice = 82000
	exec := newTestExecutor(repo, &MockNotifier{}, NewMockRecorder(), now)

	rec := pendingRecord(now)
	require.NoError(t, repo.SaveReentry(ctx, rec))
	store.SetErr = errors.New("disk I/O error")
	store.DeleteErr = errors.New("database is locked")

	res, err := exec.Execute(ctx, ex, rec, 0)
	assert.ErrorIs(t, err, usecase.ErrStaleRecord)
	require.NotNil(t, res)
	assert.True(t, res.Stale)
	assert.True(t, res.Terminated)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Contains(t, err.Error(), "database is locked")
}
