package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

// stubExchange blocks on every call until ctx is done when slow is set.
type stubExchange struct {
	slow   bool
	price  float64
	opened int
	closed int
}

func (s *stubExchange) wait(ctx context.Context) error {
	if !s.slow {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubExchange) Name() string { return "stub" }
func (s *stubExchange) GetOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	return nil, s.wait(ctx)
}
func (s *stubExchange) GetAccountUnrealizedPnL(ctx context.Context) (float64, error) {
	return 0, s.wait(ctx)
}
func (s *stubExchange) ClosePosition(ctx context.Context, symbol string, quantity float64, side domain.Side) error {
	s.closed++
	return s.wait(ctx)
}
func (s *stubExchange) OpenPosition(ctx context.Context, symbol string, side domain.Side, quantity float64, leverage int) (*domain.OrderFill, error) {
	s.opened++
	return &domain.OrderFill{Quantity: quantity}, s.wait(ctx)
}
func (s *stubExchange) SetStopLoss(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) error {
	return errors.New("should not be called in dry run")
}
func (s *stubExchange) SetTakeProfit(ctx context.Context, symbol string, side domain.Side, quantity, takeProfitPrice float64) error {
	return errors.New("should not be called in dry run")
}
func (s *stubExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return s.price, s.wait(ctx)
}
func (s *stubExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return nil, s.wait(ctx)
}
func (s *stubExchange) PricePrecision(ctx context.Context, symbol string) (int, error) {
	return 2, s.wait(ctx)
}
func (s *stubExchange) QuantityPrecision(ctx context.Context, symbol string) (int, error) {
	return 3, s.wait(ctx)
}

func TestWithTimeout_SlowCallIsTransient(t *testing.T) {
	ex := WithTimeout(&stubExchange{slow: true}, 20*time.Millisecond)

	start := time.Now()
	_, err := ex.GetCurrentPrice(context.Background(), "BTCUSDT")
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_ZeroDisables(t *testing.T) {
	inner := &stubExchange{}
	assert.Same(t, domain.Exchange(inner), WithTimeout(inner, 0))
}

func TestDryRunExchange(t *testing.T) {
	inner := &stubExchange{price: 81000}
	ex := NewDryRunExchange(inner, zap.NewNop())
	ctx := context.Background()

	fill, err := ex.OpenPosition(ctx, "BTCUSDT", domain.SideLong, 0.5, 10)
	require.NoError(t, err)
	assert.Equal(t, 81000.0, fill.AvgPrice)
	assert.Equal(t, 0.5, fill.Quantity)
	assert.Contains(t, fill.OrderID, "dry-")

	require.NoError(t, ex.ClosePosition(ctx, "BTCUSDT", 0.5, domain.SideLong))
	require.NoError(t, ex.SetStopLoss(ctx, "BTCUSDT", domain.SideLong, 0.5, 70000))
	require.NoError(t, ex.SetTakeProfit(ctx, "BTCUSDT", domain.SideLong, 0.5, 90000))
	assert.Zero(t, inner.opened)
	assert.Zero(t, inner.closed)

	p, err := ex.PricePrecision(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, p, "reads pass through")
}

func TestRegistry(t *testing.T) {
	accounts := []AccountCredentials{
		{UserID: "u1", Exchange: "binance", APIKey: "k", APISecret: "s", Testnet: true},
		{UserID: "u1", Exchange: "bybit", APIKey: "k", APISecret: "s"},
	}
	r, err := NewRegistry(accounts, RegistryOptions{CallTimeout: 5 * time.Second, DryRun: true}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	ex, err := r.ForAccount(domain.Account{UserID: "u1", Exchange: "bybit"})
	require.NoError(t, err)
	assert.Equal(t, "bybit", ex.Name())
	assert.Len(t, r.Accounts(), 2)

	_, err = r.ForAccount(domain.Account{UserID: "u2", Exchange: "bybit"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewRegistry([]AccountCredentials{{UserID: "u1", Exchange: "okx"}}, RegistryOptions{}, zap.NewNop())
	assert.Error(t, err)
}
