package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/vitos/crypto_tp_reentry/internal/domain"
)

// TimeoutExchange bounds every call to the wrapped exchange. A call that runs
// out of time comes back as a transient error.
type TimeoutExchange struct {
	next    domain.Exchange
	timeout time.Duration
}

func WithTimeout(next domain.Exchange, timeout time.Duration) domain.Exchange {
	if timeout <= 0 {
		return next
	}
	return &TimeoutExchange{next: next, timeout: timeout}
}

func (t *TimeoutExchange) Name() string { return t.next.Name() }

func (t *TimeoutExchange) wrap(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrTransient) {
		return domain.NewTransientError(t.next.Name(), op, err)
	}
	return err
}

func (t *TimeoutExchange) GetOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.next.GetOpenPositions(ctx)
	return res, t.wrap(ctx, "positions", err)
}

func (t *TimeoutExchange) GetAccountUnrealizedPnL(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.next.GetAccountUnrealizedPnL(ctx)
	return res, t.wrap(ctx, "unrealized_pnl", err)
}

func (t *TimeoutExchange) ClosePosition(ctx context.Context, symbol string, quantity float64, side domain.Side) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap(ctx, "close", t.next.ClosePosition(ctx, symbol, quantity, side))
}

func (t *TimeoutExchange) OpenPosition(ctx context.Context, symbol string, side domain.Side, quantity float64, leverage int) (*domain.OrderFill, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.next.OpenPosition(ctx, symbol, side, quantity, leverage)
	return res, t.wrap(ctx, "open", err)
}

func (t *TimeoutExchange) SetStopLoss(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap(ctx, "stop_loss", t.next.SetStopLoss(ctx, symbol, side, quantity, stopPrice))
}

func (t *TimeoutExchange) SetTakeProfit(ctx context.Context, symbol string, side domain.Side, quantity, takeProfitPrice float64) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap(ctx, "take_profit", t.next.SetTakeProfit(ctx, symbol, side, quantity, takeProfitPrice))
}

func (t *TimeoutExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.next.GetCurrentPrice(ctx, symbol)
	return res, t.wrap(ctx, "price", err)
}

func (t *TimeoutExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.next.GetCandles(ctx, symbol, interval, limit)
	return res, t.wrap(ctx, "candles", err)
}

func (t *TimeoutExchange) PricePrecision(ctx context.Context, symbol string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.next.PricePrecision(ctx, symbol)
	return res, t.wrap(ctx, "price_precision", err)
}

func (t *TimeoutExchange) QuantityPrecision(ctx context.Context, symbol string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	res, err := t.next.QuantityPrecision(ctx, symbol)
	return res, t.wrap(ctx, "qty_precision", err)
}
