package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

// DryRunExchange passes reads through and simulates every order-mutating
// call. Opens fill at the current price.
type DryRunExchange struct {
	domain.Exchange
	logger *zap.Logger
}

func NewDryRunExchange(next domain.Exchange, logger *zap.Logger) *DryRunExchange {
	return &DryRunExchange{
		Exchange: next,
		logger:   logger.With(zap.String("exchange", next.Name()), zap.Bool("dry_run", true)),
	}
}

func (d *DryRunExchange) ClosePosition(ctx context.Context, symbol string, quantity float64, side domain.Side) error {
	d.logger.Info("Simulated close", zap.String("symbol", symbol), zap.String("side", string(side)), zap.Float64("qty", quantity))
	return nil
}

func (d *DryRunExchange) OpenPosition(ctx context.Context, symbol string, side domain.Side, quantity float64, leverage int) (*domain.OrderFill, error) {
	price, err := d.Exchange.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	fill := &domain.OrderFill{
		OrderID:  "dry-" + uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		AvgPrice: price,
		FilledAt: time.Now(),
	}
	d.logger.Info("Simulated open",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("qty", quantity),
		zap.Int("leverage", leverage),
		zap.Float64("fill_price", price),
		zap.String("order_id", fill.OrderID))
	return fill, nil
}

func (d *DryRunExchange) SetStopLoss(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) error {
	d.logger.Info("Simulated stop loss", zap.String("symbol", symbol), zap.Float64("qty", quantity), zap.Float64("sl_price", stopPrice))
	return nil
}

func (d *DryRunExchange) SetTakeProfit(ctx context.Context, symbol string, side domain.Side, quantity, takeProfitPrice float64) error {
	d.logger.Info("Simulated take profit", zap.String("symbol", symbol), zap.Float64("qty", quantity), zap.Float64("tp_price", takeProfitPrice))
	return nil
}
