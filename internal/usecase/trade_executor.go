package usecase

import (
	"context"
	"fmt"

	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

// TradeExecutor wraps the order-mutating exchange calls shared by the TP
// evaluator and the re-entry executor.
type TradeExecutor struct {
	logger  *zap.Logger
	metrics Recorder
}

func NewTradeExecutor(logger *zap.Logger, metrics Recorder) *TradeExecutor {
	return &TradeExecutor{
		logger:  logger,
		metrics: recorderOrNop(metrics),
	}
}

// Open places a market order and returns the reported fill.
func (e *TradeExecutor) Open(ctx context.Context, ex domain.Exchange, symbol string, side domain.Side, quantity float64, leverage int) (*domain.OrderFill, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: invalid side: %s", domain.ErrValidation, side)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: invalid quantity: %f", domain.ErrValidation, quantity)
	}
	if leverage < 1 {
		leverage = 1
	}

	fill, err := ex.OpenPosition(ctx, symbol, side, quantity, leverage)
	if err != nil {
		e.metrics.IncExchangeError(string(domain.ErrorKindOf(err)))
		return nil, fmt.Errorf("open %s %s: %w", side, symbol, err)
	}
	if fill.AvgPrice <= 0 {
		// Some venues omit avgPrice on ack; the mark price is the best estimate.
		price, perr := ex.GetCurrentPrice(ctx, symbol)
		if perr != nil {
			e.logger.Warn("Fill price missing and price lookup failed", zap.String("symbol", symbol), zap.Error(perr))
		} else {
			fill.AvgPrice = price
		}
	}
	if fill.Quantity <= 0 {
		fill.Quantity = quantity
	}
	return fill, nil
}

// Close closes quantity of an open position.
func (e *TradeExecutor) Close(ctx context.Context, ex domain.Exchange, pos *domain.Position) error {
	if err := ex.ClosePosition(ctx, pos.Symbol, pos.Quantity, pos.Side); err != nil {
		e.metrics.IncExchangeError(string(domain.ErrorKindOf(err)))
		return fmt.Errorf("close %s %s: %w", pos.Side, pos.Symbol, err)
	}
	return nil
}

// ProtectionResult reports which protective orders failed to place.
type ProtectionResult struct {
	TakeProfitErr error
	StopLossErr   error
}

func (r ProtectionResult) OK() bool {
	return r.TakeProfitErr == nil && r.StopLossErr == nil
}

// Protect places take-profit and stop-loss orders. Failures are logged and
// returned but never undo the open position.
func (e *TradeExecutor) Protect(ctx context.Context, ex domain.Exchange, symbol string, side domain.Side, quantity, takeProfit, stopLoss float64) ProtectionResult {
	var res ProtectionResult

	if err := ex.SetTakeProfit(ctx, symbol, side, quantity, takeProfit); err != nil {
		res.TakeProfitErr = err
		e.metrics.IncProtectionFailure("take_profit")
		e.logger.Error("Failed to set take profit, position left open",
			zap.String("exchange", ex.Name()), zap.String("symbol", symbol),
			zap.Float64("tp_price", takeProfit), zap.Error(err))
	}

	if err := ex.SetStopLoss(ctx, symbol, side, quantity, stopLoss); err != nil {
		res.StopLossErr = err
		e.metrics.IncProtectionFailure("stop_loss")
		e.logger.Error("Failed to set stop loss, position left unprotected",
			zap.String("exchange", ex.Name()), zap.String("symbol", symbol),
			zap.Float64("sl_price", stopLoss), zap.Error(err))
	}

	return res
}
