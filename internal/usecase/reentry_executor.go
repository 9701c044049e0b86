package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

// ReentryResult describes one executed re-entry.
type ReentryResult struct {
	FillPrice float64
	// PriceSource is "fill", "market" or "entry": where FillPrice came from
	// when the venue did not report an average price.
	PriceSource      string
	Quantity         float64
	TakeProfitPrice  float64
	StopLossPrice    float64
	NextQuantity     float64
	RemainingRetries int
	Terminated       bool
	// Stale is set when the open succeeded but the stored record could be
	// neither advanced nor removed.
	Stale      bool
	Protection ProtectionResult
}

// ErrStaleRecord means a position was opened but its record still holds the
// terms that were just executed.
var ErrStaleRecord = errors.New("re-entry record is stale")

// ReentryExecutor re-opens a position for an approved record and advances the
// record through the volume-reduction cascade.
//
//	PENDING --gate allows--> REENTERED --remaining > 0--> PENDING (updated)
//	                                   --remaining = 0--> TERMINATED (deleted)
type ReentryExecutor struct {
	repo     *ReentryRepository
	trades   *TradeExecutor
	notifier domain.Notifier
	logger   *zap.Logger
	metrics  Recorder
	timeNow  func() time.Time
}

func NewReentryExecutor(repo *ReentryRepository, trades *TradeExecutor, notifier domain.Notifier, logger *zap.Logger, metrics Recorder) *ReentryExecutor {
	return &ReentryExecutor{
		repo:     repo,
		trades:   trades,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "reentry_executor")),
		metrics:  recorderOrNop(metrics),
		timeNow:  time.Now,
	}
}

// Execute opens the position described by rec. marketPrice is the last price
// the caller saw (0 if unknown); it stands in for a missing fill price.
//
// When the open fails the record is left untouched so the next cycle retries
// the same terms. Once the open succeeds the record is always advanced or
// removed, so a later cycle can never open the same quantity again.
func (e *ReentryExecutor) Execute(ctx context.Context, ex domain.Exchange, rec *domain.ReentryRecord, marketPrice float64) (*ReentryResult, error) {
	log := e.logger.With(
		zap.String("user", rec.UserID),
		zap.String("exchange", rec.Exchange),
		zap.String("symbol", rec.Symbol),
		zap.Int("retry", rec.CurrentRetry))

	fill, err := e.trades.Open(ctx, ex, rec.Symbol, rec.Side, rec.Quantity, rec.Leverage)
	if err != nil {
		e.metrics.IncReentry(rec.Exchange, "error")
		return nil, err
	}

	pricePrecision := precisionOrRaw(ctx, e.logger, rec.Symbol, ex.PricePrecision)
	qtyPrecision := precisionOrRaw(ctx, e.logger, rec.Symbol, ex.QuantityPrecision)

	fillPrice, source := fill.AvgPrice, "fill"
	switch {
	case fillPrice > 0:
	case marketPrice > 0:
		fillPrice, source = marketPrice, "market"
	default:
		fillPrice, source = rec.EntryPrice, "entry"
	}
	if source != "fill" {
		log.Warn("Fill price unknown, using fallback", zap.String("source", source), zap.Float64("price", fillPrice))
	}

	res := &ReentryResult{
		FillPrice:       fillPrice,
		PriceSource:     source,
		Quantity:        fill.Quantity,
		TakeProfitPrice: roundPrice(TakeProfitPrice(fillPrice, rec.Side, rec.TPPercentage), pricePrecision),
	}

	// The stop is recomputed from the actual fill rather than the stored
	// reference price.
	sl, err := CalculateStopLoss(fillPrice, rec.Side, rec.TPPercentage, fill.Quantity, pricePrecision)
	if err != nil {
		log.Warn("Stop loss from fill price failed, using stored stop", zap.Error(err))
		res.StopLossPrice = rec.StopLossPrice
	} else {
		res.StopLossPrice = sl.StopLossPrice
	}

	res.Protection = e.trades.Protect(ctx, ex, rec.Symbol, rec.Side, fill.Quantity, res.TakeProfitPrice, res.StopLossPrice)

	res.NextQuantity = floorQuantity(NextQuantity(rec.Quantity, rec.VolumeReductionPercent), qtyPrecision)
	res.RemainingRetries = rec.RemainingRetries - 1

	if res.RemainingRetries > 0 && res.NextQuantity > 0 {
		next, err := e.advance(rec, fillPrice, res.NextQuantity, pricePrecision)
		if err == nil {
			err = e.repo.SaveReentry(ctx, next)
		}
		if err != nil {
			return res, e.disarm(ctx, log, rec, res, err)
		}
		e.metrics.IncReentry(rec.Exchange, "reentered")
	} else {
		if res.RemainingRetries < 0 {
			res.RemainingRetries = 0
		}
		res.Terminated = true
		if err := e.repo.DeleteReentry(ctx, rec.UserID, rec.Exchange, rec.Symbol); err != nil {
			e.metrics.IncReentry(rec.Exchange, "error")
			log.Error("Position re-opened but record delete failed", zap.Error(err))
			return res, fmt.Errorf("failed to delete re-entry record: %w", err)
		}
		e.metrics.IncReentry(rec.Exchange, "terminated")
	}

	log.Info("Re-entry executed",
		zap.String("side", string(rec.Side)),
		zap.Float64("fill_price", res.FillPrice),
		zap.Float64("qty", res.Quantity),
		zap.Float64("tp", res.TakeProfitPrice),
		zap.Float64("sl", res.StopLossPrice),
		zap.Float64("next_qty", res.NextQuantity),
		zap.Int("remaining_retries", res.RemainingRetries),
		zap.Bool("terminated", res.Terminated))

	notify(ctx, e.notifier, e.logger, rec.Account(), formatReentry(rec, res))
	return res, nil
}

// disarm runs when the position is open but the next record could not be
// stored. The record is removed so no later cycle re-opens the same terms; the
// cascade ends early. If even the delete fails the stored record is stale and
// the error says so.
func (e *ReentryExecutor) disarm(ctx context.Context, log *zap.Logger, rec *domain.ReentryRecord, res *ReentryResult, cause error) error {
	e.metrics.IncReentry(rec.Exchange, "error")
	res.Terminated = true
	res.RemainingRetries = 0

	if err := e.repo.DeleteReentry(ctx, rec.UserID, rec.Exchange, rec.Symbol); err != nil {
		res.Stale = true
		log.Error("Position re-opened but record could not be updated or removed, stored record is stale",
			zap.NamedError("update_error", cause), zap.Error(err))
		return fmt.Errorf("%w: update failed: %v; delete failed: %v", ErrStaleRecord, cause, err)
	}

	log.Error("Position re-opened but record update failed, cascade ended", zap.Error(cause))
	notify(ctx, e.notifier, e.logger, rec.Account(), formatReentry(rec, res))
	return fmt.Errorf("failed to update re-entry record, record removed: %w", cause)
}

// advance builds the record for the following cycle.
func (e *ReentryExecutor) advance(rec *domain.ReentryRecord, fillPrice, nextQty float64, pricePrecision int) (*domain.ReentryRecord, error) {
	sl, err := CalculateStopLoss(fillPrice, rec.Side, rec.TPPercentage, nextQty, pricePrecision)
	if err != nil {
		return nil, err
	}
	next := *rec
	next.EntryPrice = fillPrice
	next.Quantity = nextQty
	next.StopLossPrice = sl.StopLossPrice
	next.CurrentRetry++
	next.RemainingRetries--
	next.ClosedAt = e.timeNow()
	return &next, nil
}
