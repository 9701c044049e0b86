package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

// DefaultMinPositionProfitPct is the per-position floor a position must beat
// to be closed once the account target is reached.
const DefaultMinPositionProfitPct = 2.0

type ClosedPosition struct {
	Symbol       string
	Side         domain.Side
	Quantity     float64
	PnL          float64
	ProfitPct    float64
	ReentryArmed bool
}

type FailedClose struct {
	Symbol string
	Err    error
}

// TPResult is the consolidated outcome of one evaluation.
type TPResult struct {
	Reached        bool
	TotalPnL       float64
	Target         float64
	Qualifying     int
	Closed         []ClosedPosition
	Failed         []FailedClose
	ProfitCaptured float64
}

type TPEvaluator struct {
	repo         *ReentryRepository
	trades       *TradeExecutor
	notifier     domain.Notifier
	logger       *zap.Logger
	metrics      Recorder
	minProfitPct float64
	timeNow      func() time.Time
}

func NewTPEvaluator(repo *ReentryRepository, trades *TradeExecutor, notifier domain.Notifier, logger *zap.Logger, metrics Recorder, minProfitPct float64) *TPEvaluator {
	if minProfitPct <= 0 {
		minProfitPct = DefaultMinPositionProfitPct
	}
	return &TPEvaluator{
		repo:         repo,
		trades:       trades,
		notifier:     notifier,
		logger:       logger.With(zap.String("component", "tp_evaluator")),
		metrics:      recorderOrNop(metrics),
		minProfitPct: minProfitPct,
		timeNow:      time.Now,
	}
}

// FilterQualifying returns the positions that are in profit both in money and
// by more than minProfitPct of price. It does not modify its input.
func FilterQualifying(positions []*domain.Position, minProfitPct float64) []*domain.Position {
	var out []*domain.Position
	for _, p := range positions {
		if p == nil || p.Quantity <= 0 {
			continue
		}
		if p.UnrealizedPnL > 0 && p.ProfitPercent() > minProfitPct {
			out = append(out, p)
		}
	}
	return out
}

// Evaluate checks one account against its target and closes the qualifying
// positions. Re-entry records are written before the closes are sent.
func (e *TPEvaluator) Evaluate(ctx context.Context, ex domain.Exchange, cfg *domain.TakeProfitConfig) (*TPResult, error) {
	account := cfg.Account()
	log := e.logger.With(zap.String("user", account.UserID), zap.String("exchange", account.Exchange))

	positions, err := ex.GetOpenPositions(ctx)
	if err != nil {
		e.metrics.IncTPScan("error")
		e.metrics.IncExchangeError(string(domain.ErrorKindOf(err)))
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}

	res := &TPResult{Target: cfg.TargetProfit()}
	for _, p := range positions {
		res.TotalPnL += p.UnrealizedPnL
	}

	if res.TotalPnL < res.Target {
		e.metrics.IncTPScan("not_reached")
		log.Debug("Target not reached", zap.Float64("total_pnl", res.TotalPnL), zap.Float64("target", res.Target))
		return res, nil
	}
	res.Reached = true
	e.metrics.IncTPScan("reached")

	qualifying := FilterQualifying(positions, e.minProfitPct)
	res.Qualifying = len(qualifying)
	log.Info("Take profit target reached",
		zap.Float64("total_pnl", res.TotalPnL),
		zap.Float64("target", res.Target),
		zap.Int("positions", len(positions)),
		zap.Int("qualifying", len(qualifying)))

	if len(qualifying) == 0 {
		return res, nil
	}

	policy, err := e.repo.GetRetryPolicy(ctx, account.UserID, account.Exchange)
	if err != nil {
		log.Error("Failed to load retry policy, closing without re-entry", zap.Error(err))
		policy = &domain.RetryPolicy{}
	}

	armed := make(map[string]bool, len(qualifying))
	rearm := policy.Enabled && policy.MaxRetry > 1
	if policy.Enabled && !rearm {
		// The TP close is the only attempt the policy allows.
		log.Info("Retry policy allows no re-entry", zap.Int("max_retry", policy.MaxRetry))
	}
	if rearm {
		for _, p := range qualifying {
			if err := e.armReentry(ctx, ex, account, p, cfg, policy); err != nil {
				log.Error("Failed to arm re-entry", zap.String("symbol", p.Symbol), zap.Error(err))
				continue
			}
			armed[p.Symbol] = true
		}
	}

	for _, p := range qualifying {
		if err := e.trades.Close(ctx, ex, p); err != nil {
			kind := domain.ErrorKindOf(err)
			e.metrics.IncCloseFailure(account.Exchange, string(kind))
			log.Error("Failed to close position", zap.String("symbol", p.Symbol), zap.String("kind", string(kind)), zap.Error(err))
			res.Failed = append(res.Failed, FailedClose{Symbol: p.Symbol, Err: err})
			continue
		}
		e.metrics.IncPositionClosed(account.Exchange)
		res.ProfitCaptured += p.UnrealizedPnL
		res.Closed = append(res.Closed, ClosedPosition{
			Symbol:       p.Symbol,
			Side:         p.Side,
			Quantity:     p.Quantity,
			PnL:          p.UnrealizedPnL,
			ProfitPct:    p.ProfitPercent(),
			ReentryArmed: armed[p.Symbol],
		})
		log.Info("Position closed on target",
			zap.String("symbol", p.Symbol),
			zap.String("side", string(p.Side)),
			zap.Float64("qty", p.Quantity),
			zap.Float64("pnl", p.UnrealizedPnL))
	}

	if len(res.Closed) > 0 {
		notify(ctx, e.notifier, e.logger, account, formatTPResult(account, res))
	}
	return res, nil
}

func (e *TPEvaluator) armReentry(ctx context.Context, ex domain.Exchange, account domain.Account, p *domain.Position, cfg *domain.TakeProfitConfig, policy *domain.RetryPolicy) error {
	remaining := policy.MaxRetry - 1

	qtyPrecision := precisionOrRaw(ctx, e.logger, p.Symbol, ex.QuantityPrecision)
	pricePrecision := precisionOrRaw(ctx, e.logger, p.Symbol, ex.PricePrecision)

	next := floorQuantity(NextQuantity(p.Quantity, policy.VolumeReductionPercent), qtyPrecision)
	if next <= 0 {
		return fmt.Errorf("%w: next quantity rounds to zero", domain.ErrValidation)
	}

	sl, err := CalculateStopLoss(p.EntryPrice, p.Side, cfg.Percentage, next, pricePrecision)
	if err != nil {
		return err
	}

	leverage := p.Leverage
	if leverage < 1 {
		leverage = 1
	}

	rec := &domain.ReentryRecord{
		UserID:                 account.UserID,
		Exchange:               account.Exchange,
		Symbol:                 p.Symbol,
		Side:                   p.Side,
		Leverage:               leverage,
		EntryPrice:             p.EntryPrice,
		Quantity:               next,
		OriginalQuantity:       p.Quantity,
		StopLossPrice:          sl.StopLossPrice,
		TPPercentage:           cfg.Percentage,
		VolumeReductionPercent: policy.VolumeReductionPercent,
		CurrentRetry:           1,
		RemainingRetries:       remaining,
		ClosedAt:               e.timeNow(),
	}
	if err := e.repo.SaveReentry(ctx, rec); err != nil {
		return fmt.Errorf("failed to save re-entry record: %w", err)
	}

	e.logger.Info("Re-entry armed",
		zap.String("user", account.UserID),
		zap.String("exchange", account.Exchange),
		zap.String("symbol", p.Symbol),
		zap.Float64("next_qty", next),
		zap.Float64("stop_loss", sl.StopLossPrice),
		zap.Int("remaining_retries", remaining))
	return nil
}

// precisionOrRaw returns -1 (no rounding) when the lookup fails.
func precisionOrRaw(ctx context.Context, logger *zap.Logger, symbol string, lookup func(context.Context, string) (int, error)) int {
	p, err := lookup(ctx, symbol)
	if err != nil {
		logger.Warn("Precision lookup failed, using raw values", zap.String("symbol", symbol), zap.Error(err))
		return -1
	}
	return p
}

func notify(ctx context.Context, n domain.Notifier, logger *zap.Logger, account domain.Account, message string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, account, message); err != nil {
		logger.Warn("Notification failed", zap.String("account", account.String()), zap.Error(err))
	}
}
