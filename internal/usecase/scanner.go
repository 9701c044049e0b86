package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ScanSummary counts the units processed by one scan.
type ScanSummary struct {
	ScanID string
	Units  int
	Failed int
	Acted  int
}

// Scanner fans one tick out to independent units of work: one per account
// for take-profit, one per pending record for re-entry. Each unit runs on its
// own goroutine; units sharing a key never overlap.
type Scanner struct {
	repo      *ReentryRepository
	exchanges domain.ExchangeProvider
	evaluator *TPEvaluator
	gate      *SafetyGate
	executor  *ReentryExecutor
	logger    *zap.Logger
	metrics   Recorder
	timeNow   func() time.Time

	flights singleflight.Group
}

func NewScanner(
	repo *ReentryRepository,
	exchanges domain.ExchangeProvider,
	evaluator *TPEvaluator,
	gate *SafetyGate,
	executor *ReentryExecutor,
	logger *zap.Logger,
	metrics Recorder,
) *Scanner {
	return &Scanner{
		repo:      repo,
		exchanges: exchanges,
		evaluator: evaluator,
		gate:      gate,
		executor:  executor,
		logger:    logger.With(zap.String("component", "scanner")),
		metrics:   recorderOrNop(metrics),
		timeNow:   time.Now,
	}
}

type unitResult struct {
	acted bool
	err   error
}

func (s *Scanner) runUnits(ctx context.Context, keys []string, fn func(context.Context, string) (bool, error)) ScanSummary {
	summary := ScanSummary{ScanID: uuid.NewString(), Units: len(keys)}
	results := make([]unitResult, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(idx int, key string) {
			defer wg.Done()
			v, err, _ := s.flights.Do(key, func() (interface{}, error) {
				return fn(ctx, key)
			})
			acted, _ := v.(bool)
			results[idx] = unitResult{acted: acted, err: err}
		}(i, key)
	}
	wg.Wait()

	for i, r := range results {
		if r.err != nil {
			summary.Failed++
			s.logger.Warn("Unit failed, will retry next cycle",
				zap.String("scan_id", summary.ScanID),
				zap.String("unit", keys[i]),
				zap.String("kind", string(domain.ErrorKindOf(r.err))),
				zap.Error(r.err))
		}
		if r.acted {
			summary.Acted++
		}
	}
	return summary
}

// ScanTakeProfit evaluates every account that has a take-profit config.
func (s *Scanner) ScanTakeProfit(ctx context.Context) (ScanSummary, error) {
	configs, err := s.repo.ListTakeProfitConfigs(ctx)
	if err != nil {
		return ScanSummary{}, err
	}

	byKey := make(map[string]*domain.TakeProfitConfig, len(configs))
	keys := make([]string, 0, len(configs))
	for _, cfg := range configs {
		key := domain.TakeProfitKey(cfg.UserID, cfg.Exchange)
		byKey[key] = cfg
		keys = append(keys, key)
	}

	summary := s.runUnits(ctx, keys, func(ctx context.Context, key string) (bool, error) {
		cfg := byKey[key]
		ex, err := s.exchanges.ForAccount(cfg.Account())
		if err != nil {
			return false, err
		}
		res, err := s.evaluator.Evaluate(ctx, ex, cfg)
		if err != nil {
			return false, err
		}
		return len(res.Closed) > 0, nil
	})

	s.logger.Debug("TP scan complete",
		zap.String("scan_id", summary.ScanID),
		zap.Int("accounts", summary.Units),
		zap.Int("closed_on", summary.Acted),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// ScanReentries evaluates every pending re-entry record.
func (s *Scanner) ScanReentries(ctx context.Context) (ScanSummary, error) {
	keys, err := s.repo.ReentryKeys(ctx)
	if err != nil {
		return ScanSummary{}, err
	}
	s.metrics.SetPendingRecords(len(keys))

	summary := s.runUnits(ctx, keys, s.processReentry)

	s.logger.Debug("Re-entry scan complete",
		zap.String("scan_id", summary.ScanID),
		zap.Int("records", summary.Units),
		zap.Int("reentered", summary.Acted),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// processReentry is the critical section for one record key: read, decide,
// then write or delete.
func (s *Scanner) processReentry(ctx context.Context, key string) (bool, error) {
	rec, err := s.repo.GetReentryByKey(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	now := s.timeNow()
	log := s.logger.With(zap.String("user", rec.UserID), zap.String("exchange", rec.Exchange), zap.String("symbol", rec.Symbol))

	// Cooldown needs no market data; skip the exchange round-trips.
	if d := s.gate.Evaluate(rec, 0, nil, now); d.Check == CheckCooldown {
		s.metrics.IncGateDenial(d.Check)
		log.Debug("Re-entry gated", zap.String("check", d.Check), zap.String("reason", d.Reason))
		return false, nil
	}

	ex, err := s.exchanges.ForAccount(rec.Account())
	if err != nil {
		return false, err
	}

	price, err := ex.GetCurrentPrice(ctx, rec.Symbol)
	if err != nil {
		s.metrics.IncExchangeError(string(domain.ErrorKindOf(err)))
		return false, err
	}

	cfg := s.gate.Config()
	candles, err := ex.GetCandles(ctx, rec.Symbol, cfg.CandleInterval, cfg.CandleLimit)
	if err != nil {
		s.metrics.IncExchangeError(string(domain.ErrorKindOf(err)))
		return false, err
	}

	decision := s.gate.Evaluate(rec, price, candles, now)
	if !decision.Allowed {
		s.metrics.IncGateDenial(decision.Check)
		log.Debug("Re-entry gated",
			zap.String("check", decision.Check),
			zap.String("reason", decision.Reason),
			zap.Float64("price", price))
		return false, nil
	}

	log.Info("Safety gate passed",
		zap.Float64("price", price),
		zap.Float64("pullback_pct", decision.PullbackPct),
		zap.Float64("ema_fast", decision.FastEMA),
		zap.Float64("ema_slow", decision.SlowEMA),
		zap.Float64("pressure", decision.Pressure))

	if _, err := s.executor.Execute(ctx, ex, rec, price); err != nil {
		return false, err
	}
	return true, nil
}
