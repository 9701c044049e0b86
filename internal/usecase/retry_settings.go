package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

// RetrySettings is the account-configuration side of the engine: take-profit
// targets, retry policies and arming/disarming re-entry.
type RetrySettings struct {
	repo     *ReentryRepository
	validate *validator.Validate
	logger   *zap.Logger
}

func NewRetrySettings(repo *ReentryRepository, logger *zap.Logger) *RetrySettings {
	return &RetrySettings{
		repo:     repo,
		validate: validator.New(),
		logger:   logger.With(zap.String("component", "retry_settings")),
	}
}

func (s *RetrySettings) check(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func (s *RetrySettings) SetTakeProfitConfig(ctx context.Context, cfg *domain.TakeProfitConfig) error {
	if cfg.UserID == "" || cfg.Exchange == "" {
		return fmt.Errorf("%w: user and exchange are required", domain.ErrValidation)
	}
	if err := s.check(cfg); err != nil {
		return err
	}
	if err := s.repo.SaveTakeProfitConfig(ctx, cfg); err != nil {
		return err
	}
	s.logger.Info("Take profit config saved",
		zap.String("user", cfg.UserID),
		zap.String("exchange", cfg.Exchange),
		zap.Float64("percentage", cfg.Percentage),
		zap.Float64("initial_balance", cfg.InitialBalance))
	return nil
}

func (s *RetrySettings) GetTakeProfitConfig(ctx context.Context, userID, exchange string) (*domain.TakeProfitConfig, error) {
	return s.repo.GetTakeProfitConfig(ctx, userID, exchange)
}

// SetRetryPolicy stores a policy. Records already pending keep the reduction
// percent they were created with.
func (s *RetrySettings) SetRetryPolicy(ctx context.Context, p *domain.RetryPolicy) error {
	if p.UserID == "" || p.Exchange == "" {
		return fmt.Errorf("%w: user and exchange are required", domain.ErrValidation)
	}
	if err := s.check(p); err != nil {
		return err
	}
	if !p.Enabled {
		_, err := s.DisableRetry(ctx, p.UserID, p.Exchange, p)
		return err
	}
	if err := s.repo.SaveRetryPolicy(ctx, p); err != nil {
		return err
	}
	s.logger.Info("Retry policy saved",
		zap.String("user", p.UserID),
		zap.String("exchange", p.Exchange),
		zap.Int("max_retry", p.MaxRetry),
		zap.Float64("volume_reduction_pct", p.VolumeReductionPercent))
	return nil
}

func (s *RetrySettings) GetRetryPolicy(ctx context.Context, userID, exchange string) (*domain.RetryPolicy, error) {
	return s.repo.GetRetryPolicy(ctx, userID, exchange)
}

// DisableRetry turns retry off for the account and deletes every pending
// record under it. When policy is nil the stored policy is kept with
// Enabled=false.
func (s *RetrySettings) DisableRetry(ctx context.Context, userID, exchange string, policy *domain.RetryPolicy) (int, error) {
	if policy == nil {
		stored, err := s.repo.GetRetryPolicy(ctx, userID, exchange)
		if err != nil {
			return 0, err
		}
		policy = stored
	}
	policy.UserID = userID
	policy.Exchange = exchange
	policy.Enabled = false
	if err := s.repo.SaveRetryPolicy(ctx, policy); err != nil {
		return 0, err
	}

	n, err := s.repo.DeleteAccountReentries(ctx, userID, exchange)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Retry disabled", zap.String("user", userID), zap.String("exchange", exchange), zap.Int("records_deleted", n))
	return n, nil
}

func (s *RetrySettings) ListPending(ctx context.Context, userID, exchange string) ([]*domain.ReentryRecord, error) {
	if userID == "" {
		return s.repo.ListAllReentries(ctx)
	}
	return s.repo.ListReentries(ctx, userID, exchange)
}

// SeedAccount stores tp and policy for an account that has none yet. Settings
// already present in the store win, so edits made through the API survive a
// restart. Either argument may be nil.
func (s *RetrySettings) SeedAccount(ctx context.Context, tp *domain.TakeProfitConfig, policy *domain.RetryPolicy) error {
	if tp != nil {
		_, err := s.repo.GetTakeProfitConfig(ctx, tp.UserID, tp.Exchange)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if err := s.SetTakeProfitConfig(ctx, tp); err != nil {
				return fmt.Errorf("seed take profit for %s@%s: %w", tp.UserID, tp.Exchange, err)
			}
		case err != nil:
			return err
		}
	}

	if policy != nil {
		exists, err := s.repo.HasRetryPolicy(ctx, policy.UserID, policy.Exchange)
		if err != nil {
			return err
		}
		if !exists {
			if err := s.SetRetryPolicy(ctx, policy); err != nil {
				return fmt.Errorf("seed retry policy for %s@%s: %w", policy.UserID, policy.Exchange, err)
			}
		}
	}
	return nil
}
