package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vitos/crypto_tp_reentry/internal/domain"
)

// ReentryRepository stores records, TP configs and retry policies as JSON
// values in a flat key-value store.
type ReentryRepository struct {
	store domain.StateStore
}

func NewReentryRepository(store domain.StateStore) *ReentryRepository {
	return &ReentryRepository{store: store}
}

func (r *ReentryRepository) getJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

func (r *ReentryRepository) setJSON(ctx context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return r.store.Set(ctx, key, raw)
}

// GetReentry returns domain.ErrNotFound when no re-entry is pending.
func (r *ReentryRepository) GetReentry(ctx context.Context, userID, exchange, symbol string) (*domain.ReentryRecord, error) {
	var rec domain.ReentryRecord
	if err := r.getJSON(ctx, domain.ReentryKey(userID, exchange, symbol), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ReentryRepository) GetReentryByKey(ctx context.Context, key string) (*domain.ReentryRecord, error) {
	var rec domain.ReentryRecord
	if err := r.getJSON(ctx, key, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ReentryRepository) SaveReentry(ctx context.Context, rec *domain.ReentryRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return r.setJSON(ctx, rec.Key(), rec)
}

func (r *ReentryRepository) DeleteReentry(ctx context.Context, userID, exchange, symbol string) error {
	return r.store.Delete(ctx, domain.ReentryKey(userID, exchange, symbol))
}

// ReentryKeys lists the keys of every pending record.
func (r *ReentryRepository) ReentryKeys(ctx context.Context) ([]string, error) {
	return r.store.ScanPrefix(ctx, domain.ReentryPrefix)
}

// ListReentries returns the pending records of one account.
func (r *ReentryRepository) ListReentries(ctx context.Context, userID, exchange string) ([]*domain.ReentryRecord, error) {
	keys, err := r.store.ScanPrefix(ctx, domain.ReentryAccountPrefix(userID, exchange))
	if err != nil {
		return nil, err
	}
	return r.loadRecords(ctx, keys)
}

func (r *ReentryRepository) ListAllReentries(ctx context.Context) ([]*domain.ReentryRecord, error) {
	keys, err := r.ReentryKeys(ctx)
	if err != nil {
		return nil, err
	}
	return r.loadRecords(ctx, keys)
}

func (r *ReentryRepository) loadRecords(ctx context.Context, keys []string) ([]*domain.ReentryRecord, error) {
	records := make([]*domain.ReentryRecord, 0, len(keys))
	for _, key := range keys {
		rec, err := r.GetReentryByKey(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			// deleted between scan and read
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteAccountReentries removes every pending record of one account and
// returns how many were deleted.
func (r *ReentryRepository) DeleteAccountReentries(ctx context.Context, userID, exchange string) (int, error) {
	keys, err := r.store.ScanPrefix(ctx, domain.ReentryAccountPrefix(userID, exchange))
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := r.store.Delete(ctx, key); err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return len(keys), nil
}

func (r *ReentryRepository) GetTakeProfitConfig(ctx context.Context, userID, exchange string) (*domain.TakeProfitConfig, error) {
	var cfg domain.TakeProfitConfig
	if err := r.getJSON(ctx, domain.TakeProfitKey(userID, exchange), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *ReentryRepository) SaveTakeProfitConfig(ctx context.Context, cfg *domain.TakeProfitConfig) error {
	return r.setJSON(ctx, domain.TakeProfitKey(cfg.UserID, cfg.Exchange), cfg)
}

// ListTakeProfitConfigs enumerates every configured (user, exchange) pair.
func (r *ReentryRepository) ListTakeProfitConfigs(ctx context.Context) ([]*domain.TakeProfitConfig, error) {
	keys, err := r.store.ScanPrefix(ctx, domain.TakeProfitPrefix)
	if err != nil {
		return nil, err
	}
	configs := make([]*domain.TakeProfitConfig, 0, len(keys))
	for _, key := range keys {
		var cfg domain.TakeProfitConfig
		if err := r.getJSON(ctx, key, &cfg); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		configs = append(configs, &cfg)
	}
	return configs, nil
}

// GetRetryPolicy returns a disabled policy when none is stored.
func (r *ReentryRepository) GetRetryPolicy(ctx context.Context, userID, exchange string) (*domain.RetryPolicy, error) {
	var p domain.RetryPolicy
	err := r.getJSON(ctx, domain.RetryPolicyKey(userID, exchange), &p)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.RetryPolicy{UserID: userID, Exchange: exchange}, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ReentryRepository) HasRetryPolicy(ctx context.Context, userID, exchange string) (bool, error) {
	_, err := r.store.Get(ctx, domain.RetryPolicyKey(userID, exchange))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *ReentryRepository) SaveRetryPolicy(ctx context.Context, p *domain.RetryPolicy) error {
	return r.setJSON(ctx, domain.RetryPolicyKey(p.UserID, p.Exchange), p)
}
