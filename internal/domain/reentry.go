package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReentryRecord is a pending re-entry for one symbol.
// It exists if and only if a re-entry is pending.
type ReentryRecord struct {
	UserID   string `json:"user_id"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Side     Side   `json:"side"`
	Leverage int    `json:"leverage"`

	// EntryPrice starts as the closed position's entry and is replaced by the
	// fill price of every successful re-entry.
	EntryPrice       float64 `json:"entry_price"`
	Quantity         float64 `json:"quantity"`
	OriginalQuantity float64 `json:"original_quantity"`
	StopLossPrice    float64 `json:"stop_loss_price"`

	TPPercentage           float64 `json:"tp_percentage"`
	VolumeReductionPercent float64 `json:"volume_reduction_percent"`

	CurrentRetry     int       `json:"current_retry"`
	RemainingRetries int       `json:"remaining_retries"`
	ClosedAt         time.Time `json:"closed_at"`
}

func (r *ReentryRecord) Account() Account {
	return Account{UserID: r.UserID, Exchange: r.Exchange}
}

func (r *ReentryRecord) Key() string {
	return ReentryKey(r.UserID, r.Exchange, r.Symbol)
}

// Validate checks the record invariants.
func (r *ReentryRecord) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrValidation)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("%w: invalid side %q", ErrValidation, r.Side)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if r.Quantity > r.OriginalQuantity {
		return fmt.Errorf("%w: quantity %f exceeds original %f", ErrValidation, r.Quantity, r.OriginalQuantity)
	}
	if r.RemainingRetries < 0 {
		return fmt.Errorf("%w: remaining retries negative", ErrValidation)
	}
	return nil
}

// Storage key layout. All keys share ':' as separator.
const (
	ReentryPrefix     = "reentry:"
	TakeProfitPrefix  = "tp_config:"
	RetryPolicyPrefix = "retry_policy:"
)

func ReentryKey(userID, exchange, symbol string) string {
	return ReentryPrefix + userID + ":" + exchange + ":" + symbol
}

// ReentryAccountPrefix selects every record of one account.
func ReentryAccountPrefix(userID, exchange string) string {
	return ReentryPrefix + userID + ":" + exchange + ":"
}

func TakeProfitKey(userID, exchange string) string {
	return TakeProfitPrefix + userID + ":" + exchange
}

func RetryPolicyKey(userID, exchange string) string {
	return RetryPolicyPrefix + userID + ":" + exchange
}

// ParseReentryKey splits a reentry key into its parts.
func ParseReentryKey(key string) (userID, exchange, symbol string, err error) {
	parts := strings.Split(strings.TrimPrefix(key, ReentryPrefix), ":")
	if !strings.HasPrefix(key, ReentryPrefix) || len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed reentry key %q", key)
	}
	return parts[0], parts[1], parts[2], nil
}
