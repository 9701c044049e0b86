package domain

import "context"

// Exchange is the capability set the engine needs from one exchange account.
// Each implementation is bound to a single account's credentials.
type Exchange interface {
	Name() string
	GetOpenPositions(ctx context.Context) ([]*Position, error)
	GetAccountUnrealizedPnL(ctx context.Context) (float64, error)
	ClosePosition(ctx context.Context, symbol string, quantity float64, side Side) error
	OpenPosition(ctx context.Context, symbol string, side Side, quantity float64, leverage int) (*OrderFill, error)
	SetStopLoss(ctx context.Context, symbol string, side Side, quantity, stopPrice float64) error
	SetTakeProfit(ctx context.Context, symbol string, side Side, quantity, takeProfitPrice float64) error
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	PricePrecision(ctx context.Context, symbol string) (int, error)
	QuantityPrecision(ctx context.Context, symbol string) (int, error)
}

// ExchangeProvider resolves the adapter bound to an account.
type ExchangeProvider interface {
	ForAccount(account Account) (Exchange, error)
}

// StateStore is a flat key-value store. Get returns ErrNotFound for absent keys.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Notifier delivers a message to the owner of an account. Fire-and-forget:
// callers log failures and never retry.
type Notifier interface {
	Notify(ctx context.Context, account Account, message string) error
}
