package exchange

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

// AccountCredentials is everything needed to build one adapter.
type AccountCredentials struct {
	UserID    string
	Exchange  string
	APIKey    string
	APISecret string
	BaseURL   string
	WSURL     string
	Testnet   bool
}

func (c AccountCredentials) Account() domain.Account {
	return domain.Account{UserID: c.UserID, Exchange: c.Exchange}
}

// Registry builds one adapter per account up front and hands it out by
// account. The core never sees which venue it is talking to.
type Registry struct {
	mu       sync.RWMutex
	adapters map[domain.Account]domain.Exchange
	closers  []io.Closer
}

type RegistryOptions struct {
	CallTimeout time.Duration
	DryRun      bool
}

func NewRegistry(accounts []AccountCredentials, opts RegistryOptions, logger *zap.Logger) (*Registry, error) {
	r := &Registry{adapters: make(map[domain.Account]domain.Exchange, len(accounts))}
	for _, acc := range accounts {
		var ex domain.Exchange
		switch acc.Exchange {
		case bybitName:
			baseURL, wsURL := acc.BaseURL, acc.WSURL
			if acc.Testnet {
				if baseURL == "" {
					baseURL = BybitTestnetBaseURL
				}
				if wsURL == "" {
					wsURL = BybitTestnetWSURL
				}
			}
			adapter := NewBybitAdapter(acc.APIKey, acc.APISecret, baseURL, wsURL, logger)
			r.closers = append(r.closers, adapter)
			ex = adapter
		case binanceName:
			ex = NewBinanceAdapter(acc.APIKey, acc.APISecret, acc.BaseURL, acc.Testnet, logger)
		default:
			return nil, fmt.Errorf("account %s: unsupported exchange %q", acc.Account(), acc.Exchange)
		}

		if opts.DryRun {
			ex = NewDryRunExchange(ex, logger)
		}
		r.Register(acc.Account(), WithTimeout(ex, opts.CallTimeout))
	}
	return r, nil
}

// Register binds an adapter to an account, replacing any previous one.
func (r *Registry) Register(account domain.Account, ex domain.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[account] = ex
}

func (r *Registry) ForAccount(account domain.Account) (domain.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.adapters[account]
	if !ok {
		return nil, fmt.Errorf("%w: no exchange configured for %s", domain.ErrValidation, account)
	}
	return ex, nil
}

func (r *Registry) Accounts() []domain.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Account, 0, len(r.adapters))
	for acc := range r.adapters {
		out = append(out, acc)
	}
	return out
}

// Close releases streaming connections.
func (r *Registry) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
