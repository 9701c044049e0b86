package usecase_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"github.com/vitos/crypto_tp_reentry/internal/infrastructure/storage"
	"github.com/vitos/crypto_tp_reentry/internal/usecase"
	"go.uber.org/zap"
)

type openCall struct {
	Symbol   string
	Side     domain.Side
	Quantity float64
	Leverage int
}

type protectiveOrder struct {
	Symbol   string
	Side     domain.Side
	Quantity float64
	Price    float64
}

// MockExchange records every order-mutating call. Safe for concurrent use.
type MockExchange struct {
	mu sync.Mutex

	Positions   []*domain.Position
	Price       float64
	Candles     []domain.Candle
	FillPrice   float64
	PricePrec   int
	QtyPrec     int
	PrecErr     error
	PositionErr error
	PriceErr    error
	OpenErr     error
	CloseErrs   map[string]error
	StopLossErr error
	TPErr       error
	OpenDelay   time.Duration

	Opened      []openCall
	Closed      []string
	StopLosses  []protectiveOrder
	TakeProfits []protectiveOrder
	PriceCalls  int
}

func NewMockExchange() *MockExchange {
	return &MockExchange{PricePrec: 2, QtyPrec: 6, CloseErrs: map[string]error{}}
}

func (m *MockExchange) Name() string { return "mock" }

func (m *MockExchange) GetOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PositionErr != nil {
		return nil, m.PositionErr
	}
	return m.Positions, nil
}

func (m *MockExchange) GetAccountUnrealizedPnL(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, p := range m.Positions {
		total += p.UnrealizedPnL
	}
	return total, nil
}

func (m *MockExchange) ClosePosition(ctx context.Context, symbol string, quantity float64, side domain.Side) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.CloseErrs[symbol]; err != nil {
		return err
	}
	m.Closed = append(m.Closed, symbol)
	return nil
}

func (m *MockExchange) OpenPosition(ctx context.Context, symbol string, side domain.Side, quantity float64, leverage int) (*domain.OrderFill, error) {
	if m.OpenDelay > 0 {
		time.Sleep(m.OpenDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.Opened = append(m.Opened, openCall{Symbol: symbol, Side: side, Quantity: quantity, Leverage: leverage})
	return &domain.OrderFill{
		OrderID:  "mock-order",
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		AvgPrice: m.FillPrice,
		FilledAt: time.Now(),
	}, nil
}

func (m *MockExchange) SetStopLoss(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StopLossErr != nil {
		return m.StopLossErr
	}
	m.StopLosses = append(m.StopLosses, protectiveOrder{Symbol: symbol, Side: side, Quantity: quantity, Price: stopPrice})
	return nil
}

func (m *MockExchange) SetTakeProfit(ctx context.Context, symbol string, side domain.Side, quantity, takeProfitPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.TPErr != nil {
		return m.TPErr
	}
	m.TakeProfits = append(m.TakeProfits, protectiveOrder{Symbol: symbol, Side: side, Quantity: quantity, Price: takeProfitPrice})
	return nil
}

func (m *MockExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PriceCalls++
	if m.PriceErr != nil {
		return 0, m.PriceErr
	}
	return m.Price, nil
}

func (m *MockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Candles, nil
}

func (m *MockExchange) PricePrecision(ctx context.Context, symbol string) (int, error) {
	if m.PrecErr != nil {
		return 0, m.PrecErr
	}
	return m.PricePrec, nil
}

func (m *MockExchange) QuantityPrecision(ctx context.Context, symbol string) (int, error) {
	if m.PrecErr != nil {
		return 0, m.PrecErr
	}
	return m.QtyPrec, nil
}

func (m *MockExchange) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Opened)
}

// MockProvider hands out the same exchange to every account.
type MockProvider struct {
	Exchange domain.Exchange
	Err      error
}

func (p *MockProvider) ForAccount(account domain.Account) (domain.Exchange, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Exchange, nil
}

type MockNotifier struct {
	mu       sync.Mutex
	Messages []string
	Err      error
}

func (n *MockNotifier) Notify(ctx context.Context, account domain.Account, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, message)
	return n.Err
}

func (n *MockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Messages)
}

// MockRecorder counts metric calls by name.
type MockRecorder struct {
	mu      sync.Mutex
	Counts  map[string]int
	Pending int
}

func NewMockRecorder() *MockRecorder {
	return &MockRecorder{Counts: map[string]int{}}
}

func (r *MockRecorder) inc(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Counts[key]++
}

func (r *MockRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Counts[key]
}

func (r *MockRecorder) IncTPScan(result string)           { r.inc("tp_scan:" + result) }
func (r *MockRecorder) IncReentry(exchange, res string)   { r.inc("reentry:" + res) }
func (r *MockRecorder) IncGateDenial(check string)        { r.inc("gate:" + check) }
func (r *MockRecorder) IncProtectionFailure(o string)     { r.inc("protection:" + o) }
func (r *MockRecorder) IncSchedulerSkipped(job string)    { r.inc("skipped:" + job) }
func (r *MockRecorder) IncCloseFailure(ex, kind string)   { r.inc("close_failure:" + kind) }
func (r *MockRecorder) IncPositionClosed(exchange string) { r.inc("closed") }
func (r *MockRecorder) IncExchangeError(kind string)      { r.inc("exchange_error:" + kind) }
func (r *MockRecorder) SetPendingRecords(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pending = n
}

var errNetwork = errors.New("connection reset by peer")

// MockStore is a MemoryStore whose writes can be made to fail.
type MockStore struct {
	*storage.MemoryStore
	SetErr    error
	DeleteErr error
}

func (s *MockStore) Set(ctx context.Context, key string, value []byte) error {
	if s.SetErr != nil {
		return s.SetErr
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func (s *MockStore) Delete(ctx context.Context, key string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	return s.MemoryStore.Delete(ctx, key)
}

func newTestRepo() *usecase.ReentryRepository {
	return usecase.NewReentryRepository(storage.NewMemoryStore())
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

// trendingCandles builds n candles closing upward (or downward) by step, with
// the last window candles split between buy and sell volume.
func trendingCandles(n int, start, step float64, window int, buyVol, sellVol float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		c := start + float64(i)*step
		candles[i] = domain.Candle{Time: int64(i), Open: c - 10, High: c + 20, Low: c - 20, Close: c, Volume: 1}
	}
	if window > n {
		window = n
	}
	half := window / 2
	for i := n - window; i < n; i++ {
		if i < n-window+half {
			candles[i].Open = candles[i].Close - 50
			candles[i].Volume = buyVol
		} else {
			candles[i].Open = candles[i].Close + 50
			candles[i].Volume = sellVol
		}
	}
	return candles
}
