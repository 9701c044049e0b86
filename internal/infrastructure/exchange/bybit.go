package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL        = "https://api.bybit.com"
	BybitWSURL          = "wss://stream.bybit.com/v5/public/linear"
	BybitTestnetBaseURL = "https://api-testnet.bybit.com"
	BybitTestnetWSURL   = "wss://stream-testnet.bybit.com/v5/public/linear"

	bybitName = "bybit"

	// Ticker stream prices older than this fall back to REST.
	priceStaleAfter = 10 * time.Second
	// Bounds the websocket handshake and subscribe write.
	wsDialTimeout = 5 * time.Second
)

// Bybit retCodes that are worth retrying next cycle.
var bybitTransientCodes = map[int]bool{
	10000: true, // server timeout
	10006: true, // too many visits
	10016: true, // server error
	10018: true, // ip rate limit
}

var bybitIntervals = map[string]string{
	"1m": "1", "3m": "3", "5m": "5", "15m": "15", "30m": "30",
	"1h": "60", "2h": "120", "4h": "240", "6h": "360", "12h": "720",
	"1d": "D", "1w": "W", "1M": "M",
}

type tickerPrice struct {
	price float64
	at    time.Time
}

// BybitAdapter talks to Bybit V5 linear perpetuals for one account.
// Prices come from the public ticker stream when it is connected.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	logger    *zap.Logger

	priceMu sync.RWMutex
	prices  map[string]tickerPrice

	// wsMu is never held across a dial.
	wsMu       sync.Mutex
	wsConn     *websocket.Conn
	subscribed map[string]bool
	pending    map[string]bool

	instMu      sync.RWMutex
	instruments map[string]instrumentInfo
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	return &BybitAdapter{
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		baseURL:     baseURL,
		wsURL:       wsURL,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger.With(zap.String("exchange", bybitName)),
		subscribed:  make(map[string]bool),
		pending:     make(map[string]bool),
		prices:      make(map[string]tickerPrice),
		instruments: make(map[string]instrumentInfo),
	}
}

func (b *BybitAdapter) Name() string { return bybitName }

// --- REST API ---

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

// sendRequest performs a signed call and decodes the result payload into out.
// Failures come back as *domain.ExchangeError.
func (b *BybitAdapter) sendRequest(ctx context.Context, op, method, path string, payload map[string]interface{}, out interface{}) error {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return domain.NewValidationError(bybitName, op, 0, err)
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if idx := strings.Index(path, "?"); idx != -1 {
		paramsStr = path[idx+1:]
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return domain.NewValidationError(bybitName, op, 0, err)
	}

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp, recvWindow))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return domain.NewTransientError(bybitName, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewTransientError(bybitName, op, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.NewTransientError(bybitName, op, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode >= 400 {
		return domain.NewValidationError(bybitName, op, resp.StatusCode, fmt.Errorf("API error: %s", string(respBody)))
	}

	var env bybitEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return domain.NewTransientError(bybitName, op, fmt.Errorf("decode response: %w", err))
	}
	if env.RetCode != 0 {
		cause := errors.New(env.RetMsg)
		if bybitTransientCodes[env.RetCode] {
			e := domain.NewTransientError(bybitName, op, cause)
			e.Code = env.RetCode
			return e
		}
		return domain.NewValidationError(bybitName, op, env.RetCode, cause)
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return domain.NewTransientError(bybitName, op, fmt.Errorf("decode result: %w", err))
		}
	}
	return nil
}

type bybitPosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	MarkPrice     string `json:"markPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	Leverage      string `json:"leverage"`
}

func (b *BybitAdapter) GetOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	var result struct {
		List []bybitPosition `json:"list"`
	}
	if err := b.sendRequest(ctx, "positions", http.MethodGet, "/v5/position/list?category=linear&settleCoin=USDT", nil, &result); err != nil {
		return nil, err
	}

	positions := make([]*domain.Position, 0, len(result.List))
	for _, raw := range result.List {
		size := parseFloat(raw.Size)
		if size == 0 {
			continue
		}
		side := domain.SideLong
		if raw.Side == "Sell" {
			side = domain.SideShort
		}
		lev, _ := strconv.ParseFloat(raw.Leverage, 64)

		positions = append(positions, &domain.Position{
			Exchange:      bybitName,
			Symbol:        raw.Symbol,
			Side:          side,
			Quantity:      size,
			EntryPrice:    parseFloat(raw.AvgPrice),
			CurrentPrice:  parseFloat(raw.MarkPrice),
			UnrealizedPnL: parseFloat(raw.UnrealisedPnl),
			Leverage:      int(lev),
		})
	}
	return positions, nil
}

func (b *BybitAdapter) GetAccountUnrealizedPnL(ctx context.Context) (float64, error) {
	var result struct {
		List []struct {
			TotalPerpUPL string `json:"totalPerpUPL"`
		} `json:"list"`
	}
	if err := b.sendRequest(ctx, "wallet_balance", http.MethodGet, "/v5/account/wallet-balance?accountType=UNIFIED", nil, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, nil
	}
	return parseFloat(result.List[0].TotalPerpUPL), nil
}

func orderSide(side domain.Side) string {
	if side == domain.SideShort {
		return "Sell"
	}
	return "Buy"
}

func closingSide(side domain.Side) string {
	if side == domain.SideShort {
		return "Buy"
	}
	return "Sell"
}

func (b *BybitAdapter) ClosePosition(ctx context.Context, symbol string, quantity float64, side domain.Side) error {
	payload := map[string]interface{}{
		"category":   "linear",
		"symbol":     symbol,
		"side":       closingSide(side),
		"orderType":  "Market",
		"qty":        formatFloat(quantity),
		"reduceOnly": true,
	}
	return b.sendRequest(ctx, "close", http.MethodPost, "/v5/order/create", payload, nil)
}

func (b *BybitAdapter) setLeverage(ctx context.Context, symbol string, leverage int) {
	payload := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	// Fails with "leverage not modified" when already set.
	if err := b.sendRequest(ctx, "set_leverage", http.MethodPost, "/v5/position/set-leverage", payload, nil); err != nil {
		b.logger.Debug("Set leverage skipped", zap.String("symbol", symbol), zap.Error(err))
	}
}

func (b *BybitAdapter) OpenPosition(ctx context.Context, symbol string, side domain.Side, quantity float64, leverage int) (*domain.OrderFill, error) {
	b.setLeverage(ctx, symbol, leverage)

	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"side":        orderSide(side),
		"orderType":   "Market",
		"qty":         formatFloat(quantity),
		"timeInForce": "IOC",
	}
	var created struct {
		OrderID string `json:"orderId"`
	}
	if err := b.sendRequest(ctx, "open", http.MethodPost, "/v5/order/create", payload, &created); err != nil {
		return nil, err
	}

	fill := &domain.OrderFill{
		OrderID:  created.OrderID,
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		FilledAt: time.Now(),
	}

	// Market orders ack before the fill is visible; one lookup is enough to
	// pick up avgPrice in practice. A missing price is filled in by the caller.
	var orders struct {
		List []struct {
			AvgPrice   string `json:"avgPrice"`
			CumExecQty string `json:"cumExecQty"`
		} `json:"list"`
	}
	path := fmt.Sprintf("/v5/order/realtime?category=linear&symbol=%s&orderId=%s", symbol, created.OrderID)
	if err := b.sendRequest(ctx, "order_status", http.MethodGet, path, nil, &orders); err != nil {
		b.logger.Warn("Order status lookup failed", zap.String("symbol", symbol), zap.String("order_id", created.OrderID), zap.Error(err))
		return fill, nil
	}
	if len(orders.List) > 0 {
		fill.AvgPrice = parseFloat(orders.List[0].AvgPrice)
		if q := parseFloat(orders.List[0].CumExecQty); q > 0 {
			fill.Quantity = q
		}
	}
	return fill, nil
}

// filters returns the cached instrument rules, or empty ones that leave
// values unrounded when the lookup fails.
func (b *BybitAdapter) filters(ctx context.Context, symbol string) instrumentInfo {
	info, err := b.instrument(ctx, symbol)
	if err != nil {
		b.logger.Warn("Instrument lookup failed, sending raw values", zap.String("symbol", symbol), zap.Error(err))
	}
	return info
}

func (b *BybitAdapter) SetStopLoss(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) error {
	info := b.filters(ctx, symbol)
	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"positionIdx": 0,
		"tpslMode":    "Partial",
		"stopLoss":    info.formatPrice(stopPrice),
		"slSize":      info.formatQty(quantity),
		"slOrderType": "Market",
		"slTriggerBy": "MarkPrice",
	}
	return b.sendRequest(ctx, "stop_loss", http.MethodPost, "/v5/position/trading-stop", payload, nil)
}

func (b *BybitAdapter) SetTakeProfit(ctx context.Context, symbol string, side domain.Side, quantity, takeProfitPrice float64) error {
	info := b.filters(ctx, symbol)
	payload := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbol,
		"positionIdx": 0,
		"tpslMode":    "Partial",
		"takeProfit":  info.formatPrice(takeProfitPrice),
		"tpSize":      info.formatQty(quantity),
		"tpOrderType": "Market",
		"tpTriggerBy": "MarkPrice",
	}
	return b.sendRequest(ctx, "take_profit", http.MethodPost, "/v5/position/trading-stop", payload, nil)
}

func (b *BybitAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	b.priceMu.RLock()
	cached, ok := b.prices[symbol]
	b.priceMu.RUnlock()
	if ok && time.Since(cached.at) < priceStaleAfter {
		return cached.price, nil
	}

	var result struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := b.sendRequest(ctx, "price", http.MethodGet, "/v5/market/tickers?category=linear&symbol="+symbol, nil, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, domain.NewValidationError(bybitName, "price", 0, fmt.Errorf("symbol %s not found", symbol))
	}
	price := parseFloat(result.List[0].LastPrice)
	b.storePrice(symbol, price)

	if b.wsURL != "" {
		b.subscribeAsync(symbol)
	}
	return price, nil
}

func (b *BybitAdapter) storePrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	b.priceMu.Lock()
	b.prices[symbol] = tickerPrice{price: price, at: time.Now()}
	b.priceMu.Unlock()
}

func (b *BybitAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if mapped, ok := bybitIntervals[interval]; ok {
		interval = mapped
	}
	var result struct {
		List [][]string `json:"list"`
	}
	path := fmt.Sprintf("/v5/market/kline?category=linear&symbol=%s&interval=%s&limit=%d", symbol, interval, limit)
	if err := b.sendRequest(ctx, "candles", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(result.List))
	for _, raw := range result.List {
		// [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		candles = append(candles, domain.Candle{
			Time:   ts / 1000,
			Open:   parseFloat(raw[1]),
			High:   parseFloat(raw[2]),
			Low:    parseFloat(raw[3]),
			Close:  parseFloat(raw[4]),
			Volume: parseFloat(raw[5]),
		})
	}

	// Bybit returns newest first.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func (b *BybitAdapter) instrument(ctx context.Context, symbol string) (instrumentInfo, error) {
	b.instMu.RLock()
	info, ok := b.instruments[symbol]
	b.instMu.RUnlock()
	if ok {
		return info, nil
	}

	var result struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := b.sendRequest(ctx, "instrument", http.MethodGet, "/v5/market/instruments-info?category=linear&symbol="+symbol, nil, &result); err != nil {
		return instrumentInfo{}, err
	}
	if len(result.List) == 0 {
		return instrumentInfo{}, domain.NewValidationError(bybitName, "instrument", 0, fmt.Errorf("symbol %s not found", symbol))
	}

	info = newInstrumentInfo(result.List[0].PriceFilter.TickSize, result.List[0].LotSizeFilter.QtyStep)
	b.instMu.Lock()
	b.instruments[symbol] = info
	b.instMu.Unlock()
	return info, nil
}

func (b *BybitAdapter) PricePrecision(ctx context.Context, symbol string) (int, error) {
	info, err := b.instrument(ctx, symbol)
	return info.priceDecimals, err
}

func (b *BybitAdapter) QuantityPrecision(ctx context.Context, symbol string) (int, error) {
	info, err := b.instrument(ctx, symbol)
	return info.qtyDecimals, err
}

// --- WebSocket ---

// subscribeAsync moves symbol onto the ticker stream in the background so a
// slow handshake never holds up the caller.
func (b *BybitAdapter) subscribeAsync(symbol string) {
	b.wsMu.Lock()
	if b.subscribed[symbol] || b.pending[symbol] {
		b.wsMu.Unlock()
		return
	}
	b.pending[symbol] = true
	b.wsMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), wsDialTimeout)
		defer cancel()
		if err := b.Subscribe(ctx, []string{symbol}); err != nil {
			b.logger.Debug("Ticker subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
		b.wsMu.Lock()
		delete(b.pending, symbol)
		b.wsMu.Unlock()
	}()
}

// Subscribe adds symbols to the ticker stream, connecting on first use.
func (b *BybitAdapter) Subscribe(ctx context.Context, symbols []string) error {
	conn, err := b.connection(ctx)
	if err != nil {
		return err
	}

	b.wsMu.Lock()
	defer b.wsMu.Unlock()

	var fresh []string
	for _, s := range symbols {
		if !b.subscribed[s] {
			fresh = append(fresh, s)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	args := make([]interface{}, len(fresh))
	for i, s := range fresh {
		args[i] = "tickers." + s
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsDialTimeout))
	if err := conn.WriteJSON(map[string]interface{}{"op": "subscribe", "args": args}); err != nil {
		return err
	}
	for _, s := range fresh {
		b.subscribed[s] = true
	}
	return nil
}

// connection returns the live stream, dialing without holding wsMu. When two
// dials race the loser's connection is closed.
func (b *BybitAdapter) connection(ctx context.Context) (*websocket.Conn, error) {
	b.wsMu.Lock()
	conn := b.wsConn
	b.wsMu.Unlock()
	if conn != nil {
		return conn, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsDialTimeout, Proxy: http.ProxyFromEnvironment}
	c, _, err := dialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return nil, err
	}

	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if b.wsConn != nil {
		c.Close()
		return b.wsConn, nil
	}
	b.wsConn = c
	go b.readLoop(c)
	return c, nil
}

func (b *BybitAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.wsMu.Lock()
		if b.wsConn == conn {
			b.wsConn = nil
			// Resubscribe on the next price lookup.
			b.subscribed = make(map[string]bool)
		}
		b.wsMu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.logger.Warn("WS read error", zap.Error(err))
			return
		}

		var event struct {
			Topic string `json:"topic"`
			Data  struct {
				Symbol    string `json:"symbol"`
				LastPrice string `json:"lastPrice"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.logger.Debug("WS unmarshal error", zap.Error(err))
			continue
		}
		if !strings.HasPrefix(event.Topic, "tickers.") || event.Data.LastPrice == "" {
			// deltas without a price change omit lastPrice
			continue
		}
		b.storePrice(strings.TrimPrefix(event.Topic, "tickers."), parseFloat(event.Data.LastPrice))
	}
}

// Close shuts the ticker stream.
func (b *BybitAdapter) Close() error {
	b.wsMu.Lock()
	defer b.wsMu.Unlock()
	if b.wsConn == nil {
		return nil
	}
	err := b.wsConn.Close()
	b.wsConn = nil
	return err
}
