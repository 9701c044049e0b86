package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"go.uber.org/zap"
)

const (
	BinanceFuturesTestnetURL = "https://testnet.binancefuture.com"

	binanceName = "binance"
)

// Binance error codes worth retrying next cycle.
var binanceTransientCodes = map[int64]bool{
	-1000: true, // unknown
	-1001: true, // disconnected
	-1003: true, // too many requests
	-1007: true, // timeout waiting for backend
	-1008: true, // server overloaded
	-1021: true, // timestamp outside recvWindow
}

// BinanceAdapter trades USDT-M futures for one account in one-way mode.
type BinanceAdapter struct {
	client *futures.Client
	logger *zap.Logger

	mu          sync.RWMutex
	instruments map[string]instrumentInfo
}

// NewBinanceAdapter builds the client. An empty baseURL keeps the library
// default; testnet switches to the futures testnet.
func NewBinanceAdapter(apiKey, apiSecret, baseURL string, testnet bool, logger *zap.Logger) *BinanceAdapter {
	client := binance.NewFuturesClient(apiKey, apiSecret)
	switch {
	case baseURL != "":
		client.BaseURL = baseURL
	case testnet:
		client.BaseURL = BinanceFuturesTestnetURL
	}
	return &BinanceAdapter{
		client:      client,
		logger:      logger.With(zap.String("exchange", binanceName)),
		instruments: make(map[string]instrumentInfo),
	}
}

func (b *BinanceAdapter) Name() string { return binanceName }

// classify maps library errors onto the domain taxonomy.
func (b *BinanceAdapter) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if binanceTransientCodes[apiErr.Code] {
			e := domain.NewTransientError(binanceName, op, apiErr)
			e.Code = int(apiErr.Code)
			return e
		}
		return domain.NewValidationError(binanceName, op, int(apiErr.Code), apiErr)
	}
	return domain.NewTransientError(binanceName, op, err)
}

func (b *BinanceAdapter) GetOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	risks, err := b.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, b.classify("positions", err)
	}

	positions := make([]*domain.Position, 0, len(risks))
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := domain.SideLong
		qty := amt
		if amt < 0 {
			side = domain.SideShort
			qty = -amt
		}
		lev, _ := strconv.Atoi(r.Leverage)

		positions = append(positions, &domain.Position{
			Exchange:      binanceName,
			Symbol:        r.Symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    parseFloat(r.EntryPrice),
			CurrentPrice:  parseFloat(r.MarkPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			Leverage:      lev,
		})
	}
	return positions, nil
}

func (b *BinanceAdapter) GetAccountUnrealizedPnL(ctx context.Context) (float64, error) {
	acc, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, b.classify("account", err)
	}
	return parseFloat(acc.TotalUnrealizedProfit), nil
}

func binanceSide(side domain.Side) futures.SideType {
	if side == domain.SideShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func binanceClosingSide(side domain.Side) futures.SideType {
	if side == domain.SideShort {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func (b *BinanceAdapter) ClosePosition(ctx context.Context, symbol string, quantity float64, side domain.Side) error {
	_, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceClosingSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(quantity)).
		ReduceOnly(true).
		Do(ctx)
	return b.classify("close", err)
}

func (b *BinanceAdapter) OpenPosition(ctx context.Context, symbol string, side domain.Side, quantity float64, leverage int) (*domain.OrderFill, error) {
	if _, err := b.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		b.logger.Warn("Set leverage failed, using account setting", zap.String("symbol", symbol), zap.Int("leverage", leverage), zap.Error(err))
	}

	res, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(quantity)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, b.classify("open", err)
	}

	fill := &domain.OrderFill{
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Symbol:   symbol,
		Side:     side,
		Quantity: parseFloat(res.ExecutedQuantity),
		AvgPrice: parseFloat(res.AvgPrice),
		FilledAt: time.Now(),
	}
	if fill.Quantity <= 0 {
		fill.Quantity = quantity
	}
	return fill, nil
}

func (b *BinanceAdapter) placeTrigger(ctx context.Context, op, symbol string, side domain.Side, quantity, trigger float64, orderType futures.OrderType) error {
	info, err := b.instrument(ctx, symbol)
	if err != nil {
		b.logger.Warn("Exchange info lookup failed, sending raw values", zap.String("symbol", symbol), zap.Error(err))
	}
	_, err = b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceClosingSide(side)).
		Type(orderType).
		StopPrice(info.formatPrice(trigger)).
		Quantity(info.formatQty(quantity)).
		ReduceOnly(true).
		WorkingType(futures.WorkingTypeMarkPrice).
		Do(ctx)
	return b.classify(op, err)
}

func (b *BinanceAdapter) SetStopLoss(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) error {
	return b.placeTrigger(ctx, "stop_loss", symbol, side, quantity, stopPrice, futures.OrderTypeStopMarket)
}

func (b *BinanceAdapter) SetTakeProfit(ctx context.Context, symbol string, side domain.Side, quantity, takeProfitPrice float64) error {
	return b.placeTrigger(ctx, "take_profit", symbol, side, quantity, takeProfitPrice, futures.OrderTypeTakeProfitMarket)
}

func (b *BinanceAdapter) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, b.classify("price", err)
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return parseFloat(p.Price), nil
		}
	}
	return 0, domain.NewValidationError(binanceName, "price", 0, fmt.Errorf("symbol %s not found", symbol))
}

func (b *BinanceAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	klines, err := b.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, b.classify("candles", err)
	}
	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, domain.Candle{
			Time:   k.OpenTime / 1000,
			Open:   parseFloat(k.Open),
			High:   parseFloat(k.High),
			Low:    parseFloat(k.Low),
			Close:  parseFloat(k.Close),
			Volume: parseFloat(k.Volume),
		})
	}
	return candles, nil
}

func (b *BinanceAdapter) instrument(ctx context.Context, symbol string) (instrumentInfo, error) {
	b.mu.RLock()
	info, ok := b.instruments[symbol]
	b.mu.RUnlock()
	if ok {
		return info, nil
	}

	exInfo, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return instrumentInfo{}, b.classify("exchange_info", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range exInfo.Symbols {
		info := instrumentInfo{priceDecimals: s.PricePrecision, qtyDecimals: s.QuantityPrecision}
		if f := s.PriceFilter(); f != nil {
			info.tickSize = parseStep(f.TickSize)
		}
		if f := s.LotSizeFilter(); f != nil {
			info.qtyStep = parseStep(f.StepSize)
		}
		b.instruments[s.Symbol] = info
	}
	info, ok = b.instruments[symbol]
	if !ok {
		return instrumentInfo{}, domain.NewValidationError(binanceName, "exchange_info", 0, fmt.Errorf("symbol %s not found", symbol))
	}
	return info, nil
}

func (b *BinanceAdapter) PricePrecision(ctx context.Context, symbol string) (int, error) {
	info, err := b.instrument(ctx, symbol)
	return info.priceDecimals, err
}

func (b *BinanceAdapter) QuantityPrecision(ctx context.Context, symbol string) (int, error) {
	info, err := b.instrument(ctx, symbol)
	return info.qtyDecimals, err
}
