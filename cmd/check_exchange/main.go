package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_tp_reentry/internal/config"
	"github.com/vitos/crypto_tp_reentry/internal/infrastructure/exchange"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to check")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	creds := make([]exchange.AccountCredentials, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		creds = append(creds, exchange.AccountCredentials{
			UserID:    acc.UserID,
			Exchange:  acc.Exchange,
			APIKey:    acc.APIKey,
			APISecret: acc.APISecret,
			BaseURL:   acc.RESTEndpoint,
			Testnet:   acc.Testnet,
		})
	}

	// Read-only calls; dry run keeps any accidental order off the account.
	registry, err := exchange.NewRegistry(creds, exchange.RegistryOptions{
		CallTimeout: cfg.Exchange.CallTimeout,
		DryRun:      true,
	}, zap.NewNop())
	if err != nil {
		fmt.Printf("Failed to init exchanges: %v\n", err)
		os.Exit(1)
	}
	defer registry.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, account := range registry.Accounts() {
		fmt.Printf("Testing %s@%s...\n", account.UserID, account.Exchange)
		ex, err := registry.ForAccount(account)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			continue
		}

		price, err := ex.GetCurrentPrice(ctx, *symbol)
		if err != nil {
			fmt.Printf("❌ Failed to get price: %v\n", err)
		} else {
			fmt.Printf("✅ Current Price (%s): %f\n", *symbol, price)
		}

		candles, err := ex.GetCandles(ctx, *symbol, cfg.Gate.CandleInterval, cfg.Gate.CandleLimit)
		if err != nil {
			fmt.Printf("❌ Failed to get candles: %v\n", err)
		} else {
			fmt.Printf("✅ Candles (%s): %d\n", cfg.Gate.CandleInterval, len(candles))
		}

		pricePrec, err1 := ex.PricePrecision(ctx, *symbol)
		qtyPrec, err2 := ex.QuantityPrecision(ctx, *symbol)
		if err1 != nil || err2 != nil {
			fmt.Printf("❌ Failed to get precision: %v %v\n", err1, err2)
		} else {
			fmt.Printf("✅ Precision: price %d, qty %d\n", pricePrec, qtyPrec)
		}

		positions, err := ex.GetOpenPositions(ctx)
		if err != nil {
			fmt.Printf("❌ Failed to get positions (check API key): %v\n", err)
			continue
		}
		fmt.Printf("✅ Open positions: %d\n", len(positions))
		for _, p := range positions {
			fmt.Printf("   %s %s qty=%f entry=%f pnl=%f (%.2f%%)\n",
				p.Symbol, p.Side, p.Quantity, p.EntryPrice, p.UnrealizedPnL, p.ProfitPercent())
		}
	}
}
