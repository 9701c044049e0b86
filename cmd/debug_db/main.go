package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vitos/crypto_tp_reentry/internal/infrastructure/storage"
	"github.com/vitos/crypto_tp_reentry/internal/usecase"
)

func main() {
	dbPath := flag.String("db", "bot.db", "path to sqlite database")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	repo := usecase.NewReentryRepository(store)

	configs, err := repo.ListTakeProfitConfigs(ctx)
	if err != nil {
		fmt.Printf("Failed to list TP configs: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d accounts:\n", len(configs))
	for _, c := range configs {
		fmt.Printf("- %s@%s: TP %.2f%% of %.2f (target %.2f)\n",
			c.UserID, c.Exchange, c.Percentage, c.InitialBalance, c.TargetProfit())

		p, err := repo.GetRetryPolicy(ctx, c.UserID, c.Exchange)
		if err != nil {
			fmt.Printf("  ❌ Failed to get retry policy: %v\n", err)
			continue
		}
		if !p.Enabled {
			fmt.Printf("  ⚠️ Retry disabled\n")
		} else {
			fmt.Printf("  ✅ Retry: max %d, reduction %.1f%%\n", p.MaxRetry, p.VolumeReductionPercent)
		}
	}

	records, err := repo.ListAllReentries(ctx)
	if err != nil {
		fmt.Printf("Failed to list re-entries: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nFound %d pending re-entries:\n", len(records))
	for _, r := range records {
		fmt.Printf("- %s %s %s qty=%f/%f entry=%f sl=%f retry=%d remaining=%d closed %s ago\n",
			r.Key(), r.Side, r.Symbol,
			r.Quantity, r.OriginalQuantity, r.EntryPrice, r.StopLossPrice,
			r.CurrentRetry, r.RemainingRetries,
			time.Since(r.ClosedAt).Round(time.Second))
	}
}
