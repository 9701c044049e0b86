package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/crypto_tp_reentry/internal/config"
	"github.com/vitos/crypto_tp_reentry/internal/domain"
	"github.com/vitos/crypto_tp_reentry/internal/infrastructure/exchange"
	"github.com/vitos/crypto_tp_reentry/internal/infrastructure/logger"
	"github.com/vitos/crypto_tp_reentry/internal/infrastructure/metrics"
	"github.com/vitos/crypto_tp_reentry/internal/infrastructure/notify"
	"github.com/vitos/crypto_tp_reentry/internal/infrastructure/storage"
	"github.com/vitos/crypto_tp_reentry/internal/usecase"
	"github.com/vitos/crypto_tp_reentry/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.DryRun {
		log.Warn("Dry run enabled, orders are simulated")
	}

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchanges
	creds := make([]exchange.AccountCredentials, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		creds = append(creds, exchange.AccountCredentials{
			UserID:    acc.UserID,
			Exchange:  acc.Exchange,
			APIKey:    acc.APIKey,
			APISecret: acc.APISecret,
			BaseURL:   acc.RESTEndpoint,
			WSURL:     acc.WSEndpoint,
			Testnet:   acc.Testnet,
		})
	}
	registry, err := exchange.NewRegistry(creds, exchange.RegistryOptions{
		CallTimeout: cfg.Exchange.CallTimeout,
		DryRun:      cfg.DryRun,
	}, log)
	if err != nil {
		log.Fatal("Failed to init exchanges", zap.Error(err))
	}
	defer registry.Close()

	// 5. Metrics and Notifications
	m := metrics.New()
	notifier := newNotifier(cfg, log)

	// 6. Init Services
	repo := usecase.NewReentryRepository(store)
	trades := usecase.NewTradeExecutor(log, m)
	evaluator := usecase.NewTPEvaluator(repo, trades, notifier, log, m, cfg.Evaluator.MinPositionProfitPct)
	executor := usecase.NewReentryExecutor(repo, trades, notifier, log, m)
	gate := usecase.NewSafetyGate(cfg.Gate)
	scanner := usecase.NewScanner(repo, registry, evaluator, gate, executor, log, m)
	settings := usecase.NewRetrySettings(repo, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, acc := range cfg.Accounts {
		tp, policy := acc.Seeds()
		if err := settings.SeedAccount(ctx, tp, policy); err != nil {
			log.Fatal("Failed to seed account settings", zap.String("user", acc.UserID), zap.String("exchange", acc.Exchange), zap.Error(err))
		}
	}

	// 7. Scheduler
	sched := usecase.NewScheduler(ctx, log, m)
	if err := sched.Add("tp_scan", cfg.Scheduler.TPScan, func(ctx context.Context) error {
		_, err := scanner.ScanTakeProfit(ctx)
		return err
	}); err != nil {
		log.Fatal("Failed to schedule TP scan", zap.Error(err))
	}
	if err := sched.Add("reentry_scan", cfg.Scheduler.ReentryScan, func(ctx context.Context) error {
		_, err := scanner.ScanReentries(ctx)
		return err
	}); err != nil {
		log.Fatal("Failed to schedule re-entry scan", zap.Error(err))
	}
	sched.Start()

	// 8. Web Server
	server := web.NewServer(cfg.Server.Port, settings, sched, m.Handler(), log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Web server failed", zap.Error(err))
		}
	}()

	log.Info("Bot started",
		zap.Int("accounts", len(cfg.Accounts)),
		zap.String("tp_scan", cfg.Scheduler.TPScan),
		zap.String("reentry_scan", cfg.Scheduler.ReentryScan))

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
	sched.Stop()
	cancel()
}

// newNotifier falls back to logging when Telegram is not configured.
func newNotifier(cfg *config.Config, log *zap.Logger) domain.Notifier {
	if !cfg.Notify.Enabled || cfg.Telegram.Token == "" {
		return notify.NewLogNotifier(log)
	}
	chatIDs := make(map[domain.Account]int64)
	for _, acc := range cfg.Accounts {
		if acc.ChatID != 0 {
			chatIDs[acc.Account()] = acc.ChatID
		}
	}
	tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, chatIDs, log)
	if err != nil {
		log.Error("Telegram unavailable, logging notifications instead", zap.Error(err))
		return notify.NewLogNotifier(log)
	}
	return tg
}
