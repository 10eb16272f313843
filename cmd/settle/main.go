// Command settle runs one settlement tick and prints its summary as JSON.
// It is meant for cron; the exit status is non-zero when the tick could not
// load its work.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"

	"github.com/iliyamo/slot-market/internal/clock"
	"github.com/iliyamo/slot-market/internal/config"
	"github.com/iliyamo/slot-market/internal/database"
	"github.com/iliyamo/slot-market/internal/handler"
	"github.com/iliyamo/slot-market/internal/middleware"
	"github.com/iliyamo/slot-market/internal/payment"
	"github.com/iliyamo/slot-market/internal/repository"
	"github.com/iliyamo/slot-market/internal/router"
	"github.com/iliyamo/slot-market/internal/service"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rdb := config.NewRedisClient()
	payCfg := config.LoadPaymentConfig()
	notifyCfg := config.LoadNotifyConfig()

	var notifier service.Notifier = service.LogNotifier{}
	if notifyCfg.Enabled {
		notifier = service.NewNotificationPublisher(notifyCfg.URL)
	}
	settler := service.NewSettler(
		repository.NewOrderRepo(db, cfg.DBTimeout),
		repository.NewMarketStatRepo(db, cfg.DBTimeout),
		payment.NewMemo(payment.NewHTTPGateway(payCfg, nil), rdb, payCfg.MemoTTL),
		notifier,
		clock.NewSystem(),
		config.LoadSettlementConfig(),
	).WithStatsCache(middleware.NewCacheInvalidator(config.LoadCacheConfig(), rdb, router.MarketPricesPath))

	res, err := settler.RunTick(ctx)
	if err != nil {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]any{"ok": false, "error": err.Error()})
		if rdb != nil {
			_ = rdb.Close()
		}
		db.Close()
		os.Exit(1)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := json.NewEncoder(os.Stdout).Encode(handler.TickSummary(res)); err != nil {
		log.Printf("encode summary: %v", err)
	}
}
