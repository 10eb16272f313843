package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/slot-market/internal/clock"
	"github.com/iliyamo/slot-market/internal/config"
	"github.com/iliyamo/slot-market/internal/database"
	"github.com/iliyamo/slot-market/internal/handler"
	"github.com/iliyamo/slot-market/internal/middleware"
	"github.com/iliyamo/slot-market/internal/payment"
	"github.com/iliyamo/slot-market/internal/queue"
	"github.com/iliyamo/slot-market/internal/repository"
	"github.com/iliyamo/slot-market/internal/router"
	"github.com/iliyamo/slot-market/internal/service"
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: cache, rate limiting and payment memo disabled")
	} else {
		defer rdb.Close()
	}

	payCfg := config.LoadPaymentConfig()
	settleCfg := config.LoadSettlementConfig()
	notifyCfg := config.LoadNotifyConfig()

	gateway := payment.NewMemo(payment.NewHTTPGateway(payCfg, nil), rdb, payCfg.MemoTTL)

	var notifier service.Notifier = service.LogNotifier{}
	if notifyCfg.Enabled {
		notifier = service.NewNotificationPublisher(notifyCfg.URL)
		if notifyCfg.Consume {
			go func() {
				if err := queue.StartNotificationConsumer(ctx, notifyCfg.URL, notifyCfg.LogPath); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("notification consumer stopped", slog.String("error", err.Error()))
				}
			}()
		}
	}

	orders := repository.NewOrderRepo(db, cfg.DBTimeout)
	stats := repository.NewMarketStatRepo(db, cfg.DBTimeout)
	cacheCfg := config.LoadCacheConfig()
	settler := service.NewSettler(orders, stats, gateway, notifier, clock.NewSystem(), settleCfg).
		WithStatsCache(middleware.NewCacheInvalidator(cacheCfg, rdb, router.MarketPricesPath))

	var sched *service.Scheduler
	if settleCfg.Interval > 0 {
		sched = service.NewScheduler(settler, settleCfg.Interval)
		sched.Start()
		log.Printf("settlement scheduler running every %s", settleCfg.Interval)
	}

	e := echo.New()
	e.HideBanner = true

	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	window := handler.BiddingWindow{Cutoff: settleCfg.Cutoff, Clock: clock.NewSystem()}
	router.RegisterRoutes(e, db,
		handler.NewOrderHandler(orders, window),
		handler.NewPaymentWebhookHandler(orders, gateway, payCfg.WebhookSecret, window),
		limit)
	router.RegisterMarket(e, handler.NewMarketPriceHandler(stats), rdb, cacheCfg, limit)
	router.RegisterInternal(e, handler.NewSettlementHandler(settler), cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if sched != nil {
		sched.Stop()
	}
}
