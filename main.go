package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"strategy-core/internal/api"
	"strategy-core/internal/coordinator"
	"strategy-core/internal/engine"
	"strategy-core/internal/events"
	"strategy-core/internal/strategy"
	"strategy-core/pkg/config"
	"strategy-core/pkg/db"
	"strategy-core/pkg/exchange/binance"
	"strategy-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal("state store open failed", zap.Error(err))
	}
	defer store.Close()

	coord, err := coordinator.New(rootCtx, coordinator.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		log.Fatal("coordinator connect failed", zap.Error(err))
	}
	defer coord.Close()

	exch := binance.New(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.BinanceTestnet, cfg.RestRateLimit, log)
	if err := exch.LoadSymbolFilters(rootCtx, cfg.Universe); err != nil {
		log.Warn("symbol filters incomplete, sell quantities may be rejected", zap.Error(err))
	}

	strategies, err := strategy.LoadConfig(cfg.StrategyConfigPath)
	if err != nil {
		log.Fatal("strategy config failed", zap.Error(err))
	}

	bus := events.NewBus()
	var engines []*engine.Engine
	for _, sc := range strategies {
		eval, err := strategy.NewEvaluator(sc)
		if err != nil {
			log.Fatal("evaluator build failed", zap.String("strategy", sc.ID), zap.Error(err))
		}
		if sc.Interval == "" {
			sc.Interval = cfg.Interval
		}
		engines = append(engines, engine.New(engine.Options{
			Log:                log,
			Config:             sc,
			Evaluator:          eval,
			Exchange:           exch,
			Coordinator:        coord,
			Store:              store,
			Bus:                bus,
			Universe:           cfg.Universe,
			BatchSize:          cfg.BatchSize,
			SeedLimit:          cfg.SeedLimit,
			Window:             cfg.SeriesWindow,
			WatchTTL:           cfg.WatchTTL,
			Cooldown:           cfg.Cooldown,
			ResyncInterval:     cfg.ResyncInterval,
			CheckpointInterval: cfg.CheckpointInterval,
		}))
	}
	if len(engines) == 0 {
		log.Fatal("no strategies configured")
	}

	for _, e := range engines {
		if err := e.Start(rootCtx); err != nil {
			log.Fatal("engine start failed", zap.String("strategy", e.ID()), zap.Error(err))
		}
	}

	instances := make([]api.Instance, len(engines))
	for i, e := range engines {
		instances[i] = e
	}
	server := api.NewServer(log, bus, instances, cfg.JWTSecret)
	go func() {
		if err := server.Run(":" + cfg.Port); err != nil {
			log.Error("api server stopped", zap.Error(err))
		}
	}()

	log.Info("strategy-core up",
		zap.Int("strategies", len(engines)),
		zap.Int("universe", len(cfg.Universe)),
		zap.String("port", cfg.Port))

	<-rootCtx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, e := range engines {
		e.Shutdown(shutdownCtx)
	}
	log.Info("bye")
	os.Exit(0)
}
