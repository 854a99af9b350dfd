package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"closebell/internal/config"
	"closebell/internal/engine"
	"closebell/internal/gateway"
	"closebell/internal/history"
	"closebell/internal/logging"
	"closebell/internal/risk"
	"closebell/internal/session"
	"closebell/internal/state"
	"closebell/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	calendar, err := session.New(cfg.Session.Timezone, cfg.Session.Open, cfg.Session.Close)
	if err != nil {
		logger.Fatal("session calendar", zap.Error(err))
	}

	runID := uuid.NewString()
	evals, err := engine.NewEvaluationLog(cfg.Paths.EvaluationsPath, runID)
	if err != nil {
		logger.Fatal("evaluation log", zap.Error(err))
	}
	defer func() {
		if err := evals.Close(); err != nil {
			logger.Warn("close evaluation log", zap.Error(err))
		}
	}()

	hist, err := history.NewStore(cfg.Paths.DataDir, logger.Named("history"))
	if err != nil {
		logger.Fatal("trade history store", zap.Error(err))
	}
	st, err := state.NewStore(cfg.Paths.DataDir)
	if err != nil {
		logger.Fatal("execution state store", zap.Error(err))
	}

	gw := gateway.New(gateway.Options{
		BaseURL:      cfg.Gateway.BaseURL,
		ExchangeType: cfg.Gateway.ExchangeType,
		DataType:     cfg.Gateway.DataType,
		Timeout:      cfg.Gateway.Timeout.Std(),
		Credential:   cfg.Gateway.Credential,
	}, logger.Named("gateway"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := gw.Login(ctx); err != nil {
		logger.Fatal("gateway login", zap.Error(err))
	}

	eng := engine.New(engine.Options{
		PollInterval:     cfg.Scheduler.PollInterval.Std(),
		CloseLeadMinutes: cfg.Session.CloseLeadMinutes,
		KillSwitch:       cfg.Scheduler.KillSwitch,
	},
		calendar,
		strategy.NewLoader(cfg.Paths.StrategyFile),
		gw,
		hist,
		st,
		risk.NewGate(logger.Named("risk")),
		evals,
		logger.Named("engine"),
	)

	logger.Info("bot starting",
		zap.String("run_id", runID),
		zap.Duration("poll_interval", cfg.Scheduler.PollInterval.Std()),
		zap.Int("close_lead_minutes", cfg.Session.CloseLeadMinutes))

	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("engine stopped", zap.Error(err))
	}
	logger.Info("bot shutdown complete")
}
