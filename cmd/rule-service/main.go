package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azizikri/coupon-budget-ledger/internal/config"
	"github.com/azizikri/coupon-budget-ledger/internal/logger"
	"github.com/azizikri/coupon-budget-ledger/internal/observability"
	"github.com/azizikri/coupon-budget-ledger/internal/ruleoracle"
	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg, version)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up tracing")
	}

	rules, err := ruleoracle.LoadRules(cfg.RulesFile)
	if err != nil {
		log.Fatal().Err(err).Str("rules_file", cfg.RulesFile).Msg("failed to load rules")
	}
	oracle, err := ruleoracle.NewCELOracle(rules)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to compile rules")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           ruleoracle.NewHandler(oracle),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.AppPort).Int("collections", len(rules.Collections)).Msg("starting rule service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown error")
	}
}
