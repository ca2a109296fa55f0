// Command gateway runs the exchange's HTTP adapter in front of an
// in-process matching core, shutting the HTTP server down gracefully on
// SIGINT/SIGTERM before releasing the core's own resources.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/analytics"
	"github.com/astroleaf/ecoflux-exchange/internal/config"
	"github.com/astroleaf/ecoflux-exchange/internal/contracts"
	"github.com/astroleaf/ecoflux-exchange/internal/events"
	"github.com/astroleaf/ecoflux-exchange/internal/gateway"
	"github.com/astroleaf/ecoflux-exchange/internal/matching"
	"github.com/astroleaf/ecoflux-exchange/internal/monitoring"
	"github.com/astroleaf/ecoflux-exchange/internal/orderbook"
	"github.com/astroleaf/ecoflux-exchange/internal/registry"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration directory")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	book := orderbook.New(logger)
	reg := registry.New(logger)

	lc, err := contracts.New(logger, contracts.Config{
		VerifyCacheCapacity:  cfg.Contracts.VerifyCacheCapacity,
		ExecuteTimeout:       cfg.ExecuteTimeout(),
		GasRangeMinEth:       cfg.Contracts.GasRangeMinEth,
		GasRangeMaxEth:       cfg.Contracts.GasRangeMaxEth,
		TargetVerifyBaseline: cfg.TargetVerifyBaseline(),
		ExecutorPoolSize:     cfg.Contracts.ExecutorPoolSize,
	})
	if err != nil {
		logger.Fatal("failed to build contract lifecycle", zap.Error(err))
	}
	defer lc.Close()

	sink, closer, err := events.NewInProcessSink(logger)
	if err != nil {
		logger.Fatal("failed to build event sink", zap.Error(err))
	}
	if closer != nil {
		defer closer.Close()
	}

	collector := monitoring.NewCollector(logger)

	engine := matching.New(matching.Config{
		QueueDepth:      cfg.Matching.QueueDepth,
		SubmitTimeoutMs: cfg.Matching.SubmitTimeoutMs,
	}, logger, book, reg, lc, sink, collector)
	defer engine.Close()

	aggregator := analytics.New(analytics.Config{
		CacheTTL:             cfg.AnalyticsCacheTTL(),
		TargetVerifyBaseline: cfg.TargetVerifyBaseline(),
	}, reg, book, lc)

	srv := gateway.New(logger, engine, aggregator)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("gateway listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("gateway server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down gateway")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("gateway shutdown error", zap.Error(err))
	}
}
