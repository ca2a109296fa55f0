// Command engine is the exchange's composition root: it wires the order
// book, registry, contract lifecycle, matching engine and analytics
// aggregator together as long-lived singletons via go.uber.org/fx and
// runs them until an interrupt signal. Handlers and adapters receive
// these injected instances; nothing instantiates its own copy of the
// book or registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/astroleaf/ecoflux-exchange/internal/analytics"
	"github.com/astroleaf/ecoflux-exchange/internal/config"
	"github.com/astroleaf/ecoflux-exchange/internal/contracts"
	"github.com/astroleaf/ecoflux-exchange/internal/domain"
	"github.com/astroleaf/ecoflux-exchange/internal/events"
	"github.com/astroleaf/ecoflux-exchange/internal/matching"
	"github.com/astroleaf/ecoflux-exchange/internal/monitoring"
	"github.com/astroleaf/ecoflux-exchange/internal/orderbook"
	"github.com/astroleaf/ecoflux-exchange/internal/registry"
	"github.com/astroleaf/ecoflux-exchange/internal/store"
	"github.com/astroleaf/ecoflux-exchange/internal/store/memory"
	"github.com/astroleaf/ecoflux-exchange/internal/store/postgres"
)

const appName = "ecoflux-exchange"

func main() {
	configPath := flag.String("config", "", "Path to configuration directory")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Println(appName)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newLogger,
			newRawSink,
			newStore,
			newOrderBook,
			newRegistry,
			newLifecycle,
			newFetcher,
			newMirror,
			newSink,
			newCollector,
			newEngine,
			newAggregator,
		),
		fx.Invoke(registerLifecycle),
		fx.NopLogger,
	)

	app.Run()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return config.InitLogger(cfg)
}

// rawSink is a distinct type wrapping the transport-level sink (NATS or
// in-process), kept separate from the fully composed events.Sink (which
// also fans out to the durable store's write-behind mirror) so fx can
// provide both without a type collision.
type rawSink struct{ events.Sink }

func newRawSink(cfg *config.Config, logger *zap.Logger) (rawSink, events.Closer, error) {
	if cfg.Events.NATSURL != "" {
		sink, err := events.NewNATSSink(cfg.Events.NATSURL, logger)
		return rawSink{sink}, nil, err
	}
	sink, closer, err := events.NewInProcessSink(logger)
	return rawSink{sink}, closer, err
}

// newFetcher adapts the registry and contract lifecycle into a
// store.Fetcher, letting the mirror resolve event-carried ids back to
// full objects without depending on the matching engine itself — which
// would otherwise create a construction cycle (the engine needs the
// composed sink, and the composed sink needs a fetcher).
type registryFetcher struct {
	reg *registry.Registry
	lc  *contracts.Lifecycle
}

func (f registryFetcher) FetchOrder(id string) (*domain.Order, bool) {
	o, err := f.reg.Get(id)
	if err != nil {
		return nil, false
	}
	return o, true
}

func (f registryFetcher) FetchContract(id string) (*domain.Contract, bool) {
	c, err := f.lc.Get(id)
	if err != nil {
		return nil, false
	}
	return c, true
}

func newFetcher(reg *registry.Registry, lc *contracts.Lifecycle) store.Fetcher {
	return registryFetcher{reg: reg, lc: lc}
}

func newMirror(s store.Store, fetch store.Fetcher, logger *zap.Logger) *store.Mirror {
	return store.NewMirror(s, fetch, logger)
}

// newSink composes the transport sink with the durable-store mirror so
// every published event both reaches subscribers and gets persisted
// asynchronously, without the matching writer ever blocking on either.
func newSink(raw rawSink, mirror *store.Mirror) events.Sink {
	return events.NewMultiSink(raw.Sink, mirror)
}

func newStore(cfg *config.Config, logger *zap.Logger) store.Store {
	if cfg.Store.PostgresDSN != "" {
		s, err := postgres.New(cfg.Store.PostgresDSN, logger)
		if err != nil {
			logger.Error("failed to open durable store, falling back to memory", zap.Error(err))
			return memory.New()
		}
		return s
	}
	return memory.New()
}

func newOrderBook(logger *zap.Logger) *orderbook.Book {
	return orderbook.New(logger)
}

func newRegistry(logger *zap.Logger) *registry.Registry {
	return registry.New(logger)
}

func newLifecycle(cfg *config.Config, logger *zap.Logger) (*contracts.Lifecycle, error) {
	lcCfg := contracts.Config{
		VerifyCacheCapacity:  cfg.Contracts.VerifyCacheCapacity,
		ExecuteTimeout:       cfg.ExecuteTimeout(),
		GasRangeMinEth:       cfg.Contracts.GasRangeMinEth,
		GasRangeMaxEth:       cfg.Contracts.GasRangeMaxEth,
		TargetVerifyBaseline: cfg.TargetVerifyBaseline(),
		ExecutorPoolSize:     cfg.Contracts.ExecutorPoolSize,
	}
	return contracts.New(logger, lcCfg)
}

func newCollector(logger *zap.Logger) *monitoring.Collector {
	return monitoring.NewCollector(logger)
}

func newEngine(
	cfg *config.Config,
	logger *zap.Logger,
	book *orderbook.Book,
	reg *registry.Registry,
	lc *contracts.Lifecycle,
	sink events.Sink,
	collector *monitoring.Collector,
) *matching.Engine {
	engineCfg := matching.Config{
		QueueDepth:      cfg.Matching.QueueDepth,
		SubmitTimeoutMs: cfg.Matching.SubmitTimeoutMs,
	}
	return matching.New(engineCfg, logger, book, reg, lc, sink, collector)
}

func newAggregator(cfg *config.Config, reg *registry.Registry, book *orderbook.Book, lc *contracts.Lifecycle) *analytics.Aggregator {
	aCfg := analytics.Config{
		CacheTTL:             cfg.AnalyticsCacheTTL(),
		TargetVerifyBaseline: cfg.TargetVerifyBaseline(),
	}
	return analytics.New(aCfg, reg, book, lc)
}

// registerLifecycle wires an fx.Lifecycle hook that runs the retention
// sweep on a ticker and shuts everything down cleanly on stop.
func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	logger *zap.Logger,
	reg *registry.Registry,
	contractLC *contracts.Lifecycle,
	engine *matching.Engine,
	durableStore store.Store,
	sinkCloser events.Closer,
) {
	ticker := time.NewTicker(time.Hour)
	stop := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("exchange matching core starting")
			go func() {
				for {
					select {
					case <-ticker.C:
						cutoff := cfg.RetentionCutoff(time.Now())
						reg.EvictOlderThan(cutoff)
					case <-stop:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("exchange matching core stopping")
			ticker.Stop()
			close(stop)
			engine.Close()
			contractLC.Close()
			if sinkCloser != nil {
				if err := sinkCloser.Close(); err != nil {
					logger.Warn("error closing event sink", zap.Error(err))
				}
			}
			return durableStore.Close()
		},
	})
}
