package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cdpcore/config"
	"cdpcore/core/events"
	"cdpcore/core/types"
	"cdpcore/native/cdp"
	"cdpcore/native/oracle"
	nativeparams "cdpcore/native/params"
	"cdpcore/observability"
	"cdpcore/observability/logging"
	"cdpcore/rpc"
	"cdpcore/rpc/modules"
	"cdpcore/state"
	"cdpcore/storage"
)

const persistInterval = 30 * time.Second

// logEmitter writes every ledger event as a structured log line.
type logEmitter struct {
	log *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	type attributed interface{ Event() *types.Event }
	if typed, ok := evt.(attributed); ok {
		e := typed.Event()
		args := make([]any, 0, len(e.Attributes)*2)
		for key, value := range e.Attributes {
			args = append(args, key, value)
		}
		l.log.Info(e.Type, args...)
		return
	}
	l.log.Info(evt.EventType())
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv("CDP_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("cdpd", env, logging.Options{FilePath: cfg.LogFile})

	feeSink, surplusSink, err := cfg.SinkAddresses()
	if err != nil {
		logger.Error("Invalid sink addresses", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	store := nativeparams.NewStore(manager)

	if err := seedRiskParams(cfg, store); err != nil {
		logger.Error("Failed to seed risk parameters", slog.Any("error", err))
		os.Exit(1)
	}

	emitter := &observability.CountingEmitter{Next: &logEmitter{log: logger}}

	aggregator := oracle.NewAggregator(time.Now)
	aggregator.SetEmitter(emitter)
	if records, err := manager.LoadOracle(); err != nil {
		logger.Error("Failed to load oracle records", slog.Any("error", err))
		os.Exit(1)
	} else {
		aggregator.Restore(records)
	}
	registerFeeds(cfg, aggregator, logger)

	pool := cdp.NewActivePool()
	if snapshot, err := manager.LoadPool(); err != nil {
		logger.Error("Failed to load pool state", slog.Any("error", err))
		os.Exit(1)
	} else if snapshot != nil {
		pool.Restore(snapshot)
	}

	surplus := cdp.NewCollateralSurplusPool()
	if snapshot, err := manager.LoadSurplus(); err != nil {
		logger.Error("Failed to load surplus state", slog.Any("error", err))
		os.Exit(1)
	} else if snapshot != nil {
		surplus.Restore(snapshot)
	}

	bank := state.NewBank()
	if snapshot, err := manager.LoadBank(); err != nil {
		logger.Error("Failed to load token ledger", slog.Any("error", err))
		os.Exit(1)
	} else if snapshot != nil {
		bank.Restore(snapshot)
	}

	engine := cdp.NewEngine(feeSink, surplusSink)
	engine.SetPool(pool)
	engine.SetSurplusPool(surplus)
	engine.SetToken(bank)
	engine.SetParams(store)
	engine.SetPriceSource(aggregator)
	engine.SetEmitter(emitter)
	engine.SetPauses(nativeparams.NewPauseView(store))

	if positions, err := manager.LoadPositions(); err != nil {
		logger.Error("Failed to load positions", slog.Any("error", err))
		os.Exit(1)
	} else if positions != nil {
		engine.Ledger().Restore(positions)
		engine.RebuildIndex()
	}
	if feeStates, err := manager.LoadFees(); err != nil {
		logger.Error("Failed to load fee states", slog.Any("error", err))
		os.Exit(1)
	} else if feeStates != nil {
		engine.Fees().Restore(feeStates)
	}

	persist := func() {
		if err := manager.SavePositions(engine.SnapshotPositions()); err != nil {
			logger.Error("Failed to persist positions", slog.Any("error", err))
		}
		if err := manager.SaveFees(engine.Fees().Snapshot()); err != nil {
			logger.Error("Failed to persist fee states", slog.Any("error", err))
		}
		if err := manager.SaveOracle(aggregator.Snapshot()); err != nil {
			logger.Error("Failed to persist oracle records", slog.Any("error", err))
		}
		if err := manager.SavePool(pool.Snapshot()); err != nil {
			logger.Error("Failed to persist pool state", slog.Any("error", err))
		}
		if err := manager.SaveSurplus(surplus.Snapshot()); err != nil {
			logger.Error("Failed to persist surplus state", slog.Any("error", err))
		}
		if err := manager.SaveBank(bank.Snapshot()); err != nil {
			logger.Error("Failed to persist token ledger", slog.Any("error", err))
		}
	}

	cdpModule := modules.NewCDPModule(engine, store, aggregator)
	server := rpc.NewServer(cdpModule, logger)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(persistInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				persist()
			}
		}
	}()

	go func() {
		logger.Info("HTTP server listening", "address", cfg.RPCAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", slog.Any("error", err))
	}
	persist()
}

// seedRiskParams copies configured market limits into the parameter store the
// first time each asset is seen. Stored parameters win afterwards so runtime
// governance updates survive restarts.
func seedRiskParams(cfg *config.Config, store *nativeparams.Store) error {
	for _, asset := range cfg.Assets {
		if _, err := store.RiskParams(asset.Symbol); err == nil {
			continue
		} else if !errors.Is(err, nativeparams.ErrAssetNotConfigured) {
			return err
		}
		riskParams, err := asset.RiskParams()
		if err != nil {
			return err
		}
		if err := store.SetRiskParams(asset.Symbol, riskParams); err != nil {
			return err
		}
	}
	return nil
}

func registerFeeds(cfg *config.Config, aggregator *oracle.Aggregator, logger *slog.Logger) {
	client := &http.Client{Timeout: 10 * time.Second}
	for _, asset := range cfg.Assets {
		feed := asset.Oracle
		if strings.TrimSpace(feed.PriceURL) == "" {
			continue
		}
		primary := oracle.NewHTTPFeed(client, feed.PriceURL, feed.APIKey)
		forex := oracle.NewHTTPFeed(client, feed.ForexURL, feed.APIKey)
		if err := aggregator.AddOracle(asset.Symbol, primary, forex); err != nil {
			// A restored record keeps serving its last good price even when
			// registration fails at boot.
			logger.Warn("Oracle registration failed", "asset", asset.Symbol, slog.Any("error", err))
		}
	}
}
