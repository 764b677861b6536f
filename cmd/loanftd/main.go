package main

import (
	"context"
	"flag"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"loanft/config"
	"loanft/core/events"
	"loanft/core/state"
	"loanft/native/loanft"
	"loanft/native/nft"
	"loanft/observability/logging"
	"loanft/rpc"
	"loanft/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LOANFT_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.Setup("loanftd", env, logging.Options{
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	})

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("failed to open state database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)

	allocs := make(map[[20]byte]*big.Int, len(cfg.Allocs))
	for _, alloc := range cfg.Allocs {
		allocs[alloc.AllocAddress()] = alloc.AllocBalance()
	}
	seeded, err := manager.InitGenesis(allocs)
	if err != nil {
		logger.Error("failed to seed genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}
	if seeded {
		logger.Info("genesis allocations applied", slog.Int("accounts", len(allocs)))
	}

	bus := events.NewBus(cfg.EventBufferSize)
	bus.SetJournal(manager)

	collateral := nft.NewRegistry(manager)

	engine := loanft.NewEngine()
	engine.SetState(manager)
	engine.SetCollateral(collateral)
	engine.SetEmitter(bus)

	// Mirror every state transition into the service log.
	sub, cancelSub := bus.Subscribe()
	defer cancelSub()
	go func() {
		for evt := range sub {
			logger.Info("state transition", slog.String("event", evt.EventType()))
		}
	}()

	server := rpc.NewServer(engine, collateral, manager, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(cfg.MetricsEnabled),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting JSON-RPC server",
			slog.String("address", cfg.RPCAddress),
			slog.String("network", cfg.NetworkName))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("rpc server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
