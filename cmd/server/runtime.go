package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sheikh-saqib/currency-ledger/internal/cache"
	"github.com/sheikh-saqib/currency-ledger/internal/config"
	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
	"github.com/sheikh-saqib/currency-ledger/internal/ledger"
	"github.com/sheikh-saqib/currency-ledger/internal/models"
	"github.com/sheikh-saqib/currency-ledger/internal/storage"
	"github.com/sheikh-saqib/currency-ledger/internal/workers"
)

// runtime is everything a subcommand needs to talk to storage.
type runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	currencies *models.Currencies
	online     *cache.Online
	store      interfaces.LedgerStore
	kind       storage.Kind
	manager    *ledger.Manager
}

func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	currencies, err := config.LoadCurrencies(cfg.CurrenciesFile)
	if err != nil {
		return nil, err
	}

	online := cache.NewOnline()
	store, kind, err := storage.Open(ctx, cfg.Storage, storage.Deps{
		Currencies: currencies,
		Online:     online,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pool := workers.NewPool(cfg.Storage.Threads, logger)
	manager := ledger.NewManager(store, online, pool, currencies,
		ledger.WithLogger(logger),
		ledger.WithLeaderboardTTL(cfg.LeaderboardTTL),
		ledger.WithIOTimeout(cfg.IOTimeout),
	)

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		currencies: currencies,
		online:     online,
		store:      store,
		kind:       kind,
		manager:    manager,
	}, nil
}

func (rt *runtime) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, rt.cfg.ShutdownTimeout)
	defer cancel()
	return rt.manager.Shutdown(ctx)
}
