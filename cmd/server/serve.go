package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/currency-ledger/internal/economy"
	"github.com/sheikh-saqib/currency-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/currency-ledger/internal/httpapi"
	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
	"github.com/sheikh-saqib/currency-ledger/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP economy API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}

	var publisher interfaces.EventPublisher = kafka.Noop{}
	if len(rt.cfg.Kafka.Brokers) > 0 {
		publisher = kafka.NewPublisher(rt.cfg.Kafka.Brokers)
	}
	eco := economy.New(rt.manager, economy.WithLogger(rt.logger), economy.WithPublisher(publisher))
	economy.Register(eco)
	defer economy.Unregister(eco)

	api := httpapi.NewServer(eco, session.NewHandler(rt.manager, rt.logger), rt.logger)
	srv := &http.Server{
		Addr:              rt.cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("starting server", "addr", rt.cfg.HTTPAddr, "storage", rt.kind)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		rt.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.ShutdownTimeout)
		err = srv.Shutdown(shutdownCtx)
		cancel()
	}

	if cerr := rt.close(context.WithoutCancel(ctx)); cerr != nil {
		rt.logger.Error("failed to flush storage", "error", cerr)
		err = errors.Join(err, cerr)
	}
	if cerr := eco.Close(); cerr != nil {
		rt.logger.Warn("failed to close event publisher", "error", cerr)
	}
	return err
}
