// Wallet Recovery — доводит зависшие саги до финального статуса.
//
// По расписанию (RECOVERY_INTERVAL) ищет саги в STARTED, RUNNING и
// COMPENSATING, не обновлявшиеся дольше RECOVERY_STALE_AFTER, и
// компенсирует их. Несколько экземпляров можно запускать параллельно:
// от двойной компенсации защищают версии и ключи идемпотентности.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Wallet/internal/app"
	"github.com/shaiso/Wallet/internal/config"
	"github.com/shaiso/Wallet/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting wallet-recovery")

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		logger.Debug(fmt.Sprintf(format, args...))
	})); err != nil {
		logger.Warn("failed to set GOMAXPROCS", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.StoreDriver == config.StoreDriverMemory {
		// Отдельный процесс не видит памяти wallet-api
		logger.Error("wallet-recovery requires STORE_DRIVER=postgres")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	runner, err := a.NewRecoveryRunner(cfg, logger)
	if err != nil {
		logger.Error("failed to create recovery runner", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.RecoveryAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return runner.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("wallet-recovery stopped with error", "error", err)
		_ = a.Close()
		os.Exit(1)
	}

	logger.Info("stopped")
}
