// Command orcheod runs the Orcheo runtime core as a standalone process: it
// loads an orchestrator configuration, wires every backend, and exposes a
// liveness endpoint so the module can be exercised without a transport
// binary. Routing, WebSocket framing, and CLI parsing are out of scope for
// this module (spec §1) and are left to whatever process embeds it; this
// binary exists only so the repository is runnable during development and
// integration testing, mirroring how the teacher project ships both a
// library and a daemon.
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

	"github.com/ShaojieJiang/orcheo/internal/log"
	"github.com/ShaojieJiang/orcheo/internal/orchestrator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "orcheod:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "orcheod.yaml", "path to the orchestrator config file")
	addr := flag.String("addr", ":8090", "address for the liveness endpoint")
	flag.Parse()

	logger := log.New(log.FromEnv())

	cfg, err := orchestrator.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := orchestrator.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Error("orchestrator close failed", log.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := orch.Healthy(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orcheod listening", log.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
