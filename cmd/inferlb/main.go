// Command inferlb runs the reverse-proxying load balancer in front of a
// fleet of Ollama-compatible backends.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/srskip/inferlb/internal/admin"
	"github.com/srskip/inferlb/internal/config"
	"github.com/srskip/inferlb/internal/dispatch"
	"github.com/srskip/inferlb/internal/gateway"
	"github.com/srskip/inferlb/internal/inventory"
	"github.com/srskip/inferlb/internal/listener"
	"github.com/srskip/inferlb/internal/logging"
	"github.com/srskip/inferlb/internal/metrics"
	"github.com/srskip/inferlb/internal/registry"
)

// version is overridden at release build time via -ldflags.
var version = "dev"

func main() {
	if err := config.NewRootCommand(run).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Output: cfg.LogOutput})
	if err != nil {
		return fmt.Errorf("main: %w", err)
	}
	defer log.Sync()

	reg := registry.New()
	for _, b := range cfg.Backends {
		reg.Add(b.Addr, b.Name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	log.Info("syncing backend inventory", zap.Int("backends", len(cfg.Backends)))
	inventory.SyncAll(ctx, reg, log, m)

	d := dispatch.New(reg, m, log)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	h := gateway.New(reg, d, m, log, rng, cfg.Timeout, cfg.TimeoutFT, cfg.TimeMeasure)

	httpListener := listener.NewHTTPListener(listener.HTTPListenerConfig{
		Addr:    cfg.Listen,
		Handler: h,
		Log:     log,
	})
	if err := httpListener.Start(ctx); err != nil {
		return fmt.Errorf("main: starting listener: %w", err)
	}
	log.Info("listening", zap.String("addr", httpListener.Addr()))

	adminAPI := admin.New(admin.Config{
		Addr:     cfg.AdminListen,
		Registry: reg,
		Metrics:  m,
		Version:  version,
	})
	if err := adminAPI.Start(); err != nil {
		return fmt.Errorf("main: starting admin API: %w", err)
	}
	log.Info("admin API listening", zap.String("addr", cfg.AdminListen))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpListener.Stop(shutdownCtx); err != nil {
		log.Error("error stopping listener", zap.Error(err))
	}
	if err := adminAPI.Stop(shutdownCtx); err != nil {
		log.Error("error stopping admin API", zap.Error(err))
	}

	return nil
}
