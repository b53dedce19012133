// Command nts-ntp-server runs the NTS-authenticated NTP listener (spec.md
// §4.7): it answers NTP/NTS datagrams using cookies sealed by the
// NTS-KE server and, optionally, tracks an upstream reference clock.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cvsouth/nts-go/internal/config"
	"github.com/cvsouth/nts-go/internal/keyring"
	"github.com/cvsouth/nts-go/internal/kvstore"
	"github.com/cvsouth/nts-go/internal/logging"
	"github.com/cvsouth/nts-go/internal/metrics"
	"github.com/cvsouth/nts-go/internal/ntpserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "nts-ntp-server",
		Short:         "NTS-authenticated NTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVar(&cfgFile, "config", "", "path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nts-ntp-server: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, logFile, err := logging.New("nts-ntp-server-debug.log")
	if err != nil {
		return err
	}
	defer func() { _ = logFile.Close() }()

	cfg, err := config.LoadNtpServerConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cookieKey, err := os.ReadFile(cfg.CookieKeyFile)
	if err != nil {
		return fmt.Errorf("read cookie key file: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ring := keyring.New()
	store := kvstore.NewMemcache(cfg.MemcURL...)
	rotator := keyring.NewRotator(ring, store, cookieKey, "nts-key", logger)
	rotator.Metrics = m

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rotator.Run(ctx)

	state := ntpserver.NewFixedState()
	if cfg.UpstreamAddr != "" {
		upstreamAddr := fmt.Sprintf("%s:%d", cfg.UpstreamAddr, cfg.UpstreamPort)
		go ntpserver.TrackUpstream(ctx, upstreamAddr, state, logger)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	errs := make(chan error, len(cfg.Addr))
	for _, addr := range cfg.Addr {
		srv := &ntpserver.Server{
			Addr:    addr,
			State:   state,
			Ring:    ring,
			Logger:  logger,
			Metrics: m,
		}
		go func(addr string) {
			errs <- srv.ListenAndServe()
		}(addr)
		logger.Info("nts-ntp-server listening", "addr", addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		cancel()
		return nil
	case err := <-errs:
		return fmt.Errorf("server stopped: %w", err)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}
