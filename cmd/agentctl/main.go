// Command agentctl runs the agent lifecycle controller standalone, useful
// for smoke-testing a license against a running authority without a host
// application embedding the controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haideralmesaody/license-fabric/internal/agent/controller"
	"github.com/haideralmesaody/license-fabric/internal/config"
	"github.com/haideralmesaody/license-fabric/internal/fingerprint"
	"github.com/haideralmesaody/license-fabric/internal/infrastructure"
	"github.com/haideralmesaody/license-fabric/internal/token"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file overlaying environment settings")
	flag.Parse()

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		slog.Error("failed to load agent config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := infrastructure.InitializeLogger(infrastructure.LoggingConfig{Level: cfg.LogLevel, Format: "text"})

	publicKeyPEM, err := resolvePublicKeyPEM(cfg)
	if err != nil {
		logger.Error("failed to resolve authority public key", slog.String("error", err.Error()))
		os.Exit(1)
	}
	publicKey, err := token.LoadPublicKeyPEM([]byte(publicKeyPEM))
	if err != nil {
		logger.Error("failed to parse authority public key", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctrl := controller.New(controller.Config{
		Code:              cfg.Code,
		ServerURL:         cfg.ServerURL,
		PublicKey:         publicKey,
		PublicKeyPEM:      publicKeyPEM,
		HeartbeatInterval:  time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
		GracePeriodHours:  cfg.GracePeriodHours,
		CachePath:         cfg.CachePath,
		MachineInfo:       fingerprint.Collect(),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server error", slog.String("error", err.Error()))
		}
	}()

	ctrl.Start(ctx)
	snap := ctrl.Snapshot()
	logger.Info("agent started", slog.String("status", snap.Status.String()), slog.String("message", snap.Message))

	<-ctx.Done()
	logger.Info("shutting down agent")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctrl.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}

func resolvePublicKeyPEM(cfg config.AgentConfig) (string, error) {
	if cfg.PublicKey != "" {
		return cfg.PublicKey, nil
	}
	if cfg.PublicKeyPath != "" {
		data, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return "", fmt.Errorf("read public key file: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("either publicKey or publicKeyPath must be set")
}
