// Command demo-app is a minimal sample business application showing how a
// host wires the agent lifecycle controller and its request middleware in
// front of ordinary handlers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/haideralmesaody/license-fabric/internal/agent/controller"
	agentmw "github.com/haideralmesaody/license-fabric/internal/agent/middleware"
	"github.com/haideralmesaody/license-fabric/internal/config"
	"github.com/haideralmesaody/license-fabric/internal/fingerprint"
	"github.com/haideralmesaody/license-fabric/internal/infrastructure"
	"github.com/haideralmesaody/license-fabric/internal/token"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file overlaying environment settings")
	listenAddr := flag.String("listen", ":9100", "address the sample business app listens on")
	flag.Parse()

	cfg, err := config.LoadAgentConfig(*configPath)
	if err != nil {
		slog.Error("failed to load agent config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := infrastructure.InitializeLogger(infrastructure.LoggingConfig{Level: cfg.LogLevel, Format: "text"})

	publicKeyPEM := cfg.PublicKey
	if publicKeyPEM == "" && cfg.PublicKeyPath != "" {
		data, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			logger.Error("failed to read public key file", slog.String("error", err.Error()))
			os.Exit(1)
		}
		publicKeyPEM = string(data)
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
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalSeconds) * time.Second,
		GracePeriodHours:  cfg.GracePeriodHours,
		CachePath:         cfg.CachePath,
		MachineInfo:       fingerprint.Collect(),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctrl.Start(ctx)

	guard := agentmw.New(ctrl, logger, strings.Split(cfg.ExcludePaths, ",")...)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Get("/metrics", promhttp.Handler().ServeHTTP)
	router.With(guard.Handler).Get("/api/widgets", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"widgets": []string{"gear", "cog", "sprocket"},
		})
	})

	server := &http.Server{Addr: *listenAddr, Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		ctrl.Shutdown(shutdownCtx)
	}()

	logger.Info("demo business app listening", slog.String("addr", *listenAddr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("demo app server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
