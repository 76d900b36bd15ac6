// Command authorityd runs the license authority: the issuer and node
// registrar described in this fabric's authority-side design.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haideralmesaody/license-fabric/internal/authority/engine"
	"github.com/haideralmesaody/license-fabric/internal/authority/httpapi"
	"github.com/haideralmesaody/license-fabric/internal/authority/store"
	"github.com/haideralmesaody/license-fabric/internal/config"
	"github.com/haideralmesaody/license-fabric/internal/infrastructure"
	"github.com/haideralmesaody/license-fabric/internal/token"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file overlaying environment settings")
	flag.Parse()

	cfg, err := config.LoadAuthorityConfig(*configPath)
	if err != nil {
		slog.Error("failed to load authority config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := infrastructure.InitializeLogger(infrastructure.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, tracer, err := infrastructure.InitializeTracing(ctx)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without spans", slog.String("error", err.Error()))
		tracer = otel.Tracer(infrastructure.TracerName)
	}
	defer func() {
		if err := infrastructure.ShutdownTracing(context.Background(), tp); err != nil {
			logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	privateKey, publicKey, err := loadKeypair(cfg)
	if err != nil {
		logger.Error("failed to load authority keypair", slog.String("error", err.Error()))
		os.Exit(1)
	}

	licenseStore, err := store.NewLicenseStore(cfg.LicensePersistPath, logger)
	if err != nil {
		logger.Error("failed to open license store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	nodeTimeoutMs := int64(cfg.NodeTimeoutSeconds) * 1000
	nodeStore, err := store.NewNodeStore(cfg.NodePersistPath, nodeTimeoutMs, time.Now().UnixMilli(), logger)
	if err != nil {
		logger.Error("failed to open node store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	auditLog := store.NewAuditLog(cfg.ActivationLogPath, logger)
	eng := engine.New(nodeStore, publicKey, cfg.NodeTimeoutSeconds, logger).WithAuditLog(auditLog)

	licenseHandlers, err := httpapi.NewLicenseHandlers(licenseStore, nodeStore, privateKey, publicKey, logger)
	if err != nil {
		logger.Error("failed to build license handlers", slog.String("error", err.Error()))
		os.Exit(1)
	}
	nodeHandlers := httpapi.NewNodeHandlers(eng, logger)
	router := httpapi.NewRouter(licenseHandlers, nodeHandlers, cfg.AdminToken, tracer, logger)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("authority listening", slog.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	sweepInterval := time.Duration(cfg.SweepIntervalSeconds) * time.Second
	group.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := eng.Sweep(); n > 0 {
					logger.Info("swept stale nodes", slog.Int("count", n))
				}
			case <-groupCtx.Done():
				return nil
			}
		}
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("authority stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("authority shutdown complete")
}

func loadKeypair(cfg config.AuthorityConfig) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	if cfg.PrivateKeyPath == "" || cfg.PublicKeyPath == "" {
		return nil, nil, fmt.Errorf("privateKeyPath and publicKeyPath must both be set")
	}
	privBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}
	privateKey, err := token.LoadPrivateKeyPEM(privBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse private key: %w", err)
	}
	pubBytes, err := os.ReadFile(cfg.PublicKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read public key: %w", err)
	}
	publicKey, err := token.LoadPublicKeyPEM(pubBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse public key: %w", err)
	}
	return privateKey, publicKey, nil
}
