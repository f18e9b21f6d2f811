package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trigger-vault-go/internal/config"
	"trigger-vault-go/internal/database"
	"trigger-vault-go/internal/exchange"
	"trigger-vault-go/internal/executor"
	"trigger-vault-go/internal/logger"
	"trigger-vault-go/internal/notifier"
	"trigger-vault-go/internal/positions"
	"trigger-vault-go/internal/server"
	"trigger-vault-go/internal/vault"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// The encryption key is the one piece of configuration the service cannot
	// run without: a wrong key silently corrupts every credential read.
	enc, err := vault.NewEncryptorFromHexKey(cfg.Vault.EncryptionKey)
	if err != nil {
		log.Fatal("Invalid vault encryption key", zap.Error(err))
	}
	credVault := vault.NewVault(db, enc, cfg.Vault.KeyVersion, log)

	// Warm-up: bulk-decrypt the live-trading set so a key/ciphertext mismatch
	// surfaces at startup instead of at trigger time.
	active, err := credVault.ListActiveTrading()
	if err != nil {
		log.Fatal("Credential warm-up failed", zap.Error(err))
	}
	log.Info("Credential warm-up complete", zap.Int("active_trading", len(active)))
	active = nil

	// Initialize the exchange gateway and verify connectivity
	gateway := exchange.NewBinanceGateway(&cfg.Exchange, log)
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := gateway.GetServerTime(startupCtx); err != nil {
		cancelStartup()
		log.Fatal("Failed to connect to exchange API", zap.Error(err))
	}
	if err := gateway.LoadExchangeInfo(startupCtx); err != nil {
		cancelStartup()
		log.Fatal("Failed to load exchange info", zap.Error(err))
	}
	cancelStartup()
	log.Info("Successfully connected to exchange API.")

	// The orchestrator being down is not fatal; webhook delivery is best-effort.
	orchestrator := notifier.NewNotifier(&cfg.Webhook, log)
	probeCtx, cancelProbe := context.WithTimeout(context.Background(), 5*time.Second)
	if err := orchestrator.HealthCheck(probeCtx); err != nil {
		log.Warn("Orchestrator health check failed", zap.Error(err))
	}
	cancelProbe()

	store := positions.NewGormStore(db, log)
	exec := executor.NewExecutor(credVault, store, gateway, db, executor.Options{
		Workers:         cfg.Trigger.Workers,
		DispatchTimeout: time.Duration(cfg.Trigger.DispatchTimeout) * time.Second,
		VerifySecret:    cfg.Trigger.VerifySecret,
		Secret:          cfg.Trigger.Secret,
	}, log)

	srv := server.NewServer(cfg.Server.Port, exec, log)
	srv.Start()

	// Wait for shutdown signal
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	<-sigchan
	log.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}

	log.Info("Service has been shut down.")
}
