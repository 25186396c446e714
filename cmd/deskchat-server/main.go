// Package main provides the deskchat backend server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avdwerff/deskchat/internal/config"
	"github.com/avdwerff/deskchat/internal/db"
	"github.com/avdwerff/deskchat/internal/llm"
	"github.com/avdwerff/deskchat/internal/server"
)

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all chat data on startup (testing only)")
	flag.Parse()

	cfg := config.Load()
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()

	logger.Info("starting deskchat-server", "addr", cfg.ListenAddr, "store", cfg.StoreBackend)

	var store server.Store
	switch cfg.StoreBackend {
	case "surrealdb":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
		}, logger)
		if err != nil {
			cancel()
			logger.Error("failed to connect to SurrealDB", "error", err)
			os.Exit(1)
		}
		if err := client.InitSchema(ctx); err != nil {
			cancel()
			logger.Error("failed to initialize schema", "error", err)
			os.Exit(1)
		}
		if *wipeDB || os.Getenv("DESKCHAT_WIPE_DB") == "true" {
			if err := client.WipeData(ctx); err != nil {
				cancel()
				logger.Error("failed to wipe database", "error", err)
				os.Exit(1)
			}
		}
		cancel()
		defer func() {
			if err := client.Close(context.Background()); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}()
		store = client

	case "memory":
		store = server.NewMemoryStore()

	default:
		logger.Error("unknown store backend", "store", cfg.StoreBackend)
		os.Exit(1)
	}

	var responder server.Responder
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	model, err := llm.NewModel(ctx, cfg)
	cancel()
	if err != nil {
		logger.Warn("assistant model unavailable, /ai/chat will report errors", "error", err)
		responder = unavailableResponder{}
	} else {
		logger.Info("assistant model ready", "provider", cfg.LLMProvider, "model", model.Model())
		responder = model
	}

	srv := server.New(cfg.ListenAddr, store, responder, logger)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(runCtx); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// unavailableResponder answers every question with a configuration error.
type unavailableResponder struct{}

func (unavailableResponder) Respond(ctx context.Context, message string, history []server.Turn) (string, error) {
	return "", fmt.Errorf("assistant model is not configured")
}
