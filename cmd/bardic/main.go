// Package main is the entry point for the bardic engine server.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soullab/bardic-engine/internal/config"
	"github.com/soullab/bardic-engine/internal/memory"
	"github.com/soullab/bardic-engine/internal/repository"
	"github.com/soullab/bardic-engine/internal/server"
)

const version = "0.1.0"

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := repository.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer store.Close()

	var embedder memory.Embedder
	switch cfg.EmbeddingProvider {
	case "openai":
		embedder, err = memory.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	default:
		embedder, err = memory.NewGenAIEmbedder(ctx, cfg.GoogleAPIKey, cfg.EmbeddingModel)
	}
	if err != nil {
		log.Fatalf("failed to create embedder: %v", err)
	}

	engine := memory.NewEngine(store.Episodes, store.Cues, store.Links, store.Vectors, memory.EngineOptions{
		TopK:                cfg.TopK,
		SimilarityThreshold: cfg.SimilarityThreshold,
		ExpansionDiscount:   cfg.ExpansionDiscount,
		ExpansionSeeds:      cfg.ExpansionSeeds,
		Logger:              logger,
	})
	linker := memory.NewLinker(store.Episodes, store.Links, store.Vectors, engine, cfg.LinkThreshold, logger)
	recall := memory.NewRecallEngine(store.Episodes, store.Vectors, store.Links, embedder, memory.RecallOptions{
		SimilarityThreshold: cfg.SimilarityThreshold,
		DimensionLimit:      cfg.DimensionLimit,
		NodeCeiling:         cfg.NodeCeiling,
		DimensionTimeout:    time.Duration(cfg.DimensionTimeoutMS) * time.Millisecond,
		Logger:              logger,
	})

	// The crystallizer is optional. Without a Google API key the free-text
	// capture path returns 503 and structured capture still works.
	var crystallizer memory.Crystallizer
	if cfg.GoogleAPIKey != "" {
		crystallizer, err = memory.NewCrystallizer(ctx, cfg.GoogleAPIKey, cfg.CrystallizerModel)
		if err != nil {
			log.Fatalf("failed to create crystallizer: %v", err)
		}
	} else {
		logger.Warn("no google api key, free-text capture disabled")
	}

	capture := memory.NewCaptureService(store.Episodes, store.Vectors, embedder, linker, crystallizer, cfg.EmbeddingModel, logger)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(store.Episodes, store.Cues, capture, recall, engine, logger, version),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", slog.Any("error", err))
		}
		cancel()
	}()

	logger.Info("bardic engine listening", slog.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}
