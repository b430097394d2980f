package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"audio-transcriber/pkg/api"
	"audio-transcriber/pkg/audio"
	"audio-transcriber/pkg/config"
	"audio-transcriber/pkg/pipeline"
	"audio-transcriber/pkg/storage"
	"audio-transcriber/pkg/stt"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.API.APIKey == "" {
		log.Println("Warning: OPENAI_API_KEY is not set, transcription requests will fail")
	}

	// Initialize storage
	memStore := storage.NewMemoryStore()
	diskStore, err := storage.NewDiskStore(cfg.StoragePath)
	if err != nil {
		log.Fatalf("Failed to initialize disk storage: %v", err)
	}
	defer diskStore.Close()

	// Initialize pipeline
	dispatcher := pipeline.NewDispatcher(
		stt.NewFromConfig(cfg.API),
		cfg.Pipeline.Dispatch,
		pipeline.WithResultCache(diskStore, cfg.API.Model),
	)
	transcriber := pipeline.NewTranscriber(cfg.Pipeline, audio.NewNormalizer(cfg.Pipeline.Normalize), dispatcher)
	pipelineManager := pipeline.NewManager(cfg, transcriber, memStore, diskStore)

	// Start pipeline workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pipelineManager.Start(ctx); err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}
	defer pipelineManager.Stop()

	// Setup routes
	handlers := api.NewHandlers(pipelineManager, cfg.Pipeline.Normalize.TempDir)
	router := api.NewRouter(handlers)

	// Start HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
