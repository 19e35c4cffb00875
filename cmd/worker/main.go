package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/wa-dispatch/internal/app"
	"github.com/ignite/wa-dispatch/internal/config"
)

func main() {
	log.Println("Starting WA Dispatch Worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatalf("DATABASE_URL is required; run cmd/server alone for single-process mode")
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.RunWorkers(ctx) }()

	// Heartbeat with pool counters
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Printf("[Worker] heartbeat dispatch=%v send=%v", a.Processor.Stats(), a.Sender.Stats())
			}
		}
	}()

	log.Println("[Worker] running (scheduler, send pool, queue recovery)")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("[Worker] shutting down...")
		cancel()
		if err := <-done; err != nil {
			log.Printf("[Worker] stopped with error: %v", err)
		}
	case err := <-done:
		if err != nil {
			log.Printf("[Worker] send pool exited: %v", err)
			a.Close()
			os.Exit(1)
		}
	}

	log.Println("[Worker] stopped")
}
