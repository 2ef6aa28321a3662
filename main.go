package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fundmatch/orchestrator/internal/bus"
	"github.com/fundmatch/orchestrator/internal/capability"
	"github.com/fundmatch/orchestrator/internal/config"
	"github.com/fundmatch/orchestrator/internal/invoker"
	"github.com/fundmatch/orchestrator/internal/pipeline"
	"github.com/fundmatch/orchestrator/internal/profile"
	"github.com/fundmatch/orchestrator/internal/scheduler"
	"github.com/fundmatch/orchestrator/internal/store"
	transport "github.com/fundmatch/orchestrator/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting matchmaking orchestrator...")
	log.Printf("HTTP Port: %d", cfg.HTTP.Port)
	log.Printf("Database: %s", cfg.DB.Path)
	log.Printf("LLM endpoint: %s", cfg.LLM.BaseURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DB.Path)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	// Sync agent definitions from AGENT.md documents
	profiles := profile.NewManager(db, cfg.Agents.Dir)
	if _, err := profiles.SyncFromFiles(ctx); err != nil {
		log.Fatalf("Failed to sync agent definitions: %v", err)
	}

	// Seed capability server defaults
	registry := capability.NewRegistry(db, nil)
	if err := registry.SeedDefaults(ctx); err != nil {
		log.Fatalf("Failed to seed capability servers: %v", err)
	}

	// Initialize event bus, invoker and coordinator
	eventBus := bus.New()
	agentInvoker := invoker.New(db, eventBus, nil, registry, cfg.LLM.Timeout)
	coordinator := pipeline.NewCoordinator(db, eventBus, agentInvoker, profiles, cfg)

	// Scheduled trigger
	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		sched = scheduler.New(coordinator, cfg.Schedule.Cron)
		if err := sched.Start(); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	}

	// HTTP server
	server := transport.NewServer(coordinator, db, eventBus, profiles, registry, agentInvoker, cfg)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("API started on port %d", cfg.HTTP.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down orchestrator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Orchestrator stopped")
}
