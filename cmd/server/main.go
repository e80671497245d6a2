// Package main is the entry point for the YardMap server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yardmap/server/internal/api"
	"github.com/yardmap/server/internal/cache"
	"github.com/yardmap/server/internal/config"
	"github.com/yardmap/server/internal/render"
	"github.com/yardmap/server/internal/service"
	"github.com/yardmap/server/internal/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/server.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting YardMap server on port %d", cfg.Server.Port)

	// Initialize listing store
	listingStore, err := store.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to initialize listing store: %v", err)
	}
	defer listingStore.Close()
	log.Printf("Listing store: %s", cfg.Store.SQLitePath)

	// Initialize cache manager
	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		QueryCacheSize:  cfg.Cache.QuerySize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	// Initialize density tile renderer
	tileRenderer := render.NewTileRenderer(render.Config{
		TileSize:  cfg.Render.TileSize,
		GridCells: cfg.Render.GridCells,
	})

	// Initialize query service
	queryService := service.NewQueryService(service.QueryServiceConfig{
		Store:    listingStore,
		Cache:    cacheManager,
		Renderer: tileRenderer,
	})

	// Initialize prefetch manager
	prefetchManager := service.NewPrefetchManager(queryService, service.PrefetchConfig{
		Workers:   cfg.Prefetch.Workers,
		QueueSize: cfg.Prefetch.QueueSize,
	})
	prefetchManager.Start()
	defer prefetchManager.Stop()
	log.Printf("Prefetch: workers=%d, queue=%d", cfg.Prefetch.Workers, cfg.Prefetch.QueueSize)

	// Initialize session registry
	sessions := api.NewSessionRegistry(time.Duration(cfg.Sessions.TTLMinutes) * time.Minute)
	sessions.StartCleaner(time.Duration(cfg.Sessions.CleanupPeriodMinutes) * time.Minute)
	defer sessions.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Sessions:      sessions,
		Query:         queryService,
		Prefetch:      prefetchManager,
		Store:         listingStore,
		CORSOrigins:   cfg.Server.CORSOrigins,
		ThrottleLimit: cfg.Server.ThrottleLimit,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
