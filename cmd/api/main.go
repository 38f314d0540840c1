package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sdlms/syncserver/internal/config"
	"github.com/sdlms/syncserver/internal/courses"
	"github.com/sdlms/syncserver/internal/database"
	"github.com/sdlms/syncserver/internal/handlers"
	"github.com/sdlms/syncserver/internal/packages"
	syncsvc "github.com/sdlms/syncserver/internal/sync"
	"github.com/sdlms/syncserver/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (detects embedded vs external automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// 3. Synchronize schema
	log.Println("🚀 Synchronizing database schema...")
	if err := db.Migrate(); err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Device event hub
	hub := websocket.NewHub()
	go hub.Run()

	// 5. Services
	packageService := packages.NewService(db.DB, cfg.Storage.PackageDir, hub)
	courseService := courses.NewService(db.DB, packageService)
	syncService := syncsvc.NewService(db.DB, hub)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 6. Background package builder
	builder := packages.NewBuilder(db.DB, packageService, cfg.Sync.BuildInterval)
	go builder.Run(rootCtx)
	log.Println("✅ Package builder started")

	// 7. Stale session sweeper
	go func() {
		ticker := time.NewTicker(cfg.Sync.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				swept, err := syncService.SweepStale(rootCtx, cfg.Sync.StaleAfter)
				if err != nil {
					log.Printf("⚠️ Stale session sweep failed: %v", err)
				} else if swept > 0 {
					log.Printf("🧹 Swept %d stale sync sessions", swept)
				}
			}
		}
	}()
	log.Println("✅ Stale session sweeper started")

	// 8. HTTP router
	router := handlers.NewRouter(db, cfg, syncService, packageService, courseService, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Sync server starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ Server shutdown error: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("⚠️ Database shutdown error: %v", err)
	}
	log.Println("👋 Shutdown complete")
}
