package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/applyflow/applyflow/internal/api"
	"github.com/applyflow/applyflow/internal/auth"
	"github.com/applyflow/applyflow/internal/browser"
	"github.com/applyflow/applyflow/internal/checkpoint"
	"github.com/applyflow/applyflow/internal/notify"
	"github.com/applyflow/applyflow/internal/ratelimit"
	"github.com/applyflow/applyflow/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting ApplyFlow session service...")

	dataRoot := envOr("DATA_ROOT", "./storage/profiles")
	listenAddr := ":" + envOr("PORT", "8080")

	profiles, err := browser.NewProfiles(dataRoot)
	if err != nil {
		log.Fatalf("Failed to create profile store: %v", err)
	}
	log.Println("✓ Profile store ready at", dataRoot)

	pool, err := browser.NewPool()
	if err != nil {
		log.Fatalf("Failed to create browser pool: %v", err)
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	log.Println("⏳ Ensuring Chrome image is available...")
	if err := pool.EnsureImage(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to ensure Chrome image: %v", err)
	}
	cancel()
	log.Println("✓ Chrome image ready")

	store := checkpoint.NewStore()
	hub := notify.NewHub(200)
	limiter := ratelimit.NewLimiter(100, 10)

	sessionMgr := session.NewManager(
		&session.ChromeLauncher{Pool: pool, Profiles: profiles},
		store,
		hub,
		session.DefaultConfig(),
	)
	log.Println("✓ Session manager initialized")

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	sessionMgr.StartIdleSweeper(rootCtx, time.Minute)

	sessionHandler := api.NewSessionHandler(sessionMgr, auth.NewHeaderAuthenticator())
	checkpointHandler := api.NewCheckpointHandler(sessionMgr, store)
	router := api.SetupRoutes(sessionHandler, checkpointHandler, hub, limiter, auth.NewHeaderAuthenticator())
	log.Println("✓ HTTP routes configured")

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("🚀 Session service listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("⏳ Shutting down gracefully...")
	stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("✓ Server stopped cleanly")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
