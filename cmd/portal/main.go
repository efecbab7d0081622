package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/applyflow/applyflow/internal/auth"
	"github.com/applyflow/applyflow/internal/browser"
	"github.com/applyflow/applyflow/internal/portal"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	log.Println("Starting ApplyFlow checkpoint portal...")

	dataRoot := envOr("DATA_ROOT", "./storage/profiles")
	listenAddr := ":" + envOr("PORTAL_PORT", "8090")

	displayCfg := portal.DefaultDisplayConfig()
	displayCfg.Num = envIntOr("DISPLAY_NUM", displayCfg.Num)
	displayCfg.VNCPort = envIntOr("VNC_PORT", displayCfg.VNCPort)
	displayCfg.WSPort = envIntOr("NOVNC_PORT", displayCfg.WSPort)

	display, err := portal.StartDisplay(displayCfg)
	if err != nil {
		log.Fatalf("Failed to start display stack: %v", err)
	}
	defer display.Stop()
	log.Println("✓ Display stack ready on", display.Name())

	profiles, err := browser.NewProfiles(dataRoot)
	if err != nil {
		log.Fatalf("Failed to create profile store: %v", err)
	}
	log.Println("✓ Profile store ready at", dataRoot)

	launcher := &portal.ChromeLauncher{Profiles: profiles, Display: display.Name()}
	mgr := portal.NewManager(launcher, 10*time.Minute)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	mgr.StartSweeper(rootCtx, 30*time.Second)

	server := portal.NewServer(mgr, auth.NewHeaderAuthenticator(), display.WSPort())
	log.Println("✓ Portal routes configured")

	srv := &http.Server{
		Addr:         listenAddr,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("🚀 Checkpoint portal listening on %s", listenAddr)
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

	log.Println("✓ Portal stopped cleanly")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}
