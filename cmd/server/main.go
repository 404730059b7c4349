package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdg-garage/camp-registration-api/internal/auth"
	"github.com/gdg-garage/camp-registration-api/internal/config"
	"github.com/gdg-garage/camp-registration-api/internal/database"
	"github.com/gdg-garage/camp-registration-api/internal/handlers"
	"github.com/gdg-garage/camp-registration-api/internal/notifier"
	"github.com/gdg-garage/camp-registration-api/internal/registration"
	"github.com/gdg-garage/camp-registration-api/internal/store"
	"github.com/gdg-garage/camp-registration-api/internal/telemetry"
	"github.com/go-chi/chi/v5"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load Configuration
	cfg := config.LoadConfig()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Printf("Telemetry not initialized: %v", err)
	}
	defer shutdownTelemetry(context.Background())

	// Connect to Database
	db := database.Connect(cfg)
	st := store.New(db)

	var n notifier.Notifier = notifier.LogNotifier{}
	if discordNotifier, err := notifier.NewDiscordNotifier(cfg); err != nil {
		log.Printf("Discord notifier not initialized, logging notifications instead: %v", err)
	} else {
		n = discordNotifier
	}

	authManager := auth.NewManager(st, st, auth.NewBcryptVerifier(cfg.BcryptCost), auth.SettingsFromConfig(cfg),
		auth.WithNotifier(n))
	registrationManager := registration.NewManager(st, registration.WithNotifier(n))

	if password, created, err := authManager.Bootstrap(ctx, cfg.BootstrapAdminEmail); err != nil {
		log.Fatalf("Failed to bootstrap admin account: %v", err)
	} else if created {
		log.Printf("Created superadmin %s with temporary password %s", cfg.BootstrapAdminEmail, password)
	}

	go authManager.RunSessionSweeper(ctx, cfg.SessionCleanupInterval)

	// Initialize Handlers
	authHandler := auth.NewAuthHandler(cfg, authManager)
	registrationHandler := handlers.NewRegistrationHandler(registrationManager, authHandler)
	adminHandler := handlers.NewAdminHandler(st, st, authHandler)

	// Initialize Router
	r := chi.NewRouter()
	handlers.RegisterRoutes(r, authHandler, registrationHandler, adminHandler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown: %v", err)
		}
	}()

	// Start Server
	log.Printf("Starting server on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}
