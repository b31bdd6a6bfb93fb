package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/medchain-server/internal/api"
	"github.com/rongwang/medchain-server/internal/config"
	"github.com/rongwang/medchain-server/internal/crypto"
	"github.com/rongwang/medchain-server/internal/service"
	"github.com/rongwang/medchain-server/internal/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()
	logger := utils.NewLogger(cfg.Log.Level)

	// Open the keyed store
	repo, err := config.OpenRepository(cfg)
	if err != nil {
		logger.Error(err, "failed to open %s store", cfg.Store.Driver)
		os.Exit(1)
	}
	defer repo.Close()

	hasher, err := crypto.NewPasswordHasher(cfg.Auth.PasswordScheme)
	if err != nil {
		logger.Error(err, "invalid password scheme")
		os.Exit(1)
	}

	// Create service
	svc := service.NewDefaultService(repo, service.Options{
		JWTSecret:     cfg.Auth.JWTSecret,
		TokenDuration: cfg.Auth.TokenTTL,
		Hasher:        hasher,
		AppendRetries: cfg.Ledger.AppendRetries,
		Logger:        logger.With("component", "service"),
	})

	// Create API handler
	handler := api.NewHandler(svc, cfg.Auth.JWTSecret, logger.With("component", "api"))

	// Set up Gin router
	router := gin.Default()
	handler.SetupRoutes(router)

	// Start server
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("starting server on %s (store: %s)", serverAddr, cfg.Store.Driver)
	if err := http.ListenAndServe(serverAddr, router); err != nil {
		logger.Error(err, "server stopped")
		os.Exit(1)
	}
}
