package main

import (
	"net/http"

	"vaultchat/internal/api"
	"vaultchat/internal/api/handlers"
	"vaultchat/internal/app"
	"vaultchat/internal/auth"
	"vaultchat/internal/config"
	"vaultchat/internal/logger"
	"vaultchat/internal/store"
	"vaultchat/internal/store/postgres"

	"github.com/joho/godotenv"
)

func main() {
	// Optional in production; the container env usually carries everything.
	if err := godotenv.Load(); err != nil {
		logger.Log.Debug("No .env file found, relying on environment")
	}

	appConfig, err := config.LoadConfig()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load configuration")
	}

	recordStore, err := postgres.NewPostgresStore(appConfig.Database)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize record store")
	}
	defer recordStore.Close()

	cfg := app.NewConfig(recordStore, appConfig)

	authService := auth.New(appConfig.Auth, store.NewUsers(recordStore))
	chatHandlers := handlers.NewChatHandlers(cfg)
	router := api.NewRouter(cfg, authService, chatHandlers)

	addr := ":" + appConfig.Server.Port
	logger.Log.WithField("addr", addr).Info("Starting server")
	if err := http.ListenAndServe(addr, router); err != nil {
		logger.Log.WithError(err).Fatal("Server failed")
	}
}
