package app

import (
	"vaultchat/internal/config"
	"vaultchat/internal/store"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Record store used for all persistence
	Store store.Store
	// Centralized application configuration
	AppConfig *config.AppConfig
}

// NewConfig creates a new application configuration
func NewConfig(s store.Store, appConfig *config.AppConfig) *Config {
	return &Config{
		Store:     s,
		AppConfig: appConfig,
	}
}
