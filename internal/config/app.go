package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"vaultchat/internal/logger"

	"github.com/sirupsen/logrus"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Upstream  UpstreamConfig
	Auth      AuthConfig
	WebSearch WebSearchConfig
	Models    *ModelsConfig
	Personas  *PersonaConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port string
	// Requests per second allowed through the API limiter, with burst headroom
	RequestsPerSecond float64
	RequestBurst      int
}

// DatabaseConfig holds record store connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// UpstreamConfig holds inference endpoint configuration
type UpstreamConfig struct {
	APIKey string
	// Referer and title sent to OpenAI-compatible gateways that ask for them
	Referer string
	Title   string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret       []byte
	TokenExpiration time.Duration
}

// WebSearchConfig holds the daily web-search quota
type WebSearchConfig struct {
	DailyLimit int
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	config := &AppConfig{}

	config.Server = ServerConfig{
		Port:              getEnvOrDefault("SERVER_PORT", "8080"),
		RequestsPerSecond: getEnvAsFloat("API_REQUESTS_PER_SECOND", 25),
		RequestBurst:      getEnvAsInt("API_REQUEST_BURST", 50),
	}

	config.Database = DatabaseConfig{
		Host:     getEnvOrDefault("DB_HOST", "postgres"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "postgres"),
		Password: getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:     getEnvOrDefault("DB_NAME", "vaultchat"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}

	apiKey := os.Getenv("UPSTREAM_API_KEY")
	if apiKey == "" {
		logger.Log.Warn("UPSTREAM_API_KEY environment variable not set")
	}
	config.Upstream = UpstreamConfig{
		APIKey:  apiKey,
		Referer: getEnvOrDefault("UPSTREAM_REFERER", "http://localhost:3000"),
		Title:   getEnvOrDefault("UPSTREAM_TITLE", "Vaultchat"),
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters (current length: %d)", len(jwtSecret))
	}
	config.Auth = AuthConfig{
		JWTSecret:       []byte(jwtSecret),
		TokenExpiration: getEnvAsDuration("JWT_TOKEN_EXPIRATION", 24*time.Hour),
	}

	config.WebSearch = WebSearchConfig{
		DailyLimit: getEnvAsInt("WEB_SEARCH_DAILY_LIMIT", 20),
	}

	modelsConfigPath := getEnvOrDefault("MODELS_CONFIG_PATH", filepath.Join("config", "models.json"))
	modelsConfig, err := NewModelsConfig(modelsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load models config: %w", err)
	}
	config.Models = modelsConfig

	personasPath := os.Getenv("PERSONAS_CONFIG_PATH")
	personas, err := NewPersonaConfig(personasPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load personas config: %w", err)
	}
	config.Personas = personas

	return config, nil
}

// GetDSN returns the record store connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}
