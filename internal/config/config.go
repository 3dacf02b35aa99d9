package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the console
type Config struct {
	// Backend
	APIOrigin  string
	Production bool

	// Mode
	Debug   bool
	DebugWS bool
	DryRun  bool

	// WebSocket reconnect tuning
	WSMaxReconnectAttempts int
	WSBaseReconnectDelay   time.Duration
	WSReconnectGrowth      float64

	// Telemetry cadence
	HeartbeatInterval time.Duration
	HealthInterval    time.Duration

	// Wallet
	AutoConnect     bool
	WalletBridgeURL string // EVM provider bridge endpoint
	SolanaBridgeURL string // Phantom/Solflare provider bridge endpoint

	// Telegram alerts
	TelegramToken  string
	TelegramChatID int64

	// Local hint store
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Backend
		APIOrigin:  getEnv("SNIPER_API_ORIGIN", "http://localhost:8001"),
		Production: getEnvBool("SNIPER_PRODUCTION", false),

		// Mode
		Debug:   getEnvBool("DEBUG", false),
		DebugWS: getEnvBool("SNIPER_WS_DEBUG", false),
		DryRun:  getEnvBool("DRY_RUN", false),

		// WebSocket reconnect tuning
		WSMaxReconnectAttempts: getEnvInt("SNIPER_WS_MAX_RECONNECTS", 5),
		WSBaseReconnectDelay:   getEnvDuration("SNIPER_WS_BASE_DELAY", 5*time.Second),
		WSReconnectGrowth:      getEnvFloat("SNIPER_WS_GROWTH", 1.5),

		// Telemetry cadence
		HeartbeatInterval: getEnvDuration("SNIPER_HEARTBEAT_INTERVAL", 30*time.Second),
		HealthInterval:    getEnvDuration("SNIPER_HEALTH_INTERVAL", 30*time.Second),

		// Wallet
		AutoConnect:     getEnvBool("SNIPER_WALLET_AUTOCONNECT", false),
		WalletBridgeURL: os.Getenv("SNIPER_WALLET_BRIDGE_URL"),
		SolanaBridgeURL: os.Getenv("SNIPER_SOLANA_BRIDGE_URL"),

		// Telegram alerts
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Local hint store
		DatabasePath: getEnv("DATABASE_PATH", "data/snipectl.db"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if cfg.WSReconnectGrowth < 1.5 || cfg.WSReconnectGrowth > 2.0 {
		return nil, fmt.Errorf("SNIPER_WS_GROWTH must be within [1.5, 2.0], got %v", cfg.WSReconnectGrowth)
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
