package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all process-level configuration. Application settings that
// operators change at runtime live in the settings file instead (see the
// settings package).
type Config struct {
	Port         string
	Env          string
	DataDir      string // roster, state file, ledgers, credential file
	SettingsPath string
	SQLitePath   string
	DatabaseURL  string // switches the archive store to Postgres when set
	RedisURL     string // enables rate limiting when set

	AdminKey     string // plaintext admin key, hashed at startup
	AdminKeyHash string // bcrypt hash, takes precedence over AdminKey
	CredSecret   string // seals the credential file at rest when set

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations

	NotifyEnabled bool // desktop notifications for guards, super chats, draws
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENV", "development"),
		DataDir:      getEnv("DATA_DIR", "./data"),
		SettingsPath: getEnv("SETTINGS_PATH", "./config.json"),
		SQLitePath:   getEnv("SQLITE_PATH", "./data/archive.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		AdminKey:     os.Getenv("ADMIN_KEY"),
		AdminKeyHash: os.Getenv("ADMIN_KEY_HASH"),
		CredSecret:   os.Getenv("CRED_SECRET"),

		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
		NotifyEnabled:    getEnv("NOTIFY_ENABLED", "false") == "true",
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require an admin key so mutating routes are never open
	if cfg.Env == "production" {
		if cfg.AdminKey == "" && cfg.AdminKeyHash == "" {
			panic("ADMIN_KEY or ADMIN_KEY_HASH is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
