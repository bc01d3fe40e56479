package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	SinkFile  = "file"
	SinkStore = "store"

	BackendLocal = "local"
	BackendAzure = "azure"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Credentials
	TwitterBearerToken string

	// Target
	TargetAccount string

	// Scheduling
	EnableHourlySnapshot bool
	EnableRealtimePoll   bool
	PollIntervalSeconds  int
	MaxSearchPages       int

	// Persistence
	Sink            string // "file" or "store"
	OutputFile      string
	DocumentBackend string // "local" or "azure"

	// Azure Storage configuration
	StorageAccount   string
	StorageContainer string

	// Relational store
	StoreURL string
	StoreKey string

	// Optional durable watermark
	WatermarkRedisURL string

	// Notification configuration
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		TwitterBearerToken: getEnv("TWITTER_BEARER_TOKEN", ""),
		TargetAccount:      strings.TrimPrefix(getEnv("TARGET_ACCOUNT", "pnpexchange"), "@"),

		// Only the literal "false" turns a job off.
		EnableHourlySnapshot: os.Getenv("ENABLE_HOURLY_SNAPSHOT") != "false",
		EnableRealtimePoll:   os.Getenv("ENABLE_REALTIME_POLL") != "false",
		PollIntervalSeconds:  getIntEnv("POLL_INTERVAL_SECONDS", 15),
		MaxSearchPages:       getIntEnv("MAX_SEARCH_PAGES", 5),

		Sink:            strings.ToLower(getEnv("SINK", SinkFile)),
		OutputFile:      getEnv("OUTPUT_FILE", "mentions.json"),
		DocumentBackend: strings.ToLower(getEnv("DOCUMENT_BACKEND", BackendLocal)),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "mentions"),

		StoreURL: getEnv("STORE_URL", ""),
		StoreKey: getEnv("STORE_KEY", ""),

		WatermarkRedisURL: getEnv("WATERMARK_REDIS_URL", ""),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.TwitterBearerToken == "" {
		return fmt.Errorf("TWITTER_BEARER_TOKEN is required")
	}

	if c.TargetAccount == "" {
		return fmt.Errorf("TARGET_ACCOUNT must not be empty")
	}

	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be a positive integer")
	}

	if c.MaxSearchPages < 1 {
		return fmt.Errorf("MAX_SEARCH_PAGES must be a positive integer")
	}

	switch c.Sink {
	case SinkFile:
		if c.DocumentBackend != BackendLocal && c.DocumentBackend != BackendAzure {
			return fmt.Errorf("DOCUMENT_BACKEND must be 'local' or 'azure'")
		}
		if c.DocumentBackend == BackendAzure && c.StorageAccount == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT is required when DOCUMENT_BACKEND is 'azure'")
		}
	case SinkStore:
		if err := c.ValidateStore(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("SINK must be 'file' or 'store'")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// ValidateStore checks the relational store settings.
func (c *Config) ValidateStore() error {
	if c.StoreURL == "" || c.StoreKey == "" {
		return fmt.Errorf("STORE_URL and STORE_KEY are required when SINK is 'store'")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
