package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the support-chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// Origins allowed to call the chat API with credentials (cookies).
	AllowedOrigins []string

	SessionTTL      time.Duration
	HistoryMaxTurns int

	// Bound applied to each external call within a turn.
	ExternalCallTimeout time.Duration

	OpenAIAPIKey        string
	OpenAIModel         string
	OpenAIFallbackModel string

	AirtableAPIKey  string
	AirtableBaseID  string
	AirtableBaseURL string
	AirtableTable   string
	AirtableFields  AirtableFields

	EscalationWebhookURL string
	EscalationRecipient  string

	ContentDir            string
	ContentReloadInterval time.Duration

	TurnLogDir       string
	TurnLogRetention time.Duration
	AppLogFile       string

	DatabaseURL string
}

// AirtableFields maps logical order fields to Airtable column names.
type AirtableFields struct {
	OrderID     string
	Email       string
	Phone       string
	Status      string
	LastUpdate  string
	InvoiceURL  string
	DeliveryURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "supportchat"),
		AllowedOrigins:   splitList(envOrDefault("APP_ALLOWED_ORIGINS", "https://rollupim.co.il")),

		OpenAIAPIKey:        stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:         envOrDefault("OPENAI_MODEL", "gpt-5"),
		OpenAIFallbackModel: envOrDefault("OPENAI_FALLBACK_MODEL", "gpt-4o-mini"),

		AirtableAPIKey:  stringsTrimSpace("AIRTABLE_API_KEY"),
		AirtableBaseID:  stringsTrimSpace("AIRTABLE_BASE_ID"),
		AirtableBaseURL: envOrDefault("AIRTABLE_BASE_URL", "https://api.airtable.com/v0"),
		AirtableTable:   envOrDefault("AIRTABLE_TABLE_ORDERS", "Orders"),
		AirtableFields: AirtableFields{
			OrderID:     envOrDefault("AIRTABLE_F_ORDER_ID", "Order ID"),
			Email:       envOrDefault("AIRTABLE_F_EMAIL", "Email"),
			Phone:       envOrDefault("AIRTABLE_F_PHONE", "Phone"),
			Status:      envOrDefault("AIRTABLE_F_STATUS", "Status"),
			LastUpdate:  envOrDefault("AIRTABLE_F_LAST_UPDATE", "Last Update"),
			InvoiceURL:  envOrDefault("AIRTABLE_F_INVOICE_URL", "Invoice URL"),
			DeliveryURL: envOrDefault("AIRTABLE_F_DELIVERY_URL", "Delivery Cert URL"),
		},

		EscalationWebhookURL: stringsTrimSpace("ESCALATION_WEBHOOK_URL"),
		EscalationRecipient:  stringsTrimSpace("ESCALATION_RECIPIENT"),

		ContentDir: envOrDefault("APP_CONTENT_DIR", "content"),
		TurnLogDir: envOrDefault("APP_TURN_LOG_DIR", "logs"),
		AppLogFile: envOrDefault("APP_LOG_FILE", "logs/supportchat.log"),

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),

		ShutdownTimeout:       15 * time.Second,
		SessionTTL:            30 * time.Minute,
		HistoryMaxTurns:       10,
		ExternalCallTimeout:   25 * time.Second,
		ContentReloadInterval: time.Minute,
		TurnLogRetention:      30 * 24 * time.Hour,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("APP_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.ExternalCallTimeout, err = durationFromEnv("APP_EXTERNAL_CALL_TIMEOUT", cfg.ExternalCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ContentReloadInterval, err = durationFromEnv("APP_CONTENT_RELOAD_INTERVAL", cfg.ContentReloadInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnLogRetention, err = durationFromEnv("APP_TURN_LOG_RETENTION", cfg.TurnLogRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMaxTurns, err = intFromEnv("APP_HISTORY_MAX_TURNS", cfg.HistoryMaxTurns)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTTL < time.Minute {
		return Config{}, fmt.Errorf("APP_SESSION_TTL must be at least 1m")
	}
	if cfg.HistoryMaxTurns <= 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_MAX_TURNS must be positive")
	}
	if cfg.ExternalCallTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_EXTERNAL_CALL_TIMEOUT must be at least 1s")
	}
	if cfg.ContentReloadInterval < 5*time.Second {
		return Config{}, fmt.Errorf("APP_CONTENT_RELOAD_INTERVAL must be at least 5s")
	}
	if cfg.TurnLogRetention < 24*time.Hour {
		return Config{}, fmt.Errorf("APP_TURN_LOG_RETENTION must be at least 24h")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
