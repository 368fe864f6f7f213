package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	LocationTTL   time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool
	MigrationsDir string

	JWTSecret string
	TokenTTL  time.Duration

	// IdentityProvider selects the verification backend: "stub" for the
	// deterministic offline variant, otherwise a provider name
	// ("cashfree", "signzy", "surepass"). The choice is made once here
	// and handed to the facade at construction, never read at call time.
	IdentityProvider string
	IdentityBaseURL  string
	IdentityClientID string
	IdentitySecret   string
	IdentityTimeout  time.Duration

	NotifyWebhook string

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		LocationTTL:      6 * time.Hour,
		KafkaTopic:       "live-locations",
		MigrationsDir:    "migrations",
		JWTSecret:        "dev-only-secret",
		TokenTTL:         24 * time.Hour,
		IdentityProvider: "stub",
		IdentityTimeout:  30 * time.Second,
		LogLevel:         "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.LocationTTL, "LOCATION_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")
	setStringFromEnv(&cfg.MigrationsDir, "MIGRATIONS_DIR")

	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setDurationFromEnv(&cfg.TokenTTL, "TOKEN_TTL", &errs)

	if v := strings.TrimSpace(os.Getenv("IDENTITY_PROVIDER")); v != "" {
		cfg.IdentityProvider = strings.ToLower(v)
	}
	setStringFromEnv(&cfg.IdentityBaseURL, "IDENTITY_BASE_URL")
	setStringFromEnv(&cfg.IdentityClientID, "IDENTITY_CLIENT_ID")
	cfg.IdentitySecret = os.Getenv("IDENTITY_SECRET")
	setDurationFromEnv(&cfg.IdentityTimeout, "IDENTITY_TIMEOUT", &errs)

	setStringFromEnv(&cfg.NotifyWebhook, "NOTIFY_WEBHOOK")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.IdentityProvider != "stub" && cfg.IdentityClientID == "" {
		errs = append(errs, fmt.Errorf("IDENTITY_CLIENT_ID required for provider %q", cfg.IdentityProvider))
	}
	if cfg.IdentityTimeout <= 0 {
		errs = append(errs, fmt.Errorf("IDENTITY_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
