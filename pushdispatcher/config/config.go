package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// CredentialTTL is how long a variant's credentials stay cached.
	CredentialTTL time.Duration
	// SuppressionTTL is how long an invalid token is skipped.
	SuppressionTTL time.Duration
}

// APNSConfig overrides Apple's endpoints. Empty values use the development
// or production host for each request.
type APNSConfig struct {
	Host string
	Port int
}

type DispatchConfig struct {
	MaxInFlight        int64
	ConnectTimeout     time.Duration
	IdleTimeout        time.Duration
	SendTimeout        time.Duration
	MaxConnectAttempts uint64
	ConnectBackoff     time.Duration
	OutcomeTimeout     time.Duration
}

type ReportingConfig struct {
	MetricsTopicID      string
	InvalidTokenTopicID string
	PublishTimeout      time.Duration
}

type WebPushConfig struct {
	TTL int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	IdentityServiceURL     string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	APNS       APNSConfig
	WebPush    WebPushConfig
	Dispatch   DispatchConfig
	Reporting  ReportingConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "TOPIC_ID", "source", "env")
		cfg.TopicID = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityServiceURL = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// APNs endpoint overrides
	if val := os.Getenv("APNS_PUSH_HOST"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_PUSH_HOST", "source", "env")
		cfg.APNS.Host = val
	}
	if val := os.Getenv("APNS_PUSH_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("APNS_PUSH_PORT must be a number: %w", err)
		}
		logger.Debug("Overriding config value", "key", "APNS_PUSH_PORT", "source", "env")
		cfg.APNS.Port = port
	}

	// Dispatch tuning
	if val := os.Getenv("DISPATCH_MAX_IN_FLIGHT"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "DISPATCH_MAX_IN_FLIGHT", "source", "env")
			cfg.Dispatch.MaxInFlight = n
		}
	}
	if val := os.Getenv("DISPATCH_MAX_CONNECT_ATTEMPTS"); val != "" {
		if n, err := strconv.ParseUint(val, 10, 64); err == nil && n > 0 {
			logger.Debug("Overriding config value", "key", "DISPATCH_MAX_CONNECT_ATTEMPTS", "source", "env")
			cfg.Dispatch.MaxConnectAttempts = n
		}
	}

	// Reporting topics
	if val := os.Getenv("METRICS_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "METRICS_TOPIC_ID", "source", "env")
		cfg.Reporting.MetricsTopicID = val
	}
	if val := os.Getenv("INVALID_TOKEN_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "INVALID_TOKEN_TOPIC_ID", "source", "env")
		cfg.Reporting.InvalidTokenTopicID = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.APNS.Port < 0 || cfg.APNS.Port > 65535 {
		return nil, fmt.Errorf("apns port %d is out of range", cfg.APNS.Port)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.IdentityServiceURL == "" {
		cfg.IdentityServiceURL = "http://localhost:3000"
	}
	if cfg.Redis.CredentialTTL <= 0 {
		cfg.Redis.CredentialTTL = 24 * time.Hour
	}
	if cfg.Redis.SuppressionTTL <= 0 {
		cfg.Redis.SuppressionTTL = 7 * 24 * time.Hour
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
