package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	Enabled        bool          `yaml:"enabled"`
	CredentialTTL  time.Duration `yaml:"credential_ttl"`
	SuppressionTTL time.Duration `yaml:"suppression_ttl"`
}

type YamlAPNSConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type YamlWebPushConfig struct {
	TTL int `yaml:"ttl"`
}

type YamlDispatchConfig struct {
	MaxInFlight        int64         `yaml:"max_in_flight"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	SendTimeout        time.Duration `yaml:"send_timeout"`
	MaxConnectAttempts uint64        `yaml:"max_connect_attempts"`
	ConnectBackoff     time.Duration `yaml:"connect_backoff"`
	OutcomeTimeout     time.Duration `yaml:"outcome_timeout"`
}

type YamlReportingConfig struct {
	MetricsTopicID      string        `yaml:"metrics_topic_id"`
	InvalidTokenTopicID string        `yaml:"invalid_token_topic_id"`
	PublishTimeout      time.Duration `yaml:"publish_timeout"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	IdentityServiceURL     string              `yaml:"identity_service_url"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	APNSConfig             YamlAPNSConfig      `yaml:"apns"`
	WebPushConfig          YamlWebPushConfig   `yaml:"webpush"`
	DispatchConfig         YamlDispatchConfig  `yaml:"dispatch"`
	ReportingConfig        YamlReportingConfig `yaml:"reporting"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		TopicID:            baseCfg.TopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		IdentityServiceURL: baseCfg.IdentityServiceURL,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:           baseCfg.RedisConfig.Addr,
			Password:       baseCfg.RedisConfig.Password,
			DB:             baseCfg.RedisConfig.DB,
			Enabled:        baseCfg.RedisConfig.Enabled,
			CredentialTTL:  baseCfg.RedisConfig.CredentialTTL,
			SuppressionTTL: baseCfg.RedisConfig.SuppressionTTL,
		},
		APNS: APNSConfig{
			Host: baseCfg.APNSConfig.Host,
			Port: baseCfg.APNSConfig.Port,
		},
		WebPush: WebPushConfig{
			TTL: baseCfg.WebPushConfig.TTL,
		},
		Dispatch: DispatchConfig{
			MaxInFlight:        baseCfg.DispatchConfig.MaxInFlight,
			ConnectTimeout:     baseCfg.DispatchConfig.ConnectTimeout,
			IdleTimeout:        baseCfg.DispatchConfig.IdleTimeout,
			SendTimeout:        baseCfg.DispatchConfig.SendTimeout,
			MaxConnectAttempts: baseCfg.DispatchConfig.MaxConnectAttempts,
			ConnectBackoff:     baseCfg.DispatchConfig.ConnectBackoff,
			OutcomeTimeout:     baseCfg.DispatchConfig.OutcomeTimeout,
		},
		Reporting: ReportingConfig{
			MetricsTopicID:      baseCfg.ReportingConfig.MetricsTopicID,
			InvalidTokenTopicID: baseCfg.ReportingConfig.InvalidTokenTopicID,
			PublishTimeout:      baseCfg.ReportingConfig.PublishTimeout,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
