package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type YamlRedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
}

type YamlFCMConfig struct {
	Mode          string        `yaml:"mode"`
	Endpoint      string        `yaml:"endpoint"`
	TokenURL      string        `yaml:"token_url"`
	Scope         string        `yaml:"scope"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	RefreshMargin time.Duration `yaml:"refresh_margin"`
}

type YamlStorageConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type YamlPubsubConfig struct {
	Enabled bool `yaml:"enabled"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string            `yaml:"project_id"`
	ListenAddr             string            `yaml:"listen_addr"`
	SecretKey              string            `yaml:"secret_key"`
	ServiceAccountPath     string            `yaml:"service_account_path"`
	DefaultDeviceInfo      string            `yaml:"default_device_info"`
	RegisterRateLimit      int               `yaml:"register_rate_limit"`
	ExposeTokenUpdate      bool              `yaml:"expose_token_update"`
	TopicID                string            `yaml:"topic_id"`
	SubscriptionID         string            `yaml:"subscription_id"`
	SubscriptionDLQTopicID string            `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int               `yaml:"num_pipeline_workers"`
	FCMConfig              YamlFCMConfig     `yaml:"fcm"`
	StorageConfig          YamlStorageConfig `yaml:"storage"`
	CorsConfig             YamlCorsConfig    `yaml:"cors"`
	RedisConfig            YamlRedisConfig   `yaml:"redis"`
	PubsubConfig           YamlPubsubConfig  `yaml:"pubsub"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		SecretKey:          baseCfg.SecretKey,
		ServiceAccountPath: baseCfg.ServiceAccountPath,
		DefaultDeviceInfo:  baseCfg.DefaultDeviceInfo,
		RegisterRateLimit:  baseCfg.RegisterRateLimit,
		ExposeTokenUpdate:  baseCfg.ExposeTokenUpdate,
		FCM: FCMConfig{
			Mode:          baseCfg.FCMConfig.Mode,
			Endpoint:      baseCfg.FCMConfig.Endpoint,
			TokenURL:      baseCfg.FCMConfig.TokenURL,
			Scope:         baseCfg.FCMConfig.Scope,
			HTTPTimeout:   baseCfg.FCMConfig.HTTPTimeout,
			RefreshMargin: baseCfg.FCMConfig.RefreshMargin,
		},
		Storage: StorageConfig{
			Driver:     baseCfg.StorageConfig.Driver,
			SQLitePath: baseCfg.StorageConfig.SQLitePath,
		},
		Cors: CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			TTL:      baseCfg.RedisConfig.TTL,
		},
		PubsubEnabled:          baseCfg.PubsubConfig.Enabled,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"storage_driver", cfg.Storage.Driver,
		"fcm_mode", cfg.FCM.Mode,
	)

	return cfg, nil
}
