package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

const (
	StorageSQLite    = "sqlite"
	StorageFirestore = "firestore"

	FCMModeHTTP = "http"
	FCMModeSDK  = "sdk"
)

type FCMConfig struct {
	Mode          string
	Endpoint      string
	TokenURL      string
	Scope         string
	HTTPTimeout   time.Duration
	RefreshMargin time.Duration
}

type StorageConfig struct {
	Driver     string
	SQLitePath string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type CorsConfig struct {
	AllowedOrigins []string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID          string
	ListenAddr         string
	SecretKey          string
	ServiceAccountPath string
	DefaultDeviceInfo  string
	RegisterRateLimit  int
	ExposeTokenUpdate  bool

	FCM     FCMConfig
	Storage StorageConfig
	Cors    CorsConfig
	Redis   RedisConfig

	PubsubEnabled          bool
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	// 1. Apply Environment Overrides
	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })
	override("NOTIFYHUB_SECRET_KEY", func(v string) { cfg.SecretKey = v })
	override("FCM_SERVICE_ACCOUNT_JSON", func(v string) { cfg.ServiceAccountPath = v })
	override("FCM_MODE", func(v string) { cfg.FCM.Mode = v })
	override("FCM_ENDPOINT", func(v string) { cfg.FCM.Endpoint = v })
	override("FCM_TOKEN_URL", func(v string) { cfg.FCM.TokenURL = v })
	override("FCM_HTTP_TIMEOUT", func(v string) {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.FCM.HTTPTimeout = d
		}
	})
	override("STORAGE_DRIVER", func(v string) { cfg.Storage.Driver = v })
	override("SQLITE_DB_PATH", func(v string) { cfg.Storage.SQLitePath = v })
	override("REGISTER_RATE_LIMIT", func(v string) {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RegisterRateLimit = n
		}
	})
	override("EXPOSE_TOKEN_UPDATE", func(v string) {
		cfg.ExposeTokenUpdate, _ = strconv.ParseBool(v)
	})

	// Pub/Sub Overrides
	override("PUBSUB_ENABLED", func(v string) {
		cfg.PubsubEnabled, _ = strconv.ParseBool(v)
	})
	override("SUBSCRIPTION_ID", func(v string) {
		cfg.SubscriptionID = v
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(v)
	})
	override("SUBSCRIPTION_DLQ_TOPIC_ID", func(v string) { cfg.SubscriptionDLQTopicID = v })
	override("NUM_PIPELINE_WORKERS", func(v string) {
		if workers, err := strconv.Atoi(v); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	})

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

	// CORS Overrides
	override("CORS_ALLOWED_ORIGINS", func(v string) {
		var cleanOrigins []string
		for _, o := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.Cors.AllowedOrigins = cleanOrigins
	})

	applyDefaults(cfg)

	// 2. Final Validation
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("secret_key is required (set via YAML or NOTIFYHUB_SECRET_KEY env var)")
	}
	switch cfg.Storage.Driver {
	case StorageSQLite:
	case StorageFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the firestore storage driver")
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q (want %s or %s)", cfg.Storage.Driver, StorageSQLite, StorageFirestore)
	}
	if cfg.FCM.Mode != FCMModeHTTP && cfg.FCM.Mode != FCMModeSDK {
		return nil, fmt.Errorf("unknown fcm mode %q (want %s or %s)", cfg.FCM.Mode, FCMModeHTTP, FCMModeSDK)
	}
	if cfg.PubsubEnabled {
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required when pubsub is enabled")
		}
		if cfg.SubscriptionID == "" {
			return nil, fmt.Errorf("subscription_id is required when pubsub is enabled (set via YAML or SUBSCRIPTION_ID env var)")
		}
	}
	if cfg.ServiceAccountPath == "" {
		// Not fatal: registration still works, sends fail with a credential error.
		logger.Warn("No FCM service account configured; sends will fail")
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageSQLite
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "notifyhub.db"
	}
	if cfg.FCM.Mode == "" {
		cfg.FCM.Mode = FCMModeHTTP
	}
	if cfg.FCM.HTTPTimeout <= 0 {
		cfg.FCM.HTTPTimeout = 10 * time.Second
	}
	if cfg.FCM.RefreshMargin <= 0 {
		cfg.FCM.RefreshMargin = time.Minute
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.DefaultDeviceInfo == "" {
		cfg.DefaultDeviceInfo = "Unknown device"
	}
	if len(cfg.Cors.AllowedOrigins) == 0 {
		cfg.Cors.AllowedOrigins = []string{"*"}
	}
}
