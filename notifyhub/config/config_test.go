package config_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notifyhub/notifyhub/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ListenAddr:         ":8080",
			SecretKey:          "base-secret",
			ServiceAccountPath: "/etc/notifyhub/sa.json",
			NumPipelineWorkers: 2,
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("NOTIFYHUB_SECRET_KEY", "env-secret")
		t.Setenv("FCM_SERVICE_ACCOUNT_JSON", "/env/sa.json")
		t.Setenv("FCM_MODE", "sdk")
		t.Setenv("FCM_HTTP_TIMEOUT", "3s")
		t.Setenv("STORAGE_DRIVER", "firestore")
		t.Setenv("SUBSCRIPTION_ID", "env-sub")
		t.Setenv("PUBSUB_ENABLED", "true")
		t.Setenv("REDIS_ADDR", "localhost:6380")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
		t.Setenv("REGISTER_RATE_LIMIT", "30")
		t.Setenv("EXPOSE_TOKEN_UPDATE", "true")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "env-secret", finalCfg.SecretKey)
		assert.Equal(t, "/env/sa.json", finalCfg.ServiceAccountPath)
		assert.Equal(t, config.FCMModeSDK, finalCfg.FCM.Mode)
		assert.Equal(t, 3*time.Second, finalCfg.FCM.HTTPTimeout)
		assert.Equal(t, config.StorageFirestore, finalCfg.Storage.Driver)
		assert.True(t, finalCfg.PubsubEnabled)
		assert.Equal(t, "env-sub", finalCfg.SubscriptionID)
		require.NotNil(t, finalCfg.PubsubConsumerConfig)
		assert.Equal(t, "env-sub", finalCfg.PubsubConsumerConfig.SubscriptionID)
		assert.True(t, finalCfg.Redis.Enabled)
		assert.Equal(t, "localhost:6380", finalCfg.Redis.Addr)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, finalCfg.Cors.AllowedOrigins)
		assert.Equal(t, 30, finalCfg.RegisterRateLimit)
		assert.True(t, finalCfg.ExposeTokenUpdate)
	})

	t.Run("Success - Defaults filled", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)

		assert.Equal(t, config.StorageSQLite, finalCfg.Storage.Driver)
		assert.Equal(t, "notifyhub.db", finalCfg.Storage.SQLitePath)
		assert.Equal(t, config.FCMModeHTTP, finalCfg.FCM.Mode)
		assert.Equal(t, 10*time.Second, finalCfg.FCM.HTTPTimeout)
		assert.Equal(t, time.Minute, finalCfg.FCM.RefreshMargin)
		assert.Equal(t, 24*time.Hour, finalCfg.Redis.TTL)
		assert.Equal(t, "Unknown device", finalCfg.DefaultDeviceInfo)
		assert.Equal(t, []string{"*"}, finalCfg.Cors.AllowedOrigins)
		assert.Equal(t, 2, finalCfg.NumPipelineWorkers)
	})

	t.Run("Validation Failure - Missing secret", func(t *testing.T) {
		t.Setenv("NOTIFYHUB_SECRET_KEY", "")
		_, err := config.UpdateConfigWithEnvOverrides(&config.Config{}, logger)
		assert.ErrorContains(t, err, "secret_key")
	})

	t.Run("Validation Failure - Firestore without project", func(t *testing.T) {
		t.Setenv("PROJECT_ID", "")
		cfg := baseConfig()
		cfg.Storage.Driver = config.StorageFirestore
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "project_id")
	})

	t.Run("Validation Failure - Pubsub without subscription", func(t *testing.T) {
		t.Setenv("SUBSCRIPTION_ID", "")
		cfg := baseConfig()
		cfg.ProjectID = "p"
		cfg.PubsubEnabled = true
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "subscription_id")
	})

	t.Run("Validation Failure - Unknown modes", func(t *testing.T) {
		cfg := baseConfig()
		cfg.FCM.Mode = "legacy"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "fcm mode")

		cfg = baseConfig()
		cfg.Storage.Driver = "mysql"
		_, err = config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.ErrorContains(t, err, "storage driver")
	})
}
