package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	firebase "firebase.google.com/go/v4"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-notifyhub/internal/credential"
	"github.com/tinywideclouds/go-notifyhub/internal/metrics"
	"github.com/tinywideclouds/go-notifyhub/internal/platform/fcm"
	"github.com/tinywideclouds/go-notifyhub/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-notifyhub/internal/storage/firestore"
	"github.com/tinywideclouds/go-notifyhub/internal/storage/sqlite"
	"github.com/tinywideclouds/go-notifyhub/notifyhub"
	"github.com/tinywideclouds/go-notifyhub/notifyhub/config"
	"github.com/tinywideclouds/go-notifyhub/pkg/dispatch"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "notifyhub")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// --- Device Store (Decorated) ---
	store, closeStore, err := newDeviceStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Device store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.NewCachedDeviceStore(store, redisClient, cfg.Redis.TTL, logger)
		logger.Info("DeviceStore upgraded", "type", "redis_cached_"+cfg.Storage.Driver)
	}

	// --- Credentials & Dispatcher ---
	broker := credential.NewBroker(credential.Config{
		ServiceAccountPath: cfg.ServiceAccountPath,
		TokenURL:           cfg.FCM.TokenURL,
		Scope:              cfg.FCM.Scope,
		Timeout:            cfg.FCM.HTTPTimeout,
		RefreshMargin:      cfg.FCM.RefreshMargin,
	}, logger)

	dispatcher, err := newDispatcher(ctx, cfg, broker, logger)
	if err != nil {
		logger.Error("Dispatcher failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.PubsubEnabled {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Ingestion consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := notifyhub.New(cfg, notifyhub.Dependencies{
		Store:      store,
		Tokens:     broker,
		Dispatcher: dispatcher,
		Consumer:   consumer,
		Metrics:    promhttp.Handler(),
	}, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "addr", cfg.ListenAddr, "storage", cfg.Storage.Driver, "fcm_mode", cfg.FCM.Mode)
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newDeviceStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dispatch.DeviceStore, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		logger.Info("DeviceStore initialized", "type", "firestore")
		return fsStore.NewFirestoreStore(fsClient), closer(fsClient, logger), nil
	default:
		// A single connection keeps SQLite writers serialized.
		s, err := sqlite.NewStore(ctx, sqlite.Config{Path: cfg.Storage.SQLitePath, MaxOpenConns: 1, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("DeviceStore initialized", "type", "sqlite", "path", cfg.Storage.SQLitePath)
		return s, closer(s, logger), nil
	}
}

func closer(c io.Closer, logger *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			logger.Warn("Close failed", "err", err)
		}
	}
}

func newDispatcher(ctx context.Context, cfg *config.Config, broker *credential.Broker, logger *slog.Logger) (dispatch.Dispatcher, error) {
	if cfg.FCM.Mode != config.FCMModeSDK {
		opts := []fcm.HTTPOption{fcm.WithTimeout(cfg.FCM.HTTPTimeout)}
		if cfg.FCM.Endpoint != "" {
			opts = append(opts, fcm.WithEndpoint(cfg.FCM.Endpoint))
		}
		return fcm.NewHTTPDispatcher(broker, logger, opts...), nil
	}

	projectID, err := broker.ProjectID(ctx)
	if err != nil {
		return nil, err
	}
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithTokenSource(broker))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase App: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create FCM messaging client: %w", err)
	}
	return fcm.NewSDKDispatcher(fcmMessaging, logger), nil
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:                  sub,
		Topic:                 topicID,
		AckDeadlineSeconds:    10,
		EnableMessageOrdering: false,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	// Keep the configured receive settings; the client wants the full name.
	consumerCfg := *cfg.PubsubConsumerConfig
	consumerCfg.SubscriptionID = subConfig.Name
	return messagepipeline.NewGooglePubsubConsumer(&consumerCfg, psClient, logger)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
