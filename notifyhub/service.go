// Package notifyhub assembles the HTTP surface and the optional Pub/Sub
// ingestion pipeline into one service.
package notifyhub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-notifyhub/internal/api"
	"github.com/tinywideclouds/go-notifyhub/internal/gate"
	"github.com/tinywideclouds/go-notifyhub/internal/pipeline"
	"github.com/tinywideclouds/go-notifyhub/internal/registry"
	"github.com/tinywideclouds/go-notifyhub/internal/sender"
	"github.com/tinywideclouds/go-notifyhub/notifyhub/config"
	"github.com/tinywideclouds/go-notifyhub/pkg/dispatch"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[sender.Request]
	logger          *slog.Logger
}

// Dependencies are the collaborators built by the caller. Consumer may be nil
// when Pub/Sub ingestion is disabled; Metrics may be nil to skip the scrape
// endpoint.
type Dependencies struct {
	Store      dispatch.DeviceStore
	Tokens     dispatch.TokenProvider
	Dispatcher dispatch.Dispatcher
	Consumer   messagepipeline.MessageConsumer
	Metrics    http.Handler
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Core
	reg := registry.New(deps.Store, logger, registry.WithDefaultDeviceInfo(cfg.DefaultDeviceInfo))
	snd := sender.New(reg, deps.Tokens, deps.Dispatcher, logger)

	// 3. Pipeline
	var streamingService *messagepipeline.StreamingService[sender.Request]
	if deps.Consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			deps.Consumer,
			pipeline.SendRequestTransformer,
			pipeline.NewProcessor(snd, logger),
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 4. API
	router := api.NewRouter(api.New(reg, snd, gate.New(cfg.SecretKey), logger), api.RouterConfig{
		AllowedOrigins:    cfg.Cors.AllowedOrigins,
		RegisterRateLimit: cfg.RegisterRateLimit,
		ExposeTokenUpdate: cfg.ExposeTokenUpdate,
		Metrics:           deps.Metrics,
	})

	mux := baseServer.Mux()
	for _, prefix := range api.Routes {
		mux.Handle(prefix, router)
	}

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Send ingestion pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
