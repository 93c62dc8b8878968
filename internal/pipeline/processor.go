package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notifyhub/internal/registry"
	"github.com/tinywideclouds/go-notifyhub/internal/sender"
)

// Sender runs one send request to a terminal state.
type Sender interface {
	Send(ctx context.Context, req sender.Request) (sender.Outcome, error)
}

// NewProcessor returns the stage that sends each decoded request. Every
// terminal state is acked: a failed send is logged, never redelivered.
func NewProcessor(s Sender, logger *slog.Logger) messagepipeline.StreamProcessor[sender.Request] {
	logger = logger.With("component", "SendProcessor")

	return func(ctx context.Context, original messagepipeline.Message, req *sender.Request) error {
		procLogger := logger.With(
			"api_key", registry.Redact(req.APIKey),
			"pubsub_msg_id", original.ID,
		)

		out, err := s.Send(ctx, *req)
		if err != nil {
			procLogger.Warn("Queued notification dropped", "state", out.State, "err", err)
			return nil
		}
		procLogger.Info("Queued notification sent", "message_id", out.Result.MessageID)
		return nil
	}
}
