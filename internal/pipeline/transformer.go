// Package pipeline feeds send requests arriving over Pub/Sub through the
// same sender the HTTP API uses.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-notifyhub/internal/sender"
)

// SendRequestTransformer decodes a message payload into a sender.Request.
// Payloads that can never succeed are skipped so the consumer dead-letters
// them instead of redelivering.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*sender.Request, bool, error) {
	var req sender.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	if err := req.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid send request in message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
