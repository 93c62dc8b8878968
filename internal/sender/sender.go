// Package sender runs a send request through API key resolution, credential
// acquisition and dispatch. HTTP handlers and the Pub/Sub pipeline share it.
package sender

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-notifyhub/internal/metrics"
	"github.com/tinywideclouds/go-notifyhub/pkg/dispatch"
	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

// State is where a send request stopped.
type State string

const (
	StateInvalid               State = "Invalid"
	StateDispatched            State = "Dispatched"
	StateRejected              State = "Rejected"
	StateCredentialUnavailable State = "CredentialUnavailable"
	StateDeliveryFailed        State = "DeliveryFailed"
)

// Request is a send addressed by API key.
type Request struct {
	APIKey  string         `json:"api_key"`
	Title   string         `json:"title"`
	Content string         `json:"body"`
	URL     string         `json:"url,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Outcome reports the terminal state alongside the dispatch result.
type Outcome struct {
	State  State
	Result notify.SendResult
}

// DeviceFinder resolves API keys. registry.Registry satisfies it.
type DeviceFinder interface {
	FindByAPIKey(ctx context.Context, apiKey string) (notify.Device, error)
}

type Sender struct {
	devices    DeviceFinder
	tokens     dispatch.TokenProvider
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
}

func New(devices DeviceFinder, tokens dispatch.TokenProvider, dispatcher dispatch.Dispatcher, logger *slog.Logger) *Sender {
	return &Sender{
		devices:    devices,
		tokens:     tokens,
		dispatcher: dispatcher,
		logger:     logger.With("component", "Sender"),
	}
}

// Validate checks required fields in the order callers are told about them.
func (r Request) Validate() error {
	switch {
	case r.APIKey == "":
		return notify.ValidationError("API key (k) is required")
	case r.Title == "":
		return notify.ValidationError("Title (t) is required")
	case r.Content == "":
		return notify.ValidationError("Content (c) is required")
	}
	return nil
}

// Message builds the outbound content. A non-empty URL rides in the data block.
func (r Request) Message() notify.Message {
	var data map[string]any
	if len(r.Data) > 0 || r.URL != "" {
		data = make(map[string]any, len(r.Data)+1)
		for k, v := range r.Data {
			data[k] = v
		}
		if r.URL != "" {
			data["url"] = r.URL
		}
	}
	return notify.Message{Title: r.Title, Body: r.Content, Data: data}
}

// Send delivers req to the device owning req.APIKey. The returned error is
// always a *notify.Error.
func (s *Sender) Send(ctx context.Context, req Request) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return s.finish(StateInvalid, notify.SendResult{}, err)
	}

	dev, err := s.devices.FindByAPIKey(ctx, req.APIKey)
	if err != nil {
		return s.finish(StateRejected, notify.SendResult{}, err)
	}

	if _, err := s.tokens.AccessToken(ctx); err != nil {
		s.logger.Error("Bearer token unavailable", "device_id", dev.ID, "err", err)
		return s.finish(StateCredentialUnavailable, notify.SendResult{}, asCredential(err))
	}

	res, err := s.dispatcher.Send(ctx, dev.PushToken, req.Message())
	if err != nil {
		if notify.KindOf(err) == notify.KindCredential {
			return s.finish(StateCredentialUnavailable, notify.SendResult{}, err)
		}
		s.logger.Warn("Notification not delivered", "device_id", dev.ID, "err", err)
		return s.finish(StateDeliveryFailed, notify.SendResult{}, asDispatch(err))
	}

	s.logger.Info("Notification sent", "device_id", dev.ID, "message_id", res.MessageID)
	return s.finish(StateDispatched, res, nil)
}

func (s *Sender) finish(state State, res notify.SendResult, err error) (Outcome, error) {
	metrics.SendsTotal.WithLabelValues(string(state)).Inc()
	return Outcome{State: state, Result: res}, err
}

func asCredential(err error) error {
	if notify.KindOf(err) != notify.KindUnknown {
		return err
	}
	return notify.CredentialError("Failed to obtain access token", err)
}

func asDispatch(err error) error {
	if notify.KindOf(err) != notify.KindUnknown {
		return err
	}
	return notify.DispatchError("Failed to send notification", err)
}
