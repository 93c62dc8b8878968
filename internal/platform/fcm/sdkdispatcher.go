package fcm

import (
	"context"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"

	"github.com/tinywideclouds/go-notifyhub/internal/metrics"
	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// SDKDispatcher sends through the Firebase Admin SDK. The SDK owns the HTTP
// exchange; its client is built with the broker as token source.
type SDKDispatcher struct {
	client MessagingClient
	logger *slog.Logger
}

func NewSDKDispatcher(client MessagingClient, logger *slog.Logger) *SDKDispatcher {
	return &SDKDispatcher{
		client: client,
		logger: logger.With("component", "FCMDispatcher", "mode", "sdk"),
	}
}

func (d *SDKDispatcher) Send(ctx context.Context, pushToken string, msg notify.Message) (notify.SendResult, error) {
	start := time.Now()
	id, err := d.client.Send(ctx, &messaging.Message{
		Token: pushToken,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: StringifyData(msg.Data),
	})
	metrics.DispatchDurationSeconds.WithLabelValues("sdk").Observe(time.Since(start).Seconds())
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err) {
			d.logger.Warn("FCM rejected push token", "err", err)
		} else {
			d.logger.Error("FCM send failed", "err", err)
		}
		return notify.SendResult{}, notify.DispatchError(err.Error(), err)
	}
	return notify.SendResult{MessageID: id}, nil
}
