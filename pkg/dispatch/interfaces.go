package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

// Dispatcher defines the contract for a component that delivers a message
// to a single provider push token.
type Dispatcher interface {
	// Send returns the provider-assigned message id on success.
	Send(ctx context.Context, pushToken string, msg notify.Message) (notify.SendResult, error)
}

// TokenProvider hands out bearer tokens for the push provider and knows the
// provider project the tokens are valid for.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	ProjectID(ctx context.Context) (string, error)
	// Invalidate drops any cached token so the next call re-exchanges.
	Invalidate()
}

// DeviceStore defines the persistence contract for device records.
// Implementations must enforce push token and API key uniqueness themselves.
type DeviceStore interface {
	// InsertOrGet atomically inserts dev unless a record with the same push
	// token exists, in which case the stored record is returned with
	// created=false.
	InsertOrGet(ctx context.Context, dev notify.Device) (stored notify.Device, created bool, err error)

	// FindByAPIKey returns notify.ErrDeviceNotFound when no record matches.
	FindByAPIKey(ctx context.Context, apiKey string) (notify.Device, error)

	// UpdateToken repoints the device's push token. It returns
	// notify.ErrDeviceNotFound or notify.ErrPushTokenTaken.
	UpdateToken(ctx context.Context, apiKey, newPushToken string) error
}
