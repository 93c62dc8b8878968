// Package registry owns device registration and API key lookup.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tinywideclouds/go-notifyhub/internal/metrics"
	"github.com/tinywideclouds/go-notifyhub/pkg/dispatch"
	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

const (
	apiKeyPrefix = "API-"
	// 12 bytes gives 96 bits of entropy.
	apiKeyBytes = 12

	DefaultDeviceInfo = "Unknown device"
)

// KeyGenerator mints a new API key.
type KeyGenerator func() (string, error)

// NewAPIKey returns "API-" followed by 24 upper-case hex characters.
func NewAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return apiKeyPrefix + strings.ToUpper(hex.EncodeToString(buf)), nil
}

type Registry struct {
	store             dispatch.DeviceStore
	newKey            KeyGenerator
	defaultDeviceInfo string
	now               func() time.Time
	logger            *slog.Logger
}

type Option func(*Registry)

func WithKeyGenerator(gen KeyGenerator) Option {
	return func(r *Registry) { r.newKey = gen }
}

// WithDefaultDeviceInfo sets the description stored when a caller sends none.
func WithDefaultDeviceInfo(info string) Option {
	return func(r *Registry) { r.defaultDeviceInfo = info }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(store dispatch.DeviceStore, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:             store,
		newKey:            NewAPIKey,
		defaultDeviceInfo: DefaultDeviceInfo,
		now:               time.Now,
		logger:            logger.With("component", "DeviceRegistry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOrGet returns the API key bound to pushToken, creating the device
// on first sight. The store decides who wins a concurrent first registration.
func (r *Registry) RegisterOrGet(ctx context.Context, pushToken, deviceInfo string) (notify.Registration, error) {
	if pushToken == "" {
		return notify.Registration{}, notify.ValidationError("FCM token is required")
	}
	if deviceInfo == "" {
		deviceInfo = r.defaultDeviceInfo
	}

	apiKey, err := r.newKey()
	if err != nil {
		return notify.Registration{}, notify.PersistenceError("Failed to register device", err)
	}

	now := r.now().UTC()
	stored, created, err := r.store.InsertOrGet(ctx, notify.Device{
		PushToken:    pushToken,
		APIKey:       apiKey,
		DeviceInfo:   deviceInfo,
		RegisteredAt: now,
		UpdatedAt:    now,
	})
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		r.logger.Error("Device registration failed", "push_token", Redact(pushToken), "err", err)
		return notify.Registration{}, notify.PersistenceError("Failed to register device", err)
	}

	if created {
		metrics.RegistrationsTotal.WithLabelValues("created").Inc()
		r.logger.Info("Device registered", "device_id", stored.ID, "push_token", Redact(pushToken))
	} else {
		metrics.RegistrationsTotal.WithLabelValues("existing").Inc()
		r.logger.Debug("Device already registered", "device_id", stored.ID)
	}
	return notify.Registration{APIKey: stored.APIKey, Created: created}, nil
}

// FindByAPIKey resolves the device a sender is addressing. An unknown key is
// an AuthError.
func (r *Registry) FindByAPIKey(ctx context.Context, apiKey string) (notify.Device, error) {
	if apiKey == "" {
		return notify.Device{}, notify.ValidationError("API key (k) is required")
	}
	dev, err := r.store.FindByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, notify.ErrDeviceNotFound) {
			return notify.Device{}, notify.AuthError("Invalid API key")
		}
		r.logger.Error("Device lookup failed", "api_key", Redact(apiKey), "err", err)
		return notify.Device{}, notify.PersistenceError("Failed to look up device", err)
	}
	return dev, nil
}

// UpdateToken repoints an existing device at a new push token. The API key is
// never changed.
func (r *Registry) UpdateToken(ctx context.Context, apiKey, newPushToken string) error {
	if apiKey == "" {
		return notify.ValidationError("API key (k) is required")
	}
	if newPushToken == "" {
		return notify.ValidationError("FCM token is required")
	}
	err := r.store.UpdateToken(ctx, apiKey, newPushToken)
	switch {
	case err == nil:
		r.logger.Info("Device token updated", "api_key", Redact(apiKey), "push_token", Redact(newPushToken))
		return nil
	case errors.Is(err, notify.ErrDeviceNotFound):
		return notify.AuthError("Invalid API key")
	case errors.Is(err, notify.ErrPushTokenTaken):
		return notify.ValidationError("FCM token is already registered to another device")
	default:
		r.logger.Error("Device token update failed", "api_key", Redact(apiKey), "err", err)
		return notify.PersistenceError("Failed to update device", err)
	}
}

// Redact keeps enough of a secret-ish value to correlate log lines.
func Redact(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:8] + "…"
}
