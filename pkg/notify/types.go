// Package notify contains the domain model shared by the registry, the
// credential broker and the dispatchers.
package notify

import "time"

// Device is one registered push endpoint.
type Device struct {
	ID           string    `json:"id"`
	PushToken    string    `json:"push_token"`
	APIKey       string    `json:"api_key"`
	DeviceInfo   string    `json:"device_info"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Registration is the outcome of an idempotent register call.
type Registration struct {
	APIKey  string
	Created bool
}

// Message is the content delivered to a single device.
// Data values are coerced to strings when the envelope is built.
type Message struct {
	Title string
	Body  string
	Data  map[string]any
}

// SendResult is returned by a successful dispatch.
type SendResult struct {
	MessageID string
}

// BearerCredential is a short-lived provider token. It is never persisted.
type BearerCredential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// ValidAt reports whether the credential can still be used at now, keeping
// margin in reserve before ExpiresAt.
func (c BearerCredential) ValidAt(now time.Time, margin time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	return now.Add(margin).Before(c.ExpiresAt)
}
