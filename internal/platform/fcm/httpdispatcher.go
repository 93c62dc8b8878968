// Package fcm delivers notifications to Firebase Cloud Messaging, either over
// the HTTP v1 API directly or through the Firebase Admin SDK.
package fcm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/tinywideclouds/go-notifyhub/internal/metrics"
	"github.com/tinywideclouds/go-notifyhub/pkg/dispatch"
	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

const (
	DefaultEndpoint = "https://fcm.googleapis.com"
	DefaultTimeout  = 10 * time.Second

	unknownProviderError = "Unknown FCM error"
)

// envelope is the HTTP v1 request body.
type envelope struct {
	Message outboundMessage `json:"message"`
}

type outboundMessage struct {
	Token        string            `json:"token"`
	Notification notificationBlock `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type notificationBlock struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type HTTPDispatcher struct {
	tokens   dispatch.TokenProvider
	client   *resty.Client
	endpoint string
	logger   *slog.Logger
}

type HTTPOption func(*HTTPDispatcher)

func WithEndpoint(endpoint string) HTTPOption {
	return func(d *HTTPDispatcher) { d.endpoint = strings.TrimRight(endpoint, "/") }
}

func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(d *HTTPDispatcher) { d.client = resty.NewWithClient(hc) }
}

func WithTimeout(timeout time.Duration) HTTPOption {
	return func(d *HTTPDispatcher) { d.client.SetTimeout(timeout) }
}

func NewHTTPDispatcher(tokens dispatch.TokenProvider, logger *slog.Logger, opts ...HTTPOption) *HTTPDispatcher {
	d := &HTTPDispatcher{
		tokens:   tokens,
		client:   resty.New().SetTimeout(DefaultTimeout),
		endpoint: DefaultEndpoint,
		logger:   logger.With("component", "FCMDispatcher", "mode", "http"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send posts one message to the project's messages:send endpoint.
func (d *HTTPDispatcher) Send(ctx context.Context, pushToken string, msg notify.Message) (notify.SendResult, error) {
	projectID, err := d.tokens.ProjectID(ctx)
	if err != nil {
		return notify.SendResult{}, err
	}
	bearer, err := d.tokens.AccessToken(ctx)
	if err != nil {
		return notify.SendResult{}, err
	}

	body := envelope{Message: outboundMessage{
		Token:        pushToken,
		Notification: notificationBlock{Title: msg.Title, Body: msg.Body},
		Data:         StringifyData(msg.Data),
	}}
	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", d.endpoint, projectID)

	start := time.Now()
	resp, err := d.client.R().
		SetContext(ctx).
		SetAuthToken(bearer).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(url)
	metrics.DispatchDurationSeconds.WithLabelValues("http").Observe(time.Since(start).Seconds())
	if err != nil {
		d.logger.Error("FCM request failed", "err", err)
		return notify.SendResult{}, notify.DispatchError("Transport error: "+err.Error(), err)
	}

	return d.classify(resp)
}

func (d *HTTPDispatcher) classify(resp *resty.Response) (notify.SendResult, error) {
	raw := resp.Body()
	status := resp.StatusCode()

	if status >= 200 && status < 300 {
		id := gjson.GetBytes(raw, "name").String()
		d.logger.Debug("FCM accepted message", "message_id", id)
		return notify.SendResult{MessageID: id}, nil
	}

	if status == http.StatusUnauthorized {
		// The cached bearer was refused; the next request re-exchanges.
		d.tokens.Invalidate()
	}

	reason := gjson.GetBytes(raw, "error.message").String()
	if reason == "" {
		reason = unknownProviderError
	}
	d.logger.Warn("FCM rejected message",
		"status", status,
		"reason", reason,
		"error_status", gjson.GetBytes(raw, "error.status").String(),
	)
	return notify.SendResult{}, notify.DispatchError(reason, fmt.Errorf("fcm status %d", status))
}

// StringifyData coerces every data value to its string form. FCM only accepts
// string values in the data block. Empty input yields nil so the block is
// omitted.
func StringifyData(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(tv)
		}
	}
	return out
}
