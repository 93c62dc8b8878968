// Package credential exchanges a service account key for short-lived bearer
// tokens and caches them until shortly before they expire.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tinywideclouds/go-notifyhub/internal/metrics"
	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

const (
	DefaultTokenURL      = "https://oauth2.googleapis.com/token"
	DefaultScope         = "https://www.googleapis.com/auth/firebase.messaging"
	DefaultTimeout       = 10 * time.Second
	DefaultRefreshMargin = 60 * time.Second

	GrantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

type Config struct {
	ServiceAccountPath string
	// TokenURL overrides the key file's token_uri. It is also the assertion audience.
	TokenURL      string
	Scope         string
	Timeout       time.Duration
	RefreshMargin time.Duration
}

type Broker struct {
	cfg    Config
	client *resty.Client
	now    func() time.Time
	logger *slog.Logger

	flight singleflight.Group
	mu     sync.RWMutex
	cached notify.BearerCredential
}

type Option func(*Broker)

func WithHTTPClient(hc *http.Client) Option {
	return func(b *Broker) { b.client = resty.NewWithClient(hc) }
}

func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

func NewBroker(cfg Config, logger *slog.Logger, opts ...Option) *Broker {
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	b := &Broker{
		cfg:    cfg,
		client: resty.New(),
		now:    time.Now,
		logger: logger.With("component", "CredentialBroker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.client.SetTimeout(cfg.Timeout)
	return b
}

// AccessToken returns a cached bearer token, exchanging a fresh assertion
// when the cached one is missing or inside the refresh margin.
func (b *Broker) AccessToken(ctx context.Context) (string, error) {
	cred, err := b.bearer(ctx)
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// ProjectID reads the provider project from the service account key file.
func (b *Broker) ProjectID(_ context.Context) (string, error) {
	sa, err := LoadServiceAccount(b.cfg.ServiceAccountPath)
	if err != nil {
		return "", err
	}
	if sa.ProjectID == "" {
		return "", notify.CredentialError("Invalid service account configuration", errors.New("project_id missing"))
	}
	return sa.ProjectID, nil
}

// Invalidate forgets the cached token.
func (b *Broker) Invalidate() {
	b.mu.Lock()
	b.cached = notify.BearerCredential{}
	b.mu.Unlock()
	b.logger.Debug("Cached bearer token invalidated")
}

// Token lets the broker act as an oauth2.TokenSource for SDK clients.
func (b *Broker) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()
	cred, err := b.bearer(ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: cred.AccessToken,
		TokenType:   "Bearer",
		Expiry:      cred.ExpiresAt,
	}, nil
}

func (b *Broker) bearer(ctx context.Context) (notify.BearerCredential, error) {
	if cred, ok := b.cachedCredential(); ok {
		return cred, nil
	}

	// Concurrent misses share one exchange. It outlives the caller that
	// started it and is bounded only by the client timeout.
	ch := b.flight.DoChan(b.cfg.ServiceAccountPath, func() (any, error) {
		// A flight that finished just before this one started already
		// refreshed the cache.
		if cred, ok := b.cachedCredential(); ok {
			return cred, nil
		}
		cred, err := b.exchange(context.WithoutCancel(ctx))
		if err != nil {
			return notify.BearerCredential{}, err
		}
		b.mu.Lock()
		b.cached = cred
		b.mu.Unlock()
		return cred, nil
	})

	select {
	case <-ctx.Done():
		return notify.BearerCredential{}, notify.CredentialError("Failed to obtain access token", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return notify.BearerCredential{}, res.Err
		}
		return res.Val.(notify.BearerCredential), nil
	}
}

func (b *Broker) cachedCredential() (notify.BearerCredential, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cached, b.cached.ValidAt(b.now(), b.cfg.RefreshMargin)
}

func (b *Broker) exchange(ctx context.Context) (notify.BearerCredential, error) {
	sa, err := LoadServiceAccount(b.cfg.ServiceAccountPath)
	if err != nil {
		metrics.TokenExchangesTotal.WithLabelValues("config_error").Inc()
		return notify.BearerCredential{}, err
	}

	tokenURL := b.cfg.TokenURL
	if tokenURL == "" {
		tokenURL = sa.TokenURI
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	issuedAt := b.now()
	assertion, err := SignAssertion(sa, tokenURL, b.cfg.Scope, issuedAt)
	if err != nil {
		metrics.TokenExchangesTotal.WithLabelValues("sign_error").Inc()
		return notify.BearerCredential{}, notify.CredentialError("Failed to obtain access token", err)
	}

	resp, err := b.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type": GrantTypeJWTBearer,
			"assertion":  assertion,
		}).
		Post(tokenURL)
	if err != nil {
		metrics.TokenExchangesTotal.WithLabelValues("transport_error").Inc()
		b.logger.Error("Token endpoint unreachable", "url", tokenURL, "err", err)
		return notify.BearerCredential{}, notify.CredentialError("Failed to obtain access token", err)
	}
	if resp.StatusCode() != http.StatusOK {
		metrics.TokenExchangesTotal.WithLabelValues("rejected").Inc()
		b.logger.Error("Token endpoint rejected assertion",
			"status", resp.StatusCode(),
			"error", gjson.GetBytes(resp.Body(), "error").String(),
		)
		return notify.BearerCredential{}, notify.CredentialError(
			"Failed to obtain access token",
			fmt.Errorf("token endpoint returned status %d", resp.StatusCode()),
		)
	}

	body := resp.Body()
	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		metrics.TokenExchangesTotal.WithLabelValues("rejected").Inc()
		return notify.BearerCredential{}, notify.CredentialError("Failed to obtain access token", errors.New("response carried no access_token"))
	}

	lifetime := time.Duration(gjson.GetBytes(body, "expires_in").Int()) * time.Second
	if lifetime <= 0 || lifetime > AssertionLifetime {
		lifetime = AssertionLifetime
	}

	metrics.TokenExchangesTotal.WithLabelValues("ok").Inc()
	b.logger.Info("Bearer token obtained", "issuer", sa.ClientEmail, "expires_in", lifetime)
	return notify.BearerCredential{
		AccessToken: accessToken,
		ExpiresAt:   issuedAt.Add(lifetime),
	}, nil
}
