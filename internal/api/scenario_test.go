package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-notifyhub/internal/api"
	"github.com/tinywideclouds/go-notifyhub/internal/gate"
	"github.com/tinywideclouds/go-notifyhub/internal/platform/fcm"
	"github.com/tinywideclouds/go-notifyhub/internal/registry"
	"github.com/tinywideclouds/go-notifyhub/internal/sender"
	"github.com/tinywideclouds/go-notifyhub/internal/storage/sqlite"
)

// staticTokens is a TokenProvider that never expires.
type staticTokens struct{}

func (staticTokens) AccessToken(context.Context) (string, error) { return "ya29.static", nil }
func (staticTokens) ProjectID(context.Context) (string, error)   { return "p", nil }
func (staticTokens) Invalidate()                                 {}

// TestRegisterThenSend drives the full stack against a fake FCM endpoint.
func TestRegisterThenSend(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	store, err := sqlite.NewStore(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "hub.db"), MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var lastToken string
	providerStatus := http.StatusOK
	fcmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env struct {
			Message struct {
				Token string `json:"token"`
			} `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&env)
		lastToken = env.Message.Token
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(providerStatus)
		if providerStatus == http.StatusOK {
			_, _ = w.Write([]byte(`{"name":"projects/p/messages/123"}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`))
	}))
	t.Cleanup(fcmServer.Close)

	reg := registry.New(store, logger)
	tokens := staticTokens{}
	dispatcher := fcm.NewHTTPDispatcher(tokens, logger, fcm.WithEndpoint(fcmServer.URL))
	router := api.NewRouter(api.New(reg, sender.New(reg, tokens, dispatcher, logger), gate.New(testSecret), logger), api.RouterConfig{})

	register := func() map[string]any {
		req := jsonRequest(http.MethodPost, "/api.php?action=register", map[string]string{"fcm_token": "tok-A"})
		req.Header.Set(gate.HeaderName, testSecret)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		return decode(t, w)
	}

	first := register()
	second := register()
	apiKey := first["api_key"].(string)
	assert.Regexp(t, `^API-[0-9A-F]{24}$`, apiKey)
	assert.Equal(t, apiKey, second["api_key"])
	assert.Equal(t, "Device already registered", second["message"])

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	t.Run("Send reaches the registered token", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api.php?action=send&k="+apiKey+"&t=Hello&c=World", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "projects/p/messages/123", decode(t, w)["message_id"])
		assert.Equal(t, "tok-A", lastToken)
	})

	t.Run("Provider rejection surfaces its message", func(t *testing.T) {
		providerStatus = http.StatusNotFound
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api.php?k="+apiKey+"&t=Hello&c=World", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, map[string]any{"success": false, "error": "Requested entity was not found."}, decode(t, w))
	})

	t.Run("Unknown key never reaches the provider", func(t *testing.T) {
		lastToken = ""
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api.php?k=API-NOPE&t=Hello&c=World", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Invalid API key", decode(t, w)["error"])
		assert.Empty(t, lastToken)
	})
}
