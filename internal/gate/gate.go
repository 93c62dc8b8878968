// Package gate guards the registration pathway with a shared secret.
package gate

import (
	"crypto/subtle"
	"net/http"

	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

const (
	HeaderName = "X-Secret-Key"
	ParamName  = "secret"
)

type Gate struct {
	secret []byte
}

func New(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// Presented picks the secret a caller supplied: header first, then the query
// string, then the body parameters.
func Presented(r *http.Request, body map[string]string) string {
	if v := r.Header.Get(HeaderName); v != "" {
		return v
	}
	if v := r.URL.Query().Get(ParamName); v != "" {
		return v
	}
	return body[ParamName]
}

// Authorize accepts only an exact match of the configured secret. An empty
// configured secret rejects everything.
func (g *Gate) Authorize(presented string) error {
	if presented == "" || len(g.secret) == 0 {
		return notify.AuthError("Invalid or missing secret key")
	}
	if subtle.ConstantTimeCompare([]byte(presented), g.secret) != 1 {
		return notify.AuthError("Invalid or missing secret key")
	}
	return nil
}
