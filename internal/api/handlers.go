// Package api exposes registration and sending over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-notifyhub/internal/gate"
	"github.com/tinywideclouds/go-notifyhub/internal/sender"
	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

// Registrar is the part of the device registry the API calls.
type Registrar interface {
	RegisterOrGet(ctx context.Context, pushToken, deviceInfo string) (notify.Registration, error)
	UpdateToken(ctx context.Context, apiKey, newPushToken string) error
}

// Sender runs a send request to completion.
type Sender interface {
	Send(ctx context.Context, req sender.Request) (sender.Outcome, error)
}

type API struct {
	Registry Registrar
	Sender   Sender
	Gate     *gate.Gate
	Logger   *slog.Logger
}

func New(registry Registrar, s Sender, g *gate.Gate, logger *slog.Logger) *API {
	return &API{
		Registry: registry,
		Sender:   s,
		Gate:     g,
		Logger:   logger.With("component", "API"),
	}
}

// Register binds an FCM token to an API key. Repeat registrations of the same
// token return the existing key.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	p, err := bodyParams(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := a.Gate.Authorize(gate.Presented(r, p.strings())); err != nil {
		a.Logger.Warn("Register: secret rejected", "remote_addr", r.RemoteAddr)
		writeError(w, err)
		return
	}

	reg, err := a.Registry.RegisterOrGet(r.Context(), p.first("fcm_token"), p.first("device_info"))
	if err != nil {
		writeError(w, err)
		return
	}

	msg := "Device already registered"
	if reg.Created {
		msg = "Device registered successfully"
	}
	writeJSON(w, http.StatusOK, registerResponse{Success: true, APIKey: reg.APIKey, Message: msg})
}

// Send delivers a notification to the device behind the presented API key.
func (a *API) Send(w http.ResponseWriter, r *http.Request) {
	p, err := sendParams(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := a.Sender.Send(r.Context(), sender.Request{
		APIKey:  p.first("k", "api_key"),
		Title:   p.first("t", "title"),
		Content: p.first("c", "content", "body"),
		URL:     p.first("u", "url"),
		Data:    p.data(),
	})
	if err != nil {
		a.Logger.Debug("Send: request ended", "state", out.State, "err", err)
		writeError(w, err)
		return
	}
	resp := sendResponse{Success: true, Message: "Notification sent successfully"}
	if id := out.Result.MessageID; id != "" {
		resp.MessageID = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateToken repoints a device at a new FCM token. It sits behind the
// shared secret like registration.
func (a *API) UpdateToken(w http.ResponseWriter, r *http.Request) {
	p, err := bodyParams(r)
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.Gate.Authorize(gate.Presented(r, p.strings())); err != nil {
		writeError(w, err)
		return
	}

	if err := a.Registry.UpdateToken(r.Context(), p.first("api_key", "k"), p.first("fcm_token")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updateTokenResponse{Success: true, Message: "Device token updated"})
}
