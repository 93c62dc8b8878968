package api

import (
	"encoding/json"
	"net/http"

	"github.com/tinywideclouds/go-notifyhub/pkg/notify"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type registerResponse struct {
	Success bool   `json:"success"`
	APIKey  string `json:"api_key"`
	Message string `json:"message"`
}

// sendResponse always carries message_id; it is null when the provider
// acknowledged without naming the message.
type sendResponse struct {
	Success   bool    `json:"success"`
	Message   string  `json:"message"`
	MessageID *string `json:"message_id"`
}

type updateTokenResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders err in the failure envelope. Only the caller-facing
// message of a *notify.Error is exposed.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), errorResponse{Success: false, Error: notify.PublicMessage(err)})
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch notify.KindOf(err) {
	case notify.KindValidation:
		return http.StatusBadRequest
	case notify.KindAuth:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
