package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/example/oauthd/internal/auth"
)

// APIError is the structured error payload. Details never carry internal
// error text; that goes to the operator log only.
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write json")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// writeAuthError maps a core failure onto the wire. Unknown-email and
// wrong-password collapse into the same payload so login failures leak
// nothing about which emails are registered.
func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *auth.Error
	if !errors.As(err, &authErr) {
		log.Error().Err(err).Msg("unexpected error shape from core")
		writeError(w, http.StatusInternalServerError, string(auth.CodeInternal), "internal server error")
		return
	}
	code := authErr.Code
	if code == auth.CodeUserNotFound {
		code = auth.CodeInvalidCredentials
	}
	if code == auth.CodeInternal {
		log.Error().Err(authErr).Msg("internal failure")
	}
	writeError(w, authErr.Status, string(code), authErr.Message)
}
