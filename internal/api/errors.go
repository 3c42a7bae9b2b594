// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/cartloom/cartloom/internal/logging"
)

// errorResponse is the uniform error payload.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already out; all we can do is log.
		logger := logging.Component("api")
		logger.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
