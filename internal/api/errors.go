// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/playd/internal/domain/session/manager"
	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/log"
)

// Error codes that are not domain classes.
const (
	codeInvalidState  = "invalid_state"
	codeShuttingDown  = "shutting_down"
	codeUnavailable   = "unavailable"
	codeTooLarge      = "payload_too_large"
	codeInternal      = "internal"
	codeMalformedJSON = "malformed_json"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code and writes the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, class := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "api.error").
			Str("class", class).
			Msg("request failed")
	}
	writeProblem(w, r, code, class, err.Error())
}

func writeProblem(w http.ResponseWriter, r *http.Request, code int, class, detail string) {
	writeJSON(w, code, errorBody{
		Error:     class,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// writeNotFound writes a 404 for an unknown or absent session.
func writeNotFound(w http.ResponseWriter, r *http.Request, what string) {
	writeProblem(w, r, http.StatusNotFound, string(model.ClassNotFound), what+" not found")
}

// writeInvalidState reports a control operation that was a no-op in the
// session's current state.
func writeInvalidState(w http.ResponseWriter, r *http.Request, op string, status model.Status) {
	writeProblem(w, r, http.StatusConflict, codeInvalidState, op+" is not possible while "+status.String())
}

func statusFor(err error) (int, string) {
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &mbe):
		return http.StatusRequestEntityTooLarge, codeTooLarge
	case errors.Is(err, manager.ErrShuttingDown):
		return http.StatusServiceUnavailable, codeShuttingDown
	}

	class := model.ClassOf(err)
	switch class {
	case model.ClassNotFound:
		return http.StatusNotFound, string(class)
	case model.ClassInvalidArgument:
		return http.StatusBadRequest, string(class)
	case model.ClassSpawnFailure:
		return http.StatusInternalServerError, string(class)
	case model.ClassChannelFailure:
		return http.StatusConflict, string(class)
	case model.ClassTimeout:
		return http.StatusGatewayTimeout, string(class)
	case model.ClassUpstreamFailure:
		return http.StatusBadGateway, string(class)
	}
	return http.StatusInternalServerError, codeInternal
}
