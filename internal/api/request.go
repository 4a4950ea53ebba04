// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/playd/internal/domain/session/model"
)

// sessionResponse acknowledges a created session.
type sessionResponse struct {
	SessionID string       `json:"session_id"`
	Status    model.Status `json:"status"`
	Message   string       `json:"message,omitempty"`
}

// controlResponse acknowledges a control operation.
type controlResponse struct {
	Status    model.Status `json:"status"`
	SessionID string       `json:"session_id"`
}

// decodeJSON reads the request body into v. An empty body is accepted
// when optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return err
		}
		return model.Wrap(model.ClassInvalidArgument, "api.decode", fmt.Errorf("%s: %w", codeMalformedJSON, err))
	}
	return nil
}

// volumeOr returns *v or the configured default.
func (s *Server) volumeOr(v *float64) float64 {
	if v == nil {
		return s.reg.Options().DefaultVolume
	}
	return *v
}

// queryVolume reads the optional volume query parameter.
func (s *Server) queryVolume(r *http.Request) (float64, error) {
	raw := r.URL.Query().Get("volume")
	if raw == "" {
		return s.reg.Options().DefaultVolume, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, model.Errorf(model.ClassInvalidArgument, "api.volume", "volume %q is not a number", raw)
	}
	return v, nil
}

// sessionID returns the {id} path parameter, or false after writing a 404
// when it is not a well-formed session id.
func sessionID(w http.ResponseWriter, r *http.Request, what string) (string, bool) {
	id := chi.URLParam(r, "id")
	if !model.IsSafeSessionID(id) {
		writeNotFound(w, r, what)
		return "", false
	}
	return id, true
}

// uploadPart finds the named file part of a multipart body. Bodies that
// are not multipart are returned as they are with an empty filename.
func uploadPart(r *http.Request, field string) (io.Reader, string, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return r.Body, "", nil
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", model.Wrap(model.ClassInvalidArgument, "api.upload", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", model.Errorf(model.ClassInvalidArgument, "api.upload", "multipart field %q is missing", field)
		}
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, "", err
			}
			return nil, "", model.Wrap(model.ClassInvalidArgument, "api.upload", err)
		}
		if part.FormName() == field {
			return part, part.FileName(), nil
		}
		_ = part.Close()
	}
}
