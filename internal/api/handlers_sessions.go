// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/log"
)

// controllable is the control surface shared by music and playlist
// sessions.
type controllable interface {
	ID() string
	State() model.Status
	Pause() (bool, error)
	Resume() (bool, error)
	Stop() (bool, error)
	Seek(amount float64, mode model.SeekMode) (bool, error)
	SetVolume(v float64) (bool, error)
}

type targetFunc func() (controllable, string, bool)

func (s *Server) musicTarget() (controllable, string, bool) {
	sess, ok := s.reg.Music()
	if !ok {
		return nil, "music session", false
	}
	return sess, "music session", true
}

func (s *Server) playlistTarget() (controllable, string, bool) {
	p, ok := s.reg.Playlist()
	if !ok {
		return nil, "playlist session", false
	}
	return p, "playlist session", true
}

type seekRequest struct {
	Amount float64 `json:"amount"`
	Mode   int     `json:"mode"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

// controlRoutes registers stop, pause, resume, seek and volume under prefix.
func (s *Server) controlRoutes(r chi.Router, prefix string, target targetFunc) {
	r.Post(prefix+"/stop", s.handleControl(target, "stop", func(c controllable, _ *http.Request) (bool, error) {
		_, err := c.Stop()
		return true, err
	}))
	r.Post(prefix+"/pause", s.handleControl(target, "pause", func(c controllable, _ *http.Request) (bool, error) {
		return c.Pause()
	}))
	r.Post(prefix+"/resume", s.handleControl(target, "resume", func(c controllable, _ *http.Request) (bool, error) {
		return c.Resume()
	}))
	r.Post(prefix+"/seek", s.handleControl(target, "seek", func(c controllable, r *http.Request) (bool, error) {
		var req seekRequest
		if err := decodeJSON(r, &req, false); err != nil {
			return false, err
		}
		return c.Seek(req.Amount, model.SeekMode(req.Mode))
	}))
	r.Post(prefix+"/volume", s.handleControl(target, "volume", func(c controllable, r *http.Request) (bool, error) {
		var req volumeRequest
		if err := decodeJSON(r, &req, false); err != nil {
			return false, err
		}
		if req.Volume == nil {
			return false, model.Errorf(model.ClassInvalidArgument, "api.volume", "volume is required")
		}
		return c.SetVolume(*req.Volume)
	}))
}

// handleControl resolves the target and applies op. A false result without
// an error means the operation was not possible in the current state.
func (s *Server) handleControl(target targetFunc, op string, apply func(controllable, *http.Request) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, what, ok := target()
		if !ok {
			writeNotFound(w, r, what)
			return
		}
		done, err := apply(c, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !done {
			writeInvalidState(w, r, op, c.State())
			return
		}
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Debug().
			Str(log.FieldEvent, "session.control").
			Str(log.FieldSessionID, c.ID()).
			Str("op", op).
			Msg("control applied")
		writeJSON(w, http.StatusOK, controlResponse{Status: c.State(), SessionID: c.ID()})
	}
}
