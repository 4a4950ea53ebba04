// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/playlist"
)

type createPlaylistRequest struct {
	Name     string        `json:"name"`
	Tracks   []model.Track `json:"tracks"`
	Volume   *float64      `json:"volume"`
	Autoplay *bool         `json:"autoplay"`
}

type addTracksRequest struct {
	Tracks []model.Track `json:"tracks"`
}

type playRequest struct {
	Index *int `json:"index"`
}

// handleCreatePlaylist replaces the exclusive slot. Playback starts unless
// autoplay is false or the list is empty.
func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := s.reg.CreatePlaylist(req.Name, req.Tracks, s.volumeOr(req.Volume))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if (req.Autoplay == nil || *req.Autoplay) && len(req.Tracks) > 0 {
		if _, err := p.Play(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	p, ok := s.currentPlaylist(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *Server) handleAddTracks(w http.ResponseWriter, r *http.Request) {
	var req addTracksRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	for _, t := range req.Tracks {
		if t.ID == "" && t.URL == "" {
			writeError(w, r, model.Errorf(model.ClassInvalidArgument, "api.add_tracks", "every track needs an id or a url"))
			return
		}
	}
	p, ok := s.currentPlaylist(w, r)
	if !ok {
		return
	}
	p.AddTracks(req.Tracks...)
	writeJSON(w, http.StatusOK, p.Status())
}

func (s *Server) handlePlaylistPlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	p, ok := s.currentPlaylist(w, r)
	if !ok {
		return
	}

	var err error
	if req.Index != nil {
		_, err = p.PlayIndex(r.Context(), *req.Index)
	} else {
		_, err = p.Play(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Status())
}

// handlePlaylistStep moves the cursor by delta, wrapping at either end.
func (s *Server) handlePlaylistStep(delta int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.currentPlaylist(w, r)
		if !ok {
			return
		}
		step := p.Next
		if delta < 0 {
			step = p.Prev
		}
		if _, err := step(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p.Status())
	}
}

func (s *Server) currentPlaylist(w http.ResponseWriter, r *http.Request) (*playlist.Playlist, bool) {
	p, ok := s.reg.Playlist()
	if !ok {
		writeNotFound(w, r, "playlist session")
		return nil, false
	}
	return p, true
}
