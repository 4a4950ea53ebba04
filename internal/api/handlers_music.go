// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/playback"
	"github.com/ManuGH/playd/internal/log"
)

type playURLRequest struct {
	URL    string   `json:"url"`
	Volume *float64 `json:"volume"`
}

func (s *Server) handlePlayURL(w http.ResponseWriter, r *http.Request) {
	var req playURLRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.reg.CreateMusicURL(req.URL, s.volumeOr(req.Volume))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.startMusic(w, r, sess)
}

// handlePlayFile stores the uploaded file and plays it in the exclusive
// slot. The file is removed together with the session.
func (s *Server) handlePlayFile(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, codeUnavailable, "uploads are not configured")
		return
	}
	volume, err := s.queryVolume(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, filename, err := uploadPart(r, "file")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if filename == "" {
		writeError(w, r, model.Errorf(model.ClassInvalidArgument, "api.play_file", "a multipart file upload is required"))
		return
	}

	path, err := s.media.SaveUpload(body, filename)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.reg.CreateMusicFile(path, s.media.Title(path, filename), volume, true)
	if err != nil {
		_ = s.media.Remove(path)
		writeError(w, r, err)
		return
	}
	s.startMusic(w, r, sess)
}

func (s *Server) startMusic(w http.ResponseWriter, r *http.Request, sess *playback.Session) {
	if _, err := sess.Play(r.Context()); err != nil {
		if model.ClassOf(err) == model.ClassInvalidArgument {
			_, _ = sess.Stop()
		}
		writeError(w, r, err)
		return
	}
	st := sess.Status()
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "music.play").
		Str(log.FieldSessionID, st.SessionID).
		Str(log.FieldURL, st.URL).
		Str(log.FieldPath, st.FilePath).
		Msg("music started")
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: st.SessionID,
		Status:    st.Status,
		Message:   "music started",
	})
}

func (s *Server) handleGetMusic(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.reg.Music()
	if !ok {
		writeNotFound(w, r, "music session")
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}
