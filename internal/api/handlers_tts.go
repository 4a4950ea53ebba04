// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/tts"
)

type speakRequest struct {
	Text   string   `json:"text"`
	Voice  string   `json:"voice"`
	Volume *float64 `json:"volume"`
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.voices == nil {
		writeJSON(w, http.StatusOK, []tts.Voice{})
		return
	}
	voices, err := s.voices.Voices(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if voices == nil {
		voices = []tts.Voice{}
	}
	writeJSON(w, http.StatusOK, voices)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	sess, err := s.reg.CreateTTS(req.Text, req.Voice, s.volumeOr(req.Volume))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := sess.Play(r.Context()); err != nil {
		if model.ClassOf(err) == model.ClassInvalidArgument {
			// Nothing ran, so the session would never finish.
			_ = s.reg.DeleteTTS(sess.ID())
		}
		writeError(w, r, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "tts.speak").
		Str(log.FieldSessionID, sess.ID()).
		Str(log.FieldVoice, sess.Status().Voice).
		Int("chars", len([]rune(req.Text))).
		Msg("speech started")
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.ID(),
		Status:    sess.State(),
		Message:   "speech started",
	})
}

func (s *Server) handleListTTS(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.ListTTS())
}

func (s *Server) handleGetTTS(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r, "tts session")
	if !ok {
		return
	}
	sess, ok := s.reg.TTS(id)
	if !ok {
		writeNotFound(w, r, "tts session")
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// handleStopTTS is idempotent: stopping a finished session reports its
// final status.
func (s *Server) handleStopTTS(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r, "tts session")
	if !ok {
		return
	}
	sess, ok := s.reg.TTS(id)
	if !ok {
		writeNotFound(w, r, "tts session")
		return
	}
	if _, err := sess.Stop(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Status: sess.State(), SessionID: id})
}

func (s *Server) handleDeleteTTS(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r, "tts session")
	if !ok {
		return
	}
	if err := s.reg.DeleteTTS(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}
