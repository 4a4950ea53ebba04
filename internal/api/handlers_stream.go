// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/stream"
	"github.com/ManuGH/playd/internal/log"
)

// feedChunkSize is the largest chunk queued per Feed call.
const feedChunkSize = 64 << 10

type feedResponse struct {
	Status        string `json:"status"`
	Accepted      int64  `json:"accepted"`
	BytesReceived int64  `json:"bytes_received"`
	EndOfStream   bool   `json:"end_of_stream"`
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	volume, err := s.queryVolume(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.startStream(r, volume)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.ID(),
		Status:    sess.State(),
		Message:   "stream started, feed audio to /api/stream/" + sess.ID() + "/feed",
	})
}

// startStream creates and starts a stream. A stream that fails to start is
// removed again.
func (s *Server) startStream(r *http.Request, volume float64) (*stream.Session, error) {
	sess, err := s.reg.CreateStream(volume)
	if err != nil {
		return nil, err
	}
	if _, err := sess.Start(r.Context()); err != nil {
		_ = s.reg.DeleteStream(sess.ID())
		return nil, err
	}
	return sess, nil
}

// handleStreamFeed queues the request body, or its multipart "file" part,
// in chunks. Each chunk waits for queue space. An empty body ends the
// stream.
func (s *Server) handleStreamFeed(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.streamFromPath(w, r)
	if !ok {
		return
	}
	body, _, err := uploadPart(r, "file")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var accepted int64
	buf := make([]byte, feedChunkSize)
	for {
		n, rerr := io.ReadFull(body, buf)
		if n > 0 {
			if _, err := sess.Feed(r.Context(), bytes.Clone(buf[:n])); err != nil {
				writeError(w, r, err)
				return
			}
			accepted += int64(n)
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			var mbe *http.MaxBytesError
			if !errors.As(rerr, &mbe) {
				rerr = model.Wrap(model.ClassInvalidArgument, "api.feed", rerr)
			}
			writeError(w, r, rerr)
			return
		}
	}

	status := "data_accepted"
	if accepted == 0 {
		if _, err := sess.End(); err != nil {
			writeError(w, r, err)
			return
		}
		status = "end_of_stream"
	}
	st := sess.Status()
	writeJSON(w, http.StatusOK, feedResponse{
		Status:        status,
		Accepted:      accepted,
		BytesReceived: st.BytesReceived,
		EndOfStream:   st.EndOfStream,
	})
}

func (s *Server) handleStreamEnd(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.streamFromPath(w, r)
	if !ok {
		return
	}
	if _, err := sess.End(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Status: sess.State(), SessionID: sess.ID()})
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.streamFromPath(w, r)
	if !ok {
		return
	}
	if _, err := sess.Stop(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{Status: sess.State(), SessionID: sess.ID()})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.streamFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// handleStreamDirect saves a complete WAV body and plays it as a clip that
// leaves the exclusive slot alone. The file is removed when the clip is
// reaped.
func (s *Server) handleStreamDirect(w http.ResponseWriter, r *http.Request) {
	if s.media == nil {
		writeProblem(w, r, http.StatusServiceUnavailable, codeUnavailable, "uploads are not configured")
		return
	}
	volume, err := s.queryVolume(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, _, err := uploadPart(r, "file")
	if err != nil {
		writeError(w, r, err)
		return
	}
	path, err := s.media.SaveDirect(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.reg.CreateClip(path, "direct stream", volume)
	if err != nil {
		_ = s.media.Remove(path)
		writeError(w, r, err)
		return
	}
	if _, err := sess.Play(r.Context()); err != nil {
		if model.ClassOf(err) == model.ClassInvalidArgument {
			_ = s.reg.DeleteTTS(sess.ID())
		}
		writeError(w, r, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "stream.direct").
		Str(log.FieldSessionID, sess.ID()).
		Str(log.FieldPath, path).
		Msg("direct audio started")
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: sess.ID(),
		Status:    sess.State(),
		Message:   "direct audio started",
	})
}

func (s *Server) streamFromPath(w http.ResponseWriter, r *http.Request) (*stream.Session, bool) {
	id, ok := sessionID(w, r, "stream")
	if !ok {
		return nil, false
	}
	sess, ok := s.reg.Stream(id)
	if !ok {
		writeNotFound(w, r, "stream")
		return nil, false
	}
	return sess, true
}
