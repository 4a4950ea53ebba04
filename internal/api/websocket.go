// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/stream"
	"github.com/ManuGH/playd/internal/log"
)

const wsWriteTimeout = 5 * time.Second

// wsMessage is every server-to-client frame.
type wsMessage struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Bytes     int    `json:"bytes,omitempty"`
	Error     string `json:"error,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// handleStreamWebSocket binds one streaming session to one websocket
// connection. Binary frames are fed, the text frame "eos" ends the stream
// and a disconnect stops and removes the session.
func (s *Server) handleStreamWebSocket(w http.ResponseWriter, r *http.Request) {
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
	id := sess.ID()
	logger := log.WithComponentFromContext(r.Context(), "ws").With().Str(log.FieldSessionID, id).Logger()
	defer func() {
		_ = s.reg.DeleteStream(id)
		logger.Info().Str(log.FieldEvent, "ws.closed").Msg("stream websocket closed")
	}()

	conn, err := ws.Accept(w, r, s.acceptOptions())
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "ws.accept_failed").Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.WSReadLimit)

	ctx := r.Context()
	if err := s.wsSend(ctx, conn, wsMessage{Status: "connected", SessionID: id}); err != nil {
		return
	}
	logger.Info().Str(log.FieldEvent, "ws.connected").Msg("stream websocket connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) != ws.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				logger.Debug().Err(err).Str(log.FieldEvent, "ws.read_failed").Msg("websocket read ended")
			}
			return
		}

		reply, err := s.wsHandleFrame(ctx, sess, typ, data)
		if err != nil {
			reply = wsMessage{Status: "error", Error: string(model.ClassOf(err)), Detail: err.Error()}
		}
		if err := s.wsSend(ctx, conn, reply); err != nil {
			return
		}
		if sess.IsFinished() {
			conn.Close(ws.StatusNormalClosure, "stream "+sess.State().String())
			return
		}
	}
}

func (s *Server) wsHandleFrame(ctx context.Context, sess *stream.Session, typ ws.MessageType, data []byte) (wsMessage, error) {
	if typ == ws.MessageText {
		if strings.TrimSpace(string(data)) != "eos" {
			return wsMessage{}, model.Errorf(model.ClassInvalidArgument, "ws.command", "unknown command %q", string(data))
		}
		if _, err := sess.End(); err != nil {
			return wsMessage{}, err
		}
		return wsMessage{Status: "end_of_stream", SessionID: sess.ID()}, nil
	}

	if len(data) == 0 {
		if _, err := sess.End(); err != nil {
			return wsMessage{}, err
		}
		return wsMessage{Status: "end_of_stream", SessionID: sess.ID()}, nil
	}
	if _, err := sess.Feed(ctx, data); err != nil {
		return wsMessage{}, err
	}
	return wsMessage{Status: "data_received", Bytes: len(data)}, nil
}

func (s *Server) wsSend(ctx context.Context, conn *ws.Conn, msg wsMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// acceptOptions derives the allowed websocket origins from the CORS list.
func (s *Server) acceptOptions() *ws.AcceptOptions {
	opts := &ws.AcceptOptions{}
	for _, origin := range s.cfg.Stack.CORSOrigins {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		}
	}
	return opts
}
