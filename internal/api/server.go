// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the playd HTTP and websocket control surface.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/playd/internal/api/middleware"
	"github.com/ManuGH/playd/internal/domain/session/manager"
	"github.com/ManuGH/playd/internal/health"
	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/tts"
)

// VoiceLister lists synthesizer voices.
type VoiceLister interface {
	Voices(ctx context.Context) ([]tts.Voice, error)
}

// MediaStore persists uploads into the scratch directory.
type MediaStore interface {
	SaveUpload(r io.Reader, filename string) (string, error)
	SaveDirect(r io.Reader) (string, error)
	Title(path, fallback string) string
	Remove(path string) error
}

// Deps are the collaborators the handlers call into.
type Deps struct {
	Registry *manager.Registry
	Voices   VoiceLister
	Media    MediaStore
	Health   *health.Manager
}

// Config holds the server settings fixed at construction.
type Config struct {
	Version string
	Stack   middleware.StackConfig
	// WSReadLimit bounds a single websocket frame. Zero uses 1 MiB.
	WSReadLimit int64
}

// Server wires the routes to the session registry.
type Server struct {
	reg    *manager.Registry
	voices VoiceLister
	media  MediaStore
	health *health.Manager
	cfg    Config
	router chi.Router
	logger zerolog.Logger
}

// New validates the embedded OpenAPI document and builds the router.
func New(ctx context.Context, deps Deps, cfg Config) (*Server, error) {
	if deps.Registry == nil {
		return nil, errors.New("api: registry is required")
	}
	if deps.Health == nil {
		deps.Health = health.NewManager(cfg.Version)
	}
	if cfg.WSReadLimit <= 0 {
		cfg.WSReadLimit = 1 << 20
	}
	s := &Server{
		reg:    deps.Registry,
		voices: deps.Voices,
		media:  deps.Media,
		health: deps.Health,
		cfg:    cfg,
		logger: log.WithComponent("api"),
	}

	doc, err := LoadSpec(ctx)
	if err != nil {
		return nil, err
	}
	validate, err := requestValidator(doc)
	if err != nil {
		return nil, err
	}
	s.router = s.routes(validate)
	return s, nil
}

// Handler returns the root handler with the middleware stack applied.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes(validate func(http.Handler) http.Handler) chi.Router {
	r := middleware.NewRouter(s.cfg.Stack)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(validate)

		r.Get("/tts/voices", s.handleVoices)
		r.Post("/tts/speak", s.handleSpeak)

		r.Post("/music/play_url", s.handlePlayURL)
		r.Post("/music/play_file", s.handlePlayFile)

		r.Get("/playlist", s.handleGetPlaylist)
		r.Post("/playlist", s.handleCreatePlaylist)
		r.Post("/playlist/tracks", s.handleAddTracks)
		r.Post("/playlist/play", s.handlePlaylistPlay)
		r.Post("/playlist/next", s.handlePlaylistStep(1))
		r.Post("/playlist/prev", s.handlePlaylistStep(-1))

		r.Get("/sessions/tts_session", s.handleListTTS)
		r.Get("/sessions/tts_session/{id}", s.handleGetTTS)
		r.Post("/sessions/tts_session/{id}/stop", s.handleStopTTS)
		r.Delete("/sessions/tts_session/{id}", s.handleDeleteTTS)

		r.Get("/sessions/music_session", s.handleGetMusic)
		s.controlRoutes(r, "/sessions/music_session", s.musicTarget)
		r.Get("/sessions/playlist_session", s.handleGetPlaylist)
		s.controlRoutes(r, "/sessions/playlist_session", s.playlistTarget)

		r.Route("/stream", func(r chi.Router) {
			r.Post("/start", s.handleStreamStart)
			r.Post("/direct", s.handleStreamDirect)
			r.Get("/{id}", s.handleStreamStatus)
			r.Post("/{id}/feed", s.handleStreamFeed)
			r.Post("/{id}/end", s.handleStreamEnd)
			r.Post("/{id}/stop", s.handleStreamStop)
		})

		r.Get("/ws/stream", s.handleStreamWebSocket)
	})
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "playd audio playback API",
		"version": s.cfg.Version,
	})
}
