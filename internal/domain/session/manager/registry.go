// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package manager owns every live session: it creates them, enforces the
// exclusive music/playlist slot, reaps finished sessions and drains them on
// shutdown.
package manager

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/playback"
	"github.com/ManuGH/playd/internal/domain/session/playlist"
	"github.com/ManuGH/playd/internal/domain/session/ports"
	"github.com/ManuGH/playd/internal/domain/session/stream"
	"github.com/ManuGH/playd/internal/events"
	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/metrics"
)

// ErrShuttingDown is returned by create calls after Shutdown began.
var ErrShuttingDown = errors.New("session registry is shutting down")

// Options are the live-reloadable registry settings.
type Options struct {
	TTL           time.Duration
	StopGrace     time.Duration
	DefaultVolume float64
	DefaultVoice  string
	AutoAdvance   bool
	Loop          bool
	QueueSize     int
	PollInterval  time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		TTL:           600 * time.Second,
		StopGrace:     playback.DefaultStopGrace,
		DefaultVolume: 1,
		DefaultVoice:  "zh-CN-XiaoxiaoNeural",
		AutoAdvance:   true,
		QueueSize:     stream.DefaultQueueSize,
		PollInterval:  stream.DefaultPollInterval,
	}
}

// Deps are the collaborators sessions are built with.
type Deps struct {
	Spawner         ports.Spawner
	PipelineSpawner ports.PipelineSpawner
	Synthesizer     ports.Synthesizer
	Resolver        ports.Resolver
	TempStore       ports.TempStore
	Publisher       events.Publisher
	Now             func() time.Time
}

// entry is the registry's view of any session kind.
type entry interface {
	ID() string
	Kind() model.Kind
	Stop() (bool, error)
	IsFinished() bool
	EndedAt() time.Time
	TempFile() string
}

// Registry is the root of the session tree. It is safe for concurrent use.
type Registry struct {
	deps    Deps
	opts    atomic.Pointer[Options]
	workers workerGroup
	logger  zerolog.Logger

	// slotMu serializes exclusive-slot replacement so that at most one
	// music or playlist session is ever live.
	slotMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	ephemeral map[string]*playback.Session
	streams   map[string]*stream.Session
	slot      entry
}

// NewRegistry builds an empty registry.
func NewRegistry(deps Deps, opts Options) *Registry {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Registry{
		deps:      deps,
		logger:    log.WithComponent("registry"),
		ephemeral: make(map[string]*playback.Session),
		streams:   make(map[string]*stream.Session),
	}
	r.SetOptions(opts)
	return r
}

// Options returns the current settings.
func (r *Registry) Options() Options { return *r.opts.Load() }

// SetOptions swaps the settings. Running sessions keep the values they were
// created with; the TTL and playlist flags apply immediately.
func (r *Registry) SetOptions(o Options) {
	if o.StopGrace <= 0 {
		o.StopGrace = playback.DefaultStopGrace
	}
	r.opts.Store(&o)
}

// CreateTTS registers a speech session. It is synthesized and spawned by
// Play.
func (r *Registry) CreateTTS(text, voice string, volume float64) (*playback.Session, error) {
	if strings.TrimSpace(text) == "" {
		return nil, model.Errorf(model.ClassInvalidArgument, "registry.create_tts", "text is empty")
	}
	opts := r.Options()
	if voice == "" {
		voice = opts.DefaultVoice
	}
	s := r.newPlayback(opts, playback.Config{
		Kind:   model.KindTTS,
		Text:   text,
		Voice:  voice,
		Volume: volume,
	})
	if err := r.putEphemeral(s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateClip registers a non-exclusive playback of an owned scratch file,
// used for direct uploads that must not interrupt music.
func (r *Registry) CreateClip(path, title string, volume float64) (*playback.Session, error) {
	if path == "" {
		return nil, model.Errorf(model.ClassInvalidArgument, "registry.create_clip", "path is empty")
	}
	s := r.newPlayback(r.Options(), playback.Config{
		Kind:     model.KindClip,
		Source:   ports.Source{Path: path},
		Title:    title,
		OwnsFile: true,
		Volume:   volume,
	})
	if err := r.putEphemeral(s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateMusicURL replaces the exclusive slot with a URL playback.
func (r *Registry) CreateMusicURL(url string, volume float64) (*playback.Session, error) {
	if !strings.Contains(url, "://") {
		return nil, model.Errorf(model.ClassInvalidArgument, "registry.create_music", "url %q has no scheme", url)
	}
	s := r.newPlayback(r.Options(), playback.Config{
		Kind:   model.KindMusic,
		Source: ports.Source{URL: url},
		Volume: volume,
	})
	if err := r.replaceSlot(s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateMusicFile replaces the exclusive slot with a local file playback.
// owned marks path as scratch media deleted with the session.
func (r *Registry) CreateMusicFile(path, title string, volume float64, owned bool) (*playback.Session, error) {
	if path == "" {
		return nil, model.Errorf(model.ClassInvalidArgument, "registry.create_music", "path is empty")
	}
	s := r.newPlayback(r.Options(), playback.Config{
		Kind:     model.KindMusic,
		Source:   ports.Source{Path: path},
		Title:    title,
		OwnsFile: owned,
		Volume:   volume,
	})
	if err := r.replaceSlot(s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreatePlaylist replaces the exclusive slot with a playlist.
func (r *Registry) CreatePlaylist(name string, tracks []model.Track, volume float64) (*playlist.Playlist, error) {
	if lo.ContainsBy(tracks, func(t model.Track) bool { return t.ID == "" && t.URL == "" }) {
		return nil, model.Errorf(model.ClassInvalidArgument, "registry.create_playlist", "every track needs an id or a url")
	}
	opts := r.Options()
	p := playlist.New(playlist.Config{
		Name:      name,
		Tracks:    tracks,
		Volume:    volume,
		Resolver:  r.deps.Resolver,
		Spawner:   r.deps.Spawner,
		Runner:    &r.workers,
		StopGrace: opts.StopGrace,
		Options: func() playlist.Options {
			o := r.Options()
			return playlist.Options{AutoAdvance: o.AutoAdvance, Loop: o.Loop}
		},
		Observer: r.observe,
		Now:      r.deps.Now,
	})
	if err := r.replaceSlot(p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateStream registers a streaming session. The caller starts it.
func (r *Registry) CreateStream(volume float64) (*stream.Session, error) {
	opts := r.Options()
	s := stream.New(stream.Config{
		Volume:       volume,
		QueueSize:    opts.QueueSize,
		PollInterval: opts.PollInterval,
		StopGrace:    opts.StopGrace,
		Spawner:      r.deps.PipelineSpawner,
		Runner:       &r.workers,
		Observer:     r.observe,
		Now:          r.deps.Now,
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	r.streams[s.ID()] = s
	r.mu.Unlock()

	r.created(s)
	return s, nil
}

func (r *Registry) newPlayback(opts Options, cfg playback.Config) *playback.Session {
	cfg.StopGrace = opts.StopGrace
	cfg.Spawner = r.deps.Spawner
	cfg.Synthesizer = r.deps.Synthesizer
	cfg.Runner = &r.workers
	cfg.Observer = r.observe
	cfg.Now = r.deps.Now
	return playback.New(cfg)
}

func (r *Registry) putEphemeral(s *playback.Session) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	r.ephemeral[s.ID()] = s
	r.mu.Unlock()

	r.created(s)
	return nil
}

// replaceSlot stops the previous occupant, waits for its teardown and only
// then installs next.
func (r *Registry) replaceSlot(next entry) error {
	r.slotMu.Lock()
	defer r.slotMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	prev := r.slot
	r.mu.Unlock()

	if prev != nil {
		r.evict(prev, events.ReasonReplaced)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	r.slot = next
	r.mu.Unlock()

	r.created(next)
	return nil
}

// TTS looks up a speech or clip session.
func (r *Registry) TTS(id string) (*playback.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.ephemeral[id]
	return s, ok
}

// ListTTS returns speech and clip snapshots, oldest first.
func (r *Registry) ListTTS() []model.PlaybackStatus {
	r.mu.Lock()
	sessions := lo.Values(r.ephemeral)
	r.mu.Unlock()

	out := lo.Map(sessions, func(s *playback.Session, _ int) model.PlaybackStatus { return s.Status() })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Music returns the exclusive slot when it holds a single playback.
func (r *Registry) Music() (*playback.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slot.(*playback.Session)
	return s, ok
}

// Playlist returns the exclusive slot when it holds a playlist.
func (r *Registry) Playlist() (*playlist.Playlist, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.slot.(*playlist.Playlist)
	return p, ok
}

// Stream looks up a streaming session.
func (r *Registry) Stream(id string) (*stream.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	return s, ok
}

// ListStreams returns stream snapshots, oldest first.
func (r *Registry) ListStreams() []model.StreamStatus {
	r.mu.Lock()
	sessions := lo.Values(r.streams)
	r.mu.Unlock()

	out := lo.Map(sessions, func(s *stream.Session, _ int) model.StreamStatus { return s.Status() })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Counts reports how many sessions of each kind are held.
func (r *Registry) Counts() map[model.Kind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := lo.CountValuesBy(lo.Values(r.ephemeral), func(s *playback.Session) model.Kind { return s.Kind() })
	counts[model.KindStream] = len(r.streams)
	if r.slot != nil {
		counts[r.slot.Kind()]++
	}
	return counts
}

// DeleteTTS stops and removes a speech or clip session and its scratch file.
func (r *Registry) DeleteTTS(id string) error {
	r.mu.Lock()
	s, ok := r.ephemeral[id]
	r.mu.Unlock()
	if !ok {
		return model.Errorf(model.ClassNotFound, "registry.delete_tts", "session %s not found", id)
	}
	r.evict(s, events.ReasonDeleted)
	return nil
}

// DeleteStream stops and removes a streaming session.
func (r *Registry) DeleteStream(id string) error {
	r.mu.Lock()
	s, ok := r.streams[id]
	r.mu.Unlock()
	if !ok {
		return model.Errorf(model.ClassNotFound, "registry.delete_stream", "stream %s not found", id)
	}
	r.evict(s, events.ReasonDeleted)
	return nil
}

// CleanupExpired evicts every finished session whose end lies more than
// the TTL before now and returns how many were evicted. A failing session
// is logged and skipped.
func (r *Registry) CleanupExpired(ctx context.Context, now time.Time) int {
	start := time.Now()
	defer func() { metrics.ReaperPassDuration.Observe(time.Since(start).Seconds()) }()

	ttl := r.Options().TTL
	expired := func(e entry) bool {
		if !e.IsFinished() {
			return false
		}
		ended := e.EndedAt()
		return !ended.IsZero() && now.Sub(ended) > ttl
	}

	r.mu.Lock()
	var victims []entry
	for _, s := range r.ephemeral {
		if expired(s) {
			victims = append(victims, s)
		}
	}
	for _, s := range r.streams {
		if expired(s) {
			victims = append(victims, s)
		}
	}
	if r.slot != nil && expired(r.slot) {
		victims = append(victims, r.slot)
	}
	r.mu.Unlock()

	evicted := 0
	for _, e := range victims {
		if ctx.Err() != nil {
			break
		}
		// A playlist may have been restarted since it was collected.
		if pl, ok := e.(*playlist.Playlist); ok && !pl.RetireIfEndedBefore(now.Add(-ttl)) {
			continue
		}
		if r.evict(e, events.ReasonExpired) {
			evicted++
		}
	}
	if evicted > 0 {
		r.logger.Info().Str(log.FieldEvent, "reaper.pass").Int("evicted", evicted).Msg("reaper evicted expired sessions")
	}
	return evicted
}

// evict stops e, removes it from its map and deletes its scratch file. It
// reports whether e was still registered.
func (r *Registry) evict(e entry, reason string) bool {
	logger := r.logger.With().Str(log.FieldSessionID, e.ID()).Str(log.FieldKind, string(e.Kind())).Logger()

	if _, err := e.Stop(); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "registry.stop_failed").Msg("stopping session before removal failed")
	}

	r.mu.Lock()
	removed := false
	switch s := e.(type) {
	case *playback.Session:
		if r.ephemeral[s.ID()] == s {
			delete(r.ephemeral, s.ID())
			removed = true
		}
	case *stream.Session:
		if r.streams[s.ID()] == s {
			delete(r.streams, s.ID())
			removed = true
		}
	}
	if r.slot == e {
		r.slot = nil
		removed = true
	}
	r.mu.Unlock()

	if !removed {
		return false
	}

	if path := e.TempFile(); path != "" && r.deps.TempStore != nil {
		if err := r.deps.TempStore.Remove(path); err != nil {
			logger.Warn().Err(err).Str(log.FieldPath, path).Str(log.FieldEvent, "registry.temp_remove_failed").Msg("could not delete session media")
		}
	}

	metrics.IncSessionRemoved(string(e.Kind()), reason == events.ReasonExpired)
	r.publish(events.Event{Type: events.TypeSessionReaped, SessionID: e.ID(), Kind: e.Kind(), Reason: reason})
	event := "registry.removed"
	if reason == events.ReasonExpired {
		event = "reaper.evicted"
	}
	logger.Info().Str(log.FieldEvent, event).Str("reason", reason).Msg("session removed")
	return true
}

// Shutdown stops every session concurrently and waits for their
// supervisors, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.slotMu.Lock()
	r.mu.Lock()
	r.closed = true
	all := make([]entry, 0, len(r.ephemeral)+len(r.streams)+1)
	for _, s := range r.ephemeral {
		all = append(all, s)
	}
	for _, s := range r.streams {
		all = append(all, s)
	}
	if r.slot != nil {
		all = append(all, r.slot)
	}
	r.mu.Unlock()
	r.slotMu.Unlock()

	var g errgroup.Group
	for _, e := range all {
		g.Go(func() error {
			r.evict(e, events.ReasonShutdown)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := r.workers.CloseAndWait(ctx); err != nil {
		return err
	}
	r.logger.Info().Str(log.FieldEvent, "registry.shutdown").Int("sessions", len(all)).Msg("all sessions stopped")
	return nil
}

func (r *Registry) created(e entry) {
	metrics.IncSessionCreated(string(e.Kind()))
	r.publish(events.Event{Type: events.TypeSessionCreated, SessionID: e.ID(), Kind: e.Kind(), Status: model.StatusCreated})
	r.logger.Info().
		Str(log.FieldEvent, "session.created").
		Str(log.FieldSessionID, e.ID()).
		Str(log.FieldKind, string(e.Kind())).
		Msg("session created")
}

// observe receives every status change of every session.
func (r *Registry) observe(id string, kind model.Kind, from, to model.Status) {
	if to.IsTerminal() && !from.IsTerminal() {
		metrics.IncSessionTerminal(string(kind), string(to))
	}
	r.publish(events.Event{Type: events.TypeSessionStatus, SessionID: id, Kind: kind, Status: to, Previous: from})
}

func (r *Registry) publish(evt events.Event) {
	evt.At = r.deps.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.deps.Publisher.Publish(ctx, evt); err != nil {
		r.logger.Debug().Err(err).Str(log.FieldEvent, "registry.publish_failed").Str("topic", string(evt.Type)).Msg("event not delivered")
	}
}
