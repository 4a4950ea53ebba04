// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playlist sequences catalog tracks on top of single playbacks.
// A playlist owns at most one playback at a time and mirrors its status.
package playlist

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/playd/internal/domain/session/lifecycle"
	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/playback"
	"github.com/ManuGH/playd/internal/domain/session/ports"
	"github.com/ManuGH/playd/internal/log"
)

// Options are the live-reloadable sequencing flags.
type Options struct {
	AutoAdvance bool
	Loop        bool
}

// Config describes one playlist.
type Config struct {
	ID     string
	Name   string
	Tracks []model.Track
	Volume float64

	Resolver  ports.Resolver
	Spawner   ports.Spawner
	Runner    ports.Runner
	StopGrace time.Duration
	// Options is consulted whenever a track finishes. Nil means
	// auto-advance without looping.
	Options  func() Options
	Observer playback.Observer
	Now      func() time.Time
}

// Playlist is safe for concurrent use. Track changes are serialized by
// opMu; field access is guarded by mu.
type Playlist struct {
	id   string
	name string

	resolver ports.Resolver
	spawner  ports.Spawner
	runner   ports.Runner
	grace    time.Duration
	options  func() Options
	observer playback.Observer
	now      func() time.Time
	logger   zerolog.Logger

	opMu sync.Mutex

	mu        sync.Mutex
	tracks    []model.Track
	index     int
	volume    float64
	status    model.Status
	current   *playback.Session
	gen       uint64
	retired   bool
	createdAt time.Time
	endedAt   time.Time
}

// New builds a playlist in the created state.
func New(cfg Config) *Playlist {
	if cfg.ID == "" {
		cfg.ID = model.NewID()
	}
	if cfg.Runner == nil {
		cfg.Runner = ports.GoRunner{}
	}
	if cfg.Options == nil {
		cfg.Options = func() Options { return Options{AutoAdvance: true} }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	vol := cfg.Volume
	if math.IsNaN(vol) {
		vol = 1
	}
	return &Playlist{
		id:        cfg.ID,
		name:      cfg.Name,
		resolver:  cfg.Resolver,
		spawner:   cfg.Spawner,
		runner:    cfg.Runner,
		grace:     cfg.StopGrace,
		options:   cfg.Options,
		observer:  cfg.Observer,
		now:       cfg.Now,
		logger:    log.WithComponent("playlist").With().Str(log.FieldSessionID, cfg.ID).Logger(),
		tracks:    append([]model.Track(nil), cfg.Tracks...),
		volume:    math.Max(0, math.Min(1, vol)),
		status:    model.StatusCreated,
		createdAt: cfg.Now(),
	}
}

func (p *Playlist) ID() string       { return p.id }
func (p *Playlist) Kind() model.Kind { return model.KindPlaylist }
func (p *Playlist) TempFile() string { return "" }

// State returns the status mirror.
func (p *Playlist) State() model.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// IsFinished reports a terminal mirror status.
func (p *Playlist) IsFinished() bool { return p.State().IsTerminal() }

// EndedAt is when the mirror last became terminal, or the zero time.
func (p *Playlist) EndedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endedAt
}

// Len returns the number of tracks.
func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracks)
}

// Index returns the cursor.
func (p *Playlist) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Current returns the owned playback, or nil.
func (p *Playlist) Current() *playback.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// AddTracks appends tracks without touching the running playback and
// returns the new length.
func (p *Playlist) AddTracks(tracks ...model.Track) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, tracks...)
	return len(p.tracks)
}

// Play plays the track under the cursor.
func (p *Playlist) Play(ctx context.Context) (bool, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	n, i := len(p.tracks), p.index
	p.mu.Unlock()
	if n == 0 {
		return false, model.Errorf(model.ClassInvalidArgument, "playlist.play", "playlist is empty")
	}
	return p.playIndexLocked(ctx, i)
}

// PlayIndex stops the current track, waits for it and plays track i.
func (p *Playlist) PlayIndex(ctx context.Context, i int) (bool, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.playIndexLocked(ctx, i)
}

// Next advances the cursor, wrapping to the first track. It is a no-op on
// an empty playlist.
func (p *Playlist) Next(ctx context.Context) (bool, error) {
	return p.step(ctx, 1)
}

// Prev moves the cursor back, wrapping to the last track.
func (p *Playlist) Prev(ctx context.Context) (bool, error) {
	return p.step(ctx, -1)
}

func (p *Playlist) step(ctx context.Context, delta int) (bool, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	n := len(p.tracks)
	if n == 0 {
		p.mu.Unlock()
		return false, nil
	}
	i := ((p.index+delta)%n + n) % n
	p.mu.Unlock()
	return p.playIndexLocked(ctx, i)
}

// playIndexLocked requires opMu.
func (p *Playlist) playIndexLocked(ctx context.Context, i int) (bool, error) {
	p.mu.Lock()
	if p.retired {
		p.mu.Unlock()
		return false, model.Errorf(model.ClassNotFound, "playlist.play", "playlist %s was removed", p.id)
	}
	if i < 0 || i >= len(p.tracks) {
		n := len(p.tracks)
		p.mu.Unlock()
		return false, model.Errorf(model.ClassInvalidArgument, "playlist.play_index", "index %d out of range [0,%d)", i, n)
	}
	p.gen++
	gen := p.gen
	prev := p.current
	vol := p.volume
	p.mu.Unlock()

	if prev != nil {
		if _, err := prev.Stop(); err != nil {
			p.logger.Warn().Err(err).Str(log.FieldEvent, "playlist.stop_previous").Msg("previous track did not stop cleanly")
		}
	}

	track, err := p.resolve(ctx, i)
	if err != nil {
		p.failTrack(i, nil, err)
		return false, err
	}

	sess := playback.New(playback.Config{
		Kind:      model.KindMusic,
		Source:    sourceFor(track.URL),
		Title:     track.Name,
		Volume:    vol,
		StopGrace: p.grace,
		Spawner:   p.spawner,
		Runner:    p.runner,
		Now:       p.now,
	})

	p.mu.Lock()
	p.current = sess
	p.index = i
	p.mu.Unlock()

	ok, err := sess.Play(ctx)
	if err != nil {
		p.failTrack(i, sess, err)
		return false, err
	}
	if !ok {
		return false, nil
	}

	p.mu.Lock()
	from, to := p.mirrorLocked(lifecycle.EvPlay)
	p.mu.Unlock()
	p.notify(from, to)

	p.logger.Info().
		Str(log.FieldEvent, "playlist.track_started").
		Str(log.FieldTrackID, track.ID).
		Int("index", i).
		Msg("playing track")

	if !p.runner.Go(func() { p.watch(sess, gen) }) {
		_, _ = sess.Stop()
	}
	return true, nil
}

// resolve fills the track URL through the resolver and caches it in place.
func (p *Playlist) resolve(ctx context.Context, i int) (model.Track, error) {
	p.mu.Lock()
	track := p.tracks[i]
	p.mu.Unlock()

	if track.URL != "" {
		return track, nil
	}
	if p.resolver == nil {
		return track, model.Errorf(model.ClassUpstreamFailure, "playlist.resolve", "track %s has no url and no resolver is configured", track.ID)
	}

	url, err := p.resolver.ResolveURL(ctx, track.ID)
	if err != nil {
		return track, model.Wrap(model.ClassUpstreamFailure, "playlist.resolve", err)
	}
	if url == "" {
		return track, model.Errorf(model.ClassUpstreamFailure, "playlist.resolve", "track %s has no playable url", track.ID)
	}
	track.URL = url
	if track.Name == "" {
		if name, err := p.resolver.ResolveName(ctx, track.ID); err == nil {
			track.Name = name
		}
	}

	p.mu.Lock()
	if i < len(p.tracks) && p.tracks[i].ID == track.ID {
		p.tracks[i] = track
	}
	p.mu.Unlock()
	return track, nil
}

func (p *Playlist) failTrack(i int, sess *playback.Session, err error) {
	p.mu.Lock()
	p.index = i
	if sess != nil && p.current == sess {
		p.current = nil
	}
	from, to := p.mirrorLocked(lifecycle.EvFail)
	p.mu.Unlock()
	p.notify(from, to)

	p.logger.Warn().Err(err).Str(log.FieldEvent, "playlist.track_failed").Int("index", i).Msg("track could not start")
}

// watch waits for one track and advances when it finished on its own.
func (p *Playlist) watch(sess *playback.Session, gen uint64) {
	<-sess.Done()
	st := sess.State()

	p.mu.Lock()
	if p.gen != gen || p.current != sess {
		p.mu.Unlock()
		return
	}
	switch st {
	case model.StatusCompleted:
	case model.StatusError:
		from, to := p.mirrorLocked(lifecycle.EvExitFailed)
		p.mu.Unlock()
		p.notify(from, to)
		return
	default:
		// Stopped or killed: whoever stopped it owns the mirror.
		p.mu.Unlock()
		return
	}

	opts := p.options()
	next := p.index + 1
	if next >= len(p.tracks) {
		next = 0
		if !opts.Loop {
			opts.AutoAdvance = false
		}
	}
	if !opts.AutoAdvance {
		from, to := p.mirrorLocked(lifecycle.EvExitClean)
		p.mu.Unlock()
		p.notify(from, to)
		return
	}
	p.mu.Unlock()

	p.opMu.Lock()
	defer p.opMu.Unlock()
	p.mu.Lock()
	stale := p.gen != gen
	p.mu.Unlock()
	if stale {
		return
	}
	if _, err := p.playIndexLocked(context.Background(), next); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldEvent, "playlist.advance_failed").Int("index", next).Msg("auto-advance failed")
	}
}

// Pause pauses the owned playback.
func (p *Playlist) Pause() (bool, error) {
	return p.proxy(lifecycle.EvPause, (*playback.Session).Pause)
}

// Resume resumes the owned playback.
func (p *Playlist) Resume() (bool, error) {
	return p.proxy(lifecycle.EvResume, (*playback.Session).Resume)
}

func (p *Playlist) proxy(ev lifecycle.EventKind, fn func(*playback.Session) (bool, error)) (bool, error) {
	cur := p.Current()
	if cur == nil {
		return false, nil
	}
	ok, err := fn(cur)
	if !ok || err != nil {
		return ok, err
	}
	p.mu.Lock()
	from, to := p.mirrorLocked(ev)
	p.mu.Unlock()
	p.notify(from, to)
	return true, nil
}

// Seek forwards to the owned playback.
func (p *Playlist) Seek(amount float64, mode model.SeekMode) (bool, error) {
	cur := p.Current()
	if cur == nil {
		return false, model.Errorf(model.ClassChannelFailure, "playlist.seek", "no track is playing")
	}
	return cur.Seek(amount, mode)
}

// SetVolume stores v for subsequent tracks and forwards it to the owned
// playback.
func (p *Playlist) SetVolume(v float64) (bool, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return false, model.Errorf(model.ClassInvalidArgument, "playlist.volume", "volume %v outside [0,1]", v)
	}
	p.mu.Lock()
	p.volume = v
	cur := p.current
	p.mu.Unlock()

	if cur == nil {
		return true, nil
	}
	return cur.SetVolume(v)
}

// Volume returns the playlist volume.
func (p *Playlist) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Stop stops the owned playback and waits for it. A playlist that never
// played moves to stopped; otherwise Stop without a track is a no-op.
func (p *Playlist) Stop() (bool, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.gen++
	cur := p.current
	if cur == nil {
		if p.status != model.StatusCreated {
			p.mu.Unlock()
			return false, nil
		}
		from, to := p.mirrorLocked(lifecycle.EvCancel)
		p.mu.Unlock()
		p.notify(from, to)
		return true, nil
	}
	p.mu.Unlock()

	ok, err := cur.Stop()
	if err != nil {
		return false, err
	}

	ev := lifecycle.EvStopGraceful
	if cur.State() == model.StatusKilled {
		ev = lifecycle.EvStopForced
	}
	p.mu.Lock()
	from, to := p.mirrorLocked(ev)
	p.mu.Unlock()
	p.notify(from, to)
	return ok || from != to, nil
}

// RetireIfEndedBefore retires the playlist when it is still finished and
// became so before cutoff. A retired playlist refuses to play again. Track
// changes in flight complete first, so a playlist restarted meanwhile is
// left alone.
func (p *Playlist) RetireIfEndedBefore(cutoff time.Time) bool {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retired {
		return true
	}
	if !p.status.IsTerminal() || p.endedAt.IsZero() || !p.endedAt.Before(cutoff) {
		return false
	}
	if p.current != nil && !p.current.IsFinished() {
		return false
	}
	p.retired = true
	p.gen++
	return true
}

// Status returns a snapshot including the current track.
func (p *Playlist) Status() model.PlaylistStatus {
	p.mu.Lock()
	st := model.PlaylistStatus{
		SessionID:      p.id,
		Name:           p.name,
		Status:         p.status,
		Playlist:       append([]model.Track(nil), p.tracks...),
		CurrentIndex:   p.index,
		Volume:         p.volume,
		PlaylistLength: len(p.tracks),
		CreatedAt:      p.createdAt,
	}
	cur := p.current
	p.mu.Unlock()

	if cur != nil {
		song := cur.Status()
		st.CurrentSongStatus = &song
		st.IsPlaying = cur.IsPlaying()
	}
	return st
}

// mirrorLocked requires mu. Illegal edges leave the mirror unchanged.
func (p *Playlist) mirrorLocked(ev lifecycle.EventKind) (from, to model.Status) {
	from = p.status
	to, err := lifecycle.ApplyPlaylist(from, ev)
	if err != nil {
		p.logger.Debug().Err(err).Str(log.FieldEvent, "playlist.mirror_skipped").Msg("status mirror unchanged")
		return from, from
	}
	p.status = to
	switch {
	case to.IsTerminal() && !from.IsTerminal():
		p.endedAt = p.now()
	case !to.IsTerminal():
		p.endedAt = time.Time{}
	}
	return from, to
}

func (p *Playlist) notify(from, to model.Status) {
	if p.observer == nil || from == to {
		return
	}
	p.observer(p.id, model.KindPlaylist, from, to)
}

func sourceFor(ref string) ports.Source {
	if strings.Contains(ref, "://") {
		return ports.Source{URL: ref}
	}
	return ports.Source{Path: ref}
}
