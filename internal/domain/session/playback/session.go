// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback implements a single controllable playback: one media
// source driven by one player process.
package playback

import (
	"context"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/playd/internal/domain/session/lifecycle"
	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/ports"
	"github.com/ManuGH/playd/internal/log"
)

// DefaultStopGrace is how long Stop waits for a quitting player before
// killing it.
const DefaultStopGrace = 5 * time.Second

// Observer is told about every status change after the session lock is
// released. It must not call back into the session synchronously.
type Observer func(id string, kind model.Kind, from, to model.Status)

// Config describes one playback.
type Config struct {
	ID     string
	Kind   model.Kind
	Source ports.Source
	// Text and Voice are set for speech sessions; Source is then filled
	// by the Synthesizer on Play.
	Text  string
	Voice string
	Title string
	// OwnsFile marks Source.Path as scratch media to delete on removal.
	OwnsFile bool
	Volume   float64

	StopGrace   time.Duration
	Spawner     ports.Spawner
	Synthesizer ports.Synthesizer
	Runner      ports.Runner
	Observer    Observer
	Now         func() time.Time
}

// Session is one playable unit. All methods are safe for concurrent use.
type Session struct {
	id       string
	kind     model.Kind
	text     string
	voice    string
	title    string
	ownsFile bool

	grace    time.Duration
	spawner  ports.Spawner
	synth    ports.Synthesizer
	runner   ports.Runner
	observer Observer
	now      func() time.Time
	logger   zerolog.Logger

	mu        sync.Mutex
	source    ports.Source
	status    model.Status
	volume    float64
	proc      ports.Process
	starting  bool
	stopping  bool
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
	done      chan struct{}
}

// New builds a session in the created state. Volume is clamped to [0,1].
func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = model.NewID()
	}
	if cfg.Kind == "" {
		cfg.Kind = model.KindMusic
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Runner == nil {
		cfg.Runner = ports.GoRunner{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		id:        cfg.ID,
		kind:      cfg.Kind,
		text:      cfg.Text,
		voice:     cfg.Voice,
		title:     cfg.Title,
		ownsFile:  cfg.OwnsFile,
		grace:     cfg.StopGrace,
		spawner:   cfg.Spawner,
		synth:     cfg.Synthesizer,
		runner:    cfg.Runner,
		observer:  cfg.Observer,
		now:       cfg.Now,
		logger:    log.WithComponent("playback").With().Str(log.FieldSessionID, cfg.ID).Str(log.FieldKind, string(cfg.Kind)).Logger(),
		source:    cfg.Source,
		status:    model.StatusCreated,
		volume:    clamp(cfg.Volume),
		createdAt: cfg.Now(),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Kind() model.Kind { return s.kind }

// Done closes when the session reaches a terminal status.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current status.
func (s *Session) State() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Volume returns the stored volume in [0,1].
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// IsFinished reports whether the session is terminal. Error counts as
// finished so that failed sessions are reaped like the rest.
func (s *Session) IsFinished() bool {
	return s.State().IsTerminal()
}

// EndedAt returns when the session became terminal, or the zero time.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// TempFile returns the scratch file to delete on removal, or "".
func (s *Session) TempFile() string {
	if !s.ownsFile {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source.Path
}

// Play spawns the player. It returns false without a state change when the
// session is not in the created state or the media reference is invalid.
// Synthesis and spawn failures move the session to error.
func (s *Session) Play(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.status != model.StatusCreated || s.starting {
		s.mu.Unlock()
		return false, nil
	}
	s.starting = true
	s.mu.Unlock()

	src, err := s.prepareSource(ctx)
	if err != nil {
		if model.ClassOf(err) == model.ClassInvalidArgument {
			s.mu.Lock()
			s.starting = false
			s.mu.Unlock()
		} else {
			s.fail(err)
		}
		return false, err
	}

	proc, err := s.spawner.Spawn(ctx, src, percent(s.Volume()))
	if err != nil {
		err = model.Wrap(model.ClassSpawnFailure, "playback.play", err)
		s.fail(err)
		return false, err
	}

	s.mu.Lock()
	s.starting = false
	if s.status != model.StatusCreated {
		// Stopped while the player was starting.
		s.mu.Unlock()
		_, _ = proc.Terminate(s.grace)
		return false, nil
	}
	s.source = src
	s.proc = proc
	s.startedAt = s.now()
	from, to := s.transitionLocked(lifecycle.EvPlay)
	s.mu.Unlock()

	s.notify(from, to)
	s.logger.Info().
		Str(log.FieldEvent, "playback.started").
		Int(log.FieldPID, proc.Pid()).
		Str("target", src.Target()).
		Msg("playback started")

	if !s.runner.Go(func() { s.supervise(proc) }) {
		// Runner is shutting down: do not leave an unsupervised player.
		_, _ = s.Stop()
	}
	return true, nil
}

func (s *Session) prepareSource(ctx context.Context) (ports.Source, error) {
	s.mu.Lock()
	src := s.source
	s.mu.Unlock()

	if s.kind == model.KindTTS && src.Path == "" && src.URL == "" {
		if s.synth == nil {
			return src, model.Errorf(model.ClassUpstreamFailure, "playback.synthesize", "no synthesizer configured")
		}
		path, err := s.synth.Synthesize(ctx, s.text, s.voice)
		if err != nil {
			if model.ClassOf(err) != "" {
				return src, err
			}
			return src, model.Wrap(model.ClassUpstreamFailure, "playback.synthesize", err)
		}
		if path == "" || !fileExists(path) {
			return src, model.Errorf(model.ClassUpstreamFailure, "playback.synthesize", "synthesizer produced no audio")
		}
		src = ports.Source{Path: path}
	}

	if err := src.Validate(); err != nil {
		return src, model.Wrap(model.ClassInvalidArgument, "playback.play", err)
	}
	if src.Path != "" && !fileExists(src.Path) {
		return src, model.Errorf(model.ClassInvalidArgument, "playback.play", "media file %q does not exist", src.Path)
	}
	if src.URL != "" && !strings.Contains(src.URL, "://") {
		return src, model.Errorf(model.ClassInvalidArgument, "playback.play", "media url %q has no scheme", src.URL)
	}
	return src, nil
}

// supervise blocks on the player exit and finalizes the status unless a
// concurrent Stop owns the finalization.
func (s *Session) supervise(proc ports.Process) {
	st := proc.Wait()

	s.mu.Lock()
	if s.proc != proc || s.stopping {
		s.mu.Unlock()
		return
	}
	ev := lifecycle.EvExitClean
	if !st.Success() {
		ev = lifecycle.EvExitFailed
	}
	s.proc = nil
	from, to := s.transitionLocked(ev)
	s.mu.Unlock()

	s.notify(from, to)
	evt := s.logger.Info()
	if ev == lifecycle.EvExitFailed {
		evt = s.logger.Warn().AnErr("exit_err", st.Err)
	}
	evt.Str(log.FieldEvent, "playback.exited").
		Int(log.FieldExitCode, st.Code).
		Str(log.FieldNewState, string(to)).
		Msg("player exited")
}

// Pause sends PAUSE_TOGGLE. It is a no-op returning false when the session
// is already paused or has no live player.
func (s *Session) Pause() (bool, error) {
	return s.toggle(model.StatusPlaying, lifecycle.EvPause)
}

// Resume sends PAUSE_TOGGLE. It is a no-op returning false when the
// session is not paused.
func (s *Session) Resume() (bool, error) {
	return s.toggle(model.StatusPaused, lifecycle.EvResume)
}

func (s *Session) toggle(want model.Status, ev lifecycle.EventKind) (bool, error) {
	s.mu.Lock()
	if s.proc == nil || s.status != want {
		s.mu.Unlock()
		return false, nil
	}
	if err := s.proc.Send(ports.PauseToggle()); err != nil {
		s.mu.Unlock()
		return false, model.Wrap(model.ClassChannelFailure, "playback."+ev.String(), err)
	}
	from, to := s.transitionLocked(ev)
	s.mu.Unlock()

	s.notify(from, to)
	return true, nil
}

// Seek forwards SEEK. It fails on an unknown mode or a dead player.
func (s *Session) Seek(amount float64, mode model.SeekMode) (bool, error) {
	if !mode.Valid() {
		return false, model.Errorf(model.ClassInvalidArgument, "playback.seek", "unknown seek mode %d", mode)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false, model.Errorf(model.ClassInvalidArgument, "playback.seek", "seek amount must be finite")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || !s.status.IsActive() {
		return false, model.Errorf(model.ClassChannelFailure, "playback.seek", "no live player")
	}
	if err := s.proc.Send(ports.Seek(amount, mode)); err != nil {
		return false, model.Wrap(model.ClassChannelFailure, "playback.seek", err)
	}
	return true, nil
}

// SetVolume stores v and forwards it to a live player. v must be in [0,1].
func (s *Session) SetVolume(v float64) (bool, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return false, model.Errorf(model.ClassInvalidArgument, "playback.volume", "volume %v outside [0,1]", v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	if s.proc == nil || !s.status.IsActive() {
		return true, nil
	}
	if err := s.proc.Send(ports.SetVolume(percent(v))); err != nil {
		return false, model.Wrap(model.ClassChannelFailure, "playback.volume", err)
	}
	return true, nil
}

// Stop terminates the player with the grace period and waits for it to
// exit. The status becomes stopped, or killed when the player had to be
// killed. Stopping a terminal session is a no-op returning false.
func (s *Session) Stop() (bool, error) {
	s.mu.Lock()
	switch {
	case s.status.IsTerminal():
		s.mu.Unlock()
		return false, nil
	case s.stopping:
		s.mu.Unlock()
		<-s.done
		return false, nil
	case s.proc == nil:
		from, to := s.transitionLocked(lifecycle.EvCancel)
		s.mu.Unlock()
		s.notify(from, to)
		return true, nil
	}
	s.stopping = true
	proc := s.proc
	s.mu.Unlock()

	forced, err := proc.Terminate(s.grace)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "playback.terminate_failed").Msg("terminate reported an error")
	}

	ev := lifecycle.EvStopGraceful
	if forced {
		ev = lifecycle.EvStopForced
	}

	s.mu.Lock()
	s.proc = nil
	from, to := s.transitionLocked(ev)
	s.mu.Unlock()

	s.notify(from, to)
	s.logger.Info().
		Str(log.FieldEvent, "playback.stopped").
		Bool("forced", forced).
		Msg("playback stopped")
	return true, nil
}

// Status returns a snapshot.
func (s *Session) Status() model.PlaybackStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.PlaybackStatus{
		SessionID: s.id,
		Kind:      s.kind,
		Status:    s.status,
		Text:      s.text,
		Voice:     s.voice,
		URL:       s.source.URL,
		FilePath:  s.source.Path,
		Title:     s.title,
		Volume:    s.volume,
		CreatedAt: s.createdAt,
		StartedAt: model.TimePtr(s.startedAt),
		EndedAt:   model.TimePtr(s.endedAt),
	}
}

// IsPlaying is true only while the player runs unpaused.
func (s *Session) IsPlaying() bool {
	return s.State() == model.StatusPlaying
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.starting = false
	if s.status != model.StatusCreated {
		s.mu.Unlock()
		return
	}
	from, to := s.transitionLocked(lifecycle.EvFail)
	s.mu.Unlock()

	s.notify(from, to)
	s.logger.Error().Err(err).Str(log.FieldEvent, "playback.failed").Msg("playback could not start")
}

// transitionLocked applies ev and closes done on reaching a terminal status.
// Caller must hold s.mu.
func (s *Session) transitionLocked(ev lifecycle.EventKind) (from, to model.Status) {
	from = s.status
	to, err := lifecycle.Apply(from, ev)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "playback.illegal_transition").Msg("transition rejected")
		return from, from
	}
	s.status = to
	if to.IsTerminal() && !from.IsTerminal() {
		s.endedAt = s.now()
		close(s.done)
	}
	return from, to
}

func (s *Session) notify(from, to model.Status) {
	if s.observer == nil || from == to {
		return
	}
	s.observer(s.id, s.kind, from, to)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Max(0, math.Min(1, v))
}

func percent(v float64) int {
	return int(math.Round(clamp(v) * 100))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
