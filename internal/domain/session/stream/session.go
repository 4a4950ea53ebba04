// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stream implements incremental audio ingestion: producers feed
// chunks into a bounded queue and a feeder copies them into a
// transcoder whose output is played live.
package stream

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/playd/internal/domain/session/lifecycle"
	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/playback"
	"github.com/ManuGH/playd/internal/domain/session/ports"
	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/metrics"
)

const (
	DefaultQueueSize    = 64
	DefaultPollInterval = 500 * time.Millisecond
)

// Config describes one streaming session.
type Config struct {
	ID           string
	Volume       float64
	QueueSize    int
	PollInterval time.Duration
	StopGrace    time.Duration
	Spawner      ports.PipelineSpawner
	Runner       ports.Runner
	Observer     playback.Observer
	Now          func() time.Time
}

// Session is safe for concurrent use.
type Session struct {
	id       string
	volume   float64
	poll     time.Duration
	grace    time.Duration
	spawner  ports.PipelineSpawner
	runner   ports.Runner
	observer playback.Observer
	now      func() time.Time
	logger   zerolog.Logger

	queue    chan []byte
	eos      chan struct{}
	eosOnce  sync.Once
	stopCh   chan struct{}
	stopOnce sync.Once
	inflight atomic.Int32
	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	mu           sync.Mutex
	status       model.Status
	pipe         ports.Pipeline
	intakeClosed bool
	stopping     bool
	createdAt    time.Time
	startedAt    time.Time
	endedAt      time.Time
	feederDone   chan struct{}
	done         chan struct{}
}

// New builds a stream in the created state.
func New(cfg Config) *Session {
	if cfg.ID == "" {
		cfg.ID = model.NewID()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = playback.DefaultStopGrace
	}
	if cfg.Runner == nil {
		cfg.Runner = ports.GoRunner{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	vol := cfg.Volume
	if math.IsNaN(vol) {
		vol = 1
	}
	return &Session{
		id:         cfg.ID,
		volume:     math.Max(0, math.Min(1, vol)),
		poll:       cfg.PollInterval,
		grace:      cfg.StopGrace,
		spawner:    cfg.Spawner,
		runner:     cfg.Runner,
		observer:   cfg.Observer,
		now:        cfg.Now,
		logger:     log.WithComponent("stream").With().Str(log.FieldSessionID, cfg.ID).Logger(),
		queue:      make(chan []byte, cfg.QueueSize),
		eos:        make(chan struct{}),
		stopCh:     make(chan struct{}),
		status:     model.StatusCreated,
		createdAt:  cfg.Now(),
		feederDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Kind() model.Kind { return model.KindStream }
func (s *Session) TempFile() string { return "" }
func (s *Session) Volume() float64  { return s.volume }

// Done closes on a terminal status.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) IsFinished() bool { return s.State().IsTerminal() }

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Start spawns the pipeline and the feeder and supervisor goroutines.
func (s *Session) Start(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.status != model.StatusCreated || s.pipe != nil {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	pipe, err := s.spawner.SpawnPipeline(ctx, int(math.Round(s.volume*100)))
	if err != nil {
		err = model.Wrap(model.ClassSpawnFailure, "stream.start", err)
		s.mu.Lock()
		from, to := s.transitionLocked(lifecycle.EvFail)
		s.mu.Unlock()
		s.notify(from, to)
		s.logger.Error().Err(err).Str(log.FieldEvent, "stream.spawn_failed").Msg("pipeline could not start")
		return false, err
	}

	s.mu.Lock()
	if s.status != model.StatusCreated {
		s.mu.Unlock()
		_, _ = pipe.Terminate(s.grace)
		return false, nil
	}
	s.pipe = pipe
	s.startedAt = s.now()
	from, to := s.transitionLocked(lifecycle.EvPlay)
	s.mu.Unlock()
	s.notify(from, to)

	feederStarted := s.runner.Go(func() { s.feed(pipe) })
	if !feederStarted {
		close(s.feederDone)
	}
	if !feederStarted || !s.runner.Go(func() { s.supervise(pipe) }) {
		_, _ = s.Stop()
		return false, model.Errorf(model.ClassSpawnFailure, "stream.start", "shutting down")
	}

	s.logger.Info().Str(log.FieldEvent, "stream.started").Int("queue_size", cap(s.queue)).Msg("stream started")
	return true, nil
}

// Feed enqueues one chunk, blocking while the queue is full. An empty chunk
// marks end of stream: intake closes and the transcoder input is closed
// once every queued chunk has been written.
func (s *Session) Feed(ctx context.Context, chunk []byte) (bool, error) {
	s.mu.Lock()
	if s.status != model.StatusPlaying {
		st := s.status
		s.mu.Unlock()
		return false, model.Errorf(model.ClassInvalidArgument, "stream.feed", "stream is %s", st)
	}
	if s.intakeClosed {
		s.mu.Unlock()
		return false, model.Errorf(model.ClassInvalidArgument, "stream.feed", "stream intake is closed")
	}
	if len(chunk) == 0 {
		s.intakeClosed = true
		s.mu.Unlock()
		s.eosOnce.Do(func() { close(s.eos) })
		s.logger.Debug().Str(log.FieldEvent, "stream.eos").Msg("end of stream received")
		return true, nil
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Add(-1)

	select {
	case s.queue <- chunk:
		s.bytesIn.Add(int64(len(chunk)))
		metrics.AddStreamBytes("in", len(chunk))
		metrics.StreamQueueDepth.Inc()
		return true, nil
	case <-s.stopCh:
		return false, model.Errorf(model.ClassChannelFailure, "stream.feed", "stream stopped")
	case <-ctx.Done():
		return false, model.Wrap(model.ClassTimeout, "stream.feed", ctx.Err())
	}
}

// End sends the end-of-stream sentinel.
func (s *Session) End() (bool, error) {
	return s.Feed(context.Background(), nil)
}

// feed copies queued chunks into the transcoder and closes its input when
// the stream ends, a stage exits, a write fails, or Stop is called.
func (s *Session) feed(pipe ports.Pipeline) {
	defer close(s.feederDone)
	stdin := pipe.Stdin()
	defer func() {
		if err := stdin.Close(); err != nil {
			s.logger.Debug().Err(err).Str(log.FieldEvent, "stream.stdin_close").Msg("closing transcoder input")
		}
	}()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	eos := s.eos
	for {
		select {
		case chunk := <-s.queue:
			if !s.write(stdin, chunk) {
				return
			}
			continue
		default:
		}

		if eos == nil && s.inflight.Load() == 0 && len(s.queue) == 0 {
			return
		}

		select {
		case chunk := <-s.queue:
			if !s.write(stdin, chunk) {
				return
			}
		case <-eos:
			// Drain what is left before closing stdin.
			eos = nil
		case <-pipe.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) write(w io.Writer, chunk []byte) bool {
	metrics.StreamQueueDepth.Dec()
	n, err := w.Write(chunk)
	s.bytesOut.Add(int64(n))
	metrics.AddStreamBytes("out", n)
	if err != nil {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "stream.write_failed").Msg("transcoder input write failed")
		return false
	}
	return true
}

func (s *Session) supervise(pipe ports.Pipeline) {
	st := pipe.Wait()
	<-s.feederDone

	s.mu.Lock()
	if s.stopping || s.pipe != pipe {
		s.mu.Unlock()
		return
	}
	sawEOS := s.intakeClosed
	ev := lifecycle.EvExitFailed
	if sawEOS && st.Success() {
		ev = lifecycle.EvExitClean
	}
	s.intakeClosed = true
	s.pipe = nil
	from, to := s.transitionLocked(ev)
	s.mu.Unlock()
	s.closeStop()
	s.discardQueue()

	s.notify(from, to)
	s.logger.Info().
		Str(log.FieldEvent, "stream.exited").
		Int("transcoder_code", st.Transcoder.Code).
		Int("player_code", st.Player.Code).
		Bool("eos", sawEOS).
		Str(log.FieldNewState, string(to)).
		Msg("stream pipeline exited")
}

// Stop terminates both stages and waits for the feeder. A second call
// returns false.
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
	case s.pipe == nil:
		from, to := s.transitionLocked(lifecycle.EvCancel)
		s.mu.Unlock()
		s.closeStop()
		s.notify(from, to)
		return true, nil
	}
	s.stopping = true
	s.intakeClosed = true
	pipe := s.pipe
	s.mu.Unlock()

	s.closeStop()
	forced, err := pipe.Terminate(s.grace)
	if err != nil && !errors.Is(err, ports.ErrProcessExited) {
		s.logger.Warn().Err(err).Str(log.FieldEvent, "stream.terminate_failed").Msg("terminate reported an error")
	}
	<-s.feederDone
	s.discardQueue()

	ev := lifecycle.EvStopGraceful
	if forced {
		ev = lifecycle.EvStopForced
	}
	s.mu.Lock()
	s.pipe = nil
	from, to := s.transitionLocked(ev)
	s.mu.Unlock()

	s.notify(from, to)
	s.logger.Info().Str(log.FieldEvent, "stream.stopped").Bool("forced", forced).Msg("stream stopped")
	return true, nil
}

// Status returns a snapshot.
func (s *Session) Status() model.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.StreamStatus{
		SessionID:     s.id,
		Status:        s.status,
		Volume:        s.volume,
		BytesReceived: s.bytesIn.Load(),
		BytesWritten:  s.bytesOut.Load(),
		QueueDepth:    len(s.queue),
		EndOfStream:   s.intakeClosed,
		CreatedAt:     s.createdAt,
		StartedAt:     model.TimePtr(s.startedAt),
		EndedAt:       model.TimePtr(s.endedAt),
	}
}

func (s *Session) closeStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// discardQueue drops chunks no feeder will ever write.
func (s *Session) discardQueue() {
	for {
		select {
		case <-s.queue:
			metrics.StreamQueueDepth.Dec()
		default:
			return
		}
	}
}

// transitionLocked requires s.mu.
func (s *Session) transitionLocked(ev lifecycle.EventKind) (from, to model.Status) {
	from = s.status
	to, err := lifecycle.Apply(from, ev)
	if err != nil {
		s.logger.Error().Err(err).Str(log.FieldEvent, "stream.illegal_transition").Msg("transition rejected")
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
	s.observer(s.id, model.KindStream, from, to)
}
