// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mplayer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/playd/internal/domain/session/ports"
	"github.com/ManuGH/playd/internal/infra/ffmpeg"
	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/metrics"
	"github.com/ManuGH/playd/internal/procgroup"
)

// PipelineSpawner starts a transcoder whose stdout is the stdin of a
// player. It implements ports.PipelineSpawner.
type PipelineSpawner struct {
	cfg    Config
	logger zerolog.Logger
}

func NewPipelineSpawner(cfg Config) *PipelineSpawner {
	return &PipelineSpawner{cfg: cfg.withDefaults(), logger: log.WithComponent("pipeline")}
}

// PlayerArgs returns the player arguments for stdin playback.
func (s *PipelineSpawner) PlayerArgs(volumePercent int) []string {
	return []string{
		"-ao", s.cfg.AudioOut,
		"-quiet",
		"-cache", strconv.Itoa(s.cfg.CacheKB),
		"-volume", strconv.Itoa(volumePercent),
		"-",
	}
}

func (s *PipelineSpawner) SpawnPipeline(ctx context.Context, volumePercent int) (ports.Pipeline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ring := ffmpeg.NewRingBuffer(diagnosticLines)

	// #nosec G204 -- binaries come from configuration
	trans := exec.Command(s.cfg.TranscoderBinary, ffmpeg.DecodeArgs()...)
	// #nosec G204
	player := exec.Command(s.cfg.Binary, s.PlayerArgs(volumePercent)...)
	for _, c := range []*exec.Cmd{trans, player} {
		c.Env = s.cfg.env()
		c.WaitDelay = waitDelay
		procgroup.Set(c)
	}
	trans.Stderr = &lineWriter{fn: func(l string) { ring.Add("transcoder: " + l) }}
	player.Stdout = &lineWriter{fn: func(l string) { ring.Add("player: " + l) }}
	player.Stderr = &lineWriter{fn: func(l string) { ring.Add("player: " + l) }}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipeline pipe: %w", err)
	}
	trans.Stdout = pw
	player.Stdin = pr

	stdin, err := trans.StdinPipe()
	if err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("transcoder stdin pipe: %w", err)
	}

	if err := player.Start(); err != nil {
		metrics.IncProcSpawn("stream_player", "error")
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start %s: %w", s.cfg.Binary, err)
	}
	metrics.IncProcSpawn("stream_player", "ok")

	if err := trans.Start(); err != nil {
		metrics.IncProcSpawn("transcoder", "error")
		_ = pr.Close()
		_ = pw.Close()
		_ = procgroup.Kill(player, syscall.SIGKILL)
		_ = player.Wait()
		return nil, fmt.Errorf("start %s: %w", s.cfg.TranscoderBinary, err)
	}
	metrics.IncProcSpawn("transcoder", "ok")

	// The children hold their own copies of the pipe ends.
	_ = pr.Close()
	_ = pw.Close()

	p := &Pipeline{
		trans:  newStage(trans),
		player: newStage(player),
		stdin:  stdin,
		ring:   ring,
		done:   make(chan struct{}),
		logger: s.logger.With().Int("transcoder_pid", trans.Process.Pid).Int("player_pid", player.Process.Pid).Logger(),
	}
	p.logger.Info().Str(log.FieldEvent, "pipeline.spawned").Int(log.FieldVolume, volumePercent).Msg("stream pipeline started")

	go p.trans.reap()
	go p.player.reap()
	go func() {
		<-p.trans.done
		<-p.player.done
		close(p.done)
	}()
	return p, nil
}

type stage struct {
	cmd     *exec.Cmd
	started time.Time
	done    chan struct{}
	exit    ports.ExitStatus
}

func newStage(cmd *exec.Cmd) *stage {
	return &stage{cmd: cmd, started: time.Now(), done: make(chan struct{})}
}

func (s *stage) reap() {
	err := s.cmd.Wait()
	code := -1
	if s.cmd.ProcessState != nil {
		code = s.cmd.ProcessState.ExitCode()
	}
	if errors.Is(err, exec.ErrWaitDelay) && code == 0 {
		err = nil
	}
	s.exit = ports.ExitStatus{Code: code, Err: err, StartedAt: s.started, EndedAt: time.Now()}
	close(s.done)
}

func (s *stage) terminate(grace time.Duration) bool {
	return procgroup.Terminate(s.cmd, s.done, func() error { return s.exit.Err }, grace, nil).Forced
}

// Pipeline is a running transcoder feeding a player.
type Pipeline struct {
	trans  *stage
	player *stage
	stdin  io.WriteCloser
	ring   *ffmpeg.RingBuffer
	logger zerolog.Logger

	done     chan struct{}
	termOnce sync.Once
	forced   bool
}

func (p *Pipeline) Stdin() io.WriteCloser { return p.stdin }

func (p *Pipeline) Done() <-chan struct{} { return p.done }

func (p *Pipeline) Wait() ports.PipelineStatus {
	<-p.done
	st := ports.PipelineStatus{Transcoder: p.trans.exit, Player: p.player.exit}
	if !st.Success() {
		p.logger.Debug().Strs("diagnostics", p.ring.GetAll()).Str(log.FieldEvent, "pipeline.exited").Msg("pipeline ended unsuccessfully")
	}
	return st
}

// Terminate stops the transcoder first so the player sees EOF, then the
// player. Each stage gets its own grace period.
func (p *Pipeline) Terminate(grace time.Duration) (bool, error) {
	p.termOnce.Do(func() {
		_ = p.stdin.Close()
		forcedT := p.trans.terminate(grace)
		forcedP := p.player.terminate(grace)
		p.forced = forcedT || forcedP
		<-p.done
	})
	return p.forced, nil
}

// Diagnostics returns the last output lines of both stages.
func (p *Pipeline) Diagnostics() []string { return p.ring.GetAll() }

var _ ports.PipelineSpawner = (*PipelineSpawner)(nil)
var _ ports.Pipeline = (*Pipeline)(nil)
