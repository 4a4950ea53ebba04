// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mplayer drives mplayer in slave mode and builds the streaming
// transcode-and-play pipeline.
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
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/playd/internal/domain/session/ports"
	"github.com/ManuGH/playd/internal/infra/ffmpeg"
	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/metrics"
	"github.com/ManuGH/playd/internal/procgroup"
)

const (
	diagnosticLines = 50
	// waitDelay bounds how long Wait waits for output copying after exit.
	waitDelay = 2 * time.Second
)

// Config selects the binaries and audio output.
type Config struct {
	Binary           string
	AudioOut         string
	PulseRuntimePath string
	CacheKB          int
	TranscoderBinary string
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = "mplayer"
	}
	if c.AudioOut == "" {
		c.AudioOut = "pulse"
	}
	if c.CacheKB <= 0 {
		c.CacheKB = 1024
	}
	if c.TranscoderBinary == "" {
		c.TranscoderBinary = "ffmpeg"
	}
	return c
}

func (c Config) env() []string {
	env := os.Environ()
	if c.PulseRuntimePath != "" {
		env = append(env, "PULSE_RUNTIME_PATH="+c.PulseRuntimePath)
	}
	return env
}

// Spawner starts slave-mode players. It implements ports.Spawner.
type Spawner struct {
	cfg    Config
	logger zerolog.Logger
}

func NewSpawner(cfg Config) *Spawner {
	return &Spawner{cfg: cfg.withDefaults(), logger: log.WithComponent("mplayer")}
}

// Args returns the player command line for src.
func (s *Spawner) Args(src ports.Source, volumePercent int) []string {
	return []string{
		"-ao", s.cfg.AudioOut,
		"-novideo",
		"-volume", strconv.Itoa(volumePercent),
		"-slave",
		"-quiet",
		src.Target(),
	}
}

func (s *Spawner) Spawn(ctx context.Context, src ports.Source, volumePercent int) (ports.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	// #nosec G204 -- binary comes from configuration, the source is a single argv element
	cmd := exec.Command(s.cfg.Binary, s.Args(src, volumePercent)...)
	cmd.Env = s.cfg.env()
	cmd.WaitDelay = waitDelay
	procgroup.Set(cmd)

	p := &Process{
		cmd:  cmd,
		ring: ffmpeg.NewRingBuffer(diagnosticLines),
		done: make(chan struct{}),
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("player stdin pipe: %w", err)
	}
	p.stdin = stdin
	cmd.Stdout = &lineWriter{fn: p.onStdout}
	cmd.Stderr = &lineWriter{fn: func(line string) { p.ring.Add("stderr: " + line) }}

	if err := cmd.Start(); err != nil {
		metrics.IncProcSpawn("player", "error")
		return nil, fmt.Errorf("start %s: %w", s.cfg.Binary, err)
	}
	metrics.IncProcSpawn("player", "ok")

	p.startedAt = time.Now()
	p.logger = s.logger.With().Int(log.FieldPID, cmd.Process.Pid).Logger()
	p.logger.Info().
		Str(log.FieldEvent, "player.spawned").
		Str("target", src.Target()).
		Int(log.FieldVolume, volumePercent).
		Msg("player started")

	go p.reap()
	return p, nil
}

// Process is one slave-mode player. Commands are written by a single
// mutex-guarded writer so they reach the player in submission order.
type Process struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	ring      *ffmpeg.RingBuffer
	logger    zerolog.Logger
	startedAt time.Time

	writeMu sync.Mutex

	done chan struct{}
	exit ports.ExitStatus
}

func (p *Process) Pid() int { return p.cmd.Process.Pid }

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Wait() ports.ExitStatus {
	<-p.done
	return p.exit
}

// Send writes one command line to the player's stdin.
func (p *Process) Send(cmd ports.Command) error {
	line, err := Encode(cmd)
	if err != nil {
		return err
	}

	select {
	case <-p.done:
		return ports.ErrProcessExited
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		select {
		case <-p.done:
			return ports.ErrProcessExited
		default:
		}
		return fmt.Errorf("write %q: %w", line, err)
	}
	p.logger.Debug().Str(log.FieldEvent, "player.command").Str("command", line).Msg("command sent")
	return nil
}

// Terminate sends quit, waits up to grace and then kills the process
// group.
func (p *Process) Terminate(grace time.Duration) (bool, error) {
	out := procgroup.Terminate(p.cmd, p.done, func() error { return p.exit.Err }, grace, func() error {
		err := p.Send(ports.Quit())
		if errors.Is(err, ports.ErrProcessExited) {
			return nil
		}
		return err
	})
	if out.Forced {
		p.logger.Warn().Str(log.FieldEvent, "player.killed").Dur("grace", grace).Msg("player ignored quit and was killed")
	}
	return out.Forced, nil
}

// Diagnostics returns the last output lines of the player.
func (p *Process) Diagnostics() []string { return p.ring.GetAll() }

func (p *Process) onStdout(line string) {
	p.ring.Add(line)
	if name, value, ok := parseAnswer(line); ok {
		p.logger.Debug().Str(log.FieldEvent, "player.ans").Str("name", name).Str("value", value).Msg("player answer")
	}
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	_ = p.stdin.Close()

	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		p.logger.Warn().Err(err).Str(log.FieldEvent, "player.wait_failed").Msg("wait failed")
	}
	if errors.Is(err, exec.ErrWaitDelay) && code == 0 {
		err = nil
	}

	p.exit = ports.ExitStatus{Code: code, Err: err, StartedAt: p.startedAt, EndedAt: time.Now()}
	evt := p.logger.Info()
	if !p.exit.Success() {
		evt = p.logger.Warn().Strs("diagnostics", p.ring.GetAll())
	}
	evt.Str(log.FieldEvent, "player.exited").Int(log.FieldExitCode, code).Msg("player exited")
	close(p.done)
}

var _ ports.Spawner = (*Spawner)(nil)
var _ ports.Process = (*Process)(nil)
