// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package testkit provides in-memory players and pipelines for exercising
// the session core without spawning real processes.
package testkit

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/playd/internal/domain/session/ports"
)

var nextPid atomic.Int32

// FakeProcess records commands and exits on QUIT unless told to hang.
type FakeProcess struct {
	pid int

	mu         sync.Mutex
	sent       []ports.Command
	ignoreQuit bool
	failSend   bool

	done chan struct{}
	once sync.Once
	exit ports.ExitStatus
}

// NewFakeProcess returns a live fake process.
func NewFakeProcess() *FakeProcess {
	return &FakeProcess{
		pid:  int(nextPid.Add(1)) + 1000,
		done: make(chan struct{}),
	}
}

func (p *FakeProcess) Pid() int { return p.pid }

// SetIgnoreQuit makes the process ignore QUIT so that Terminate must kill it.
func (p *FakeProcess) SetIgnoreQuit(v bool) {
	p.mu.Lock()
	p.ignoreQuit = v
	p.mu.Unlock()
}

// SetFailSend makes every Send fail as if the pipe were broken.
func (p *FakeProcess) SetFailSend(v bool) {
	p.mu.Lock()
	p.failSend = v
	p.mu.Unlock()
}

func (p *FakeProcess) Send(cmd ports.Command) error {
	select {
	case <-p.done:
		return ports.ErrProcessExited
	default:
	}

	p.mu.Lock()
	if p.failSend {
		p.mu.Unlock()
		return io.ErrClosedPipe
	}
	p.sent = append(p.sent, cmd)
	quit := cmd.Kind == ports.CmdQuit && !p.ignoreQuit
	p.mu.Unlock()

	if quit {
		p.Exit(0)
	}
	return nil
}

// Exit simulates the process leaving with the given code.
func (p *FakeProcess) Exit(code int) {
	p.exitWith(ports.ExitStatus{Code: code, EndedAt: time.Now()})
}

func (p *FakeProcess) exitWith(st ports.ExitStatus) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exit = st
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *FakeProcess) Done() <-chan struct{} { return p.done }

func (p *FakeProcess) Wait() ports.ExitStatus {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

func (p *FakeProcess) Terminate(grace time.Duration) (bool, error) {
	select {
	case <-p.done:
		return false, nil
	default:
	}
	_ = p.Send(ports.Quit())

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return false, nil
	case <-timer.C:
		p.exitWith(ports.ExitStatus{Code: -1, Err: errors.New("signal: killed"), EndedAt: time.Now()})
		return true, nil
	}
}

// Commands returns a copy of every command sent so far.
func (p *FakeProcess) Commands() []ports.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ports.Command(nil), p.sent...)
}

// FakeSpawner hands out FakeProcesses and records spawn arguments.
type FakeSpawner struct {
	mu         sync.Mutex
	procs      []*FakeProcess
	sources    []ports.Source
	volumes    []int
	err        error
	ignoreQuit bool
	spawned    chan *FakeProcess
}

// NewFakeSpawner returns a spawner whose Spawned channel buffers up to 32 spawns.
func NewFakeSpawner() *FakeSpawner {
	return &FakeSpawner{spawned: make(chan *FakeProcess, 32)}
}

// SetError makes subsequent spawns fail with err.
func (s *FakeSpawner) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// SetIgnoreQuit applies to processes spawned afterwards.
func (s *FakeSpawner) SetIgnoreQuit(v bool) {
	s.mu.Lock()
	s.ignoreQuit = v
	s.mu.Unlock()
}

func (s *FakeSpawner) Spawn(_ context.Context, src ports.Source, volumePercent int) (ports.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := NewFakeProcess()
	p.ignoreQuit = s.ignoreQuit
	s.procs = append(s.procs, p)
	s.sources = append(s.sources, src)
	s.volumes = append(s.volumes, volumePercent)
	select {
	case s.spawned <- p:
	default:
	}
	return p, nil
}

// Spawned yields processes in spawn order.
func (s *FakeSpawner) Spawned() <-chan *FakeProcess { return s.spawned }

// Count returns the number of successful spawns.
func (s *FakeSpawner) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Last returns the most recent process, or nil.
func (s *FakeSpawner) Last() *FakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) == 0 {
		return nil
	}
	return s.procs[len(s.procs)-1]
}

// Sources returns every source handed to Spawn.
func (s *FakeSpawner) Sources() []ports.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.Source(nil), s.sources...)
}

// Volumes returns every initial volume handed to Spawn.
func (s *FakeSpawner) Volumes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.volumes...)
}
