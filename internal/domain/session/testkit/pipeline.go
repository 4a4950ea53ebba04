// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package testkit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/ManuGH/playd/internal/domain/session/ports"
)

// FakePipeline swallows its stdin into a buffer. Closing stdin makes both
// stages exit cleanly, like a transcoder reaching EOF.
type FakePipeline struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	received bytes.Buffer
	status   ports.PipelineStatus

	done chan struct{}
	once sync.Once
}

// NewFakePipeline starts the background reader.
func NewFakePipeline() *FakePipeline {
	r, w := io.Pipe()
	p := &FakePipeline{r: r, w: w, done: make(chan struct{})}
	go p.readLoop()
	return p
}

func (p *FakePipeline) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.r.Read(buf)
		if n > 0 {
			p.mu.Lock()
			p.received.Write(buf[:n])
			p.mu.Unlock()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.finish(0, nil)
			}
			return
		}
	}
}

func (p *FakePipeline) finish(code int, err error) {
	p.once.Do(func() {
		now := time.Now()
		p.mu.Lock()
		p.status = ports.PipelineStatus{
			Transcoder: ports.ExitStatus{Code: code, Err: err, EndedAt: now},
			Player:     ports.ExitStatus{Code: code, Err: err, EndedAt: now},
		}
		p.mu.Unlock()
		close(p.done)
	})
}

// Crash simulates a stage dying with a nonzero code.
func (p *FakePipeline) Crash(code int) {
	p.finish(code, errors.New("stage crashed"))
	_ = p.r.CloseWithError(io.ErrClosedPipe)
}

func (p *FakePipeline) Stdin() io.WriteCloser { return p.w }

func (p *FakePipeline) Done() <-chan struct{} { return p.done }

func (p *FakePipeline) Wait() ports.PipelineStatus {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *FakePipeline) Terminate(time.Duration) (bool, error) {
	select {
	case <-p.done:
		return false, nil
	default:
	}
	// SIGTERM makes ffmpeg exit 255.
	p.finish(255, errors.New("exit status 255"))
	_ = p.r.CloseWithError(io.ErrClosedPipe)
	return false, nil
}

// Received returns a copy of everything written to stdin.
func (p *FakePipeline) Received() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.received.Bytes()...)
}

// FakePipelineSpawner hands out FakePipelines.
type FakePipelineSpawner struct {
	mu    sync.Mutex
	pipes []*FakePipeline
	err   error
}

func (s *FakePipelineSpawner) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *FakePipelineSpawner) SpawnPipeline(context.Context, int) (ports.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := NewFakePipeline()
	s.pipes = append(s.pipes, p)
	return p, nil
}

// Last returns the most recent pipeline, or nil.
func (s *FakePipelineSpawner) Last() *FakePipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pipes) == 0 {
		return nil
	}
	return s.pipes[len(s.pipes)-1]
}

// StaticResolver resolves from a fixed table and counts URL lookups.
type StaticResolver struct {
	mu      sync.Mutex
	Names   map[string]string
	URLs    map[string]string
	Err     error
	lookups int
}

func (r *StaticResolver) ResolveName(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	return r.Names[id], nil
}

func (r *StaticResolver) ResolveURL(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.Err != nil {
		return "", r.Err
	}
	return r.URLs[id], nil
}

// URLLookups returns how many times ResolveURL ran.
func (r *StaticResolver) URLLookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}
