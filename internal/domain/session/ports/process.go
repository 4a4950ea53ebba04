// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrProcessExited is returned by Send once the process is gone.
var ErrProcessExited = errors.New("process already exited")

// Source is the media a player is asked to play. Exactly one of Path or
// URL is set.
type Source struct {
	Path string
	URL  string
}

// Target returns the argument handed to the player.
func (s Source) Target() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

// Validate checks the one-of invariant.
func (s Source) Validate() error {
	switch {
	case s.Path == "" && s.URL == "":
		return errors.New("media source is empty")
	case s.Path != "" && s.URL != "":
		return errors.New("media source has both path and url")
	}
	return nil
}

// ExitStatus describes how an external process ended.
type ExitStatus struct {
	Code      int
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Success is true for a clean zero exit.
func (e ExitStatus) Success() bool {
	return e.Code == 0 && e.Err == nil
}

// Process is the supervisory handle of one spawned player.
type Process interface {
	Pid() int
	// Send writes one control command. It fails with ErrProcessExited
	// once Done is closed.
	Send(cmd Command) error
	// Done closes when the process has exited and been reaped.
	Done() <-chan struct{}
	// Wait blocks until exit. Safe for concurrent callers.
	Wait() ExitStatus
	// Terminate asks the player to quit, waits up to grace and then
	// kills it. forced reports whether the kill was needed.
	Terminate(grace time.Duration) (forced bool, err error)
}

// Spawner starts players. ctx scopes the spawn itself, not the lifetime
// of the returned process.
type Spawner interface {
	Spawn(ctx context.Context, src Source, volumePercent int) (Process, error)
}

// PipelineStatus carries the exit of both streaming stages.
type PipelineStatus struct {
	Transcoder ExitStatus
	Player     ExitStatus
}

// Success is true when both stages exited cleanly.
func (p PipelineStatus) Success() bool {
	return p.Transcoder.Success() && p.Player.Success()
}

// Pipeline is a transcoder whose stdout feeds a player.
type Pipeline interface {
	// Stdin is the transcoder input. Closing it signals end of stream.
	Stdin() io.WriteCloser
	// Done closes once both stages have exited.
	Done() <-chan struct{}
	Wait() PipelineStatus
	Terminate(grace time.Duration) (forced bool, err error)
}

// PipelineSpawner starts a streaming pipeline.
type PipelineSpawner interface {
	SpawnPipeline(ctx context.Context, volumePercent int) (Pipeline, error)
}
