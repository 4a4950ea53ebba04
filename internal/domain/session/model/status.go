// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// Status is the client-visible lifecycle of a session.
type Status string

const (
	StatusCreated   Status = "created"
	StatusPlaying   Status = "playing"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusKilled    Status = "killed"
	StatusError     Status = "error"
)

// IsTerminal returns true if the status is final for a single playback.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusKilled, StatusError:
		return true
	}
	return false
}

// IsActive returns true while a process is expected to be alive.
func (s Status) IsActive() bool {
	return s == StatusPlaying || s == StatusPaused
}

func (s Status) String() string { return string(s) }

// SeekMode selects how a seek amount is interpreted by the player.
type SeekMode int

const (
	SeekRelative SeekMode = 0 // seconds from the current position
	SeekPercent  SeekMode = 1 // percentage of the total duration
	SeekAbsolute SeekMode = 2 // seconds from the start
)

// Valid reports whether m is one of the three recognised modes.
func (m SeekMode) Valid() bool {
	return m == SeekRelative || m == SeekPercent || m == SeekAbsolute
}
