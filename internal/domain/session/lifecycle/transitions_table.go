// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ManuGH/playd/internal/domain/session/model"
)

// ErrIllegalTransition is returned when no edge exists for state+event.
var ErrIllegalTransition = errors.New("illegal transition")

// Transition is a single allowed edge in the lifecycle state machine.
type Transition struct {
	From  model.Status
	To    model.Status
	Event EventKind
}

// playbackTable drives single playbacks (tts, clip, music) and streams.
// Terminal statuses have no outgoing edges.
var playbackTable = []Transition{
	// Start path
	{From: model.StatusCreated, To: model.StatusPlaying, Event: EvPlay},
	{From: model.StatusCreated, To: model.StatusError, Event: EvFail},
	{From: model.StatusCreated, To: model.StatusStopped, Event: EvCancel},

	// Pause toggle
	{From: model.StatusPlaying, To: model.StatusPaused, Event: EvPause},
	{From: model.StatusPaused, To: model.StatusPlaying, Event: EvResume},

	// Natural exit
	{From: model.StatusPlaying, To: model.StatusCompleted, Event: EvExitClean},
	{From: model.StatusPaused, To: model.StatusCompleted, Event: EvExitClean},
	{From: model.StatusPlaying, To: model.StatusError, Event: EvExitFailed},
	{From: model.StatusPaused, To: model.StatusError, Event: EvExitFailed},

	// Explicit stop
	{From: model.StatusPlaying, To: model.StatusStopped, Event: EvStopGraceful},
	{From: model.StatusPaused, To: model.StatusStopped, Event: EvStopGraceful},
	{From: model.StatusPlaying, To: model.StatusKilled, Event: EvStopForced},
	{From: model.StatusPaused, To: model.StatusKilled, Event: EvStopForced},
}

// playlistTable drives the playlist status mirror. Unlike a single
// playback, a finished playlist may be started again at any index.
var playlistTable = []Transition{
	{From: model.StatusCreated, To: model.StatusPlaying, Event: EvPlay},
	{From: model.StatusCreated, To: model.StatusError, Event: EvFail},
	{From: model.StatusCreated, To: model.StatusStopped, Event: EvCancel},

	{From: model.StatusPlaying, To: model.StatusPlaying, Event: EvPlay},
	{From: model.StatusPaused, To: model.StatusPlaying, Event: EvPlay},
	{From: model.StatusStopped, To: model.StatusPlaying, Event: EvPlay},
	{From: model.StatusCompleted, To: model.StatusPlaying, Event: EvPlay},
	{From: model.StatusError, To: model.StatusPlaying, Event: EvPlay},

	{From: model.StatusPlaying, To: model.StatusPaused, Event: EvPause},
	{From: model.StatusPaused, To: model.StatusPlaying, Event: EvResume},

	{From: model.StatusPlaying, To: model.StatusCompleted, Event: EvExitClean},
	{From: model.StatusPaused, To: model.StatusCompleted, Event: EvExitClean},
	{From: model.StatusPlaying, To: model.StatusError, Event: EvExitFailed},
	{From: model.StatusPaused, To: model.StatusError, Event: EvExitFailed},
	{From: model.StatusPlaying, To: model.StatusError, Event: EvFail},
	{From: model.StatusPaused, To: model.StatusError, Event: EvFail},
	{From: model.StatusStopped, To: model.StatusError, Event: EvFail},
	{From: model.StatusCompleted, To: model.StatusError, Event: EvFail},
	{From: model.StatusError, To: model.StatusError, Event: EvFail},

	{From: model.StatusPlaying, To: model.StatusStopped, Event: EvStopGraceful},
	{From: model.StatusPaused, To: model.StatusStopped, Event: EvStopGraceful},
	{From: model.StatusPlaying, To: model.StatusKilled, Event: EvStopForced},
	{From: model.StatusPaused, To: model.StatusKilled, Event: EvStopForced},
	{From: model.StatusKilled, To: model.StatusPlaying, Event: EvPlay},
}

// TransitionFor returns the allowed playback transition for state+event.
func TransitionFor(from model.Status, ev EventKind) (Transition, bool) {
	return lookup(playbackTable, from, ev)
}

// PlaylistTransitionFor returns the allowed playlist transition for state+event.
func PlaylistTransitionFor(from model.Status, ev EventKind) (Transition, bool) {
	return lookup(playlistTable, from, ev)
}

// Apply resolves the playback transition or reports ErrIllegalTransition.
func Apply(from model.Status, ev EventKind) (model.Status, error) {
	tr, ok := TransitionFor(from, ev)
	if !ok {
		return from, fmt.Errorf("%w: %s + %s", ErrIllegalTransition, from, ev)
	}
	return tr.To, nil
}

// ApplyPlaylist resolves the playlist transition or reports ErrIllegalTransition.
func ApplyPlaylist(from model.Status, ev EventKind) (model.Status, error) {
	tr, ok := PlaylistTransitionFor(from, ev)
	if !ok {
		return from, fmt.Errorf("%w: playlist %s + %s", ErrIllegalTransition, from, ev)
	}
	return tr.To, nil
}

func lookup(table []Transition, from model.Status, ev EventKind) (Transition, bool) {
	for _, tr := range table {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}
