// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"errors"
	"testing"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []model.Status{
	model.StatusCreated,
	model.StatusPlaying,
	model.StatusPaused,
	model.StatusCompleted,
	model.StatusStopped,
	model.StatusKilled,
	model.StatusError,
}

var allEvents = []EventKind{
	EvPlay, EvPause, EvResume, EvExitClean, EvExitFailed,
	EvStopGraceful, EvStopForced, EvCancel, EvFail,
}

func TestTransitionTable_NoDuplicates(t *testing.T) {
	for name, table := range map[string][]Transition{"playback": playbackTable, "playlist": playlistTable} {
		seen := map[model.Status]map[EventKind]struct{}{}
		for _, tr := range table {
			if _, ok := seen[tr.From]; !ok {
				seen[tr.From] = map[EventKind]struct{}{}
			}
			if _, dup := seen[tr.From][tr.Event]; dup {
				t.Fatalf("%s: duplicate transition: %s + %v", name, tr.From, tr.Event)
			}
			seen[tr.From][tr.Event] = struct{}{}
		}
	}
}

func TestTransitionTable_TerminalIsAbsorbing(t *testing.T) {
	for _, s := range allStatuses {
		if !s.IsTerminal() {
			continue
		}
		for _, ev := range allEvents {
			_, ok := TransitionFor(s, ev)
			assert.False(t, ok, "terminal %s must not accept %s", s, ev)
		}
	}
}

func TestTransitionTable_PauseToggle(t *testing.T) {
	to, err := Apply(model.StatusPlaying, EvPause)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, to)

	to, err = Apply(to, EvResume)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPlaying, to)

	// Pausing an already paused session is not an edge.
	_, err = Apply(model.StatusPaused, EvPause)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
}

func TestTransitionTable_ExitOutcomes(t *testing.T) {
	cases := []struct {
		from model.Status
		ev   EventKind
		want model.Status
	}{
		{model.StatusPlaying, EvExitClean, model.StatusCompleted},
		{model.StatusPlaying, EvExitFailed, model.StatusError},
		{model.StatusPaused, EvStopGraceful, model.StatusStopped},
		{model.StatusPlaying, EvStopForced, model.StatusKilled},
		{model.StatusCreated, EvCancel, model.StatusStopped},
		{model.StatusCreated, EvFail, model.StatusError},
	}
	for _, tc := range cases {
		got, err := Apply(tc.from, tc.ev)
		require.NoError(t, err, "%s + %s", tc.from, tc.ev)
		assert.Equal(t, tc.want, got, "%s + %s", tc.from, tc.ev)
	}
}

func TestPlaylistTable_RestartableAfterStop(t *testing.T) {
	for _, from := range []model.Status{model.StatusStopped, model.StatusCompleted, model.StatusError, model.StatusKilled} {
		to, err := ApplyPlaylist(from, EvPlay)
		require.NoError(t, err, from)
		assert.Equal(t, model.StatusPlaying, to)
	}
	_, err := ApplyPlaylist(model.StatusStopped, EvPause)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestPlaylistTable_LiveStatusesCoverTrackExits(t *testing.T) {
	// Whatever ends the owned track while the playlist is live must move the
	// mirror to the same terminal status the track reached.
	for _, from := range []model.Status{model.StatusPlaying, model.StatusPaused} {
		for _, ev := range []EventKind{EvExitClean, EvExitFailed, EvStopGraceful, EvStopForced} {
			want, err := Apply(from, ev)
			require.NoError(t, err, "%s + %s", from, ev)
			got, err := ApplyPlaylist(from, ev)
			require.NoError(t, err, "%s + %s", from, ev)
			assert.Equal(t, want, got, "%s + %s", from, ev)
		}
	}
}
