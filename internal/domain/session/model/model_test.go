// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_TerminalSet(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusStopped, StatusKilled, StatusError}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
	}
	for _, s := range []Status{StatusCreated, StatusPlaying, StatusPaused} {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.True(t, StatusPlaying.IsActive())
	assert.True(t, StatusPaused.IsActive())
}

func TestSeekMode_Valid(t *testing.T) {
	assert.True(t, SeekRelative.Valid())
	assert.True(t, SeekPercent.Valid())
	assert.True(t, SeekAbsolute.Valid())
	assert.False(t, SeekMode(3).Valid())
	assert.False(t, SeekMode(-1).Valid())
}

func TestKind_Exclusive(t *testing.T) {
	assert.True(t, KindMusic.Exclusive())
	assert.True(t, KindPlaylist.Exclusive())
	assert.False(t, KindTTS.Exclusive())
	assert.False(t, KindClip.Exclusive())
	assert.False(t, KindStream.Exclusive())
}

func TestIsSafeSessionID(t *testing.T) {
	assert.True(t, IsSafeSessionID(NewID()))
	assert.False(t, IsSafeSessionID(""))
	assert.False(t, IsSafeSessionID("../../etc/passwd"))
	assert.False(t, IsSafeSessionID("not-a-uuid-but-36-characters-long-xx"))
}

func TestError_MatchesByClass(t *testing.T) {
	err := fmt.Errorf("handler: %w", Errorf(ClassNotFound, "tts.get", "session %s", "abc"))

	require.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, ClassNotFound, ClassOf(err))
	assert.Contains(t, err.Error(), "tts.get: not_found: session abc")

	assert.NoError(t, Wrap(ClassTimeout, "x", nil))
	assert.Equal(t, ErrorClass(""), ClassOf(errors.New("plain")))
}
