// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/ports"
	"github.com/ManuGH/playd/internal/domain/session/testkit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mediaFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "track.mp3")
	require.NoError(t, os.WriteFile(p, []byte("ID3"), 0o600))
	return p
}

func newMusic(t *testing.T, sp *testkit.FakeSpawner, volume float64) *Session {
	t.Helper()
	return New(Config{
		Kind:      model.KindMusic,
		Source:    ports.Source{Path: mediaFile(t)},
		Volume:    volume,
		StopGrace: 200 * time.Millisecond,
		Spawner:   sp,
	})
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s did not finish, status %s", s.ID(), s.State())
	}
}

func TestPlay_NaturalCompletion(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := newMusic(t, sp, 0.5)

	ok, err := s.Play(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusPlaying, s.State())
	assert.Equal(t, []int{50}, sp.Volumes())

	sp.Last().Exit(0)
	waitDone(t, s)

	assert.Equal(t, model.StatusCompleted, s.State())
	assert.True(t, s.IsFinished())
	assert.False(t, s.EndedAt().IsZero())
}

func TestPlay_NonzeroExitIsErrorAndFinished(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := newMusic(t, sp, 1)

	ok, err := s.Play(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	sp.Last().Exit(1)
	waitDone(t, s)

	assert.Equal(t, model.StatusError, s.State())
	assert.True(t, s.IsFinished(), "error sessions must be reapable")
}

func TestPlay_AlreadyPlayingFails(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := newMusic(t, sp, 1)
	t.Cleanup(func() { _, _ = s.Stop() })

	ok, err := s.Play(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Play(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, sp.Count())
}

func TestPlay_InvalidMediaKeepsState(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := New(Config{
		Source:  ports.Source{Path: filepath.Join(t.TempDir(), "missing.mp3")},
		Spawner: sp,
	})

	ok, err := s.Play(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Equal(t, model.StatusCreated, s.State())
	assert.Equal(t, 0, sp.Count())

	empty := New(Config{Spawner: sp})
	ok, err = empty.Play(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestPlay_SpawnFailureMovesToError(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	sp.SetError(errors.New("exec: mplayer: not found"))
	s := newMusic(t, sp, 1)

	ok, err := s.Play(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrSpawnFailure)
	assert.Equal(t, model.StatusError, s.State())
	waitDone(t, s)
}

type stubSynth struct {
	path string
	err  error
}

func (s stubSynth) Synthesize(context.Context, string, string) (string, error) {
	return s.path, s.err
}

func TestPlay_SpeechUsesSynthesizedFile(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	audio := mediaFile(t)
	s := New(Config{
		Kind:        model.KindTTS,
		Text:        "你好",
		Voice:       "zh-CN-XiaoxiaoNeural",
		Spawner:     sp,
		Synthesizer: stubSynth{path: audio},
	})
	t.Cleanup(func() { _, _ = s.Stop() })

	ok, err := s.Play(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []ports.Source{{Path: audio}}, sp.Sources())
	assert.Equal(t, audio, s.Status().FilePath)
	assert.Empty(t, s.TempFile(), "synthesized cache files are not owned")
}

func TestPlay_SpeechEmptyArtifactIsUpstreamFailure(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := New(Config{
		Kind:        model.KindTTS,
		Text:        "hello",
		Spawner:     sp,
		Synthesizer: stubSynth{path: ""},
	})

	ok, err := s.Play(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrUpstreamFailure)
	assert.Equal(t, model.StatusError, s.State())
}

func TestPause_WhenAlreadyPausedFails(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := newMusic(t, sp, 1)
	t.Cleanup(func() { _, _ = s.Stop() })

	ok, _ := s.Pause()
	assert.False(t, ok, "pause without a live player is a no-op")

	_, err := s.Play(context.Background())
	require.NoError(t, err)

	ok, err = s.Pause()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.StatusPaused, s.State())

	ok, err = s.Pause()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.StatusPaused, s.State())

	ok, err = s.Resume()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StatusPlaying, s.State())

	ok, _ = s.Resume()
	assert.False(t, ok)

	cmds := sp.Last().Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, ports.CmdPauseToggle, cmds[0].Kind)
	assert.Equal(t, ports.CmdPauseToggle, cmds[1].Kind)
}

func TestSetVolume_Range(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := newMusic(t, sp, 1)
	t.Cleanup(func() { _, _ = s.Stop() })
	_, err := s.Play(context.Background())
	require.NoError(t, err)

	for _, v := range []float64{-0.01, -1, 1.0001, 2} {
		ok, err := s.SetVolume(v)
		assert.False(t, ok, "v=%v", v)
		assert.ErrorIs(t, err, model.ErrInvalidArgument)
		assert.GreaterOrEqual(t, s.Volume(), 0.0)
		assert.LessOrEqual(t, s.Volume(), 1.0)
	}
	for _, v := range []float64{0, 0.333, 0.5, 1} {
		ok, err := s.SetVolume(v)
		require.NoError(t, err, "v=%v", v)
		assert.True(t, ok)
		assert.Equal(t, v, s.Volume())
	}

	cmds := sp.Last().Commands()
	require.Len(t, cmds, 4)
	assert.Equal(t, ports.SetVolume(33), cmds[1])
	assert.Equal(t, ports.SetVolume(100), cmds[3])
}

func TestSetVolume_WithoutPlayerStoresOnly(t *testing.T) {
	s := New(Config{Volume: 3})
	assert.Equal(t, 1.0, s.Volume(), "constructor clamps")

	ok, err := s.SetVolume(0.2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.2, s.Volume())
}

func TestSeek(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := newMusic(t, sp, 1)

	ok, err := s.Seek(10, model.SeekRelative)
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrChannelFailure)

	_, err = s.Play(context.Background())
	require.NoError(t, err)

	ok, err = s.Seek(10, model.SeekMode(7))
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	ok, err = s.Seek(42, model.SeekPercent)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []ports.Command{ports.Seek(42, model.SeekPercent)}, sp.Last().Commands())

	sp.Last().SetFailSend(true)
	ok, err = s.Seek(1, model.SeekAbsolute)
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrChannelFailure)

	sp.Last().SetFailSend(false)
	_, _ = s.Stop()
}

func TestStop_IsIdempotent(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := newMusic(t, sp, 1)
	_, err := s.Play(context.Background())
	require.NoError(t, err)

	ok, err := s.Stop()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StatusStopped, s.State())
	ended := s.EndedAt()

	ok, err = s.Stop()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.StatusStopped, s.State())
	assert.Equal(t, ended, s.EndedAt())

	cmds := sp.Last().Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, ports.CmdQuit, cmds[len(cmds)-1].Kind)
}

func TestStop_ForcedKillAfterGrace(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	sp.SetIgnoreQuit(true)
	s := New(Config{
		Source:    ports.Source{URL: "http://music.example/track.mp3"},
		StopGrace: 20 * time.Millisecond,
		Spawner:   sp,
	})
	_, err := s.Play(context.Background())
	require.NoError(t, err)

	ok, err := s.Stop()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StatusKilled, s.State())
}

func TestStop_BeforePlay(t *testing.T) {
	s := New(Config{Source: ports.Source{URL: "http://x/y.mp3"}})
	ok, err := s.Stop()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StatusStopped, s.State())
	waitDone(t, s)

	ok, err = s.Play(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok, "a stopped session never plays again")
}

func TestTerminalStatusIsAbsorbing(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	s := newMusic(t, sp, 1)
	_, err := s.Play(context.Background())
	require.NoError(t, err)
	sp.Last().Exit(0)
	waitDone(t, s)

	ok, _ := s.Pause()
	assert.False(t, ok)
	ok, _ = s.Resume()
	assert.False(t, ok)
	ok, _ = s.Stop()
	assert.False(t, ok)
	ok, _ = s.Play(context.Background())
	assert.False(t, ok)
	assert.Equal(t, model.StatusCompleted, s.State())
}

func TestStop_RacesWithNaturalExit(t *testing.T) {
	for i := 0; i < 50; i++ {
		sp := testkit.NewFakeSpawner()
		s := newMusic(t, sp, 1)
		_, err := s.Play(context.Background())
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() { defer wg.Done(); sp.Last().Exit(0) }()
		go func() { defer wg.Done(); _, _ = s.Stop() }()
		go func() { defer wg.Done(); _, _ = s.Stop() }()
		wg.Wait()
		waitDone(t, s)

		assert.True(t, s.State().IsTerminal())
	}
}

func TestObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []model.Status
	sp := testkit.NewFakeSpawner()
	s := New(Config{
		Source:  ports.Source{Path: mediaFile(t)},
		Spawner: sp,
		Observer: func(_ string, kind model.Kind, _, to model.Status) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, model.KindMusic, kind)
			seen = append(seen, to)
		},
	})

	_, err := s.Play(context.Background())
	require.NoError(t, err)
	_, err = s.Pause()
	require.NoError(t, err)
	_, err = s.Stop()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.Status{model.StatusPlaying, model.StatusPaused, model.StatusStopped}, seen)
}
