// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playlist

import (
	"context"
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

func abcResolver() *testkit.StaticResolver {
	return &testkit.StaticResolver{
		Names: map[string]string{"1": "Alpha", "2": "Bravo", "3": "Charlie"},
		URLs: map[string]string{
			"1": "http://music.example/a.mp3",
			"2": "http://music.example/b.mp3",
			"3": "http://music.example/c.mp3",
		},
	}
}

func abc() []model.Track {
	return []model.Track{{ID: "1"}, {ID: "2"}, {ID: "3"}}
}

func newPlaylist(t *testing.T, sp *testkit.FakeSpawner, res ports.Resolver, opts Options, tracks ...model.Track) *Playlist {
	t.Helper()
	p := New(Config{
		Name:      "test",
		Tracks:    tracks,
		Volume:    0.8,
		Resolver:  res,
		Spawner:   sp,
		StopGrace: 200 * time.Millisecond,
		Options:   func() Options { return opts },
	})
	t.Cleanup(func() { _, _ = p.Stop() })
	return p
}

func nextProc(t *testing.T, sp *testkit.FakeSpawner) *testkit.FakeProcess {
	t.Helper()
	select {
	case proc := <-sp.Spawned():
		return proc
	case <-time.After(2 * time.Second):
		t.Fatal("no player spawned")
		return nil
	}
}

func TestNextWrapsAfterLastTrack(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{}, abc()...)
	ctx := context.Background()

	ok, err := p.PlayIndex(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	first := nextProc(t, sp)
	assert.Equal(t, 2, p.Index())

	ok, err = p.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	nextProc(t, sp)

	assert.Equal(t, 0, p.Index())
	srcs := sp.Sources()
	assert.Equal(t, ports.Source{URL: "http://music.example/a.mp3"}, srcs[len(srcs)-1])

	select {
	case <-first.Done():
	default:
		t.Fatal("previous track still running after track change")
	}
	cmds := first.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, ports.CmdQuit, cmds[len(cmds)-1].Kind)
}

func TestPrevWrapsToLastTrack(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{}, abc()...)

	ok, err := p.Prev(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, p.Index())
	assert.Equal(t, ports.Source{URL: "http://music.example/c.mp3"}, sp.Sources()[0])
}

func TestPlayIndexBounds(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{}, abc()...)

	for _, i := range []int{-1, 3, 100} {
		ok, err := p.PlayIndex(context.Background(), i)
		assert.False(t, ok)
		assert.ErrorIs(t, err, model.ErrInvalidArgument, "index %d", i)
	}
	assert.Equal(t, 0, sp.Count())
	assert.Equal(t, model.StatusCreated, p.State())
}

func TestEmptyPlaylist(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{})

	ok, err := p.Next(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)
	ok, err = p.Prev(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Play(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	assert.Equal(t, 2, p.AddTracks(model.Track{ID: "1"}, model.Track{ID: "2"}))
	ok, err = p.Play(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestURLResolvedOnceAndCached(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	res := abcResolver()
	p := newPlaylist(t, sp, res, Options{}, abc()...)
	ctx := context.Background()

	_, err := p.PlayIndex(ctx, 0)
	require.NoError(t, err)
	_, err = p.PlayIndex(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, res.URLLookups())
	st := p.Status()
	assert.Equal(t, "http://music.example/a.mp3", st.Playlist[0].URL)
	assert.Equal(t, "Alpha", st.Playlist[0].Name)
	assert.Empty(t, st.Playlist[1].URL, "untouched tracks stay unresolved")
}

func TestUnplayableTrackIsUpstreamFailure(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, &testkit.StaticResolver{}, Options{}, model.Track{ID: "404"})

	ok, err := p.Play(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrUpstreamFailure)
	assert.Equal(t, model.StatusError, p.State())
	assert.Equal(t, 0, sp.Count())
}

func TestAutoAdvanceThenComplete(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{AutoAdvance: true}, abc()[:2]...)

	_, err := p.Play(context.Background())
	require.NoError(t, err)

	nextProc(t, sp).Exit(0)
	second := nextProc(t, sp)
	require.Eventually(t, func() bool { return p.Index() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StatusPlaying, p.State())

	second.Exit(0)
	require.Eventually(t, func() bool { return p.State() == model.StatusCompleted }, time.Second, 5*time.Millisecond)
	assert.True(t, p.IsFinished())
	assert.False(t, p.EndedAt().IsZero())
	assert.Equal(t, 2, sp.Count())
}

func TestAutoAdvanceLoops(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{AutoAdvance: true, Loop: true}, abc()[:2]...)

	_, err := p.PlayIndex(context.Background(), 1)
	require.NoError(t, err)

	nextProc(t, sp).Exit(0)
	nextProc(t, sp)
	require.Eventually(t, func() bool { return p.Index() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StatusPlaying, p.State())
}

func TestNoAutoAdvanceCompletesAfterTrack(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{AutoAdvance: false}, abc()...)

	_, err := p.Play(context.Background())
	require.NoError(t, err)
	nextProc(t, sp).Exit(0)

	require.Eventually(t, func() bool { return p.State() == model.StatusCompleted }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sp.Count())

	// A finished playlist can be restarted.
	ok, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StatusPlaying, p.State())
	assert.True(t, p.EndedAt().IsZero())
}

func TestFailedTrackMarksError(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{AutoAdvance: true}, abc()...)

	_, err := p.Play(context.Background())
	require.NoError(t, err)
	nextProc(t, sp).Exit(2)

	require.Eventually(t, func() bool { return p.State() == model.StatusError }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sp.Count())
}

func TestProxyControls(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{}, abc()...)

	ok, err := p.Pause()
	assert.NoError(t, err)
	assert.False(t, ok, "pause without a track")

	ok, err = p.SetVolume(0.25)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = p.SetVolume(1.5)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Equal(t, 0.25, p.Volume())

	_, err = p.Play(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{25}, sp.Volumes())

	ok, err = p.Pause()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StatusPaused, p.State())
	assert.False(t, p.Status().IsPlaying)

	ok, _ = p.Pause()
	assert.False(t, ok)

	ok, err = p.Resume()
	require.NoError(t, err)
	assert.True(t, ok)
	st := p.Status()
	assert.True(t, st.IsPlaying)
	require.NotNil(t, st.CurrentSongStatus)
	assert.Equal(t, model.StatusPlaying, st.CurrentSongStatus.Status)
	assert.Equal(t, 3, st.PlaylistLength)

	ok, err = p.Stop()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.StatusStopped, p.State())

	ok, _ = p.Stop()
	assert.False(t, ok)
}

func TestStopNeverPlayed(t *testing.T) {
	p := New(Config{Tracks: abc()})
	ok, err := p.Stop()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, p.IsFinished())
}

func TestPausedTrackExitCompletesPlaylist(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{AutoAdvance: false}, abc()...)

	_, err := p.PlayIndex(context.Background(), 0)
	require.NoError(t, err)
	proc := nextProc(t, sp)
	ok, err := p.Pause()
	require.NoError(t, err)
	require.True(t, ok)

	proc.Exit(0)

	require.Eventually(t, func() bool { return p.State() == model.StatusCompleted }, time.Second, 5*time.Millisecond)
	assert.True(t, p.IsFinished())
	assert.False(t, p.EndedAt().IsZero())
	assert.False(t, p.Status().IsPlaying)
	assert.Equal(t, 1, sp.Count())
}

func TestRetireIfEndedBefore(t *testing.T) {
	sp := testkit.NewFakeSpawner()
	p := newPlaylist(t, sp, abcResolver(), Options{}, abc()...)

	assert.False(t, p.RetireIfEndedBefore(time.Now().Add(time.Hour)), "a new playlist has not ended")

	_, err := p.Play(context.Background())
	require.NoError(t, err)
	assert.False(t, p.RetireIfEndedBefore(time.Now().Add(time.Hour)), "a playing playlist is never retired")

	_, err = p.Stop()
	require.NoError(t, err)
	ended := p.EndedAt()
	assert.False(t, p.RetireIfEndedBefore(ended))
	assert.True(t, p.RetireIfEndedBefore(ended.Add(time.Millisecond)))

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, model.StatusStopped, p.State())
	assert.Equal(t, 1, sp.Count())
}
