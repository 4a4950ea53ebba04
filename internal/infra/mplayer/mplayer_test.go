// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux || (unix && !darwin)

package mplayer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePlayer speaks just enough of the slave protocol.
const fakePlayer = `#!/bin/sh
echo "args: $*"
echo "pulse: $PULSE_RUNTIME_PATH"
while read -r line; do
  echo "got: $line"
  case "$line" in
    quit) exit 0 ;;
    pause) echo "ANS_pause=yes" ;;
  esac
done
exit 3
`

const stubbornPlayer = `#!/bin/sh
trap '' TERM
while true; do sleep 0.05; done
`

func script(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o755))
	return p
}

func waitExit(t *testing.T, p ports.Process) ports.ExitStatus {
	t.Helper()
	select {
	case <-p.Done():
		return p.Wait()
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
		return ports.ExitStatus{}
	}
}

func TestEncode(t *testing.T) {
	cases := []struct {
		cmd  ports.Command
		want string
	}{
		{ports.SetVolume(40), "volume 40 1"},
		{ports.PauseToggle(), "pause"},
		{ports.Seek(-10, model.SeekRelative), "seek -10 0"},
		{ports.Seek(12.5, model.SeekPercent), "seek 12.5 1"},
		{ports.Seek(90, model.SeekAbsolute), "seek 90 2"},
		{ports.Quit(), "quit"},
	}
	for _, tc := range cases {
		got, err := Encode(tc.cmd)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := Encode(ports.Command{})
	assert.Error(t, err)
	_, err = Encode(ports.Seek(1, model.SeekMode(9)))
	assert.Error(t, err)
}

func TestParseAnswer(t *testing.T) {
	name, value, ok := parseAnswer("ANS_TIME_POSITION=12.3")
	require.True(t, ok)
	assert.Equal(t, "TIME_POSITION", name)
	assert.Equal(t, "12.3", value)

	_, value, ok = parseAnswer("ANS_FILENAME='song.mp3'")
	require.True(t, ok)
	assert.Equal(t, "song.mp3", value)

	_, _, ok = parseAnswer("Playing song.mp3.")
	assert.False(t, ok)
}

func TestLineWriterSplitsAcrossWrites(t *testing.T) {
	var lines []string
	w := &lineWriter{fn: func(l string) { lines = append(lines, l) }}
	_, _ = w.Write([]byte("ANS_a=1\r\nANS_"))
	_, _ = w.Write([]byte("b=2\n"))
	assert.Equal(t, []string{"ANS_a=1", "ANS_b=2"}, lines)
}

func TestArgs(t *testing.T) {
	s := NewSpawner(Config{})
	got := s.Args(ports.Source{URL: "http://x/y.mp3"}, 80)
	assert.Equal(t, []string{"-ao", "pulse", "-novideo", "-volume", "80", "-slave", "-quiet", "http://x/y.mp3"}, got)

	ps := NewPipelineSpawner(Config{CacheKB: 2048})
	assert.Equal(t, []string{"-ao", "pulse", "-quiet", "-cache", "2048", "-volume", "55", "-"}, ps.PlayerArgs(55))
}

func TestSpawnSendQuit(t *testing.T) {
	bin := script(t, "mplayer", fakePlayer)
	s := NewSpawner(Config{Binary: bin, PulseRuntimePath: "/run/pulse-test"})

	p, err := s.Spawn(context.Background(), ports.Source{Path: "/music/a.mp3"}, 70)
	require.NoError(t, err)
	assert.Positive(t, p.Pid())

	require.NoError(t, p.Send(ports.SetVolume(40)))
	require.NoError(t, p.Send(ports.PauseToggle()))
	require.NoError(t, p.Send(ports.Quit()))

	st := waitExit(t, p)
	assert.True(t, st.Success(), "exit: %+v", st)

	diag := strings.Join(p.(*Process).Diagnostics(), "\n")
	assert.Contains(t, diag, "args: -ao pulse -novideo -volume 70 -slave -quiet /music/a.mp3")
	assert.Contains(t, diag, "pulse: /run/pulse-test")
	assert.Contains(t, diag, "got: volume 40 1\ngot: pause\nANS_pause=yes\ngot: quit")

	assert.ErrorIs(t, p.Send(ports.PauseToggle()), ports.ErrProcessExited)
	forced, err := p.Terminate(time.Second)
	assert.NoError(t, err)
	assert.False(t, forced, "terminating an exited player is a no-op")
}

func TestNonzeroExit(t *testing.T) {
	bin := script(t, "mplayer", fakePlayer)
	p, err := NewSpawner(Config{Binary: bin}).Spawn(context.Background(), ports.Source{Path: "/a.mp3"}, 100)
	require.NoError(t, err)

	require.NoError(t, p.(*Process).stdin.Close())
	st := waitExit(t, p)
	assert.Equal(t, 3, st.Code)
	assert.False(t, st.Success())
}

func TestTerminateGraceful(t *testing.T) {
	bin := script(t, "mplayer", fakePlayer)
	p, err := NewSpawner(Config{Binary: bin}).Spawn(context.Background(), ports.Source{Path: "/a.mp3"}, 100)
	require.NoError(t, err)

	forced, err := p.Terminate(2 * time.Second)
	require.NoError(t, err)
	assert.False(t, forced)
	assert.True(t, waitExit(t, p).Success())
}

func TestTerminateForcesStubbornPlayer(t *testing.T) {
	bin := script(t, "mplayer", stubbornPlayer)
	p, err := NewSpawner(Config{Binary: bin}).Spawn(context.Background(), ports.Source{Path: "/a.mp3"}, 100)
	require.NoError(t, err)

	start := time.Now()
	forced, err := p.Terminate(100 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, forced)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.False(t, waitExit(t, p).Success())
}

func TestSpawnMissingBinary(t *testing.T) {
	s := NewSpawner(Config{Binary: filepath.Join(t.TempDir(), "nope")})
	_, err := s.Spawn(context.Background(), ports.Source{Path: "/a.mp3"}, 100)
	assert.Error(t, err)

	_, err = s.Spawn(context.Background(), ports.Source{}, 100)
	assert.Error(t, err)
}

func TestPipelineCopiesStdinToPlayer(t *testing.T) {
	out := filepath.Join(t.TempDir(), "played.raw")
	t.Setenv("PLAYD_TEST_OUT", out)
	trans := script(t, "ffmpeg", "#!/bin/sh\nexec cat\n")
	player := script(t, "mplayer", "#!/bin/sh\nexec cat > \"$PLAYD_TEST_OUT\"\n")

	ps := NewPipelineSpawner(Config{Binary: player, TranscoderBinary: trans})
	p, err := ps.SpawnPipeline(context.Background(), 100)
	require.NoError(t, err)

	_, err = p.Stdin().Write([]byte("RIFF....WAVE"))
	require.NoError(t, err)
	require.NoError(t, p.Stdin().Close())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
	st := p.Wait()
	assert.True(t, st.Success(), "status: %+v", st)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "RIFF....WAVE", string(data))
}

func TestPipelineTerminate(t *testing.T) {
	trans := script(t, "ffmpeg", "#!/bin/sh\nexec cat\n")
	player := script(t, "mplayer", "#!/bin/sh\nexec sleep 30\n")

	p, err := NewPipelineSpawner(Config{Binary: player, TranscoderBinary: trans}).SpawnPipeline(context.Background(), 100)
	require.NoError(t, err)

	forced, err := p.Terminate(2 * time.Second)
	require.NoError(t, err)
	assert.False(t, forced)
	assert.False(t, p.Wait().Success())

	forced, err = p.Terminate(time.Second)
	require.NoError(t, err)
	assert.False(t, forced)
}
