// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux || (unix && !darwin)

package procgroup

import (
	"errors"
	"io"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type waited struct {
	done chan struct{}
	err  error
}

func startWaited(t *testing.T, cmd *exec.Cmd) *waited {
	t.Helper()
	require.NoError(t, cmd.Start())
	w := &waited{done: make(chan struct{})}
	go func() {
		w.err = cmd.Wait()
		close(w.done)
	}()
	return w
}

func TestProcessGroupKill(t *testing.T) {
	// bash -> sleep (background) + sleep (foreground)
	cmd := exec.Command("bash", "-c", "sleep 10 & sleep 10")
	Set(cmd)
	w := startWaited(t, cmd)

	pid := cmd.Process.Pid
	time.Sleep(100 * time.Millisecond)

	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "Process should be group leader")

	require.NoError(t, Kill(cmd, syscall.SIGKILL))
	<-w.done

	var exitErr *exec.ExitError
	require.True(t, errors.As(w.err, &exitErr), "expected signal exit, got %v", w.err)
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		assert.True(t, status.Signaled())
		assert.Equal(t, syscall.SIGKILL, status.Signal())
	}

	time.Sleep(50 * time.Millisecond)
	err = syscall.Kill(-pgid, syscall.Signal(0))
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		t.Fatalf("process group %d still exists after kill", pgid)
	}
	assert.ErrorIs(t, err, syscall.ESRCH)
}

func TestKill_NilAndExited(t *testing.T) {
	require.NoError(t, Kill(nil, syscall.SIGKILL))
	require.NoError(t, Kill(&exec.Cmd{}, syscall.SIGKILL))

	cmd := exec.Command("true")
	Set(cmd)
	w := startWaited(t, cmd)
	<-w.done
	require.NoError(t, Kill(cmd, syscall.SIGTERM), "exited process must be tolerated")
}

func TestTerminate_SoftQuitHonoured(t *testing.T) {
	// Reads a line from stdin and exits cleanly on "quit".
	cmd := exec.Command("sh", "-c", `while read l; do [ "$l" = quit ] && exit 0; done`)
	Set(cmd)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	w := startWaited(t, cmd)

	out := Terminate(cmd, w.done, func() error { return w.err }, 2*time.Second, func() error {
		_, err := io.WriteString(stdin, "quit\n")
		return err
	})
	assert.False(t, out.Forced)
	assert.NoError(t, out.Err)
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	// Ignores SIGTERM so only SIGKILL can stop it.
	cmd := exec.Command("sh", "-c", `trap '' TERM; sleep 10`)
	Set(cmd)
	w := startWaited(t, cmd)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	out := Terminate(cmd, w.done, func() error { return w.err }, 150*time.Millisecond, nil)
	assert.True(t, out.Forced)
	assert.Error(t, out.Err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTerminate_AlreadyExited(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	w := startWaited(t, cmd)
	<-w.done

	out := Terminate(cmd, w.done, func() error { return w.err }, time.Second, nil)
	assert.False(t, out.Forced)
	assert.NoError(t, out.Err)

	assert.Equal(t, Outcome{}, Terminate(nil, nil, nil, time.Second, nil))
}

func TestKill_UndeliverableSignalWrapsErrKillFailed(t *testing.T) {
	cmd := exec.Command("sleep", "10")
	Set(cmd)
	w := startWaited(t, cmd)

	err := Kill(cmd, syscall.Signal(999))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKillFailed)
	assert.ErrorIs(t, err, syscall.EINVAL)

	require.NoError(t, Kill(cmd, syscall.SIGKILL))
	<-w.done
}
