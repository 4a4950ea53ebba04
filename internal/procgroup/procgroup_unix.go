// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix && !windows

package procgroup

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Set makes cmd lead a fresh process group, so mplayer and the ffmpeg it
// may fork share one group id.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Kill signals every member of cmd's group. A command that never started
// or whose group is already gone is not an error; any other failure wraps
// ErrKillFailed.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: pid %d: %w", ErrKillFailed, pid, err)
	}

	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("%w: pgid %d %s: %w", ErrKillFailed, pgid, sig, err)
	}
	return nil
}
