// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/playd/internal/metrics"
)

// Outcome describes how a terminated process group went away.
type Outcome struct {
	// Forced is true when the grace period elapsed and SIGKILL was sent.
	Forced bool
	// Err is the result of the process Wait.
	Err error
}

// Terminate stops a process group in two steps. soft is the graceful
// request (a protocol "quit" for players, SIGTERM for transcoders); when
// soft is nil, SIGTERM is sent to the group. If done does not close within
// grace, SIGKILL follows. Terminate always waits for done before
// returning. waitErr is read after done closes and reports the exit result.
// It is safe to call on nil commands.
func Terminate(cmd *exec.Cmd, done <-chan struct{}, waitErr func() error, grace time.Duration, soft func() error) Outcome {
	if cmd == nil || cmd.Process == nil {
		return Outcome{}
	}

	select {
	case <-done:
		return Outcome{Err: waitErr()}
	default:
	}

	sig := "SIGTERM"
	var err error
	if soft != nil {
		sig = "QUIT"
		err = soft()
	} else {
		err = Kill(cmd, syscall.SIGTERM)
	}
	if err == nil {
		metrics.IncProcTerminate(sig, "sent")
	} else {
		metrics.IncProcTerminate(sig, "error")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		err := waitErr()
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return Outcome{Err: err}
	case <-timer.C:
		if err := Kill(cmd, syscall.SIGKILL); err == nil {
			metrics.IncProcTerminate("SIGKILL", "sent")
		} else {
			metrics.IncProcTerminate("SIGKILL", "error")
		}

		// Always drain; SIGKILL frees a blocked process.
		<-done
		err := waitErr()
		if err == nil {
			metrics.IncProcWait("forced_exit0")
		} else {
			metrics.IncProcWait("forced_error")
		}
		return Outcome{Forced: true, Err: err}
	}
}
