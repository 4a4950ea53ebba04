// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

// EventKind is an input to the session state machine.
type EventKind int

const (
	EvPlay EventKind = iota + 1
	EvPause
	EvResume
	EvExitClean    // process exited with code 0
	EvExitFailed   // process exited nonzero or could not be waited on
	EvStopGraceful // stop: process left within the grace period
	EvStopForced   // stop: grace elapsed, process was killed
	EvCancel       // stop before a process was ever spawned
	EvFail         // spawn or upstream failure before playback began
)

func (e EventKind) String() string {
	switch e {
	case EvPlay:
		return "play"
	case EvPause:
		return "pause"
	case EvResume:
		return "resume"
	case EvExitClean:
		return "exit_clean"
	case EvExitFailed:
		return "exit_failed"
	case EvStopGraceful:
		return "stop_graceful"
	case EvStopForced:
		return "stop_forced"
	case EvCancel:
		return "cancel"
	case EvFail:
		return "fail"
	default:
		return "unknown"
	}
}
