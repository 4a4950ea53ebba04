// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup spawns external helpers in their own process group so
// that a player or transcoder can be torn down together with any children
// it forked.
package procgroup

import "errors"

// ErrKillFailed wraps a signal that could not be delivered to a live group.
var ErrKillFailed = errors.New("procgroup: kill failed")
