// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import "context"

// Resolver looks up catalog tracks. An empty URL with a nil error means
// the track exists but is not playable right now.
type Resolver interface {
	ResolveName(ctx context.Context, id string) (string, error)
	ResolveURL(ctx context.Context, id string) (string, error)
}

// Synthesizer turns text into a playable audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (string, error)
}

// TempStore deletes scratch media owned by sessions.
type TempStore interface {
	Remove(path string) error
}

// Runner starts supervised goroutines. Go returns false once the runner
// is shutting down and fn was not started.
type Runner interface {
	Go(fn func()) bool
}

// GoRunner runs fn on a plain goroutine.
type GoRunner struct{}

func (GoRunner) Go(fn func()) bool {
	go fn()
	return true
}
