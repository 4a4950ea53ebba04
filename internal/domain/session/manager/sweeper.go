// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"context"
	"time"

	"github.com/ManuGH/playd/internal/log"
)

// DefaultSweepInterval is how often the reaper runs when unconfigured.
const DefaultSweepInterval = 300 * time.Second

// Sweeper runs the registry reaper on a ticker.
type Sweeper struct {
	Registry *Registry
	Interval time.Duration
	// Now is the reaper clock; nil means time.Now.
	Now func() time.Time

	reset chan time.Duration
}

// NewSweeper returns a sweeper for reg.
func NewSweeper(reg *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{Registry: reg, Interval: interval, reset: make(chan time.Duration, 1)}
}

// SetInterval changes the tick period of a running sweeper.
func (s *Sweeper) SetInterval(d time.Duration) {
	if d <= 0 || s.reset == nil {
		return
	}
	select {
	case <-s.reset:
	default:
	}
	s.reset <- d
}

// Run starts the sweeper loop. It periodically calls SweepOnce until ctx
// is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.L().Info().Dur("interval", interval).Msg("background sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.reset:
			interval = d
			ticker.Reset(d)
			log.L().Info().Dur("interval", d).Msg("sweeper interval changed")
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs exactly one reaper pass.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Registry.CleanupExpired(ctx, now())
}
