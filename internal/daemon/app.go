// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/playd/internal/config"
	sessions "github.com/ManuGH/playd/internal/domain/session/manager"
	"github.com/ManuGH/playd/internal/events"
	"github.com/ManuGH/playd/internal/log"
)

// App owns the long-lived runtime lifecycle (reaper, config reload, event
// log) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.Holder
	registry     *sessions.Registry
	sweeper      *sessions.Sweeper
	bus          *events.MemoryBus
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder and bus may be nil.
func NewApp(manager Manager, cfgHolder *config.Holder, registry *sessions.Registry, sweeper *sessions.Sweeper, bus *events.MemoryBus) *App {
	return &App{
		logger:       log.WithComponent("daemon"),
		manager:      manager,
		cfgHolder:    cfgHolder,
		registry:     registry,
		sweeper:      sweeper,
		bus:          bus,
		reloadSignal: syscall.SIGHUP,
	}
}

// Manager returns the server manager.
func (a *App) Manager() Manager { return a.manager }

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// The watcher is best-effort: startup does not fail without it.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		defer a.cfgHolder.Stop()

		applyCh := make(chan config.Config, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.apply(cfg)
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(log.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(context.Background()); err != nil {
						a.logger.Warn().
							Err(err).
							Str(log.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	if a.sweeper != nil {
		g.Go(func() error {
			a.sweeper.Run(ctx)
			return nil
		})
	}

	if a.bus != nil {
		sub := a.bus.Subscribe()
		g.Go(func() error {
			defer func() { _ = sub.Close() }()
			a.logEvents(ctx, sub)
			return nil
		})
	}

	// Main server lifecycle.
	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}

// apply pushes the settings that are safe to change at runtime.
func (a *App) apply(cfg config.Config) {
	if a.registry != nil {
		a.registry.SetOptions(RegistryOptions(cfg))
	}
	if a.sweeper != nil {
		a.sweeper.SetInterval(cfg.Reaper.Interval)
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		a.logger.Warn().Err(err).Str(log.FieldEvent, "config.log_level_invalid").Msg("keeping previous log level")
	}
	a.logger.Info().
		Str(log.FieldEvent, "config.applied").
		Dur("reaper_interval", cfg.Reaper.Interval).
		Dur("ttl", cfg.Reaper.TTL).
		Float64("default_volume", cfg.Audio.DefaultVolume).
		Msg("runtime settings applied")
}

// logEvents writes every session event to the debug log.
func (a *App) logEvents(ctx context.Context, sub *events.Subscription) {
	logger := log.WithComponent("events")
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			logger.Debug().
				Str(log.FieldEvent, string(evt.Type)).
				Str(log.FieldSessionID, evt.SessionID).
				Str("kind", string(evt.Kind)).
				Str("status", string(evt.Status)).
				Str("reason", evt.Reason).
				Msg("session event")
		}
	}
}
