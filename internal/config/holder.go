// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/playd/internal/log"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Holder holds the live configuration and reloads it atomically from
// file, on demand or when the file changes.
type Holder struct {
	current  atomic.Pointer[Config]
	loader   *Loader
	logger   zerolog.Logger
	debounce time.Duration

	reloadMu sync.Mutex

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	loopDone chan struct{}

	listenersMu sync.RWMutex
	listeners   []chan<- Config
}

func NewHolder(initial Config, loader *Loader) *Holder {
	h := &Holder{
		loader:   loader,
		logger:   log.WithComponent("config"),
		debounce: DefaultDebounce,
	}
	h.current.Store(&initial)
	return h
}

// Get returns the current configuration.
func (h *Holder) Get() Config {
	return *h.current.Load()
}

// Reload loads and validates the file. On failure the previous
// configuration stays in place.
func (h *Holder) Reload(_ context.Context) error {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")
	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("failed to load new configuration")
		return fmt.Errorf("reload config: %w", err)
	}

	prev := h.current.Swap(&next)
	h.logChanges(*prev, next)
	h.notifyListeners(next)
	h.logger.Info().Str(log.FieldEvent, "config.reload_success").Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher watches the config file's directory so that editors which
// replace the file by rename are noticed. It is a no-op for env-only
// configuration.
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().Str(log.FieldEvent, "config.watcher_disabled").Msg("config file watcher disabled (env-only configuration)")
		return nil
	}

	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	if h.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.watcher = w
	h.loopDone = make(chan struct{})

	h.logger.Info().Str(log.FieldEvent, "config.watcher_started").Str(log.FieldPath, path).Msg("watching config file for changes")
	go h.watchLoop(ctx, w, filepath.Clean(path), h.loopDone)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, w *fsnotify.Watcher, path string, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		_ = w.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().Str(log.FieldEvent, "config.file_changed").Str("op", ev.Op.String()).Msg("config file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(h.debounce, func() {
				if err := h.Reload(ctx); err != nil {
					h.logger.Error().Err(err).Str(log.FieldEvent, "config.auto_reload_failed").Msg("automatic config reload failed")
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str(log.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}

// Stop closes the watcher and waits for its loop to exit.
func (h *Holder) Stop() {
	h.watchMu.Lock()
	w, done := h.watcher, h.loopDone
	h.watcher, h.loopDone = nil, nil
	h.watchMu.Unlock()
	if w == nil {
		return
	}
	_ = w.Close()
	<-done
}

// RegisterListener registers a channel that receives every successfully
// reloaded configuration. Sends never block; a full channel misses the
// update.
func (h *Holder) RegisterListener(ch chan<- Config) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(cfg Config) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str(log.FieldEvent, "config.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

// ChangedSections names the top-level sections that differ.
func ChangedSections(prev, next Config) []string {
	sections := []struct {
		name string
		a, b any
	}{
		{"server", prev.Server, next.Server},
		{"player", prev.Player, next.Player},
		{"transcoder", prev.Transcoder, next.Transcoder},
		{"stream", prev.Stream, next.Stream},
		{"audio", prev.Audio, next.Audio},
		{"tts", prev.TTS, next.TTS},
		{"catalog", prev.Catalog, next.Catalog},
		{"cache", prev.Cache, next.Cache},
		{"reaper", prev.Reaper, next.Reaper},
		{"playlist", prev.Playlist, next.Playlist},
		{"events", prev.Events, next.Events},
		{"telemetry", prev.Telemetry, next.Telemetry},
		{"log", prev.Log, next.Log},
	}
	var out []string
	for _, s := range sections {
		if !cmp.Equal(s.a, s.b) {
			out = append(out, s.name)
		}
	}
	return out
}

// RequiresRestart reports sections that changed but are only read at
// startup.
func RequiresRestart(prev, next Config) []string {
	live := map[string]bool{"reaper": true, "playlist": true, "log": true, "audio": true}
	var out []string
	for _, s := range ChangedSections(prev, next) {
		if !live[s] {
			out = append(out, s)
		}
	}
	return out
}

func (h *Holder) logChanges(prev, next Config) {
	changed := ChangedSections(prev, next)
	if len(changed) == 0 {
		return
	}
	evt := h.logger.Info().Str(log.FieldEvent, "config.changed").Strs("sections", changed)
	if restart := RequiresRestart(prev, next); len(restart) > 0 {
		evt = evt.Strs("restart_required", restart)
	}
	evt.Msg("configuration changed")
}
