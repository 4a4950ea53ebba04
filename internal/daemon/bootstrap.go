// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the playback daemon together and owns its
// lifecycle.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/ManuGH/playd/internal/api"
	"github.com/ManuGH/playd/internal/api/middleware"
	"github.com/ManuGH/playd/internal/cache"
	"github.com/ManuGH/playd/internal/catalog"
	"github.com/ManuGH/playd/internal/config"
	sessions "github.com/ManuGH/playd/internal/domain/session/manager"
	"github.com/ManuGH/playd/internal/domain/session/ports"
	"github.com/ManuGH/playd/internal/events"
	"github.com/ManuGH/playd/internal/health"
	"github.com/ManuGH/playd/internal/infra/mplayer"
	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/media"
	"github.com/ManuGH/playd/internal/telemetry"
	"github.com/ManuGH/playd/internal/tts"
)

// maxJSONBytes bounds JSON request bodies.
const maxJSONBytes = 1 << 20

// Collaborators replaces the external-process adapters. Nil fields get the
// mplayer and edge-tts implementations.
type Collaborators struct {
	Spawner         ports.Spawner
	PipelineSpawner ports.PipelineSpawner
	Synthesizer     ports.Synthesizer
	Voices          api.VoiceLister
}

// RegistryOptions maps the configuration onto the registry settings.
func RegistryOptions(cfg config.Config) sessions.Options {
	return sessions.Options{
		TTL:           cfg.Reaper.TTL,
		StopGrace:     cfg.Player.StopGrace,
		DefaultVolume: cfg.Audio.DefaultVolume,
		DefaultVoice:  cfg.TTS.DefaultVoice,
		AutoAdvance:   cfg.Playlist.AutoAdvance,
		Loop:          cfg.Playlist.Loop,
		QueueSize:     cfg.Stream.QueueSize,
		PollInterval:  cfg.Stream.PollInterval,
	}
}

// Bootstrap builds every component from cfg and returns the App that runs
// them. holder may be nil when reloads are not wanted. Resources opened
// before a failure are released again.
func Bootstrap(ctx context.Context, cfg config.Config, holder *config.Holder, collab Collaborators) (_ *App, err error) {
	logger := log.WithComponent("bootstrap")

	var hooks []namedHook
	defer func() {
		if err == nil {
			return
		}
		for i := len(hooks) - 1; i >= 0; i-- {
			if cerr := hooks[i].hook(context.WithoutCancel(ctx)); cerr != nil {
				logger.Warn().Err(cerr).Str("hook", hooks[i].name).Msg("cleanup after failed bootstrap")
			}
		}
	}()

	tracingService := ""
	var tracer *telemetry.Provider
	if cfg.Telemetry.Enabled {
		provider, terr := telemetry.NewProvider(ctx, telemetry.Config{
			Enabled:        true,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Version,
			Environment:    cfg.Telemetry.Environment,
			ExporterType:   cfg.Telemetry.Exporter,
			Endpoint:       cfg.Telemetry.Endpoint,
			SamplingRate:   cfg.Telemetry.SamplingRate,
		})
		if terr != nil {
			logger.Warn().Err(terr).Str(log.FieldEvent, "telemetry.init_failed").Msg("telemetry initialization failed, continuing without tracing")
		} else {
			tracingService = cfg.Telemetry.ServiceName
			tracer = provider
			hooks = append(hooks, namedHook{name: "telemetry", hook: provider.Shutdown})
		}
	}

	hm := health.NewManager(cfg.Version)

	var c cache.Cache
	if cfg.Cache.RedisAddr != "" {
		rc, rerr := cache.NewRedisCache(ctx, cache.RedisConfig{Addr: cfg.Cache.RedisAddr, Prefix: cfg.Cache.Prefix}, log.WithComponent("cache"))
		if rerr != nil {
			return nil, fmt.Errorf("redis cache: %w", rerr)
		}
		hm.RegisterChecker(health.NewPingChecker("cache", false, rc.HealthCheck))
		c = rc
	} else {
		c = cache.NewMemoryCache(time.Minute)
	}
	hooks = append(hooks, namedHook{name: "cache", hook: func(context.Context) error { return c.Close() }})

	var resolver ports.Resolver
	if cfg.Catalog.BaseURL != "" {
		cl := catalog.New(catalog.Config{
			BaseURL:          cfg.Catalog.BaseURL,
			RPS:              cfg.Catalog.RPS,
			BreakerThreshold: cfg.Catalog.BreakerThreshold,
			BreakerReset:     cfg.Catalog.BreakerReset,
			CacheTTL:         cfg.Catalog.CacheTTL,
		}, nil, c)
		hm.RegisterChecker(health.NewBreakerChecker("catalog", func() string { return string(cl.BreakerState()) }))
		resolver = cl
	}

	if collab.Synthesizer == nil || collab.Voices == nil {
		synth, serr := tts.New(tts.Config{
			Binary:       cfg.TTS.Binary,
			DefaultVoice: cfg.TTS.DefaultVoice,
			CacheDir:     cfg.TTS.CacheDir,
			MaxChars:     cfg.TTS.MaxChars,
			VoiceLocale:  cfg.TTS.VoiceLocale,
			Timeout:      cfg.TTS.Timeout,
		})
		if serr != nil {
			return nil, fmt.Errorf("tts: %w", serr)
		}
		if collab.Synthesizer == nil {
			collab.Synthesizer = synth
		}
		if collab.Voices == nil {
			collab.Voices = synth
		}
	}

	store, err := media.New(afero.NewOsFs(), media.Config{
		Dir:      cfg.Audio.Dir,
		Formats:  cfg.Audio.Formats,
		MaxBytes: cfg.Audio.MaxUploadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("media store: %w", err)
	}

	playerCfg := mplayer.Config{
		Binary:           cfg.Player.Binary,
		AudioOut:         cfg.Player.AudioOut,
		PulseRuntimePath: cfg.Player.PulseRuntimePath,
		CacheKB:          cfg.Stream.CacheKB,
		TranscoderBinary: cfg.Transcoder.Binary,
	}
	if collab.Spawner == nil {
		collab.Spawner = mplayer.NewSpawner(playerCfg)
	}
	if collab.PipelineSpawner == nil {
		collab.PipelineSpawner = mplayer.NewPipelineSpawner(playerCfg)
	}

	bus := events.NewMemoryBus(cfg.Events.Buffer)
	var publisher events.Publisher = bus
	var nats *events.NATSPublisher
	if cfg.Events.NATSURL != "" {
		np, nerr := events.NewNATSPublisher(events.DefaultNATSConfig(cfg.Events.NATSURL))
		if nerr != nil {
			return nil, nerr
		}
		nats = np
		publisher = events.Multi{bus, np}
		hooks = append(hooks, namedHook{name: "nats", hook: func(context.Context) error { return np.Close() }})
	}

	reg := sessions.NewRegistry(sessions.Deps{
		Spawner:         collab.Spawner,
		PipelineSpawner: collab.PipelineSpawner,
		Synthesizer:     collab.Synthesizer,
		Resolver:        resolver,
		TempStore:       store,
		Publisher:       publisher,
	}, RegistryOptions(cfg))
	hooks = append(hooks, namedHook{name: "registry", hook: reg.Shutdown})
	sweeper := sessions.NewSweeper(reg, cfg.Reaper.Interval)

	hm.RegisterChecker(health.NewDirChecker("audio_dir", cfg.Audio.Dir))
	hm.RegisterChecker(health.NewBinaryChecker("player", cfg.Player.Binary, true))
	hm.RegisterChecker(health.NewBinaryChecker("transcoder", cfg.Transcoder.Binary, false))
	hm.RegisterChecker(health.NewBinaryChecker("tts", cfg.TTS.Binary, false))
	hm.RegisterDetails(health.ProcessDetails)
	hm.RegisterDetails(func(context.Context) map[string]any {
		return map[string]any{"sessions": reg.Counts()}
	})

	srv, err := api.New(ctx, api.Deps{
		Registry: reg,
		Voices:   collab.Voices,
		Media:    store,
		Health:   hm,
	}, api.Config{
		Version: cfg.Version,
		Stack: middleware.StackConfig{
			CORSOrigins:    cfg.Server.CORSOrigins,
			EnableMetrics:  true,
			TracingService: tracingService,
			RateLimit:      cfg.Server.RateLimit,
			MaxJSONBytes:   maxJSONBytes,
			MaxUploadBytes: cfg.Audio.MaxUploadBytes,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("api server: %w", err)
	}

	mgr, err := NewManager(Deps{Server: cfg.Server, APIHandler: srv.Handler(), Registry: reg})
	if err != nil {
		return nil, err
	}
	// Hooks run last-registered first: tracer, then NATS, then the cache.
	mgr.RegisterShutdownHook("cache", func(context.Context) error { return c.Close() })
	if nats != nil {
		mgr.RegisterShutdownHook("nats", func(context.Context) error { return nats.Close() })
	}
	if tracer != nil {
		mgr.RegisterShutdownHook("telemetry", tracer.Shutdown)
	}

	logger.Info().
		Str("version", cfg.Version).
		Str("listen", cfg.Server.Listen).
		Bool("catalog", resolver != nil).
		Bool("redis", cfg.Cache.RedisAddr != "").
		Bool("nats", cfg.Events.NATSURL != "").
		Bool("tracing", tracingService != "").
		Msg("daemon components built")

	return NewApp(mgr, holder, reg, sweeper, bus), nil
}
