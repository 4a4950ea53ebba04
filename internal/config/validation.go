// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/rs/zerolog"

	platformnet "github.com/ManuGH/playd/internal/platform/net"
	"github.com/ManuGH/playd/internal/validate"
)

// Validate checks ranges and required values.
func Validate(cfg Config) error {
	v := validate.New()

	v.ListenAddr("server.listen", cfg.Server.Listen)
	v.Range("server.rate_limit", cfg.Server.RateLimit, 0, 1_000_000)
	v.MinDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout, time.Second)

	v.NotEmpty("player.binary", cfg.Player.Binary)
	v.NotEmpty("player.audio_out", cfg.Player.AudioOut)
	v.MinDuration("player.stop_grace", cfg.Player.StopGrace, 10*time.Millisecond)
	v.NotEmpty("transcoder.binary", cfg.Transcoder.Binary)

	v.Range("stream.queue_size", cfg.Stream.QueueSize, 1, 4096)
	v.MinDuration("stream.poll_interval", cfg.Stream.PollInterval, 10*time.Millisecond)
	v.Range("stream.cache_kb", cfg.Stream.CacheKB, 32, 1<<20)

	v.AbsPath("audio.dir", cfg.Audio.Dir)
	v.FloatRange("audio.default_volume", cfg.Audio.DefaultVolume, 0, 1)
	if len(cfg.Audio.Formats) == 0 {
		v.AddError("audio.formats", "at least one format is required", cfg.Audio.Formats)
	}
	if cfg.Audio.MaxUploadBytes <= 0 {
		v.AddError("audio.max_upload_bytes", "value must be positive", cfg.Audio.MaxUploadBytes)
	}

	v.NotEmpty("tts.binary", cfg.TTS.Binary)
	v.NotEmpty("tts.default_voice", cfg.TTS.DefaultVoice)
	v.AbsPath("tts.cache_dir", cfg.TTS.CacheDir)
	v.Range("tts.max_chars", cfg.TTS.MaxChars, 1, 100_000)
	v.MinDuration("tts.timeout", cfg.TTS.Timeout, time.Second)

	if cfg.Catalog.BaseURL != "" {
		v.URL("catalog.base_url", cfg.Catalog.BaseURL, []string{"http", "https"})
	}
	v.MinDuration("catalog.timeout", cfg.Catalog.Timeout, 100*time.Millisecond)
	v.FloatRange("catalog.rps", cfg.Catalog.RPS, 0.01, 1000)
	v.Range("catalog.breaker_threshold", cfg.Catalog.BreakerThreshold, 1, 100)
	v.MinDuration("catalog.breaker_reset", cfg.Catalog.BreakerReset, time.Second)
	v.MinDuration("catalog.cache_ttl", cfg.Catalog.CacheTTL, 0)

	v.MinDuration("reaper.interval", cfg.Reaper.Interval, time.Second)
	v.MinDuration("reaper.ttl", cfg.Reaper.TTL, time.Second)

	if cfg.Events.NATSURL != "" {
		v.URL("events.nats_url", cfg.Events.NATSURL, []string{"nats", "tls", "ws", "wss"})
	}
	v.Range("events.buffer", cfg.Events.Buffer, 1, 65536)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.sampling_rate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil || cfg.Log.Level == "" {
		v.AddError("log.level", "unknown log level", cfg.Log.Level)
	}

	return v.Err()
}

// Normalize validates cfg and returns it with the catalog host in
// canonical ASCII form.
func Normalize(cfg Config) (Config, error) {
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	if cfg.Catalog.BaseURL != "" {
		base, err := platformnet.NormalizeBaseURL(cfg.Catalog.BaseURL)
		if err != nil {
			return cfg, err
		}
		cfg.Catalog.BaseURL = base
	}
	return cfg, nil
}
