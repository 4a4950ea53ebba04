// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Environment variables that override file values.
const (
	EnvListen     = "PLAYD_LISTEN"
	EnvRateLimit  = "PLAYD_RATE_LIMIT"
	EnvPlayerBin  = "PLAYD_PLAYER_BIN"
	EnvAudioDir   = "PLAYD_AUDIO_DIR"
	EnvCatalogURL = "PLAYD_CATALOG_URL"
	EnvRedisAddr  = "PLAYD_REDIS_ADDR"
	EnvNATSURL    = "PLAYD_NATS_URL"
	EnvReaperTTL  = "PLAYD_REAPER_TTL"
	EnvLogLevel   = "LOG_LEVEL"
)

// envReader reads overrides and remembers which keys were consulted.
type envReader struct {
	logger   zerolog.Logger
	consumed map[string]struct{}
}

func (r *envReader) lookup(key string) (string, bool) {
	r.consumed[key] = struct{}{}
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.lookup(key); ok {
		r.logger.Debug().Str("key", key).Str("value", v).Str("source", "environment").Msg("using environment variable")
		*dst = v
	}
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		r.logger.Warn().Str("key", key).Str("value", v).Int("default", *dst).Msg("invalid integer in environment variable, using default")
		return
	}
	*dst = i
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.logger.Warn().Str("key", key).Str("value", v).Dur("default", *dst).Msg("invalid duration in environment variable, using default")
		return
	}
	*dst = d
}

func (r *envReader) apply(cfg *Config) {
	r.str(EnvListen, &cfg.Server.Listen)
	r.integer(EnvRateLimit, &cfg.Server.RateLimit)
	r.str(EnvPlayerBin, &cfg.Player.Binary)
	r.str(EnvAudioDir, &cfg.Audio.Dir)
	r.str(EnvCatalogURL, &cfg.Catalog.BaseURL)
	r.str(EnvRedisAddr, &cfg.Cache.RedisAddr)
	r.str(EnvNATSURL, &cfg.Events.NATSURL)
	r.duration(EnvReaperTTL, &cfg.Reaper.TTL)
	r.str(EnvLogLevel, &cfg.Log.Level)
}
