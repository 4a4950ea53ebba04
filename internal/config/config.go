// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration from YAML and environment
// variables and keeps it reloadable at runtime.
package config

import "time"

// Config is the complete daemon configuration. Durations accept Go
// duration strings in YAML ("5s", "10m").
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Player     PlayerConfig     `yaml:"player"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Stream     StreamConfig     `yaml:"stream"`
	Audio      AudioConfig      `yaml:"audio"`
	TTS        TTSConfig        `yaml:"tts"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Cache      CacheConfig      `yaml:"cache"`
	Reaper     ReaperConfig     `yaml:"reaper"`
	Playlist   PlaylistConfig   `yaml:"playlist"`
	Events     EventsConfig     `yaml:"events"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Log        LogConfig        `yaml:"log"`

	// Version is set from the binary, not from configuration.
	Version string `yaml:"-"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit       int           `yaml:"rate_limit"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// CORSOrigins lists browser origins allowed to call the API; "*"
	// allows any.
	CORSOrigins []string `yaml:"cors_origins"`
}

type PlayerConfig struct {
	Binary           string        `yaml:"binary"`
	AudioOut         string        `yaml:"audio_out"`
	PulseRuntimePath string        `yaml:"pulse_runtime_path"`
	StopGrace        time.Duration `yaml:"stop_grace"`
}

type TranscoderConfig struct {
	Binary string `yaml:"binary"`
}

type StreamConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	CacheKB      int           `yaml:"cache_kb"`
}

type AudioConfig struct {
	Dir            string   `yaml:"dir"`
	DefaultVolume  float64  `yaml:"default_volume"`
	Formats        []string `yaml:"formats"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
}

type TTSConfig struct {
	Binary       string        `yaml:"binary"`
	DefaultVoice string        `yaml:"default_voice"`
	CacheDir     string        `yaml:"cache_dir"`
	MaxChars     int           `yaml:"max_chars"`
	VoiceLocale  string        `yaml:"voice_locale"`
	Timeout      time.Duration `yaml:"timeout"`
}

type CatalogConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	RPS              float64       `yaml:"rps"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

type CacheConfig struct {
	// RedisAddr selects the Redis cache. Empty means in-memory.
	RedisAddr string `yaml:"redis_addr"`
	Prefix    string `yaml:"prefix"`
}

type ReaperConfig struct {
	Interval time.Duration `yaml:"interval"`
	TTL      time.Duration `yaml:"ttl"`
}

type PlaylistConfig struct {
	AutoAdvance bool `yaml:"auto_advance"`
	Loop        bool `yaml:"loop"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Buffer  int    `yaml:"buffer"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Listen:          ":6018",
			RateLimit:       600,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:20201"},
		},
		Player: PlayerConfig{
			Binary:           "mplayer",
			AudioOut:         "pulse",
			PulseRuntimePath: "/var/run/pulse",
			StopGrace:        5 * time.Second,
		},
		Transcoder: TranscoderConfig{Binary: "ffmpeg"},
		Stream: StreamConfig{
			QueueSize:    64,
			PollInterval: 500 * time.Millisecond,
			CacheKB:      1024,
		},
		Audio: AudioConfig{
			Dir:            "/tmp/audio",
			DefaultVolume:  1.0,
			Formats:        []string{"wav", "mp3", "ogg", "flac"},
			MaxUploadBytes: 64 << 20,
		},
		TTS: TTSConfig{
			Binary:       "edge-tts",
			DefaultVoice: "zh-CN-XiaoxiaoNeural",
			CacheDir:     "/tmp/audio/tts_cache",
			MaxChars:     5000,
			VoiceLocale:  "zh-CN",
			Timeout:      60 * time.Second,
		},
		Catalog: CatalogConfig{
			Timeout:          5 * time.Second,
			RPS:              5,
			BreakerThreshold: 3,
			BreakerReset:     30 * time.Second,
			CacheTTL:         10 * time.Minute,
		},
		Cache: CacheConfig{Prefix: "playd:"},
		Reaper: ReaperConfig{
			Interval: 300 * time.Second,
			TTL:      600 * time.Second,
		},
		Playlist: PlaylistConfig{AutoAdvance: true},
		Events:   EventsConfig{Buffer: 64},
		Telemetry: TelemetryConfig{
			ServiceName:  "playd",
			Environment:  "production",
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Log: LogConfig{Level: "info"},
	}
}
