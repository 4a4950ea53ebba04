// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tts synthesizes speech with the edge-tts command line tool and
// keeps the results in an on-disk cache keyed by the normalized text.
package tts

import (
	"bytes"
	"context"
	"crypto/md5" // #nosec G501 -- cache key, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/infra/ffmpeg"
	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/metrics"
	"github.com/ManuGH/playd/internal/procgroup"
	"github.com/ManuGH/playd/internal/telemetry"
)

const (
	DefaultVoice    = "zh-CN-XiaoxiaoNeural"
	DefaultMaxChars = 5000
	DefaultTimeout  = 60 * time.Second

	diagnosticLines = 20
	waitDelay       = 2 * time.Second
)

// ErrEmptyAudio is returned when the synthesizer exits cleanly but writes
// no audio.
var ErrEmptyAudio = errors.New("synthesizer produced no audio")

// Config configures the synthesizer.
type Config struct {
	Binary       string
	DefaultVoice string
	CacheDir     string
	MaxChars     int
	VoiceLocale  string
	Timeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = "edge-tts"
	}
	if c.DefaultVoice == "" {
		c.DefaultVoice = DefaultVoice
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxChars
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Synthesizer implements ports.Synthesizer on top of the edge-tts CLI.
type Synthesizer struct {
	cfg    Config
	group  singleflight.Group
	tracer trace.Tracer
	logger zerolog.Logger

	voicesMu  sync.Mutex
	voices    []Voice
	voicesAt  time.Time
	voicesTTL time.Duration
	now       func() time.Time
}

// New creates the cache directory and returns a ready synthesizer.
func New(cfg Config) (*Synthesizer, error) {
	cfg = cfg.withDefaults()
	if cfg.CacheDir == "" {
		return nil, errors.New("tts: cache dir is required")
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o750); err != nil {
		return nil, fmt.Errorf("tts: create cache dir: %w", err)
	}
	return &Synthesizer{
		cfg:       cfg,
		tracer:    telemetry.Tracer("playd/tts"),
		logger:    log.WithComponent("tts"),
		voicesTTL: time.Hour,
		now:       time.Now,
	}, nil
}

// Normalize returns text in NFC form with surrounding space removed. It
// fails with an invalid_argument error when the result is empty or longer
// than the configured limit.
func (s *Synthesizer) Normalize(text string) (string, error) {
	text = strings.TrimSpace(norm.NFC.String(text))
	if text == "" {
		return "", model.Errorf(model.ClassInvalidArgument, "tts.synthesize", "text is empty")
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.MaxChars {
		return "", model.Errorf(model.ClassInvalidArgument, "tts.synthesize", "text has %d characters, limit is %d", n, s.cfg.MaxChars)
	}
	return text, nil
}

// CachePath returns the cache file for text spoken by voice. The default
// voice keeps the plain <md5>.mp3 name.
func (s *Synthesizer) CachePath(text, voice string) string {
	sum := md5.Sum([]byte(text)) // #nosec G401
	name := hex.EncodeToString(sum[:])
	if voice != "" && voice != s.cfg.DefaultVoice {
		name += "-" + voice
	}
	return filepath.Join(s.cfg.CacheDir, name+".mp3")
}

// Synthesize returns the path of an MP3 file with text spoken by voice.
// Cached results are returned without running the synthesizer, and
// concurrent requests for the same text share one run.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (string, error) {
	text, err := s.Normalize(text)
	if err != nil {
		return "", err
	}
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}
	if !validVoice(voice) {
		return "", model.Errorf(model.ClassInvalidArgument, "tts.synthesize", "invalid voice %q", voice)
	}

	ctx, span := s.tracer.Start(ctx, "tts.synthesize",
		trace.WithAttributes(telemetry.TTSAttributes(voice, utf8.RuneCountInString(text))...))
	defer span.End()

	path := s.CachePath(text, voice)
	if fileReady(path) {
		metrics.IncTTSCache("hit")
		span.SetAttributes(attribute.String(telemetry.TTSCacheKey, "hit"))
		return path, nil
	}

	ch := s.group.DoChan(path, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Timeout)
		defer cancel()
		return path, s.render(runCtx, text, voice, path)
	})

	select {
	case <-ctx.Done():
		span.SetStatus(codes.Error, "canceled")
		return "", ctx.Err()
	case res := <-ch:
		result := "miss"
		if res.Shared {
			result = "shared"
		}
		metrics.IncTTSCache(result)
		span.SetAttributes(attribute.String(telemetry.TTSCacheKey, result))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return "", res.Err
		}
		return path, nil
	}
}

// render runs the synthesizer into a pending file next to dst and renames
// it into place once it holds audio.
func (s *Synthesizer) render(ctx context.Context, text, voice, dst string) error {
	pending, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("tts: create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	// edge-tts writes the media by path; the pending file is reopened by it.
	args := textArgs(voice, text, pending.Name())
	ring := ffmpeg.NewRingBuffer(diagnosticLines)
	if err := s.run(ctx, ring, args...); err != nil {
		s.logger.Error().Err(err).
			Str(log.FieldEvent, "tts.synthesize_failed").
			Str(log.FieldVoice, voice).
			Strs("diagnostics", ring.GetAll()).
			Msg("speech synthesis failed")
		return err
	}

	fi, err := os.Stat(pending.Name())
	if err != nil || fi.Size() == 0 {
		return ErrEmptyAudio
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("tts: commit cache file: %w", err)
	}
	s.logger.Info().
		Str(log.FieldEvent, "tts.synthesized").
		Str(log.FieldVoice, voice).
		Str(log.FieldPath, dst).
		Int64(log.FieldBytes, fi.Size()).
		Msg("speech synthesized")
	return nil
}

// run executes the synthesizer binary in its own process group. Output is
// kept for diagnostics; a deadline kills the whole group.
func (s *Synthesizer) run(ctx context.Context, ring *ffmpeg.RingBuffer, args ...string) error {
	var out bytes.Buffer
	// #nosec G204 -- binary comes from configuration, text is a single argv element
	cmd := exec.CommandContext(ctx, s.cfg.Binary, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.Kill(cmd, syscall.SIGKILL) }

	err := cmd.Run()
	ring.Scan(&out, "", nil)
	switch {
	case err == nil:
		metrics.IncProcSpawn("tts", "ok")
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		metrics.IncProcSpawn("tts", "timeout")
		return model.Errorf(model.ClassTimeout, "tts.synthesize", "%s did not finish within %s", s.cfg.Binary, s.cfg.Timeout)
	default:
		metrics.IncProcSpawn("tts", "error")
		return fmt.Errorf("run %s: %w", s.cfg.Binary, err)
	}
}

func fileReady(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Size() > 0
}

// validVoice accepts short voice names such as zh-CN-XiaoxiaoNeural.
func validVoice(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// textArgs binds the text to its flag with "=" so that text starting with
// a dash is never read as an option.
func textArgs(voice, text, media string) []string {
	return []string{"--voice=" + voice, "--text=" + text, "--write-media=" + media}
}
