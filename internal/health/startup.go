// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ManuGH/playd/internal/config"
	"github.com/ManuGH/playd/internal/log"
)

// PerformStartupChecks validates the environment before the server starts.
// A missing player or an unwritable scratch directory is fatal; missing
// optional tools are logged.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Str(log.FieldEvent, "startup.checks_begin").Msg("running pre-flight startup checks")

	if err := ensureWritableDir(logger, cfg.Audio.Dir); err != nil {
		return fmt.Errorf("audio directory check failed: %w", err)
	}
	if err := ensureWritableDir(logger, cfg.TTS.CacheDir); err != nil {
		return fmt.Errorf("tts cache directory check failed: %w", err)
	}

	if _, err := exec.LookPath(cfg.Player.Binary); err != nil {
		return fmt.Errorf("player binary not found (%s): %w", cfg.Player.Binary, err)
	}
	for _, bin := range []struct{ name, path string }{
		{"transcoder", cfg.Transcoder.Binary},
		{"tts", cfg.TTS.Binary},
	} {
		if _, err := exec.LookPath(bin.path); err != nil {
			logger.Warn().
				Str(log.FieldEvent, "startup.binary_missing").
				Str("role", bin.name).
				Str("binary", bin.path).
				Msg("optional binary not found; dependent endpoints will fail")
		}
	}

	if cfg.Catalog.BaseURL == "" {
		logger.Warn().Str(log.FieldEvent, "startup.catalog_unset").Msg("catalog base URL not configured; playlist tracks need explicit URLs")
	}

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("all startup checks passed")
	return nil
}

func ensureWritableDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return err
	}
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str(log.FieldPath, path).Msg("directory is writable")
	return nil
}
