// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package media stores uploaded audio in the scratch directory and removes
// it again when the owning session is reaped.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/log"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrTooLarge          = errors.New("upload exceeds size limit")
)

// Config configures a Store.
type Config struct {
	Dir      string
	Formats  []string
	MaxBytes int64
}

// Store writes scratch media under one directory. It implements
// ports.TempStore.
type Store struct {
	fs       afero.Afero
	dir      string
	formats  map[string]struct{}
	maxBytes int64
	logger   zerolog.Logger
}

// New creates the directory on fs and returns the store.
func New(fs afero.Fs, cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("media: dir is required")
	}
	s := &Store{
		fs:       afero.Afero{Fs: fs},
		dir:      filepath.Clean(cfg.Dir),
		formats:  make(map[string]struct{}, len(cfg.Formats)),
		maxBytes: cfg.MaxBytes,
		logger:   log.WithComponent("media"),
	}
	for _, f := range cfg.Formats {
		s.formats[strings.TrimPrefix(strings.ToLower(f), ".")] = struct{}{}
	}
	if err := s.fs.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("media: create dir: %w", err)
	}
	return s, nil
}

// Dir returns the scratch directory.
func (s *Store) Dir() string { return s.dir }

// Ext returns the lowercase extension of filename without the dot, or an
// invalid_argument error when the format is not accepted.
func (s *Store) Ext(filename string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if _, ok := s.formats[ext]; !ok || ext == "" {
		return "", model.Wrap(model.ClassInvalidArgument, "media.save",
			fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename)))
	}
	return ext, nil
}

// SaveUpload copies r into audio_<uuid>.<ext> and returns the path.
func (s *Store) SaveUpload(r io.Reader, filename string) (string, error) {
	ext, err := s.Ext(filename)
	if err != nil {
		return "", err
	}
	return s.save(r, fmt.Sprintf("audio_%s.%s", model.NewID(), ext))
}

// SaveDirect copies a raw WAV body into stream_direct_<uuid>.wav.
func (s *Store) SaveDirect(r io.Reader) (string, error) {
	return s.save(r, "stream_direct_"+model.NewID()+".wav")
}

func (s *Store) save(r io.Reader, name string) (string, error) {
	path := filepath.Join(s.dir, name)
	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("media: create %s: %w", name, err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		_ = s.fs.Remove(path)
		return "", fmt.Errorf("media: write %s: %w", name, err)
	case s.maxBytes > 0 && n > s.maxBytes:
		_ = s.fs.Remove(path)
		return "", model.Wrap(model.ClassInvalidArgument, "media.save",
			fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.maxBytes))
	case n == 0:
		_ = s.fs.Remove(path)
		return "", model.Errorf(model.ClassInvalidArgument, "media.save", "upload is empty")
	}

	s.logger.Debug().
		Str(log.FieldEvent, "media.saved").
		Str(log.FieldPath, path).
		Int64(log.FieldBytes, n).
		Msg("scratch media saved")
	return path, nil
}

// Remove deletes a scratch file. Paths outside the store and files that
// are already gone are ignored.
func (s *Store) Remove(path string) error {
	if !s.owns(path) {
		s.logger.Warn().Str(log.FieldEvent, "media.remove_refused").Str(log.FieldPath, path).Msg("refusing to remove file outside the scratch dir")
		return nil
	}
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("media: remove: %w", err)
	}
	return nil
}

func (s *Store) owns(path string) bool {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..") && !strings.ContainsRune(rel, filepath.Separator)
}

// Title reads the title tag of path, falling back to the base of
// fallback without its extension.
func (s *Store) Title(path, fallback string) string {
	base := strings.TrimSuffix(filepath.Base(fallback), filepath.Ext(fallback))
	f, err := s.fs.Open(path)
	if err != nil {
		return base
	}
	defer f.Close()

	md, err := tag.ReadFrom(f)
	if err != nil || md == nil || strings.TrimSpace(md.Title()) == "" {
		return base
	}
	return strings.TrimSpace(md.Title())
}
