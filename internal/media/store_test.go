// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package media

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/playd/internal/domain/session/model"
)

func newStore(t *testing.T, maxBytes int64) (*Store, afero.Afero) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := New(fs, Config{Dir: "/tmp/audio", Formats: []string{"wav", "MP3", ".ogg"}, MaxBytes: maxBytes})
	require.NoError(t, err)
	return s, afero.Afero{Fs: fs}
}

func TestExt(t *testing.T) {
	s, _ := newStore(t, 0)
	tests := map[string]string{
		"song.mp3": "mp3",
		"SONG.MP3": "mp3",
		"a.b.ogg":  "ogg",
		"clip.wav": "wav",
	}
	for name, want := range tests {
		got, err := s.Ext(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"song.flac", "noext", "", "evil.sh"} {
		_, err := s.Ext(bad)
		assert.ErrorIs(t, err, ErrUnsupportedFormat, bad)
		assert.ErrorIs(t, err, model.ErrInvalidArgument, bad)
	}
}

func TestSaveUpload(t *testing.T) {
	s, fs := newStore(t, 0)
	path, err := s.SaveUpload(strings.NewReader("RIFF...."), "My Song.WAV")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/audio", filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^audio_[0-9a-f-]{36}\.wav$`), filepath.Base(path))
	data, err := fs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "RIFF....", string(data))
}

func TestSaveUploadTooLarge(t *testing.T) {
	s, fs := newStore(t, 4)
	_, err := s.SaveUpload(strings.NewReader("12345"), "a.mp3")
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := fs.ReadDir("/tmp/audio")
	require.NoError(t, err)
	assert.Empty(t, entries, "partial upload removed")

	_, err = s.SaveUpload(strings.NewReader("1234"), "a.mp3")
	assert.NoError(t, err, "exactly the limit is accepted")
}

func TestSaveUploadEmpty(t *testing.T) {
	s, _ := newStore(t, 0)
	_, err := s.SaveUpload(&bytes.Buffer{}, "a.mp3")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestSaveDirect(t *testing.T) {
	s, fs := newStore(t, 0)
	path, err := s.SaveDirect(strings.NewReader("RIFF"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^/tmp/audio/stream_direct_[0-9a-f-]{36}\.wav$`), path)
	ok, err := fs.Exists(path)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.SaveDirect(strings.NewReader(""))
	assert.ErrorIs(t, err, model.ErrInvalidArgument, "empty body")
}

func TestRemove(t *testing.T) {
	s, fs := newStore(t, 0)
	path, err := s.SaveUpload(strings.NewReader("x"), "a.ogg")
	require.NoError(t, err)

	require.NoError(t, s.Remove(path))
	ok, _ := fs.Exists(path)
	assert.False(t, ok)

	assert.NoError(t, s.Remove(path), "already gone")

	require.NoError(t, fs.WriteFile("/etc/keep.wav", []byte("x"), 0o644))
	assert.NoError(t, s.Remove("/etc/keep.wav"))
	assert.NoError(t, s.Remove("/tmp/audio/../../etc/keep.wav"))
	ok, _ = fs.Exists("/etc/keep.wav")
	assert.True(t, ok, "files outside the scratch dir are left alone")
}

// id3Title builds a minimal ID3v2.3 tag holding only a title frame.
func id3Title(title string) []byte {
	body := append([]byte{0}, title...)
	frame := append([]byte("TIT2"), 0, 0, 0, byte(len(body)), 0, 0)
	frame = append(frame, body...)
	tag := append([]byte("ID3"), 3, 0, 0, 0, 0, 0, byte(len(frame)))
	tag = append(tag, frame...)
	return append(tag, make([]byte, 32)...)
}

func TestTitle(t *testing.T) {
	s, fs := newStore(t, 0)

	tagged, err := s.SaveUpload(bytes.NewReader(id3Title("Hello")), "x.mp3")
	require.NoError(t, err)
	assert.Equal(t, "Hello", s.Title(tagged, "x.mp3"))

	plain, err := s.SaveUpload(strings.NewReader("RIFF0000WAVE"), "My Song.wav")
	require.NoError(t, err)
	assert.Equal(t, "My Song", s.Title(plain, "My Song.wav"))

	require.NoError(t, fs.Remove(plain))
	assert.Equal(t, "gone", s.Title(plain, "/uploads/gone.wav"))
}
