// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/playd/internal/api/middleware"
	"github.com/ManuGH/playd/internal/domain/session/manager"
	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/domain/session/testkit"
	"github.com/ManuGH/playd/internal/media"
	"github.com/ManuGH/playd/internal/tts"
)

type fakeSynth struct {
	dir string
	n   atomic.Int64
}

func (f *fakeSynth) Synthesize(_ context.Context, text, voice string) (string, error) {
	if text == "fail" {
		return "", model.Errorf(model.ClassUpstreamFailure, "tts.synthesize", "edge-tts exited 1")
	}
	path := filepath.Join(f.dir, fmt.Sprintf("tts-%d.mp3", f.n.Add(1)))
	return path, os.WriteFile(path, []byte("ID3 "+voice), 0o600)
}

type fakeVoices struct {
	voices []tts.Voice
	err    error
}

func (f fakeVoices) Voices(context.Context) ([]tts.Voice, error) { return f.voices, f.err }

type env struct {
	srv   *Server
	h     http.Handler
	reg   *manager.Registry
	sp    *testkit.FakeSpawner
	pipes *testkit.FakePipelineSpawner
	store *media.Store
}

func newEnv(t *testing.T, mutate ...func(*Config)) *env {
	t.Helper()
	dir := t.TempDir()
	store, err := media.New(afero.NewOsFs(), media.Config{
		Dir:      filepath.Join(dir, "audio"),
		Formats:  []string{"wav", "mp3"},
		MaxBytes: 1 << 20,
	})
	require.NoError(t, err)

	e := &env{
		sp:    testkit.NewFakeSpawner(),
		pipes: &testkit.FakePipelineSpawner{},
		store: store,
	}
	opts := manager.DefaultOptions()
	opts.StopGrace = 200 * time.Millisecond
	opts.DefaultVolume = 0.8
	e.reg = manager.NewRegistry(manager.Deps{
		Spawner:         e.sp,
		PipelineSpawner: e.pipes,
		Synthesizer:     &fakeSynth{dir: dir},
		Resolver: &testkit.StaticResolver{URLs: map[string]string{
			"1": "http://music.example/1.mp3",
			"2": "http://music.example/2.mp3",
			"3": "http://music.example/3.mp3",
		}},
		TempStore: store,
	}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, e.reg.Shutdown(ctx))
	})

	cfg := Config{
		Version: "v-test",
		Stack: middleware.StackConfig{
			EnableMetrics:  true,
			MaxJSONBytes:   1 << 16,
			MaxUploadBytes: 1 << 20,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e.srv, err = New(context.Background(), Deps{
		Registry: e.reg,
		Voices: fakeVoices{voices: []tts.Voice{
			{Name: "Xiaoxiao", ShortName: "zh-CN-XiaoxiaoNeural", Gender: "Female", Locale: "zh-CN"},
		}},
		Media: store,
	}, cfg)
	require.NoError(t, err)
	e.h = e.srv.Handler()
	return e
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func (e *env) upload(t *testing.T, path, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, code int, class string) {
	t.Helper()
	require.Equal(t, code, w.Code, w.Body.String())
	body := decode[errorBody](t, w)
	assert.Equal(t, class, body.Error)
	assert.NotEmpty(t, body.RequestID)
}

func TestRootAndOps(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v-test", decode[map[string]string](t, w)["version"])

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/readyz", "").Code)

	w = e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "playd_http_requests_in_flight")
}

func TestVoices(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/api/tts/voices", "")
	require.Equal(t, http.StatusOK, w.Code)
	voices := decode[[]tts.Voice](t, w)
	require.Len(t, voices, 1)
	assert.Equal(t, "zh-CN-XiaoxiaoNeural", voices[0].ShortName)

	e.srv.voices = fakeVoices{err: model.Errorf(model.ClassUpstreamFailure, "tts.voices", "no network")}
	requireError(t, e.do(t, http.MethodGet, "/api/tts/voices", ""), http.StatusBadGateway, "upstream_failure")
}

func TestSpeakLifecycle(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/tts/speak", `{"text":"你好","volume":0.5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[sessionResponse](t, w)
	assert.Equal(t, model.StatusPlaying, created.Status)
	require.True(t, model.IsSafeSessionID(created.SessionID))
	assert.Equal(t, []int{50}, e.sp.Volumes())

	w = e.do(t, http.MethodGet, "/api/sessions/tts_session/"+created.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[model.PlaybackStatus](t, w)
	assert.Equal(t, model.KindTTS, st.Kind)
	assert.Equal(t, "你好", st.Text)
	assert.Equal(t, "zh-CN-XiaoxiaoNeural", st.Voice)

	list := decode[[]model.PlaybackStatus](t, e.do(t, http.MethodGet, "/api/sessions/tts_session", ""))
	require.Len(t, list, 1)

	w = e.do(t, http.MethodPost, "/api/sessions/tts_session/"+created.SessionID+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusStopped, decode[controlResponse](t, w).Status)

	w = e.do(t, http.MethodPost, "/api/sessions/tts_session/"+created.SessionID+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code, "stop is idempotent")

	w = e.do(t, http.MethodDelete, "/api/sessions/tts_session/"+created.SessionID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "deleted", decode[map[string]string](t, w)["status"])

	requireError(t, e.do(t, http.MethodGet, "/api/sessions/tts_session/"+created.SessionID, ""), http.StatusNotFound, "not_found")
	requireError(t, e.do(t, http.MethodDelete, "/api/sessions/tts_session/"+created.SessionID, ""), http.StatusNotFound, "not_found")
}

func TestSpeakDefaultsVolume(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/tts/speak", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []int{80}, e.sp.Volumes())
}

func TestSpeakValidation(t *testing.T) {
	e := newEnv(t)
	cases := map[string]string{
		"missing text":  `{"voice":"x"}`,
		"empty text":    `{"text":""}`,
		"unknown field": `{"text":"a","speed":2}`,
		"bad volume":    `{"text":"a","volume":"loud"}`,
		"not json":      `text=a`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			requireError(t, e.do(t, http.MethodPost, "/api/tts/speak", body), http.StatusBadRequest, "invalid_argument")
		})
	}
	assert.Zero(t, e.sp.Count())
	assert.Empty(t, e.reg.ListTTS())
}

func TestSpeakSynthesisFailure(t *testing.T) {
	e := newEnv(t)
	requireError(t, e.do(t, http.MethodPost, "/api/tts/speak", `{"text":"fail"}`), http.StatusBadGateway, "upstream_failure")

	list := e.reg.ListTTS()
	require.Len(t, list, 1)
	assert.Equal(t, model.StatusError, list[0].Status)
}

func TestUnsafeSessionIDIsNotFound(t *testing.T) {
	e := newEnv(t)
	for _, path := range []string{
		"/api/sessions/tts_session/not-a-uuid",
		"/api/sessions/tts_session/..%2F..%2Fetc",
		"/api/stream/abc",
	} {
		requireError(t, e.do(t, http.MethodGet, path, ""), http.StatusNotFound, "not_found")
	}
}

func TestMusicControls(t *testing.T) {
	e := newEnv(t)

	requireError(t, e.do(t, http.MethodPost, "/api/sessions/music_session/pause", ""), http.StatusNotFound, "not_found")

	w := e.do(t, http.MethodPost, "/api/music/play_url", `{"url":"http://radio.example/live.mp3"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id := decode[sessionResponse](t, w).SessionID

	w = e.do(t, http.MethodPost, "/api/sessions/music_session/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusPaused, decode[controlResponse](t, w).Status)

	requireError(t, e.do(t, http.MethodPost, "/api/sessions/music_session/pause", ""), http.StatusConflict, "invalid_state")

	w = e.do(t, http.MethodPost, "/api/sessions/music_session/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusPlaying, decode[controlResponse](t, w).Status)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/sessions/music_session/seek", `{"amount":30,"mode":2}`).Code)
	requireError(t, e.do(t, http.MethodPost, "/api/sessions/music_session/seek", `{"amount":30,"mode":7}`), http.StatusBadRequest, "invalid_argument")

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/sessions/music_session/volume", `{"volume":0.25}`).Code)
	requireError(t, e.do(t, http.MethodPost, "/api/sessions/music_session/volume", `{"volume":1.5}`), http.StatusBadRequest, "invalid_argument")

	w = e.do(t, http.MethodGet, "/api/sessions/music_session", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[model.PlaybackStatus](t, w)
	assert.Equal(t, id, st.SessionID)
	assert.InDelta(t, 0.25, st.Volume, 1e-9)

	w = e.do(t, http.MethodPost, "/api/sessions/music_session/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusStopped, decode[controlResponse](t, w).Status)

	requireError(t, e.do(t, http.MethodPost, "/api/sessions/music_session/seek", `{"amount":1}`), http.StatusConflict, "channel_failure")
}

func TestPlayURLReplacesSlot(t *testing.T) {
	e := newEnv(t)
	first := decode[sessionResponse](t, e.do(t, http.MethodPost, "/api/music/play_url", `{"url":"http://a.example/1.mp3"}`))
	second := decode[sessionResponse](t, e.do(t, http.MethodPost, "/api/music/play_url", `{"url":"http://a.example/2.mp3"}`))
	require.NotEqual(t, first.SessionID, second.SessionID)

	music, ok := e.reg.Music()
	require.True(t, ok)
	assert.Equal(t, second.SessionID, music.ID())
	assert.Equal(t, 2, e.sp.Count())

	requireError(t, e.do(t, http.MethodPost, "/api/music/play_url", `{"url":"not a url"}`), http.StatusBadRequest, "invalid_argument")
}

func TestPlayFile(t *testing.T) {
	e := newEnv(t)

	w := e.upload(t, "/api/music/play_file?volume=0.3", "My Song.mp3", []byte("RIFF0000WAVE"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	music, ok := e.reg.Music()
	require.True(t, ok)
	st := music.Status()
	assert.Equal(t, e.store.Dir(), filepath.Dir(st.FilePath))
	assert.Equal(t, "My Song", st.Title)
	assert.Equal(t, []int{30}, e.sp.Volumes())

	requireError(t, e.upload(t, "/api/music/play_file", "tool.exe", []byte("MZ")), http.StatusBadRequest, "invalid_argument")
	requireError(t, e.upload(t, "/api/music/play_file?volume=loud", "a.mp3", []byte("x")), http.StatusBadRequest, "invalid_argument")
	requireError(t, e.do(t, http.MethodPost, "/api/music/play_file", `{"file":"x"}`), http.StatusBadRequest, "invalid_argument")
}

func TestPlaylistFlow(t *testing.T) {
	e := newEnv(t)

	requireError(t, e.do(t, http.MethodGet, "/api/playlist", ""), http.StatusNotFound, "not_found")

	w := e.do(t, http.MethodPost, "/api/playlist", `{"name":"evening","tracks":[{"id":"1"},{"id":"2"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[model.PlaylistStatus](t, w)
	assert.Equal(t, "evening", st.Name)
	assert.Equal(t, model.StatusPlaying, st.Status)
	assert.Equal(t, 0, st.CurrentIndex)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, "http://music.example/1.mp3", st.Playlist[0].URL)

	st = decode[model.PlaylistStatus](t, e.do(t, http.MethodPost, "/api/playlist/next", ""))
	assert.Equal(t, 1, st.CurrentIndex)
	st = decode[model.PlaylistStatus](t, e.do(t, http.MethodPost, "/api/playlist/next", ""))
	assert.Equal(t, 0, st.CurrentIndex, "next wraps to the first track")
	st = decode[model.PlaylistStatus](t, e.do(t, http.MethodPost, "/api/playlist/prev", ""))
	assert.Equal(t, 1, st.CurrentIndex, "prev wraps to the last track")

	requireError(t, e.do(t, http.MethodPost, "/api/playlist/play", `{"index":5}`), http.StatusBadRequest, "invalid_argument")

	st = decode[model.PlaylistStatus](t, e.do(t, http.MethodPost, "/api/playlist/tracks", `{"tracks":[{"id":"3"}]}`))
	assert.Equal(t, 3, st.PlaylistLength)
	requireError(t, e.do(t, http.MethodPost, "/api/playlist/tracks", `{"tracks":[]}`), http.StatusBadRequest, "invalid_argument")
	requireError(t, e.do(t, http.MethodPost, "/api/playlist/tracks", `{"tracks":[{"name":"x"}]}`), http.StatusBadRequest, "invalid_argument")

	w = e.do(t, http.MethodPost, "/api/playlist/play", `{"index":2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[model.PlaylistStatus](t, w).CurrentIndex)

	w = e.do(t, http.MethodPost, "/api/sessions/playlist_session/pause", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusPaused, decode[controlResponse](t, w).Status)

	w = e.do(t, http.MethodGet, "/api/sessions/playlist_session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusPaused, decode[model.PlaylistStatus](t, w).Status)

	w = e.do(t, http.MethodPost, "/api/sessions/playlist_session/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.StatusStopped, decode[controlResponse](t, w).Status)

	_, ok := e.reg.Music()
	assert.False(t, ok, "the slot holds the playlist, not a music session")
}

func TestPlaylistWithoutAutoplay(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/api/playlist", `{"tracks":[{"id":"1"}],"autoplay":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusCreated, decode[model.PlaylistStatus](t, w).Status)
	assert.Zero(t, e.sp.Count())

	w = e.do(t, http.MethodPost, "/api/playlist/play", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, e.sp.Count())
}

func TestBodyTooLarge(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.Stack.MaxJSONBytes = 16 })
	w := e.do(t, http.MethodPost, "/api/tts/speak", `{"text":"this body is longer than sixteen bytes"}`)
	requireError(t, w, http.StatusRequestEntityTooLarge, "payload_too_large")
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err   error
		code  int
		class string
	}{
		{model.Errorf(model.ClassNotFound, "op", "x"), http.StatusNotFound, "not_found"},
		{model.Errorf(model.ClassInvalidArgument, "op", "x"), http.StatusBadRequest, "invalid_argument"},
		{model.Errorf(model.ClassSpawnFailure, "op", "x"), http.StatusInternalServerError, "spawn_failure"},
		{model.Errorf(model.ClassChannelFailure, "op", "x"), http.StatusConflict, "channel_failure"},
		{model.Errorf(model.ClassTimeout, "op", "x"), http.StatusGatewayTimeout, "timeout"},
		{model.Errorf(model.ClassUpstreamFailure, "op", "x"), http.StatusBadGateway, "upstream_failure"},
		{fmt.Errorf("wrapped: %w", manager.ErrShuttingDown), http.StatusServiceUnavailable, "shutting_down"},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge, "payload_too_large"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		code, class := statusFor(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
		assert.Equal(t, tc.class, class, tc.err.Error())
	}
}

func TestSpeakResponseMatchesContract(t *testing.T) {
	e := newEnv(t)
	doc, err := LoadSpec(context.Background())
	require.NoError(t, err)
	router, err := legacy.NewRouter(doc)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/tts/speak", strings.NewReader(`{"text":"contract"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	route, params, err := router.FindRoute(req)
	require.NoError(t, err)
	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: params,
			Route:      route,
		},
		Status: w.Code,
		Header: w.Header(),
	}
	input.SetBodyBytes(w.Body.Bytes())
	require.NoError(t, openapi3filter.ValidateResponse(context.Background(), input))
}
