// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "time"

// Track is one playlist entry. URL stays empty until resolved.
type Track struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// PlaybackStatus is the snapshot of a single playback (tts, clip or music).
type PlaybackStatus struct {
	SessionID string     `json:"session_id"`
	Kind      Kind       `json:"kind"`
	Status    Status     `json:"status"`
	Text      string     `json:"text,omitempty"`
	Voice     string     `json:"voice,omitempty"`
	URL       string     `json:"url,omitempty"`
	FilePath  string     `json:"file_path,omitempty"`
	Title     string     `json:"title,omitempty"`
	Volume    float64    `json:"volume"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// PlaylistStatus composes playlist fields with the current track snapshot.
type PlaylistStatus struct {
	SessionID         string          `json:"session_id"`
	Name              string          `json:"name,omitempty"`
	Status            Status          `json:"status"`
	Playlist          []Track         `json:"playlist"`
	CurrentIndex      int             `json:"current_index"`
	CurrentSongStatus *PlaybackStatus `json:"current_song_status,omitempty"`
	Volume            float64         `json:"volume"`
	IsPlaying         bool            `json:"is_playing"`
	PlaylistLength    int             `json:"playlist_length"`
	CreatedAt         time.Time       `json:"created_at"`
}

// StreamStatus is the snapshot of a streaming ingestion session.
type StreamStatus struct {
	SessionID     string     `json:"session_id"`
	Status        Status     `json:"status"`
	Volume        float64    `json:"volume"`
	BytesReceived int64      `json:"bytes_received"`
	BytesWritten  int64      `json:"bytes_written"`
	QueueDepth    int        `json:"queue_depth"`
	EndOfStream   bool       `json:"end_of_stream"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
}

// TimePtr returns nil for the zero time.
func TimePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
