// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// Kind tags what a session plays. Music and playlist sessions share the
// registry's exclusive output slot; the rest may run side by side.
type Kind string

const (
	KindTTS      Kind = "tts"
	KindClip     Kind = "clip"
	KindMusic    Kind = "music"
	KindPlaylist Kind = "playlist"
	KindStream   Kind = "stream"
)

// Exclusive reports whether sessions of this kind occupy the exclusive slot.
func (k Kind) Exclusive() bool {
	return k == KindMusic || k == KindPlaylist
}

func (k Kind) String() string { return string(k) }
