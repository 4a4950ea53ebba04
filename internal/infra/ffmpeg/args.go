// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg holds the transcoder side of streaming playback.
package ffmpeg

import "strconv"

// Decode output format fed to the player.
const (
	OutputFormat   = "wav"
	OutputChannels = 2
	OutputRate     = 44100
)

// DecodeArgs returns the arguments that read any container from stdin and
// write PCM WAV to stdout.
func DecodeArgs() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", OutputFormat,
		"-ac", strconv.Itoa(OutputChannels),
		"-ar", strconv.Itoa(OutputRate),
		"-",
	}
}
