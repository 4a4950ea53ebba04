// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mplayer

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/playd/internal/domain/session/ports"
)

// Encode renders cmd as one slave-mode line without the trailing newline.
func Encode(cmd ports.Command) (string, error) {
	switch cmd.Kind {
	case ports.CmdSetVolume:
		return fmt.Sprintf("volume %d 1", cmd.Percent), nil
	case ports.CmdPauseToggle:
		return "pause", nil
	case ports.CmdSeek:
		if !cmd.Mode.Valid() {
			return "", fmt.Errorf("invalid seek mode %d", cmd.Mode)
		}
		return fmt.Sprintf("seek %s %d", strconv.FormatFloat(cmd.Amount, 'f', -1, 64), int(cmd.Mode)), nil
	case ports.CmdQuit:
		return "quit", nil
	default:
		return "", fmt.Errorf("unknown command kind %d", cmd.Kind)
	}
}

// answerPrefix marks replies to get_* queries on stdout.
const answerPrefix = "ANS_"

// parseAnswer splits "ANS_name=value".
func parseAnswer(line string) (name, value string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(line), answerPrefix)
	if !found {
		return "", "", false
	}
	name, value, ok = strings.Cut(rest, "=")
	if !ok || name == "" {
		return "", "", false
	}
	return name, strings.Trim(value, "'"), true
}

// lineWriter turns a byte stream into lines.
type lineWriter struct {
	buf []byte
	fn  func(line string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.fn(strings.TrimRight(string(w.buf[:i]), "\r"))
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > 64*1024 {
		w.fn(string(w.buf))
		w.buf = w.buf[:0]
	}
	return len(p), nil
}
