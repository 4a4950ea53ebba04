// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tts

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/samber/lo"

	"github.com/ManuGH/playd/internal/domain/session/model"
	"github.com/ManuGH/playd/internal/infra/ffmpeg"
	"github.com/ManuGH/playd/internal/log"
)

// Voice is one synthesizer voice.
type Voice struct {
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	Gender    string `json:"gender"`
	Locale    string `json:"locale"`
}

// Voices lists the voices of the configured locale. An empty locale lists
// every voice. Successful listings are memoized for an hour.
func (s *Synthesizer) Voices(ctx context.Context) ([]Voice, error) {
	all, err := s.allVoices(ctx)
	if err != nil {
		return nil, err
	}
	if s.cfg.VoiceLocale == "" {
		return all, nil
	}
	return lo.Filter(all, func(v Voice, _ int) bool {
		return strings.EqualFold(v.Locale, s.cfg.VoiceLocale)
	}), nil
}

func (s *Synthesizer) allVoices(ctx context.Context) ([]Voice, error) {
	s.voicesMu.Lock()
	if s.voices != nil && s.now().Sub(s.voicesAt) < s.voicesTTL {
		v := s.voices
		s.voicesMu.Unlock()
		return v, nil
	}
	s.voicesMu.Unlock()

	res, err, _ := s.group.Do("voices", func() (any, error) {
		runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()

		var out bytes.Buffer
		// #nosec G204 -- binary comes from configuration
		cmd := exec.CommandContext(runCtx, s.cfg.Binary, "--list-voices")
		cmd.Stdout = &out
		cmd.WaitDelay = waitDelay
		if err := cmd.Run(); err != nil {
			ring := ffmpeg.NewRingBuffer(diagnosticLines)
			ring.Scan(&out, "", nil)
			s.logger.Error().Err(err).
				Str(log.FieldEvent, "tts.voices_failed").
				Strs("diagnostics", ring.GetAll()).
				Msg("listing voices failed")
			return nil, model.Wrap(model.ClassUpstreamFailure, "tts.voices", err)
		}
		return ParseVoices(out.Bytes()), nil
	})
	if err != nil {
		return nil, err
	}
	voices := res.([]Voice)

	s.voicesMu.Lock()
	s.voices, s.voicesAt = voices, s.now()
	s.voicesMu.Unlock()
	return voices, nil
}

// ParseVoices reads the --list-voices output. Both the tabular layout
// (Name, Gender, ... columns under a dashed rule) and the older
// "Key: value" blocks are understood.
func ParseVoices(out []byte) []Voice {
	var (
		voices  []Voice
		cur     *Voice
		tabular bool
	)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if key, val, ok := strings.Cut(line, ": "); ok && !tabular {
			switch key {
			case "Name":
				voices = append(voices, voiceFromShortName(strings.TrimSpace(val)))
				cur = &voices[len(voices)-1]
			case "ShortName":
				if cur != nil {
					short := voiceFromShortName(strings.TrimSpace(val))
					cur.ShortName = short.ShortName
					if cur.Locale == "" {
						cur.Locale = short.Locale
					}
				}
			case "Gender":
				if cur != nil {
					cur.Gender = strings.TrimSpace(val)
				}
			case "Locale":
				if cur != nil {
					cur.Locale = strings.TrimSpace(val)
				}
			}
			continue
		}
		fields := strings.Fields(line)
		switch {
		case fields[0] == "Name":
			tabular = true
		case strings.Trim(fields[0], "-") == "":
			tabular = true
		case tabular:
			v := voiceFromShortName(fields[0])
			if len(fields) > 1 {
				v.Gender = fields[1]
			}
			voices = append(voices, v)
		}
	}
	return voices
}

func voiceFromShortName(name string) Voice {
	v := Voice{Name: name, ShortName: name}
	if parts := strings.SplitN(name, "-", 3); len(parts) == 3 {
		v.Locale = parts[0] + "-" + parts[1]
	}
	return v
}
