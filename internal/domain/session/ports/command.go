// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import "github.com/ManuGH/playd/internal/domain/session/model"

// CommandKind is the symbolic control vocabulary understood by players.
type CommandKind int

const (
	CmdSetVolume CommandKind = iota + 1
	CmdPauseToggle
	CmdSeek
	CmdQuit
)

func (k CommandKind) String() string {
	switch k {
	case CmdSetVolume:
		return "SET_VOLUME"
	case CmdPauseToggle:
		return "PAUSE_TOGGLE"
	case CmdSeek:
		return "SEEK"
	case CmdQuit:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// Command is one control message. Only the fields of its Kind are used.
type Command struct {
	Kind    CommandKind
	Percent int
	Amount  float64
	Mode    model.SeekMode
}

func SetVolume(percent int) Command { return Command{Kind: CmdSetVolume, Percent: percent} }

func PauseToggle() Command { return Command{Kind: CmdPauseToggle} }

func Seek(amount float64, mode model.SeekMode) Command {
	return Command{Kind: CmdSeek, Amount: amount, Mode: mode}
}

func Quit() Command { return Command{Kind: CmdQuit} }
