// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events carries session lifecycle notifications to in-process
// subscribers and, optionally, to NATS.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/playd/internal/domain/session/model"
)

// Type is the event topic.
type Type string

const (
	TypeSessionCreated Type = "session.created"
	TypeSessionStatus  Type = "session.status"
	TypeSessionReaped  Type = "session.reaped"
)

// Reasons attached to session.reaped.
const (
	ReasonExpired  = "expired"
	ReasonDeleted  = "deleted"
	ReasonReplaced = "replaced"
	ReasonShutdown = "shutdown"
)

// Event is the envelope published for every session change.
type Event struct {
	Type      Type         `json:"type"`
	SessionID string       `json:"session_id"`
	Kind      model.Kind   `json:"kind"`
	Status    model.Status `json:"status,omitempty"`
	Previous  model.Status `json:"previous,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	At        time.Time    `json:"at"`
}

// Publisher accepts events. Implementations must not block the caller for
// longer than ctx allows.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
