// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/metrics"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

const dropLogEvery = 100

var dropCount atomic.Uint64

// ErrNilContext is returned by Publish when ctx is nil.
var ErrNilContext = errors.New("publish context is nil")

// MemoryBus fans events out to in-process subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// NewMemoryBus returns a bus whose subscribers buffer up to buffer events.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &MemoryBus{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	if ctx == nil {
		return ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		metrics.IncEventDropped(string(evt.Type), "canceled")
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(evt.Type) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			metrics.IncEventDropped(string(evt.Type), "subscriber_full")
			if n := dropCount.Add(1); n%dropLogEvery == 1 {
				log.L().Warn().
					Str("topic", string(evt.Type)).
					Uint64("dropped", n).
					Msg("event subscriber is not keeping up")
			}
		}
	}
	return nil
}

// Subscribe registers a subscriber for the given topics, or all topics
// when none are given.
func (b *MemoryBus) Subscribe(topics ...Type) *Subscription {
	sub := &Subscription{bus: b, ch: make(chan Event, b.buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[Type]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Subscription is one registered consumer.
type Subscription struct {
	bus    *MemoryBus
	ch     chan Event
	topics map[Type]struct{}
	once   sync.Once
}

func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) wants(t Type) bool {
	if s.topics == nil {
		return true
	}
	_, ok := s.topics[t]
	return ok
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}

var _ Publisher = (*MemoryBus)(nil)
