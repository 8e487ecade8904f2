// Package bus fans round events out to every registered sink.
package bus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/promptdash/internal/round"
)

// PublisherFunc adapts a function to round.Publisher.
type PublisherFunc func(ctx context.Context, channel string, event round.Event) error

func (f PublisherFunc) Publish(ctx context.Context, channel string, event round.Event) error {
	return f(ctx, channel, event)
}

type sink struct {
	name string
	pub  round.Publisher
}

// Bus delivers each event to its sinks in registration order. A failing sink
// is logged and does not stop delivery to the others; the transition that
// produced the event is already committed.
type Bus struct {
	mu    sync.RWMutex
	sinks []sink
	log   zerolog.Logger
}

func New() *Bus {
	return &Bus{log: log.Logger.With().Str("component", "bus").Logger()}
}

// Subscribe adds a named sink.
func (b *Bus) Subscribe(name string, p round.Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, sink{name: name, pub: p})
}

func (b *Bus) Publish(ctx context.Context, channel string, event round.Event) error {
	b.mu.RLock()
	sinks := make([]sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.pub.Publish(ctx, channel, event); err != nil {
			b.log.Error().Err(err).Str("sink", s.name).Str("channel", channel).Str("event", event.EventName()).Msg("sink failed")
		}
	}
	b.log.Debug().Str("channel", channel).Str("event", event.EventName()).Int("sinks", len(sinks)).Msg("published")
	return nil
}
