// Package ingest pulls post-creation messages off the relay transport,
// decodes them, and fans them out to the thread builders.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"threadgraph/api/internal/broadcast"
	"threadgraph/api/internal/event"
	"threadgraph/api/internal/logging"
	"threadgraph/api/internal/metrics"
)

// ErrSourceClosed is returned by a Source that will yield no more messages.
var ErrSourceClosed = errors.New("ingest: source closed")

// Message is a single delivery from the transport.
type Message interface {
	Data() []byte
	Ack() error
}

// Source yields messages in delivery order.
type Source interface {
	Next(ctx context.Context) (Message, error)
}

// Publisher receives decoded events. *broadcast.Broadcaster[event.Event]
// satisfies it.
type Publisher interface {
	Publish(evt event.Event) error
}

type Dispatcher struct {
	src Source
	out Publisher
	log *zap.Logger
}

func NewDispatcher(src Source, out Publisher, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		src: src,
		out: out,
		log: logging.OrNop(log).With(zap.String("component", "dispatcher")),
	}
}

// Run consumes until ctx is cancelled or the source closes. Every message is
// acknowledged before it is decoded, so an undecodable payload is never
// redelivered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		msg, err := d.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrSourceClosed) {
				d.log.Info("source closed")
				return nil
			}
			return fmt.Errorf("next message: %w", err)
		}
		metrics.EventsReceived.Inc()

		if err := msg.Ack(); err != nil {
			d.log.Warn("ack failed", zap.Error(err))
		}

		evt, err := event.Decode(msg.Data())
		if err != nil {
			metrics.EventsDecodeFailed.Inc()
			d.log.Warn("could not decode post",
				zap.Error(err),
				zap.ByteString("payload", truncate(msg.Data(), 512)))
			continue
		}

		if err := d.out.Publish(evt); err != nil {
			if errors.Is(err, broadcast.ErrClosed) {
				return nil
			}
			return fmt.Errorf("publish event: %w", err)
		}
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
