// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

package tracking

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/cartloom/cartloom/internal/engine"
	"github.com/cartloom/cartloom/internal/logging"
	"github.com/cartloom/cartloom/internal/metrics"
)

// Ingestor posts served events to the Tracking Store.
type Ingestor interface {
	IngestServed(ctx context.Context, ev engine.ServedEvent) error
}

// Forwarder drains the in-process tracking channel and posts events to the
// Tracking Store. Delivery is at-most-once: a failed post is dropped with a
// metric, never retried, so a slow Tracking Store cannot back up serving.
type Forwarder struct {
	sink     *Sink
	ingestor Ingestor
	logger   zerolog.Logger
}

// NewForwarder builds a forwarder over the given sink.
func NewForwarder(sink *Sink, ingestor Ingestor) *Forwarder {
	return &Forwarder{
		sink:     sink,
		ingestor: ingestor,
		logger:   logging.Component("tracking.forwarder"),
	}
}

// Serve consumes events until the context is cancelled. It implements the
// suture.Service contract.
func (f *Forwarder) Serve(ctx context.Context) error {
	msgs, err := f.sink.Subscribe(ctx)
	if err != nil {
		return err
	}
	f.logger.Info().Str("topic", TopicServed).Msg("tracking forwarder started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			f.handle(ctx, msg)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, msg *message.Message) {
	// Always ack: the channel is not persistent, so a nack would only
	// spin on the same failing event.
	defer msg.Ack()

	var ev engine.ServedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		metrics.TrackingForwardErrors.Inc()
		f.logger.Error().Err(err).Str("message_id", msg.UUID).Msg("malformed tracking event dropped")
		return
	}

	if err := f.ingestor.IngestServed(ctx, ev); err != nil {
		metrics.TrackingForwardErrors.Inc()
		f.logger.Warn().Err(err).
			Str("event_id", ev.EventID).
			Str("shop", ev.Shop).
			Msg("tracking event dropped, upstream ingest failed")
		return
	}
}

// String names the service in supervisor logs.
func (f *Forwarder) String() string {
	return "tracking-forwarder"
}
