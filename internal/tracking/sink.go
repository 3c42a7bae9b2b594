// Cartloom - Associative Recommendation and Bundling Engine
// Copyright 2026 Cartloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartloom/cartloom

// Package tracking decouples serving from the Tracking Store. The engine
// publishes served events to an in-process Watermill channel and returns
// immediately; a forwarder drains the channel and posts events upstream.
//
// Tracking is best-effort end to end. A full buffer or an upstream failure
// drops the event with a metric; it never blocks or fails a serving
// request.
package tracking

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cartloom/cartloom/internal/engine"
	"github.com/cartloom/cartloom/internal/logging"
	"github.com/cartloom/cartloom/internal/metrics"
)

// TopicServed carries recommendation served events.
const TopicServed = "recommendations.served"

// defaultBuffer is the sink's channel capacity. Serving drops events once
// the buffer is full rather than waiting on the forwarder.
const defaultBuffer = 1024

// Sink publishes tracking events to the in-process channel.
type Sink struct {
	pubsub *gochannel.GoChannel
	logger zerolog.Logger
}

var _ engine.Tracker = (*Sink)(nil)

// NewSink builds the in-process tracking channel.
func NewSink() *Sink {
	logger := logging.Component("tracking")
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: defaultBuffer,
		},
		watermillLogger{logger: logger},
	)
	return &Sink{
		pubsub: pubsub,
		logger: logger,
	}
}

// RecommendationServed publishes a served event. The publish is buffered;
// failures are logged and counted, never returned to the serving path as
// fatal.
func (s *Sink) RecommendationServed(_ context.Context, ev engine.ServedEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal served event: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := s.pubsub.Publish(TopicServed, msg); err != nil {
		return fmt.Errorf("publish served event: %w", err)
	}
	metrics.TrackingEventsPublished.WithLabelValues(TopicServed).Inc()
	return nil
}

// Subscribe returns the served-event stream for the forwarder.
func (s *Sink) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return s.pubsub.Subscribe(ctx, TopicServed)
}

// Close shuts the channel down. Buffered events not yet forwarded are
// dropped.
func (s *Sink) Close() error {
	return s.pubsub.Close()
}

// watermillLogger adapts zerolog to watermill's LoggerAdapter.
type watermillLogger struct {
	logger zerolog.Logger
	fields watermill.LogFields
}

func (l watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(l.logger.Error().Err(err), msg, fields)
}

func (l watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(l.logger.Info(), msg, fields)
}

func (l watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(l.logger.Debug(), msg, fields)
}

func (l watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(l.logger.Trace(), msg, fields)
}

func (l watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := l.fields.Add(fields)
	return watermillLogger{logger: l.logger, fields: merged}
}

func (l watermillLogger) event(ev *zerolog.Event, msg string, fields watermill.LogFields) {
	for k, v := range l.fields.Add(fields) {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
