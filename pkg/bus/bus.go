// Package bus publishes relay events on NATS and exposes the command
// channel. The public bus is plain core NATS publish: at-most-once,
// fire-and-forget, no acknowledgement. Consumers that need liveness
// confirmation poll with ping.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/pairlink/watchbridge/pkg/logger"
	"github.com/pairlink/watchbridge/pkg/models"
	"github.com/pairlink/watchbridge/pkg/notify"
)

// Connect dials NATS with connection handlers wired to the logger.
func Connect(url string, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// EventPublisher publishes typed events as JSON on a single subject.
type EventPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewEventPublisher creates a publisher for the given subject.
func NewEventPublisher(nc *nats.Conn, subject string) *EventPublisher {
	return &EventPublisher{
		nc:      nc,
		subject: subject,
	}
}

// Publish implements dispatch.Publisher. Delivery is at-most-once per call.
func (p *EventPublisher) Publish(_ context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NotifySink publishes notification text on its own subject, so a
// notification front-end can render it without consuming the event stream.
type NotifySink struct {
	nc      *nats.Conn
	subject string
	log     logger.Logger
}

// NewNotifySink creates a notification sink on the given subject.
func NewNotifySink(nc *nats.Conn, subject string, log logger.Logger) *NotifySink {
	return &NotifySink{
		nc:      nc,
		subject: subject,
		log:     log,
	}
}

// Update implements notify.Notifier. Failures are logged and dropped.
func (s *NotifySink) Update(_ context.Context, status notify.Status) {
	data, err := json.Marshal(status)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to marshal notification status")
		return
	}

	if err := s.nc.Publish(s.subject, data); err != nil {
		s.log.Error().Err(err).Msg("Failed to publish notification status")
	}
}

var _ notify.Notifier = (*NotifySink)(nil)
