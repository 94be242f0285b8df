package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Type names a job lifecycle event
type Type string

const (
	TypeDispatched Type = "dispatched"
	TypeReady      Type = "ready"
	TypeFailed     Type = "failed"
	TypeRetry      Type = "retry"
	TypeTimeout    Type = "timeout"
)

// Event describes one job state change
type Event struct {
	Type      Type      `json:"event"`
	Key       string    `json:"key"`
	TrackID   string    `json:"track_id,omitempty"`
	ImageType string    `json:"image_type"`
	Firmware  string    `json:"firmware"`
	URL       string    `json:"url,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits job events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Noop drops every event
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Sender is the transport an AMQPPublisher writes to
type Sender interface {
	Publish(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// AMQPPublisher publishes events as JSON with routing key
// {prefix}.{event type}
type AMQPPublisher struct {
	sender Sender
	prefix string
	logger *slog.Logger
}

// NewAMQPPublisher creates a publisher on top of sender
func NewAMQPPublisher(sender Sender, routingPrefix string, logger *slog.Logger) *AMQPPublisher {
	if routingPrefix == "" {
		routingPrefix = "fce.job"
	}
	return &AMQPPublisher{
		sender: sender,
		prefix: routingPrefix,
		logger: logger,
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	routingKey := p.prefix + "." + string(event.Type)
	if err := p.sender.Publish(ctx, routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	p.logger.Debug("Job event published",
		slog.String("routing_key", routingKey),
		slog.String("key", event.Key),
		slog.String("track_id", event.TrackID),
	)
	return nil
}
