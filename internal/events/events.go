// Package events publishes buildout workflow notifications for downstream
// consumers (field scheduling, sales follow-up). Publishing happens after the
// originating transaction commits; a failed publish never rolls back workflow state.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openisp/ops-backend/internal/utils"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Event types, used as AMQP routing keys.
const (
	RequestOpened   = "buildout.request.opened"
	RequestApproved = "buildout.request.approved"
	RequestRejected = "buildout.request.rejected"
	RequestCanceled = "buildout.request.canceled"
	ProjectUpdated  = "buildout.project.updated"
)

type Event struct {
	Type           string     `json:"type"`
	OccurredAt     time.Time  `json:"occurred_at"`
	RequestID      *uuid.UUID `json:"request_id,omitempty"`
	ProjectID      *uuid.UUID `json:"project_id,omitempty"`
	CoverageAreaID *uuid.UUID `json:"coverage_area_id,omitempty"`
	AddressID      *uuid.UUID `json:"address_id,omitempty"`
	Status         string     `json:"status"`
	Actor          string     `json:"actor,omitempty"`
	TraceID        string     `json:"trace_id,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards events. Used when AMQP_URL is not configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// AMQPPublisher publishes JSON events to a durable topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *slog.Logger
}

func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: failed to dial RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: failed to declare exchange %q: %w", exchange, err)
	}
	logger.Debug("declared exchange", "name", exchange, "type", "topic")
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, log: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	msg, err := buildMessage(ev)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.conn.IsClosed() {
		return fmt.Errorf("events: not connected or channel/connection is closed")
	}
	if err := p.ch.PublishWithContext(ctx, p.exchange, ev.Type, false, false, msg); err != nil {
		return fmt.Errorf("events: failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			firstErr = err
		}
		p.ch = nil
	}
	if p.conn != nil && !p.conn.IsClosed() {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.log.Info("event publisher closed")
	return firstErr
}

func buildMessage(ev Event) (amqp.Publishing, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: ev.TraceID,
		Timestamp:     ev.OccurredAt,
		Type:          ev.Type,
		Body:          body,
	}, nil
}

// PublishLogged publishes ev and logs, rather than returns, a failure.
func PublishLogged(ctx context.Context, p Publisher, logger *slog.Logger, ev Event) {
	if p == nil {
		return
	}
	if ev.TraceID == "" {
		ev.TraceID = utils.TraceIDFromContext(ctx)
	}
	if err := p.Publish(ctx, ev); err != nil {
		logger.Warn("failed to publish workflow event", "type", ev.Type, "error", err)
	}
}
