package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/openisp/ops-backend/internal/logging"
	"github.com/openisp/ops-backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	reqID := uuid.New()
	msg, err := buildMessage(Event{Type: RequestOpened, RequestID: &reqID, Status: "submitted", Actor: "system"})
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, RequestOpened, msg.Type)
	assert.NotEmpty(t, msg.MessageId)
	assert.False(t, msg.Timestamp.IsZero())

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, reqID, *decoded.RequestID)
	assert.Nil(t, decoded.ProjectID)
	assert.Equal(t, "submitted", decoded.Status)
}

func TestMemoryPublisher(t *testing.T) {
	var p MemoryPublisher
	require.NoError(t, p.Publish(context.Background(), Event{Type: RequestApproved}))
	require.NoError(t, p.Publish(context.Background(), Event{Type: ProjectUpdated}))

	got := p.Events()
	require.Len(t, got, 2)
	assert.Equal(t, RequestApproved, got[0].Type)
	assert.Equal(t, ProjectUpdated, got[1].Type)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, Event) error { return errors.New("broker down") }

func TestPublishLoggedSwallowsErrors(t *testing.T) {
	assert.NotPanics(t, func() {
		PublishLogged(context.Background(), failingPublisher{}, logging.Discard(), Event{Type: RequestOpened})
		PublishLogged(context.Background(), nil, logging.Discard(), Event{Type: RequestOpened})
		PublishLogged(context.Background(), NopPublisher{}, logging.Discard(), Event{Type: RequestOpened})
	})
}

func TestPublishLoggedCarriesTraceID(t *testing.T) {
	var p MemoryPublisher
	ctx := utils.WithTraceID(context.Background(), "trace-123")
	PublishLogged(ctx, &p, logging.Discard(), Event{Type: RequestOpened})
	PublishLogged(ctx, &p, logging.Discard(), Event{Type: RequestApproved, TraceID: "explicit"})

	got := p.Events()
	require.Len(t, got, 2)
	assert.Equal(t, "trace-123", got[0].TraceID)
	assert.Equal(t, "explicit", got[1].TraceID)

	msg, err := buildMessage(got[0])
	require.NoError(t, err)
	assert.Equal(t, "trace-123", msg.CorrelationId)
}
