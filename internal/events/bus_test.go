package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/farmanova/backend-pos/internal/events"
	"github.com/farmanova/backend-pos/internal/repo"
)

type stubStore struct {
	lastTopic   string
	lastPayload []byte
}

func (s *stubStore) InsertDomainEvent(_ context.Context, topic string, aggregateID uuid.UUID, payload []byte) (repo.DomainEvent, error) {
	s.lastTopic = topic
	s.lastPayload = payload
	return repo.DomainEvent{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   time.Now(),
	}, nil
}

type captureNotifier struct {
	events []repo.DomainEvent
}

func (c *captureNotifier) Notify(_ context.Context, event repo.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func TestEmitPersistsEvent(t *testing.T) {
	store := &stubStore{}
	notifier := &captureNotifier{}
	bus := events.Bus{Store: store, Notifiers: []events.Notifier{notifier}}

	saleID := uuid.New()
	event, err := bus.Emit(context.Background(), events.TopicSaleCompleted, saleID, map[string]any{"folio": "V20260831-ABC234"})
	require.NoError(t, err)
	require.Equal(t, events.TopicSaleCompleted, store.lastTopic)
	require.JSONEq(t, `{"folio":"V20260831-ABC234"}`, string(store.lastPayload))
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, notifier.events[0].ID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "V20260831-ABC234", decoded["folio"])
}

func TestEmitRejectsBadInput(t *testing.T) {
	bus := events.Bus{Store: &stubStore{}}
	_, err := bus.Emit(context.Background(), " ", uuid.New(), nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicSaleCompleted, uuid.Nil, nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicSaleCompleted, uuid.New(), "{not json")
	require.Error(t, err)
}
