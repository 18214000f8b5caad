package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aquamarinepk/aqm"

	"github.com/syncstayai/syncstay-app-main/pkg/event"
)

// MockPublisher is a test double for events.Publisher.
type MockPublisher struct {
	PublishedEvents []PublishedEvent
	PublishFunc     func(ctx context.Context, topic string, data []byte) error
}

type PublishedEvent struct {
	Topic string
	Data  []byte
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		PublishedEvents: make([]PublishedEvent, 0),
	}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, data)
	}
	m.PublishedEvents = append(m.PublishedEvents, PublishedEvent{Topic: topic, Data: data})
	return nil
}

// testEngineConfig compresses the lifecycle delays so tests run fast.
func testEngineConfig() EngineConfig {
	return EngineConfig{
		CancelWindow:  40 * time.Millisecond,
		AutoCookDelay: 80 * time.Millisecond,
		RemovalGrace:  30 * time.Millisecond,
		StaleAfter:    24 * time.Hour,
		SweepEvery:    time.Hour,
	}
}

func newTestEngine(cfg EngineConfig) (*Engine, *OrderStore, *TimerRegistry, *Dispatcher) {
	logger := aqm.NewNoopLogger()
	store := NewOrderStore(logger)
	timers := NewTimerRegistry(logger)
	dispatcher := NewDispatcher(nil, logger)
	engine := NewEngine(store, timers, dispatcher, cfg, logger)
	return engine, store, timers, dispatcher
}

func apply(t *testing.T, e *Engine, origin, eventType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("cannot marshal %s payload: %v", eventType, err)
	}
	if err := e.Apply(context.Background(), origin, eventType, data); err != nil {
		t.Fatalf("Apply(%s) error = %v", eventType, err)
	}
}

func applyRaw(t *testing.T, e *Engine, origin, eventType, payload string) {
	t.Helper()
	if err := e.Apply(context.Background(), origin, eventType, []byte(payload)); err != nil {
		t.Fatalf("Apply(%s) error = %v", eventType, err)
	}
}

// drainEnvelopes decodes everything currently buffered on a sink.
func drainEnvelopes(t *testing.T, sink <-chan []byte) []event.Envelope {
	t.Helper()
	var envelopes []event.Envelope
	for {
		select {
		case data, open := <-sink:
			if !open {
				return envelopes
			}
			var env event.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("cannot decode envelope: %v", err)
			}
			envelopes = append(envelopes, env)
		default:
			return envelopes
		}
	}
}

// lastOfType returns the most recent envelope with the given type, or
// nil.
func lastOfType(envelopes []event.Envelope, eventType string) *event.Envelope {
	for i := len(envelopes) - 1; i >= 0; i-- {
		if envelopes[i].EventType == eventType {
			return &envelopes[i]
		}
	}
	return nil
}

// snapshotOrders re-decodes an active_orders payload into orders.
func snapshotOrders(t *testing.T, env *event.Envelope) []*Order {
	t.Helper()
	if env == nil {
		t.Fatal("no snapshot envelope")
	}
	data, err := json.Marshal(env.Payload)
	if err != nil {
		t.Fatalf("cannot re-marshal snapshot payload: %v", err)
	}
	var orders []*Order
	if err := json.Unmarshal(data, &orders); err != nil {
		t.Fatalf("cannot decode snapshot payload: %v", err)
	}
	return orders
}

// waitUntil polls for a condition, failing the test on timeout.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
