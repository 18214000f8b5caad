package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	aqmevents "github.com/aquamarinepk/aqm/events"

	"github.com/syncstayai/syncstay-app-main/pkg/event"
)

const sinkBuffer = 100

// Dispatcher fans outbound envelopes out to every attached connection.
// Delivery is at-least-once and non-blocking: a slow consumer loses
// events rather than stalling the engine. Envelopes are serialized once,
// synchronously with the mutation that produced them, so sinks only ever
// see immutable bytes.
//
// When a publisher is configured, every envelope is mirrored to the
// orders.events topic for other services.
type Dispatcher struct {
	mu        sync.RWMutex
	sinks     map[string]chan []byte
	publisher aqmevents.Publisher
	logger    aqm.Logger
}

func NewDispatcher(publisher aqmevents.Publisher, logger aqm.Logger) *Dispatcher {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Dispatcher{
		sinks:     make(map[string]chan []byte),
		publisher: publisher,
		logger:    logger,
	}
}

// Attach registers a connection and returns its event channel.
func (d *Dispatcher) Attach(connID string) <-chan []byte {
	ch := make(chan []byte, sinkBuffer)

	d.mu.Lock()
	d.sinks[connID] = ch
	d.mu.Unlock()

	d.logger.Info("connection attached", "conn_id", connID)
	return ch
}

// Detach removes a connection. Safe to call for unknown ids.
func (d *Dispatcher) Detach(connID string) {
	d.mu.Lock()
	ch, exists := d.sinks[connID]
	if exists {
		delete(d.sinks, connID)
	}
	d.mu.Unlock()

	if exists {
		close(ch)
		d.logger.Info("connection detached", "conn_id", connID)
	}
}

// Broadcast delivers an event to every attached connection. Role
// filtering is the consumer's responsibility.
func (d *Dispatcher) Broadcast(eventType string, payload any) {
	data, err := Encode(eventType, payload)
	if err != nil {
		d.logger.Errorf("cannot encode %s event: %v", eventType, err)
		return
	}

	d.mu.RLock()
	for connID, ch := range d.sinks {
		select {
		case ch <- data:
		default:
			// Channel full, consumer too slow - it will resync on the
			// next snapshot.
			d.logger.Info("sink full, dropping event", "conn_id", connID, "event_type", eventType)
		}
	}
	d.mu.RUnlock()

	d.mirror(eventType, data)
}

// SendTo delivers an event to a single connection only, used for
// submission acknowledgments and session replies.
func (d *Dispatcher) SendTo(connID string, eventType string, payload any) {
	data, err := Encode(eventType, payload)
	if err != nil {
		d.logger.Errorf("cannot encode %s event: %v", eventType, err)
		return
	}

	d.mu.RLock()
	ch, exists := d.sinks[connID]
	d.mu.RUnlock()

	if !exists {
		d.logger.Info("no sink for targeted event", "conn_id", connID, "event_type", eventType)
		return
	}

	select {
	case ch <- data:
	default:
		d.logger.Info("sink full, dropping targeted event", "conn_id", connID, "event_type", eventType)
	}
}

// Count returns the number of attached connections.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sinks)
}

func (d *Dispatcher) mirror(eventType string, data []byte) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(context.Background(), event.OrderEventsTopic, data); err != nil {
		d.logger.Errorf("failed to publish %s event: %v", eventType, err)
	}
}

// Encode wraps a payload in an envelope and serializes it.
func Encode(eventType string, payload any) ([]byte, error) {
	return json.Marshal(event.Envelope{
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
}
