package event

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	// OrderEventsTopic carries every outbound hub envelope for
	// cross-service consumption.
	OrderEventsTopic = "orders.events"
)

// Inbound event types, as submitted by connected clients.
const (
	TypeNewOrder           = "new_order"
	TypeMarkItemPaid       = "mark_item_paid"
	TypeMarkReady          = "mark_ready"
	TypeCloseTable         = "close_table"
	TypeKitchenRejectOrder = "kitchen_reject_order"
	TypeKitchenRejectItem  = "kitchen_reject_item"
	TypeCancelOrder        = "cancel_order"
	TypeCancelItem         = "cancel_item"
	TypeCallWaiter         = "call_waiter"
	TypeResolveWaiterCall  = "resolve_waiter_call"
	TypeRestoreSession     = "restore_session"
	TypePing               = "ping"
)

// Outbound event types, as broadcast or replied by the hub.
const (
	TypeActiveOrders      = "active_orders"
	TypeSendToKitchen     = "send_to_kitchen"
	TypeStatusChange      = "status_change"
	TypeKitchenCancel     = "kitchen_cancel"
	TypeKitchenCancelItem = "kitchen_cancel_item"
	TypeOrderAlert        = "order_alert"
	TypeWaiterCall        = "waiter_call"
	TypeOrderConfirmed    = "order_confirmed"
	TypeSessionRestored   = "session_restored"
	TypeSessionExpired    = "session_expired"
	TypePong              = "pong"
	TypeConnected         = "connected"
)

// UnknownTable marks payloads that arrived without a usable table identifier.
const UnknownTable = "?"

// Envelope is the wire format for every outbound hub event.
type Envelope struct {
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}

// InboundEnvelope defers payload decoding so the hub can dispatch on
// event type first, the same way subscribers peek at event_type before
// unmarshalling the full event.
type InboundEnvelope struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// FlexID accepts a JSON string or number and normalizes it to a string.
// Client payloads historically carried numeric order ids.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string {
	return string(f)
}

// NewOrderPayload carries an order submission. Either table field may be
// used; Table wins when both are present.
type NewOrderPayload struct {
	OrderID     FlexID         `json:"orderId"`
	ShortID     string         `json:"shortId,omitempty"`
	Table       FlexID         `json:"table,omitempty"`
	TableNumber FlexID         `json:"tableNumber,omitempty"`
	Items       []NewOrderItem `json:"items"`
}

type NewOrderItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// TableID resolves the table identifier, defaulting to UnknownTable when
// the client sent neither field.
func (p NewOrderPayload) TableID() string {
	if p.TableNumber != "" {
		return p.TableNumber.String()
	}
	if p.Table != "" {
		return p.Table.String()
	}
	return UnknownTable
}

// OrderRefPayload addresses a single order.
type OrderRefPayload struct {
	OrderID FlexID `json:"orderId"`
}

// ItemRefPayload addresses one item of an order by its position.
type ItemRefPayload struct {
	OrderID   FlexID `json:"orderId"`
	ItemIndex int    `json:"itemIndex"`
}

// CancelOrderPayload accepts either a bare order id or an object
// containing one. Early clients emitted the bare form.
type CancelOrderPayload struct {
	OrderID FlexID `json:"orderId"`
}

func (p *CancelOrderPayload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj struct {
			OrderID FlexID `json:"orderId"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		p.OrderID = obj.OrderID
		return nil
	}
	return json.Unmarshal(trimmed, &p.OrderID)
}

// CallWaiterPayload requests service for an order or a bare table.
type CallWaiterPayload struct {
	OrderID     FlexID `json:"orderId,omitempty"`
	Table       FlexID `json:"table,omitempty"`
	TableNumber FlexID `json:"tableNumber,omitempty"`
}

func (p CallWaiterPayload) TableID() string {
	if p.TableNumber != "" {
		return p.TableNumber.String()
	}
	if p.Table != "" {
		return p.Table.String()
	}
	return UnknownTable
}

// StatusChangePayload notifies customers that an order moved to a new
// display status.
type StatusChangePayload struct {
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// CancelNoticePayload flags a cancellation to the kitchen. ItemIndex is
// present only for item-scoped notices.
type CancelNoticePayload struct {
	OrderID   string `json:"orderId"`
	ItemIndex *int   `json:"itemIndex,omitempty"`
}

// AlertPayload is a customer-facing alert (order rejected, item
// unavailable).
type AlertPayload struct {
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

// WaiterCallPayload announces a service request to the floor.
type WaiterCallPayload struct {
	OrderID     string `json:"orderId"`
	TableNumber string `json:"tableNumber"`
	CalledAt    int64  `json:"calledAt"`
}

// ConfirmPayload acknowledges an order submission to its sender only.
type ConfirmPayload struct {
	OrderID string `json:"orderId"`
	ShortID string `json:"shortId,omitempty"`
}

// ExpiredPayload is the reply to a restore request for an unknown order.
type ExpiredPayload struct {
	OrderID string `json:"orderId"`
}

// PongPayload answers a liveness probe.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// ConnectedPayload hands a freshly attached client its connection
// identity, used to route targeted replies.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}
