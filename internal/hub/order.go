package hub

import "time"

// Display statuses pushed to clients. The customer pages render these
// strings verbatim.
const (
	StatusQueued           = "En attente"
	StatusCooking          = "En préparation"
	StatusReady            = "Prêt à être servi"
	StatusCancelled        = "Annulé"
	StatusServiceRequested = "Service demandé"
)

// Final outcomes recorded in the history log.
const (
	FinalStatusCompleted = "completed"
	FinalStatusCanceled  = "canceled"
)

// Order is the authoritative in-memory representation of one active
// order. Timestamps are milliseconds since epoch.
type Order struct {
	OrderID        string      `json:"orderId"`
	ShortID        string      `json:"shortId,omitempty"`
	TableNumber    string      `json:"tableNumber"`
	Items          []OrderItem `json:"items"`
	Status         string      `json:"status"`
	Progress       int         `json:"progress"`
	CanCancel      bool        `json:"canCancel"`
	NeedsWaiter    bool        `json:"needsWaiter,omitempty"`
	WaiterCalledAt int64       `json:"waiterCalledAt,omitempty"`
	CreatedAt      int64       `json:"createdAt"`
	LastUpdated    int64       `json:"lastUpdated"`
}

// OrderItem has no identity of its own; items are addressed by their
// position within the parent order.
type OrderItem struct {
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	IsPaid    bool    `json:"isPaid"`
	Cancelled bool    `json:"cancelled"`
}

// NewServiceRequest builds the pseudo-order representing a standalone
// waiter call for a table with no active order.
func NewServiceRequest(orderID, table string) *Order {
	now := time.Now().UnixMilli()
	return &Order{
		OrderID:        orderID,
		TableNumber:    table,
		Items:          []OrderItem{},
		Status:         StatusServiceRequested,
		NeedsWaiter:    true,
		WaiterCalledAt: now,
		CreatedAt:      now,
		LastUpdated:    now,
	}
}

// Touch stamps the order as freshly mutated, resetting its staleness
// clock.
func (o *Order) Touch() {
	o.LastUpdated = time.Now().UnixMilli()
}

// AllItemsCancelled reports whether every item is cancelled. An order
// with no items never cascades.
func (o *Order) AllItemsCancelled() bool {
	if len(o.Items) == 0 {
		return false
	}
	for _, item := range o.Items {
		if !item.Cancelled {
			return false
		}
	}
	return true
}

// ActiveTotal sums the prices of items that were not cancelled.
func (o *Order) ActiveTotal() float64 {
	var total float64
	for _, item := range o.Items {
		if !item.Cancelled {
			total += item.Price
		}
	}
	return total
}

// Clone returns a deep copy. Everything leaving the engine is a clone so
// later mutations never race with client serialization.
func (o *Order) Clone() *Order {
	dup := *o
	dup.Items = make([]OrderItem, len(o.Items))
	copy(dup.Items, o.Items)
	return &dup
}

// HistoryEntry is an immutable snapshot of an order at the moment it
// left the active set.
type HistoryEntry struct {
	Order       Order   `json:"order"`
	FinalStatus string  `json:"finalStatus"`
	FinalTime   int64   `json:"finalTime"`
	FinalTotal  float64 `json:"finalTotal"`
}
