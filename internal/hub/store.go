package hub

import (
	"sort"
	"time"

	"github.com/aquamarinepk/aqm"
)

// OrderStore owns the active set and the append-only history log. It is
// not safe for concurrent use on its own; the Engine serializes every
// mutation under a single lock.
type OrderStore struct {
	active  map[string]*Order
	history []HistoryEntry
	logger  aqm.Logger
}

func NewOrderStore(logger aqm.Logger) *OrderStore {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &OrderStore{
		active: make(map[string]*Order),
		logger: logger,
	}
}

// Get returns the active order for id, or nil.
func (s *OrderStore) Get(orderID string) *Order {
	return s.active[orderID]
}

// GetByTable returns the oldest active order for a table, or nil.
// Table lookup is the fallback key for waiter calls.
func (s *OrderStore) GetByTable(table string) *Order {
	var found *Order
	for _, order := range s.active {
		if order.TableNumber != table {
			continue
		}
		if found == nil || order.CreatedAt < found.CreatedAt ||
			(order.CreatedAt == found.CreatedAt && order.OrderID < found.OrderID) {
			found = order
		}
	}
	return found
}

// Set adds or replaces an active order.
func (s *OrderStore) Set(order *Order) {
	if order == nil {
		return
	}
	s.active[order.OrderID] = order
}

// Remove deletes an order from the active set and returns it, or nil if
// it was not present.
func (s *OrderStore) Remove(orderID string) *Order {
	order, exists := s.active[orderID]
	if !exists {
		return nil
	}
	delete(s.active, orderID)
	return order
}

// Snapshot returns deep copies of every active order, oldest first.
// Map iteration is unordered, so creation time keeps the display stable.
func (s *OrderStore) Snapshot() []*Order {
	result := make([]*Order, 0, len(s.active))
	for _, order := range s.active {
		result = append(result, order.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].OrderID < result[j].OrderID
	})
	return result
}

// AppendHistory records the final outcome of an order. History is never
// read back by the hub; it is retained for future reporting.
func (s *OrderStore) AppendHistory(order *Order, finalStatus string, finalTotal float64) {
	entry := HistoryEntry{
		Order:       *order.Clone(),
		FinalStatus: finalStatus,
		FinalTime:   time.Now().UnixMilli(),
		FinalTotal:  finalTotal,
	}
	s.history = append(s.history, entry)
}

// History returns a copy of the log, mostly for tests.
func (s *OrderStore) History() []HistoryEntry {
	result := make([]HistoryEntry, len(s.history))
	copy(result, s.history)
	return result
}

// StaleIDs lists orders whose last mutation predates the cutoff.
func (s *OrderStore) StaleIDs(cutoff int64) []string {
	var ids []string
	for id, order := range s.active {
		if order.LastUpdated < cutoff {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the size of the active set.
func (s *OrderStore) Count() int {
	return len(s.active)
}
