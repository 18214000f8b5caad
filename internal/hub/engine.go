package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	"github.com/syncstayai/syncstay-app-main/pkg/event"
)

// EngineConfig holds the delays driving automatic state transitions.
type EngineConfig struct {
	// CancelWindow is how long customer cancellation stays available
	// after an order is created.
	CancelWindow time.Duration
	// AutoCookDelay is how long a queued order waits before the kitchen
	// is assumed to have started on it.
	AutoCookDelay time.Duration
	// RemovalGrace keeps a fully cancelled order visible before it is
	// removed, so displays can show the cancellation.
	RemovalGrace time.Duration
	// StaleAfter is the cutoff for the periodic sweep of abandoned
	// orders.
	StaleAfter time.Duration
	// SweepEvery is the sweep interval.
	SweepEvery time.Duration
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CancelWindow:  20 * time.Second,
		AutoCookDelay: 30 * time.Second,
		RemovalGrace:  5 * time.Second,
		StaleAfter:    24 * time.Hour,
		SweepEvery:    time.Hour,
	}
}

// Engine applies every mutation to the order store and drives timer
// scheduling as a side effect of state transitions. A single mutex
// covers one full mutation, so timer firings and client events never
// interleave; the store and registry are mutated by the engine only.
type Engine struct {
	mu         sync.Mutex
	store      *OrderStore
	timers     *TimerRegistry
	dispatcher *Dispatcher
	cfg        EngineConfig
	logger     aqm.Logger

	stop chan struct{}
	once sync.Once
}

func NewEngine(store *OrderStore, timers *TimerRegistry, dispatcher *Dispatcher, cfg EngineConfig, logger aqm.Logger) *Engine {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Engine{
		store:      store,
		timers:     timers,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Start launches the staleness sweep. Satisfies the lifecycle contract
// used by the service runtime.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("starting order engine",
		"cancel_window", e.cfg.CancelWindow.String(),
		"autocook_delay", e.cfg.AutoCookDelay.String(),
		"stale_after", e.cfg.StaleAfter.String(),
	)
	go e.sweepLoop(ctx)
	return nil
}

// Stop cancels every pending timer and halts the sweep.
func (e *Engine) Stop(ctx context.Context) error {
	e.once.Do(func() { close(e.stop) })
	e.timers.Shutdown()
	return nil
}

// Apply dispatches one inbound client event. origin identifies the
// submitting connection for targeted replies; it may be empty.
//
// A reference to an unknown order or item is never an error: the hub
// favors availability of the realtime channel over strict feedback, so
// such events degrade to a logged no-op.
func (e *Engine) Apply(ctx context.Context, origin, eventType string, payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch eventType {
	case event.TypeNewOrder:
		var p event.NewOrderPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.createOrder(origin, p)
	case event.TypeMarkItemPaid:
		var p event.ItemRefPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.markItemPaid(p)
	case event.TypeMarkReady:
		var p event.OrderRefPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.markReady(p)
	case event.TypeCloseTable:
		var p event.OrderRefPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.closeTable(p)
	case event.TypeKitchenRejectOrder:
		var p event.OrderRefPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.kitchenRejectOrder(p)
	case event.TypeKitchenRejectItem:
		var p event.ItemRefPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.kitchenRejectItem(p)
	case event.TypeCancelOrder:
		var p event.CancelOrderPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.cancelOrder(p)
	case event.TypeCancelItem:
		var p event.ItemRefPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.cancelItem(p)
	case event.TypeCallWaiter:
		var p event.CallWaiterPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.callWaiter(p)
	case event.TypeResolveWaiterCall:
		var p event.OrderRefPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.resolveWaiterCall(p)
	case event.TypeRestoreSession:
		var p event.OrderRefPayload
		if !e.decode(eventType, payload, &p) {
			return nil
		}
		e.restoreSession(origin, p)
	case event.TypePing:
		e.dispatcher.SendTo(origin, event.TypePong, event.PongPayload{Timestamp: time.Now().UnixMilli()})
	default:
		e.logger.Infof("unknown event type: %s", eventType)
	}

	return nil
}

// CurrentSnapshot returns a consistent copy of the active set, oldest
// first. New connections receive this before any live events.
func (e *Engine) CurrentSnapshot() []*Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Snapshot()
}

func (e *Engine) decode(eventType string, payload []byte, out any) bool {
	if err := json.Unmarshal(payload, out); err != nil {
		e.logger.Errorf("cannot decode %s payload: %v", eventType, err)
		return false
	}
	return true
}

func (e *Engine) createOrder(origin string, p event.NewOrderPayload) {
	orderID := p.OrderID.String()
	if orderID == "" {
		orderID = uuid.NewString()
		e.logger.Info("order submitted without id, assigned one", "order_id", orderID)
	}

	items := make([]OrderItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, OrderItem{Name: item.Name, Price: item.Price})
	}

	now := time.Now().UnixMilli()
	order := &Order{
		OrderID:     orderID,
		ShortID:     p.ShortID,
		TableNumber: p.TableID(),
		Items:       items,
		Status:      StatusQueued,
		Progress:    0,
		CanCancel:   true,
		CreatedAt:   now,
		LastUpdated: now,
	}
	e.store.Set(order)

	e.timers.Replace(orderID,
		Delayed{After: e.cfg.CancelWindow, Fire: func() { e.closeCancelWindow(orderID) }},
		Delayed{After: e.cfg.AutoCookDelay, Fire: func() { e.autoCook(orderID) }},
	)

	e.logger.Info("new order", "order_id", orderID, "short_id", order.ShortID, "table", order.TableNumber)

	e.dispatcher.Broadcast(event.TypeSendToKitchen, order.Clone())
	e.dispatcher.SendTo(origin, event.TypeOrderConfirmed, event.ConfirmPayload{OrderID: orderID, ShortID: order.ShortID})
	e.broadcastSnapshot()
}

// closeCancelWindow fires when the cancellation window elapses. State is
// re-validated here because the order may have moved on since the timer
// was scheduled.
func (e *Engine) closeCancelWindow(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.store.Get(orderID)
	if order == nil || order.Status != StatusQueued || !order.CanCancel {
		return
	}

	order.CanCancel = false
	order.Touch()

	e.logger.Info("cancel window closed", "order_id", orderID)
	e.broadcastSnapshot()
}

// autoCook fires when a queued order is assumed to be on the stove.
func (e *Engine) autoCook(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.store.Get(orderID)
	if order == nil || order.Status != StatusQueued {
		return
	}

	order.Status = StatusCooking
	order.Progress = 50
	order.CanCancel = false
	order.Touch()

	e.logger.Info("order auto-started cooking", "order_id", orderID)
	e.dispatcher.Broadcast(event.TypeStatusChange, event.StatusChangePayload{
		OrderID:  orderID,
		Status:   StatusCooking,
		Progress: order.Progress,
	})
	e.broadcastSnapshot()
}

func (e *Engine) markReady(p event.OrderRefPayload) {
	orderID := p.OrderID.String()
	order := e.store.Get(orderID)
	if order == nil {
		e.logger.Info("mark_ready for unknown order", "order_id", orderID)
		return
	}

	e.timers.CancelAll(orderID)
	order.Status = StatusReady
	order.Progress = 100
	order.CanCancel = false
	order.Touch()

	e.logger.Info("order ready", "order_id", orderID)
	e.dispatcher.Broadcast(event.TypeStatusChange, event.StatusChangePayload{
		OrderID:  orderID,
		Status:   StatusReady,
		Progress: order.Progress,
	})
	e.broadcastSnapshot()
}

func (e *Engine) closeTable(p event.OrderRefPayload) {
	orderID := p.OrderID.String()
	order := e.store.Get(orderID)
	if order == nil {
		e.logger.Info("close_table for unknown order", "order_id", orderID)
		return
	}

	e.store.AppendHistory(order, FinalStatusCompleted, order.ActiveTotal())
	e.timers.CancelAll(orderID)
	e.store.Remove(orderID)

	e.logger.Info("table closed", "order_id", orderID, "total", order.ActiveTotal())
	e.broadcastSnapshot()
}

// kitchenRejectOrder removes the order without a history entry. The
// customer-initiated cancel path does write one; that asymmetry is kept
// on purpose.
func (e *Engine) kitchenRejectOrder(p event.OrderRefPayload) {
	orderID := p.OrderID.String()
	order := e.store.Get(orderID)
	if order == nil {
		e.logger.Info("kitchen_reject_order for unknown order", "order_id", orderID)
		return
	}

	e.timers.CancelAll(orderID)
	order.Status = StatusCancelled
	order.CanCancel = false
	e.store.Remove(orderID)

	e.logger.Info("order rejected by kitchen", "order_id", orderID)
	e.dispatcher.Broadcast(event.TypeKitchenCancel, event.CancelNoticePayload{OrderID: orderID})
	e.dispatcher.Broadcast(event.TypeOrderAlert, event.AlertPayload{
		OrderID: orderID,
		Message: "Commande annulée par la cuisine",
	})
	e.broadcastSnapshot()
}

func (e *Engine) kitchenRejectItem(p event.ItemRefPayload) {
	orderID := p.OrderID.String()
	order := e.store.Get(orderID)
	if order == nil || p.ItemIndex < 0 || p.ItemIndex >= len(order.Items) {
		e.logger.Info("kitchen_reject_item target missing", "order_id", orderID, "item_index", p.ItemIndex)
		return
	}

	item := &order.Items[p.ItemIndex]
	item.Cancelled = true
	order.Touch()

	idx := p.ItemIndex
	e.logger.Info("item rejected by kitchen", "order_id", orderID, "item_index", idx)
	e.dispatcher.Broadcast(event.TypeKitchenCancelItem, event.CancelNoticePayload{OrderID: orderID, ItemIndex: &idx})
	e.dispatcher.Broadcast(event.TypeOrderAlert, event.AlertPayload{
		OrderID: orderID,
		Message: "Article indisponible: " + item.Name,
	})

	if order.AllItemsCancelled() {
		e.cascadeCancel(order)
	}
	e.broadcastSnapshot()
}

func (e *Engine) cancelOrder(p event.CancelOrderPayload) {
	orderID := p.OrderID.String()
	order := e.store.Get(orderID)
	if order == nil {
		e.logger.Info("cancel_order for unknown order", "order_id", orderID)
		return
	}

	e.timers.CancelAll(orderID)
	order.Status = StatusCancelled
	order.CanCancel = false
	for i := range order.Items {
		order.Items[i].Cancelled = true
	}
	order.Touch()

	e.store.AppendHistory(order, FinalStatusCanceled, 0)
	e.store.Remove(orderID)

	e.logger.Info("order cancelled by customer", "order_id", orderID)
	e.dispatcher.Broadcast(event.TypeKitchenCancel, event.CancelNoticePayload{OrderID: orderID})
	e.broadcastSnapshot()
}

func (e *Engine) cancelItem(p event.ItemRefPayload) {
	orderID := p.OrderID.String()
	order := e.store.Get(orderID)
	if order == nil || p.ItemIndex < 0 || p.ItemIndex >= len(order.Items) {
		e.logger.Info("cancel_item target missing", "order_id", orderID, "item_index", p.ItemIndex)
		return
	}

	order.Items[p.ItemIndex].Cancelled = true
	order.Touch()

	idx := p.ItemIndex
	e.logger.Info("item cancelled by customer", "order_id", orderID, "item_index", idx)
	e.dispatcher.Broadcast(event.TypeKitchenCancelItem, event.CancelNoticePayload{OrderID: orderID, ItemIndex: &idx})

	if order.AllItemsCancelled() {
		e.cascadeCancel(order)
	}
	e.broadcastSnapshot()
}

// cascadeCancel runs when the last remaining item of an order is
// cancelled. The order stays visible for the removal grace period so
// displays can show the cancellation before it disappears.
func (e *Engine) cascadeCancel(order *Order) {
	orderID := order.OrderID
	order.Status = StatusCancelled
	order.CanCancel = false
	order.Touch()

	e.timers.Replace(orderID, Delayed{
		After: e.cfg.RemovalGrace,
		Fire:  func() { e.finalizeCancelled(orderID) },
	})

	e.logger.Info("all items cancelled, order cancelled", "order_id", orderID)
	e.dispatcher.Broadcast(event.TypeKitchenCancel, event.CancelNoticePayload{OrderID: orderID})
}

// finalizeCancelled fires after the removal grace period.
func (e *Engine) finalizeCancelled(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order := e.store.Get(orderID)
	if order == nil || order.Status != StatusCancelled {
		return
	}

	e.timers.CancelAll(orderID)
	e.store.AppendHistory(order, FinalStatusCanceled, 0)
	e.store.Remove(orderID)

	e.logger.Info("cancelled order removed", "order_id", orderID)
	e.broadcastSnapshot()
}

func (e *Engine) markItemPaid(p event.ItemRefPayload) {
	orderID := p.OrderID.String()
	order := e.store.Get(orderID)
	if order == nil || p.ItemIndex < 0 || p.ItemIndex >= len(order.Items) {
		e.logger.Info("mark_item_paid target missing", "order_id", orderID, "item_index", p.ItemIndex)
		return
	}

	item := &order.Items[p.ItemIndex]
	item.IsPaid = !item.IsPaid
	order.Touch()

	e.logger.Info("item payment toggled", "order_id", orderID, "item_index", p.ItemIndex, "is_paid", item.IsPaid)
	e.broadcastSnapshot()
}

// callWaiter flags an existing order, found by order id first and table
// number second, or creates a ServiceRequested pseudo-order when the
// table has nothing active.
func (e *Engine) callWaiter(p event.CallWaiterPayload) {
	var order *Order
	if id := p.OrderID.String(); id != "" {
		order = e.store.Get(id)
	}
	if order == nil {
		order = e.store.GetByTable(p.TableID())
	}

	if order != nil {
		order.NeedsWaiter = true
		order.WaiterCalledAt = time.Now().UnixMilli()
		order.Touch()
	} else {
		id := p.OrderID.String()
		if id == "" {
			id = uuid.NewString()
		}
		order = NewServiceRequest(id, p.TableID())
		e.store.Set(order)
	}

	e.logger.Info("waiter called", "order_id", order.OrderID, "table", order.TableNumber)
	e.dispatcher.Broadcast(event.TypeWaiterCall, event.WaiterCallPayload{
		OrderID:     order.OrderID,
		TableNumber: order.TableNumber,
		CalledAt:    order.WaiterCalledAt,
	})
	e.broadcastSnapshot()
}

func (e *Engine) resolveWaiterCall(p event.OrderRefPayload) {
	orderID := p.OrderID.String()
	order := e.store.Get(orderID)
	if order == nil {
		e.logger.Info("resolve_waiter_call for unknown order", "order_id", orderID)
		return
	}

	order.NeedsWaiter = false
	order.WaiterCalledAt = 0
	order.Touch()

	// A pseudo-order has no items; once served it has no reason to stay.
	if len(order.Items) == 0 {
		e.timers.CancelAll(orderID)
		e.store.Remove(orderID)
	}

	e.logger.Info("waiter call resolved", "order_id", orderID)
	e.broadcastSnapshot()
}

func (e *Engine) restoreSession(origin string, p event.OrderRefPayload) {
	orderID := p.OrderID.String()
	order := e.store.Get(orderID)
	if order == nil {
		e.dispatcher.SendTo(origin, event.TypeSessionExpired, event.ExpiredPayload{OrderID: orderID})
		return
	}
	e.dispatcher.SendTo(origin, event.TypeSessionRestored, order.Clone())
}

func (e *Engine) broadcastSnapshot() {
	e.dispatcher.Broadcast(event.TypeActiveOrders, e.store.Snapshot())
}

func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweep()
		}
	}
}

// sweep removes orders untouched for longer than the staleness cutoff.
func (e *Engine) sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-e.cfg.StaleAfter).UnixMilli()
	stale := e.store.StaleIDs(cutoff)
	if len(stale) == 0 {
		return
	}

	for _, orderID := range stale {
		e.timers.CancelAll(orderID)
		e.store.Remove(orderID)
		e.logger.Info("stale order swept", "order_id", orderID)
	}
	e.broadcastSnapshot()
}
