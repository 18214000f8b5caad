package hub

import (
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"
)

// Delayed is a one-shot action scheduled against an order id.
type Delayed struct {
	After time.Duration
	Fire  func()
}

// TimerRegistry owns the pending delayed actions per order id. At most
// one generation of timers exists per id: replacing or cancelling a set
// guarantees the earlier generation never fires, even if a timer already
// popped off the runtime heap.
type TimerRegistry struct {
	mu      sync.Mutex
	sets    map[string]*timerSet
	lastGen uint64
	logger  aqm.Logger
}

type timerSet struct {
	gen    uint64
	timers []*time.Timer
}

func NewTimerRegistry(logger aqm.Logger) *TimerRegistry {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &TimerRegistry{
		sets:   make(map[string]*timerSet),
		logger: logger,
	}
}

// Replace cancels any pending set for the order id and schedules a new
// one atomically under the registry lock.
func (r *TimerRegistry) Replace(orderID string, actions ...Delayed) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropLocked(orderID)

	// Generations are registry-wide, never reused, so a timer from a
	// dropped set can never match a later set for the same id.
	r.lastGen++
	gen := r.lastGen
	set := &timerSet{gen: gen}
	for _, action := range actions {
		fire := action.Fire
		set.timers = append(set.timers, time.AfterFunc(action.After, func() {
			if !r.current(orderID, gen) {
				return
			}
			fire()
		}))
	}
	r.sets[orderID] = set
}

// CancelAll discards every pending action for the order id. No-op if
// none exist.
func (r *TimerRegistry) CancelAll(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropLocked(orderID)
}

// Shutdown cancels everything; called when the engine stops.
func (r *TimerRegistry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.sets {
		r.dropLocked(id)
	}
	r.sets = make(map[string]*timerSet)
}

// Pending reports whether a live set exists for the order id.
func (r *TimerRegistry) Pending(orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.sets[orderID]
	return exists
}

// current reports whether gen is still the live generation for the id.
// A fired timer from a replaced set sees a newer generation and bails.
func (r *TimerRegistry) current(orderID string, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, exists := r.sets[orderID]
	return exists && set.gen == gen
}

// dropLocked stops and removes the pending set for id, if any. Must be
// called with r.mu held.
func (r *TimerRegistry) dropLocked(orderID string) {
	set, exists := r.sets[orderID]
	if !exists {
		return
	}
	for _, timer := range set.timers {
		timer.Stop()
	}
	delete(r.sets, orderID)
}
