package eventbus

import "sync"

// hookList is a copy-on-read list of callbacks.
type hookList[F any] struct {
	mu  sync.RWMutex
	fns []F
}

func (h *hookList[F]) add(fn F) {
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

func (h *hookList[F]) snapshot() []F {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]F(nil), h.fns...)
}

type hooks struct {
	publish hookList[func(Event, any)]
	drop    hookList[func(Event, any)]
	panics  hookList[func(Event, any, any)]
}

// OnPublish registers a hook that fires after an event is enqueued.
func (bus *EventBus) OnPublish(fn func(Event, any)) { bus.hooks.publish.add(fn) }

// OnDrop registers a hook that fires when an event is dropped because the
// buffer is full or the bus is closed.
func (bus *EventBus) OnDrop(fn func(Event, any)) { bus.hooks.drop.add(fn) }

// OnPanic registers a hook that fires with the recovered value when a
// subscriber panics.
func (bus *EventBus) OnPanic(fn func(Event, any, any)) { bus.hooks.panics.add(fn) }

// send enqueues an event without blocking.
func (bus *EventBus) send(event Event, payload any) {
	bus.mu.RLock()
	sent := false
	if !bus.closed {
		select {
		case bus.ch <- envelope{event: event, payload: payload}:
			sent = true
		default:
		}
	}
	bus.mu.RUnlock()

	fire := bus.hooks.drop.snapshot()
	if sent {
		fire = bus.hooks.publish.snapshot()
	}
	for _, fn := range fire {
		fn(event, payload)
	}
}

func (bus *EventBus) runOnPanic(event Event, payload any, recovered any) {
	for _, fn := range bus.hooks.panics.snapshot() {
		func() {
			defer func() { _ = recover() }()
			fn(event, payload, recovered)
		}()
	}
}
