package reconcile

import "github.com/google/uuid"

// broadcaster is an in-process fan-out of synchronous callbacks (DESIGN
// NOTES §9): bind/unbind return an opaque handle, invocation calls every
// bound handler in registration order. Grounded on the teacher's
// scheduler/events.go event-bus shape, generalized from peer lifecycle
// events to the reconciliation driver's typed events.
type broadcaster[T any] struct {
	handlers []boundHandler[T]
}

type boundHandler[T any] struct {
	id uuid.UUID
	fn func(T)
}

// Bind registers fn and returns a handle usable with Unbind.
func (b *broadcaster[T]) Bind(fn func(T)) uuid.UUID {
	id := uuid.New()
	b.handlers = append(b.handlers, boundHandler[T]{id: id, fn: fn})
	return id
}

// Unbind removes a previously bound handler. No-op if id is unknown.
func (b *broadcaster[T]) Unbind(id uuid.UUID) {
	for i, h := range b.handlers {
		if h.id == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Emit invokes every bound handler with v, in registration order.
func (b *broadcaster[T]) Emit(v T) {
	for _, h := range b.handlers {
		h.fn(v)
	}
}
