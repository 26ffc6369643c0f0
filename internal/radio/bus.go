package radio

import (
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/pkg/hearth"
)

// BusHandler receives a bus event along with the name it was emitted under.
// Handlers subscribed by exact name see the same name they subscribed with;
// wildcard handlers use it to discriminate.
type BusHandler func(name string, ev hearth.Event)

// WildcardName subscribes a handler to every emitted event.
const WildcardName = "any"

// Bus is an in-process callback registry. Emission is synchronous and fans
// out on the calling goroutine in registration order; there is no queueing,
// persistence or delivery guarantee. A handler that panics is recovered and
// logged so the remaining handlers still run.
type Bus struct {
	log *zap.Logger

	mu       sync.Mutex
	handlers map[string][]BusHandler
}

// NewBus creates an event bus.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, handlers: map[string][]BusHandler{}}
}

// Subscribe registers a handler for an event name. Use WildcardName to
// receive every event.
func (b *Bus) Subscribe(name string, handler BusHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Unsubscribe removes a previously registered handler. Handlers are matched
// by function identity; unknown handlers are ignored.
func (b *Bus) Unsubscribe(name string, handler BusHandler) {
	ptr := reflect.ValueOf(handler).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	registered := b.handlers[name]
	for i, h := range registered {
		if reflect.ValueOf(h).Pointer() == ptr {
			b.handlers[name] = append(registered[:i:i], registered[i+1:]...)
			return
		}
	}
}

// Emit delivers an event to all subscribers of name, then to wildcard
// subscribers.
func (b *Bus) Emit(name string, ev hearth.Event) {
	b.mu.Lock()
	exact := append([]BusHandler(nil), b.handlers[name]...)
	wild := append([]BusHandler(nil), b.handlers[WildcardName]...)
	b.mu.Unlock()

	for _, handler := range exact {
		b.dispatch(name, ev, handler)
	}
	for _, handler := range wild {
		b.dispatch(name, ev, handler)
	}
}

func (b *Bus) dispatch(name string, ev hearth.Event, handler BusHandler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event subscriber panicked",
				zap.String("event", name),
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r))
		}
	}()
	handler(name, ev)
}
