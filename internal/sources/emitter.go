// Package sources holds shared plumbing for the backend adapters.
package sources

import (
	"sync"

	"go.uber.org/zap"

	"github.com/hearthaudio/hearth/internal/radio"
	"github.com/hearthaudio/hearth/pkg/hearth"
)

// Emitter is the subscription registry monitors embed. Dispatch is
// synchronous on the monitor goroutine; a panicking handler is recovered so
// the monitor loop survives.
type Emitter struct {
	log *zap.Logger

	mu     sync.Mutex
	byKind map[hearth.EventKind][]radio.EventHandler
	all    []radio.EventHandler
}

// NewEmitter creates an emitter.
func NewEmitter(log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{log: log, byKind: map[hearth.EventKind][]radio.EventHandler{}}
}

// Subscribe registers a handler for one event kind.
func (e *Emitter) Subscribe(kind hearth.EventKind, handler radio.EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byKind[kind] = append(e.byKind[kind], handler)
}

// SubscribeAll registers a handler for every event.
func (e *Emitter) SubscribeAll(handler radio.EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, handler)
}

// Emit dispatches an event to kind subscribers, then catch-all subscribers.
func (e *Emitter) Emit(ev hearth.Event) {
	e.mu.Lock()
	handlers := append([]radio.EventHandler(nil), e.byKind[ev.Kind]...)
	handlers = append(handlers, e.all...)
	e.mu.Unlock()

	for _, handler := range handlers {
		e.dispatch(ev, handler)
	}
}

func (e *Emitter) dispatch(ev hearth.Event, handler radio.EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked",
				zap.String("event", ev.String()),
				zap.Any("panic", r))
		}
	}()
	handler(ev)
}
