package otel

import (
	"sync"

	"github.com/petal-labs/trellis/bus"
)

// Handler consumes client events. Both MetricsHandler and TracingHandler
// implement it.
type Handler interface {
	Handle(e bus.Event)
}

var (
	_ Handler = (*MetricsHandler)(nil)
	_ Handler = (*TracingHandler)(nil)
)

// Observer subscribes to every event on a bus and dispatches each one to a
// set of handlers in order. Dispatch runs on a single goroutine, so handlers
// observe events in publication order and need no locking between them.
type Observer struct {
	sub      bus.Subscription
	handlers []Handler

	closeOnce sync.Once
	done      chan struct{}
}

// NewObserver attaches the handlers to the bus and starts dispatching.
func NewObserver(b bus.EventBus, handlers ...Handler) *Observer {
	o := &Observer{
		sub:      b.SubscribeAll(),
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Observer) run() {
	defer close(o.done)
	for e := range o.sub.Events() {
		for _, h := range o.handlers {
			h.Handle(e)
		}
	}
}

// Close unsubscribes from the bus and waits for in-flight dispatch to drain.
func (o *Observer) Close() error {
	var err error
	o.closeOnce.Do(func() {
		err = o.sub.Close()
		<-o.done
	})
	return err
}
