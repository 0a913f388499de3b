package api

import "context"

// Listener handles one bus event. A returned error is logged by the bus and
// does not stop delivery to other listeners.
type Listener func(ctx context.Context, ev BusEvent) error

// SubscriptionID identifies a registered listener.
type SubscriptionID uint64

// EventBus is an in-process publish/subscribe channel for lifecycle events.
//
// Delivery is synchronous on the publisher's goroutine: phase listeners in
// subscription order, then catch-all listeners in subscription order.
type EventBus interface {
	// Publish delivers ev and returns the joined listener failures, if any.
	Publish(ctx context.Context, ev BusEvent) error
	Subscribe(phase Phase, l Listener) SubscriptionID
	SubscribeAll(l Listener) SubscriptionID
	Unsubscribe(id SubscriptionID) bool
}

// ListenerFunc adapts a handler that cannot fail.
func ListenerFunc(fn func(ctx context.Context, ev BusEvent)) Listener {
	return func(ctx context.Context, ev BusEvent) error {
		fn(ctx, ev)
		return nil
	}
}
