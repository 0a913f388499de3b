// Package bus provides the in-process event bus that carries workflow
// lifecycle events from the engine to its sinks.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/petrijr/shellguard/pkg/api"
)

// ErrListenerPanic wraps a panic recovered from a listener.
var ErrListenerPanic = errors.New("listener panicked")

type subscription struct {
	id       api.SubscriptionID
	phase    api.Phase // "" for catch-all
	listener api.Listener
}

// InMemoryBus is a synchronous, goroutine-safe EventBus.
//
// Publish iterates over a snapshot of the subscriptions, so listeners may
// subscribe, unsubscribe or publish from inside a callback.
type InMemoryBus struct {
	mu       sync.RWMutex
	nextID   api.SubscriptionID
	byPhase  map[api.Phase][]subscription
	catchAll []subscription
	onFail   func(api.BusEvent, error)

	logger *slog.Logger
}

var _ api.EventBus = (*InMemoryBus)(nil)

// NewInMemoryBus creates a bus. A nil logger uses slog.Default().
func NewInMemoryBus(logger *slog.Logger) *InMemoryBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		byPhase: make(map[api.Phase][]subscription),
		logger:  logger,
	}
}

func (b *InMemoryBus) Subscribe(phase api.Phase, l api.Listener) api.SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.byPhase[phase] = append(b.byPhase[phase], subscription{id: b.nextID, phase: phase, listener: l})
	return b.nextID
}

func (b *InMemoryBus) SubscribeAll(l api.Listener) api.SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.catchAll = append(b.catchAll, subscription{id: b.nextID, listener: l})
	return b.nextID
}

// OnFailure registers fn to be called for every listener error after it is
// logged. A later call replaces the earlier hook.
func (b *InMemoryBus) OnFailure(fn func(ev api.BusEvent, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFail = fn
}

// Unsubscribe removes a listener. It reports whether id was registered.
func (b *InMemoryBus) Unsubscribe(id api.SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := remove(b.catchAll, id); ok {
		b.catchAll = subs
		return true
	}
	for phase, subs := range b.byPhase {
		if rest, ok := remove(subs, id); ok {
			if len(rest) == 0 {
				delete(b.byPhase, phase)
			} else {
				b.byPhase[phase] = rest
			}
			return true
		}
	}
	return false
}

func remove(subs []subscription, id api.SubscriptionID) ([]subscription, bool) {
	for i, s := range subs {
		if s.id == id {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			return append(out, subs[i+1:]...), true
		}
	}
	return subs, false
}

// Publish delivers ev to phase listeners, then to catch-all listeners.
// Every listener is called even if an earlier one fails; the failures are
// logged and returned joined.
func (b *InMemoryBus) Publish(ctx context.Context, ev api.BusEvent) error {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.byPhase[ev.Phase])+len(b.catchAll))
	targets = append(targets, b.byPhase[ev.Phase]...)
	targets = append(targets, b.catchAll...)
	onFail := b.onFail
	b.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := b.deliver(ctx, s, ev); err != nil {
			b.logger.ErrorContext(ctx, "listener_failed",
				slog.Uint64("subscription_id", uint64(s.id)),
				slog.String("phase", string(ev.Phase)),
				slog.String("action_id", ev.Command.ID),
				slog.Any("error", err),
			)
			if onFail != nil {
				onFail(ev, err)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *InMemoryBus) deliver(ctx context.Context, s subscription, ev api.BusEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.DebugContext(ctx, "listener_panic_stack", slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%w: %v", ErrListenerPanic, r)
		}
	}()
	return s.listener(ctx, ev)
}

// ListenerCount returns the number of listeners bound to phase, not counting
// catch-all listeners.
func (b *InMemoryBus) ListenerCount(phase api.Phase) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byPhase[phase])
}

// TotalListenerCount returns the number of registered listeners.
func (b *InMemoryBus) TotalListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.catchAll)
	for _, subs := range b.byPhase {
		n += len(subs)
	}
	return n
}
