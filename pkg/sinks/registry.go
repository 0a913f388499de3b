package sinks

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/petrijr/shellguard/pkg/api"
)

// Adapter handles one bus event on behalf of a sink.
type Adapter interface {
	HandleEvent(ctx context.Context, ev api.BusEvent) error
}

// AdapterCounts reports how many adapters of each kind are registered.
type AdapterCounts struct {
	Review     int
	Completion int
	Output     int
}

// AdapterRegistry subscribes once to every bus event and routes each event
// to the registered adapters: review first, then completion, then output.
// A failing adapter does not stop the others.
type AdapterRegistry struct {
	mu         sync.RWMutex
	review     []Adapter
	completion []Adapter
	output     []Adapter

	bus    api.EventBus
	sub    api.SubscriptionID
	logger *slog.Logger
}

// NewAdapterRegistry subscribes to bus. A nil logger uses slog.Default().
func NewAdapterRegistry(bus api.EventBus, logger *slog.Logger) *AdapterRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &AdapterRegistry{bus: bus, logger: logger}
	r.sub = bus.SubscribeAll(r.route)
	return r
}

func (r *AdapterRegistry) AddReviewSink(s ReviewSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.review = append(r.review, NewReviewAdapter(s))
}

func (r *AdapterRegistry) AddCompletionSink(s CompletionSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completion = append(r.completion, NewCompletionAdapter(s))
}

func (r *AdapterRegistry) AddOutputSink(s OutputSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, NewOutputAdapter(s))
}

// Wire registers every given sink.
func (r *AdapterRegistry) Wire(review []ReviewSink, completion []CompletionSink, output []OutputSink) {
	for _, s := range review {
		r.AddReviewSink(s)
	}
	for _, s := range completion {
		r.AddCompletionSink(s)
	}
	for _, s := range output {
		r.AddOutputSink(s)
	}
	r.logger.Debug("sink_adapters_wired",
		slog.Int("review", len(review)),
		slog.Int("completion", len(completion)),
		slog.Int("output", len(output)),
	)
}

func (r *AdapterRegistry) Counts() AdapterCounts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return AdapterCounts{
		Review:     len(r.review),
		Completion: len(r.completion),
		Output:     len(r.output),
	}
}

// Close detaches the registry from the bus.
func (r *AdapterRegistry) Close() {
	r.bus.Unsubscribe(r.sub)
}

func (r *AdapterRegistry) route(ctx context.Context, ev api.BusEvent) error {
	r.mu.RLock()
	adapters := make([]Adapter, 0, len(r.review)+len(r.completion)+len(r.output))
	adapters = append(adapters, r.review...)
	adapters = append(adapters, r.completion...)
	adapters = append(adapters, r.output...)
	r.mu.RUnlock()

	var errs []error
	for _, a := range adapters {
		if err := a.HandleEvent(ctx, ev); err != nil {
			r.logger.WarnContext(ctx, "sink_adapter_failed",
				slog.String("action_id", ev.Command.ID),
				slog.String("phase", string(ev.Phase)),
				slog.Any("error", err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
