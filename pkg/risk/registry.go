package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/petrijr/shellguard/pkg/api"
)

// ErrUnknownAssessor is returned when no factory is registered under a name.
var ErrUnknownAssessor = errors.New("unknown risk assessor")

// Names of the built-in assessors.
const (
	NameRuleBased   = "rule-based"
	NameFailSafe    = "fail-safe"
	NameAutoApprove = "auto-approve"
	NameComposite   = "composite"
)

// Options carries what factories may need to build an assessor.
type Options struct {
	Rules  Rules
	Logger *slog.Logger
	// Children names the assessors combined by the composite strategy.
	Children []string
}

// Factory builds an assessor from options.
type Factory func(r *Registry, opts Options) (api.RiskAssessor, error)

// Registry maps strategy names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in strategies registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	_ = r.Register(NameRuleBased, func(_ *Registry, o Options) (api.RiskAssessor, error) {
		return NewRuleBasedAssessorWithRules(o.Rules, o.Logger)
	})
	_ = r.Register(NameFailSafe, func(*Registry, Options) (api.RiskAssessor, error) {
		return FailSafeAssessor{}, nil
	})
	_ = r.Register(NameAutoApprove, func(_ *Registry, o Options) (api.RiskAssessor, error) {
		return NewAutoApproveAssessor(o.Logger), nil
	})
	_ = r.Register(NameComposite, buildComposite)
	return r
}

// Register adds a factory. Names are case-insensitive and must be unique.
func (r *Registry) Register(name string, f Factory) error {
	key := normalize(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("risk assessor %q already registered", name)
	}
	r.factories[key] = f
	return nil
}

// Build constructs the named assessor.
func (r *Registry) Build(name string, opts Options) (api.RiskAssessor, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAssessor, name)
	}
	return f(r, opts)
}

// Names lists registered strategies in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func buildComposite(r *Registry, o Options) (api.RiskAssessor, error) {
	children := make([]api.RiskAssessor, 0, len(o.Children))
	for _, name := range o.Children {
		if normalize(name) == NameComposite {
			return nil, fmt.Errorf("risk: composite cannot contain itself")
		}
		child, err := r.Build(name, Options{Rules: o.Rules, Logger: o.Logger})
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return NewCompositeAssessor(children...), nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
