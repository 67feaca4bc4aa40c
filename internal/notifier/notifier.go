// Package notifier delivers signal and trade notifications to external
// channels.
package notifier

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/newthinker/tradeflow/internal/core"
)

// Event kinds.
const (
	KindSignal = "signal"
	KindTrade  = "trade"
)

// Event is one notification. Exactly one of Signal and Trade is set,
// matching Kind.
type Event struct {
	Kind   string
	Signal *core.Signal
	Trade  *core.Trade
}

// Notifier defines the interface for a notification channel
type Notifier interface {
	// Name returns the unique identifier for this notifier
	Name() string

	// Notify delivers one event
	Notify(ctx context.Context, ev Event) error
}

// Registry manages notifier instances
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

// NewRegistry creates a new notifier registry
func NewRegistry() *Registry {
	return &Registry{
		notifiers: make(map[string]Notifier),
	}
}

// Register adds a notifier to the registry
func (r *Registry) Register(n Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := n.Name()
	if _, exists := r.notifiers[name]; exists {
		return fmt.Errorf("notifier %s already registered", name)
	}

	r.notifiers[name] = n
	return nil
}

// Get retrieves a notifier by name
func (r *Registry) Get(name string) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.notifiers[name]
	return n, ok
}

// Names returns the registered notifier names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered notifiers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifiers)
}

// NotifyAll sends ev to every registered notifier. One failing channel
// does not stop the others; failures are returned by notifier name.
func (r *Registry) NotifyAll(ctx context.Context, ev Event) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	errs := make(map[string]error)
	for name, n := range r.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			errs[name] = err
		}
	}
	return errs
}
