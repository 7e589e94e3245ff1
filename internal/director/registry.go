// Package director picks the handler serving each request.
package director

import (
	"fmt"
	"slices"
	"sync"

	"github.com/frankli0324/go-networking/internal/handler"
	"github.com/frankli0324/go-networking/internal/model"
)

// Factory creates a handler from the shared options.
type Factory func(opts handler.Options) (handler.Handler, error)

// Preference scores a handler for a request. Higher wins.
type Preference func(h handler.Handler, r *model.Request) int

type registration struct {
	name    string
	factory Factory
}

type preference struct {
	fn    Preference
	names []string // empty applies to every handler
}

func (p preference) appliesTo(name string) bool {
	return len(p.names) == 0 || slices.Contains(p.names, name)
}

var (
	mu            sync.RWMutex
	registrations []registration
	preferences   []preference
)

// Register makes a handler available to directors built by [FromRegistry],
// in registration order. It panics when name is empty or taken, it is meant
// to be called from init.
func Register(name string, factory Factory) {
	if name == "" {
		panic("director: handler name cannot be empty")
	}
	if factory == nil {
		panic("director: handler factory cannot be nil")
	}
	mu.Lock()
	defer mu.Unlock()
	for _, r := range registrations {
		if r.name == name {
			panic(fmt.Sprintf("director: handler %q is already registered", name))
		}
	}
	registrations = append(registrations, registration{name, factory})
}

// RegisterPreference scores the named handlers, or all handlers when no
// name is given, in every director built afterwards.
func RegisterPreference(p Preference, names ...string) {
	mu.Lock()
	defer mu.Unlock()
	preferences = append(preferences, preference{p, names})
}

// Registered returns the registered handler names in order.
func Registered() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, len(registrations))
	for i, r := range registrations {
		names[i] = r.name
	}
	return names
}
