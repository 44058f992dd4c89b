package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrStrategyNotFound means no registered strategy matched the requested
// name, its alias, or the raw bot id.
var ErrStrategyNotFound = errors.New("strategy not found")

// Constructor builds a strategy instance from its parameters.
type Constructor func(cfg Config) (Strategy, error)

// Registry maps strategy names to constructors. The alias table is built
// once at startup; resolution fails closed with the list of valid names.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	aliases      map[string]string
}

// NewRegistry creates a registry pre-loaded with the built-in strategies
// and their aliases.
func NewRegistry() *Registry {
	r := &Registry{
		constructors: make(map[string]Constructor),
		aliases: map[string]string{
			"even-odd": "EvenOdd",
			"evenodd":  "EvenOdd",
			"ma-cross": "MACross",
			"macross":  "MACross",
			"rsi":      "RSI",
		},
	}
	r.Register("EvenOdd", NewEvenOdd)
	r.Register("MACross", NewMACross)
	r.Register("RSI", NewRSI)
	return r
}

// Register adds a named constructor, replacing any previous registration.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

// Has reports whether a canonical name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[name]
	return ok
}

// List returns the registered canonical names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create instantiates a strategy by canonical name.
func (r *Registry) Create(name string, cfg Config) (Strategy, error) {
	r.mu.RLock()
	c, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrStrategyNotFound, name, strings.Join(r.List(), ", "))
	}
	return c(cfg)
}

// Resolve finds a strategy for a start request. It tries the explicit name,
// then the alias table, then the raw bot id.
func (r *Registry) Resolve(name, botID string, cfg Config) (Strategy, error) {
	for _, candidate := range []string{name, r.alias(name), botID, r.alias(botID)} {
		if candidate == "" || !r.Has(candidate) {
			continue
		}
		return r.Create(candidate, cfg)
	}
	requested := name
	if requested == "" {
		requested = botID
	}
	return nil, fmt.Errorf("%w: %q (available: %s)", ErrStrategyNotFound, requested, strings.Join(r.List(), ", "))
}

func (r *Registry) alias(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aliases[strings.ToLower(name)]
}
