package chain

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps currency symbols to their adapters. The set is fixed at
// construction (process start); it is safe for concurrent reads.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters. Later adapters for
// the same currency replace earlier ones.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[strings.ToLower(a.Currency())] = a
	}
	return &Registry{adapters: m}
}

// Get returns the adapter for a currency, or ErrUnsupportedCurrency.
func (r *Registry) Get(currency string) (Adapter, error) {
	a, ok := r.adapters[strings.ToLower(currency)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
	return a, nil
}

// Currencies lists the supported currency symbols, sorted.
func (r *Registry) Currencies() []string {
	out := make([]string, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
