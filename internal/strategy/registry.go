package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a strategy instance for one stream.
type Factory func(p Params) Strategy

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a strategy identifier available to stream configs.
// Registration happens at process start; duplicate names panic.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = f
}

// New builds the named strategy or reports that the identifier is unknown.
func New(name string, p Params) (Strategy, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (registered: %v)", name, Registered())
	}
	return f(p), nil
}

// IsRegistered reports whether the identifier names a known strategy.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[name]
	return ok
}

// Registered returns the known strategy identifiers in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("sr_rejection", func(p Params) Strategy {
		return NewSRRejection(p, DefaultSRRejectionConfig())
	})
	Register("momentum_scalp", func(p Params) Strategy {
		return NewMomentumScalp(p, DefaultScalpConfig())
	})
	Register("mean_reversion", func(p Params) Strategy {
		return NewMeanReversion(p, DefaultMeanReversionConfig())
	})
}
