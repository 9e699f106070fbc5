package circuitbreaker

import (
	"sort"
	"sync"

	"sirix-go/internal/common/logging"
)

// Registry lazily creates one breaker per name, typically a URL authority
// ("host:port"), so an unreachable server never trips calls to a healthy one.
type Registry struct {
	config   Config
	logger   logging.Logger
	mu       sync.RWMutex
	breakers map[string]*GoBreakerAdapter
}

// NewRegistry creates a registry whose breakers all share config
func NewRegistry(config Config, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Registry{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*GoBreakerAdapter),
	}
}

// For returns the breaker for name, creating it on first use
func (r *Registry) For(name string) *GoBreakerAdapter {
	r.mu.RLock()
	breaker, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, ok := r.breakers[name]; ok {
		return breaker
	}

	breaker = NewGoBreaker(name, r.config, r.logger)
	r.breakers[name] = breaker
	return breaker
}

// AllStats returns statistics for every breaker, ordered by name
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		stats = append(stats, breaker.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	return stats
}
