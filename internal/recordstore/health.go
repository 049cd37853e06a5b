package recordstore

import "github.com/bc-pathway-engine/internal/domain"

// Health is the runtime state of the decorators wrapped around a record store.
type Health struct {
	Cache   *CacheStats `json:"cache,omitempty"`
	Breaker string      `json:"breaker,omitempty"`
}

// Degraded reports whether the circuit breaker is rejecting queries.
func (h Health) Degraded() bool {
	return h.Breaker == "open"
}

type unwrapper interface {
	Unwrap() domain.RecordStore
}

// HealthOf walks the decorator chain of a store and collects cache counters and the
// breaker state.
func HealthOf(store domain.RecordStore) Health {
	var h Health
	for store != nil {
		switch s := store.(type) {
		case *CachingStore:
			stats := s.Stats()
			h.Cache = &stats
		case *ResilientStore:
			h.Breaker = s.State()
		}
		u, ok := store.(unwrapper)
		if !ok {
			break
		}
		store = u.Unwrap()
	}
	return h
}
