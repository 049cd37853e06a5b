// Package recordstore provides adapters that answer event queries for the engine:
// an in-memory store, a SQL store over the SNDS claims layout, and decorators that
// add memoization and failure isolation around any store.
package recordstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bc-pathway-engine/internal/domain"
)

// Query records one FetchEvents call made against a MemoryStore.
type Query struct {
	CodeSet    string
	Types      []domain.CodeType
	CohortSize int
	Range      domain.DateRange
}

// MemoryStore keeps events in memory. It backs tests and small fixture datasets.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []domain.MedicalEvent
	ages    []domain.AgeObservation
	queries []Query
	failOn  map[domain.CodeType]error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{failOn: make(map[domain.CodeType]error)}
}

// Add appends events. Dates are truncated to calendar days.
func (m *MemoryStore) Add(events ...domain.MedicalEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		e.Date = domain.Day(e.Date)
		m.events = append(m.events, e)
	}
}

// AddAges appends age observations.
func (m *MemoryStore) AddAges(obs ...domain.AgeObservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range obs {
		o.Date = domain.Day(o.Date)
		m.ages = append(m.ages, o)
	}
}

// FailOn makes every query touching the code type fail with err.
func (m *MemoryStore) FailOn(t domain.CodeType, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[t] = err
}

// Queries returns the calls made so far.
func (m *MemoryStore) Queries() []Query {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Query, len(m.queries))
	copy(out, m.queries)
	return out
}

// FetchEvents implements domain.RecordStore.
func (m *MemoryStore) FetchEvents(ctx context.Context, cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) ([]domain.MedicalEvent, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	q := Query{CodeSet: cs.Identity(), Types: cs.Types(), CohortSize: -1, Range: rng}
	if cohort != nil {
		q.CohortSize = cohort.Len()
	}
	m.queries = append(m.queries, q)
	for _, t := range cs.Types() {
		if err := m.failOn[t]; err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[eventKey]bool)
	var out []domain.MedicalEvent
	for _, e := range m.events {
		if !cs.Contains(e.Type, e.Code) || !rng.Contains(e.Date) {
			continue
		}
		if cohort != nil && !cohort.Contains(e.Key) {
			continue
		}
		k := eventKey{key: e.Key, code: e.Code, date: e.Date}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	SortEvents(out)
	return out, nil
}

// FetchAges implements domain.AgeSource.
func (m *MemoryStore) FetchAges(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange) ([]domain.AgeObservation, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.AgeObservation
	for _, o := range m.ages {
		if cohort != nil && !cohort.Contains(o.Key) {
			continue
		}
		if !rng.Contains(o.Date) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

type eventKey struct {
	key  domain.PatientKey
	code string
	date time.Time
}

// SortEvents orders events by patient key, then date, then code.
func SortEvents(events []domain.MedicalEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Key != b.Key {
			return a.Key.Less(b.Key)
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.Code < b.Code
	})
}
