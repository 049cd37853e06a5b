package recordstore

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/bc-pathway-engine/internal/domain"
)

// ResilientStore guards a record store with a rate limiter and a circuit breaker.
// It never retries: a failed query is reported to the caller as RecordStoreFailure.
type ResilientStore struct {
	next    domain.RecordStore
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewResilientStore wraps a store using the record store breaker and rate settings.
func NewResilientStore(next domain.RecordStore, cfg domain.RecordStoreConfig, logger *logrus.Logger) *ResilientStore {
	if logger == nil {
		logger = logrus.New()
	}

	maxRequests := cfg.Breaker.MaxRequests
	if maxRequests == 0 {
		maxRequests = 5
	}
	interval := cfg.Breaker.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.Breaker.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &ResilientStore{
		next: next,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "RecordStore",
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.WithFields(logrus.Fields{
					"circuit_breaker": name,
					"from_state":      from.String(),
					"to_state":        to.String(),
				}).Warn("Circuit breaker state changed")
			},
			IsSuccessful: func(err error) bool {
				// invalid arguments say nothing about store health
				return err == nil || errors.Is(err, domain.ErrInvalidCodeSet) || errors.Is(err, domain.ErrInvalidDateRange)
			},
		}),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// FetchEvents implements domain.RecordStore.
func (r *ResilientStore) FetchEvents(ctx context.Context, cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) ([]domain.MedicalEvent, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, domain.NewRecordStoreFailure("rate limiter", err)
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.next.FetchEvents(ctx, cs, cohort, rng)
	})
	if err != nil {
		return nil, r.storeFailure(err)
	}
	events, _ := result.([]domain.MedicalEvent)
	return events, nil
}

// FetchAges passes through the breaker when the wrapped store can report ages.
func (r *ResilientStore) FetchAges(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange) ([]domain.AgeObservation, error) {
	src, ok := r.next.(domain.AgeSource)
	if !ok {
		return nil, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, domain.NewRecordStoreFailure("rate limiter", err)
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return src.FetchAges(ctx, cohort, rng)
	})
	if err != nil {
		return nil, r.storeFailure(err)
	}
	obs, _ := result.([]domain.AgeObservation)
	return obs, nil
}

// State returns the circuit breaker state name.
func (r *ResilientStore) State() string {
	return r.breaker.State().String()
}

// Unwrap returns the guarded store.
func (r *ResilientStore) Unwrap() domain.RecordStore {
	return r.next
}

func (r *ResilientStore) storeFailure(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewRecordStoreFailure("circuit breaker "+r.breaker.State().String(), err)
	}
	var engineErr *domain.EngineError
	if errors.As(err, &engineErr) {
		return err
	}
	return domain.NewRecordStoreFailure("query failed", err)
}
