// Package service implements the clinical event timeline classification engine:
// presence and first-date derivation, the diagnosis-date cascade, treatment settings,
// regimen classifiers and the pathway and subtype decision tables.
package service

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/vocabulary"
)

// Engine derives per-patient labels from a record store. It holds no per-run state and is
// safe for concurrent use.
type Engine struct {
	store          domain.RecordStore
	ages           domain.AgeSource
	vocab          *vocabulary.Vocabulary
	logger         *logrus.Logger
	workers        int
	noSurgeryLabel bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNoSurgeryLabel makes the setting classifier report NoSurgery, instead of Neoadjuvant,
// for treated patients without any surgery.
func WithNoSurgeryLabel(enabled bool) Option {
	return func(e *Engine) { e.noSurgeryLabel = enabled }
}

// WithWorkers bounds the number of classifier calls and row builders running at once.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithAgeSource sets where ages at diagnosis are read from. Without one, ages are null.
func WithAgeSource(src domain.AgeSource) Option {
	return func(e *Engine) { e.ages = src }
}

// NewEngine creates an engine over a record store and a concept vocabulary.
func NewEngine(store domain.RecordStore, vocab *vocabulary.Vocabulary, logger *logrus.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		store:   store,
		vocab:   vocab,
		logger:  logger,
		workers: runtime.NumCPU(),
	}
	if src, ok := store.(domain.AgeSource); ok {
		e.ages = src
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the record store the engine queries.
func (e *Engine) Store() domain.RecordStore {
	return e.store
}

// Vocabulary returns the concept vocabulary the engine classifies with.
func (e *Engine) Vocabulary() *vocabulary.Vocabulary {
	return e.vocab
}

func (e *Engine) concept(name string) (domain.CodeSet, error) {
	cs, err := e.vocab.Concept(name)
	if err != nil {
		return domain.CodeSet{}, domain.NewInvalidCodeSet(err.Error())
	}
	return cs, nil
}

func validateCohort(cohort *domain.Cohort) error {
	if cohort == nil {
		return domain.NewInvalidCohortSchema("cohort is required")
	}
	return nil
}

// storeFailure keeps engine errors intact and wraps anything else as RecordStoreFailure.
func storeFailure(what string, err error) error {
	var engineErr *domain.EngineError
	if errors.As(err, &engineErr) {
		return err
	}
	return domain.NewRecordStoreFailure(fmt.Sprintf("%s query", what), err)
}
