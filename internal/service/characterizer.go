package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/guregu/null.v3"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/vocabulary"
)

// Classifier columns, used as keys of Result.Failures.
const (
	ColumnDiagnosis         = "Date_Diag"
	ColumnAge               = "AGE"
	ColumnNodalStatus       = "Nodal_Status"
	ColumnMastectomy        = "Mastectomy"
	ColumnPartialMastectomy = "Partial_Mastectomy"
	ColumnSurgery           = "Surgery"
	ColumnCT                = "CT"
	ColumnCTRegimen         = "CT_Regimen"
	ColumnRT                = "RT"
	ColumnTT                = "TT"
	ColumnET                = "ET"
	ColumnETTreatment       = "ET_Treatment"
)

// Result is one characterization run over a cohort.
type Result struct {
	RunID     string
	Range     domain.DateRange
	Rows      []domain.PatientCharacterization
	Failures  map[string]error
	StartedAt time.Time
	Duration  time.Duration
}

// Err aggregates the classifier failures of the run, or returns nil when every column was
// computed.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	columns := make([]string, 0, len(r.Failures))
	for c := range r.Failures {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	var merr *multierror.Error
	for _, c := range columns {
		merr = multierror.Append(merr, r.Failures[c])
	}
	return merr.ErrorOrNil()
}

// Characterizer assembles the PatientCharacterization table for a cohort.
type Characterizer struct {
	engine *Engine
	logger *logrus.Logger
}

// NewCharacterizer creates a characterizer running the engine's classifiers.
func NewCharacterizer(engine *Engine) *Characterizer {
	return &Characterizer{engine: engine, logger: engine.logger}
}

// Engine returns the underlying classification engine.
func (c *Characterizer) Engine() *Engine {
	return c.engine
}

// cohortFacts holds the per-column classifier outputs. Each field is written by exactly one
// task.
type cohortFacts struct {
	diagnosis   map[domain.PatientKey]*time.Time
	surgery     map[domain.PatientKey]*time.Time
	nodal       map[domain.PatientKey]bool
	mastectomy  map[domain.PatientKey]bool
	partial     map[domain.PatientKey]bool
	ct          map[domain.PatientKey]domain.TreatmentRecord
	rt          map[domain.PatientKey]domain.TreatmentRecord
	tt          map[domain.PatientKey]domain.TreatmentRecord
	et          map[domain.PatientKey]domain.TreatmentRecord
	ctRegimen   map[domain.PatientKey]domain.ChemoRegimen
	etRegimen   map[domain.PatientKey]domain.ETRegimen
	ages        map[domain.PatientKey]null.Int
}

// Build runs every classifier over the cohort and joins their outputs into one row per
// patient, in cohort order. A failing classifier never drops a row: its columns fall back
// to No or Unknown and the failure is reported in Result.Failures.
func (c *Characterizer) Build(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange) (*Result, error) {
	if err := validateCohort(cohort); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	result := &Result{
		RunID:     uuid.New().String(),
		Range:     rng,
		Failures:  make(map[string]error),
		StartedAt: time.Now().UTC(),
	}
	logger := c.logger.WithFields(logrus.Fields{
		"run_id":      result.RunID,
		"cohort_size": cohort.Len(),
		"range":       rng.String(),
	})
	logger.Info("Starting cohort characterization")

	facts := c.collect(ctx, cohort, rng, result.Failures, logger)
	result.Rows = c.assemble(cohort, facts, result.Failures)
	result.Duration = time.Since(result.StartedAt)

	logger.WithFields(logrus.Fields{
		"rows":        len(result.Rows),
		"failures":    len(result.Failures),
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("Cohort characterization completed")
	return result, nil
}

// collect runs the classifiers concurrently. Failures are recorded per column and never
// cancel the other classifiers.
func (c *Characterizer) collect(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange, failures map[string]error, logger *logrus.Entry) *cohortFacts {
	e := c.engine
	facts := &cohortFacts{}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.workers)

	run := func(column string, task func() error) {
		g.Go(func() error {
			if err := task(); err != nil {
				mu.Lock()
				failures[column] = err
				mu.Unlock()
				logger.WithError(err).WithField("column", column).Warn("Classifier failed, column reported as unknown")
			}
			return nil
		})
	}
	presence := func(concept string, dst *map[domain.PatientKey]bool) func() error {
		return func() error {
			cs, err := e.concept(concept)
			if err != nil {
				return err
			}
			*dst, err = e.HadEvent(ctx, cs, cohort, rng)
			return err
		}
	}
	records := func(concept string, dst *map[domain.PatientKey]domain.TreatmentRecord) func() error {
		return func() error {
			cs, err := e.concept(concept)
			if err != nil {
				return err
			}
			*dst, err = e.TreatmentRecords(ctx, cs, cohort, rng)
			return err
		}
	}

	run(ColumnDiagnosis, func() (err error) {
		facts.diagnosis, err = e.InferDiagnosisDate(ctx, cohort, rng)
		return err
	})
	run(ColumnSurgery, func() error {
		cs, err := e.concept(vocabulary.Surgery)
		if err != nil {
			return err
		}
		facts.surgery, err = e.FirstDates(ctx, cs, cohort, rng)
		return err
	})
	run(ColumnNodalStatus, presence(vocabulary.NodalStatus, &facts.nodal))
	run(ColumnMastectomy, presence(vocabulary.Mastectomy, &facts.mastectomy))
	run(ColumnPartialMastectomy, presence(vocabulary.PartialMastectomy, &facts.partial))
	run(ColumnCT, records(vocabulary.Chemotherapy, &facts.ct))
	run(ColumnRT, records(vocabulary.Radiotherapy, &facts.rt))
	run(ColumnTT, records(vocabulary.TargetedTherapy, &facts.tt))
	run(ColumnET, records(vocabulary.EndocrineTherapy, &facts.et))
	run(ColumnCTRegimen, func() (err error) {
		facts.ctRegimen, err = e.ClassifyChemoRegimen(ctx, cohort, rng)
		return err
	})
	run(ColumnETTreatment, func() (err error) {
		facts.etRegimen, err = e.ClassifyETRegimen(ctx, cohort, rng)
		return err
	})

	// tasks only report through failures
	_ = g.Wait()

	// ages are read on the diagnosis date, so they wait for the cascade
	if _, failed := failures[ColumnDiagnosis]; !failed {
		ages, err := e.AgeAtDiagnosis(ctx, cohort, rng, facts.diagnosis)
		if err != nil {
			failures[ColumnAge] = err
			logger.WithError(err).WithField("column", ColumnAge).Warn("Classifier failed, column reported as unknown")
		}
		facts.ages = ages
	}
	return facts
}

// assemble builds the rows on a bounded worker pool over the cohort.
func (c *Characterizer) assemble(cohort *domain.Cohort, facts *cohortFacts, failures map[string]error) []domain.PatientCharacterization {
	keys := cohort.Keys()
	rows := make([]domain.PatientCharacterization, len(keys))

	failed := func(columns ...string) bool {
		for _, col := range columns {
			if _, ok := failures[col]; ok {
				return true
			}
		}
		return false
	}
	surgeryKnown := !failed(ColumnSurgery)
	pathwayKnown := !failed(ColumnSurgery, ColumnCT, ColumnRT, ColumnTT, ColumnET)
	subtypeKnown := !failed(ColumnCT, ColumnTT, ColumnET)
	ctRegimenKnown := !failed(ColumnCTRegimen)
	etRegimenKnown := !failed(ColumnETTreatment)

	chunk := (len(keys) + c.engine.workers - 1) / c.engine.workers
	if chunk < 1 {
		chunk = 1
	}

	var g errgroup.Group
	g.SetLimit(c.engine.workers)
	for start := 0; start < len(keys); start += chunk {
		start, end := start, start+chunk
		if end > len(keys) {
			end = len(keys)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				k := keys[i]
				row := domain.NewUnknownCharacterization(k)

				if d := facts.diagnosis[k]; d != nil {
					row.DiagnosisDate = null.TimeFrom(*d)
				}
				if age, ok := facts.ages[k]; ok {
					row.Age = age
				}
				row.NodalStatus = domain.Bool01(facts.nodal[k])
				row.Mastectomy = domain.Bool01(facts.mastectomy[k])
				row.PartialMastectomy = domain.Bool01(facts.partial[k])
				row.Surgery = domain.Bool01(facts.mastectomy[k] || facts.partial[k])

				surgery := facts.surgery[k]
				setting := func(rec domain.TreatmentRecord) domain.SettingLabel {
					if !surgeryKnown {
						return domain.SettingNo
					}
					return SettingFor(rec.FirstDate, surgery, c.engine.noSurgeryLabel)
				}
				row.CT, row.CTSetting = domain.Bool01(facts.ct[k].Present), setting(facts.ct[k])
				row.RT, row.RTSetting = domain.Bool01(facts.rt[k].Present), setting(facts.rt[k])
				row.TT, row.TTSetting = domain.Bool01(facts.tt[k].Present), setting(facts.tt[k])
				row.ET, row.ETSetting = domain.Bool01(facts.et[k].Present), setting(facts.et[k])

				if ctRegimenKnown {
					row.CTRegimen = facts.ctRegimen[k]
				}
				if etRegimenKnown {
					row.ETTreatment = facts.etRegimen[k]
				}
				row.ETRegimen = ETLineFor(row.ETTreatment)

				if pathwayKnown {
					row.Pathway = Pathway(row)
				}
				if subtypeKnown {
					row.Subtype = Subtype(row)
				}
				rows[i] = row
			}
			return nil
		})
	}
	_ = g.Wait()
	return rows
}
