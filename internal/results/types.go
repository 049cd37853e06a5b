// Package results persists characterization runs and their rows so they can be browsed,
// summarised and exported after the engine has finished.
package results

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/report"
	"github.com/bc-pathway-engine/internal/service"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("characterization run not found")

// Run describes one persisted characterization run.
type Run struct {
	ID         string            `json:"id"`
	CohortSize int               `json:"cohort_size"`
	RangeStart time.Time         `json:"range_start"`
	RangeEnd   time.Time         `json:"range_end"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMS int64             `json:"duration_ms"`
	Failures   map[string]string `json:"failures,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Range returns the run's date range.
func (r *Run) Range() domain.DateRange {
	return domain.DateRange{Start: r.RangeStart, End: r.RangeEnd}
}

// FailedColumns returns the columns whose classifier failed, sorted.
func (r *Run) FailedColumns() []string {
	cols := make([]string, 0, len(r.Failures))
	for c := range r.Failures {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// RunFromResult describes a finished engine run.
func RunFromResult(res *service.Result) *Run {
	run := &Run{
		ID:         res.RunID,
		CohortSize: len(res.Rows),
		RangeStart: res.Range.Start,
		RangeEnd:   res.Range.End,
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration.Milliseconds(),
		Failures:   make(map[string]string, len(res.Failures)),
	}
	for col, err := range res.Failures {
		run.Failures[col] = err.Error()
	}
	return run
}

// Store defines the interface for run storage operations.
type Store interface {
	// Save stores a run and its rows in one transaction. Saving an existing run id fails.
	Save(ctx context.Context, run *Run, rows []domain.PatientCharacterization) error

	// GetRun retrieves a run by id, or ErrRunNotFound.
	GetRun(ctx context.Context, id string) (*Run, error)

	// Rows returns the rows of a run in cohort order, or ErrRunNotFound.
	Rows(ctx context.Context, id string) ([]domain.PatientCharacterization, error)

	// ListRuns returns runs, newest first, with pagination.
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)

	// Count returns the number of stored runs.
	Count(ctx context.Context) (int64, error)

	// Delete removes a run and its rows.
	Delete(ctx context.Context, id string) error

	// Close closes the store and releases resources.
	Close() error
}

// RunExport is the JSON export format of a run.
type RunExport struct {
	Version    string                           `json:"version"`
	ExportedAt time.Time                        `json:"exported_at"`
	Run        *Run                             `json:"run"`
	Rows       []domain.PatientCharacterization `json:"rows"`
}

// rowLabels flattens the label columns of a row in the order shared by both SQL stores.
// The key, age and diagnosis date are bound by the caller.
func rowLabels(rec report.Record) []interface{} {
	return []interface{}{
		rec.NodalStatus, rec.Mastectomy, rec.PartialMastectomy, rec.Surgery,
		rec.CT, rec.CTSetting, rec.CTRegimen,
		rec.RT, rec.RTSetting,
		rec.TT, rec.TTSetting,
		rec.ET, rec.ETSetting, rec.ETTreatment, rec.ETRegimen,
		rec.Pathway, rec.Subtype,
	}
}

// rowColumns lists the characterization_rows columns in insert order.
var rowColumns = []string{
	"run_id", "position", "ben_idt_ano", "ben_nir_psa", "ben_rng_gem", "age", "date_diag",
	"nodal_status", "mastectomy", "partial_mastectomy", "surgery",
	"ct", "ct_setting", "ct_regimen",
	"rt", "rt_setting",
	"tt", "tt_setting",
	"et", "et_setting", "et_treatment", "et_regimen",
	"pathway", "bc_subtype",
}

// labelTargets returns scan destinations for the label columns, in rowLabels order.
func labelTargets(rec *report.Record) []interface{} {
	return []interface{}{
		&rec.NodalStatus, &rec.Mastectomy, &rec.PartialMastectomy, &rec.Surgery,
		&rec.CT, &rec.CTSetting, &rec.CTRegimen,
		&rec.RT, &rec.RTSetting,
		&rec.TT, &rec.TTSetting,
		&rec.ET, &rec.ETSetting, &rec.ETTreatment, &rec.ETRegimen,
		&rec.Pathway, &rec.Subtype,
	}
}
