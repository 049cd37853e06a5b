package service

import (
	"context"
	"sort"
	"time"

	"gopkg.in/guregu/null.v3"

	"github.com/bc-pathway-engine/internal/domain"
)

// AgeAtDiagnosis returns each patient's recorded age on their diagnosis date. Ages are null
// when the diagnosis date is unknown, no claim or stay matches it, or no age source is set.
func (e *Engine) AgeAtDiagnosis(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange, diagnosis map[domain.PatientKey]*time.Time) (map[domain.PatientKey]null.Int, error) {
	if err := validateCohort(cohort); err != nil {
		return nil, err
	}
	out := make(map[domain.PatientKey]null.Int, cohort.Len())
	for _, k := range cohort.Keys() {
		out[k] = null.Int{}
	}
	if e.ages == nil {
		e.logger.Debug("No age source configured, ages left null")
		return out, nil
	}

	obs, err := e.ages.FetchAges(ctx, cohort, rng)
	if err != nil {
		return nil, storeFailure("age", err)
	}
	for k, age := range AgesOn(obs, diagnosis) {
		if _, ok := out[k]; ok {
			out[k] = age
		}
	}
	return out, nil
}

// AgesOn picks, per patient, the age observed on the given date. When several observations
// share that date the lowest age wins.
func AgesOn(obs []domain.AgeObservation, dates map[domain.PatientKey]*time.Time) map[domain.PatientKey]null.Int {
	sorted := make([]domain.AgeObservation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Age < sorted[j].Age })

	out := make(map[domain.PatientKey]null.Int)
	for _, o := range sorted {
		d := dates[o.Key]
		if d == nil || !domain.Day(o.Date).Equal(domain.Day(*d)) {
			continue
		}
		if _, done := out[o.Key]; done {
			continue
		}
		out[o.Key] = null.IntFrom(int64(o.Age))
	}
	return out
}
