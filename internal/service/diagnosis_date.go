package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/vocabulary"
)

// diagnosisStage resolves diagnosis dates from one concept's event dates. The fallback
// stage has no concept and resolves to the first treatment date.
type diagnosisStage struct {
	name    string
	concept string
	pick    func(dates []time.Time, treat time.Time) *time.Time
}

// diagnosisStages is the cascade, in priority order. A patient resolved by a stage is never
// revisited by a later one.
var diagnosisStages = []diagnosisStage{
	{name: "biopsy", concept: vocabulary.BreastCoreBiopsy, pick: WindowDiagnosisDate},
	{name: "cytology", concept: vocabulary.Cytology, pick: WindowDiagnosisDate},
	{name: "imaging", concept: vocabulary.BreastImaging, pick: ImagingDiagnosisDate},
	{name: "first_treatment"},
}

// InferDiagnosisDate returns the diagnosis date of every cohort patient, nil when the patient
// has no breast-cancer treatment in range.
func (e *Engine) InferDiagnosisDate(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange) (map[domain.PatientKey]*time.Time, error) {
	if err := validateCohort(cohort); err != nil {
		return nil, err
	}
	allBC, err := e.concept(vocabulary.AllBCCodes)
	if err != nil {
		return nil, err
	}
	treat, err := e.FirstDates(ctx, allBC, cohort, rng)
	if err != nil {
		return nil, err
	}

	arena := make(map[domain.PatientKey]*time.Time, cohort.Len())
	resolved := make(map[domain.PatientKey]bool, cohort.Len())
	for _, k := range cohort.Keys() {
		arena[k] = nil
	}

	for _, stage := range diagnosisStages {
		var pending []domain.PatientKey
		for _, k := range cohort.Keys() {
			if !resolved[k] && treat[k] != nil {
				pending = append(pending, k)
			}
		}
		if len(pending) == 0 {
			e.logger.WithField("stage", stage.name).Debug("No unresolved patient, skipping diagnosis stage")
			continue
		}

		count := 0
		if stage.concept == "" {
			for _, k := range pending {
				d := *treat[k]
				arena[k] = &d
				resolved[k] = true
				count++
			}
		} else {
			cs, err := e.concept(stage.concept)
			if err != nil {
				return nil, err
			}
			dates, err := e.EventDates(ctx, cs, cohort.Subset(pending), rng)
			if err != nil {
				return nil, err
			}
			for _, k := range pending {
				if d := stage.pick(dates[k], *treat[k]); d != nil {
					arena[k] = d
					resolved[k] = true
					count++
				}
			}
		}

		e.logger.WithFields(logrus.Fields{
			"stage":    stage.name,
			"pending":  len(pending),
			"resolved": count,
		}).Debug("Diagnosis stage completed")
	}

	return arena, nil
}

// WindowDiagnosisDate returns the earliest date strictly within the year preceding the
// first treatment, or nil.
func WindowDiagnosisDate(dates []time.Time, treat time.Time) *time.Time {
	lower := SubtractYears(treat, 1)
	var best *time.Time
	for _, d := range dates {
		if !d.After(lower) || !d.Before(treat) {
			continue
		}
		if best == nil || d.Before(*best) {
			d := d
			best = &d
		}
	}
	return best
}

// ImagingDiagnosisDate walks back from the last imaging exam before the first treatment and
// keeps extending while consecutive exams are less than a calendar month apart. It returns
// the start of that cluster, or nil when no exam precedes the treatment.
func ImagingDiagnosisDate(dates []time.Time, treat time.Time) *time.Time {
	var before []time.Time
	for _, d := range dates {
		if d.Before(treat) {
			before = append(before, d)
		}
	}
	if len(before) == 0 {
		return nil
	}
	sortDates(before)

	cur := before[len(before)-1]
	for i := len(before) - 2; i >= 0; i-- {
		if !before[i].After(SubtractMonths(cur, 1)) {
			break
		}
		cur = before[i]
	}
	return &cur
}

// SubtractMonths moves a date back by calendar months, clamping the day to the end of the
// target month (March 31 minus one month is February 28 or 29).
func SubtractMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	idx := y*12 + int(m) - 1 - months
	ny, nm := idx/12, time.Month(idx%12+1)
	if last := time.Date(ny, nm+1, 0, 0, 0, 0, 0, t.Location()).Day(); d > last {
		d = last
	}
	return time.Date(ny, nm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// SubtractYears moves a date back by calendar years, clamping February 29.
func SubtractYears(t time.Time, years int) time.Time {
	return SubtractMonths(t, 12*years)
}
