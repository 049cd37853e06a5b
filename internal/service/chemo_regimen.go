package service

import (
	"context"
	"time"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/vocabulary"
)

// ClassifyChemoRegimen labels each patient's chemotherapy pattern from the spacing of their
// chemotherapy dates, across every code type of the concept.
func (e *Engine) ClassifyChemoRegimen(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange) (map[domain.PatientKey]domain.ChemoRegimen, error) {
	cs, err := e.concept(vocabulary.Chemotherapy)
	if err != nil {
		return nil, err
	}
	dates, err := e.EventDates(ctx, cs, cohort, rng)
	if err != nil {
		return nil, err
	}

	out := make(map[domain.PatientKey]domain.ChemoRegimen, len(dates))
	for k, d := range dates {
		out[k] = ChemoRegimenFromDates(d)
	}
	return out, nil
}

// RoundCycleDiff snaps a gap in days to the weekly, fortnightly or three-weekly cycle it is
// within one day of. Other gaps are returned unchanged.
func RoundCycleDiff(days int) int {
	switch days {
	case 6, 7, 8:
		return 7
	case 13, 14, 15:
		return 14
	case 20, 21, 22:
		return 21
	default:
		return days
	}
}

// CycleDiffs returns the rounded, non-zero day gaps between consecutive distinct dates.
func CycleDiffs(dates []time.Time) []int {
	distinct := distinctDays(dates)
	diffs := make([]int, 0, len(distinct))
	for i := 1; i < len(distinct); i++ {
		gap := RoundCycleDiff(int(distinct[i].Sub(distinct[i-1]).Hours() / 24))
		if gap != 0 {
			diffs = append(diffs, gap)
		}
	}
	return diffs
}

// ChemoRegimenFromDates classifies a chemotherapy date history.
func ChemoRegimenFromDates(dates []time.Time) domain.ChemoRegimen {
	switch len(distinctDays(dates)) {
	case 0:
		return domain.ChemoNo
	case 1:
		return domain.ChemoOneTreatment
	}
	return ChemoRegimenFromDiffs(CycleDiffs(dates))
}

// ChemoRegimenFromDiffs classifies already rounded day gaps. Weekly gaps only give
// Unitherapy. Two fortnightly gaps followed only by weekly or three-weekly gaps give
// Bitherapy.
func ChemoRegimenFromDiffs(diffs []int) domain.ChemoRegimen {
	if len(diffs) == 0 {
		return domain.ChemoUnknown
	}

	weekly := true
	for _, d := range diffs {
		if d != 7 {
			weekly = false
			break
		}
	}
	if weekly {
		return domain.ChemoUnitherapy
	}

	fortnights := 0
	for _, d := range diffs {
		if fortnights == 2 && d != 7 && d != 21 {
			return domain.ChemoUnknown
		}
		if d == 14 && fortnights < 2 {
			fortnights++
		}
	}
	if fortnights == 2 {
		return domain.ChemoBitherapy
	}
	return domain.ChemoUnknown
}

func distinctDays(dates []time.Time) []time.Time {
	seen := make(map[time.Time]bool, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = domain.Day(d)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sortDates(out)
	return out
}
