package service

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bc-pathway-engine/internal/domain"
)

// Events queries the store once per code type present in the set and merges the results.
// Events recorded in several source tables for the same code and date are kept once.
func (e *Engine) Events(ctx context.Context, cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) ([]domain.MedicalEvent, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if cohort != nil && cohort.Len() == 0 {
		return nil, nil
	}

	type eventKey struct {
		key  domain.PatientKey
		code string
		date time.Time
	}
	seen := make(map[eventKey]bool)
	var merged []domain.MedicalEvent

	for _, t := range cs.Types() {
		events, err := e.store.FetchEvents(ctx, cs.Only(t), cohort, rng)
		if err != nil {
			return nil, storeFailure(t.String(), err)
		}
		for _, ev := range events {
			ev.Date = domain.Day(ev.Date)
			k := eventKey{key: ev.Key, code: ev.Code, date: ev.Date}
			if seen[k] {
				continue
			}
			seen[k] = true
			merged = append(merged, ev)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"code_set": cs.Identity(),
		"types":    len(cs.Types()),
		"events":   len(merged),
	}).Debug("Merged events across code types")
	return merged, nil
}

// EventDates returns, for every cohort patient, the sorted distinct dates of events in the
// code set. Patients without events map to an empty slice.
func (e *Engine) EventDates(ctx context.Context, cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) (map[domain.PatientKey][]time.Time, error) {
	if err := validateCohort(cohort); err != nil {
		return nil, err
	}
	events, err := e.Events(ctx, cs, cohort, rng)
	if err != nil {
		return nil, err
	}
	return DatesByPatient(cohort, events), nil
}

// HadEvent reports, for every cohort patient, whether any event of the set occurred in range.
func (e *Engine) HadEvent(ctx context.Context, cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) (map[domain.PatientKey]bool, error) {
	dates, err := e.EventDates(ctx, cs, cohort, rng)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.PatientKey]bool, len(dates))
	for k, d := range dates {
		out[k] = len(d) > 0
	}
	return out, nil
}

// FirstDates returns the earliest event date per cohort patient, nil when there is none.
func (e *Engine) FirstDates(ctx context.Context, cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) (map[domain.PatientKey]*time.Time, error) {
	dates, err := e.EventDates(ctx, cs, cohort, rng)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.PatientKey]*time.Time, len(dates))
	for k, d := range dates {
		out[k] = FirstDate(d)
	}
	return out, nil
}

// TreatmentRecords returns presence, first date and date history per cohort patient.
func (e *Engine) TreatmentRecords(ctx context.Context, cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) (map[domain.PatientKey]domain.TreatmentRecord, error) {
	dates, err := e.EventDates(ctx, cs, cohort, rng)
	if err != nil {
		return nil, err
	}
	out := make(map[domain.PatientKey]domain.TreatmentRecord, len(dates))
	for k, d := range dates {
		out[k] = domain.TreatmentRecord{Present: len(d) > 0, FirstDate: FirstDate(d), Dates: d}
	}
	return out, nil
}

// DatesByPatient groups event dates per cohort patient, deduplicated by (patient, date) and
// sorted ascending. Every cohort key is present in the result; events for other patients
// are ignored.
func DatesByPatient(cohort *domain.Cohort, events []domain.MedicalEvent) map[domain.PatientKey][]time.Time {
	out := make(map[domain.PatientKey][]time.Time, cohort.Len())
	for _, k := range cohort.Keys() {
		out[k] = []time.Time{}
	}

	seen := make(map[domain.PatientKey]map[time.Time]bool)
	for _, ev := range events {
		if _, ok := out[ev.Key]; !ok {
			continue
		}
		d := domain.Day(ev.Date)
		if seen[ev.Key] == nil {
			seen[ev.Key] = make(map[time.Time]bool)
		}
		if seen[ev.Key][d] {
			continue
		}
		seen[ev.Key][d] = true
		out[ev.Key] = append(out[ev.Key], d)
	}

	for k := range out {
		sortDates(out[k])
	}
	return out
}

// FirstDate returns the minimum of the dates, or nil when empty.
func FirstDate(dates []time.Time) *time.Time {
	if len(dates) == 0 {
		return nil
	}
	first := dates[0]
	for _, d := range dates[1:] {
		if d.Before(first) {
			first = d
		}
	}
	return &first
}

func sortDates(dates []time.Time) {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
}
