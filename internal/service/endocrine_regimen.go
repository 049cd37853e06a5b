package service

import (
	"context"
	"sort"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/vocabulary"
)

// ClassifyETRegimen labels each patient's endocrine-therapy drug sequence from their
// pharmacy dispensations. Patients are read over every code of the endocrine-therapy
// concept so that NoET agrees with the ET presence column.
func (e *Engine) ClassifyETRegimen(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange) (map[domain.PatientKey]domain.ETRegimen, error) {
	if err := validateCohort(cohort); err != nil {
		return nil, err
	}
	cs, err := e.concept(vocabulary.EndocrineTherapy)
	if err != nil {
		return nil, err
	}
	events, err := e.Events(ctx, cs, cohort, rng)
	if err != nil {
		return nil, err
	}
	classes := e.vocab.ETClasses()

	byPatient := make(map[domain.PatientKey][]domain.MedicalEvent, cohort.Len())
	for _, ev := range events {
		byPatient[ev.Key] = append(byPatient[ev.Key], ev)
	}

	out := make(map[domain.PatientKey]domain.ETRegimen, cohort.Len())
	for _, k := range cohort.Keys() {
		out[k] = ETRegimenFromEvents(byPatient[k], classes)
	}
	return out, nil
}

// ETRegimenFromEvents classifies one patient's endocrine-therapy events. A patient without
// any event is NoET. The class rules read only CIP13 dispensations, ordered by date then
// code; a patient with other events but no dispensation is Unknown.
func ETRegimenFromEvents(events []domain.MedicalEvent, classes vocabulary.ETClasses) domain.ETRegimen {
	if len(events) == 0 {
		return domain.ETNoET
	}
	dispensed := make([]domain.MedicalEvent, 0, len(events))
	for _, ev := range events {
		if ev.Type == domain.DRUG_DISPENSED {
			dispensed = append(dispensed, ev)
		}
	}
	if len(dispensed) == 0 {
		return domain.ETUnknown
	}
	sort.SliceStable(dispensed, func(i, j int) bool {
		if !dispensed[i].Date.Equal(dispensed[j].Date) {
			return dispensed[i].Date.Before(dispensed[j].Date)
		}
		return dispensed[i].Code < dispensed[j].Code
	})

	allOf := func(match func(string) bool) bool {
		for _, ev := range dispensed {
			if !match(ev.Code) {
				return false
			}
		}
		return true
	}
	anyOf := func(match func(string) bool) bool {
		for _, ev := range dispensed {
			if match(ev.Code) {
				return true
			}
		}
		return false
	}

	switch {
	case allOf(classes.IsTamoxifen):
		return domain.ETTamoxifen
	case allOf(classes.IsAI):
		return domain.ETAI
	case allOf(func(c string) bool { return classes.IsTamoxifen(c) || classes.IsGnRH(c) }):
		return domain.ETTamoxifenWithAgonist
	case allOf(func(c string) bool { return classes.IsAI(c) || classes.IsGnRH(c) }):
		return domain.ETAIWithAgonist
	case anyOf(classes.IsTamoxifen) && anyOf(classes.IsAI):
		return sequenceRegimen(dispensed, classes)
	default:
		return domain.ETUnknown
	}
}

// sequenceRegimen reads the order of the first two distinct drugs dispensed.
func sequenceRegimen(dispensed []domain.MedicalEvent, classes vocabulary.ETClasses) domain.ETRegimen {
	seen := make(map[string]bool)
	var order []string
	for _, ev := range dispensed {
		if seen[ev.Code] {
			continue
		}
		seen[ev.Code] = true
		order = append(order, ev.Code)
		if len(order) == 2 {
			break
		}
	}
	if len(order) < 2 {
		return domain.ETUnknown
	}
	switch {
	case classes.IsTamoxifen(order[0]) && classes.IsAI(order[1]):
		return domain.ETTamoxifenThenAI
	case classes.IsAI(order[0]) && classes.IsTamoxifen(order[1]):
		return domain.ETAIThenTamoxifen
	default:
		return domain.ETUnknown
	}
}

// ETLineFor maps a regimen to the number of endocrine-therapy lines it implies.
func ETLineFor(r domain.ETRegimen) domain.ETLine {
	switch r {
	case domain.ETNoET:
		return domain.ETLineNoET
	case domain.ETTamoxifen, domain.ETAI:
		return domain.ETLineUnitherapy
	case domain.ETTamoxifenWithAgonist, domain.ETAIWithAgonist,
		domain.ETTamoxifenThenAI, domain.ETAIThenTamoxifen:
		return domain.ETLineBitherapy
	default:
		return domain.ETLineUnknown
	}
}
