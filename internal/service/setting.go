package service

import (
	"context"
	"time"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/vocabulary"
)

// ClassifySetting labels each patient's first treatment of the given code set relative to
// their first breast-cancer surgery.
func (e *Engine) ClassifySetting(ctx context.Context, treatment domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) (map[domain.PatientKey]domain.SettingLabel, error) {
	if err := validateCohort(cohort); err != nil {
		return nil, err
	}
	if err := treatment.Validate(); err != nil {
		return nil, err
	}
	surgeryCS, err := e.concept(vocabulary.Surgery)
	if err != nil {
		return nil, err
	}

	first, err := e.FirstDates(ctx, treatment, cohort, rng)
	if err != nil {
		return nil, err
	}
	surgery, err := e.FirstDates(ctx, surgeryCS, cohort, rng)
	if err != nil {
		return nil, err
	}

	out := make(map[domain.PatientKey]domain.SettingLabel, cohort.Len())
	for _, k := range cohort.Keys() {
		out[k] = SettingFor(first[k], surgery[k], e.noSurgeryLabel)
	}
	return out, nil
}

// SettingFor compares a first treatment date with the first surgery date. A treatment on
// the day of surgery counts as neoadjuvant.
func SettingFor(treatment, surgery *time.Time, noSurgeryLabel bool) domain.SettingLabel {
	switch {
	case treatment == nil:
		return domain.SettingNo
	case surgery == nil:
		if noSurgeryLabel {
			return domain.SettingNoSurgery
		}
		return domain.SettingNeoadjuvant
	case !treatment.After(*surgery):
		return domain.SettingNeoadjuvant
	default:
		return domain.SettingAdjuvant
	}
}
