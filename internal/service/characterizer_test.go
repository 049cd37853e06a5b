package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/recordstore"
)

// scenarioStore holds three patients: A on tamoxifen only, B without any record, C with a
// single chemotherapy session before mastectomy and radiotherapy.
func scenarioStore() *recordstore.MemoryStore {
	store := recordstore.NewMemoryStore()
	store.Add(
		dispensed(keyA, codeTamoxifen, day(2020, 3, 1)),
		dispensed(keyA, codeTamoxifen, day(2020, 6, 1)),

		proc(keyC, codeBiopsy, day(2020, 3, 15)),
		proc(keyC, codeCTSession, day(2020, 4, 1)),
		proc(keyC, codeMastectomy, day(2020, 5, 1)),
		proc(keyC, codeRT, day(2020, 6, 1)),
		diag(keyC, codeNodalStatus, day(2020, 5, 1)),
	)
	store.AddAges(
		domain.AgeObservation{Key: keyA, Date: day(2020, 3, 1), Age: 48},
		domain.AgeObservation{Key: keyA, Date: day(2020, 6, 1), Age: 49},
		domain.AgeObservation{Key: keyC, Date: day(2020, 3, 15), Age: 61},
	)
	return store
}

func TestCharacterizer_ThreePatientScenario(t *testing.T) {
	engine := newTestEngine(t, scenarioStore(), WithWorkers(4))
	cohort := testCohort(t, keyA, keyB, keyC)

	// Act
	result, err := NewCharacterizer(engine).Build(context.Background(), cohort, studyRange(t))

	// Assert
	require.NoError(t, err)
	require.NoError(t, result.Err())
	require.Len(t, result.Rows, 3)
	assert.NotEmpty(t, result.RunID)

	a, b, c := result.Rows[0], result.Rows[1], result.Rows[2]
	assert.Equal(t, []domain.PatientKey{keyA, keyB, keyC}, []domain.PatientKey{a.Key, b.Key, c.Key})

	assert.Equal(t, null.IntFrom(48), a.Age)
	assert.Equal(t, null.TimeFrom(day(2020, 3, 1)), a.DiagnosisDate)
	assert.Equal(t, 1, a.ET)
	assert.Equal(t, domain.SettingNeoadjuvant, a.ETSetting)
	assert.Equal(t, domain.ETTamoxifen, a.ETTreatment)
	assert.Equal(t, domain.ETLineUnitherapy, a.ETRegimen)
	assert.Equal(t, domain.ChemoNo, a.CTRegimen)
	assert.Equal(t, domain.PathwayLabel(2), a.Pathway)
	assert.Equal(t, domain.SubtypeLuminal, a.Subtype)

	assert.False(t, b.Age.Valid)
	assert.False(t, b.DiagnosisDate.Valid)
	assert.Equal(t, 0, b.CT+b.RT+b.TT+b.ET+b.Surgery)
	assert.Equal(t, domain.SettingNo, b.CTSetting)
	assert.Equal(t, domain.ChemoNo, b.CTRegimen)
	assert.Equal(t, domain.ETNoET, b.ETTreatment)
	assert.Equal(t, domain.ETLineNoET, b.ETRegimen)
	assert.Equal(t, domain.PathwayLabel(1), b.Pathway)
	assert.Equal(t, domain.SubtypeUnknown, b.Subtype)

	assert.Equal(t, null.IntFrom(61), c.Age)
	assert.Equal(t, null.TimeFrom(day(2020, 3, 15)), c.DiagnosisDate)
	assert.Equal(t, 1, c.NodalStatus)
	assert.Equal(t, 1, c.Mastectomy)
	assert.Equal(t, 0, c.PartialMastectomy)
	assert.Equal(t, 1, c.Surgery)
	assert.Equal(t, domain.ChemoOneTreatment, c.CTRegimen)
	assert.Equal(t, domain.SettingNeoadjuvant, c.CTSetting)
	assert.Equal(t, domain.SettingAdjuvant, c.RTSetting)
	assert.Equal(t, domain.PathwayLabel(6), c.Pathway)
	assert.Equal(t, domain.SubtypeTNBC, c.Subtype)
}

func TestCharacterizer_Idempotent(t *testing.T) {
	engine := newTestEngine(t, scenarioStore())
	characterizer := NewCharacterizer(engine)
	cohort := testCohort(t, keyA, keyB, keyC)
	ctx := context.Background()

	first, err := characterizer.Build(ctx, cohort, studyRange(t))
	require.NoError(t, err)
	second, err := characterizer.Build(ctx, cohort, studyRange(t))
	require.NoError(t, err)

	assert.Equal(t, first.Rows, second.Rows)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestCharacterizer_FailingClassifierKeepsRows(t *testing.T) {
	cause := errors.New("pharmacy table unavailable")
	store := scenarioStore()
	store.FailOn(domain.DRUG_DISPENSED, cause)
	engine := newTestEngine(t, store)
	cohort := testCohort(t, keyA, keyB, keyC)

	// Act
	result, err := NewCharacterizer(engine).Build(context.Background(), cohort, studyRange(t))

	// Assert
	require.NoError(t, err)
	require.Len(t, result.Rows, 3, "rows are never dropped")
	for _, column := range []string{ColumnET, ColumnETTreatment, ColumnCT, ColumnCTRegimen, ColumnDiagnosis} {
		require.Contains(t, result.Failures, column)
		assert.ErrorIs(t, result.Failures[column], domain.ErrRecordStoreFailure)
	}
	assert.NotContains(t, result.Failures, ColumnRT)
	assert.NotContains(t, result.Failures, ColumnMastectomy)
	assert.Error(t, result.Err())

	c := result.Rows[2]
	assert.Equal(t, 1, c.RT)
	assert.Equal(t, 1, c.Mastectomy)
	assert.Equal(t, domain.ETUnknown, c.ETTreatment)
	assert.Equal(t, domain.ETLineUnknown, c.ETRegimen)
	assert.Equal(t, domain.ChemoUnknown, c.CTRegimen)
	assert.Equal(t, domain.PathwayUnknown, c.Pathway)
	assert.Equal(t, domain.SubtypeUnknown, c.Subtype)
	assert.False(t, c.DiagnosisDate.Valid)
}

func TestCharacterizer_DrugClassOnlyEndocrineTherapy(t *testing.T) {
	store := recordstore.NewMemoryStore()
	store.Add(domain.MedicalEvent{Key: keyA, Type: domain.DRUG_CLASS, Code: "L02BA01", Date: day(2020, 3, 1)})
	engine := newTestEngine(t, store)

	result, err := NewCharacterizer(engine).Build(context.Background(), testCohort(t, keyA, keyB), studyRange(t))

	require.NoError(t, err)
	require.NoError(t, result.Err())
	a, b := result.Rows[0], result.Rows[1]
	assert.Equal(t, 1, a.ET)
	assert.Equal(t, domain.ETUnknown, a.ETTreatment, "ET present must never read as NoET")
	assert.Equal(t, domain.ETLineUnknown, a.ETRegimen)

	assert.Equal(t, 0, b.ET)
	assert.Equal(t, domain.ETNoET, b.ETTreatment)
	assert.Equal(t, domain.ETLineNoET, b.ETRegimen)
}

type failingAges struct{ err error }

func (f failingAges) FetchAges(context.Context, *domain.Cohort, domain.DateRange) ([]domain.AgeObservation, error) {
	return nil, f.err
}

func TestCharacterizer_AgeSourceFailure(t *testing.T) {
	engine := newTestEngine(t, scenarioStore(), WithAgeSource(failingAges{err: errors.New("stays table locked")}))

	result, err := NewCharacterizer(engine).Build(context.Background(), testCohort(t, keyA, keyC), studyRange(t))

	require.NoError(t, err)
	require.Contains(t, result.Failures, ColumnAge)
	assert.ErrorIs(t, result.Failures[ColumnAge], domain.ErrRecordStoreFailure)
	assert.Len(t, result.Failures, 1)
	for _, row := range result.Rows {
		assert.False(t, row.Age.Valid)
		assert.True(t, row.DiagnosisDate.Valid)
	}
}

func TestCharacterizer_RejectsInvalidInput(t *testing.T) {
	characterizer := NewCharacterizer(newTestEngine(t, scenarioStore()))

	_, err := characterizer.Build(context.Background(), nil, studyRange(t))
	assert.ErrorIs(t, err, domain.ErrInvalidCohortSchema)

	_, err = characterizer.Build(context.Background(), testCohort(t, keyA), domain.DateRange{})
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
}

func TestAgesOn(t *testing.T) {
	diagnosis := map[domain.PatientKey]*time.Time{
		keyA: ptr(day(2020, 3, 1)),
		keyB: nil,
	}
	obs := []domain.AgeObservation{
		{Key: keyA, Date: day(2020, 3, 1), Age: 55},
		{Key: keyA, Date: day(2020, 3, 1), Age: 54},
		{Key: keyA, Date: day(2020, 4, 1), Age: 40},
		{Key: keyB, Date: day(2020, 3, 1), Age: 70},
	}

	got := AgesOn(obs, diagnosis)

	assert.Equal(t, map[domain.PatientKey]null.Int{keyA: null.IntFrom(54)}, got)
}

func TestAgeAtDiagnosis_WithoutSource(t *testing.T) {
	engine := newTestEngine(t, recordstore.NewMemoryStore(), WithAgeSource(nil))
	cohort := testCohort(t, keyA)

	got, err := engine.AgeAtDiagnosis(context.Background(), cohort, studyRange(t), map[domain.PatientKey]*time.Time{keyA: ptr(day(2020, 1, 1))})

	require.NoError(t, err)
	assert.False(t, got[keyA].Valid)
}
