package recordstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bc-pathway-engine/internal/domain"
)

var (
	keyA = domain.PatientKey{PatientID: "A", SecondaryID: "N1", Rank: 1}
	keyB = domain.PatientKey{PatientID: "B", SecondaryID: "N2", Rank: 1}
	keyC = domain.PatientKey{PatientID: "C", SecondaryID: "N3", Rank: 1}
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func year2020(t *testing.T) domain.DateRange {
	t.Helper()
	rng, err := domain.NewDateRange(day(2020, 1, 1), day(2020, 12, 31))
	require.NoError(t, err)
	return rng
}

func testCohort(t *testing.T, keys ...domain.PatientKey) *domain.Cohort {
	t.Helper()
	c, err := domain.NewCohort(keys...)
	require.NoError(t, err)
	return c
}

func TestMemoryStore_FetchEvents(t *testing.T) {
	store := NewMemoryStore()
	store.Add(
		domain.MedicalEvent{Key: keyB, Type: domain.PROCEDURE, Code: "QEFA003", Date: day(2020, 5, 1)},
		domain.MedicalEvent{Key: keyA, Type: domain.PROCEDURE, Code: "QEFA003", Date: day(2020, 3, 1)},
		domain.MedicalEvent{Key: keyA, Type: domain.PROCEDURE, Code: "QEFA003", Date: day(2020, 3, 1)},
		domain.MedicalEvent{Key: keyA, Type: domain.DIAGNOSIS, Code: "QEFA003", Date: day(2020, 3, 2)},
		domain.MedicalEvent{Key: keyA, Type: domain.PROCEDURE, Code: "QEFA003", Date: day(2021, 1, 1)},
		domain.MedicalEvent{Key: keyC, Type: domain.PROCEDURE, Code: "QEFA003", Date: day(2020, 6, 1)},
	)

	// Act
	events, err := store.FetchEvents(context.Background(), domain.Procedures("QEFA003"), testCohort(t, keyA, keyB), year2020(t))

	// Assert
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, keyA, events[0].Key)
	assert.Equal(t, day(2020, 3, 1), events[0].Date)
	assert.Equal(t, keyB, events[1].Key)

	queries := store.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, 2, queries[0].CohortSize)
}

func TestMemoryStore_NilCohortMeansNoFilter(t *testing.T) {
	store := NewMemoryStore()
	store.Add(
		domain.MedicalEvent{Key: keyA, Type: domain.DIAGNOSIS, Code: "C773", Date: day(2020, 3, 1)},
		domain.MedicalEvent{Key: keyC, Type: domain.DIAGNOSIS, Code: "C773", Date: day(2020, 4, 1)},
	)

	events, err := store.FetchEvents(context.Background(), domain.Diagnoses("C773"), nil, year2020(t))

	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, -1, store.Queries()[0].CohortSize)
}

func TestMemoryStore_Validation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.FetchEvents(ctx, domain.CodeSet{}, nil, year2020(t))
	assert.ErrorIs(t, err, domain.ErrInvalidCodeSet)

	_, err = store.FetchEvents(ctx, domain.Diagnoses("C773"), nil, domain.DateRange{})
	assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
}

func TestMemoryStore_FailOn(t *testing.T) {
	store := NewMemoryStore()
	boom := errors.New("warehouse offline")
	store.FailOn(domain.DRUG_ADMINISTERED, boom)

	_, err := store.FetchEvents(context.Background(), domain.DrugsAdministered("3400894027936"), nil, year2020(t))
	assert.ErrorIs(t, err, boom)

	_, err = store.FetchEvents(context.Background(), domain.Diagnoses("C773"), nil, year2020(t))
	assert.NoError(t, err)
}

func TestMemoryStore_FetchAges(t *testing.T) {
	store := NewMemoryStore()
	store.AddAges(
		domain.AgeObservation{Key: keyA, Date: day(2020, 3, 1), Age: 54},
		domain.AgeObservation{Key: keyB, Date: day(2020, 3, 1), Age: 61},
		domain.AgeObservation{Key: keyA, Date: day(2019, 3, 1), Age: 53},
	)

	obs, err := store.FetchAges(context.Background(), testCohort(t, keyA), year2020(t))

	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 54, obs[0].Age)
}
