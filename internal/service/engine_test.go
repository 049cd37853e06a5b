package service

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/recordstore"
	"github.com/bc-pathway-engine/internal/vocabulary"
)

// Codes from the embedded vocabulary.
const (
	codeBiopsy      = "QEHJ001"
	codeCytology    = "QEHB002"
	codeImaging     = "QEQK001"
	codeMastectomy  = "QEFA003"
	codePartial     = "QEFA001"
	codeCTSession   = "ZZLF900"
	codeCTStay      = "Z511"
	codeCTDrug      = "3400891996128"
	codeRT          = "ZZNL045"
	codeTT          = "3400894027936"
	codeTamoxifen   = "3400932738316"
	codeTamoxifen2  = "3400933264791"
	codeAI          = "3400934998427"
	codeGnRH        = "3400934456323"
	codeNodalStatus = "C773"
)

var (
	keyA = domain.PatientKey{PatientID: "A", SecondaryID: "N1", Rank: 1}
	keyB = domain.PatientKey{PatientID: "B", SecondaryID: "N2", Rank: 1}
	keyC = domain.PatientKey{PatientID: "C", SecondaryID: "N3", Rank: 1}
	keyD = domain.PatientKey{PatientID: "D", SecondaryID: "N4", Rank: 1}
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func studyRange(t *testing.T) domain.DateRange {
	t.Helper()
	rng, err := domain.NewDateRange(day(2019, 1, 1), day(2021, 12, 31))
	require.NoError(t, err)
	return rng
}

func testCohort(t *testing.T, keys ...domain.PatientKey) *domain.Cohort {
	t.Helper()
	c, err := domain.NewCohort(keys...)
	require.NoError(t, err)
	return c
}

func testVocabulary(t *testing.T) *vocabulary.Vocabulary {
	t.Helper()
	v, err := vocabulary.Default()
	require.NoError(t, err)
	return v
}

func newTestEngine(t *testing.T, store domain.RecordStore, opts ...Option) *Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewEngine(store, testVocabulary(t), logger, opts...)
}

func proc(k domain.PatientKey, code string, d time.Time) domain.MedicalEvent {
	return domain.MedicalEvent{Key: k, Type: domain.PROCEDURE, Code: code, Date: d}
}

func diag(k domain.PatientKey, code string, d time.Time) domain.MedicalEvent {
	return domain.MedicalEvent{Key: k, Type: domain.DIAGNOSIS, Code: code, Date: d}
}

func dispensed(k domain.PatientKey, code string, d time.Time) domain.MedicalEvent {
	return domain.MedicalEvent{Key: k, Type: domain.DRUG_DISPENSED, Code: code, Date: d}
}

func administered(k domain.PatientKey, code string, d time.Time) domain.MedicalEvent {
	return domain.MedicalEvent{Key: k, Type: domain.DRUG_ADMINISTERED, Code: code, Date: d}
}

// queriesFor returns the store calls made for a concept.
func queriesFor(t *testing.T, store *recordstore.MemoryStore, concept string) []recordstore.Query {
	t.Helper()
	identity := testVocabulary(t).MustConcept(concept).Identity()
	var out []recordstore.Query
	for _, q := range store.Queries() {
		if q.CodeSet == identity {
			out = append(out, q)
		}
	}
	return out
}
