package mcp

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/recordstore"
	"github.com/bc-pathway-engine/internal/results"
	"github.com/bc-pathway-engine/internal/service"
	"github.com/bc-pathway-engine/internal/vocabulary"
)

var keyA = domain.PatientKey{PatientID: "A", SecondaryID: "N1", Rank: 1}

func newTestServer(t *testing.T, withStore bool) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	vocab, err := vocabulary.Default()
	require.NoError(t, err)

	store := recordstore.NewMemoryStore()
	biopsy := time.Date(2020, 2, 10, 0, 0, 0, 0, time.UTC)
	store.Add(
		domain.MedicalEvent{Key: keyA, Type: domain.PROCEDURE, Code: "QEHJ001", Date: biopsy},
		domain.MedicalEvent{Key: keyA, Type: domain.PROCEDURE, Code: "QEFA001", Date: biopsy.AddDate(0, 1, 0)},
	)
	characterizer := service.NewCharacterizer(service.NewEngine(store, vocab, logger, service.WithWorkers(2)))

	var rs results.Store
	if withStore {
		sqlite, err := results.NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
		require.NoError(t, err)
		rs = sqlite
	}
	s := NewServer(domain.MCPConfig{}, characterizer, rs, logger)
	t.Cleanup(func() { s.Close() })
	return s
}

// payload decodes the JSON block of a successful tool result.
func payload(t *testing.T, res *mcp.CallToolResult, v interface{}) {
	t.Helper()
	require.NotNil(t, res)
	require.False(t, res.IsError, text(res))
	require.Len(t, res.Content, 2)
	block, ok := res.Content[1].(*mcp.TextContent)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(block.Text), v))
}

func text(res *mcp.CallToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(*mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func TestCharacterizeCohort(t *testing.T) {
	s := newTestServer(t, true)
	ctx := context.Background()

	res, _, err := s.handleCharacterizeCohort(ctx, nil, CharacterizeCohortParams{
		Patients: []domain.PatientKey{keyA},
		Start:    "2020-01-01",
		End:      "2020-12-31",
		Save:     true,
	})
	require.NoError(t, err)

	var out CharacterizeCohortResult
	payload(t, res, &out)
	assert.True(t, out.Saved)
	assert.Equal(t, "2020-01-01..2020-12-31", out.Range)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, 1, out.Rows[0].PartialMastectomy)
	assert.Equal(t, 1, out.Stats.Patients)

	run, err := s.store.GetRun(ctx, out.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.CohortSize)
}

func TestCharacterizeCohort_Errors(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name   string
		params CharacterizeCohortParams
		want   string
	}{
		{"duplicate patients", CharacterizeCohortParams{Patients: []domain.PatientKey{keyA, keyA}, Start: "2020-01-01", End: "2020-12-31"}, "characterize_cohort failed"},
		{"reversed range", CharacterizeCohortParams{Patients: []domain.PatientKey{keyA}, Start: "2021-01-01", End: "2020-01-01"}, "characterize_cohort failed"},
		{"save without store", CharacterizeCohortParams{Patients: []domain.PatientKey{keyA}, Start: "2020-01-01", End: "2020-12-31", Save: true}, "results store is disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := s.handleCharacterizeCohort(context.Background(), nil, tt.params)

			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, text(res), tt.want)
		})
	}
}

func TestClassifyChemoRegimen(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name  string
		dates []string
		want  domain.ChemoRegimen
	}{
		{"none", nil, domain.ChemoNo},
		{"single day twice", []string{"2020-01-01", "2020-01-01T10:00:00Z"}, domain.ChemoOneTreatment},
		{"weekly", []string{"2020-01-01", "2020-01-08", "2020-01-15"}, domain.ChemoUnitherapy},
		{"two fortnights then three-weekly", []string{"2020-01-01", "2020-01-15", "2020-01-29", "2020-02-19"}, domain.ChemoBitherapy},
		{"irregular", []string{"2020-01-01", "2020-03-01"}, domain.ChemoUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := s.handleClassifyChemoRegimen(context.Background(), nil, ClassifyChemoRegimenParams{Dates: tt.dates})
			require.NoError(t, err)

			var out ClassifyChemoRegimenResult
			payload(t, res, &out)
			assert.Equal(t, tt.want, out.Regimen)
		})
	}

	res, _, err := s.handleClassifyChemoRegimen(context.Background(), nil, ClassifyChemoRegimenParams{Dates: []string{"next tuesday"}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestClassifyPathway(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name    string
		params  ClassifyPathwayParams
		pathway domain.PathwayLabel
		subtype domain.SubtypeLabel
	}{
		{"surgery only", ClassifyPathwayParams{}, 1, domain.SubtypeUnknown},
		{"radiotherapy and endocrine", ClassifyPathwayParams{RT: 1, ET: 1}, 4, domain.SubtypeLuminal},
		{"adjuvant chemo and targeted", ClassifyPathwayParams{CT: 1, CTSetting: "Adjuvant", RT: 1, TT: 1, TTSetting: "Adjuvant", ET: 1}, 8, domain.SubtypeHER2},
		{"neoadjuvant chemo", ClassifyPathwayParams{CT: 1, CTSetting: "Neoadjuvant", RT: 1}, 6, domain.SubtypeTNBC},
		{"outside table", ClassifyPathwayParams{CT: 1, CTSetting: "Adjuvant"}, domain.PathwayUnknown, domain.SubtypeTNBC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := s.handleClassifyPathway(context.Background(), nil, tt.params)
			require.NoError(t, err)

			var out ClassifyPathwayResult
			payload(t, res, &out)
			assert.Equal(t, tt.pathway, out.Pathway)
			assert.Equal(t, tt.subtype, out.Subtype)
		})
	}
}

func TestClassifyPathway_InvalidFlags(t *testing.T) {
	s := newTestServer(t, false)

	for name, params := range map[string]ClassifyPathwayParams{
		"flag out of range":  {RT: 2},
		"missing ct setting": {CT: 1},
		"bad tt setting":     {TT: 1, TTSetting: "Sometimes"},
	} {
		t.Run(name, func(t *testing.T) {
			res, _, err := s.handleClassifyPathway(context.Background(), nil, params)
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestLookupConcept(t *testing.T) {
	s := newTestServer(t, false)
	ctx := context.Background()

	res, _, err := s.handleLookupConcept(ctx, nil, LookupConceptParams{Name: "Surgery_BC.Mastectomy"})
	require.NoError(t, err)
	var out LookupConceptResult
	payload(t, res, &out)
	assert.Equal(t, "2024.1", out.Version)
	require.NotNil(t, out.Concept)
	assert.Contains(t, out.Concept.Codes["CCAM"], "QEFA003")

	res, _, err = s.handleLookupConcept(ctx, nil, LookupConceptParams{})
	require.NoError(t, err)
	out = LookupConceptResult{}
	payload(t, res, &out)
	assert.Contains(t, out.Concepts, vocabulary.AllBCCodes)
	assert.Nil(t, out.Concept)

	res, _, err = s.handleLookupConcept(ctx, nil, LookupConceptParams{Name: "Nope"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
