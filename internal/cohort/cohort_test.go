package cohort

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bc-pathway-engine/internal/domain"
)

func TestParse_CommaSeparated(t *testing.T) {
	data := "BEN_IDT_ANO,BEN_NIR_PSA,BEN_RNG_GEM,COMMENT\nA,N1,1,first\nB,N2,2,\n"

	cohort, err := Parse([]byte(data))

	require.NoError(t, err)
	assert.Equal(t, []domain.PatientKey{
		{PatientID: "A", SecondaryID: "N1", Rank: 1},
		{PatientID: "B", SecondaryID: "N2", Rank: 2},
	}, cohort.Keys())
}

func TestParse_TabSeparatedWithBOM(t *testing.T) {
	data := "\xef\xbb\xbfBEN_NIR_PSA\tBEN_IDT_ANO\tBEN_RNG_GEM\nN1\tA\t1\n"

	cohort, err := Parse([]byte(data))

	require.NoError(t, err)
	require.Equal(t, 1, cohort.Len())
	assert.True(t, cohort.Contains(domain.PatientKey{PatientID: "A", SecondaryID: "N1", Rank: 1}))
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		message string
	}{
		{"empty file", "", "empty"},
		{"missing rank column", "BEN_IDT_ANO,BEN_NIR_PSA\nA,N1\n", "BEN_RNG_GEM"},
		{"missing every identity column", "ID\n1\n", "BEN_IDT_ANO, BEN_NIR_PSA, BEN_RNG_GEM"},
		{"blank identifier", "BEN_IDT_ANO,BEN_NIR_PSA,BEN_RNG_GEM\n ,N1,1\n", "required"},
		{"duplicate key", "BEN_IDT_ANO,BEN_NIR_PSA,BEN_RNG_GEM\nA,N1,1\nA,N1,1\n", "duplicate"},
		{"rank is not a number", "BEN_IDT_ANO,BEN_NIR_PSA,BEN_RNG_GEM\nA,N1,first\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidCohortSchema)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestLoadAndWrite_RoundTrip(t *testing.T) {
	original, err := domain.NewCohort(
		domain.PatientKey{PatientID: "A", SecondaryID: "N1", Rank: 1},
		domain.PatientKey{PatientID: "A", SecondaryID: "N1", Rank: 2},
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, original))
	assert.True(t, strings.HasPrefix(buf.String(), "BEN_IDT_ANO,BEN_NIR_PSA,BEN_RNG_GEM"))

	path := filepath.Join(t.TempDir(), "cohort.csv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, original.Identity(), loaded.Identity())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
