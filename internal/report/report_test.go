package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/bc-pathway-engine/internal/domain"
)

func characterization(id string, age int64, pathway domain.PathwayLabel) domain.PatientCharacterization {
	row := domain.NewUnknownCharacterization(domain.PatientKey{PatientID: id, SecondaryID: "N" + id, Rank: 1})
	if age >= 0 {
		row.Age = null.IntFrom(age)
	}
	row.Pathway = pathway
	row.CTRegimen = domain.ChemoNo
	row.ETTreatment = domain.ETNoET
	row.ETRegimen = domain.ETLineNoET
	return row
}

func fixtureRows() []domain.PatientCharacterization {
	a := characterization("A", 45, 2)
	a.ET, a.ETSetting, a.ETTreatment, a.ETRegimen = 1, domain.SettingAdjuvant, domain.ETTamoxifen, domain.ETLineUnitherapy
	a.Subtype = domain.SubtypeLuminal
	a.DiagnosisDate = null.TimeFrom(time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC))

	b := characterization("B", 55, 1)
	c := characterization("C", -1, 1)

	d := characterization("D", 72, 6)
	d.CT, d.CTSetting, d.CTRegimen = 1, domain.SettingNeoadjuvant, domain.ChemoOneTreatment
	d.RT, d.RTSetting = 1, domain.SettingAdjuvant
	d.Mastectomy, d.Surgery, d.NodalStatus = 1, 1, 1
	d.Subtype = domain.SubtypeTNBC

	return []domain.PatientCharacterization{a, b, c, d}
}

func TestCSV_RoundTrip(t *testing.T) {
	rows := fixtureRows()
	var buf bytes.Buffer

	require.NoError(t, WriteCSV(&buf, rows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t,
		"BEN_IDT_ANO,BEN_NIR_PSA,BEN_RNG_GEM,AGE,Date_Diag,Nodal_Status,Mastectomy,Partial_Mastectomy,Surgery,"+
			"CT,CT_Setting,CT_Regimen,RT,RT_Setting,TT,TT_Setting,ET,ET_Setting,ET_Treatment,ET_Regimen,Pathway,BC_SubType",
		lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "A,NA,1,45,2020-03-01,"))
	assert.True(t, strings.HasPrefix(lines[3], "C,NC,1,,,"), "null age and date are empty cells")

	parsed, err := ReadCSV(&buf)

	require.NoError(t, err)
	assert.Equal(t, rows, parsed)
}

func TestJSON_RoundTrip(t *testing.T) {
	rows := fixtureRows()
	var buf bytes.Buffer

	require.NoError(t, WriteJSON(&buf, rows))
	assert.Contains(t, buf.String(), `"age": null`)

	parsed, err := ReadJSON(&buf)

	require.NoError(t, err)
	assert.Equal(t, rows, parsed)
}

func TestFromRecord_RejectsUnknownLabels(t *testing.T) {
	rec := ToRecord(fixtureRows()[0])

	bad := rec
	bad.CTSetting = "Perioperative"
	_, err := FromRecord(bad)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "CT_Setting", verr.Field)

	bad = rec
	bad.Pathway = "11"
	_, err = FromRecord(bad)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Pathway", verr.Field)

	bad = rec
	bad.Age = "forty"
	_, err = FromRecord(bad)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "AGE", verr.Field)

	bad = rec
	bad.Pathway = "Unknown"
	row, err := FromRecord(bad)
	require.NoError(t, err)
	assert.Equal(t, domain.PathwayUnknown, row.Pathway)
}

func TestValueCounts(t *testing.T) {
	rows := fixtureRows()

	assert.Equal(t, Distribution{"1": 50, "2": 25, "6": 25}, ValueCounts(rows, "Pathway"))
	assert.Equal(t, Distribution{"0": 75, "1": 25}, ValueCounts(rows, "CT"))
	assert.Equal(t, Distribution{"Unknown": 50, "Luminal": 25, "TNBC": 25}, ValueCounts(rows, "BC_SubType"))
	assert.Empty(t, ValueCounts(nil, "CT"))
	assert.Empty(t, ValueCounts(rows, "NotAColumn"))
}

func TestValueCounts_RoundsToTwoDecimals(t *testing.T) {
	rows := fixtureRows()[:3]

	dist := ValueCounts(rows, "Pathway")

	assert.Equal(t, 66.67, dist["1"])
	assert.Equal(t, 33.33, dist["2"])
}

func TestAgeRange(t *testing.T) {
	cases := map[int64]string{0: "<50", 49: "<50", 50: "[50-60[", 59: "[50-60[", 60: "[60-70[", 69: "[60-70[", 70: ">=70", 95: ">=70"}
	for age, want := range cases {
		got, ok := AgeRange(age)
		assert.True(t, ok)
		assert.Equal(t, want, got, "age %d", age)
	}
	_, ok := AgeRange(-1)
	assert.False(t, ok)
}

func TestCrosstabs_ByAgeRange(t *testing.T) {
	tables := Crosstabs(fixtureRows(), ByAgeRange)

	require.Len(t, tables, len(StatColumns))
	pathway := tables[0]
	assert.Equal(t, "Pathway", pathway.Column)
	assert.Equal(t, []string{"1", "2", "6", MarginLabel}, pathway.Rows)
	assert.Equal(t, []string{"<50", "[50-60[", ">=70", MarginLabel}, pathway.Cols)

	// the patient without age is left out, so three patients remain
	assert.Equal(t, 33.33, pathway.Cells["1"]["[50-60["])
	assert.Equal(t, 0.0, pathway.Cells["1"]["<50"])
	assert.Equal(t, 33.33, pathway.Cells["2"][MarginLabel])
	assert.Equal(t, 33.33, pathway.Cells[MarginLabel][">=70"])
	assert.Equal(t, 100.0, pathway.Cells[MarginLabel][MarginLabel])
}

func TestCrosstabs_ByPathway(t *testing.T) {
	tables := Crosstabs(fixtureRows(), ByPathway)

	require.Len(t, tables, len(StatColumns)-1)
	for _, table := range tables {
		assert.NotEqual(t, "Pathway", table.Column)
		assert.Equal(t, "pathway", table.By)
	}

	subtype := tables[0]
	assert.Equal(t, "BC_SubType", subtype.Column)
	assert.Equal(t, []string{"1", "2", "6", MarginLabel}, subtype.Cols)
	assert.Equal(t, 50.0, subtype.Cells["Unknown"]["1"])
	assert.Equal(t, 100.0, subtype.Cells[MarginLabel][MarginLabel])
}

func TestCrosstabs_ByPathwayAndAge(t *testing.T) {
	tables := Crosstabs(fixtureRows(), ByPathwayAndAge)

	// three pathways plus the totals table for each column
	require.Len(t, tables, len(PathwayAgeColumns)*4)
	var mastectomy []Crosstab
	for _, table := range tables {
		assert.Equal(t, "pathway_age", table.By)
		if table.Column == "Mastectomy" {
			mastectomy = append(mastectomy, table)
		}
	}
	require.Len(t, mastectomy, 4)
	assert.Equal(t, []string{"1", "2", "6", MarginLabel},
		[]string{mastectomy[0].Pathway, mastectomy[1].Pathway, mastectomy[2].Pathway, mastectomy[3].Pathway})

	// the patient without age is left out; shares are of the three remaining patients
	one := mastectomy[0]
	assert.Equal(t, []string{"[50-60["}, one.Rows)
	assert.Equal(t, []string{"0", "1", MarginLabel}, one.Cols)
	assert.Equal(t, 33.33, one.Cells["[50-60["]["0"])
	assert.Equal(t, 0.0, one.Cells["[50-60["]["1"])
	assert.Equal(t, 33.33, one.Cells["[50-60["][MarginLabel])

	six := mastectomy[2]
	assert.Equal(t, []string{">=70"}, six.Rows)
	assert.Equal(t, 33.33, six.Cells[">=70"]["1"])

	totals := mastectomy[3]
	assert.Equal(t, []string{MarginLabel}, totals.Rows)
	assert.Equal(t, 66.67, totals.Cells[MarginLabel]["0"])
	assert.Equal(t, 33.33, totals.Cells[MarginLabel]["1"])
	assert.Equal(t, 100.0, totals.Cells[MarginLabel][MarginLabel])
}

func TestCrosstabs_ByPathwayAndAgeWithoutAges(t *testing.T) {
	rows := fixtureRows()[2:3]

	assert.Empty(t, Crosstabs(rows, ByPathwayAndAge))
}

func TestStratifier_Valid(t *testing.T) {
	assert.True(t, ByAgeRange.Valid())
	assert.True(t, ByPathway.Valid())
	assert.True(t, ByPathwayAndAge.Valid())
	assert.False(t, Stratifier("gender").Valid())
}

func TestSummarize(t *testing.T) {
	s := Summarize(fixtureRows())

	assert.Equal(t, 4, s.Patients)
	assert.Len(t, s.Distributions, len(StatColumns))
	assert.Equal(t, 3, s.Age.Count)
	assert.Equal(t, 57.33, s.Age.Mean)
	assert.Equal(t, 55.0, s.Age.Median)
	assert.Equal(t, 45.0, s.Age.Min)
	assert.Equal(t, 72.0, s.Age.Max)
}

func TestSummarizeAges_Empty(t *testing.T) {
	assert.Equal(t, AgeSummary{}, SummarizeAges(nil))
}
