package report

import (
	"math"
	"sort"
	"strconv"

	"github.com/montanaflynn/stats"

	"github.com/bc-pathway-engine/internal/domain"
)

// MarginLabel names the totals row and column of a crosstab.
const MarginLabel = "All"

// Age ranges used to stratify statistics, lower bound inclusive.
var AgeRanges = []string{"<50", "[50-60[", "[60-70[", ">=70"}

// StatColumns lists the label columns summarised in the general statistics, in report order.
var StatColumns = []string{
	"Pathway", "BC_SubType", "Nodal_Status", "Mastectomy", "Partial_Mastectomy",
	"CT", "CT_Setting", "CT_Regimen", "RT", "RT_Setting",
	"TT", "TT_Setting", "ET", "ET_Setting", "ET_Treatment", "ET_Regimen",
}

var columnValue = map[string]func(domain.PatientCharacterization) string{
	"Pathway":            func(r domain.PatientCharacterization) string { return r.Pathway.String() },
	"BC_SubType":         func(r domain.PatientCharacterization) string { return r.Subtype.String() },
	"Nodal_Status":       func(r domain.PatientCharacterization) string { return strconv.Itoa(r.NodalStatus) },
	"Mastectomy":         func(r domain.PatientCharacterization) string { return strconv.Itoa(r.Mastectomy) },
	"Partial_Mastectomy": func(r domain.PatientCharacterization) string { return strconv.Itoa(r.PartialMastectomy) },
	"CT":                 func(r domain.PatientCharacterization) string { return strconv.Itoa(r.CT) },
	"CT_Setting":         func(r domain.PatientCharacterization) string { return r.CTSetting.String() },
	"CT_Regimen":         func(r domain.PatientCharacterization) string { return r.CTRegimen.String() },
	"RT":                 func(r domain.PatientCharacterization) string { return strconv.Itoa(r.RT) },
	"RT_Setting":         func(r domain.PatientCharacterization) string { return r.RTSetting.String() },
	"TT":                 func(r domain.PatientCharacterization) string { return strconv.Itoa(r.TT) },
	"TT_Setting":         func(r domain.PatientCharacterization) string { return r.TTSetting.String() },
	"ET":                 func(r domain.PatientCharacterization) string { return strconv.Itoa(r.ET) },
	"ET_Setting":         func(r domain.PatientCharacterization) string { return r.ETSetting.String() },
	"ET_Treatment":       func(r domain.PatientCharacterization) string { return r.ETTreatment.String() },
	"ET_Regimen":         func(r domain.PatientCharacterization) string { return r.ETRegimen.String() },
}

// Distribution maps each value of a column to its share of the cohort, in percent.
type Distribution map[string]float64

// PathwayAgeColumns lists the columns broken down by pathway and age range together.
var PathwayAgeColumns = []string{
	"Nodal_Status", "Mastectomy", "Partial_Mastectomy", "CT_Regimen", "ET_Treatment", "ET_Regimen",
}

// Crosstab is a joint percentage table of one column against a stratifier, with totals.
// Pathway-and-age tables hold one pathway each: rows are age ranges, columns are the values
// of the column, and percentages are of every patient with a known age.
type Crosstab struct {
	Column  string                        `json:"column"`
	By      string                        `json:"by"`
	Pathway string                        `json:"pathway,omitempty"`
	Rows    []string                      `json:"rows"`
	Cols    []string                      `json:"cols"`
	Cells   map[string]map[string]float64 `json:"cells"`
}

// AgeSummary describes the ages at diagnosis of the patients where it is known.
type AgeSummary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
}

// Stats is the general statistical summary of a characterization table.
type Stats struct {
	Patients      int                     `json:"patients"`
	Distributions map[string]Distribution `json:"distributions"`
	Age           AgeSummary              `json:"age"`
}

// Stratifier selects what crosstabs are computed against.
type Stratifier string

const (
	ByAgeRange      Stratifier = "age"
	ByPathway       Stratifier = "pathway"
	ByPathwayAndAge Stratifier = "pathway_age"
)

// Valid reports whether the stratifier is known.
func (s Stratifier) Valid() bool {
	switch s {
	case ByAgeRange, ByPathway, ByPathwayAndAge:
		return true
	}
	return false
}

// Summarize computes value distributions for every label column and the age summary.
func Summarize(rows []domain.PatientCharacterization) Stats {
	out := Stats{
		Patients:      len(rows),
		Distributions: make(map[string]Distribution, len(StatColumns)),
		Age:           SummarizeAges(rows),
	}
	for _, col := range StatColumns {
		out.Distributions[col] = ValueCounts(rows, col)
	}
	return out
}

// ValueCounts returns the percentage of rows holding each value of a column.
func ValueCounts(rows []domain.PatientCharacterization, column string) Distribution {
	get, ok := columnValue[column]
	if !ok || len(rows) == 0 {
		return Distribution{}
	}
	counts := make(map[string]int)
	for _, r := range rows {
		counts[get(r)]++
	}
	dist := make(Distribution, len(counts))
	for v, n := range counts {
		dist[v] = percent(n, len(rows))
	}
	return dist
}

// AgeRange buckets an age at diagnosis. Negative ages have no range.
func AgeRange(age int64) (string, bool) {
	switch {
	case age < 0:
		return "", false
	case age < 50:
		return AgeRanges[0], true
	case age < 60:
		return AgeRanges[1], true
	case age < 70:
		return AgeRanges[2], true
	default:
		return AgeRanges[3], true
	}
}

// Crosstabs computes one crosstab per label column against the stratifier. Rows without a
// stratum, such as a null age, are left out.
func Crosstabs(rows []domain.PatientCharacterization, by Stratifier) []Crosstab {
	if by == ByPathwayAndAge {
		var tables []Crosstab
		for _, col := range PathwayAgeColumns {
			tables = append(tables, pathwayAgeCrosstabs(rows, col)...)
		}
		return tables
	}

	stratum := func(r domain.PatientCharacterization) (string, bool) {
		if by == ByPathway {
			return r.Pathway.String(), true
		}
		if !r.Age.Valid {
			return "", false
		}
		return AgeRange(r.Age.Int64)
	}

	var tables []Crosstab
	for _, col := range StatColumns {
		if by == ByPathway && col == "Pathway" {
			continue
		}
		tables = append(tables, crosstab(rows, col, string(by), stratum))
	}
	return tables
}

func crosstab(rows []domain.PatientCharacterization, column, by string, stratum func(domain.PatientCharacterization) (string, bool)) Crosstab {
	get := columnValue[column]
	counts := make(map[string]map[string]int)
	rowTotals := make(map[string]int)
	colTotals := make(map[string]int)
	total := 0

	for _, r := range rows {
		s, ok := stratum(r)
		if !ok {
			continue
		}
		v := get(r)
		if counts[v] == nil {
			counts[v] = make(map[string]int)
		}
		counts[v][s]++
		rowTotals[v]++
		colTotals[s]++
		total++
	}

	ct := Crosstab{
		Column: column,
		By:     by,
		Rows:   append(sortedLabels(rowTotals), MarginLabel),
		Cols:   append(sortedLabels(colTotals), MarginLabel),
		Cells:  make(map[string]map[string]float64),
	}
	for _, v := range ct.Rows {
		ct.Cells[v] = make(map[string]float64, len(ct.Cols))
		for _, s := range ct.Cols {
			var n int
			switch {
			case v == MarginLabel && s == MarginLabel:
				n = total
			case v == MarginLabel:
				n = colTotals[s]
			case s == MarginLabel:
				n = rowTotals[v]
			default:
				n = counts[v][s]
			}
			ct.Cells[v][s] = percent(n, total)
		}
	}
	return ct
}

// pathwayAgeCrosstabs splits the (pathway, age range) by value table of one column into one
// table per pathway, followed by the column totals under the pathway MarginLabel.
func pathwayAgeCrosstabs(rows []domain.PatientCharacterization, column string) []Crosstab {
	type stratum struct{ pathway, age string }

	get := columnValue[column]
	counts := make(map[stratum]map[string]int)
	stratumTotals := make(map[stratum]int)
	agesByPathway := make(map[string]map[string]int)
	pathwayTotals := make(map[string]int)
	valueTotals := make(map[string]int)
	total := 0

	for _, r := range rows {
		if !r.Age.Valid {
			continue
		}
		age, ok := AgeRange(r.Age.Int64)
		if !ok {
			continue
		}
		k := stratum{pathway: r.Pathway.String(), age: age}
		v := get(r)
		if counts[k] == nil {
			counts[k] = make(map[string]int)
		}
		if agesByPathway[k.pathway] == nil {
			agesByPathway[k.pathway] = make(map[string]int)
		}
		counts[k][v]++
		stratumTotals[k]++
		agesByPathway[k.pathway][age]++
		pathwayTotals[k.pathway]++
		valueTotals[v]++
		total++
	}
	if total == 0 {
		return nil
	}

	cols := append(sortedLabels(valueTotals), MarginLabel)
	var tables []Crosstab
	for _, p := range sortedLabels(pathwayTotals) {
		ct := Crosstab{
			Column:  column,
			By:      string(ByPathwayAndAge),
			Pathway: p,
			Rows:    sortedLabels(agesByPathway[p]),
			Cols:    cols,
			Cells:   make(map[string]map[string]float64),
		}
		for _, age := range ct.Rows {
			k := stratum{pathway: p, age: age}
			ct.Cells[age] = make(map[string]float64, len(cols))
			for _, v := range cols {
				if v == MarginLabel {
					ct.Cells[age][v] = percent(stratumTotals[k], total)
				} else {
					ct.Cells[age][v] = percent(counts[k][v], total)
				}
			}
		}
		tables = append(tables, ct)
	}

	margin := Crosstab{
		Column:  column,
		By:      string(ByPathwayAndAge),
		Pathway: MarginLabel,
		Rows:    []string{MarginLabel},
		Cols:    cols,
		Cells:   map[string]map[string]float64{MarginLabel: make(map[string]float64, len(cols))},
	}
	for _, v := range cols {
		if v == MarginLabel {
			margin.Cells[MarginLabel][v] = percent(total, total)
		} else {
			margin.Cells[MarginLabel][v] = percent(valueTotals[v], total)
		}
	}
	return append(tables, margin)
}

// SummarizeAges describes the known ages at diagnosis.
func SummarizeAges(rows []domain.PatientCharacterization) AgeSummary {
	var ages stats.Float64Data
	for _, r := range rows {
		if r.Age.Valid {
			ages = append(ages, float64(r.Age.Int64))
		}
	}
	if ages.Len() == 0 {
		return AgeSummary{}
	}

	return AgeSummary{
		Count:  ages.Len(),
		Mean:   measure(ages.Mean),
		Median: measure(ages.Median),
		StdDev: measure(ages.StandardDeviation),
		Min:    measure(ages.Min),
		Max:    measure(ages.Max),
		P25:    measure(func() (float64, error) { return ages.Percentile(25) }),
		P75:    measure(func() (float64, error) { return ages.Percentile(75) }),
	}
}

// measure rounds a statistic, reporting 0 when the sample is too small for it.
func measure(fn func() (float64, error)) float64 {
	v, err := fn()
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return round2(v)
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(n) / float64(total) * 100)
}

// round2 rounds half to even, as the published tables do.
func round2(x float64) float64 {
	return math.RoundToEven(x*100) / 100
}

// sortedLabels orders labels numerically when they are numbers, by age range order when they
// are age ranges, and alphabetically otherwise.
func sortedLabels(set map[string]int) []string {
	labels := make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	rank := func(l string) (int, bool) {
		for i, r := range AgeRanges {
			if l == r {
				return i, true
			}
		}
		n, err := strconv.Atoi(l)
		return n, err == nil
	}
	sort.Slice(labels, func(i, j int) bool {
		a, aok := rank(labels[i])
		b, bok := rank(labels[j])
		switch {
		case aok && bok:
			return a < b
		case aok != bok:
			return aok
		default:
			return labels[i] < labels[j]
		}
	})
	return labels
}
