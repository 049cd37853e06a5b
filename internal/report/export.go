// Package report exports characterization tables and computes the cohort statistics
// published alongside them.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/gocarina/gocsv"
	"gopkg.in/guregu/null.v3"

	"github.com/bc-pathway-engine/internal/domain"
)

// Record is the flat hand-off row. Column names are part of the published schema; null
// values are written as empty cells.
type Record struct {
	PatientID         string `csv:"BEN_IDT_ANO"`
	SecondaryID       string `csv:"BEN_NIR_PSA"`
	Rank              int    `csv:"BEN_RNG_GEM"`
	Age               string `csv:"AGE"`
	DiagnosisDate     string `csv:"Date_Diag"`
	NodalStatus       int    `csv:"Nodal_Status"`
	Mastectomy        int    `csv:"Mastectomy"`
	PartialMastectomy int    `csv:"Partial_Mastectomy"`
	Surgery           int    `csv:"Surgery"`
	CT                int    `csv:"CT"`
	CTSetting         string `csv:"CT_Setting"`
	CTRegimen         string `csv:"CT_Regimen"`
	RT                int    `csv:"RT"`
	RTSetting         string `csv:"RT_Setting"`
	TT                int    `csv:"TT"`
	TTSetting         string `csv:"TT_Setting"`
	ET                int    `csv:"ET"`
	ETSetting         string `csv:"ET_Setting"`
	ETTreatment       string `csv:"ET_Treatment"`
	ETRegimen         string `csv:"ET_Regimen"`
	Pathway           string `csv:"Pathway"`
	Subtype           string `csv:"BC_SubType"`
}

// ToRecord flattens a characterization row.
func ToRecord(row domain.PatientCharacterization) Record {
	rec := Record{
		PatientID:         row.Key.PatientID,
		SecondaryID:       row.Key.SecondaryID,
		Rank:              row.Key.Rank,
		NodalStatus:       row.NodalStatus,
		Mastectomy:        row.Mastectomy,
		PartialMastectomy: row.PartialMastectomy,
		Surgery:           row.Surgery,
		CT:                row.CT,
		CTSetting:         row.CTSetting.String(),
		CTRegimen:         row.CTRegimen.String(),
		RT:                row.RT,
		RTSetting:         row.RTSetting.String(),
		TT:                row.TT,
		TTSetting:         row.TTSetting.String(),
		ET:                row.ET,
		ETSetting:         row.ETSetting.String(),
		ETTreatment:       row.ETTreatment.String(),
		ETRegimen:         row.ETRegimen.String(),
		Pathway:           row.Pathway.String(),
		Subtype:           row.Subtype.String(),
	}
	if row.Age.Valid {
		rec.Age = strconv.FormatInt(row.Age.Int64, 10)
	}
	if row.DiagnosisDate.Valid {
		rec.DiagnosisDate = row.DiagnosisDate.Time.Format(domain.DateLayout)
	}
	return rec
}

// FromRecord parses a flat row back into a characterization, validating every label.
func FromRecord(rec Record) (domain.PatientCharacterization, error) {
	row := domain.PatientCharacterization{
		Key:               domain.PatientKey{PatientID: rec.PatientID, SecondaryID: rec.SecondaryID, Rank: rec.Rank},
		NodalStatus:       rec.NodalStatus,
		Mastectomy:        rec.Mastectomy,
		PartialMastectomy: rec.PartialMastectomy,
		Surgery:           rec.Surgery,
		CT:                rec.CT,
		CTSetting:         domain.SettingLabel(rec.CTSetting),
		CTRegimen:         domain.ChemoRegimen(rec.CTRegimen),
		RT:                rec.RT,
		RTSetting:         domain.SettingLabel(rec.RTSetting),
		TT:                rec.TT,
		TTSetting:         domain.SettingLabel(rec.TTSetting),
		ET:                rec.ET,
		ETSetting:         domain.SettingLabel(rec.ETSetting),
		ETTreatment:       domain.ETRegimen(rec.ETTreatment),
		ETRegimen:         domain.ETLine(rec.ETRegimen),
		Subtype:           domain.SubtypeLabel(rec.Subtype),
	}

	if s := strings.TrimSpace(rec.Age); s != "" {
		age, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return row, domain.NewValidationError("AGE", "must be an integer", rec.Age)
		}
		row.Age = null.IntFrom(age)
	}
	if s := strings.TrimSpace(rec.DiagnosisDate); s != "" {
		d, err := dateparse.ParseAny(s)
		if err != nil {
			return row, domain.NewValidationError("Date_Diag", "unparseable date", rec.DiagnosisDate)
		}
		row.DiagnosisDate = null.TimeFrom(domain.Day(d))
	}

	pathway, err := parsePathway(rec.Pathway)
	if err != nil {
		return row, err
	}
	row.Pathway = pathway

	for field, ok := range map[string]bool{
		"CT_Setting":   row.CTSetting.IsValid(),
		"RT_Setting":   row.RTSetting.IsValid(),
		"TT_Setting":   row.TTSetting.IsValid(),
		"ET_Setting":   row.ETSetting.IsValid(),
		"CT_Regimen":   row.CTRegimen.IsValid(),
		"ET_Treatment": row.ETTreatment.IsValid(),
		"BC_SubType":   row.Subtype.IsValid(),
	} {
		if !ok {
			return row, domain.NewValidationError(field, "unknown label", nil)
		}
	}
	return row, nil
}

func parsePathway(s string) (domain.PathwayLabel, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, domain.PathwayUnknown.String()) {
		return domain.PathwayUnknown, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || !domain.PathwayLabel(n).IsValid() {
		return domain.PathwayUnknown, domain.NewValidationError("Pathway", "must be 1 to 10 or Unknown", s)
	}
	return domain.PathwayLabel(n), nil
}

// WriteCSV writes the rows as CSV with the hand-off column names.
func WriteCSV(w io.Writer, rows []domain.PatientCharacterization) error {
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = ToRecord(row)
	}
	if err := gocsv.Marshal(&records, w); err != nil {
		return fmt.Errorf("failed to write characterization CSV: %w", err)
	}
	return nil
}

// ReadCSV parses a characterization CSV written by WriteCSV.
func ReadCSV(r io.Reader) ([]domain.PatientCharacterization, error) {
	var records []Record
	if err := gocsv.Unmarshal(r, &records); err != nil {
		return nil, fmt.Errorf("failed to read characterization CSV: %w", err)
	}
	rows := make([]domain.PatientCharacterization, 0, len(records))
	for i, rec := range records {
		row, err := FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteJSON writes the rows as an indented JSON array.
func WriteJSON(w io.Writer, rows []domain.PatientCharacterization) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if rows == nil {
		rows = []domain.PatientCharacterization{}
	}
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("failed to write characterization JSON: %w", err)
	}
	return nil
}

// ReadJSON parses rows written by WriteJSON.
func ReadJSON(r io.Reader) ([]domain.PatientCharacterization, error) {
	var rows []domain.PatientCharacterization
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to read characterization JSON: %w", err)
	}
	return rows, nil
}
