package domain

import (
	"strconv"
	"time"

	"gopkg.in/guregu/null.v3"
)

// SettingLabel is the temporal relation of a treatment's first occurrence to surgery.
type SettingLabel string

const (
	SettingNo          SettingLabel = "No"
	SettingNeoadjuvant SettingLabel = "Neoadjuvant"
	SettingAdjuvant    SettingLabel = "Adjuvant"
	// SettingNoSurgery is only emitted when the engine runs with the three-way setting option.
	SettingNoSurgery SettingLabel = "NoSurgery"
)

// IsValid validates the setting label
func (s SettingLabel) IsValid() bool {
	switch s {
	case SettingNo, SettingNeoadjuvant, SettingAdjuvant, SettingNoSurgery:
		return true
	default:
		return false
	}
}

// String returns the string representation of the setting.
func (s SettingLabel) String() string {
	return string(s)
}

// ChemoRegimen is the chemotherapy episode pattern.
type ChemoRegimen string

const (
	ChemoNo           ChemoRegimen = "No"
	ChemoOneTreatment ChemoRegimen = "OneTreatment"
	ChemoUnitherapy   ChemoRegimen = "Unitherapy"
	ChemoBitherapy    ChemoRegimen = "Bitherapy"
	ChemoUnknown      ChemoRegimen = "Unknown"
)

// IsValid validates the chemotherapy regimen
func (r ChemoRegimen) IsValid() bool {
	switch r {
	case ChemoNo, ChemoOneTreatment, ChemoUnitherapy, ChemoBitherapy, ChemoUnknown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the regimen.
func (r ChemoRegimen) String() string {
	return string(r)
}

// ETRegimen is the endocrine-therapy drug-class sequence.
type ETRegimen string

const (
	ETNoET                 ETRegimen = "NoET"
	ETTamoxifen            ETRegimen = "Tamoxifen"
	ETAI                   ETRegimen = "AI"
	ETTamoxifenWithAgonist ETRegimen = "TamoxifenWithAgonist"
	ETAIWithAgonist        ETRegimen = "AIWithAgonist"
	ETTamoxifenThenAI      ETRegimen = "TamoxifenThenAI"
	ETAIThenTamoxifen      ETRegimen = "AIThenTamoxifen"
	ETUnknown              ETRegimen = "Unknown"
)

// IsValid validates the endocrine-therapy regimen
func (r ETRegimen) IsValid() bool {
	switch r {
	case ETNoET, ETTamoxifen, ETAI, ETTamoxifenWithAgonist, ETAIWithAgonist,
		ETTamoxifenThenAI, ETAIThenTamoxifen, ETUnknown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the regimen.
func (r ETRegimen) String() string {
	return string(r)
}

// ETLine counts the endocrine-therapy lines implied by a regimen.
type ETLine string

const (
	ETLineNoET       ETLine = "NoET"
	ETLineUnitherapy ETLine = "Unitherapy"
	ETLineBitherapy  ETLine = "Bitherapy"
	ETLineUnknown    ETLine = "Unknown"
)

// String returns the string representation of the line.
func (l ETLine) String() string {
	return string(l)
}

// PathwayLabel is the therapeutic pathway number, 1 to 10. Zero means Unknown.
type PathwayLabel int

// PathwayUnknown is the label for combinations outside the pathway table.
const PathwayUnknown PathwayLabel = 0

// IsValid reports whether the label is within the pathway table or Unknown.
func (p PathwayLabel) IsValid() bool {
	return p >= 0 && p <= 10
}

// String renders the pathway number, or Unknown.
func (p PathwayLabel) String() string {
	if p == PathwayUnknown {
		return "Unknown"
	}
	return strconv.Itoa(int(p))
}

// SubtypeLabel is the tumor subtype inferred from the treatment pattern.
type SubtypeLabel string

const (
	SubtypeHER2    SubtypeLabel = "HER2"
	SubtypeLuminal SubtypeLabel = "Luminal"
	SubtypeTNBC    SubtypeLabel = "TNBC"
	SubtypeUnknown SubtypeLabel = "Unknown"
)

// IsValid validates the subtype label
func (s SubtypeLabel) IsValid() bool {
	switch s {
	case SubtypeHER2, SubtypeLuminal, SubtypeTNBC, SubtypeUnknown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the subtype.
func (s SubtypeLabel) String() string {
	return string(s)
}

// PatientCharacterization is the hand-off row joining every derived fact for one patient.
// Presence columns hold 0 or 1.
type PatientCharacterization struct {
	Key               PatientKey   `json:"key"`
	Age               null.Int     `json:"age"`
	DiagnosisDate     null.Time    `json:"date_diag"`
	NodalStatus       int          `json:"nodal_status"`
	Mastectomy        int          `json:"mastectomy"`
	PartialMastectomy int          `json:"partial_mastectomy"`
	Surgery           int          `json:"surgery"`
	CT                int          `json:"ct"`
	CTSetting         SettingLabel `json:"ct_setting"`
	CTRegimen         ChemoRegimen `json:"ct_regimen"`
	RT                int          `json:"rt"`
	RTSetting         SettingLabel `json:"rt_setting"`
	TT                int          `json:"tt"`
	TTSetting         SettingLabel `json:"tt_setting"`
	ET                int          `json:"et"`
	ETSetting         SettingLabel `json:"et_setting"`
	ETTreatment       ETRegimen    `json:"et_treatment"`
	ETRegimen         ETLine       `json:"et_regimen"`
	Pathway           PathwayLabel `json:"pathway"`
	Subtype           SubtypeLabel `json:"bc_subtype"`
}

// NewUnknownCharacterization returns a row with every label at its absent or unknown value.
func NewUnknownCharacterization(key PatientKey) PatientCharacterization {
	return PatientCharacterization{
		Key:         key,
		CTSetting:   SettingNo,
		CTRegimen:   ChemoUnknown,
		RTSetting:   SettingNo,
		TTSetting:   SettingNo,
		ETSetting:   SettingNo,
		ETTreatment: ETUnknown,
		ETRegimen:   ETLineUnknown,
		Pathway:     PathwayUnknown,
		Subtype:     SubtypeUnknown,
	}
}

// DiagnosisDatePtr returns the diagnosis date, or nil when unknown.
func (p PatientCharacterization) DiagnosisDatePtr() *time.Time {
	return p.DiagnosisDate.Ptr()
}

// LogFields returns structured logging fields for audit trails.
func (p PatientCharacterization) LogFields() map[string]any {
	return map[string]any{
		"patient":    p.Key.String(),
		"pathway":    p.Pathway.String(),
		"subtype":    p.Subtype.String(),
		"ct_regimen": p.CTRegimen.String(),
		"et_regimen": p.ETTreatment.String(),
	}
}

// Bool01 converts a presence flag to the 0/1 column encoding.
func Bool01(b bool) int {
	if b {
		return 1
	}
	return 0
}
