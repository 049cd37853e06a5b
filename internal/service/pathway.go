package service

import "github.com/bc-pathway-engine/internal/domain"

// pathwayRule is one row of the therapeutic pathway table. Radiotherapy and endocrine
// therapy are matched on presence; chemotherapy and targeted therapy on their setting,
// with No standing for absence.
type pathwayRule struct {
	pathway domain.PathwayLabel
	ct      domain.SettingLabel
	rt      int
	tt      domain.SettingLabel
	et      int
}

var pathwayTable = []pathwayRule{
	{1, domain.SettingNo, 0, domain.SettingNo, 0},
	{2, domain.SettingNo, 0, domain.SettingNo, 1},
	{3, domain.SettingNo, 1, domain.SettingNo, 0},
	{4, domain.SettingNo, 1, domain.SettingNo, 1},
	{5, domain.SettingNeoadjuvant, 1, domain.SettingNo, 1},
	{6, domain.SettingNeoadjuvant, 1, domain.SettingNo, 0},
	{7, domain.SettingNeoadjuvant, 1, domain.SettingNeoadjuvant, 1},
	{8, domain.SettingAdjuvant, 1, domain.SettingAdjuvant, 1},
	{9, domain.SettingAdjuvant, 1, domain.SettingNo, 0},
	{10, domain.SettingAdjuvant, 1, domain.SettingNo, 1},
}

// Pathway returns the therapeutic pathway of a row, or PathwayUnknown when the combination
// is outside the table.
func Pathway(row domain.PatientCharacterization) domain.PathwayLabel {
	ct := settingOrNo(row.CT, row.CTSetting)
	tt := settingOrNo(row.TT, row.TTSetting)
	for _, rule := range pathwayTable {
		if rule.ct == ct && rule.rt == row.RT && rule.tt == tt && rule.et == row.ET {
			return rule.pathway
		}
	}
	return domain.PathwayUnknown
}

func settingOrNo(present int, setting domain.SettingLabel) domain.SettingLabel {
	if present == 0 {
		return domain.SettingNo
	}
	return setting
}

// Subtype infers the tumor subtype from the treatments received.
func Subtype(row domain.PatientCharacterization) domain.SubtypeLabel {
	switch {
	case row.TT == 1:
		return domain.SubtypeHER2
	case row.ET == 1:
		return domain.SubtypeLuminal
	case row.CT == 1:
		return domain.SubtypeTNBC
	default:
		return domain.SubtypeUnknown
	}
}
