package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bc-pathway-engine/internal/cohort"
	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/report"
	"github.com/bc-pathway-engine/internal/results"
	"github.com/bc-pathway-engine/internal/service"
)

// CharacterizeCohortParams defines parameters for the characterize_cohort tool
type CharacterizeCohortParams struct {
	Patients []domain.PatientKey `json:"patients" jsonschema:"the cohort members"`
	Start    string              `json:"start" jsonschema:"first day of the study period"`
	End      string              `json:"end" jsonschema:"last day of the study period"`
	Save     bool                `json:"save,omitempty" jsonschema:"persist the run in the results store"`
}

// CharacterizeCohortResult defines the result structure for the characterize_cohort tool
type CharacterizeCohortResult struct {
	RunID    string                           `json:"run_id"`
	Range    string                           `json:"range"`
	Saved    bool                             `json:"saved"`
	Failures []string                         `json:"failures,omitempty"`
	Stats    report.Stats                     `json:"stats"`
	Rows     []domain.PatientCharacterization `json:"rows"`
}

func (s *Server) handleCharacterizeCohort(ctx context.Context, req *mcp.CallToolRequest, params CharacterizeCohortParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolCharacterizeCohort).Info("Tool invoked")

	members, err := domain.NewCohort(params.Patients...)
	if err != nil {
		return s.createErrorResult(ToolCharacterizeCohort, err), nil, nil
	}
	rng, err := cohort.ParseRange(params.Start, params.End)
	if err != nil {
		return s.createErrorResult(ToolCharacterizeCohort, err), nil, nil
	}

	res, err := s.characterizer.Build(ctx, members, rng)
	if err != nil {
		return s.createErrorResult(ToolCharacterizeCohort, err), nil, nil
	}

	run := results.RunFromResult(res)
	out := CharacterizeCohortResult{
		RunID:    res.RunID,
		Range:    rng.String(),
		Failures: run.FailedColumns(),
		Stats:    report.Summarize(res.Rows),
		Rows:     res.Rows,
	}
	if params.Save {
		if s.store == nil {
			return s.createErrorResult(ToolCharacterizeCohort, fmt.Errorf("results store is disabled")), nil, nil
		}
		if err := s.store.Save(ctx, run, res.Rows); err != nil {
			return s.createErrorResult(ToolCharacterizeCohort, err), nil, nil
		}
		out.Saved = true
	}

	result, err := jsonResult(fmt.Sprintf("Characterized %d patients over %s (run %s)", len(res.Rows), out.Range, res.RunID), out)
	return result, nil, err
}

// ClassifyChemoRegimenParams defines parameters for the classify_chemo_regimen tool
type ClassifyChemoRegimenParams struct {
	Dates []string `json:"dates" jsonschema:"chemotherapy administration dates"`
}

// ClassifyChemoRegimenResult defines the result structure for the classify_chemo_regimen tool
type ClassifyChemoRegimenResult struct {
	Regimen domain.ChemoRegimen `json:"regimen"`
	Diffs   []int               `json:"diffs"`
}

func (s *Server) handleClassifyChemoRegimen(ctx context.Context, req *mcp.CallToolRequest, params ClassifyChemoRegimenParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolClassifyChemoRegimen).Info("Tool invoked")

	dates := make([]time.Time, 0, len(params.Dates))
	for _, raw := range params.Dates {
		d, err := cohort.ParseDate(raw)
		if err != nil {
			return s.createErrorResult(ToolClassifyChemoRegimen, err), nil, nil
		}
		dates = append(dates, d)
	}

	out := ClassifyChemoRegimenResult{
		Regimen: service.ChemoRegimenFromDates(dates),
		Diffs:   service.CycleDiffs(dates),
	}
	result, err := jsonResult("Chemotherapy regimen: "+out.Regimen.String(), out)
	return result, nil, err
}

// ClassifyPathwayParams defines parameters for the classify_pathway tool. A setting is only
// read when the matching treatment is present.
type ClassifyPathwayParams struct {
	CT        int    `json:"ct" jsonschema:"1 when chemotherapy was received"`
	CTSetting string `json:"ct_setting,omitempty" jsonschema:"Neoadjuvant or Adjuvant"`
	RT        int    `json:"rt" jsonschema:"1 when radiotherapy was received"`
	TT        int    `json:"tt" jsonschema:"1 when targeted therapy was received"`
	TTSetting string `json:"tt_setting,omitempty" jsonschema:"Neoadjuvant or Adjuvant"`
	ET        int    `json:"et" jsonschema:"1 when endocrine therapy was received"`
}

// ClassifyPathwayResult defines the result structure for the classify_pathway tool
type ClassifyPathwayResult struct {
	Pathway domain.PathwayLabel `json:"pathway"`
	Label   string              `json:"label"`
	Subtype domain.SubtypeLabel `json:"bc_subtype"`
}

func (s *Server) handleClassifyPathway(ctx context.Context, req *mcp.CallToolRequest, params ClassifyPathwayParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolClassifyPathway).Info("Tool invoked")

	row := domain.NewUnknownCharacterization(domain.PatientKey{})
	flags := []struct {
		name  string
		value int
		dst   *int
	}{
		{"ct", params.CT, &row.CT},
		{"rt", params.RT, &row.RT},
		{"tt", params.TT, &row.TT},
		{"et", params.ET, &row.ET},
	}
	for _, f := range flags {
		if f.value != 0 && f.value != 1 {
			return s.createErrorResult(ToolClassifyPathway, domain.NewValidationError(f.name, "must be 0 or 1", f.value)), nil, nil
		}
		*f.dst = f.value
	}

	var err error
	if row.CTSetting, err = presentSetting("ct_setting", row.CT, params.CTSetting); err != nil {
		return s.createErrorResult(ToolClassifyPathway, err), nil, nil
	}
	if row.TTSetting, err = presentSetting("tt_setting", row.TT, params.TTSetting); err != nil {
		return s.createErrorResult(ToolClassifyPathway, err), nil, nil
	}

	out := ClassifyPathwayResult{
		Pathway: service.Pathway(row),
		Subtype: service.Subtype(row),
	}
	out.Label = out.Pathway.String()
	result, err := jsonResult(fmt.Sprintf("Pathway %s, subtype %s", out.Label, out.Subtype), out)
	return result, nil, err
}

func presentSetting(field string, present int, raw string) (domain.SettingLabel, error) {
	if present == 0 {
		return domain.SettingNo, nil
	}
	setting := domain.SettingLabel(raw)
	if setting != domain.SettingNeoadjuvant && setting != domain.SettingAdjuvant {
		return "", domain.NewValidationError(field, "must be Neoadjuvant or Adjuvant when the treatment is present", raw)
	}
	return setting, nil
}

// LookupConceptParams defines parameters for the lookup_concept tool. An empty name lists
// every concept.
type LookupConceptParams struct {
	Name string `json:"name,omitempty" jsonschema:"concept name such as Surgery_BC.Mastectomy"`
}

// ConceptResult describes one resolved concept.
type ConceptResult struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Codes       map[string][]string `json:"codes"`
}

// LookupConceptResult defines the result structure for the lookup_concept tool
type LookupConceptResult struct {
	Version  string         `json:"version"`
	Concept  *ConceptResult `json:"concept,omitempty"`
	Concepts []string       `json:"concepts,omitempty"`
}

func (s *Server) handleLookupConcept(ctx context.Context, req *mcp.CallToolRequest, params LookupConceptParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", ToolLookupConcept).Info("Tool invoked")

	vocab := s.characterizer.Engine().Vocabulary()
	out := LookupConceptResult{Version: vocab.Version()}

	if params.Name == "" {
		out.Concepts = vocab.Names()
		result, err := jsonResult(fmt.Sprintf("%d concepts in vocabulary %s", len(out.Concepts), out.Version), out)
		return result, nil, err
	}

	concept, ok := vocab.Lookup(params.Name)
	if !ok {
		return s.createErrorResult(ToolLookupConcept, domain.NewValidationError("name", "unknown concept", params.Name)), nil, nil
	}
	cr := &ConceptResult{Name: concept.Name, Description: concept.Description, Codes: map[string][]string{}}
	for _, t := range concept.Codes.Types() {
		cr.Codes[t.SourceVocabulary()] = concept.Codes.Codes(t)
	}
	out.Concept = cr

	result, err := jsonResult(fmt.Sprintf("Concept %s (%s)", concept.Name, concept.Description), out)
	return result, nil, err
}
