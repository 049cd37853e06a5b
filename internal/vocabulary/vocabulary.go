// Package vocabulary maps breast-cancer clinical concept names to typed code sets.
//
// The default vocabulary is embedded in the binary. A YAML file with the same layout can
// replace it at startup. Once loaded, a Vocabulary is read-only and safe for concurrent use.
package vocabulary

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bc-pathway-engine/internal/domain"
)

// Concept names used by the engine.
const (
	AllBCCodes        = "All_BC_Codes"
	BreastCoreBiopsy  = "Diag_Proc.Breast_core_biopsy"
	Cytology          = "Diag_Proc.Fine_needle_aspiration_cytology"
	BreastImaging     = "Diag_Proc.Breast_Imaging_Procedures.All"
	Surgery           = "Surgery_BC.Surgery"
	Mastectomy        = "Surgery_BC.Mastectomy"
	PartialMastectomy = "Surgery_BC.Partial_Mastectomy"
	Chemotherapy      = "CT"
	Radiotherapy      = "RT"
	TargetedTherapy   = "TT.Pertuzumab"
	EndocrineTherapy  = "ET.All"
	Tamoxifen         = "ET.Tamoxifen"
	AromataseInhibit  = "ET.Aromatase_Inhibitor"
	GnRHAgonists      = "ET.GnRH_agonists"
	NodalStatus       = "Diag_NodalStatus"
)

// RequiredConcepts lists every concept the engine looks up.
var RequiredConcepts = []string{
	AllBCCodes, BreastCoreBiopsy, Cytology, BreastImaging,
	Surgery, Mastectomy, PartialMastectomy,
	Chemotherapy, Radiotherapy, TargetedTherapy,
	EndocrineTherapy, Tamoxifen, AromataseInhibit, GnRHAgonists,
	NodalStatus,
}

//go:embed bc_medical_codes.yaml
var defaultYAML []byte

type conceptSpec struct {
	Description string              `yaml:"description"`
	Codes       map[string][]string `yaml:"codes"`
	Include     []string            `yaml:"include"`
}

type catalogFile struct {
	Version  string                 `yaml:"version"`
	Concepts map[string]conceptSpec `yaml:"concepts"`
}

// Concept is a resolved concept entry.
type Concept struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Codes       domain.CodeSet `json:"-"`
}

// Vocabulary is the resolved concept catalog.
type Vocabulary struct {
	version  string
	concepts map[string]Concept
}

// Default returns the embedded vocabulary.
func Default() (*Vocabulary, error) {
	return Parse(defaultYAML)
}

// Load reads a vocabulary file, or returns the embedded one when path is empty.
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Default()
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}
	return Parse(content)
}

// Parse decodes and resolves a vocabulary document. Includes are expanded and every
// required concept must be present with at least one code.
func Parse(content []byte) (*Vocabulary, error) {
	var file catalogFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("failed to parse vocabulary: %w", err)
	}
	if len(file.Concepts) == 0 {
		return nil, fmt.Errorf("vocabulary has no concepts")
	}

	r := &resolver{specs: file.Concepts, done: make(map[string]domain.CodeSet), visiting: make(map[string]bool)}
	v := &Vocabulary{version: file.Version, concepts: make(map[string]Concept, len(file.Concepts))}
	for name, spec := range file.Concepts {
		cs, err := r.resolve(name)
		if err != nil {
			return nil, err
		}
		v.concepts[name] = Concept{Name: name, Description: spec.Description, Codes: cs}
	}

	for _, name := range RequiredConcepts {
		c, ok := v.concepts[name]
		if !ok {
			return nil, fmt.Errorf("vocabulary is missing concept %q", name)
		}
		if err := c.Codes.Validate(); err != nil {
			return nil, fmt.Errorf("concept %q: %w", name, err)
		}
	}
	return v, nil
}

type resolver struct {
	specs    map[string]conceptSpec
	done     map[string]domain.CodeSet
	visiting map[string]bool
}

func (r *resolver) resolve(name string) (domain.CodeSet, error) {
	if cs, ok := r.done[name]; ok {
		return cs, nil
	}
	spec, ok := r.specs[name]
	if !ok {
		return domain.CodeSet{}, fmt.Errorf("unknown concept %q", name)
	}
	if r.visiting[name] {
		return domain.CodeSet{}, fmt.Errorf("concept %q includes itself", name)
	}
	r.visiting[name] = true
	defer delete(r.visiting, name)

	typed := make(map[domain.CodeType][]string, len(spec.Codes))
	for vocab, codes := range spec.Codes {
		t, ok := domain.CodeTypeFromVocabulary(vocab)
		if !ok {
			return domain.CodeSet{}, domain.NewInvalidCodeSet(fmt.Sprintf("concept %q: unknown vocabulary %q", name, vocab))
		}
		typed[t] = append(typed[t], codes...)
	}
	own, err := domain.NewCodeSet(typed)
	if err != nil && len(spec.Include) == 0 {
		return domain.CodeSet{}, fmt.Errorf("concept %q: %w", name, err)
	}

	parts := []domain.CodeSet{own}
	for _, inc := range spec.Include {
		cs, err := r.resolve(inc)
		if err != nil {
			return domain.CodeSet{}, fmt.Errorf("concept %q: %w", name, err)
		}
		parts = append(parts, cs)
	}

	cs := domain.Union(parts...)
	r.done[name] = cs
	return cs, nil
}

// Version returns the vocabulary document version.
func (v *Vocabulary) Version() string {
	return v.version
}

// Concept returns the code set of a concept.
func (v *Vocabulary) Concept(name string) (domain.CodeSet, error) {
	c, ok := v.concepts[name]
	if !ok {
		return domain.CodeSet{}, fmt.Errorf("concept %q: %w", name, domain.ErrNotFound)
	}
	return c.Codes, nil
}

// MustConcept returns the code set of a concept known to be required.
func (v *Vocabulary) MustConcept(name string) domain.CodeSet {
	cs, err := v.Concept(name)
	if err != nil {
		panic(err)
	}
	return cs
}

// Lookup returns the concept entry, matching names case-insensitively.
func (v *Vocabulary) Lookup(name string) (Concept, bool) {
	if c, ok := v.concepts[name]; ok {
		return c, true
	}
	for k, c := range v.concepts {
		if strings.EqualFold(k, name) {
			return c, true
		}
	}
	return Concept{}, false
}

// Names returns concept names in sorted order.
func (v *Vocabulary) Names() []string {
	names := make([]string, 0, len(v.concepts))
	for name := range v.concepts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ETClasses returns the dispensed-drug code sets of the endocrine-therapy classes.
func (v *Vocabulary) ETClasses() ETClasses {
	return ETClasses{
		Tamoxifen:        v.MustConcept(Tamoxifen).Only(domain.DRUG_DISPENSED),
		AromataseInhibit: v.MustConcept(AromataseInhibit).Only(domain.DRUG_DISPENSED),
		GnRHAgonist:      v.MustConcept(GnRHAgonists).Only(domain.DRUG_DISPENSED),
	}
}

// ETClasses groups the drug identifiers used by the endocrine-therapy regimen rules.
type ETClasses struct {
	Tamoxifen        domain.CodeSet
	AromataseInhibit domain.CodeSet
	GnRHAgonist      domain.CodeSet
}

// IsTamoxifen reports whether a CIP13 code belongs to the Tamoxifen class.
func (c ETClasses) IsTamoxifen(code string) bool {
	return c.Tamoxifen.Contains(domain.DRUG_DISPENSED, code)
}

// IsAI reports whether a CIP13 code belongs to the aromatase-inhibitor class.
func (c ETClasses) IsAI(code string) bool {
	return c.AromataseInhibit.Contains(domain.DRUG_DISPENSED, code)
}

// IsGnRH reports whether a CIP13 code belongs to the GnRH-agonist class.
func (c ETClasses) IsGnRH(code string) bool {
	return c.GnRHAgonist.Contains(domain.DRUG_DISPENSED, code)
}
