// Package domain contains the core entities of the breast-cancer care-pathway engine:
// patient identity, cohorts, typed code sets, medical events and the labels derived
// from a patient's event timeline.
//
// Patient identity follows the French national health data system (SNDS) referential:
// BEN_IDT_ANO (anonymous patient id), BEN_NIR_PSA (pseudonymised insurance number) and
// BEN_RNG_GEM (twin rank).
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// PatientKey uniquely identifies a patient record across data sources.
// It is a comparable value and is used directly as a map key.
type PatientKey struct {
	PatientID   string `json:"ben_idt_ano" csv:"BEN_IDT_ANO"`
	SecondaryID string `json:"ben_nir_psa" csv:"BEN_NIR_PSA"`
	Rank        int    `json:"ben_rng_gem" csv:"BEN_RNG_GEM"`
}

// String renders the key as id/secondary/rank.
func (k PatientKey) String() string {
	return k.PatientID + "/" + k.SecondaryID + "/" + strconv.Itoa(k.Rank)
}

// Less orders keys by patient id, secondary id and rank.
func (k PatientKey) Less(o PatientKey) bool {
	if k.PatientID != o.PatientID {
		return k.PatientID < o.PatientID
	}
	if k.SecondaryID != o.SecondaryID {
		return k.SecondaryID < o.SecondaryID
	}
	return k.Rank < o.Rank
}

// Cohort is an ordered set of unique patient keys. It is never mutated after creation.
type Cohort struct {
	keys     []PatientKey
	index    map[PatientKey]int
	identity string
}

// NewCohort builds a cohort, rejecting empty identifiers and duplicate keys.
func NewCohort(keys ...PatientKey) (*Cohort, error) {
	c := &Cohort{
		keys:  make([]PatientKey, 0, len(keys)),
		index: make(map[PatientKey]int, len(keys)),
	}

	for i, k := range keys {
		if strings.TrimSpace(k.PatientID) == "" || strings.TrimSpace(k.SecondaryID) == "" {
			return nil, NewInvalidCohortSchema(fmt.Sprintf("row %d: BEN_IDT_ANO and BEN_NIR_PSA are required", i+1))
		}
		if _, dup := c.index[k]; dup {
			return nil, NewInvalidCohortSchema(fmt.Sprintf("row %d: duplicate patient key %s", i+1, k))
		}
		c.index[k] = len(c.keys)
		c.keys = append(c.keys, k)
	}

	h := sha256.New()
	for _, k := range c.keys {
		h.Write([]byte(k.String()))
		h.Write([]byte{0})
	}
	c.identity = hex.EncodeToString(h.Sum(nil))

	return c, nil
}

// Keys returns a copy of the cohort keys in insertion order.
func (c *Cohort) Keys() []PatientKey {
	out := make([]PatientKey, len(c.keys))
	copy(out, c.keys)
	return out
}

// Len returns the number of patients.
func (c *Cohort) Len() int {
	return len(c.keys)
}

// Contains reports whether the key belongs to the cohort.
func (c *Cohort) Contains(k PatientKey) bool {
	_, ok := c.index[k]
	return ok
}

// Identity is a stable fingerprint of the ordered keys.
func (c *Cohort) Identity() string {
	return c.identity
}

// Subset returns a cohort restricted to the given keys, keeping the original order.
// Keys outside the cohort are ignored.
func (c *Cohort) Subset(keys []PatientKey) *Cohort {
	want := make(map[PatientKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	selected := make([]PatientKey, 0, len(keys))
	for _, k := range c.keys {
		if want[k] {
			selected = append(selected, k)
		}
	}
	// keys come from a valid cohort, so this cannot fail
	sub, _ := NewCohort(selected...)
	return sub
}

// CodeType tags the coding system a code belongs to.
type CodeType string

const (
	PROCEDURE         CodeType = "PROCEDURE"
	DIAGNOSIS         CodeType = "DIAGNOSIS"
	DRUG_DISPENSED    CodeType = "DRUG_DISPENSED"
	DRUG_ADMINISTERED CodeType = "DRUG_ADMINISTERED"
	DRUG_CLASS        CodeType = "DRUG_CLASS"
)

// AllCodeTypes lists code types in the order the engine queries them.
var AllCodeTypes = []CodeType{PROCEDURE, DIAGNOSIS, DRUG_ADMINISTERED, DRUG_DISPENSED, DRUG_CLASS}

// IsValid reports whether the code type is one of the supported coding systems.
func (t CodeType) IsValid() bool {
	switch t {
	case PROCEDURE, DIAGNOSIS, DRUG_DISPENSED, DRUG_ADMINISTERED, DRUG_CLASS:
		return true
	default:
		return false
	}
}

// String returns the string representation of the code type.
func (t CodeType) String() string {
	return string(t)
}

// SourceVocabulary returns the name of the national vocabulary behind the code type.
func (t CodeType) SourceVocabulary() string {
	switch t {
	case PROCEDURE:
		return "CCAM"
	case DIAGNOSIS:
		return "ICD10"
	case DRUG_DISPENSED:
		return "CIP13"
	case DRUG_ADMINISTERED:
		return "UCD"
	case DRUG_CLASS:
		return "ATC"
	default:
		return ""
	}
}

// CodeTypeFromVocabulary maps a vocabulary name (CCAM, ICD10, CIP13, UCD, ATC) to its code type.
func CodeTypeFromVocabulary(name string) (CodeType, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "CCAM":
		return PROCEDURE, true
	case "ICD10":
		return DIAGNOSIS, true
	case "CIP13":
		return DRUG_DISPENSED, true
	case "UCD":
		return DRUG_ADMINISTERED, true
	case "ATC":
		return DRUG_CLASS, true
	default:
		return "", false
	}
}

// CodeSet is an immutable, type-keyed set of codes. Build it with the per-type
// constructors (Procedures, Diagnoses, ...) and combine with Union.
type CodeSet struct {
	codes map[CodeType][]string
}

func single(t CodeType, codes []string) CodeSet {
	return CodeSet{codes: map[CodeType][]string{t: normalizeCodes(codes)}}
}

// Procedures builds a code set of CCAM procedure codes.
func Procedures(codes ...string) CodeSet { return single(PROCEDURE, codes) }

// Diagnoses builds a code set of ICD10 diagnosis codes.
func Diagnoses(codes ...string) CodeSet { return single(DIAGNOSIS, codes) }

// DrugsDispensed builds a code set of CIP13 dispensed-drug codes.
func DrugsDispensed(codes ...string) CodeSet { return single(DRUG_DISPENSED, codes) }

// DrugsAdministered builds a code set of UCD hospital-administered drug codes.
func DrugsAdministered(codes ...string) CodeSet { return single(DRUG_ADMINISTERED, codes) }

// DrugClasses builds a code set of ATC class prefixes.
func DrugClasses(codes ...string) CodeSet { return single(DRUG_CLASS, codes) }

// NewCodeSet builds a code set from a type-keyed map, rejecting unknown types.
func NewCodeSet(m map[CodeType][]string) (CodeSet, error) {
	cs := CodeSet{codes: make(map[CodeType][]string, len(m))}
	for t, codes := range m {
		if !t.IsValid() {
			return CodeSet{}, NewInvalidCodeSet(fmt.Sprintf("unknown code type %q", t))
		}
		cs.codes[t] = normalizeCodes(codes)
	}
	return cs, cs.Validate()
}

// Union merges code sets. Codes of the same type are merged and deduplicated.
func Union(sets ...CodeSet) CodeSet {
	merged := make(map[CodeType][]string)
	for _, s := range sets {
		for t, codes := range s.codes {
			merged[t] = append(merged[t], codes...)
		}
	}
	for t, codes := range merged {
		merged[t] = normalizeCodes(codes)
	}
	return CodeSet{codes: merged}
}

// Validate fails with InvalidCodeSet when the set holds no code or an unknown type.
func (cs CodeSet) Validate() error {
	if len(cs.codes) == 0 {
		return NewInvalidCodeSet("code set is empty")
	}
	total := 0
	for t, codes := range cs.codes {
		if !t.IsValid() {
			return NewInvalidCodeSet(fmt.Sprintf("unknown code type %q", t))
		}
		total += len(codes)
	}
	if total == 0 {
		return NewInvalidCodeSet("code set has no codes")
	}
	return nil
}

// IsEmpty reports whether the set carries no code at all.
func (cs CodeSet) IsEmpty() bool {
	for _, codes := range cs.codes {
		if len(codes) > 0 {
			return false
		}
	}
	return true
}

// Types returns the code types present, in query order.
func (cs CodeSet) Types() []CodeType {
	out := make([]CodeType, 0, len(cs.codes))
	for _, t := range AllCodeTypes {
		if len(cs.codes[t]) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Codes returns a copy of the codes of one type.
func (cs CodeSet) Codes(t CodeType) []string {
	out := make([]string, len(cs.codes[t]))
	copy(out, cs.codes[t])
	return out
}

// Only returns the subset of the code set restricted to one code type.
func (cs CodeSet) Only(t CodeType) CodeSet {
	if len(cs.codes[t]) == 0 {
		return CodeSet{}
	}
	return CodeSet{codes: map[CodeType][]string{t: cs.Codes(t)}}
}

// Contains reports whether the code belongs to the set under the given type.
// Drug classes match by ATC prefix.
func (cs CodeSet) Contains(t CodeType, code string) bool {
	codes := cs.codes[t]
	if t == DRUG_CLASS {
		for _, prefix := range codes {
			if strings.HasPrefix(code, prefix) {
				return true
			}
		}
		return false
	}
	i := sort.SearchStrings(codes, code)
	return i < len(codes) && codes[i] == code
}

// ContainsCode reports whether the code belongs to the set under any code type.
func (cs CodeSet) ContainsCode(code string) bool {
	for t := range cs.codes {
		if cs.Contains(t, code) {
			return true
		}
	}
	return false
}

// Identity is a stable fingerprint of the set contents.
func (cs CodeSet) Identity() string {
	h := sha256.New()
	for _, t := range cs.Types() {
		h.Write([]byte(t))
		for _, c := range cs.codes[t] {
			h.Write([]byte{0})
			h.Write([]byte(c))
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func normalizeCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// DateRange is an inclusive calendar range.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange validates and builds a date range truncated to calendar days.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Day(start), End: Day(end)}
	return r, r.Validate()
}

// Validate fails with InvalidDateRange when a bound is missing or the range is reversed.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return NewInvalidDateRange("start and end dates are required")
	}
	if r.End.Before(r.Start) {
		return NewInvalidDateRange(fmt.Sprintf("end %s is before start %s", r.End.Format(DateLayout), r.Start.Format(DateLayout)))
	}
	return nil
}

// Contains reports whether the day falls within the range.
func (r DateRange) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Years splits the range into calendar-year buckets, clipped to the range bounds.
func (r DateRange) Years() []DateRange {
	var buckets []DateRange
	for y := r.Start.Year(); y <= r.End.Year(); y++ {
		from := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(y, 12, 31, 0, 0, 0, 0, time.UTC)
		if from.Before(r.Start) {
			from = r.Start
		}
		if to.After(r.End) {
			to = r.End
		}
		buckets = append(buckets, DateRange{Start: from, End: to})
	}
	return buckets
}

// String renders the range as start..end.
func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}

// DateLayout is the calendar-day layout used in exports and logs.
const DateLayout = "2006-01-02"

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MedicalEvent is one coded occurrence in a patient's timeline.
type MedicalEvent struct {
	Key    PatientKey `json:"key"`
	Type   CodeType   `json:"code_type"`
	Code   string     `json:"code"`
	Date   time.Time  `json:"date"`
	StayID string     `json:"stay_id,omitempty"`
	Source string     `json:"source,omitempty"`
}

// AgeObservation is a patient's age as recorded on a claim or stay at a given date.
type AgeObservation struct {
	Key  PatientKey `json:"key"`
	Date time.Time  `json:"date"`
	Age  int        `json:"age"`
}

// TreatmentRecord is the derived presence and date history of one concept for one patient.
type TreatmentRecord struct {
	Present   bool        `json:"present"`
	FirstDate *time.Time  `json:"first_date,omitempty"`
	Dates     []time.Time `json:"dates"`
}

// Validation errors for label enums
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidCodeType   = errors.New("invalid code type")
	ErrInvalidSetting    = errors.New("invalid treatment setting")
	ErrInvalidRegimen    = errors.New("invalid regimen label")
	ErrInvalidSubtype    = errors.New("invalid subtype label")
	ErrInvalidPathwayNum = errors.New("invalid pathway number")
)
