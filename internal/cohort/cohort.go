// Package cohort reads and writes cohort files: one patient per row, identified by the
// BEN_IDT_ANO, BEN_NIR_PSA and BEN_RNG_GEM columns. Comma and tab separated files are
// both accepted; extra columns are ignored.
package cohort

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/bc-pathway-engine/internal/domain"
)

// Identity columns every cohort file must carry.
var RequiredColumns = []string{"BEN_IDT_ANO", "BEN_NIR_PSA", "BEN_RNG_GEM"}

// Load reads a cohort file from disk.
func Load(path string) (*domain.Cohort, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cohort file: %w", err)
	}
	return Parse(data)
}

// Read parses a cohort from a reader.
func Read(r io.Reader) (*domain.Cohort, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read cohort: %w", err)
	}
	return Parse(data)
}

// Parse builds a cohort from CSV or TSV content. It fails with InvalidCohortSchema when a
// required column is missing, a rank is not an integer, an identifier is blank or a key
// appears twice.
func Parse(data []byte) (*domain.Cohort, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, domain.NewInvalidCohortSchema("cohort file is empty")
	}
	comma := detectDelimiter(data)

	header, err := newReader(data, comma).Read()
	if err != nil {
		return nil, domain.NewInvalidCohortSchema(fmt.Sprintf("unreadable header: %v", err))
	}
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = true
	}
	var missing []string
	for _, col := range RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, domain.NewInvalidCohortSchema("missing columns: " + strings.Join(missing, ", "))
	}

	var keys []domain.PatientKey
	if err := gocsv.UnmarshalCSV(newReader(data, comma), &keys); err != nil {
		return nil, domain.NewInvalidCohortSchema(err.Error())
	}
	for i := range keys {
		keys[i].PatientID = strings.TrimSpace(keys[i].PatientID)
		keys[i].SecondaryID = strings.TrimSpace(keys[i].SecondaryID)
	}
	return domain.NewCohort(keys...)
}

// Write serialises the cohort keys as CSV with the identity columns.
func Write(w io.Writer, cohort *domain.Cohort) error {
	keys := cohort.Keys()
	if err := gocsv.Marshal(&keys, w); err != nil {
		return fmt.Errorf("failed to write cohort: %w", err)
	}
	return nil
}

func newReader(data []byte, comma rune) *csv.Reader {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return r
}

// detectDelimiter picks tab when the header line has tabs and no comma.
func detectDelimiter(data []byte) rune {
	line, _ := bufio.NewReader(bytes.NewReader(data)).ReadString('\n')
	if strings.Contains(line, "\t") && !strings.Contains(line, ",") {
		return '\t'
	}
	return ','
}
