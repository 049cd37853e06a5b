package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/report"
)

type statsOptions struct {
	rows   string
	by     string
	asJSON bool
}

func newStatsCmd() *cobra.Command {
	opts := &statsOptions{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize a characterization table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.rows, "rows", "", "characterization table, CSV or JSON (by extension)")
	cmd.Flags().StringVar(&opts.by, "by", "", "also print crosstabs by age, pathway or pathway_age")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print JSON")
	_ = cmd.MarkFlagRequired("rows")
	return cmd
}

func runStats(w io.Writer, opts *statsOptions) error {
	by := report.Stratifier(opts.by)
	if by != "" && !by.Valid() {
		return domain.NewValidationError("by", "must be age, pathway or pathway_age", opts.by)
	}

	rows, err := readRows(opts.rows)
	if err != nil {
		return err
	}

	summary := report.Summarize(rows)
	var crosstabs []report.Crosstab
	if by != "" {
		crosstabs = report.Crosstabs(rows, by)
	}

	if opts.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Stats     report.Stats      `json:"stats"`
			Crosstabs []report.Crosstab `json:"crosstabs,omitempty"`
		}{summary, crosstabs})
	}

	printStats(w, summary)
	for _, ct := range crosstabs {
		printCrosstab(w, ct)
	}
	return nil
}

func readRows(path string) ([]domain.PatientCharacterization, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rows file: %w", err)
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".json") {
		return report.ReadJSON(f)
	}
	return report.ReadCSV(f)
}

func printStats(w io.Writer, s report.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Patients\t%d\n", s.Patients)
	fmt.Fprintf(tw, "Age (n=%d)\tmean %.2f\tmedian %.2f\tsd %.2f\tmin %.0f\tmax %.0f\n",
		s.Age.Count, s.Age.Mean, s.Age.Median, s.Age.StdDev, s.Age.Min, s.Age.Max)
	for _, column := range report.StatColumns {
		dist := s.Distributions[column]
		for _, value := range sortedKeys(dist) {
			fmt.Fprintf(tw, "%s\t%s\t%.2f%%\n", column, value, dist[value])
		}
	}
	tw.Flush()
}

func printCrosstab(w io.Writer, ct report.Crosstab) {
	if ct.Pathway != "" {
		fmt.Fprintf(w, "\n%s by %s, pathway %s\n", ct.Column, ct.By, ct.Pathway)
	} else {
		fmt.Fprintf(w, "\n%s by %s\n", ct.Column, ct.By)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\t%s\t\n", strings.Join(ct.Cols, "\t"))
	for _, r := range ct.Rows {
		cells := make([]string, len(ct.Cols))
		for i, c := range ct.Cols {
			cells[i] = fmt.Sprintf("%.2f", ct.Cells[r][c])
		}
		fmt.Fprintf(tw, "%s\t%s\t\n", r, strings.Join(cells, "\t"))
	}
	tw.Flush()
}

func sortedKeys(d report.Distribution) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
