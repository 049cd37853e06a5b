package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bc-pathway-engine/internal/cohort"
	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/report"
	"github.com/bc-pathway-engine/internal/results"
)

type characterizeOptions struct {
	cohortPath string
	from       string
	to         string
	out        string
	json       bool
	save       bool
	publish    bool
}

func newCharacterizeCmd(root *rootOptions) *cobra.Command {
	opts := &characterizeOptions{}

	cmd := &cobra.Command{
		Use:   "characterize",
		Short: "Build the characterization table of a cohort over a study period",
		Example: `  bcpathway characterize --cohort cohort.csv --from 2020-01-01 --to 2020-12-31 --out rows.csv
  bcpathway characterize --cohort cohort.csv --from 2020-01-01 --to 2020-12-31 --json --save --publish`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			return runCharacterize(cmd, cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.cohortPath, "cohort", "", "cohort CSV with BEN_IDT_ANO, BEN_NIR_PSA and BEN_RNG_GEM columns")
	flags.StringVar(&opts.from, "from", "", "first day of the study period")
	flags.StringVar(&opts.to, "to", "", "last day of the study period")
	flags.StringVar(&opts.out, "out", "", "output file (default: stdout)")
	flags.BoolVar(&opts.json, "json", false, "write JSON instead of CSV")
	flags.BoolVar(&opts.save, "save", false, "persist the run in the results store")
	flags.BoolVar(&opts.publish, "publish", false, "publish the rows to Kafka")
	_ = cmd.MarkFlagRequired("cohort")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runCharacterize(cmd *cobra.Command, cfg *domain.Config, opts *characterizeOptions) error {
	ctx := cmd.Context()

	members, err := cohort.Load(opts.cohortPath)
	if err != nil {
		return err
	}
	rng, err := cohort.ParseRange(opts.from, opts.to)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{withEngine: true, withResults: opts.save, withPublisher: opts.publish})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.characterizer.Build(ctx, members, rng)
	if err != nil {
		return err
	}
	if ferr := res.Err(); ferr != nil {
		a.logger.WithError(ferr).Warn("Some columns fell back to their default labels")
	}

	if opts.save {
		if a.results == nil {
			return fmt.Errorf("--save needs a results backend, got %q", cfg.Results.Backend)
		}
		if err := a.results.Save(ctx, results.RunFromResult(res), res.Rows); err != nil {
			return err
		}
		a.logger.WithField("run_id", res.RunID).Info("Run saved")
	}
	if opts.publish {
		if err := a.publisher.Publish(ctx, res); err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := writeRows(w, res.Rows, opts.json); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"run_id":   res.RunID,
		"patients": len(res.Rows),
		"range":    rng.String(),
		"duration": res.Duration.String(),
	}).Info("Characterization completed")
	return nil
}

func writeRows(w io.Writer, rows []domain.PatientCharacterization, asJSON bool) error {
	if asJSON {
		return report.WriteJSON(w, rows)
	}
	return report.WriteCSV(w, rows)
}
