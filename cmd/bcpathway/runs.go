package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bc-pathway-engine/internal/results"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage characterization runs in the results store",
	}
	cmd.AddCommand(
		newRunsListCmd(root),
		newRunsExportCmd(root),
		newRunsImportCmd(root),
		newRunsDeleteCmd(root),
	)
	return cmd
}

// withResults opens the results store for the duration of fn.
func withResults(cmd *cobra.Command, root *rootOptions, fn func(store results.Store) error) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{withResults: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.results == nil {
		return fmt.Errorf("results store is disabled")
	}
	return fn(a.results)
}

func newRunsListCmd(root *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResults(cmd, root, func(store results.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tPATIENTS\tRANGE\tCREATED\tFAILED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%v\n", r.ID, r.CohortSize, r.Range(), r.CreatedAt.Format(time.RFC3339), r.FailedColumns())
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of runs to skip")
	return cmd
}

func newRunsExportCmd(root *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export RUN_ID",
		Short: "Export a run and its rows as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResults(cmd, root, func(store results.Store) error {
				w := cmd.OutOrStdout()
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return fmt.Errorf("failed to create export file: %w", err)
					}
					defer f.Close()
					w = f
				}
				return results.ExportJSON(cmd.Context(), store, args[0], w)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output file (default: stdout)")
	return cmd
}

func newRunsImportCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import a run exported with runs export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResults(cmd, root, func(store results.Store) error {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open export file: %w", err)
				}
				defer f.Close()

				run, imported, err := results.ImportJSON(cmd.Context(), store, f)
				if err != nil {
					return err
				}
				if imported {
					fmt.Fprintf(cmd.OutOrStdout(), "imported run %s (%d patients)\n", run.ID, run.CohortSize)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "run %s already present, skipped\n", run.ID)
				}
				return nil
			})
		},
	}
}

func newRunsDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a run and its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResults(cmd, root, func(store results.Store) error {
				if err := store.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted run %s\n", args[0])
				return nil
			})
		},
	}
}
