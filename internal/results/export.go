package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ExportVersion is written into every run export.
const ExportVersion = "1.0"

// ExportJSON writes a run and its rows to a JSON writer.
func ExportJSON(ctx context.Context, store Store, id string, writer io.Writer) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	rows, err := store.Rows(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load rows: %w", err)
	}

	export := &RunExport{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Run:        run,
		Rows:       rows,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON reads a run export and saves it. A run whose id is already stored is skipped
// and reported with imported false.
func ImportJSON(ctx context.Context, store Store, reader io.Reader) (run *Run, imported bool, err error) {
	var export RunExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return nil, false, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if export.Run == nil || export.Run.ID == "" {
		return nil, false, fmt.Errorf("export has no run")
	}

	existing, err := store.GetRun(ctx, export.Run.ID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, ErrRunNotFound):
		return nil, false, fmt.Errorf("failed to check existing: %w", err)
	}

	if err := store.Save(ctx, export.Run, export.Rows); err != nil {
		return nil, false, fmt.Errorf("failed to save: %w", err)
	}
	return export.Run, true, nil
}
