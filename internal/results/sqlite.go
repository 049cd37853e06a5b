package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/report"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite results store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the API read runs while the CLI writes new ones
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS characterization_runs (
		id TEXT PRIMARY KEY,
		cohort_size INTEGER NOT NULL,
		range_start TEXT NOT NULL,
		range_end TEXT NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		failures TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS characterization_rows (
		run_id TEXT NOT NULL REFERENCES characterization_runs(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		ben_idt_ano TEXT NOT NULL,
		ben_nir_psa TEXT NOT NULL,
		ben_rng_gem INTEGER NOT NULL,
		age INTEGER,
		date_diag TEXT,
		nodal_status INTEGER NOT NULL,
		mastectomy INTEGER NOT NULL,
		partial_mastectomy INTEGER NOT NULL,
		surgery INTEGER NOT NULL,
		ct INTEGER NOT NULL,
		ct_setting TEXT NOT NULL,
		ct_regimen TEXT NOT NULL,
		rt INTEGER NOT NULL,
		rt_setting TEXT NOT NULL,
		tt INTEGER NOT NULL,
		tt_setting TEXT NOT NULL,
		et INTEGER NOT NULL,
		et_setting TEXT NOT NULL,
		et_treatment TEXT NOT NULL,
		et_regimen TEXT NOT NULL,
		pathway TEXT NOT NULL,
		bc_subtype TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON characterization_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_rows_patient ON characterization_rows(ben_nir_psa, ben_rng_gem);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores a run and its rows in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, run *Run, rows []domain.PatientCharacterization) error {
	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO characterization_runs (
			id, cohort_size, range_start, range_end, started_at, duration_ms, failures, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.CohortSize,
		run.RangeStart.Format(domain.DateLayout),
		run.RangeEnd.Format(domain.DateLayout),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.DurationMS,
		string(failures),
		run.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(rowColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO characterization_rows (%s) VALUES (%s)",
		strings.Join(rowColumns, ", "), placeholders,
	))
	if err != nil {
		return fmt.Errorf("failed to prepare row insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		rec := report.ToRecord(row)
		args := []interface{}{run.ID, i, rec.PatientID, rec.SecondaryID, rec.Rank, nullIfEmpty(rec.Age), nullIfEmpty(rec.DiagnosisDate)}
		args = append(args, rowLabels(rec)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const runColumns = `id, cohort_size, range_start, range_end, started_at, duration_ms, failures, created_at`

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var rangeStart, rangeEnd, startedAt, createdAt, failures string

	err := s.Scan(&run.ID, &run.CohortSize, &rangeStart, &rangeEnd, &startedAt, &run.DurationMS, &failures, &createdAt)
	if err != nil {
		return nil, err
	}

	if run.RangeStart, err = time.Parse(domain.DateLayout, rangeStart); err != nil {
		return nil, fmt.Errorf("bad range_start: %w", err)
	}
	if run.RangeEnd, err = time.Parse(domain.DateLayout, rangeEnd); err != nil {
		return nil, fmt.Errorf("bad range_end: %w", err)
	}
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("bad started_at: %w", err)
	}
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(failures), &run.Failures); err != nil {
		return nil, fmt.Errorf("bad failures: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM characterization_runs WHERE id = ?", id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

// Rows returns the rows of a run in cohort order.
func (s *SQLiteStore) Rows(ctx context.Context, id string) ([]domain.PatientCharacterization, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM characterization_rows WHERE run_id = ? ORDER BY position",
		strings.Join(rowColumns[2:], ", "),
	), id)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []domain.PatientCharacterization
	for rows.Next() {
		var rec report.Record
		var age sql.NullInt64
		var diag sql.NullString

		dest := append([]interface{}{&rec.PatientID, &rec.SecondaryID, &rec.Rank, &age, &diag}, labelTargets(&rec)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if age.Valid {
			rec.Age = strconv.FormatInt(age.Int64, 10)
		}
		rec.DiagnosisDate = diag.String

		row, err := report.FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("corrupt row for %s: %w", rec.PatientID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListRuns returns runs with pagination, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM characterization_runs ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// Count returns the number of stored runs.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM characterization_runs").Scan(&count)
	return count, err
}

// Delete removes a run and its rows.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM characterization_runs WHERE id = ?", id)
	return err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
