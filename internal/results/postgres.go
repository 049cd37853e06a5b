package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bc-pathway-engine/internal/database"
	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/report"
)

// PostgresStore implements the Store interface using PostgreSQL.
// It expects the schema to already exist (created via migrations).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL results store on an open connection pool.
func NewPostgresStore(db *database.DB) (*PostgresStore, error) {
	if db == nil || db.Pool == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &PostgresStore{pool: db.Pool}, nil
}

// Save stores a run and its rows in one transaction. Rows are bulk loaded with COPY.
func (s *PostgresStore) Save(ctx context.Context, run *Run, rows []domain.PatientCharacterization) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", run.ID, err)
	}
	failures, err := json.Marshal(run.Failures)
	if err != nil {
		return fmt.Errorf("failed to encode failures: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO characterization_runs (
			id, cohort_size, range_start, range_end, started_at, duration_ms, failures, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		id, run.CohortSize, run.RangeStart, run.RangeEnd, run.StartedAt, run.DurationMS, failures, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		rec := report.ToRecord(row)
		var age, diag interface{}
		if row.Age.Valid {
			age = row.Age.Int64
		}
		if row.DiagnosisDate.Valid {
			diag = row.DiagnosisDate.Time
		}
		values[i] = append([]interface{}{id, i, rec.PatientID, rec.SecondaryID, rec.Rank, age, diag}, rowLabels(rec)...)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"characterization_rows"}, rowColumns, pgx.CopyFromRows(values)); err != nil {
		return fmt.Errorf("failed to copy rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const pgRunColumns = `id::text, cohort_size, range_start, range_end, started_at, duration_ms, failures, created_at`

func scanPgRun(row pgx.Row) (*Run, error) {
	run := &Run{}
	var failures []byte

	err := row.Scan(&run.ID, &run.CohortSize, &run.RangeStart, &run.RangeEnd, &run.StartedAt, &run.DurationMS, &failures, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(failures, &run.Failures); err != nil {
		return nil, fmt.Errorf("bad failures: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by id.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrRunNotFound
	}

	run, err := scanPgRun(s.pool.QueryRow(ctx, "SELECT "+pgRunColumns+" FROM characterization_runs WHERE id = $1::uuid", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// Rows returns the rows of a run in cohort order.
func (s *PostgresStore) Rows(ctx context.Context, id string) ([]domain.PatientCharacterization, error) {
	if _, err := s.GetRun(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT ben_idt_ano, ben_nir_psa, ben_rng_gem, age, date_diag,
			nodal_status, mastectomy, partial_mastectomy, surgery,
			ct, ct_setting, ct_regimen, rt, rt_setting, tt, tt_setting,
			et, et_setting, et_treatment, et_regimen, pathway, bc_subtype
		FROM characterization_rows
		WHERE run_id = $1::uuid
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var out []domain.PatientCharacterization
	for rows.Next() {
		var rec report.Record
		var age *int64
		var diag *time.Time

		dest := append([]interface{}{&rec.PatientID, &rec.SecondaryID, &rec.Rank, &age, &diag}, labelTargets(&rec)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if age != nil {
			rec.Age = strconv.FormatInt(*age, 10)
		}
		if diag != nil {
			rec.DiagnosisDate = diag.Format(domain.DateLayout)
		}

		row, err := report.FromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("corrupt row for %s: %w", rec.PatientID, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListRuns returns runs with pagination, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+pgRunColumns+" FROM characterization_runs ORDER BY created_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var result []*Run
	for rows.Next() {
		run, err := scanPgRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// Count returns the number of stored runs.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM characterization_runs").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// Delete removes a run and its rows.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return nil
	}
	if _, err := s.pool.Exec(ctx, "DELETE FROM characterization_runs WHERE id = $1::uuid", id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}
