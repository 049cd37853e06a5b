package recordstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/bc-pathway-engine/internal/domain"
)

// Supported record store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// cohortChunkSize bounds the number of patient ids bound into one IN clause.
const cohortChunkSize = 500

//go:embed schema.sql
var warehouseSchema string

// source describes one table path a code type is looked up in.
type source struct {
	name     string
	codeType domain.CodeType
	from     string
	idCols   string
	codeCol  string
	dateCol  string
	delayCol string
	stayCol  string
}

const (
	dcirFrom = "er_prs_f p JOIN ir_ben_r r ON r.ben_nir_psa = p.ben_nir_psa AND r.ben_rng_gem = p.ben_rng_gem"
	dcirID   = "r.ben_idt_ano, p.ben_nir_psa, p.ben_rng_gem"
	pmsiJoin = "JOIN t_mco_c c ON c.eta_num = x.eta_num AND c.rsa_num = x.rsa_num JOIN ir_ben_r r ON r.ben_nir_psa = c.nir_ano_17"
	pmsiID   = "r.ben_idt_ano, r.ben_nir_psa, r.ben_rng_gem"
	pmsiStay = "c.eta_num || ':' || c.rsa_num"
)

// sources maps each code type to the tables it is recorded in. Procedures and diagnoses
// appear in several tables, so one code type can fan out to several queries.
var sources = []source{
	{name: "er_cam_f", codeType: domain.PROCEDURE, from: dcirFrom + " JOIN er_cam_f x ON x.prs_id = p.prs_id", idCols: dcirID, codeCol: "x.cam_prs_ide", dateCol: "p.exe_soi_dtd"},
	{name: "t_mco_a", codeType: domain.PROCEDURE, from: "t_mco_a x " + pmsiJoin, idCols: pmsiID, codeCol: "x.cdc_act", dateCol: "c.exe_soi_dtd", delayCol: "x.ent_dat_del", stayCol: pmsiStay},
	{name: "t_mco_b.dgn_pal", codeType: domain.DIAGNOSIS, from: "t_mco_b x " + pmsiJoin, idCols: pmsiID, codeCol: "x.dgn_pal", dateCol: "c.exe_soi_dtd", stayCol: pmsiStay},
	{name: "t_mco_b.dgn_rel", codeType: domain.DIAGNOSIS, from: "t_mco_b x " + pmsiJoin, idCols: pmsiID, codeCol: "x.dgn_rel", dateCol: "c.exe_soi_dtd", stayCol: pmsiStay},
	{name: "t_mco_d", codeType: domain.DIAGNOSIS, from: "t_mco_d x " + pmsiJoin, idCols: pmsiID, codeCol: "x.ass_dgn", dateCol: "c.exe_soi_dtd", stayCol: pmsiStay},
	{name: "t_mco_med", codeType: domain.DRUG_ADMINISTERED, from: "t_mco_med x " + pmsiJoin, idCols: pmsiID, codeCol: "x.ucd_ucd_cod", dateCol: "c.exe_soi_dtd", delayCol: "x.delai", stayCol: pmsiStay},
	{name: "er_pha_f", codeType: domain.DRUG_DISPENSED, from: dcirFrom + " JOIN er_pha_f x ON x.prs_id = p.prs_id", idCols: dcirID, codeCol: "x.pha_prs_c13", dateCol: "p.exe_soi_dtd"},
	{name: "ir_pha_r", codeType: domain.DRUG_CLASS, from: dcirFrom + " JOIN er_pha_f x ON x.prs_id = p.prs_id JOIN ir_pha_r a ON a.pha_cip_c13 = x.pha_prs_c13", idCols: dcirID, codeCol: "a.pha_atc_cla", dateCol: "p.exe_soi_dtd"},
}

// SQLStore reads events from an SNDS-shaped warehouse through database/sql.
// Queries are issued per source table and per calendar year, and the results are merged.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *logrus.Logger
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, driver string, logger *logrus.Logger) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported record store driver %q", driver)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SQLStore{db: db, driver: driver, logger: logger}, nil
}

// OpenSQLStore opens the warehouse described by the configuration and checks connectivity.
func OpenSQLStore(ctx context.Context, cfg domain.RecordStoreConfig, logger *logrus.Logger) (*SQLStore, error) {
	if cfg.Driver == DriverSQLite {
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping record store: %w", err)
	}

	store, err := NewSQLStore(db, cfg.Driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	store.logger.WithFields(logrus.Fields{
		"driver": cfg.Driver,
	}).Info("Record store opened")
	return store, nil
}

// EnsureSchema creates the warehouse tables when they are missing. It is used for
// simulated and development datasets.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(warehouseSchema, ";") {
		if strings.TrimSpace(stripComments(stmt)) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create warehouse schema: %w", err)
		}
	}
	return nil
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// FetchEvents implements domain.RecordStore.
func (s *SQLStore) FetchEvents(ctx context.Context, cs domain.CodeSet, cohort *domain.Cohort, rng domain.DateRange) ([]domain.MedicalEvent, error) {
	if err := cs.Validate(); err != nil {
		return nil, err
	}
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if cohort != nil && cohort.Len() == 0 {
		return nil, nil
	}

	start := time.Now()
	chunks := idChunks(cohort)
	seen := make(map[eventKey]bool)
	var out []domain.MedicalEvent

	for _, src := range sources {
		codes := cs.Codes(src.codeType)
		if len(codes) == 0 {
			continue
		}
		for _, bucket := range rng.Years() {
			for _, ids := range chunks {
				query, args := s.buildEventQuery(src, codes, bucket, ids)
				events, err := s.queryEvents(ctx, src, query, args)
				if err != nil {
					return nil, domain.NewRecordStoreFailure(fmt.Sprintf("%s %d", src.name, bucket.Start.Year()), err)
				}
				for _, e := range events {
					if cohort != nil && !cohort.Contains(e.Key) {
						continue
					}
					if !rng.Contains(e.Date) {
						continue
					}
					k := eventKey{key: e.Key, code: e.Code, date: e.Date}
					if seen[k] {
						continue
					}
					seen[k] = true
					out = append(out, e)
				}
			}
		}
	}

	SortEvents(out)
	s.logger.WithFields(logrus.Fields{
		"code_types": cs.Types(),
		"range":      rng.String(),
		"events":     len(out),
		"duration":   time.Since(start),
	}).Debug("Fetched events")
	return out, nil
}

// idChunks splits the cohort's patient ids into IN-clause sized groups. A nil cohort
// yields a single unfiltered chunk.
func idChunks(cohort *domain.Cohort) [][]string {
	if cohort == nil {
		return [][]string{nil}
	}
	seen := make(map[string]bool, cohort.Len())
	var ids []string
	for _, k := range cohort.Keys() {
		if !seen[k.PatientID] {
			seen[k.PatientID] = true
			ids = append(ids, k.PatientID)
		}
	}
	var chunks [][]string
	for len(ids) > cohortChunkSize {
		chunks = append(chunks, ids[:cohortChunkSize])
		ids = ids[cohortChunkSize:]
	}
	return append(chunks, ids)
}

// queryBuilder accumulates SQL text and bind arguments with driver-specific placeholders.
type queryBuilder struct {
	driver string
	sb     strings.Builder
	args   []interface{}
}

func (b *queryBuilder) write(parts ...string) {
	for _, p := range parts {
		b.sb.WriteString(p)
	}
}

func (b *queryBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	if b.driver == DriverPostgres {
		return "$" + strconv.Itoa(len(b.args))
	}
	return "?"
}

func (b *queryBuilder) bindList(values []string) string {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = b.bind(v)
	}
	return strings.Join(ph, ", ")
}

func (s *SQLStore) buildEventQuery(src source, codes []string, bucket domain.DateRange, ids []string) (string, []interface{}) {
	b := &queryBuilder{driver: s.driver}

	delay, stay := "0", "''"
	if src.delayCol != "" {
		delay = "COALESCE(" + src.delayCol + ", 0)"
	}
	if src.stayCol != "" {
		stay = src.stayCol
	}

	b.write("SELECT DISTINCT ", src.idCols, ", ", src.codeCol, ", ", src.dateCol, ", ", delay, ", ", stay,
		" FROM ", src.from, " WHERE ")

	if src.codeType == domain.DRUG_CLASS {
		likes := make([]string, len(codes))
		for i, c := range codes {
			likes[i] = src.codeCol + " LIKE " + b.bind(c+"%")
		}
		b.write("(", strings.Join(likes, " OR "), ")")
	} else {
		b.write(src.codeCol, " IN (", b.bindList(codes), ")")
	}

	b.write(" AND ", src.dateCol, " BETWEEN ", b.bind(bucket.Start.Format(domain.DateLayout)),
		" AND ", b.bind(bucket.End.Format(domain.DateLayout)))

	if len(ids) > 0 {
		b.write(" AND r.ben_idt_ano IN (", b.bindList(ids), ")")
	}
	return b.sb.String(), b.args
}

func (s *SQLStore) queryEvents(ctx context.Context, src source, query string, args []interface{}) ([]domain.MedicalEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.MedicalEvent
	for rows.Next() {
		var (
			e       domain.MedicalEvent
			rawDate interface{}
			delay   sql.NullInt64
			stay    sql.NullString
		)
		if err := rows.Scan(&e.Key.PatientID, &e.Key.SecondaryID, &e.Key.Rank, &e.Code, &rawDate, &delay, &stay); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		d, err := parseDate(rawDate)
		if err != nil {
			return nil, err
		}
		if delay.Valid && delay.Int64 != 0 {
			d = d.AddDate(0, 0, int(delay.Int64))
		}
		e.Date = d
		e.Type = src.codeType
		e.StayID = stay.String
		e.Source = src.name
		events = append(events, e)
	}
	return events, rows.Err()
}

// ageQueries read BEN_AMA_COD on outpatient claims and AGE_ANN on hospital stays.
var ageQueries = []struct {
	name    string
	from    string
	idCols  string
	dateCol string
	ageCol  string
}{
	{name: "er_prs_f", from: dcirFrom, idCols: dcirID, dateCol: "p.exe_soi_dtd", ageCol: "p.ben_ama_cod"},
	{name: "t_mco_b", from: "t_mco_b x " + pmsiJoin, idCols: pmsiID, dateCol: "c.exe_soi_dtd", ageCol: "x.age_ann"},
}

// FetchAges implements domain.AgeSource.
func (s *SQLStore) FetchAges(ctx context.Context, cohort *domain.Cohort, rng domain.DateRange) ([]domain.AgeObservation, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if cohort != nil && cohort.Len() == 0 {
		return nil, nil
	}

	type ageKey struct {
		key  domain.PatientKey
		date time.Time
		age  int
	}
	seen := make(map[ageKey]bool)
	var out []domain.AgeObservation

	for _, q := range ageQueries {
		for _, bucket := range rng.Years() {
			for _, ids := range idChunks(cohort) {
				b := &queryBuilder{driver: s.driver}
				b.write("SELECT DISTINCT ", q.idCols, ", ", q.dateCol, ", ", q.ageCol,
					" FROM ", q.from, " WHERE ", q.ageCol, " IS NOT NULL AND ", q.dateCol, " BETWEEN ",
					b.bind(bucket.Start.Format(domain.DateLayout)), " AND ", b.bind(bucket.End.Format(domain.DateLayout)))
				if len(ids) > 0 {
					b.write(" AND r.ben_idt_ano IN (", b.bindList(ids), ")")
				}

				obs, err := s.queryAges(ctx, b.sb.String(), b.args)
				if err != nil {
					return nil, domain.NewRecordStoreFailure(fmt.Sprintf("%s ages %d", q.name, bucket.Start.Year()), err)
				}
				for _, o := range obs {
					if cohort != nil && !cohort.Contains(o.Key) {
						continue
					}
					k := ageKey{key: o.Key, date: o.Date, age: o.Age}
					if seen[k] {
						continue
					}
					seen[k] = true
					out = append(out, o)
				}
			}
		}
	}
	return out, nil
}

func (s *SQLStore) queryAges(ctx context.Context, query string, args []interface{}) ([]domain.AgeObservation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AgeObservation
	for rows.Next() {
		var (
			o       domain.AgeObservation
			rawDate interface{}
		)
		if err := rows.Scan(&o.Key.PatientID, &o.Key.SecondaryID, &o.Key.Rank, &rawDate, &o.Age); err != nil {
			return nil, fmt.Errorf("failed to scan age: %w", err)
		}
		d, err := parseDate(rawDate)
		if err != nil {
			return nil, err
		}
		o.Date = d
		out = append(out, o)
	}
	return out, rows.Err()
}

// parseDate accepts the date representations returned by the SQLite and PostgreSQL drivers.
func parseDate(v interface{}) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return domain.Day(d), nil
	case string:
		t, err := dateparse.ParseAny(d)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse date %q: %w", d, err)
		}
		return domain.Day(t), nil
	case []byte:
		return parseDate(string(d))
	case nil:
		return time.Time{}, fmt.Errorf("missing event date")
	default:
		return time.Time{}, fmt.Errorf("unsupported date type %T", v)
	}
}
