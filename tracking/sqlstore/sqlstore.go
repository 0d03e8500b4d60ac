// Package sqlstore implements tracking.Store on database/sql. SQLite
// (modernc.org/sqlite, no CGO) is the default; PostgreSQL is used for
// postgres:// URIs. Artifacts are written as files under an artifact root.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/tracking"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is a tracking.Store backed by a SQL database.
type Store struct {
	db          *sql.DB
	driver      string
	artifactDir string
	now         func() time.Time
}

var _ tracking.Store = (*Store)(nil)

// Open opens the store named by uri:
//
//	sqlite://./mlruns.db        SQLite file
//	./mlruns.db                 SQLite file
//	postgres://user@host/db     PostgreSQL
func Open(uri, artifactDir string) (*Store, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return OpenPostgres(uri, artifactDir)
	case strings.HasPrefix(uri, "sqlite://"):
		return OpenSQLite(strings.TrimPrefix(uri, "sqlite://"), artifactDir)
	case strings.Contains(uri, "://"):
		return nil, errors.NewValidationError("tracking.uri", "unsupported scheme for sql store", uri)
	default:
		return OpenSQLite(uri, artifactDir)
	}
}

// OpenSQLite opens (creating if needed) a SQLite database at path.
func OpenSQLite(path, artifactDir string) (*Store, error) {
	if path == "" {
		path = "./mlruns.db"
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping sqlite database")
	}
	return New(db, DriverSQLite, artifactDir)
}

// OpenPostgres opens a PostgreSQL database from a lib/pq connection string.
func OpenPostgres(dsn, artifactDir string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping postgres database")
	}
	return New(db, DriverPostgres, artifactDir)
}

// New wraps an open database and runs migrations. The store owns db.
func New(db *sql.DB, driver, artifactDir string) (*Store, error) {
	if artifactDir == "" {
		artifactDir = "./mlartifacts"
	}
	s := &Store{db: db, driver: driver, artifactDir: artifactDir, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return s, nil
}

func (s *Store) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// GetExperimentByName retrieves an experiment.
func (s *Store) GetExperimentByName(ctx context.Context, name string) (*tracking.Experiment, error) {
	query := `SELECT experiment_id, name, artifact_location, creation_time FROM experiments WHERE name = ?`

	var e tracking.Experiment
	var created int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), name).Scan(&e.ID, &e.Name, &e.ArtifactLocation, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "experiment %q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get experiment %q", name)
	}
	e.CreatedAt = fromMillis(created)
	return &e, nil
}

// CreateExperiment inserts a new experiment. Names are unique.
func (s *Store) CreateExperiment(ctx context.Context, name string) (*tracking.Experiment, error) {
	id := tracking.NewID()
	e := &tracking.Experiment{
		ID:               id,
		Name:             name,
		ArtifactLocation: filepath.Join(s.artifactDir, id),
		CreatedAt:        fromMillis(millis(s.now())),
	}

	query := `INSERT INTO experiments (experiment_id, name, artifact_location, creation_time) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), e.ID, e.Name, e.ArtifactLocation, millis(e.CreatedAt)); err != nil {
		return nil, errors.Wrapf(err, "create experiment %q", name)
	}
	return e, nil
}

// CreateRun inserts a RUNNING run and tags it with its name.
func (s *Store) CreateRun(ctx context.Context, experimentID, runName string, start time.Time) (*tracking.RunInfo, error) {
	var location string
	query := `SELECT artifact_location FROM experiments WHERE experiment_id = ?`
	err := s.db.QueryRowContext(ctx, s.rebind(query), experimentID).Scan(&location)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "experiment %s", experimentID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get experiment %s", experimentID)
	}

	id := tracking.NewID()
	info := &tracking.RunInfo{
		RunID:        id,
		ExperimentID: experimentID,
		RunName:      runName,
		Status:       tracking.StatusRunning,
		StartTime:    fromMillis(millis(start)),
		ArtifactURI:  filepath.Join(location, id, "artifacts"),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin create run")
	}
	defer tx.Rollback()

	insertRun := `INSERT INTO runs (run_id, experiment_id, name, status, start_time, artifact_uri) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, s.rebind(insertRun),
		info.RunID, info.ExperimentID, info.RunName, string(info.Status), millis(start), info.ArtifactURI,
	); err != nil {
		return nil, errors.Wrapf(err, "create run %q", runName)
	}
	insertTag := `INSERT INTO tags (run_id, key, value) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, s.rebind(insertTag), info.RunID, tracking.RunNameTag, runName); err != nil {
		return nil, errors.Wrapf(err, "tag run %q", runName)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit create run")
	}
	return info, nil
}

// UpdateRun sets the status and end time of a run.
func (s *Store) UpdateRun(ctx context.Context, runID string, status tracking.RunStatus, end time.Time) error {
	query := `UPDATE runs SET status = ?, end_time = ? WHERE run_id = ?`
	res, err := s.db.ExecContext(ctx, s.rebind(query), string(status), millis(end), runID)
	if err != nil {
		return errors.Wrapf(err, "update run %s", runID)
	}
	return requireAffected(res, "run "+runID)
}

// LogParam records a param. Params are immutable: logging the same value
// again is accepted, a different value is a ValidationError.
func (s *Store) LogParam(ctx context.Context, runID, key, value string) error {
	query := `INSERT INTO params (run_id, key, value) VALUES (?, ?, ?) ON CONFLICT (run_id, key) DO NOTHING`
	res, err := s.db.ExecContext(ctx, s.rebind(query), runID, key, value)
	if err != nil {
		return errors.Wrapf(err, "log param %q", key)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var existing string
	lookup := `SELECT value FROM params WHERE run_id = ? AND key = ?`
	if err := s.db.QueryRowContext(ctx, s.rebind(lookup), runID, key).Scan(&existing); err != nil {
		return errors.Wrapf(err, "log param %q", key)
	}
	if existing != value {
		return errors.NewValidationError(key, "param already logged with a different value", value)
	}
	return nil
}

// LogMetric records the latest value of a metric.
func (s *Store) LogMetric(ctx context.Context, runID, key string, value float64, ts time.Time) error {
	query := `INSERT INTO metrics (run_id, key, value, timestamp) VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id, key) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), runID, key, value, millis(ts)); err != nil {
		return errors.Wrapf(err, "log metric %q", key)
	}
	return nil
}

// SetTag sets or overwrites a tag.
func (s *Store) SetTag(ctx context.Context, runID, key, value string) error {
	query := `INSERT INTO tags (run_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (run_id, key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, s.rebind(query), runID, key, value); err != nil {
		return errors.Wrapf(err, "set tag %q", key)
	}
	return nil
}

// LogArtifact writes data to <artifact_uri>/<name> and records it.
func (s *Store) LogArtifact(ctx context.Context, runID, name string, data []byte) (string, error) {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) {
		return "", errors.NewValidationError("artifact", "must be a plain file name", name)
	}

	var dir string
	query := `SELECT artifact_uri FROM runs WHERE run_id = ?`
	err := s.db.QueryRowContext(ctx, s.rebind(query), runID).Scan(&dir)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return "", errors.Wrapf(err, "get run %s", runID)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create artifact directory")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "write artifact %q", name)
	}

	insert := `INSERT INTO artifacts (run_id, path, size, uri, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, path) DO UPDATE SET size = excluded.size, created_at = excluded.created_at`
	if _, err := s.db.ExecContext(ctx, s.rebind(insert), runID, name, len(data), path, millis(s.now())); err != nil {
		return "", errors.Wrapf(err, "record artifact %q", name)
	}
	return path, nil
}

const selectRuns = `SELECT run_id, experiment_id, name, status, start_time, end_time, artifact_uri FROM runs`

// GetRun retrieves a run with its params, metrics, tags and artifacts.
func (s *Store) GetRun(ctx context.Context, runID string) (*tracking.Record, error) {
	recs, err := s.loadRuns(ctx, selectRuns+` WHERE run_id = ?`, `run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	return &recs[0], nil
}

// SearchRuns returns the runs of an experiment, newest first.
func (s *Store) SearchRuns(ctx context.Context, experimentID string) ([]tracking.Record, error) {
	recs, err := s.loadRuns(ctx,
		selectRuns+` WHERE experiment_id = ? ORDER BY start_time DESC, run_id`,
		`run_id IN (SELECT run_id FROM runs WHERE experiment_id = ?)`,
		experimentID,
	)
	if err != nil {
		return nil, err
	}
	tracking.SortRecords(recs)
	return recs, nil
}

// loadRuns runs the run query and fills the child tables with one query
// each, restricted by filter.
func (s *Store) loadRuns(ctx context.Context, runQuery, filter string, arg string) ([]tracking.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(runQuery), arg)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var recs []tracking.Record
	index := make(map[string]int)
	for rows.Next() {
		var (
			info   tracking.RunInfo
			status string
			start  int64
			end    sql.NullInt64
		)
		if err := rows.Scan(&info.RunID, &info.ExperimentID, &info.RunName, &status, &start, &end, &info.ArtifactURI); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		info.Status = tracking.RunStatus(status)
		info.StartTime = fromMillis(start)
		if end.Valid {
			info.EndTime = fromMillis(end.Int64)
		}
		index[info.RunID] = len(recs)
		recs = append(recs, tracking.Record{
			Info:    info,
			Params:  map[string]string{},
			Metrics: map[string]float64{},
			Tags:    map[string]string{},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	if len(recs) == 0 {
		return nil, nil
	}

	if err := s.eachKV(ctx, `SELECT run_id, key, value FROM params WHERE `+filter+` ORDER BY run_id, key`, arg,
		func(runID, key, value string) { recs[index[runID]].Params[key] = value }); err != nil {
		return nil, err
	}
	if err := s.eachKV(ctx, `SELECT run_id, key, value FROM tags WHERE `+filter+` ORDER BY run_id, key`, arg,
		func(runID, key, value string) { recs[index[runID]].Tags[key] = value }); err != nil {
		return nil, err
	}
	if err := s.eachKV(ctx, `SELECT run_id, path, uri FROM artifacts WHERE `+filter+` ORDER BY run_id, created_at, path`, arg,
		func(runID, path, _ string) {
			i := index[runID]
			recs[i].Artifacts = append(recs[i].Artifacts, path)
		}); err != nil {
		return nil, err
	}

	mrows, err := s.db.QueryContext(ctx, s.rebind(`SELECT run_id, key, value FROM metrics WHERE `+filter), arg)
	if err != nil {
		return nil, errors.Wrap(err, "query metrics")
	}
	defer mrows.Close()
	for mrows.Next() {
		var runID, key string
		var value float64
		if err := mrows.Scan(&runID, &key, &value); err != nil {
			return nil, errors.Wrap(err, "scan metric")
		}
		if i, ok := index[runID]; ok {
			recs[i].Metrics[key] = value
		}
	}
	if err := mrows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate metrics")
	}
	return recs, nil
}

func (s *Store) eachKV(ctx context.Context, query, arg string, fn func(runID, key, value string)) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), arg)
	if err != nil {
		return errors.Wrap(err, "query run data")
	}
	defer rows.Close()
	for rows.Next() {
		var runID, key, value string
		if err := rows.Scan(&runID, &key, &value); err != nil {
			return errors.Wrap(err, "scan run data")
		}
		fn(runID, key, value)
	}
	return rows.Err()
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrap(errors.ErrNotFound, what)
	}
	return nil
}
