// Package tracking records experiment runs: their parameters, metrics, tags
// and artifacts.
//
// A Store is a persistence backend (SQL database or MLflow server). Client
// sits in front of a Store and enforces the run lifecycle: one open run at a
// time, every run closed exactly once.
package tracking

import (
	"context"
	"sort"
	"time"
)

// RunStatus is the lifecycle status of a run, using MLflow's names.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
	StatusKilled   RunStatus = "KILLED"
)

// Terminal reports whether s closes a run.
func (s RunStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusKilled
}

// RunNameTag is the tag under which run names are stored.
const RunNameTag = "mlflow.runName"

// Experiment groups runs under a name.
type Experiment struct {
	ID               string
	Name             string
	ArtifactLocation string
	CreatedAt        time.Time
}

// RunInfo is the identity and status of a run.
type RunInfo struct {
	RunID        string
	ExperimentID string
	RunName      string
	Status       RunStatus
	StartTime    time.Time
	EndTime      time.Time // zero while running
	ArtifactURI  string
}

// Record is a run as read back from a Store.
type Record struct {
	Info      RunInfo
	Params    map[string]string
	Metrics   map[string]float64
	Tags      map[string]string
	Artifacts []string
}

// Metric returns the latest value of a metric and whether it was logged.
func (r Record) Metric(key string) (float64, bool) {
	v, ok := r.Metrics[key]
	return v, ok
}

// Param is a logged hyperparameter. Values are stored as strings.
type Param struct {
	Key   string
	Value string
}

// Store is a tracking backend.
//
// GetExperimentByName and GetRun return an error wrapping errors.ErrNotFound
// when the entity does not exist. SearchRuns returns runs newest first.
type Store interface {
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)
	CreateExperiment(ctx context.Context, name string) (*Experiment, error)

	CreateRun(ctx context.Context, experimentID, runName string, start time.Time) (*RunInfo, error)
	UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) error
	GetRun(ctx context.Context, runID string) (*Record, error)
	SearchRuns(ctx context.Context, experimentID string) ([]Record, error)

	LogParam(ctx context.Context, runID, key, value string) error
	LogMetric(ctx context.Context, runID, key string, value float64, ts time.Time) error
	SetTag(ctx context.Context, runID, key, value string) error
	// LogArtifact stores data under name and returns its location.
	LogArtifact(ctx context.Context, runID, name string, data []byte) (string, error)

	Close() error
}

// SortRecords orders runs newest first, breaking ties by run id.
func SortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Info, records[j].Info
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return a.RunID < b.RunID
	})
}
