package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/tracking"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	artifacts := filepath.Join(dir, "artifacts")
	s, err := Open("sqlite://"+filepath.Join(dir, "db", "mlruns.db"), artifacts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, artifacts
}

func TestStore_Experiments(t *testing.T) {
	ctx := context.Background()
	s, artifacts := openTestStore(t)

	_, err := s.GetExperimentByName(ctx, "fraud")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	created, err := s.CreateExperiment(ctx, "fraud")
	require.NoError(t, err)
	assert.Len(t, created.ID, 32)
	assert.Equal(t, filepath.Join(artifacts, created.ID), created.ArtifactLocation)

	got, err := s.GetExperimentByName(ctx, "fraud")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)

	_, err = s.CreateExperiment(ctx, "fraud")
	assert.Error(t, err, "experiment names are unique")
}

func TestStore_RunRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	exp, err := s.CreateExperiment(ctx, "fraud")
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	info, err := s.CreateRun(ctx, exp.ID, "Run_1_RF_Baseline", start)
	require.NoError(t, err)
	assert.Equal(t, tracking.StatusRunning, info.Status)

	require.NoError(t, s.LogParam(ctx, info.RunID, "n_estimators", "100"))
	require.NoError(t, s.LogParam(ctx, info.RunID, "class_weight", "balanced"))
	require.NoError(t, s.LogMetric(ctx, info.RunID, "precision", 0.25, start))
	require.NoError(t, s.LogMetric(ctx, info.RunID, "precision", 0.5, start.Add(time.Second)))
	require.NoError(t, s.LogMetric(ctx, info.RunID, "recall", 0.9, start))
	require.NoError(t, s.SetTag(ctx, info.RunID, "stage", "dev"))

	path, err := s.LogArtifact(ctx, info.RunID, "random_forest_model", []byte("gob bytes"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gob bytes", string(data))

	end := start.Add(time.Minute)
	require.NoError(t, s.UpdateRun(ctx, info.RunID, tracking.StatusFinished, end))

	rec, err := s.GetRun(ctx, info.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Run_1_RF_Baseline", rec.Info.RunName)
	assert.Equal(t, tracking.StatusFinished, rec.Info.Status)
	assert.Equal(t, start, rec.Info.StartTime)
	assert.Equal(t, end, rec.Info.EndTime)
	assert.Equal(t, map[string]string{"n_estimators": "100", "class_weight": "balanced"}, rec.Params)
	assert.Equal(t, map[string]float64{"precision": 0.5, "recall": 0.9}, rec.Metrics)
	assert.Equal(t, "Run_1_RF_Baseline", rec.Tags[tracking.RunNameTag])
	assert.Equal(t, "dev", rec.Tags["stage"])
	assert.Equal(t, []string{"random_forest_model"}, rec.Artifacts)
}

func TestStore_ParamsAreImmutable(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	exp, err := s.CreateExperiment(ctx, "fraud")
	require.NoError(t, err)
	info, err := s.CreateRun(ctx, exp.ID, "run", time.Now())
	require.NoError(t, err)

	require.NoError(t, s.LogParam(ctx, info.RunID, "max_depth", "10"))
	require.NoError(t, s.LogParam(ctx, info.RunID, "max_depth", "10"))

	err = s.LogParam(ctx, info.RunID, "max_depth", "15")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve), "got %v", err)
}

func TestStore_SearchRuns(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	fraud, err := s.CreateExperiment(ctx, "fraud")
	require.NoError(t, err)
	other, err := s.CreateExperiment(ctx, "other")
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i, name := range []string{"Run_1", "Run_2", "Run_3"} {
		info, err := s.CreateRun(ctx, fraud.ID, name, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.NoError(t, s.LogMetric(ctx, info.RunID, "f1_score", float64(i)/10, base))
		ids = append(ids, info.RunID)
	}
	_, err = s.CreateRun(ctx, other.ID, "elsewhere", base)
	require.NoError(t, err)

	runs, err := s.SearchRuns(ctx, fraud.ID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "Run_3", runs[0].Info.RunName)
	assert.Equal(t, "Run_1", runs[2].Info.RunName)
	assert.Equal(t, 0.2, runs[0].Metrics["f1_score"])
	assert.Equal(t, ids[0], runs[2].Info.RunID)
	assert.True(t, runs[0].Info.EndTime.IsZero(), "open runs have no end time")

	empty, err := s.CreateExperiment(ctx, "empty")
	require.NoError(t, err)
	runs, err = s.SearchRuns(ctx, empty.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)

	_, err := s.GetRun(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = s.CreateRun(ctx, "missing", "run", time.Now())
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = s.UpdateRun(ctx, "missing", tracking.StatusFinished, time.Now())
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = s.LogArtifact(ctx, "missing", "model", nil)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestStore_ArtifactNames(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	exp, err := s.CreateExperiment(ctx, "fraud")
	require.NoError(t, err)
	info, err := s.CreateRun(ctx, exp.ID, "run", time.Now())
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "../escape", "nested/model"} {
		_, err := s.LogArtifact(ctx, info.RunID, name, []byte("x"))
		assert.Error(t, err, "name %q", name)
	}
}

func TestStore_ClientIntegration(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t)
	c := tracking.NewClient(s)

	_, err := c.SetExperiment(ctx, "fraud")
	require.NoError(t, err)
	run, err := c.StartRun(ctx, "Run_1", tracking.Param{Key: "max_depth", Value: "10"})
	require.NoError(t, err)
	require.NoError(t, run.LogMetric(ctx, "recall", 0.8))
	require.NoError(t, run.End(ctx, tracking.StatusFinished))

	runs, err := c.SearchRuns(ctx, "fraud")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, tracking.StatusFinished, runs[0].Info.Status)
	assert.Equal(t, "10", runs[0].Params["max_depth"])
}

func TestOpen_Schemes(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(filepath.Join(dir, "plain.db"), filepath.Join(dir, "a"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open("mysql://localhost/db", dir)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
