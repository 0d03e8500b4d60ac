package mlflow

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/tracking"
)

// fakeServer は MLflow REST API の最小限のサブセットを MemoryStore 上に実装する
type fakeServer struct {
	store *tracking.MemoryStore

	mu        sync.Mutex
	uploads   map[string][]byte
	calls     map[string]int
	pageLimit int
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	f := &fakeServer{
		store:   tracking.NewMemoryStore(),
		uploads: map[string][]byte{},
		calls:   map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/2.0/mlflow/experiments/get-by-name", f.getExperiment)
	mux.HandleFunc("/api/2.0/mlflow/experiments/create", f.createExperiment)
	mux.HandleFunc("/api/2.0/mlflow/runs/create", f.createRun)
	mux.HandleFunc("/api/2.0/mlflow/runs/update", f.updateRun)
	mux.HandleFunc("/api/2.0/mlflow/runs/get", f.getRun)
	mux.HandleFunc("/api/2.0/mlflow/runs/search", f.searchRuns)
	mux.HandleFunc("/api/2.0/mlflow/runs/log-parameter", f.logParam)
	mux.HandleFunc("/api/2.0/mlflow/runs/log-metric", f.logMetric)
	mux.HandleFunc("/api/2.0/mlflow/runs/set-tag", f.setTag)
	mux.HandleFunc("/api/2.0/mlflow/artifacts/list", f.listArtifacts)
	mux.HandleFunc("/api/2.0/mlflow-artifacts/artifacts/", f.putArtifact)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.URL.Path]++
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls["/api/2.0/mlflow/"+endpoint]
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, errors.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error_code": "RESOURCE_DOES_NOT_EXIST", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "INVALID_PARAMETER_VALUE", "message": err.Error()})
}

func decode(r *http.Request, v interface{}) {
	_ = json.NewDecoder(r.Body).Decode(v)
}

func runPayload(rec *tracking.Record) map[string]interface{} {
	info := map[string]interface{}{
		"run_id":        rec.Info.RunID,
		"experiment_id": rec.Info.ExperimentID,
		"run_name":      rec.Info.RunName,
		"status":        string(rec.Info.Status),
		"start_time":    rec.Info.StartTime.UnixMilli(),
		"artifact_uri":  "mlflow-artifacts:/" + rec.Info.ExperimentID + "/" + rec.Info.RunID + "/artifacts",
	}
	if !rec.Info.EndTime.IsZero() {
		// 文字列で返すサーバーにも対応できることを確認する
		info["end_time"] = itoa(rec.Info.EndTime.UnixMilli())
	}
	var params, tags, metrics []map[string]interface{}
	for k, v := range rec.Params {
		params = append(params, map[string]interface{}{"key": k, "value": v})
	}
	for k, v := range rec.Tags {
		tags = append(tags, map[string]interface{}{"key": k, "value": v})
	}
	for k, v := range rec.Metrics {
		metrics = append(metrics, map[string]interface{}{"key": k, "value": v, "timestamp": 0, "step": 0})
	}
	return map[string]interface{}{
		"info": info,
		"data": map[string]interface{}{"params": params, "tags": tags, "metrics": metrics},
	}
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func (f *fakeServer) getExperiment(w http.ResponseWriter, r *http.Request) {
	e, err := f.store.GetExperimentByName(r.Context(), r.URL.Query().Get("experiment_name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"experiment": map[string]interface{}{
		"experiment_id":     e.ID,
		"name":              e.Name,
		"artifact_location": "mlflow-artifacts:/" + e.ID,
		"creation_time":     "1700000000000",
	}})
}

func (f *fakeServer) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	decode(r, &req)
	e, err := f.store.CreateExperiment(r.Context(), req.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"experiment_id": e.ID})
}

func (f *fakeServer) createRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExperimentID string `json:"experiment_id"`
		RunName      string `json:"run_name"`
		StartTime    int64  `json:"start_time"`
	}
	decode(r, &req)
	info, err := f.store.CreateRun(r.Context(), req.ExperimentID, req.RunName, time.UnixMilli(req.StartTime))
	if err != nil {
		writeErr(w, err)
		return
	}
	rec, _ := f.store.GetRun(r.Context(), info.RunID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": runPayload(rec)})
}

func (f *fakeServer) updateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		EndTime int64  `json:"end_time"`
	}
	decode(r, &req)
	if err := f.store.UpdateRun(r.Context(), req.RunID, tracking.RunStatus(req.Status), time.UnixMilli(req.EndTime)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (f *fakeServer) getRun(w http.ResponseWriter, r *http.Request) {
	rec, err := f.store.GetRun(r.Context(), r.URL.Query().Get("run_id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": runPayload(rec)})
}

func (f *fakeServer) searchRuns(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExperimentIDs []string `json:"experiment_ids"`
		PageToken     string   `json:"page_token"`
	}
	decode(r, &req)
	recs, err := f.store.SearchRuns(r.Context(), req.ExperimentIDs[0])
	if err != nil {
		writeErr(w, err)
		return
	}
	// pageLimit 件ごとにページを分け、page_token には開始位置を入れる
	start := 0
	if req.PageToken != "" {
		_ = json.Unmarshal([]byte(req.PageToken), &start)
	}
	end := len(recs)
	next := ""
	if f.pageLimit > 0 && start+f.pageLimit < end {
		end = start + f.pageLimit
		next = itoa(int64(end))
	}
	var runs []map[string]interface{}
	for i := start; i < end; i++ {
		runs = append(runs, runPayload(&recs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "next_page_token": next})
}

func (f *fakeServer) logParam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	decode(r, &req)
	if err := f.store.LogParam(r.Context(), req.RunID, req.Key, req.Value); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (f *fakeServer) logMetric(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID     string  `json:"run_id"`
		Key       string  `json:"key"`
		Value     float64 `json:"value"`
		Timestamp int64   `json:"timestamp"`
	}
	decode(r, &req)
	if err := f.store.LogMetric(r.Context(), req.RunID, req.Key, req.Value, time.UnixMilli(req.Timestamp)); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (f *fakeServer) setTag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	decode(r, &req)
	if err := f.store.SetTag(r.Context(), req.RunID, req.Key, req.Value); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func (f *fakeServer) listArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	f.mu.Lock()
	var files []map[string]interface{}
	for path := range f.uploads {
		if strings.Contains(path, "/"+runID+"/artifacts/") {
			files = append(files, map[string]interface{}{"path": path[strings.LastIndex(path, "/")+1:], "is_dir": false})
		}
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}

func (f *fakeServer) putArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.uploads[strings.TrimPrefix(r.URL.Path, "/api/2.0/mlflow-artifacts/artifacts/")] = data
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{})
}

func TestStore_ExperimentLifecycle(t *testing.T) {
	ctx := context.Background()
	_, srv := newFakeServer(t)
	s := New(srv.URL)

	_, err := s.GetExperimentByName(ctx, "fraud")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "RESOURCE_DOES_NOT_EXIST", apiErr.Code)

	e, err := s.CreateExperiment(ctx, "fraud")
	require.NoError(t, err)
	assert.Equal(t, "fraud", e.Name)
	assert.Equal(t, int64(1700000000000), e.CreatedAt.UnixMilli(), "string timestamps are accepted")

	_, err = s.CreateExperiment(ctx, "fraud")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "INVALID_PARAMETER_VALUE", apiErr.Code)
}

func TestStore_RunThroughClient(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeServer(t)
	c := tracking.NewClient(New(srv.URL))

	_, err := c.SetExperiment(ctx, "fraud")
	require.NoError(t, err)
	run, err := c.StartRun(ctx, "Run_2_RF_Deeper_Trees_T05",
		tracking.Param{Key: "max_depth", Value: "15"},
		tracking.Param{Key: "n_estimators", Value: "150"},
	)
	require.NoError(t, err)

	require.NoError(t, run.LogMetric(ctx, "recall", 0.93))
	require.NoError(t, run.LogParam(ctx, "evaluation_threshold", "0.1"))
	uri, err := run.LogArtifact(ctx, "random_forest_model", []byte{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "mlflow-artifacts:/"))
	assert.True(t, strings.HasSuffix(uri, "/artifacts/random_forest_model"))
	require.NoError(t, run.End(ctx, tracking.StatusFinished))

	rec, err := c.Store().GetRun(ctx, run.ID())
	require.NoError(t, err)
	assert.Equal(t, tracking.StatusFinished, rec.Info.Status)
	assert.False(t, rec.Info.EndTime.IsZero())
	assert.Equal(t, "15", rec.Params["max_depth"])
	assert.Equal(t, "0.1", rec.Params["evaluation_threshold"])
	assert.Equal(t, 0.93, rec.Metrics["recall"])
	assert.Equal(t, "Run_2_RF_Deeper_Trees_T05", rec.Tags[tracking.RunNameTag])
	assert.Equal(t, []string{"random_forest_model"}, rec.Artifacts)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.uploads, 1)
	for path, data := range fake.uploads {
		assert.Contains(t, path, run.ID()+"/artifacts/random_forest_model")
		assert.Equal(t, []byte{1, 2, 3}, data)
	}
}

func TestStore_SearchRunsPaging(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeServer(t)
	fake.pageLimit = 2
	s := New(srv.URL)

	e, err := s.CreateExperiment(ctx, "fraud")
	require.NoError(t, err)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.CreateRun(ctx, e.ID, name, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	recs, err := s.SearchRuns(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "e", recs[0].Info.RunName)
	assert.Equal(t, "a", recs[4].Info.RunName)
	assert.Equal(t, 3, fake.count("runs/search"))
}

func TestStore_LogArtifactLooksUpUnknownRun(t *testing.T) {
	ctx := context.Background()
	fake, srv := newFakeServer(t)
	writer := New(srv.URL)
	e, err := writer.CreateExperiment(ctx, "fraud")
	require.NoError(t, err)
	info, err := writer.CreateRun(ctx, e.ID, "run", time.Now())
	require.NoError(t, err)

	// 別インスタンスは artifact_uri を知らないので runs/get で取得する
	other := New(srv.URL)
	_, err = other.LogArtifact(ctx, info.RunID, "model", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, fake.count("runs/get"))

	_, err = other.LogArtifact(ctx, info.RunID, "nested/model", []byte("x"))
	assert.Error(t, err)
}

func TestStore_ServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	s := New(srv.URL)

	err := s.LogParam(context.Background(), "run", "k", "v")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Message)
	assert.False(t, errors.Is(err, errors.ErrNotFound))
}
