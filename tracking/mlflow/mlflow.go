// Package mlflow implements tracking.Store against an MLflow 2.x tracking
// server's REST API.
package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
	"github.com/YuminosukeSato/fraudml/tracking"
)

const (
	apiPrefix          = "/api/2.0/mlflow/"
	artifactsPrefix    = "/api/2.0/mlflow-artifacts/artifacts/"
	proxiedArtifactURI = "mlflow-artifacts:/"

	// searchPageSize is the page size requested from runs/search.
	searchPageSize = 1000
)

// APIError is a non-2xx response from the server. Missing resources
// unwrap to errors.ErrNotFound.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mlflow: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Code == "RESOURCE_DOES_NOT_EXIST" || e.StatusCode == http.StatusNotFound {
		return errors.ErrNotFound
	}
	return nil
}

// Store talks to an MLflow tracking server.
type Store struct {
	baseURL string
	client  *http.Client
	logger  log.Logger

	mu           sync.Mutex
	artifactURIs map[string]string // run id -> artifact_uri
}

var _ tracking.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) { s.client = client }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store for the server at baseURL (e.g. http://localhost:5000).
func New(baseURL string, opts ...Option) *Store {
	s := &Store{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 30 * time.Second},
		artifactURIs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.GetLoggerWithName("mlflow")
	}
	return s
}

// timestamp decodes int64 fields that the server may send as numbers or
// strings.
type timestamp int64

func (t *timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*t = timestamp(v)
	return nil
}

func (t timestamp) time() time.Time {
	if t == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(t)).UTC()
}

type experimentJSON struct {
	ExperimentID     string    `json:"experiment_id"`
	Name             string    `json:"name"`
	ArtifactLocation string    `json:"artifact_location"`
	CreationTime     timestamp `json:"creation_time"`
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type metricJSON struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Timestamp timestamp `json:"timestamp"`
	Step      int64     `json:"step"`
}

type runInfoJSON struct {
	RunID        string    `json:"run_id"`
	ExperimentID string    `json:"experiment_id"`
	RunName      string    `json:"run_name"`
	Status       string    `json:"status"`
	StartTime    timestamp `json:"start_time"`
	EndTime      timestamp `json:"end_time"`
	ArtifactURI  string    `json:"artifact_uri"`
}

type runJSON struct {
	Info runInfoJSON `json:"info"`
	Data struct {
		Metrics []metricJSON `json:"metrics"`
		Params  []keyValue   `json:"params"`
		Tags    []keyValue   `json:"tags"`
	} `json:"data"`
}

func (r runInfoJSON) toInfo() tracking.RunInfo {
	return tracking.RunInfo{
		RunID:        r.RunID,
		ExperimentID: r.ExperimentID,
		RunName:      r.RunName,
		Status:       tracking.RunStatus(r.Status),
		StartTime:    r.StartTime.time(),
		EndTime:      r.EndTime.time(),
		ArtifactURI:  r.ArtifactURI,
	}
}

func (r runJSON) toRecord() tracking.Record {
	rec := tracking.Record{
		Info:    r.Info.toInfo(),
		Params:  make(map[string]string, len(r.Data.Params)),
		Metrics: make(map[string]float64, len(r.Data.Metrics)),
		Tags:    make(map[string]string, len(r.Data.Tags)),
	}
	for _, p := range r.Data.Params {
		rec.Params[p.Key] = p.Value
	}
	for _, m := range r.Data.Metrics {
		rec.Metrics[m.Key] = m.Value
	}
	for _, t := range r.Data.Tags {
		rec.Tags[t.Key] = t.Value
	}
	if rec.Info.RunName == "" {
		rec.Info.RunName = rec.Tags[tracking.RunNameTag]
	}
	return rec
}

// call sends a request to the tracking API. body is JSON-encoded when not
// nil; out is decoded when not nil.
func (s *Store) call(ctx context.Context, method, endpoint string, query url.Values, body, out interface{}) error {
	target := s.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "encode %s request", endpoint)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return errors.Wrapf(err, "build %s request", endpoint)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(req, endpoint, out)
}

func (s *Store) do(req *http.Request, endpoint string, out interface{}) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "mlflow %s", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			ErrorCode string `json:"error_code"`
			Message   string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.ErrorCode != "" {
			apiErr.Code = payload.ErrorCode
			apiErr.Message = payload.Message
		}
		return errors.Wrapf(errors.WithStack(apiErr), "mlflow %s", endpoint)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", endpoint)
	}
	return nil
}

// GetExperimentByName calls experiments/get-by-name.
func (s *Store) GetExperimentByName(ctx context.Context, name string) (*tracking.Experiment, error) {
	var out struct {
		Experiment experimentJSON `json:"experiment"`
	}
	q := url.Values{"experiment_name": {name}}
	if err := s.call(ctx, http.MethodGet, "experiments/get-by-name", q, nil, &out); err != nil {
		return nil, err
	}
	e := out.Experiment
	return &tracking.Experiment{
		ID:               e.ExperimentID,
		Name:             e.Name,
		ArtifactLocation: e.ArtifactLocation,
		CreatedAt:        e.CreationTime.time(),
	}, nil
}

// CreateExperiment calls experiments/create and reads the experiment back.
func (s *Store) CreateExperiment(ctx context.Context, name string) (*tracking.Experiment, error) {
	var out struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := s.call(ctx, http.MethodPost, "experiments/create", nil, map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	s.logger.Debug("Experiment created", log.ExperimentNameKey, name, log.ExperimentIDKey, out.ExperimentID)
	return s.GetExperimentByName(ctx, name)
}

// CreateRun calls runs/create with the run name tag.
func (s *Store) CreateRun(ctx context.Context, experimentID, runName string, start time.Time) (*tracking.RunInfo, error) {
	body := map[string]interface{}{
		"experiment_id": experimentID,
		"run_name":      runName,
		"start_time":    start.UnixMilli(),
		"tags":          []keyValue{{Key: tracking.RunNameTag, Value: runName}},
	}
	var out struct {
		Run runJSON `json:"run"`
	}
	if err := s.call(ctx, http.MethodPost, "runs/create", nil, body, &out); err != nil {
		return nil, err
	}
	info := out.Run.Info.toInfo()
	if info.RunName == "" {
		info.RunName = runName
	}

	s.mu.Lock()
	s.artifactURIs[info.RunID] = info.ArtifactURI
	s.mu.Unlock()
	return &info, nil
}

// UpdateRun calls runs/update.
func (s *Store) UpdateRun(ctx context.Context, runID string, status tracking.RunStatus, end time.Time) error {
	body := map[string]interface{}{
		"run_id":   runID,
		"status":   string(status),
		"end_time": end.UnixMilli(),
	}
	return s.call(ctx, http.MethodPost, "runs/update", nil, body, nil)
}

// GetRun calls runs/get and artifacts/list.
func (s *Store) GetRun(ctx context.Context, runID string) (*tracking.Record, error) {
	var out struct {
		Run runJSON `json:"run"`
	}
	if err := s.call(ctx, http.MethodGet, "runs/get", url.Values{"run_id": {runID}}, nil, &out); err != nil {
		return nil, err
	}
	rec := out.Run.toRecord()

	var files struct {
		Files []struct {
			Path  string `json:"path"`
			IsDir bool   `json:"is_dir"`
		} `json:"files"`
	}
	if err := s.call(ctx, http.MethodGet, "artifacts/list", url.Values{"run_id": {runID}}, nil, &files); err != nil {
		s.logger.Warn("Artifact listing failed", err, log.RunIDKey, runID)
	}
	for _, f := range files.Files {
		if !f.IsDir {
			rec.Artifacts = append(rec.Artifacts, f.Path)
		}
	}
	return &rec, nil
}

// SearchRuns pages through runs/search.
func (s *Store) SearchRuns(ctx context.Context, experimentID string) ([]tracking.Record, error) {
	var (
		recs  []tracking.Record
		token string
	)
	for {
		body := map[string]interface{}{
			"experiment_ids": []string{experimentID},
			"max_results":    searchPageSize,
			"order_by":       []string{"attributes.start_time DESC"},
		}
		if token != "" {
			body["page_token"] = token
		}
		var out struct {
			Runs          []runJSON `json:"runs"`
			NextPageToken string    `json:"next_page_token"`
		}
		if err := s.call(ctx, http.MethodPost, "runs/search", nil, body, &out); err != nil {
			return nil, err
		}
		for _, r := range out.Runs {
			recs = append(recs, r.toRecord())
		}
		if out.NextPageToken == "" {
			break
		}
		token = out.NextPageToken
	}
	tracking.SortRecords(recs)
	return recs, nil
}

// LogParam calls runs/log-parameter.
func (s *Store) LogParam(ctx context.Context, runID, key, value string) error {
	body := map[string]string{"run_id": runID, "key": key, "value": value}
	return s.call(ctx, http.MethodPost, "runs/log-parameter", nil, body, nil)
}

// LogMetric calls runs/log-metric at step 0.
func (s *Store) LogMetric(ctx context.Context, runID, key string, value float64, ts time.Time) error {
	body := map[string]interface{}{
		"run_id":    runID,
		"key":       key,
		"value":     value,
		"timestamp": ts.UnixMilli(),
		"step":      0,
	}
	return s.call(ctx, http.MethodPost, "runs/log-metric", nil, body, nil)
}

// SetTag calls runs/set-tag.
func (s *Store) SetTag(ctx context.Context, runID, key, value string) error {
	body := map[string]string{"run_id": runID, "key": key, "value": value}
	return s.call(ctx, http.MethodPost, "runs/set-tag", nil, body, nil)
}

// LogArtifact uploads data through the server's artifact proxy. Only runs
// whose artifact URI is mlflow-artifacts:/ can be written.
func (s *Store) LogArtifact(ctx context.Context, runID, name string, data []byte) (string, error) {
	if name == "" || strings.Contains(name, "/") || name == "." || name == ".." {
		return "", errors.NewValidationError("artifact", "must be a plain file name", name)
	}

	s.mu.Lock()
	root, ok := s.artifactURIs[runID]
	s.mu.Unlock()
	if !ok {
		var out struct {
			Run runJSON `json:"run"`
		}
		if err := s.call(ctx, http.MethodGet, "runs/get", url.Values{"run_id": {runID}}, nil, &out); err != nil {
			return "", err
		}
		root = out.Run.Info.ArtifactURI
		s.mu.Lock()
		s.artifactURIs[runID] = root
		s.mu.Unlock()
	}
	if !strings.HasPrefix(root, proxiedArtifactURI) {
		return "", errors.Wrapf(errors.ErrNotImplemented, "artifact root %q is not served by the tracking server", root)
	}

	rel := strings.TrimLeft(strings.TrimPrefix(root, proxiedArtifactURI), "/") + "/" + name
	target := s.baseURL + artifactsPrefix + rel
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "build artifact request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if err := s.do(req, "artifacts", nil); err != nil {
		return "", err
	}
	return strings.TrimRight(root, "/") + "/" + name, nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
