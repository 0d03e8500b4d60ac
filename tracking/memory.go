package tracking

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
)

// MemoryStore is a Store kept in process memory. Artifacts are held as
// bytes and addressed as memory://<run>/<name>.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment // by id
	runs        map[string]*memoryRun
	order       []string
}

type memoryRun struct {
	record    Record
	artifacts map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[string]*Experiment),
		runs:        make(map[string]*memoryRun),
	}
}

// NewID returns a random id in MLflow's 32-hex-digit form.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *MemoryStore) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.experiments {
		if e.Name == name {
			cp := *e
			return &cp, nil
		}
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "experiment %q", name)
}

func (s *MemoryStore) CreateExperiment(ctx context.Context, name string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.experiments {
		if e.Name == name {
			return nil, errors.Newf("experiment %q already exists", name)
		}
	}
	id := NewID()
	e := &Experiment{ID: id, Name: name, ArtifactLocation: "memory://" + id, CreatedAt: time.Now()}
	s.experiments[id] = e
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) CreateRun(ctx context.Context, experimentID, runName string, start time.Time) (*RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.experiments[experimentID]; !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "experiment %s", experimentID)
	}
	id := NewID()
	info := RunInfo{
		RunID:        id,
		ExperimentID: experimentID,
		RunName:      runName,
		Status:       StatusRunning,
		StartTime:    start,
		ArtifactURI:  "memory://" + id,
	}
	s.runs[id] = &memoryRun{
		record: Record{
			Info:    info,
			Params:  map[string]string{},
			Metrics: map[string]float64{},
			Tags:    map[string]string{RunNameTag: runName},
		},
		artifacts: map[string][]byte{},
	}
	s.order = append(s.order, id)
	return &info, nil
}

func (s *MemoryStore) run(runID string) (*memoryRun, error) {
	r, ok := s.runs[runID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "run %s", runID)
	}
	return r, nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, runID string, status RunStatus, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.run(runID)
	if err != nil {
		return err
	}
	r.record.Info.Status = status
	r.record.Info.EndTime = end
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	rec := r.snapshot()
	return &rec, nil
}

func (s *MemoryStore) SearchRuns(ctx context.Context, experimentID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, id := range s.order {
		r := s.runs[id]
		if r.record.Info.ExperimentID == experimentID {
			out = append(out, r.snapshot())
		}
	}
	SortRecords(out)
	return out, nil
}

func (s *MemoryStore) LogParam(ctx context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.run(runID)
	if err != nil {
		return err
	}
	if old, ok := r.record.Params[key]; ok && old != value {
		return errors.NewValidationError(key, "param already logged with a different value", value)
	}
	r.record.Params[key] = value
	return nil
}

func (s *MemoryStore) LogMetric(ctx context.Context, runID, key string, value float64, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.run(runID)
	if err != nil {
		return err
	}
	r.record.Metrics[key] = value
	return nil
}

func (s *MemoryStore) SetTag(ctx context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.run(runID)
	if err != nil {
		return err
	}
	r.record.Tags[key] = value
	return nil
}

func (s *MemoryStore) LogArtifact(ctx context.Context, runID, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.run(runID)
	if err != nil {
		return "", err
	}
	if _, ok := r.artifacts[name]; !ok {
		r.record.Artifacts = append(r.record.Artifacts, name)
	}
	r.artifacts[name] = append([]byte(nil), data...)
	return r.record.Info.ArtifactURI + "/" + name, nil
}

// Artifact returns the bytes stored under name.
func (s *MemoryStore) Artifact(runID, name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, false
	}
	data, ok := r.artifacts[name]
	return data, ok
}

func (s *MemoryStore) Close() error { return nil }

func (r *memoryRun) snapshot() Record {
	rec := Record{
		Info:      r.record.Info,
		Params:    make(map[string]string, len(r.record.Params)),
		Metrics:   make(map[string]float64, len(r.record.Metrics)),
		Tags:      make(map[string]string, len(r.record.Tags)),
		Artifacts: append([]string(nil), r.record.Artifacts...),
	}
	for k, v := range r.record.Params {
		rec.Params[k] = v
	}
	for k, v := range r.record.Metrics {
		rec.Metrics[k] = v
	}
	for k, v := range r.record.Tags {
		rec.Tags[k] = v
	}
	return rec
}
