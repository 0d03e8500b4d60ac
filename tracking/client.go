package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
)

// Client is a single-slot tracking handle. At most one run is open at a
// time; StartRun fails with a RunStateError while another run is open.
type Client struct {
	store  Store
	logger log.Logger
	now    func() time.Time

	mu         sync.Mutex
	experiment *Experiment
	active     *Run
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(logger log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithClock overrides the time source used for run and metric timestamps.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client over store.
func NewClient(store Store, opts ...ClientOption) *Client {
	c := &Client{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.GetLoggerWithName("tracking")
	}
	return c
}

// Store returns the backend.
func (c *Client) Store() Store { return c.store }

// SetExperiment makes name the current experiment, creating it if needed.
func (c *Client) SetExperiment(ctx context.Context, name string) (*Experiment, error) {
	if name == "" {
		return nil, errors.NewValidationError("experiment", "must not be empty", name)
	}
	exp, err := c.store.GetExperimentByName(ctx, name)
	if errors.Is(err, errors.ErrNotFound) {
		exp, err = c.store.CreateExperiment(ctx, name)
		if err == nil {
			c.logger.Info("Experiment created", log.ExperimentNameKey, name, log.ExperimentIDKey, exp.ID)
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "set experiment %q", name)
	}

	c.mu.Lock()
	c.experiment = exp
	c.mu.Unlock()
	return exp, nil
}

// Experiment returns the current experiment, or nil.
func (c *Client) Experiment() *Experiment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.experiment
}

// GetExperimentByName looks up an experiment without changing the current one.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	return c.store.GetExperimentByName(ctx, name)
}

// StartRun opens a run in the current experiment and logs params on it.
// If logging a param fails the run is closed as FAILED and the error
// returned.
func (c *Client) StartRun(ctx context.Context, name string, params ...Param) (*Run, error) {
	c.mu.Lock()
	if c.active != nil {
		activeID := c.active.info.RunID
		c.mu.Unlock()
		return nil, errors.NewRunStateError("StartRun", "open", activeID)
	}
	exp := c.experiment
	if exp == nil {
		c.mu.Unlock()
		return nil, errors.NewValueError("StartRun", "no experiment set, call SetExperiment first")
	}

	info, err := c.store.CreateRun(ctx, exp.ID, name, c.now())
	if err != nil {
		c.mu.Unlock()
		return nil, errors.Wrapf(err, "create run %q", name)
	}
	run := &Run{
		client: c,
		info:   *info,
		logger: c.logger.With(log.RunIDKey, info.RunID, log.RunNameKey, name),
	}
	c.active = run
	c.mu.Unlock()

	run.logger.Info("Run started", log.ExperimentNameKey, exp.Name)

	if err := run.LogParams(ctx, params...); err != nil {
		return nil, errors.CombineErrors(err, run.End(ctx, StatusFailed))
	}
	return run, nil
}

// Active returns the open run, or nil.
func (c *Client) Active() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SearchRuns returns every run of the named experiment, newest first.
func (c *Client) SearchRuns(ctx context.Context, experimentName string) ([]Record, error) {
	exp, err := c.store.GetExperimentByName(ctx, experimentName)
	if err != nil {
		return nil, err
	}
	return c.store.SearchRuns(ctx, exp.ID)
}

// Close closes the backend.
func (c *Client) Close() error {
	return c.store.Close()
}

func (c *Client) release(r *Run) {
	c.mu.Lock()
	if c.active == r {
		c.active = nil
	}
	c.mu.Unlock()
}

// Run is an open run scope. End must be called on every path; calling it
// more than once is a no-op.
type Run struct {
	client *Client
	logger log.Logger

	mu     sync.Mutex
	info   RunInfo
	closed bool
}

// ID returns the run id.
func (r *Run) ID() string { return r.info.RunID }

// Name returns the run name.
func (r *Run) Name() string { return r.info.RunName }

// ExperimentID returns the id of the run's experiment.
func (r *Run) ExperimentID() string { return r.info.ExperimentID }

// Info returns a copy of the run's identity and status.
func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info
}

// Closed reports whether End has been called.
func (r *Run) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Run) requireOpen(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.NewRunStateError(op, "closed", r.info.RunID)
	}
	return nil
}

// LogParam records a hyperparameter.
func (r *Run) LogParam(ctx context.Context, key, value string) error {
	if err := r.requireOpen("LogParam"); err != nil {
		return err
	}
	if err := r.client.store.LogParam(ctx, r.info.RunID, key, value); err != nil {
		return errors.Wrapf(err, "log param %q", key)
	}
	return nil
}

// LogParams records params in order, stopping at the first failure.
func (r *Run) LogParams(ctx context.Context, params ...Param) error {
	for _, p := range params {
		if err := r.LogParam(ctx, p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// LogMetric records a metric value.
func (r *Run) LogMetric(ctx context.Context, key string, value float64) error {
	if err := r.requireOpen("LogMetric"); err != nil {
		return err
	}
	if err := r.client.store.LogMetric(ctx, r.info.RunID, key, value, r.client.now()); err != nil {
		return errors.Wrapf(err, "log metric %q", key)
	}
	return nil
}

// SetTag records a tag.
func (r *Run) SetTag(ctx context.Context, key, value string) error {
	if err := r.requireOpen("SetTag"); err != nil {
		return err
	}
	if err := r.client.store.SetTag(ctx, r.info.RunID, key, value); err != nil {
		return errors.Wrapf(err, "set tag %q", key)
	}
	return nil
}

// LogArtifact stores data as a named artifact of the run.
func (r *Run) LogArtifact(ctx context.Context, name string, data []byte) (string, error) {
	if err := r.requireOpen("LogArtifact"); err != nil {
		return "", err
	}
	uri, err := r.client.store.LogArtifact(ctx, r.info.RunID, name, data)
	if err != nil {
		return "", errors.Wrapf(err, "log artifact %q", name)
	}
	r.logger.Debug("Artifact logged", "artifact.name", name, "artifact.uri", uri, "artifact.bytes", len(data))
	return uri, nil
}

// End closes the run with a terminal status. The slot is released even
// when the backend update fails. Cancellation of ctx does not prevent the
// update.
func (r *Run) End(ctx context.Context, status RunStatus) error {
	if !status.Terminal() {
		return errors.NewValidationError("status", "must be FINISHED, FAILED or KILLED", string(status))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	end := r.client.now()
	r.info.Status = status
	r.info.EndTime = end
	r.mu.Unlock()

	defer r.client.release(r)

	if err := r.client.store.UpdateRun(context.WithoutCancel(ctx), r.info.RunID, status, end); err != nil {
		r.logger.Error("Failed to close run", err, log.RunStatusKey, string(status))
		return errors.Wrapf(err, "end run %s", r.info.RunID)
	}
	r.logger.Info("Run ended", log.RunStatusKey, string(status))
	return nil
}
