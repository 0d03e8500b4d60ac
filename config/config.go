// Package config holds the pipeline configuration.
//
// The configuration is an explicit value passed to the pipeline driver and
// the feature preparer. Defaults reproduce the baseline fraud experiment; a
// JSON file named by FRAUDML_CONFIG and FRAUDML_* environment variables may
// override them.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
)

// ConfigEnv names the environment variable holding an optional config file path.
const ConfigEnv = "FRAUDML_CONFIG"

// Config is the complete pipeline configuration.
type Config struct {
	Dataset    DatasetConfig  `json:"dataset"`
	Features   FeatureConfig  `json:"features"`
	Experiment string         `json:"experiment"`
	Tracking   TrackingConfig `json:"tracking"`
	Cache      CacheConfig    `json:"cache"`
	Runs       []RunSpec      `json:"runs"`
	Logging    LoggingConfig  `json:"logging"`
	Report     ReportConfig   `json:"report"`
}

// DatasetConfig selects and caps the data source.
type DatasetConfig struct {
	// Source is one of "hub", "csv" or "synthetic".
	Source string `json:"source"`
	Name   string `json:"name"`
	Target string `json:"target"`
	Limit  int    `json:"limit"`

	HubURL  string `json:"hubUrl"`
	CSVPath string `json:"csvPath"`
	Timeout int    `json:"timeout"` // seconds

	Synthetic SyntheticConfig `json:"synthetic"`
}

// SyntheticConfig parameterizes the generated dataset.
type SyntheticConfig struct {
	FraudRate float64 `json:"fraudRate"`
	Seed      uint64  `json:"seed"`
}

// FeatureConfig controls column handling and the train/test split.
type FeatureConfig struct {
	DropColumns       []string `json:"dropColumns"`
	CategoricalColumn string   `json:"categoricalColumn"`
	TestSize          float64  `json:"testSize"`
	RandomState       uint64   `json:"randomState"`
	Stratify          bool     `json:"stratify"`
}

// TrackingConfig selects the tracking backend.
//
// URI forms: "sqlite://<path>", "postgres://...", "http(s)://<mlflow server>".
type TrackingConfig struct {
	URI         string `json:"uri"`
	ArtifactDir string `json:"artifactDir"`
}

// CacheConfig configures the Redis frame cache. Disabled unless Addr is set.
type CacheConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTL      int    `json:"ttl"` // seconds
}

// Enabled reports whether a cache address is configured.
func (c CacheConfig) Enabled() bool {
	return c.Addr != ""
}

// TTLDuration returns TTL as a time.Duration.
func (c CacheConfig) TTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Pretty bool   `json:"pretty"` // console writer instead of JSON
}

// ReportConfig configures the comparison image.
type ReportConfig struct {
	Path string `json:"path"`
}

// DefaultThreshold is the decision threshold of a run that does not set one.
const DefaultThreshold = 0.5

// RunSpec is one configured training run.
type RunSpec struct {
	Name      string    `json:"name"`
	Params    ParamList `json:"params"`
	Threshold float64   `json:"threshold"`
}

// UnmarshalJSON decodes a run, defaulting an absent threshold to
// DefaultThreshold.
func (r *RunSpec) UnmarshalJSON(data []byte) error {
	type plain RunSpec
	aux := plain{Threshold: DefaultThreshold}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = RunSpec(aux)
	return nil
}

// Param is a single hyperparameter.
type Param struct {
	Name  string
	Value interface{}
}

// ParamList is an ordered set of hyperparameters. In JSON it is an object;
// key order is preserved.
type ParamList []Param

// UnmarshalJSON decodes an object while keeping key order. Numbers are kept
// as json.Number.
func (p *ParamList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "decode params")
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.Newf("params must be a JSON object, got %v", tok)
	}

	var out ParamList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "decode params key")
		}
		key, _ := keyTok.(string)
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return errors.Wrapf(err, "decode param %q", key)
		}
		out = append(out, Param{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return errors.Wrap(err, "decode params")
	}
	*p = out
	return nil
}

// MarshalJSON encodes the list as an object in order.
func (p ParamList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(param.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(param.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "encode param %q", param.Name)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// With returns a copy with name set to value. An existing entry keeps its
// position; a new one is appended.
func (p ParamList) With(name string, value interface{}) ParamList {
	out := make(ParamList, len(p), len(p)+1)
	copy(out, p)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Param{Name: name, Value: value})
}

// BaselineParams are the hyperparameters of the baseline run.
func BaselineParams() ParamList {
	return ParamList{
		{Name: "n_estimators", Value: 100},
		{Name: "max_depth", Value: 10},
		{Name: "random_state", Value: 42},
		{Name: "class_weight", Value: "balanced"},
	}
}

// DefaultRuns returns the three standard runs: the baseline, deeper trees
// with a lowered threshold, and a small fast forest.
func DefaultRuns() []RunSpec {
	base := BaselineParams()
	return []RunSpec{
		{
			Name:      "Run_1_RF_Baseline",
			Params:    base,
			Threshold: 0.5,
		},
		{
			Name:      "Run_2_RF_Deeper_Trees_T05",
			Params:    base.With("max_depth", 15).With("n_estimators", 150),
			Threshold: 0.10,
		},
		{
			Name:      "Run_3_RF_Fast_Simple",
			Params:    base.With("max_depth", 8).With("n_estimators", 50),
			Threshold: 0.5,
		},
	}
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Source:  "hub",
			Name:    "vitaliy-sharandin/synthetic-fraud-detection",
			Target:  "isFraud",
			Limit:   500000,
			HubURL:  "https://datasets-server.huggingface.co",
			Timeout: 60,
			Synthetic: SyntheticConfig{
				FraudRate: 0.01,
				Seed:      42,
			},
		},
		Features: FeatureConfig{
			DropColumns:       []string{"nameOrig", "nameDest", "isFlaggedFraud"},
			CategoricalColumn: "type",
			TestSize:          0.2,
			RandomState:       42,
			Stratify:          true,
		},
		Experiment: "Detecção Fraudes - Logistic Regression Baseline",
		Tracking: TrackingConfig{
			URI:         "sqlite://./mlruns.db",
			ArtifactDir: "./mlartifacts",
		},
		Cache: CacheConfig{
			TTL: 86400,
		},
		Runs: DefaultRuns(),
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
		Report: ReportConfig{
			Path: "precision_vs_recall_tradeoff.png",
		},
	}
}

// Load reads a JSON file over the defaults. Fields absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// FromEnv loads the file named by FRAUDML_CONFIG (when set), applies
// environment overrides and validates the result.
func FromEnv() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(ConfigEnv); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies FRAUDML_* overrides. lookup is usually os.LookupEnv.
// MLFLOW_TRACKING_URI is honored when FRAUDML_TRACKING_URI is unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.NewValidationError(key, "must be an integer", v)
		}
		*dst = n
		return nil
	}

	str("FRAUDML_DATASET_SOURCE", &c.Dataset.Source)
	str("FRAUDML_DATASET_NAME", &c.Dataset.Name)
	str("FRAUDML_TARGET", &c.Dataset.Target)
	str("FRAUDML_HUB_URL", &c.Dataset.HubURL)
	str("FRAUDML_CSV_PATH", &c.Dataset.CSVPath)
	if err := num("FRAUDML_DATASET_LIMIT", &c.Dataset.Limit); err != nil {
		return err
	}

	str("FRAUDML_EXPERIMENT", &c.Experiment)
	str("MLFLOW_TRACKING_URI", &c.Tracking.URI)
	str("FRAUDML_TRACKING_URI", &c.Tracking.URI)
	str("FRAUDML_ARTIFACT_DIR", &c.Tracking.ArtifactDir)

	str("FRAUDML_REDIS_ADDR", &c.Cache.Addr)
	str("FRAUDML_REDIS_PASSWORD", &c.Cache.Password)
	if err := num("FRAUDML_REDIS_DB", &c.Cache.DB); err != nil {
		return err
	}
	if err := num("FRAUDML_CACHE_TTL", &c.Cache.TTL); err != nil {
		return err
	}

	str("FRAUDML_LOG_LEVEL", &c.Logging.Level)
	if v, ok := lookup("FRAUDML_LOG_PRETTY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.NewValidationError("FRAUDML_LOG_PRETTY", "must be a boolean", v)
		}
		c.Logging.Pretty = b
	}
	str("FRAUDML_REPORT_PATH", &c.Report.Path)
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Dataset.Source {
	case "hub":
		if c.Dataset.HubURL == "" {
			return errors.NewValidationError("dataset.hubUrl", "required for the hub source", c.Dataset.HubURL)
		}
	case "csv":
		if c.Dataset.CSVPath == "" {
			return errors.NewValidationError("dataset.csvPath", "required for the csv source", c.Dataset.CSVPath)
		}
	case "synthetic":
		if c.Dataset.Synthetic.FraudRate <= 0 || c.Dataset.Synthetic.FraudRate >= 1 {
			return errors.NewValidationError("dataset.synthetic.fraudRate", "must be in (0, 1)", c.Dataset.Synthetic.FraudRate)
		}
	default:
		return errors.NewValidationError("dataset.source", "must be 'hub', 'csv' or 'synthetic'", c.Dataset.Source)
	}
	if strings.TrimSpace(c.Dataset.Name) == "" {
		return errors.NewValidationError("dataset.name", "must not be empty", c.Dataset.Name)
	}
	if c.Dataset.Target == "" {
		return errors.NewValidationError("dataset.target", "must not be empty", c.Dataset.Target)
	}
	if c.Dataset.Limit <= 0 {
		return errors.NewValidationError("dataset.limit", "must be positive", c.Dataset.Limit)
	}
	if c.Features.TestSize <= 0 || c.Features.TestSize >= 1 {
		return errors.NewValidationError("features.testSize", "must be in (0, 1)", c.Features.TestSize)
	}
	if c.Experiment == "" {
		return errors.NewValidationError("experiment", "must not be empty", c.Experiment)
	}
	if c.Tracking.URI == "" {
		return errors.NewValidationError("tracking.uri", "must not be empty", c.Tracking.URI)
	}
	if c.Cache.TTL < 0 {
		return errors.NewValidationError("cache.ttl", "must be >= 0", c.Cache.TTL)
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if len(c.Runs) == 0 {
		return errors.NewValidationError("runs", "at least one run is required", len(c.Runs))
	}
	seen := make(map[string]bool, len(c.Runs))
	for i, run := range c.Runs {
		if run.Name == "" {
			return errors.NewValidationError("runs.name", "must not be empty", i)
		}
		if seen[run.Name] {
			return errors.NewValidationError("runs.name", "must be unique", run.Name)
		}
		seen[run.Name] = true
		if run.Threshold < 0 || run.Threshold > 1 {
			return errors.NewValidationError("runs.threshold", "must be in [0, 1]", run.Threshold)
		}
	}
	return nil
}
