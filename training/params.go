package training

import (
	"github.com/YuminosukeSato/fraudml/config"
	"github.com/YuminosukeSato/fraudml/core/model"
	"github.com/YuminosukeSato/fraudml/tracking"
)

// Params is an immutable ordered mapping of hyperparameter names to values.
// The zero value is empty and usable.
type Params struct {
	entries []config.Param
}

// NewParams copies list into a Params. Later duplicates replace earlier
// values in place.
func NewParams(list config.ParamList) Params {
	var p Params
	for _, e := range list {
		p = p.With(e.Name, e.Value)
	}
	return p
}

// Len returns the number of parameters.
func (p Params) Len() int { return len(p.entries) }

// Get returns the value of name.
func (p Params) Get(name string) (interface{}, bool) {
	for _, e := range p.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return nil, false
}

// Keys returns the names in order.
func (p Params) Keys() []string {
	keys := make([]string, len(p.entries))
	for i, e := range p.entries {
		keys[i] = e.Name
	}
	return keys
}

// With returns a copy with name set to value. An existing name keeps its
// position.
func (p Params) With(name string, value interface{}) Params {
	return Params{entries: config.ParamList(p.entries).With(name, value)}
}

// Without returns a copy without name.
func (p Params) Without(name string) Params {
	out := make([]config.Param, 0, len(p.entries))
	for _, e := range p.entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return Params{entries: out}
}

// Map returns the parameters as a map, for SetParams.
func (p Params) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(p.entries))
	for _, e := range p.entries {
		m[e.Name] = e.Value
	}
	return m
}

// Tracking returns the parameters formatted for a tracking store, in order.
func (p Params) Tracking() []tracking.Param {
	out := make([]tracking.Param, len(p.entries))
	for i, e := range p.entries {
		out[i] = tracking.Param{Key: e.Name, Value: model.FormatParam(e.Value)}
	}
	return out
}

// RunConfig is one training run: a name, the model hyperparameters and the
// decision threshold used for evaluation.
type RunConfig struct {
	Name      string
	Params    Params
	Threshold float64
}

// FromSpec converts a configured run.
func FromSpec(spec config.RunSpec) RunConfig {
	return RunConfig{
		Name:      spec.Name,
		Params:    NewParams(spec.Params),
		Threshold: spec.Threshold,
	}
}

// FromSpecs converts configured runs, keeping their order.
func FromSpecs(specs []config.RunSpec) []RunConfig {
	out := make([]RunConfig, len(specs))
	for i, s := range specs {
		out[i] = FromSpec(s)
	}
	return out
}
