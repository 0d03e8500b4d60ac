package training

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/YuminosukeSato/fraudml/config"
	"github.com/YuminosukeSato/fraudml/tracking"
)

func TestParams(t *testing.T) {
	p := NewParams(config.ParamList{
		{Name: "n_estimators", Value: 100},
		{Name: "max_depth", Value: nil},
		{Name: "n_estimators", Value: 150},
	})

	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"n_estimators", "max_depth"}, p.Keys())
	v, ok := p.Get("n_estimators")
	assert.True(t, ok)
	assert.Equal(t, 150, v)
	_, ok = p.Get("missing")
	assert.False(t, ok)

	q := p.With("max_depth", 15).With("class_weight", "balanced")
	assert.Equal(t, []string{"n_estimators", "max_depth", "class_weight"}, q.Keys())
	v, _ = p.Get("max_depth")
	assert.Nil(t, v, "With does not modify the receiver")

	assert.Equal(t, []string{"max_depth", "class_weight"}, q.Without("n_estimators").Keys())
	assert.Equal(t, 3, q.Len())

	var zero Params
	assert.Equal(t, 0, zero.Len())
	assert.Equal(t, []string{"a"}, zero.With("a", 1).Keys())
}

func TestParams_Tracking(t *testing.T) {
	p := NewParams(config.ParamList{
		{Name: "n_estimators", Value: 100},
		{Name: "max_depth", Value: nil},
		{Name: "class_weight", Value: "balanced"},
		{Name: "learning_rate", Value: 0.1},
		{Name: "bootstrap", Value: true},
	})

	assert.Equal(t, []tracking.Param{
		{Key: "n_estimators", Value: "100"},
		{Key: "max_depth", Value: "None"},
		{Key: "class_weight", Value: "balanced"},
		{Key: "learning_rate", Value: "0.1"},
		{Key: "bootstrap", Value: "True"},
	}, p.Tracking())
}

func TestFromSpecs(t *testing.T) {
	runs := FromSpecs(config.DefaultRuns())

	assert.Len(t, runs, 3)
	assert.Equal(t, "Run_1_RF_Baseline", runs[0].Name)
	assert.Equal(t, 0.5, runs[0].Threshold)
	assert.Equal(t, "Run_2_RF_Deeper_Trees_T05", runs[1].Name)
	assert.Equal(t, 0.10, runs[1].Threshold)

	depth, _ := runs[1].Params.Get("max_depth")
	assert.Equal(t, 15, depth)
	trees, _ := runs[2].Params.Get("n_estimators")
	assert.Equal(t, 50, trees)
	trees, _ = runs[0].Params.Get("n_estimators")
	assert.Equal(t, 100, trees, "runs do not share parameter storage")
}
