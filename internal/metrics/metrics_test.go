package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/trajectory"
)

func ramp() *trajectory.Result {
	return &trajectory.Result{
		Time:  []float64{0, 0.5, 1, 2},
		Names: []string{"x", "u"},
		Series: map[string][]float64{
			"x": {0, 1, 2, 20},
			"u": {-1, 0, 1, 1},
		},
	}
}

func TestCollect(t *testing.T) {
	got, err := Collect(ramp(), []string{"x"}, []string{"u"}, append(Default(), NewStability(10))...)
	require.NoError(t, err)

	assert.InDelta(t, math.Sqrt(3.0/4), got["u_norm"], 1e-12)
	// |u| is 1, 0, 1, 1: trapezoids 0.25 + 0.25 + 1
	assert.InDelta(t, 1.5, got["control_effort"], 1e-12)
	assert.InDelta(t, 0.75, got["stability"], 1e-12)
}

func TestCollectResetsBetweenRuns(t *testing.T) {
	ms := Default()
	first, err := Collect(ramp(), []string{"x"}, []string{"u"}, ms...)
	require.NoError(t, err)
	second, err := Collect(ramp(), []string{"x"}, []string{"u"}, ms...)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCollectMissingSeries(t *testing.T) {
	_, err := Collect(ramp(), []string{"y"}, nil, Default()...)
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
}

func TestStabilityPerStateNominal(t *testing.T) {
	s := NewStability(10, 1, 100)
	s.Observe(dynamo.State{5, 500}, nil, 0)
	s.Observe(dynamo.State{5, 1500}, nil, 1)
	s.Observe(dynamo.State{-11, 0}, nil, 2)
	s.Observe(dynamo.State{0, 0, 12}, nil, 3)
	assert.InDelta(t, 0.25, s.Value(), 1e-12)

	s.Reset()
	assert.Equal(t, 1.0, s.Value())
}

func TestEmptyMetrics(t *testing.T) {
	assert.Equal(t, 0.0, NewControlRMS().Value())
	assert.Equal(t, 0.0, NewControlEffort().Value())
	assert.Equal(t, 1.0, NewStability(1).Value())
}
