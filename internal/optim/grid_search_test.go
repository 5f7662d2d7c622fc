package optim

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/trajectory"
)

func base() experiment.Config {
	o := config.DefaultOptions()
	o.Elements, o.Degree = 2, 3
	return experiment.Config{Problem: "double_integrator", Options: o}
}

func TestNewGridSearch(t *testing.T) {
	_, err := NewGridSearch([]string{"n_e"}, nil)
	assert.Error(t, err)
	_, err = NewGridSearch([]string{"n_e"}, [][]float64{{}})
	assert.Error(t, err)
}

func TestPoints(t *testing.T) {
	g, err := NewGridSearch([]string{"n_e", "n_cp"}, [][]float64{{2, 4}, {1, 2, 3}})
	require.NoError(t, err)
	pts := g.Points()
	require.Len(t, pts, 6)
	assert.Equal(t, map[string]float64{"n_e": 2, "n_cp": 1}, pts[0])
	assert.Equal(t, map[string]float64{"n_e": 2, "n_cp": 2}, pts[1])
	assert.Equal(t, map[string]float64{"n_e": 4, "n_cp": 3}, pts[5])
}

func TestSearch(t *testing.T) {
	g, err := NewGridSearch([]string{"n_e"}, [][]float64{{0, 1, 2, 4}})
	require.NoError(t, err)
	g.Workers = 2

	samples, best, err := g.Search(context.Background(), OptionBuilder(experiment.NewRegistry(), base(), nil), "cost")
	require.NoError(t, err)
	require.Len(t, samples, 4)

	assert.ErrorIs(t, samples[0].Err, dynamo.ErrInvalidMeshConfig)
	assert.True(t, math.IsNaN(samples[0].Value))
	for _, s := range samples[1:] {
		require.NoError(t, s.Err)
		assert.Equal(t, "converged", s.Status)
		assert.InDelta(t, 12, s.Value, 1e-6)
		assert.Equal(t, s.Cost, s.Value)
	}
	require.GreaterOrEqual(t, best, 1)
	for _, s := range samples[1:] {
		assert.LessOrEqual(t, samples[best].Value, s.Value)
	}
}

func TestSearchMetric(t *testing.T) {
	g, err := NewGridSearch([]string{"n_e"}, [][]float64{{2}})
	require.NoError(t, err)
	build := OptionBuilder(experiment.NewRegistry(), base(), nil)

	samples, best, err := g.Search(context.Background(), build, "u_norm")
	require.NoError(t, err)
	assert.Equal(t, 0, best)
	assert.Greater(t, samples[0].Value, 0.0)

	samples, best, err = g.Search(context.Background(), build, "no_such_metric")
	require.NoError(t, err)
	assert.Equal(t, -1, best)
	assert.Error(t, samples[0].Err)
}

func TestSearchCancelled(t *testing.T) {
	g, err := NewGridSearch([]string{"n_e"}, [][]float64{{2, 3}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	samples, best, err := g.Search(ctx, OptionBuilder(experiment.NewRegistry(), base(), nil), "cost")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, best)
	for _, s := range samples {
		assert.ErrorIs(t, s.Err, context.Canceled)
	}
}

func TestOptionBuilder(t *testing.T) {
	build := OptionBuilder(experiment.NewRegistry(), base(), nil)
	exp, err := build(map[string]float64{"n_cp": 4, "solver.max_iter": 50, "solver.tol": 1e-7})
	require.NoError(t, err)

	opts := exp.Transcription().Options
	assert.Equal(t, 2, opts.Elements)
	assert.Equal(t, 4, opts.Degree)
	assert.Equal(t, 50, opts.Solver.MaxIter)
	assert.Equal(t, 1e-7, opts.Solver.Tol)

	_, err = build(map[string]float64{"n_cp": 0})
	assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)
	_, err = build(map[string]float64{"model.mu": 1})
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
}

func TestSearchModelParam(t *testing.T) {
	g, err := NewGridSearch([]string{"model.m"}, [][]float64{{1, 2}})
	require.NoError(t, err)

	samples, best, err := g.Search(context.Background(), OptionBuilder(experiment.NewRegistry(), base(), nil), "cost")
	require.NoError(t, err)
	assert.Equal(t, 0, best)
	assert.InDelta(t, 12, samples[0].Value, 1e-5)
	assert.InDelta(t, 48, samples[1].Value, 1e-5)
}

func TestMeasure(t *testing.T) {
	out := &experiment.Outcome{Result: &trajectory.Result{
		Cost:       3,
		Iterations: 9,
		Timings:    trajectory.Timings{Sol: 1500000000},
		Metrics:    map[string]float64{"u_norm": 0.5},
	}}
	for metric, want := range map[string]float64{"cost": 3, "iterations": 9, "sol_time": 1.5, "u_norm": 0.5} {
		got, err := Measure(out, metric)
		require.NoError(t, err, metric)
		assert.Equal(t, want, got, metric)
	}
	_, err := Measure(out, "energy")
	assert.Error(t, err)
}
