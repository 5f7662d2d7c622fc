// Package optim sweeps transcription options over a grid and ranks the
// solves by a scalar figure of merit.
package optim

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/san-kum/dynopt/internal/experiment"
)

// Builder prepares an experiment for one grid point.
type Builder func(params map[string]float64) (*experiment.Experiment, error)

// Sample is one evaluated grid point. Failed points keep their error and a
// NaN value.
type Sample struct {
	Params     map[string]float64
	Value      float64
	Cost       float64
	Status     string
	Iterations int
	Err        error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	// Workers bounds concurrent solves; zero means GOMAXPROCS.
	Workers int
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("%d parameters with %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("parameter %s has an empty range", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Points enumerates the grid with the last parameter varying fastest.
func (g *GridSearch) Points() []map[string]float64 {
	var out []map[string]float64
	var walk func(depth int, current map[string]float64)
	walk = func(depth int, current map[string]float64) {
		if depth == len(g.paramNames) {
			out = append(out, current)
			return
		}
		for _, val := range g.ranges[depth] {
			next := make(map[string]float64, len(current)+1)
			for k, v := range current {
				next[k] = v
			}
			next[g.paramNames[depth]] = val
			walk(depth+1, next)
		}
	}
	walk(0, map[string]float64{})
	return out
}

// Search solves every grid point and returns the samples in grid order and
// the index of the one minimizing metric among converged solves, or -1.
func (g *GridSearch) Search(ctx context.Context, build Builder, metric string) ([]Sample, int, error) {
	points := g.Points()
	samples := make([]Sample, len(points))

	workers := g.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, p := range points {
		wg.Add(1)
		go func(idx int, params map[string]float64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			samples[idx] = evaluate(ctx, build, params, metric)
		}(i, p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return samples, -1, err
	}

	best := -1
	for i, s := range samples {
		if s.Err != nil || math.IsNaN(s.Value) {
			continue
		}
		if s.Status != "converged" && s.Status != "acceptable" {
			continue
		}
		if best < 0 || s.Value < samples[best].Value {
			best = i
		}
	}
	return samples, best, nil
}

func evaluate(ctx context.Context, build Builder, params map[string]float64, metric string) Sample {
	s := Sample{Params: params, Value: math.NaN(), Cost: math.NaN()}
	if err := ctx.Err(); err != nil {
		s.Err = err
		return s
	}
	exp, err := build(params)
	if err != nil {
		s.Err = err
		return s
	}
	out, err := exp.Run(ctx)
	if err != nil {
		s.Err = err
		return s
	}
	res := out.Result
	s.Cost, s.Status, s.Iterations = res.Cost, res.Status, res.Iterations
	s.Value, s.Err = Measure(out, metric)
	return s
}

// Measure reads a named figure of merit from an outcome: cost, iterations,
// sol_time in seconds, or any entry of the result metrics.
func Measure(out *experiment.Outcome, metric string) (float64, error) {
	res := out.Result
	switch metric {
	case "cost":
		return res.Cost, nil
	case "iterations":
		return float64(res.Iterations), nil
	case "sol_time":
		return res.Timings.Sol.Seconds(), nil
	}
	v, ok := res.Metrics[metric]
	if !ok {
		known := make([]string, 0, len(res.Metrics))
		for k := range res.Metrics {
			known = append(known, k)
		}
		sort.Strings(known)
		return math.NaN(), fmt.Errorf("unknown metric %q, have cost, iterations, sol_time and %v", metric, known)
	}
	return v, nil
}
