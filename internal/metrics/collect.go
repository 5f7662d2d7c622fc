// Package metrics summarizes reconstructed trajectories.
package metrics

import (
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/trajectory"
)

// Default returns the metrics attached to every solve.
func Default() []dynamo.Metric {
	return []dynamo.Metric{NewControlRMS(), NewControlEffort()}
}

// Collect feeds every sample of res to ms and returns their values by name.
func Collect(res *trajectory.Result, states, controls []string, ms ...dynamo.Metric) (map[string]float64, error) {
	xs := make([][]float64, len(states))
	for i, name := range states {
		s, err := res.Get(name)
		if err != nil {
			return nil, err
		}
		xs[i] = s
	}
	us := make([][]float64, len(controls))
	for i, name := range controls {
		s, err := res.Get(name)
		if err != nil {
			return nil, err
		}
		us[i] = s
	}

	for _, m := range ms {
		m.Reset()
	}
	x := make(dynamo.State, len(states))
	u := make(dynamo.Control, len(controls))
	for k, t := range res.Time {
		for i := range xs {
			x[i] = xs[i][k]
		}
		for i := range us {
			u[i] = us[i][k]
		}
		for _, m := range ms {
			m.Observe(x, u, t)
		}
	}

	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Value()
	}
	return out, nil
}
