package trajectory

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Simulate replays the controls of res through the explicit system of prob
// with a fixed step, starting from the first reconstructed state. Each step
// holds the control sampled at its midpoint.
func Simulate(prob *dynamo.Problem, res *Result, integ dynamo.Integrator, dt float64) (*Result, error) {
	if prob.System == nil {
		return nil, fmt.Errorf("%w: %s has no explicit system", dynamo.ErrInvalidProblem, prob.Name)
	}
	if !(dt > 0) {
		return nil, fmt.Errorf("%w: dt = %g", dynamo.ErrInvalidOptions, dt)
	}
	if res.Scaled {
		return nil, fmt.Errorf("%w: cannot simulate a scaled result", dynamo.ErrInvalidOptions)
	}
	smp, err := NewSampler(res, ClampHold)
	if err != nil {
		return nil, err
	}

	x := make(dynamo.State, len(prob.States))
	for i, v := range prob.States {
		s, err := res.Get(v.Name)
		if err != nil {
			return nil, err
		}
		x[i] = s[0]
	}
	control := func(t float64) (dynamo.Control, error) {
		u := make(dynamo.Control, len(prob.Controls))
		for i, v := range prob.Controls {
			val, err := smp.At(v.Name, t)
			if err != nil {
				return nil, err
			}
			u[i] = val
		}
		return u, nil
	}

	out := &Result{Problem: prob.Name, Mode: "simulation", Solver: fmt.Sprintf("%T", integ)}
	if n, ok := integ.(interface{ Name() string }); ok {
		out.Solver = n.Name()
	}
	series := make([][]float64, len(prob.States)+len(prob.Controls))
	record := func(t float64, x dynamo.State, u dynamo.Control) {
		out.Time = append(out.Time, t)
		for i := range x {
			series[i] = append(series[i], x[i])
		}
		for i := range u {
			series[len(x)+i] = append(series[len(x)+i], u[i])
		}
	}

	t0, tf := res.Horizon()
	t := t0
	for {
		u, err := control(t)
		if err != nil {
			return nil, err
		}
		record(t, x, u)
		if t >= tf-1e-12*math.Max(1, tf-t0) {
			break
		}
		h := math.Min(dt, tf-t)
		mid, err := control(t + h/2)
		if err != nil {
			return nil, err
		}
		x = integ.Step(prob.System, x, mid, t, h)
		if !x.IsValid() {
			return nil, fmt.Errorf("%w: simulation diverged at t=%g", dynamo.ErrInvalidProblem, t)
		}
		t += h
	}

	for i, v := range prob.States {
		out.add(v.Name, series[i])
	}
	for i, v := range prob.Controls {
		out.add(v.Name, series[len(prob.States)+i])
	}
	return out, nil
}

// Deviation returns, per name, the largest absolute difference between a
// and b over the samples of a.
func Deviation(a, b *Result, names []string) (map[string]float64, error) {
	smp, err := NewSampler(b, ClampHold)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(names))
	for _, name := range names {
		s, err := a.Get(name)
		if err != nil {
			return nil, err
		}
		worst := 0.0
		for i, t := range a.Time {
			v, err := smp.At(name, t)
			if err != nil {
				return nil, err
			}
			worst = math.Max(worst, math.Abs(s[i]-v))
		}
		out[name] = worst
	}
	return out, nil
}
