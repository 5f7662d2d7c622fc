package integrators

import (
	"errors"
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// ErrStepRejected is returned by StepAdaptive when the local error exceeds
// the tolerance; the returned step size is the suggested retry.
var ErrStepRejected = errors.New("integrators: step rejected")

// Dormand-Prince 5(4). The last stage evaluates the fifth-order solution
// and only feeds the error estimate.
var dopri = struct {
	a    [][]float64
	c    []float64
	b    []float64
	berr []float64
}{
	a: [][]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	},
	c: []float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1},
	b: []float64{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84, 0},
	berr: []float64{
		35.0/384 - 5179.0/57600,
		0,
		500.0/1113 - 7571.0/16695,
		125.0/192 - 393.0/640,
		-2187.0/6784 + 92097.0/339200,
		11.0/84 - 187.0/2100,
		-1.0 / 40,
	},
}

// RK45 is an embedded Dormand-Prince integrator. Step covers the requested
// interval with as many accepted substeps as Tol needs.
type RK45 struct {
	Tol         float64
	Safety      float64
	MinScale    float64
	MaxScale    float64
	MaxSubsteps int

	h       float64
	k       []dynamo.State
	scratch dynamo.State
}

func NewRK45() *RK45 {
	return &RK45{
		Tol:         1e-8,
		Safety:      0.9,
		MinScale:    0.2,
		MaxScale:    5,
		MaxSubsteps: 10000,
		k:           make([]dynamo.State, len(dopri.b)),
	}
}

func (r *RK45) Name() string { return "rk45" }

// Step returns NaN states when the interval cannot be covered within
// MaxSubsteps.
func (r *RK45) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	end := t + dt
	h := dt
	if r.h > 0 && r.h < dt {
		h = r.h
	}
	for n := 0; n < r.MaxSubsteps; n++ {
		if rest := end - t; h >= rest {
			h = rest
		}
		next, suggested, err := r.StepAdaptive(dyn, x, u, t, h, r.Tol)
		if err == nil {
			x, t = next, t+h
			r.h = suggested
			if t >= end-1e-14*math.Max(1, math.Abs(end)) {
				return x
			}
		}
		h = suggested
	}
	bad := make(dynamo.State, len(x))
	for i := range bad {
		bad[i] = math.NaN()
	}
	return bad
}

// StepAdaptive takes one trial step of size dt and returns the state, the
// suggested size of the next step and ErrStepRejected when the scaled error
// norm exceeds one.
func (r *RK45) StepAdaptive(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt, tol float64) (dynamo.State, float64, error) {
	if len(r.k) != len(dopri.b) {
		r.k = make([]dynamo.State, len(dopri.b))
	}
	if len(r.scratch) != len(x) {
		r.scratch = make(dynamo.State, len(x))
	}
	stages(dyn, dopri.a, dopri.c, r.k, r.scratch, x, u, t, dt)

	// row 6 of a equals b, so the last stage input is the new state
	xNew := r.scratch.Clone()

	sum := 0.0
	for i := range x {
		est := 0.0
		for s, e := range dopri.berr {
			est += e * r.k[s][i]
		}
		sc := tol * (1 + math.Max(math.Abs(x[i]), math.Abs(xNew[i])))
		sum += (dt * est / sc) * (dt * est / sc)
	}
	ratio := math.Sqrt(sum / float64(len(x)))

	scale := r.MaxScale
	if ratio > 0 {
		scale = math.Min(r.MaxScale, math.Max(r.MinScale, r.Safety*math.Pow(ratio, -0.2)))
	}
	if math.IsNaN(ratio) {
		return x, dt * r.MinScale, ErrStepRejected
	}
	if ratio > 1 {
		return x, dt * math.Min(scale, 0.9), ErrStepRejected
	}
	return xNew, dt * scale, nil
}
