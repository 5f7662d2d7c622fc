package trajectory

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/layout"
)

// Policy decides what happens when a new layout reaches outside the
// horizon of the result it is seeded from.
type Policy int

const (
	// Strict fails with ErrExtrapolation.
	Strict Policy = iota
	// ClampHold repeats the first and last samples.
	ClampHold
)

// Sampler evaluates the series of a result at arbitrary times by piecewise
// linear interpolation.
type Sampler struct {
	res    *Result
	policy Policy
	t0, tf float64
	tol    float64
	fits   map[string]*interp.PiecewiseLinear
}

func NewSampler(res *Result, policy Policy) (*Sampler, error) {
	if len(res.Time) < 2 {
		return nil, fmt.Errorf("%w: %d samples", dynamo.ErrInvalidOptions, len(res.Time))
	}
	t0, tf := res.Horizon()
	return &Sampler{
		res:    res,
		policy: policy,
		t0:     t0,
		tf:     tf,
		tol:    1e-9 * math.Max(1, tf-t0),
		fits:   make(map[string]*interp.PiecewiseLinear),
	}, nil
}

// Covers reports whether [a, b] lies inside the sampled horizon.
func (s *Sampler) Covers(a, b float64) bool {
	return a >= s.t0-s.tol && b <= s.tf+s.tol
}

func (s *Sampler) Has(name string) bool {
	_, ok := s.res.Series[name]
	return ok
}

// At returns series name at time t.
func (s *Sampler) At(name string, t float64) (float64, error) {
	if t < s.t0-s.tol || t > s.tf+s.tol {
		if s.policy != ClampHold {
			return 0, fmt.Errorf("%w: t=%g outside [%g, %g]", dynamo.ErrExtrapolation, t, s.t0, s.tf)
		}
	}
	fit, err := s.fit(name)
	if err != nil {
		return 0, err
	}
	return fit.Predict(math.Min(math.Max(t, s.t0), s.tf)), nil
}

func (s *Sampler) fit(name string) (*interp.PiecewiseLinear, error) {
	if f, ok := s.fits[name]; ok {
		return f, nil
	}
	ys, err := s.res.Get(name)
	if err != nil {
		return nil, err
	}
	// element boundaries may repeat an instant; keep the first sample
	xs := make([]float64, 0, len(ys))
	vs := make([]float64, 0, len(ys))
	for i, t := range s.res.Time {
		if len(xs) > 0 && t <= xs[len(xs)-1] {
			continue
		}
		xs = append(xs, t)
		vs = append(vs, ys[i])
	}
	var f interp.PiecewiseLinear
	if err := f.Fit(xs, vs); err != nil {
		return nil, fmt.Errorf("%w: series %q: %v", dynamo.ErrInvalidOptions, name, err)
	}
	s.fits[name] = &f
	return &f, nil
}

// InitialGuess resamples prev onto the positions of l. Unknowns without a
// matching series keep their start values; free element lengths are taken
// from prev when it has as many elements.
func InitialGuess(prev *Result, l *layout.Layout, policy Policy) ([]float64, error) {
	if prev.Scaled {
		return nil, fmt.Errorf("%w: scaled results cannot seed a solve", dynamo.ErrInvalidOptions)
	}
	smp, err := NewSampler(prev, policy)
	if err != nil {
		return nil, err
	}
	prob := l.Problem
	if policy == Strict && !smp.Covers(prob.StartTime, prob.FinalTime) {
		return nil, fmt.Errorf("%w: [%g, %g] is not inside [%g, %g]", dynamo.ErrExtrapolation,
			prob.StartTime, prob.FinalTime, smp.t0, smp.tf)
	}

	x := l.Start()
	start := append([]float64(nil), x...)
	for pos := range x {
		r := l.Owner(pos)
		var name string
		var tau float64
		sc := l.Mesh.Elements[r.Element].Scheme
		switch r.Kind {
		case layout.State:
			name, tau = prob.States[r.Index].Name, sc.Nodes[r.Node]
		case layout.Derivative:
			name, tau = Der(prob.States[r.Index].Name), sc.Nodes[sc.Colloc[r.Node]]
		case layout.Control:
			name, tau = prob.Controls[r.Index].Name, sc.Nodes[sc.Colloc[r.Node]]
		case layout.Algebraic:
			name, tau = prob.Algebraics[r.Index].Name, sc.Nodes[sc.Colloc[r.Node]]
		case layout.Parameter:
			if v, ok := prev.Parameters[prob.Parameters[r.Index].Name]; ok {
				x[pos] = v
			}
			continue
		case layout.Length:
			if len(prev.HOpt) == l.Mesh.Len() {
				x[pos] = prev.HOpt[r.Element] / float64(l.Mesh.Len())
			}
			continue
		}
		if !smp.Has(name) {
			continue
		}
		t := l.Time(r.Element, tau).Eval(start)
		v, err := smp.At(name, t)
		if err != nil {
			return nil, err
		}
		x[pos] = v
	}
	return x, nil
}
