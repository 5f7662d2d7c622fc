package trajectory

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/mesh"
)

type Mode int

const (
	// CollocationPoints samples every collocation point, plus the horizon
	// ends when they are not collocated.
	CollocationPoints Mode = iota
	// ElementInterpolation evaluates the element polynomials on evenly
	// spaced points.
	ElementInterpolation
)

func (m Mode) String() string {
	if m == ElementInterpolation {
		return "element_interpolation"
	}
	return "collocation_points"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "collocation_points", "":
		return CollocationPoints, nil
	case "element_interpolation":
		return ElementInterpolation, nil
	}
	return 0, fmt.Errorf("%w: result mode %q", dynamo.ErrInvalidOptions, s)
}

type Options struct {
	Mode Mode
	// EvalPoints per element in ElementInterpolation mode, both ends included.
	EvalPoints int
	// Scale divides the series of each named variable; nil keeps physical units.
	Scale map[string]float64
}

type sample struct {
	e   int
	tau float64
	// k is the collocation index, or -1
	k int
	// hold is the collocation index whose control value is reported at a
	// non-collocated sample in collocation-point mode
	hold int
}

// Reconstruct evaluates the solution x of layout l.
func Reconstruct(l *layout.Layout, x []float64, opts Options) (*Result, error) {
	if len(x) != l.Len() {
		return nil, fmt.Errorf("%w: %d values for %d positions", dynamo.ErrDimensionMismatch, len(x), l.Len())
	}
	prob := l.Problem
	m := l.Mesh
	T := prob.Horizon()

	var samples []sample
	switch opts.Mode {
	case CollocationPoints:
		samples = collocationSamples(l)
	case ElementInterpolation:
		n := max(opts.EvalPoints, 2)
		for e := range m.Elements {
			for j := 0; j < n; j++ {
				if j == 0 && e > 0 {
					continue
				}
				samples = append(samples, sample{e: e, tau: float64(j) / float64(n-1), k: -1, hold: -1})
			}
		}
	default:
		return nil, fmt.Errorf("%w: result mode %d", dynamo.ErrInvalidOptions, opts.Mode)
	}

	// node values and lengths per element
	nodes := make([][][]float64, m.Len())
	lengths := make([]float64, m.Len())
	for e, el := range m.Elements {
		lengths[e] = l.MustLookup(layout.Ref{Element: e, Kind: layout.Length}).Eval(x)
		nodes[e] = make([][]float64, len(prob.States))
		for i := range prob.States {
			ex := l.StateNodes(e, i)
			v := make([]float64, len(el.Scheme.Nodes))
			for j := range ex {
				v[j] = ex[j].Eval(x)
			}
			nodes[e][i] = v
		}
	}
	colloc := func(kind layout.Kind, e, i int) []float64 {
		K := len(m.Elements[e].Scheme.Colloc)
		v := make([]float64, K)
		for k := 0; k < K; k++ {
			v[k] = l.Value(layout.Ref{Element: e, Node: k, Kind: kind, Index: i}, x)
		}
		return v
	}

	res := &Result{Problem: prob.Name, Mode: opts.Mode.String(), Scaled: opts.Scale != nil}
	res.Time = make([]float64, len(samples))
	for s, sm := range samples {
		res.Time[s] = l.Time(sm.e, sm.tau).Eval(x)
	}

	for i, v := range prob.States {
		vals := make([]float64, len(samples))
		ders := make([]float64, len(samples))
		for s, sm := range samples {
			sc := m.Elements[sm.e].Scheme
			vals[s] = dot(sc.Basis(sm.tau, nil), nodes[sm.e][i])
			if sm.k >= 0 {
				ders[s] = l.Value(layout.Ref{Element: sm.e, Node: sm.k, Kind: layout.Derivative, Index: i}, x)
				continue
			}
			ders[s] = dot(sc.BasisDerivative(sm.tau, nil), nodes[sm.e][i]) / (lengths[sm.e] * T)
		}
		res.add(v.Name, scale(vals, opts.Scale, v.Name))
		res.add(Der(v.Name), scale(ders, opts.Scale, v.Name))
	}

	pointwise := func(kind layout.Kind, vars []dynamo.Variable) {
		for i, v := range vars {
			vals := make([]float64, len(samples))
			var cache []float64
			cached := -1
			for s, sm := range samples {
				if cached != sm.e {
					cache, cached = colloc(kind, sm.e, i), sm.e
				}
				switch {
				case sm.k >= 0:
					vals[s] = cache[sm.k]
				case sm.hold >= 0:
					vals[s] = cache[sm.hold]
				default:
					vals[s] = dot(m.Elements[sm.e].Scheme.ControlBasis(sm.tau, nil), cache)
				}
			}
			res.add(v.Name, scale(vals, opts.Scale, v.Name))
		}
	}
	pointwise(layout.Control, prob.Controls)
	pointwise(layout.Algebraic, prob.Algebraics)

	if len(prob.Parameters) > 0 {
		res.Parameters = make(map[string]float64, len(prob.Parameters))
		for i, p := range prob.Parameters {
			res.Parameters[p.Name] = l.MustLookup(layout.Ref{Kind: layout.Parameter, Index: i}).Eval(x)
		}
	}
	if m.IsFree() {
		res.HOpt = make([]float64, m.Len())
		for e, h := range lengths {
			res.HOpt[e] = float64(m.Len()) * h
		}
	}
	return res, nil
}

func collocationSamples(l *layout.Layout) []sample {
	m := l.Mesh
	var out []sample
	for e, el := range m.Elements {
		sc := el.Scheme
		K := len(sc.Colloc)
		if e == 0 && !sc.Collocated(0) {
			out = append(out, sample{e: 0, tau: 0, k: -1, hold: 0})
		}
		for k, node := range sc.Colloc {
			if node == 0 && e > 0 && endCollocated(m.Elements[e-1].Scheme) {
				// same instant as the previous element's end
				continue
			}
			out = append(out, sample{e: e, tau: sc.Nodes[node], k: k, hold: -1})
		}
		if e == m.Len()-1 && !endCollocated(sc) {
			out = append(out, sample{e: e, tau: 1, k: -1, hold: K - 1})
		}
	}
	return out
}

func endCollocated(sc *mesh.Scheme) bool {
	return sc.Nodes[sc.Colloc[len(sc.Colloc)-1]] == 1
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func scale(v []float64, s map[string]float64, name string) []float64 {
	if f, ok := s[name]; ok && f != 0 {
		for i := range v {
			v[i] /= f
		}
	}
	return v
}

func nan() float64 {
	return math.NaN()
}
