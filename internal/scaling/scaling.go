// Package scaling applies diagonal variable and row scaling to an NLP and
// maps solutions back to physical units.
package scaling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/nlp"
)

const (
	// gradientTarget caps the scaled row gradient, as in IPOPT's
	// gradient-based scaling.
	gradientTarget = 100
	epsilon        = 0x1p-52
)

// Table holds strictly positive factors: x = Vars*x̂ and ĝ = Rows*g.
type Table struct {
	Vars      []float64
	Rows      []float64
	Objective float64
}

type Hints struct {
	// Nominal overrides the nominal magnitude of variables by name.
	Nominal map[string]float64
	// Rows multiplies every row of an origin.
	Rows map[nlp.Origin]float64
	// Objective multiplies the cost; zero means 1.
	Objective float64
}

// Identity returns a table of ones.
func Identity(n, m int) *Table {
	t := &Table{Vars: make([]float64, n), Rows: make([]float64, m), Objective: 1}
	for i := range t.Vars {
		t.Vars[i] = 1
	}
	for i := range t.Rows {
		t.Rows[i] = 1
	}
	return t
}

// Derive builds the table from the variable nominals of l and the row origins.
func Derive(l *layout.Layout, origins []nlp.Origin, hints Hints) (*Table, error) {
	t := Identity(l.Len(), len(origins))
	names := make(map[string]bool)
	for _, g := range [][]dynamo.Variable{l.Problem.States, l.Problem.Controls, l.Problem.Algebraics, l.Problem.Parameters} {
		for _, v := range g {
			names[v.Name] = true
		}
	}
	for name := range hints.Nominal {
		if !names[name] {
			return nil, fmt.Errorf("%w: nominal for unknown variable %q", dynamo.ErrInvalidOptions, name)
		}
	}

	for pos := range t.Vars {
		r := l.Owner(pos)
		s := l.Nominal(r)
		if v, ok := variableName(l, r); ok {
			if o, ok := hints.Nominal[v]; ok {
				s = o
			}
		}
		t.Vars[pos] = math.Abs(s)
	}
	for i, o := range origins {
		if s, ok := hints.Rows[o]; ok {
			t.Rows[i] = s
		}
	}
	if hints.Objective != 0 {
		t.Objective = hints.Objective
	}
	return t, t.Validate()
}

func variableName(l *layout.Layout, r layout.Ref) (string, bool) {
	p := l.Problem
	switch r.Kind {
	case layout.State, layout.Derivative:
		return p.States[r.Index].Name, true
	case layout.Control:
		return p.Controls[r.Index].Name, true
	case layout.Algebraic:
		return p.Algebraics[r.Index].Name, true
	case layout.Parameter:
		return p.Parameters[r.Index].Name, true
	}
	return "", false
}

func (t *Table) Validate() error {
	check := func(what string, v []float64) error {
		for i, s := range v {
			if !(s > 0) || math.IsInf(s, 0) {
				return fmt.Errorf("%w: %s scale %d is %g", dynamo.ErrInvalidOptions, what, i, s)
			}
		}
		return nil
	}
	if err := check("variable", t.Vars); err != nil {
		return err
	}
	if err := check("row", t.Rows); err != nil {
		return err
	}
	return check("objective", []float64{t.Objective})
}

// ScaleRowsByGradient shrinks rows whose largest Jacobian entry at x
// exceeds gradientTarget, measured in scaled variables.
func (t *Table) ScaleRowsByGradient(p nlp.Problem, x []float64) {
	n, m := p.Dims()
	if m == 0 {
		return
	}
	jac := mat.NewDense(m, n, nil)
	p.Jacobian(x, jac)
	for i := 0; i < m; i++ {
		big := 0.0
		for j := 0; j < n; j++ {
			big = math.Max(big, math.Abs(jac.At(i, j)*t.Vars[j]))
		}
		if big*t.Rows[i] > gradientTarget {
			t.Rows[i] = gradientTarget / big
		}
	}
}

// Scale maps physical x to scaled x̂.
func (t *Table) Scale(x []float64) []float64 {
	xh := make([]float64, len(x))
	floats.DivTo(xh, x, t.Vars)
	return xh
}

// Invert maps a scaled primal-dual pair back to physical units.
func (t *Table) Invert(xh, lamh []float64) ([]float64, []float64) {
	x := make([]float64, len(xh))
	floats.MulTo(x, xh, t.Vars)
	var lam []float64
	if lamh != nil {
		lam = make([]float64, len(lamh))
		for i := range lamh {
			lam[i] = lamh[i] * t.Rows[i] / t.Objective
		}
	}
	return x, lam
}

// RoundTrip checks that Invert(Scale(x)) reproduces x to rounding.
func (t *Table) RoundTrip(x []float64) error {
	back, _ := t.Invert(t.Scale(x), nil)
	for i := range x {
		if !(math.Abs(back[i]-x[i]) <= 4*epsilon*math.Abs(x[i])) {
			return fmt.Errorf("%w: position %d: %v != %v", dynamo.ErrScalingInversionMismatch, i, back[i], x[i])
		}
	}
	return nil
}

// Scaled is an NLP in scaled variables.
type Scaled struct {
	nlp.Problem
	Table *Table

	xlo, xhi, glo, ghi []float64
}

// Apply wraps p; p is not modified.
func Apply(p nlp.Problem, t *Table) (*Scaled, error) {
	n, m := p.Dims()
	if len(t.Vars) != n || len(t.Rows) != m {
		return nil, fmt.Errorf("%w: scale table %dx%d for problem %dx%d", dynamo.ErrDimensionMismatch, len(t.Vars), len(t.Rows), n, m)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	xlo, xhi, glo, ghi := p.Bounds()
	s := &Scaled{Problem: p, Table: t}
	s.xlo, s.xhi = t.Scale(xlo), t.Scale(xhi)
	s.glo = make([]float64, m)
	s.ghi = make([]float64, m)
	floats.MulTo(s.glo, glo, t.Rows)
	floats.MulTo(s.ghi, ghi, t.Rows)
	return s, nil
}

func (s *Scaled) Bounds() (xlo, xhi, glo, ghi []float64) {
	return s.xlo, s.xhi, s.glo, s.ghi
}

func (s *Scaled) InitialGuess() []float64 {
	return s.Table.Scale(s.Problem.InitialGuess())
}

func (s *Scaled) unscale(xh []float64) []float64 {
	x, _ := s.Table.Invert(xh, nil)
	return x
}

func (s *Scaled) Objective(xh []float64) float64 {
	return s.Table.Objective * s.Problem.Objective(s.unscale(xh))
}

func (s *Scaled) Gradient(xh, grad []float64) {
	s.Problem.Gradient(s.unscale(xh), grad)
	floats.Mul(grad, s.Table.Vars)
	floats.Scale(s.Table.Objective, grad)
}

func (s *Scaled) Constraints(xh, g []float64) {
	s.Problem.Constraints(s.unscale(xh), g)
	floats.Mul(g, s.Table.Rows)
}

func (s *Scaled) Jacobian(xh []float64, jac *mat.Dense) {
	s.Problem.Jacobian(s.unscale(xh), jac)
	r, c := jac.Dims()
	for i := 0; i < r; i++ {
		ri := s.Table.Rows[i]
		for j := 0; j < c; j++ {
			if v := jac.At(i, j); v != 0 {
				jac.Set(i, j, ri*v*s.Table.Vars[j])
			}
		}
	}
}

func (s *Scaled) Hessian(xh []float64, sigma float64, lamh []float64, hess *mat.SymDense) {
	lam := make([]float64, len(lamh))
	floats.MulTo(lam, lamh, s.Table.Rows)
	s.Problem.Hessian(s.unscale(xh), sigma*s.Table.Objective, lam, hess)
	n := hess.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if v := hess.At(i, j); v != 0 {
				hess.SetSym(i, j, v*s.Table.Vars[i]*s.Table.Vars[j])
			}
		}
	}
}
