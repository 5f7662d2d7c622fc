package dynamo

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

type Control []float64

// System is the explicit ODE view of a model.
type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

type AdaptiveIntegrator interface {
	Integrator
	StepAdaptive(dyn System, x State, u Control, t, dt, tol float64) (State, float64, error)
}

type Metric interface {
	Name() string
	Observe(x State, u Control, t float64)
	Value() float64
	Reset()
}

// Configurable systems expose named physical constants.
type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

// Variable declares one scalar unknown of a problem.
type Variable struct {
	Name    string
	Start   float64
	Fixed   bool
	Min     float64
	Max     float64
	Nominal float64
}

// NewVariable returns an unbounded variable with unit nominal magnitude.
func NewVariable(name string) Variable {
	return Variable{Name: name, Min: math.Inf(-1), Max: math.Inf(1), Nominal: 1}
}

func (v Variable) WithStart(start float64, fixed bool) Variable {
	v.Start = start
	v.Fixed = fixed
	return v
}

func (v Variable) WithBounds(min, max float64) Variable {
	v.Min = min
	v.Max = max
	return v
}

func (v Variable) WithNominal(nominal float64) Variable {
	v.Nominal = nominal
	return v
}

// Point carries the values at one instant. Dx is nil when a callback is
// evaluated outside the dynamics (cost, path constraints).
type Point struct {
	T  float64
	Dx []float64
	X  []float64
	U  []float64
	W  []float64
	P  []float64
}

type PathConstraint struct {
	Name         string
	Lower, Upper float64
	Eval         func(pt Point) float64
}

// PointConstraint is evaluated on the interpolated state at Time.
type PointConstraint struct {
	Name         string
	Time         float64
	Lower, Upper float64
	Eval         func(x, p []float64) float64
}

// Problem is a continuous-time dynamic optimization problem over a fixed
// horizon [StartTime, FinalTime].
type Problem struct {
	Name       string
	StartTime  float64
	FinalTime  float64
	States     []Variable
	Controls   []Variable
	Algebraics []Variable
	Parameters []Variable

	// DAE writes len(States)+len(Algebraics) residuals F(dx, x, u, w, p, t).
	DAE func(pt Point, res []float64)

	Lagrange func(pt Point) float64
	Mayer    func(xf, p []float64) float64

	Path   []PathConstraint
	Points []PointConstraint

	// System is optional; when set the problem can be replayed by an integrator.
	System System
}

func (p *Problem) Horizon() float64 {
	return p.FinalTime - p.StartTime
}

// Residuals returns the number of DAE residuals per collocation point.
func (p *Problem) Residuals() int {
	return len(p.States) + len(p.Algebraics)
}

// Validate checks dimensions and callbacks.
func (p *Problem) Validate() error {
	if p.DAE == nil {
		return fmt.Errorf("%w: %s has no DAE residual", ErrInvalidProblem, p.Name)
	}
	if len(p.States) == 0 {
		return fmt.Errorf("%w: %s has no states", ErrInvalidProblem, p.Name)
	}
	if !(p.FinalTime > p.StartTime) {
		return fmt.Errorf("%w: horizon [%g, %g] is empty", ErrInvalidProblem, p.StartTime, p.FinalTime)
	}
	if p.Lagrange == nil && p.Mayer == nil {
		return fmt.Errorf("%w: %s has neither Lagrange nor Mayer cost", ErrInvalidProblem, p.Name)
	}

	seen := make(map[string]bool)
	groups := [][]Variable{p.States, p.Controls, p.Algebraics, p.Parameters}
	for _, g := range groups {
		for _, v := range g {
			if v.Name == "" {
				return fmt.Errorf("%w: unnamed variable", ErrInvalidProblem)
			}
			if seen[v.Name] {
				return fmt.Errorf("%w: duplicate variable %q", ErrInvalidProblem, v.Name)
			}
			seen[v.Name] = true
			if v.Min > v.Max {
				return fmt.Errorf("%w: %s bounds [%g, %g]", ErrInvalidProblem, v.Name, v.Min, v.Max)
			}
			if !(v.Nominal > 0) {
				return fmt.Errorf("%w: %s nominal must be positive", ErrInvalidProblem, v.Name)
			}
		}
	}

	for _, c := range p.Path {
		if c.Eval == nil || c.Lower > c.Upper {
			return fmt.Errorf("%w: path constraint %q", ErrInvalidProblem, c.Name)
		}
	}
	for _, c := range p.Points {
		if c.Eval == nil || c.Lower > c.Upper {
			return fmt.Errorf("%w: point constraint %q", ErrInvalidProblem, c.Name)
		}
		if c.Time < p.StartTime || c.Time > p.FinalTime {
			return fmt.Errorf("%w: point constraint %q at t=%g outside horizon", ErrInvalidProblem, c.Name, c.Time)
		}
	}

	if p.System != nil {
		if p.System.StateDim() != len(p.States) || p.System.ControlDim() != len(p.Controls) {
			return fmt.Errorf("%w: %s", ErrDimensionMismatch, p.Name)
		}
	}
	return nil
}

// FreeParameters returns the indices of parameters that are decision variables.
func (p *Problem) FreeParameters() []int {
	var idx []int
	for i, v := range p.Parameters {
		if !v.Fixed {
			idx = append(idx, i)
		}
	}
	return idx
}

// ODE adapts an explicit system to the residual form dx - f(x, u, t) = 0.
func ODE(sys System) func(pt Point, res []float64) {
	return func(pt Point, res []float64) {
		f := sys.Derive(State(pt.X), Control(pt.U), pt.T)
		for i := range f {
			res[i] = pt.Dx[i] - f[i]
		}
	}
}
