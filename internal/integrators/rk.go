// Package integrators provides fixed-step and adaptive ODE integrators used
// to replay optimized controls through the explicit form of a model.
package integrators

import (
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Tableau is the Butcher tableau of an explicit Runge-Kutta method. A is
// strictly lower triangular; row i holds the coefficients of stages 0..i-1.
type Tableau struct {
	Name string
	A    [][]float64
	B    []float64
	C    []float64
}

var (
	EulerTableau = Tableau{
		Name: "euler",
		A:    [][]float64{{}},
		B:    []float64{1},
		C:    []float64{0},
	}
	HeunTableau = Tableau{
		Name: "heun",
		A:    [][]float64{{}, {1}},
		B:    []float64{0.5, 0.5},
		C:    []float64{0, 1},
	}
	RK4Tableau = Tableau{
		Name: "rk4",
		A:    [][]float64{{}, {0.5}, {0, 0.5}, {0, 0, 1}},
		B:    []float64{1.0 / 6, 1.0 / 3, 1.0 / 3, 1.0 / 6},
		C:    []float64{0, 0.5, 0.5, 1},
	}
)

// ExplicitRK steps with a fixed tableau. It keeps stage buffers between
// calls and is not safe for concurrent use.
type ExplicitRK struct {
	tab     Tableau
	k       []dynamo.State
	scratch dynamo.State
}

func NewExplicitRK(tab Tableau) *ExplicitRK {
	return &ExplicitRK{tab: tab, k: make([]dynamo.State, len(tab.B))}
}

func NewEuler() *ExplicitRK { return NewExplicitRK(EulerTableau) }
func NewHeun() *ExplicitRK  { return NewExplicitRK(HeunTableau) }
func NewRK4() *ExplicitRK   { return NewExplicitRK(RK4Tableau) }

func (r *ExplicitRK) Name() string { return r.tab.Name }

func (r *ExplicitRK) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	if len(r.scratch) != len(x) {
		r.scratch = make(dynamo.State, len(x))
	}
	stages(dyn, r.tab.A, r.tab.C, r.k, r.scratch, x, u, t, dt)

	out := x.Clone()
	for i, b := range r.tab.B {
		if b != 0 {
			floats.AddScaled(out, dt*b, r.k[i])
		}
	}
	return out
}

// stages fills k[i] = f(x + dt Σ_j a_ij k_j, t + c_i dt) for every row of a.
func stages(dyn dynamo.System, a [][]float64, c []float64, k []dynamo.State, scratch, x dynamo.State, u dynamo.Control, t, dt float64) {
	for i, row := range a {
		copy(scratch, x)
		for j, aij := range row {
			if aij != 0 {
				floats.AddScaled(scratch, dt*aij, k[j])
			}
		}
		k[i] = dyn.Derive(scratch, u, t+c[i]*dt)
	}
}
