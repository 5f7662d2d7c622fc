package models

import (
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/physics"
)

// DoubleIntegrator moves a unit mass from rest at 0 to rest at 1 in one
// time unit with minimal ∫ u². The optimum is u = 6 - 12t with cost 12.
func DoubleIntegrator() *dynamo.Problem {
	sys := physics.NewDoubleIntegrator()
	return &dynamo.Problem{
		Name:      "double_integrator",
		FinalTime: 1,
		States: []dynamo.Variable{
			dynamo.NewVariable("x").WithStart(0, true),
			dynamo.NewVariable("v").WithStart(0, true),
		},
		Controls: []dynamo.Variable{dynamo.NewVariable("u")},
		DAE:      dynamo.ODE(sys),
		Lagrange: func(pt dynamo.Point) float64 {
			return pt.U[0] * pt.U[0]
		},
		Points: []dynamo.PointConstraint{
			{Name: "x_final", Time: 1, Lower: 1, Upper: 1, Eval: func(x, _ []float64) float64 { return x[0] }},
			{Name: "v_final", Time: 1, Eval: func(x, _ []float64) float64 { return x[1] }},
		},
		System: sys,
	}
}
