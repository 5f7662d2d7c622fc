package models

import (
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/physics"
)

// Operating points of the reactor; the target is the unstable middle
// steady state.
const (
	CSTRStartConc = 850.0
	CSTRStartTemp = 320.0
	CSTRConc      = 500.0
	CSTRTemp      = 350.0
	cstrHorizon   = 150.0
)

// CSTR moves the reactor from a cold, unreacted state to the target
// operating point using the coolant temperature. The variables are far from
// unit magnitude; nominals make it a scaling exercise.
func CSTR() *dynamo.Problem {
	sys := physics.NewCSTR()
	tc := sys.Steady(CSTRConc, CSTRTemp)
	return &dynamo.Problem{
		Name:      "cstr",
		FinalTime: cstrHorizon,
		States: []dynamo.Variable{
			dynamo.NewVariable("c").WithStart(CSTRStartConc, true).WithBounds(0, sys.C0).WithNominal(1000),
			dynamo.NewVariable("T").WithStart(CSTRStartTemp, true).WithBounds(250, 400).WithNominal(350),
		},
		Controls: []dynamo.Variable{
			dynamo.NewVariable("Tc").WithStart(tc, false).WithBounds(230, 370).WithNominal(300),
		},
		DAE: dynamo.ODE(sys),
		Lagrange: func(pt dynamo.Point) float64 {
			dc := (pt.X[0] - CSTRConc) / 100
			dT := (pt.X[1] - CSTRTemp) / 10
			du := (pt.U[0] - tc) / 10
			return dc*dc + dT*dT + du*du
		},
		System: sys,
	}
}
