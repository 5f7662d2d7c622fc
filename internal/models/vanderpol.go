package models

import (
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/physics"
)

const vdpHorizon = 20.0

func vdpVariables() ([]dynamo.Variable, []dynamo.Variable) {
	states := []dynamo.Variable{
		dynamo.NewVariable("x1").WithStart(0, true),
		dynamo.NewVariable("x2").WithStart(1, true),
	}
	controls := []dynamo.Variable{
		dynamo.NewVariable("u").WithBounds(-1, 1),
	}
	return states, controls
}

// VDP drives the Van der Pol oscillator to rest with the running cost
// x1² + x2² + u² and |u| <= 1.
func VDP() *dynamo.Problem {
	sys := physics.NewVanDerPol()
	states, controls := vdpVariables()
	return &dynamo.Problem{
		Name:      "vdp",
		FinalTime: vdpHorizon,
		States:    states,
		Controls:  controls,
		DAE:       dynamo.ODE(sys),
		Lagrange: func(pt dynamo.Point) float64 {
			x1, x2, u := pt.X[0], pt.X[1], pt.U[0]
			return x1*x1 + x2*x2 + u*u
		},
		System: sys,
	}
}

// VDPMayer is VDP with the running cost accumulated in a third state and
// charged at the final time.
func VDPMayer() *dynamo.Problem {
	sys := physics.NewVanDerPol()
	sys.Accumulate = true
	states, controls := vdpVariables()
	states = append(states, dynamo.NewVariable("cost").WithStart(0, true))
	return &dynamo.Problem{
		Name:      "vdp_mayer",
		FinalTime: vdpHorizon,
		States:    states,
		Controls:  controls,
		DAE:       dynamo.ODE(sys),
		Mayer: func(xf, _ []float64) float64 {
			return xf[2]
		},
		System: sys,
	}
}

// VDPConstrained adds the path constraint x1 >= -0.25 to VDPMayer.
func VDPConstrained() *dynamo.Problem {
	p := VDPMayer()
	p.Name = "vdp_path"
	p.Path = []dynamo.PathConstraint{{
		Name:  "x1_floor",
		Lower: -0.25,
		Upper: inf,
		Eval: func(pt dynamo.Point) float64 {
			return pt.X[0]
		},
	}}
	return p
}
