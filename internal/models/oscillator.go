package models

import (
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/physics"
)

var inf = math.Inf(1)

const (
	oscHorizon = 2.0
	oscTarget  = 0.5
)

func oscStates() []dynamo.Variable {
	return []dynamo.Variable{
		dynamo.NewVariable("y1").WithStart(1, true),
		dynamo.NewVariable("y2").WithStart(0, true),
	}
}

func oscCost(pt dynamo.Point) float64 {
	y1, u := pt.X[0], pt.U[0]
	return y1*y1 + u*u
}

func oscTerminal() []dynamo.PointConstraint {
	return []dynamo.PointConstraint{{
		Name:  "y1_final",
		Time:  oscHorizon,
		Lower: oscTarget,
		Upper: oscTarget,
		Eval: func(x, _ []float64) float64 {
			return x[0]
		},
	}}
}

func oscMayer(xf, _ []float64) float64 {
	return xf[1] * xf[1]
}

// Oscillator is a linear-quadratic problem on an undamped unit spring:
// minimize ∫ y1² + u² + y2(tf)² subject to y1(tf) = 0.5.
func Oscillator() *dynamo.Problem {
	sys := physics.NewSpringMass()
	return &dynamo.Problem{
		Name:      "oscillator",
		FinalTime: oscHorizon,
		States:    oscStates(),
		Controls:  []dynamo.Variable{dynamo.NewVariable("u")},
		DAE:       dynamo.ODE(sys),
		Lagrange:  oscCost,
		Mayer:     oscMayer,
		Points:    oscTerminal(),
		System:    sys,
	}
}

// TwoState is Oscillator with the hardening damped spring of
// physics.Duffing. The damping enters as the fixed parameter delta.
func TwoState() *dynamo.Problem {
	sys := physics.NewDuffing()
	return &dynamo.Problem{
		Name:       "two_state",
		FinalTime:  oscHorizon,
		States:     oscStates(),
		Controls:   []dynamo.Variable{dynamo.NewVariable("u")},
		Parameters: []dynamo.Variable{dynamo.NewVariable("delta").WithStart(sys.Delta, true)},
		DAE: func(pt dynamo.Point, res []float64) {
			y1, y2 := pt.X[0], pt.X[1]
			delta := pt.P[0]
			res[0] = pt.Dx[0] - y2
			res[1] = pt.Dx[1] - (-delta*y2 - sys.Alpha*y1 - sys.Beta*y1*y1*y1 + pt.U[0])
		},
		Lagrange: oscCost,
		Mayer:    oscMayer,
		Points:   oscTerminal(),
		System:   sys,
	}
}

// OscillatorGain lets the solver pick the actuator gain k in [0.5, 2]:
// y2' = -y1 + k u. Larger gains make the control cheaper, so k ends on its
// upper bound.
func OscillatorGain() *dynamo.Problem {
	return &dynamo.Problem{
		Name:       "oscillator_gain",
		FinalTime:  oscHorizon,
		States:     oscStates(),
		Controls:   []dynamo.Variable{dynamo.NewVariable("u")},
		Parameters: []dynamo.Variable{dynamo.NewVariable("k").WithStart(1, false).WithBounds(0.5, 2)},
		DAE: func(pt dynamo.Point, res []float64) {
			res[0] = pt.Dx[0] - pt.X[1]
			res[1] = pt.Dx[1] - (-pt.X[0] + pt.P[0]*pt.U[0])
		},
		Lagrange: oscCost,
		Mayer:    oscMayer,
		Points:   oscTerminal(),
	}
}

// OscillatorDAE moves the control cost into the algebraic w = u². The
// optimum is that of Oscillator.
func OscillatorDAE() *dynamo.Problem {
	return &dynamo.Problem{
		Name:       "oscillator_dae",
		FinalTime:  oscHorizon,
		States:     oscStates(),
		Controls:   []dynamo.Variable{dynamo.NewVariable("u")},
		Algebraics: []dynamo.Variable{dynamo.NewVariable("w")},
		DAE: func(pt dynamo.Point, res []float64) {
			res[0] = pt.Dx[0] - pt.X[1]
			res[1] = pt.Dx[1] + pt.X[0] - pt.U[0]
			res[2] = pt.W[0] - pt.U[0]*pt.U[0]
		},
		Lagrange: func(pt dynamo.Point) float64 {
			return pt.X[0]*pt.X[0] + pt.W[0]
		},
		Mayer:  oscMayer,
		Points: oscTerminal(),
	}
}
