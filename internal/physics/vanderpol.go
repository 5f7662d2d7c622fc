package physics

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// VanDerPol is the forced Van der Pol oscillator
//
//	dx1/dt = μ(1 - x2²)x1 - x2 + u
//	dx2/dt = x1
//
// With Accumulate set a third state integrates x1² + x2² + u², turning the
// quadratic running cost into a terminal one.
type VanDerPol struct {
	Mu         float64
	Accumulate bool
}

func NewVanDerPol() *VanDerPol {
	return &VanDerPol{Mu: 1.0}
}

func (v *VanDerPol) StateDim() int {
	if v.Accumulate {
		return 3
	}
	return 2
}

func (v *VanDerPol) ControlDim() int { return 1 }

func (v *VanDerPol) Derive(x dynamo.State, u dynamo.Control, _ float64) dynamo.State {
	x1, x2 := x[0], x[1]
	dx := make(dynamo.State, v.StateDim())
	dx[0] = v.Mu*(1-x2*x2)*x1 - x2 + u[0]
	dx[1] = x1
	if v.Accumulate {
		dx[2] = x1*x1 + x2*x2 + u[0]*u[0]
	}
	return dx
}

// GetParams implements dynamo.Configurable
func (v *VanDerPol) GetParams() map[string]float64 {
	return map[string]float64{
		"mu": v.Mu,
	}
}

// SetParam implements dynamo.Configurable
func (v *VanDerPol) SetParam(name string, value float64) error {
	if name != "mu" {
		return fmt.Errorf("%w: van der pol has no parameter %q", dynamo.ErrInvalidOptions, name)
	}
	v.Mu = value
	return nil
}
