package physics

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Duffing is a damped hardening spring driven by a force u:
//
//	dy1/dt = y2
//	dy2/dt = -δ y2 - α y1 - β y1³ + u
type Duffing struct {
	Alpha, Beta, Delta float64
}

func NewDuffing() *Duffing {
	return &Duffing{Alpha: 1.0, Beta: 0.5, Delta: 0.1}
}

func (d *Duffing) StateDim() int   { return 2 }
func (d *Duffing) ControlDim() int { return 1 }

func (d *Duffing) Derive(s dynamo.State, u dynamo.Control, _ float64) dynamo.State {
	y1, y2 := s[0], s[1]
	return dynamo.State{y2, -d.Delta*y2 - d.Alpha*y1 - d.Beta*y1*y1*y1 + u[0]}
}

// Energy is the mechanical energy of the unforced spring.
func (d *Duffing) Energy(s dynamo.State) float64 {
	y1, y2 := s[0], s[1]
	return 0.5*y2*y2 + 0.5*d.Alpha*y1*y1 + 0.25*d.Beta*y1*y1*y1*y1
}

func (d *Duffing) GetParams() map[string]float64 {
	return map[string]float64{"alpha": d.Alpha, "beta": d.Beta, "delta": d.Delta}
}

func (d *Duffing) SetParam(n string, v float64) error {
	switch n {
	case "alpha":
		d.Alpha = v
	case "beta":
		d.Beta = v
	case "delta":
		d.Delta = v
	default:
		return fmt.Errorf("%w: duffing has no parameter %q", dynamo.ErrInvalidOptions, n)
	}
	return nil
}
