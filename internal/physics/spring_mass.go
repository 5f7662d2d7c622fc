package physics

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/dynamo"
)

const (
	DefaultMass      = 1.0
	DefaultStiffness = 1.0
)

// SpringMass is a single mass on a linear spring and damper, pushed by a
// force u. State: [position, velocity].
type SpringMass struct {
	Mass      float64
	Stiffness float64
	Damping   float64
}

func NewSpringMass() *SpringMass {
	return &SpringMass{Mass: DefaultMass, Stiffness: DefaultStiffness}
}

// NewDoubleIntegrator is a free mass, x'' = u.
func NewDoubleIntegrator() *SpringMass {
	return &SpringMass{Mass: DefaultMass}
}

func (s *SpringMass) StateDim() int   { return 2 }
func (s *SpringMass) ControlDim() int { return 1 }

func (s *SpringMass) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	pos, vel := x[0], x[1]
	force := -s.Stiffness*pos - s.Damping*vel + u[0]
	return dynamo.State{vel, force / s.Mass}
}

func (s *SpringMass) Energy(x dynamo.State) float64 {
	return 0.5*s.Mass*x[1]*x[1] + 0.5*s.Stiffness*x[0]*x[0]
}

func (s *SpringMass) GetParams() map[string]float64 {
	return map[string]float64{"m": s.Mass, "k": s.Stiffness, "c": s.Damping}
}

func (s *SpringMass) SetParam(name string, value float64) error {
	switch name {
	case "m":
		if !(value > 0) {
			return fmt.Errorf("%w: mass must be positive", dynamo.ErrInvalidOptions)
		}
		s.Mass = value
	case "k":
		s.Stiffness = value
	case "c":
		s.Damping = value
	default:
		return fmt.Errorf("%w: spring-mass has no parameter %q", dynamo.ErrInvalidOptions, name)
	}
	return nil
}
