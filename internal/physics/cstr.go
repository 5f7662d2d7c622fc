package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// CSTR is a jacketed tank reactor with an exothermic first-order reaction
// A -> B. State: [c, T] (concentration mol/m³, temperature K); the control
// is the coolant temperature Tc.
type CSTR struct {
	F     float64 // volumetric flow, m³/s
	V     float64 // volume, m³
	C0    float64 // feed concentration
	T0    float64 // feed temperature
	K0    float64 // pre-exponential factor, 1/s
	EdivR float64 // activation temperature, K
	UA    float64 // heat transfer coefficient times area / (rho Cp V), 1/s
	DH    float64 // reaction enthalpy / (rho Cp), K m³/mol
}

func NewCSTR() *CSTR {
	const rho, cp = 1000.0, 239.0
	V := 0.1
	return &CSTR{
		F:     100.0 / 1000 / 60,
		V:     V,
		C0:    1000,
		T0:    350,
		K0:    7.2e10 / 60,
		EdivR: 8750,
		UA:    2 * 915.6 / (0.219 * rho * cp),
		DH:    -5e4 / (rho * cp),
	}
}

func (c *CSTR) StateDim() int   { return 2 }
func (c *CSTR) ControlDim() int { return 1 }

func (c *CSTR) Rate(conc, temp float64) float64 {
	return c.K0 * conc * math.Exp(-c.EdivR/temp)
}

func (c *CSTR) Derive(x dynamo.State, u dynamo.Control, _ float64) dynamo.State {
	conc, temp := x[0], x[1]
	r := c.Rate(conc, temp)
	dc := c.F*(c.C0-conc)/c.V - r
	dT := c.F*(c.T0-temp)/c.V - c.DH*r + c.UA*(u[0]-temp)
	return dynamo.State{dc, dT}
}

// Steady returns the coolant temperature that holds (conc, temp) at rest.
func (c *CSTR) Steady(conc, temp float64) float64 {
	r := c.Rate(conc, temp)
	return temp - (c.F*(c.T0-temp)/c.V-c.DH*r)/c.UA
}

func (c *CSTR) GetParams() map[string]float64 {
	return map[string]float64{"F": c.F, "V": c.V, "c0": c.C0, "T0": c.T0}
}

func (c *CSTR) SetParam(name string, value float64) error {
	switch name {
	case "F":
		c.F = value
	case "V":
		c.V = value
	case "c0":
		c.C0 = value
	case "T0":
		c.T0 = value
	default:
		return fmt.Errorf("%w: cstr has no parameter %q", dynamo.ErrInvalidOptions, name)
	}
	return nil
}
