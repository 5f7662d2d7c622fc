package integrators

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Verlet is velocity Verlet for mechanical states laid out as
// [positions..., velocities...]. Velocity-dependent forces are evaluated
// at an Euler-predicted velocity.
type Verlet struct {
	scratch dynamo.State
}

func NewVerlet() *Verlet {
	return &Verlet{}
}

func (v *Verlet) Name() string { return "verlet" }

func (v *Verlet) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	n := len(x)
	if n%2 != 0 {
		panic(fmt.Sprintf("integrators: verlet needs [q, v] states, got %d", n))
	}
	half := n / 2
	if len(v.scratch) != n {
		v.scratch = make(dynamo.State, n)
	}

	acc := dyn.Derive(x, u, t)
	out := make(dynamo.State, n)
	for i := 0; i < half; i++ {
		out[i] = x[i] + dt*x[half+i] + 0.5*dt*dt*acc[half+i]
		v.scratch[i] = out[i]
		v.scratch[half+i] = x[half+i] + dt*acc[half+i]
	}

	next := dyn.Derive(v.scratch, u, t+dt)
	for i := 0; i < half; i++ {
		out[half+i] = x[half+i] + 0.5*dt*(acc[half+i]+next[half+i])
	}
	return out
}
