// Package dynamo provides the core primitives shared by the transcription
// pipeline.
//
// The package defines the vocabulary every other package speaks:
//
//   - [Problem]: a continuous-time optimal control problem (DAE residual,
//     bounds, Lagrange and Mayer cost, path and point constraints)
//   - [Variable]: a named state, control, algebraic or parameter declaration
//   - [Point]: the values seen by residual and cost callbacks at one instant
//   - [System]: explicit ODE view (dX/dt = f(X, u, t)) used for forward simulation
//   - [Integrator]: numerical stepper interface
//
// # Example
//
//	vdp := physics.NewVanDerPol()
//	prob := &dynamo.Problem{
//	    Name:      "vdp",
//	    FinalTime: 20,
//	    States:    []dynamo.Variable{dynamo.NewVariable("x1").WithStart(0, true), ...},
//	    DAE:       dynamo.ODE(vdp),
//	    System:    vdp,
//	}
//
// # Thread Safety
//
// Problems are read concurrently by the assembly workers and the block
// evaluator. Callbacks must not retain or mutate the slices they receive.
package dynamo
