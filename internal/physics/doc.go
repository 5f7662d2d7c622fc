// Package physics provides controlled dynamical systems in explicit ODE
// form.
//
// Each model implements [dynamo.System]; the problem library wraps them
// into residual form with [dynamo.ODE] and replays optimal controls through
// them for verification:
//
//   - [VanDerPol]: forced Van der Pol oscillator, optionally with a cost accumulator
//   - [Duffing]: damped hardening spring with force input
//   - [SpringMass]: linear mass-spring-damper; zero stiffness gives a double integrator
//   - [CSTR]: exothermic continuously stirred tank reactor cooled by a jacket
//
// All models also implement [dynamo.Configurable].
package physics
