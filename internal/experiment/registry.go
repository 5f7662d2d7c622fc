package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/integrators"
	"github.com/san-kum/dynopt/internal/metrics"
	"github.com/san-kum/dynopt/internal/models"
	"github.com/san-kum/dynopt/internal/solver"
	"github.com/san-kum/dynopt/internal/transcribe"
)

// Registry resolves the names used on the command line and in sweep
// definitions.
type Registry struct {
	integrators map[string]func() dynamo.Integrator
}

func NewRegistry() *Registry {
	r := &Registry{
		integrators: make(map[string]func() dynamo.Integrator),
	}

	r.integrators["euler"] = func() dynamo.Integrator { return integrators.NewEuler() }
	r.integrators["heun"] = func() dynamo.Integrator { return integrators.NewHeun() }
	r.integrators["rk4"] = func() dynamo.Integrator { return integrators.NewRK4() }
	r.integrators["rk45"] = func() dynamo.Integrator { return integrators.NewRK45() }
	r.integrators["verlet"] = func() dynamo.Integrator { return integrators.NewVerlet() }

	return r
}

func (r *Registry) GetProblem(name string) (*dynamo.Problem, error) {
	return models.Get(name)
}

func (r *Registry) ListProblems() []string {
	return models.Names()
}

func (r *Registry) GetSolver(name string) (solver.Solver, error) {
	return transcribe.NewSolver(name)
}

func (r *Registry) ListSolvers() []string {
	return transcribe.Solvers()
}

// GetIntegrator returns a fresh integrator. Velocity Verlet needs a state
// vector split into positions and velocities, so prob is checked against it.
func (r *Registry) GetIntegrator(name string, prob *dynamo.Problem) (dynamo.Integrator, error) {
	fn, ok := r.integrators[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown integrator %q", dynamo.ErrInvalidOptions, name)
	}
	if name == "verlet" && len(prob.States)%2 != 0 {
		return nil, fmt.Errorf("%w: verlet needs an even state count, %s has %d", dynamo.ErrInvalidOptions, prob.Name, len(prob.States))
	}
	return fn(), nil
}

func (r *Registry) ListIntegrators() []string {
	names := make([]string, 0, len(r.integrators))
	for name := range r.integrators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultMetrics adds a stability count to the per-solve metrics. A state
// is out of range beyond ten times its nominal.
func (r *Registry) DefaultMetrics(prob *dynamo.Problem) []dynamo.Metric {
	nominals := make([]float64, len(prob.States))
	for i, v := range prob.States {
		nominals[i] = v.Nominal
	}
	return append(metrics.Default(), metrics.NewStability(10, nominals...))
}
