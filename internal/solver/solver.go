// Package solver is the narrow interface between transcribed programs and
// NLP solver backends.
package solver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/nlp"
)

type HessianMode int

const (
	Exact HessianMode = iota
	QuasiNewton
)

func (h HessianMode) String() string {
	if h == QuasiNewton {
		return "quasi-newton"
	}
	return "exact"
}

type Status int

const (
	NotConverged Status = iota
	Converged
	// Acceptable means the solver stalled at a looser tolerance.
	Acceptable
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case Acceptable:
		return "acceptable"
	}
	return "not_converged"
}

// Iteration is reported to the Observer once per solver iteration.
type Iteration struct {
	Iter           int
	Objective      float64
	Primal         float64
	Dual           float64
	Mu             float64
	Step           float64
	Regularization float64
	Elapsed        time.Duration
}

type Observer func(Iteration)

type Options struct {
	Hessian HessianMode
	MaxIter int
	// MaxTime is a wall-clock ceiling; zero means none.
	MaxTime       time.Duration
	Tol           float64
	AcceptableTol float64
	// WarmStart tells the backend that the initial guess is already close.
	WarmStart bool
	// InitialLambda seeds the constraint multipliers; nil means zero.
	InitialLambda []float64
	Logger        *slog.Logger
	Observer      Observer
}

func DefaultOptions() Options {
	return Options{
		Hessian:       Exact,
		MaxIter:       500,
		Tol:           1e-8,
		AcceptableTol: 1e-6,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.Tol <= 0 {
		o.Tol = d.Tol
	}
	if o.AcceptableTol <= 0 {
		o.AcceptableTol = d.AcceptableTol
	}
	if o.AcceptableTol < o.Tol {
		o.AcceptableTol = o.Tol
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

type Result struct {
	X []float64
	// Lambda are the multipliers of the rows, for the Lagrangian f + Lambda'g.
	Lambda     []float64
	Objective  float64
	Iterations int
	SolveTime  time.Duration
	Status     Status
	Message    string
}

func (r *Result) Converged() bool {
	return r.Status == Converged || r.Status == Acceptable
}

// Err returns ErrSolverNotConverged for unconverged results.
func (r *Result) Err() error {
	if r.Converged() {
		return nil
	}
	return fmt.Errorf("%w: %s after %d iterations", dynamo.ErrSolverNotConverged, r.Message, r.Iterations)
}

// Solver is implemented by every backend. Non-convergence is reported in
// the Result, never as an error; errors are reserved for malformed input
// and cancellation.
type Solver interface {
	Name() string
	Solve(ctx context.Context, p nlp.Problem, opts Options) (*Result, error)
}
