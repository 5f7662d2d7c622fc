// Package transcribe converts a dynamic optimization problem into a finite
// NLP by direct collocation, solves it and reconstructs the trajectories.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/elim"
	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/mesh"
	"github.com/san-kum/dynopt/internal/metrics"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/scaling"
	"github.com/san-kum/dynopt/internal/solver"
	"github.com/san-kum/dynopt/internal/trajectory"
)

// Transcription is one problem discretized under one option record. It is
// immutable after New and may be solved more than once.
type Transcription struct {
	Problem *dynamo.Problem
	Options config.Options
	Mesh    *mesh.Mesh
	Plan    elim.Plan
	Layout  *layout.Layout
	Program *nlp.Program

	log      *slog.Logger
	solver   solver.Solver
	observer solver.Observer
	init     *trajectory.Result
	policy   trajectory.Policy
	lambda   []float64
	initTime time.Duration
}

type Option func(*Transcription)

func WithLogger(l *slog.Logger) Option {
	return func(t *Transcription) {
		t.log = l
	}
}

// WithInitialTrajectory seeds the decision vector from an earlier result
// and marks the solve as warm started.
func WithInitialTrajectory(res *trajectory.Result, policy trajectory.Policy) Option {
	return func(t *Transcription) {
		t.init = res
		t.policy = policy
	}
}

// WithInitialMultipliers seeds the row multipliers; they must match the
// rows of this transcription.
func WithInitialMultipliers(lambda []float64) Option {
	return func(t *Transcription) {
		t.lambda = lambda
	}
}

// WithSolver overrides the backend named in the options.
func WithSolver(s solver.Solver) Option {
	return func(t *Transcription) {
		t.solver = s
	}
}

func WithObserver(obs solver.Observer) Option {
	return func(t *Transcription) {
		t.observer = obs
	}
}

// New validates the problem and options and assembles the NLP. All
// configuration errors surface here, before any solver call.
func New(prob *dynamo.Problem, opts config.Options, options ...Option) (*Transcription, error) {
	start := time.Now()
	t := &Transcription{Problem: prob, Options: opts.Clone()}
	for _, o := range options {
		o(t)
	}
	if t.log == nil {
		t.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := prob.Validate(); err != nil {
		return nil, dynamo.Stage("problem", err)
	}
	if err := t.Options.Validate(); err != nil {
		return nil, dynamo.Stage("options", err)
	}
	if t.solver == nil {
		s, err := NewSolver(t.Options.Solver.Family)
		if err != nil {
			return nil, dynamo.Stage("options", err)
		}
		t.solver = s
	}

	mcfg, err := t.Options.MeshConfig(len(prob.States))
	if err != nil {
		return nil, dynamo.Stage("mesh", err)
	}
	if t.Mesh, err = mesh.New(mcfg); err != nil {
		return nil, dynamo.Stage("mesh", err)
	}

	t.Plan = t.Options.Plan()
	if err := t.Plan.Validate(prob, t.Mesh); err != nil {
		return nil, dynamo.Stage("elimination", err)
	}

	if t.Layout, err = layout.Allocate(t.Mesh, prob, t.Plan.Apply(t.Options.Blocking)); err != nil {
		return nil, dynamo.Stage("layout", err)
	}

	x0 := t.Layout.Start()
	if t.init != nil {
		if x0, err = trajectory.InitialGuess(t.init, t.Layout, t.policy); err != nil {
			return nil, dynamo.Stage("init_traj", err)
		}
	}

	if t.Program, err = t.assemble(x0); err != nil {
		return nil, dynamo.Stage("assemble", err)
	}
	if t.lambda != nil {
		if _, m := t.Program.Dims(); len(t.lambda) != m {
			return nil, dynamo.Stage("init_traj", dimErr("multipliers", len(t.lambda), m))
		}
	}

	t.initTime = time.Since(start)
	n, m := t.Program.Dims()
	t.log.Info("transcribed",
		"problem", prob.Name,
		"family", t.Mesh.Family.String(),
		"elements", t.Mesh.Len(),
		"variables", n,
		"rows", m,
		"plan", t.Plan.String(),
		"elapsed", t.initTime,
	)
	return t, nil
}

func (t *Transcription) assemble(x0 []float64) (*nlp.Program, error) {
	a := newAssembler(t.Layout)
	ne := t.Mesh.Len()

	perElement := make([][]nlp.Block, ne)
	perCost := make([][]nlp.Block, ne)
	dynamo.ParallelFor(ne, 4, func(start, end int) {
		for e := start; e < end; e++ {
			perElement[e] = a.element(e)
			var costs []nlp.Block
			if t.Problem.Lagrange != nil {
				costs = append(costs, a.lagrange(e))
			}
			if t.Mesh.IsFree() && t.Mesh.Free.Weight != 0 {
				costs = append(costs, a.lengthPenalty(e))
			}
			perCost[e] = costs
		}
	})

	var rows []nlp.Block
	if b, ok := a.boundary(); ok {
		rows = append(rows, b)
	}
	for _, blocks := range perElement {
		rows = append(rows, blocks...)
	}
	for _, c := range t.Problem.Points {
		b, err := a.point(c)
		if err != nil {
			return nil, err
		}
		rows = append(rows, b)
	}
	if t.Mesh.IsFree() {
		rows = append(rows, a.meshSum())
	}

	var costs []nlp.Block
	for _, c := range perCost {
		costs = append(costs, c...)
	}
	if t.Problem.Mayer != nil {
		costs = append(costs, a.mayer())
	}

	eval, err := t.Options.Evaluation()
	if err != nil {
		return nil, err
	}
	lo, hi := t.Layout.Bounds()
	return nlp.NewProgram(t.Layout.Len(), lo, hi, x0, rows, costs, eval)
}

// Stats describes the size of the transcription.
type Stats struct {
	Variables int
	Rows      int
	ByOrigin  map[string]int
	Elements  int
	Points    int
}

func (t *Transcription) Stats() Stats {
	n, m := t.Program.Dims()
	by := make(map[string]int)
	for _, o := range t.Program.RowOrigins() {
		by[o.String()]++
	}
	return Stats{
		Variables: n,
		Rows:      m,
		ByOrigin:  by,
		Elements:  t.Mesh.Len(),
		Points:    t.Mesh.CollocationPoints(),
	}
}

// Solve runs the solver and reconstructs the result. Non-convergence is
// reported in the result status; the error is reserved for failures that
// leave no usable result.
func (t *Transcription) Solve(ctx context.Context) (*trajectory.Result, error) {
	res, _, err := t.SolveRaw(ctx)
	return res, err
}

// SolveRaw is Solve that also returns the solver output in physical units.
func (t *Transcription) SolveRaw(ctx context.Context) (*trajectory.Result, *solver.Result, error) {
	setup := time.Now()
	var prob nlp.Problem = t.Program
	var table *scaling.Table
	if t.Options.EnableScaling {
		var err error
		table, err = scaling.Derive(t.Layout, t.Program.RowOrigins(), t.Options.ScalingHints())
		if err != nil {
			return nil, nil, dynamo.Stage("scaling", err)
		}
		x0 := t.Program.InitialGuess()
		table.ScaleRowsByGradient(t.Program, x0)
		if err := table.RoundTrip(x0); err != nil {
			return nil, nil, dynamo.Stage("scaling", err)
		}
		if prob, err = scaling.Apply(t.Program, table); err != nil {
			return nil, nil, dynamo.Stage("scaling", err)
		}
	}

	sopts := t.Options.SolverOptions()
	sopts.Logger = t.log
	sopts.Observer = t.observer
	sopts.WarmStart = t.init != nil
	if t.lambda != nil {
		sopts.InitialLambda = t.lambda
		if table != nil {
			sopts.InitialLambda = make([]float64, len(t.lambda))
			for i, l := range t.lambda {
				sopts.InitialLambda[i] = l * table.Objective / table.Rows[i]
			}
		}
	}
	initTime := t.initTime + time.Since(setup)

	raw, err := t.solver.Solve(ctx, prob, sopts)
	if err != nil {
		return nil, nil, dynamo.Stage("solve", err)
	}

	post := time.Now()
	x, lam := raw.X, raw.Lambda
	if table != nil {
		x, lam = table.Invert(raw.X, raw.Lambda)
	}
	objective := t.Program.Objective(x)
	phys := *raw
	phys.X, phys.Lambda, phys.Objective = x, lam, objective

	if t.Options.VerifyElimination && raw.Converged() && (t.Plan.Derivatives || t.Plan.Continuity) {
		if err := t.verify(x, objective); err != nil {
			return nil, &phys, dynamo.Stage("verify", err)
		}
	}

	ropts := trajectory.Options{EvalPoints: t.Options.EvalPoints}
	if ropts.Mode, err = trajectory.ParseMode(t.Options.ResultMode); err != nil {
		return nil, &phys, dynamo.Stage("post", err)
	}
	if t.Options.WriteScaled {
		ropts.Scale = t.nominals()
	}
	res, err := trajectory.Reconstruct(t.Layout, x, ropts)
	if err != nil {
		return nil, &phys, dynamo.Stage("post", err)
	}
	res.Solver = t.solver.Name()
	res.Cost = objective
	res.Status = raw.Status.String()
	res.Message = raw.Message
	res.Iterations = raw.Iterations

	if !res.Scaled {
		states := make([]string, len(t.Problem.States))
		for i, v := range t.Problem.States {
			states[i] = v.Name
		}
		controls := make([]string, len(t.Problem.Controls))
		for i, v := range t.Problem.Controls {
			controls[i] = v.Name
		}
		if res.Metrics, err = metrics.Collect(res, states, controls, metrics.Default()...); err != nil {
			return nil, &phys, dynamo.Stage("post", err)
		}
	}
	res.Timings = trajectory.Timings{Init: initTime, Sol: raw.SolveTime, Post: time.Since(post)}

	t.log.Info("solved",
		"problem", t.Problem.Name,
		"status", res.Status,
		"cost", res.Cost,
		"iterations", res.Iterations,
		"sol", res.Timings.Sol,
	)
	return res, &phys, nil
}

// verify rebuilds the transcription without eliminations and checks that
// the expanded solution satisfies it with the same objective.
func (t *Transcription) verify(x []float64, objective float64) error {
	opts := t.Options.Clone()
	opts.EliminateDer, opts.EliminateCont = false, false
	full, err := New(t.Problem, opts, WithSolver(t.solver))
	if err != nil {
		return err
	}
	xf, err := elim.Expand(t.Layout, full.Layout, x)
	if err != nil {
		return err
	}
	tol := math.Max(1e-6, 10*t.Options.SolverOptions().WithDefaults().AcceptableTol)
	rep, err := elim.Check(full.Program, xf, objective, tol)
	t.log.Debug("elimination check", "violation", rep.MaxViolation, "gap", rep.ObjectiveGap, "rows", rep.Rows)
	return err
}

func dimErr(what string, got, want int) error {
	return fmt.Errorf("%w: %d %s for %d rows", dynamo.ErrDimensionMismatch, got, what, want)
}

// nominals returns the scale of every variable name, honoring overrides.
func (t *Transcription) nominals() map[string]float64 {
	out := make(map[string]float64)
	p := t.Problem
	for _, g := range [][]dynamo.Variable{p.States, p.Controls, p.Algebraics, p.Parameters} {
		for _, v := range g {
			out[v.Name] = v.Nominal
		}
	}
	for name, v := range t.Options.Nominal {
		out[name] = v
	}
	return out
}
