// Package experiment runs one named problem end to end: transcription,
// solve, metrics and an optional forward replay of the optimal controls.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/metrics"
	"github.com/san-kum/dynopt/internal/trajectory"
	"github.com/san-kum/dynopt/internal/transcribe"
)

type Config struct {
	Problem string
	Options config.Options
	// Integrator names the replay integrator; empty skips the replay.
	Integrator string
	Dt         float64
	InitTraj   *trajectory.Result
	Policy     trajectory.Policy
	// Params set constants of the problem's system before transcription.
	Params map[string]float64
}

// Outcome is a solve plus what was derived from it.
type Outcome struct {
	Result *trajectory.Result
	Stats  transcribe.Stats
	// Replay is nil unless an integrator was configured.
	Replay    *trajectory.Result
	Deviation map[string]float64
}

// MaxDeviation is the worst state deviation of the replay, or NaN.
func (o *Outcome) MaxDeviation() float64 {
	if o.Replay == nil {
		return math.NaN()
	}
	worst := 0.0
	for _, d := range o.Deviation {
		worst = math.Max(worst, d)
	}
	return worst
}

type Experiment struct {
	cfg      Config
	registry *Registry
	log      *slog.Logger
	problem  *dynamo.Problem
	tr       *transcribe.Transcription
}

func New(reg *Registry, cfg Config, log *slog.Logger) *Experiment {
	return &Experiment{cfg: cfg, registry: reg, log: log}
}

// Setup resolves the problem and builds the transcription. Extra options
// are passed to transcribe.New after the ones derived from the config.
func (e *Experiment) Setup(extra ...transcribe.Option) error {
	prob, err := e.registry.GetProblem(e.cfg.Problem)
	if err != nil {
		return err
	}
	e.problem = prob
	if err := applyParams(prob, e.cfg.Params); err != nil {
		return err
	}

	var opts []transcribe.Option
	if e.log != nil {
		opts = append(opts, transcribe.WithLogger(e.log))
	}
	if e.cfg.InitTraj != nil {
		opts = append(opts, transcribe.WithInitialTrajectory(e.cfg.InitTraj, e.cfg.Policy))
	}
	opts = append(opts, extra...)

	tr, err := transcribe.New(prob, e.cfg.Options, opts...)
	if err != nil {
		return err
	}
	e.tr = tr
	return nil
}

func (e *Experiment) Run(ctx context.Context) (*Outcome, error) {
	if e.tr == nil {
		return nil, fmt.Errorf("experiment not setup")
	}

	res, err := e.tr.Solve(ctx)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Result: res, Stats: e.tr.Stats()}

	if !res.Scaled {
		if err := e.collect(res); err != nil {
			return nil, err
		}
	}

	if e.cfg.Integrator == "" {
		return out, nil
	}
	if err := e.replay(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Experiment) collect(res *trajectory.Result) error {
	states := names(e.problem.States)
	controls := names(e.problem.Controls)
	vals, err := metrics.Collect(res, states, controls, e.registry.DefaultMetrics(e.problem)...)
	if err != nil {
		return err
	}
	if res.Metrics == nil {
		res.Metrics = make(map[string]float64, len(vals))
	}
	for k, v := range vals {
		res.Metrics[k] = v
	}
	return nil
}

func (e *Experiment) replay(out *Outcome) error {
	integ, err := e.registry.GetIntegrator(e.cfg.Integrator, e.problem)
	if err != nil {
		return err
	}
	dt := e.cfg.Dt
	if dt <= 0 {
		dt = e.problem.Horizon() / 1000
	}
	sim, err := trajectory.Simulate(e.problem, out.Result, integ, dt)
	if err != nil {
		return err
	}
	dev, err := trajectory.Deviation(out.Result, sim, names(e.problem.States))
	if err != nil {
		return err
	}
	out.Replay, out.Deviation = sim, dev
	if out.Result.Metrics == nil {
		out.Result.Metrics = make(map[string]float64, 1)
	}
	out.Result.Metrics["replay_deviation"] = out.MaxDeviation()
	return nil
}

func (e *Experiment) Problem() *dynamo.Problem {
	return e.problem
}

// Transcription returns the underlying transcription for inspection.
func (e *Experiment) Transcription() *transcribe.Transcription {
	return e.tr
}

func applyParams(prob *dynamo.Problem, params map[string]float64) error {
	if len(params) == 0 {
		return nil
	}
	tunable, ok := prob.System.(dynamo.Configurable)
	if !ok {
		return fmt.Errorf("%w: %s has no tunable system", dynamo.ErrInvalidOptions, prob.Name)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := tunable.SetParam(k, params[k]); err != nil {
			return err
		}
	}
	return nil
}

func names(vs []dynamo.Variable) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Name
	}
	return out
}
