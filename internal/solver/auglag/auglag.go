// Package auglag solves NLPs with a Powell-Hestenes-Rockafellar augmented
// Lagrangian around gonum's L-BFGS. It needs first derivatives only and
// ignores the Hessian mode.
//
// Convergence is first order. It suits small or mildly nonlinear programs;
// stiff transcriptions with many active bounds, such as the Van der Pol
// problems on fine meshes, stall near 1e-3 feasibility and belong on ipm.
package auglag

import (
	"context"
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/solver"
)

const (
	maxOuter  = 60
	rho0      = 10.0
	rhoMax    = 1e10
	rhoGrowth = 10.0
	infBound  = 1e20
)

type Solver struct{}

func New() *Solver {
	return &Solver{}
}

func (*Solver) Name() string {
	return "auglag"
}

// side is one one-sided row: sign*(value - bound) <= 0, or an equality.
type side struct {
	row   int // -1 for a variable bound
	index int
	bound float64
	sign  float64
	eq    bool
}

func sides(xlo, xhi, glo, ghi []float64) []side {
	var out []side
	for i := range glo {
		if glo[i] == ghi[i] {
			out = append(out, side{row: i, index: i, bound: glo[i], sign: 1, eq: true})
			continue
		}
		if glo[i] > -infBound {
			out = append(out, side{row: i, index: i, bound: glo[i], sign: -1})
		}
		if ghi[i] < infBound {
			out = append(out, side{row: i, index: i, bound: ghi[i], sign: 1})
		}
	}
	for j := range xlo {
		if xlo[j] > -infBound {
			out = append(out, side{row: -1, index: j, bound: xlo[j], sign: -1})
		}
		if xhi[j] < infBound {
			out = append(out, side{row: -1, index: j, bound: xhi[j], sign: 1})
		}
	}
	return out
}

func (s side) value(x, g []float64) float64 {
	v := x[s.index]
	if s.row >= 0 {
		v = g[s.row]
	}
	return s.sign * (v - s.bound)
}

func (s *Solver) Solve(ctx context.Context, p nlp.Problem, opts solver.Options) (*solver.Result, error) {
	opts = opts.WithDefaults()
	log := opts.Logger
	start := time.Now()

	n, m := p.Dims()
	xlo, xhi, glo, ghi := p.Bounds()
	cons := sides(xlo, xhi, glo, ghi)
	mult := make([]float64, len(cons))
	rho := rho0

	x := p.InitialGuess()
	for j := range x {
		x[j] = math.Min(math.Max(x[j], xlo[j]), xhi[j])
	}
	if len(opts.InitialLambda) == m {
		for k, c := range cons {
			if c.row < 0 {
				continue
			}
			l := opts.InitialLambda[c.row]
			switch {
			case c.eq:
				mult[k] = l
			case c.sign > 0:
				mult[k] = math.Max(0, l)
			default:
				mult[k] = math.Max(0, -l)
			}
		}
	}

	g := make([]float64, m)
	jac := mat.NewDense(max(m, 1), n, nil)
	grad := make([]float64, n)

	// term returns the penalty contribution and its derivative with respect
	// to the side value.
	term := func(k int, v float64) (float64, float64) {
		if cons[k].eq {
			return mult[k]*v + 0.5*rho*v*v, mult[k] + rho*v
		}
		t := math.Max(0, mult[k]+rho*v)
		return (t*t - mult[k]*mult[k]) / (2 * rho), t
	}
	lagrangian := func(x []float64) float64 {
		if m > 0 {
			p.Constraints(x, g)
		}
		f := p.Objective(x)
		for k, c := range cons {
			v, _ := term(k, c.value(x, g))
			f += v
		}
		return f
	}
	gradient := func(dst, x []float64) {
		p.Gradient(x, grad)
		copy(dst, grad)
		if m > 0 {
			p.Constraints(x, g)
			p.Jacobian(x, jac)
		}
		for k, c := range cons {
			_, d := term(k, c.value(x, g))
			if d == 0 {
				continue
			}
			d *= c.sign
			if c.row < 0 {
				dst[c.index] += d
				continue
			}
			for j := 0; j < n; j++ {
				dst[j] += d * jac.At(c.row, j)
			}
		}
	}

	violation := func(x []float64) float64 {
		if m > 0 {
			p.Constraints(x, g)
		}
		v := 0.0
		for _, c := range cons {
			cv := c.value(x, g)
			if c.eq {
				cv = math.Abs(cv)
			}
			v = math.Max(v, cv)
		}
		return v
	}

	iters := 0
	prevViol := math.Inf(1)
	status := solver.NotConverged
	msg := "outer iteration limit"
	for outer := 0; outer < maxOuter; outer++ {
		if err := ctx.Err(); err != nil {
			return s.result(p, x, cons, mult, m, iters, start, solver.NotConverged, "cancelled"), err
		}
		if opts.MaxTime > 0 && time.Since(start) > opts.MaxTime {
			msg = "time limit"
			break
		}
		remaining := opts.MaxIter - iters
		if remaining <= 0 {
			msg = "iteration limit"
			break
		}

		res, err := optimize.Minimize(optimize.Problem{Func: lagrangian, Grad: gradient}, x, &optimize.Settings{
			GradientThreshold: opts.Tol,
			MajorIterations:   remaining,
			Converger:         &optimize.FunctionConverge{Absolute: 1e-14, Relative: 1e-14, Iterations: 20},
		}, &optimize.LBFGS{})
		if res == nil {
			return nil, err
		}
		if err != nil && !errors.Is(err, optimize.ErrLinesearcherFailure) {
			log.Debug("auglag inner stop", "err", err)
		}
		x = res.X
		iters += res.Stats.MajorIterations

		viol := violation(x)
		gnorm := 0.0
		if res.Gradient != nil {
			gnorm = floats.Norm(res.Gradient, math.Inf(1))
		}
		log.Debug("auglag outer", "outer", outer, "f", p.Objective(x), "viol", viol, "rho", rho, "inner", res.Stats.MajorIterations)
		if opts.Observer != nil {
			opts.Observer(solver.Iteration{
				Iter:      iters,
				Objective: p.Objective(x),
				Primal:    viol,
				Dual:      gnorm,
				Mu:        1 / rho,
				Step:      1,
				Elapsed:   time.Since(start),
			})
		}
		if viol <= opts.Tol && gnorm <= opts.AcceptableTol {
			status, msg = solver.Converged, "optimal"
			break
		}

		for k, c := range cons {
			_, mult[k] = term(k, c.value(x, g))
		}
		if viol > 0.25*prevViol {
			rho = math.Min(rho*rhoGrowth, rhoMax)
		}
		prevViol = viol
	}
	if status == solver.NotConverged && violation(x) <= opts.AcceptableTol {
		status, msg = solver.Acceptable, "acceptable level"
	}
	return s.result(p, x, cons, mult, m, iters, start, status, msg), nil
}

func (s *Solver) result(p nlp.Problem, x []float64, cons []side, mult []float64, m, iters int, start time.Time, status solver.Status, msg string) *solver.Result {
	lam := make([]float64, m)
	for k, c := range cons {
		if c.row >= 0 {
			lam[c.row] += c.sign * mult[k]
		}
	}
	return &solver.Result{
		X:          append([]float64(nil), x...),
		Lambda:     lam,
		Objective:  p.Objective(x),
		Iterations: iters,
		SolveTime:  time.Since(start),
		Status:     status,
		Message:    msg,
	}
}
