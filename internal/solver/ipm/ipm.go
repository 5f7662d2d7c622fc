// Package ipm is a dense primal-dual interior point method with a filter
// line search, in the style of IPOPT.
package ipm

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/solver"
)

const (
	infBound      = 1e20
	acceptIters   = 15
	maxBacktracks = 40
	maxRegTries   = 30
	kappaSigma    = 1e10
	firstReg      = 1e-4
	lamInitMax    = 1e3
)

type Solver struct{}

func New() *Solver {
	return &Solver{}
}

func (*Solver) Name() string {
	return "ipm"
}

// state holds the problem in slack form: z = (x, s) with one slack per
// inequality row and lo <= z <= up.
type state struct {
	p    nlp.Problem
	n, m int
	N    int
	eq   []int
	ineq []int
	glo  []float64
	lo   []float64
	up   []float64
	hasl []bool
	hasu []bool
}

func newState(p nlp.Problem) (*state, error) {
	n, m := p.Dims()
	xlo, xhi, glo, ghi := p.Bounds()
	st := &state{p: p, n: n, m: m, glo: glo}
	for i := 0; i < m; i++ {
		if glo[i] > ghi[i] {
			return nil, fmt.Errorf("%w: row %d bounds [%g, %g]", dynamo.ErrInvalidProblem, i, glo[i], ghi[i])
		}
		if glo[i] == ghi[i] {
			st.eq = append(st.eq, i)
		} else {
			st.ineq = append(st.ineq, i)
		}
	}
	st.N = n + len(st.ineq)
	st.lo = append(append([]float64(nil), xlo...), make([]float64, len(st.ineq))...)
	st.up = append(append([]float64(nil), xhi...), make([]float64, len(st.ineq))...)
	for k, i := range st.ineq {
		st.lo[n+k] = glo[i]
		st.up[n+k] = ghi[i]
	}
	st.hasl = make([]bool, st.N)
	st.hasu = make([]bool, st.N)
	for i := 0; i < st.N; i++ {
		if st.lo[i] > st.up[i] {
			return nil, fmt.Errorf("%w: variable %d bounds [%g, %g]", dynamo.ErrInvalidProblem, i, st.lo[i], st.up[i])
		}
		st.hasl[i] = st.lo[i] > -infBound
		st.hasu[i] = st.up[i] < infBound
	}
	return st, nil
}

func (st *state) resid(z, r []float64) {
	c := make([]float64, st.m)
	st.p.Constraints(z[:st.n], c)
	for _, i := range st.eq {
		r[i] = c[i] - st.glo[i]
	}
	for k, i := range st.ineq {
		r[i] = c[i] - z[st.n+k]
	}
}

func (st *state) barrier(z []float64, mu float64) float64 {
	v := st.p.Objective(z[:st.n])
	for i := 0; i < st.N; i++ {
		if st.hasl[i] {
			v -= mu * math.Log(z[i]-st.lo[i])
		}
		if st.hasu[i] {
			v -= mu * math.Log(st.up[i]-z[i])
		}
	}
	return v
}

// push moves z strictly inside its bounds.
func (st *state) push(z []float64, k1 float64) {
	for i := 0; i < st.N; i++ {
		l, u := st.lo[i], st.up[i]
		switch {
		case st.hasl[i] && st.hasu[i]:
			pl := math.Min(k1*math.Max(1, math.Abs(l)), k1*(u-l))
			pu := math.Min(k1*math.Max(1, math.Abs(u)), k1*(u-l))
			z[i] = math.Min(math.Max(z[i], l+pl), u-pu)
		case st.hasl[i]:
			z[i] = math.Max(z[i], l+k1*math.Max(1, math.Abs(l)))
		case st.hasu[i]:
			z[i] = math.Min(z[i], u-k1*math.Max(1, math.Abs(u)))
		}
	}
}

// fractionToBoundary returns the largest step in (0, 1] keeping z + a*d
// a fraction tau away from the bounds.
func (st *state) fractionToBoundary(z, d []float64, tau float64) float64 {
	a := 1.0
	for i := 0; i < st.N; i++ {
		if st.hasl[i] && d[i] < 0 {
			a = math.Min(a, -tau*(z[i]-st.lo[i])/d[i])
		}
		if st.hasu[i] && d[i] > 0 {
			a = math.Min(a, tau*(st.up[i]-z[i])/d[i])
		}
	}
	return a
}

type filterEntry struct {
	theta, phi float64
}

func (s *Solver) Solve(ctx context.Context, p nlp.Problem, opts solver.Options) (*solver.Result, error) {
	opts = opts.WithDefaults()
	log := opts.Logger
	start := time.Now()

	st, err := newState(p)
	if err != nil {
		return nil, err
	}
	n, m, N := st.n, st.m, st.N
	T := N + m

	x0 := p.InitialGuess()
	if len(x0) != n {
		return nil, fmt.Errorf("%w: initial guess has %d entries, want %d", dynamo.ErrDimensionMismatch, len(x0), n)
	}
	z := make([]float64, N)
	copy(z, x0)
	if len(st.ineq) > 0 {
		c := make([]float64, m)
		p.Constraints(x0, c)
		for k, i := range st.ineq {
			z[n+k] = c[i]
		}
	}
	k1, mu := 1e-2, 0.1
	if opts.WarmStart {
		k1, mu = 1e-4, 1e-3
	}
	st.push(z, k1)

	seeded := m > 0 && len(opts.InitialLambda) == m
	zl := make([]float64, N)
	zu := make([]float64, N)
	for i := 0; i < N; i++ {
		if st.hasl[i] {
			zl[i] = 1
			if opts.WarmStart && !seeded {
				zl[i] = mu / (z[i] - st.lo[i])
			}
		}
		if st.hasu[i] {
			zu[i] = 1
			if opts.WarmStart && !seeded {
				zu[i] = mu / (st.up[i] - z[i])
			}
		}
	}
	lam := make([]float64, m)
	switch {
	case seeded:
		copy(lam, opts.InitialLambda)
	case opts.WarmStart && m > 0:
		// the exact Hessian needs multipliers that match the warm point
		if est, ok := st.leastSquaresMultipliers(z, zl, zu); ok {
			lam = est
		}
	}

	log.Debug("ipm start", "n", n, "m", m, "slacks", len(st.ineq), "hessian", opts.Hessian.String())

	var (
		filter       []filterEntry
		thetaMax     = -1.0
		thetaMin     float64
		lastMu       = math.NaN()
		accepted     int
		bfgs         *mat.SymDense
		xPrev, gPrev []float64
		jPrev        *mat.Dense
		grad         = make([]float64, n)
		r            = make([]float64, m)
		jac          = mat.NewDense(max(m, 1), n, nil)
	)
	if m == 0 {
		jac = nil
	}

	result := func(it int, status solver.Status, msg string) *solver.Result {
		x := append([]float64(nil), z[:n]...)
		return &solver.Result{
			X:          x,
			Lambda:     append([]float64(nil), lam...),
			Objective:  p.Objective(x),
			Iterations: it,
			SolveTime:  time.Since(start),
			Status:     status,
			Message:    msg,
		}
	}

	for it := 0; it < opts.MaxIter; it++ {
		if err := ctx.Err(); err != nil {
			return result(it, solver.NotConverged, "cancelled"), err
		}
		if opts.MaxTime > 0 && time.Since(start) > opts.MaxTime {
			return result(it, solver.NotConverged, "time limit"), nil
		}

		x := z[:n]
		p.Gradient(x, grad)
		if m > 0 {
			p.Jacobian(x, jac)
		}
		st.resid(z, r)

		// gradient of the Lagrangian in slack form
		gL := make([]float64, N)
		copy(gL, grad)
		if m > 0 {
			var jtl mat.VecDense
			jtl.MulVec(jac.T(), mat.NewVecDense(m, lam))
			for j := 0; j < n; j++ {
				gL[j] += jtl.AtVec(j)
			}
		}
		for k, i := range st.ineq {
			gL[n+k] -= lam[i]
		}

		sd := math.Max(100, (floats.Norm(lam, 1)+floats.Sum(zl)+floats.Sum(zu))/float64(max(1, m+N))) / 100
		du, pr := 0.0, 0.0
		for j := 0; j < N; j++ {
			du = math.Max(du, math.Abs(gL[j]-zl[j]+zu[j]))
		}
		if m > 0 {
			pr = floats.Norm(r, math.Inf(1))
		}
		compl := func(mu float64) float64 {
			c := 0.0
			for i := 0; i < N; i++ {
				if st.hasl[i] {
					c = math.Max(c, math.Abs((z[i]-st.lo[i])*zl[i]-mu))
				}
				if st.hasu[i] {
					c = math.Max(c, math.Abs((st.up[i]-z[i])*zu[i]-mu))
				}
			}
			return c
		}
		errNLP := math.Max(math.Max(du/sd, pr), compl(0)/sd)
		fx := p.Objective(x)

		if errNLP < opts.Tol {
			log.Debug("ipm converged", "iter", it, "f", fx, "err", errNLP)
			return result(it, solver.Converged, "optimal"), nil
		}
		if errNLP < opts.AcceptableTol {
			accepted++
			if accepted >= acceptIters {
				log.Debug("ipm acceptable", "iter", it, "f", fx, "err", errNLP)
				return result(it, solver.Acceptable, "acceptable level"), nil
			}
		} else {
			accepted = 0
		}

		for math.Max(math.Max(du/sd, pr), compl(mu)/sd) <= 10*mu && mu > opts.Tol/10 {
			mu = math.Max(opts.Tol/10, math.Min(0.2*mu, math.Pow(mu, 1.5)))
		}

		var H *mat.SymDense
		if opts.Hessian == solver.Exact {
			H = mat.NewSymDense(n, nil)
			p.Hessian(x, 1, lam, H)
		} else {
			bfgs = updateBFGS(bfgs, n, x, xPrev, grad, gPrev, jac, jPrev, lam)
			H = bfgs
			xPrev = append(xPrev[:0], x...)
			gPrev = append(gPrev[:0], grad...)
			if m > 0 {
				jPrev = mat.DenseCopyOf(jac)
			}
		}

		sig := make([]float64, N)
		gphi := make([]float64, N)
		copy(gphi, grad)
		for i := 0; i < N; i++ {
			if st.hasl[i] {
				sl := z[i] - st.lo[i]
				sig[i] += zl[i] / sl
				gphi[i] -= mu / sl
			}
			if st.hasu[i] {
				su := st.up[i] - z[i]
				sig[i] += zu[i] / su
				gphi[i] += mu / su
			}
		}

		base := mat.NewDense(T, T, nil)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				base.Set(i, j, H.At(i, j))
			}
		}
		for i := 0; i < N; i++ {
			base.Set(i, i, base.At(i, i)+sig[i])
		}
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				if v := jac.At(i, j); v != 0 {
					base.Set(N+i, j, v)
					base.Set(j, N+i, v)
				}
			}
		}
		for k, i := range st.ineq {
			base.Set(N+i, n+k, -1)
			base.Set(n+k, N+i, -1)
		}
		rhs := make([]float64, T)
		for i := 0; i < N; i++ {
			rhs[i] = -gphi[i]
		}
		for i := 0; i < m; i++ {
			rhs[N+i] = -r[i]
		}

		var (
			lu  mat.LU
			sol []float64
			reg float64
			K   = mat.NewDense(T, T, nil)
		)
		for try := 0; try < maxRegTries; try++ {
			K.Copy(base)
			for i := 0; i < N; i++ {
				K.Set(i, i, K.At(i, i)+reg)
			}
			lu.Factorize(K)
			if s, ok := solveLU(&lu, rhs); ok && positiveCurvature(K, s[:N]) {
				sol = s
				break
			}
			if reg == 0 {
				reg = firstReg
			} else {
				reg *= 10
			}
		}
		if sol == nil {
			return result(it, solver.NotConverged, "KKT system could not be regularized"), nil
		}
		dz := sol[:N]
		lamNew := sol[N:]

		dzl := make([]float64, N)
		dzu := make([]float64, N)
		for i := 0; i < N; i++ {
			if st.hasl[i] {
				sl := z[i] - st.lo[i]
				dzl[i] = mu/sl - zl[i] - zl[i]/sl*dz[i]
			}
			if st.hasu[i] {
				su := st.up[i] - z[i]
				dzu[i] = mu/su - zu[i] + zu[i]/su*dz[i]
			}
		}
		tau := math.Max(0.99, 1-mu)
		amax := st.fractionToBoundary(z, dz, tau)
		azmax := 1.0
		for i := 0; i < N; i++ {
			if st.hasl[i] && dzl[i] < 0 {
				azmax = math.Min(azmax, -tau*zl[i]/dzl[i])
			}
			if st.hasu[i] && dzu[i] < 0 {
				azmax = math.Min(azmax, -tau*zu[i]/dzu[i])
			}
		}

		theta0 := floats.Norm(r, 1)
		phi0 := st.barrier(z, mu)
		dphi := floats.Dot(gphi, dz)
		if thetaMax < 0 {
			thetaMax = 1e4 * math.Max(1, theta0)
			thetaMin = 1e-4 * math.Max(1, theta0)
		}
		if mu != lastMu {
			filter = filter[:0]
			lastMu = mu
		}

		measure := func(zt []float64) (float64, float64, []float64) {
			rt := make([]float64, m)
			st.resid(zt, rt)
			return floats.Norm(rt, 1), st.barrier(zt, mu), rt
		}
		dominated := func(th, ph float64) bool {
			for _, f := range filter {
				if th >= f.theta && ph >= f.phi {
					return true
				}
			}
			return false
		}
		// acceptable returns whether the trial is accepted and whether the
		// step was an f-type (Armijo) step.
		acceptable := func(a, th, ph float64) (bool, bool) {
			if th > thetaMax || math.IsNaN(ph) || dominated(th, ph) {
				return false, false
			}
			switching := dphi < 0 && a*math.Pow(-dphi, 2.3) > math.Pow(theta0, 1.1)
			if theta0 <= thetaMin && switching {
				return ph <= phi0+1e-4*a*dphi, true
			}
			return th <= (1-1e-5)*theta0 || ph <= phi0-1e-8*theta0, false
		}

		a := amax
		var (
			zt     []float64
			ok     bool
			fType  bool
			stepOK bool
		)
		for ls := 0; ls < maxBacktracks; ls++ {
			zt = make([]float64, N)
			floats.AddScaledTo(zt, z, a, dz)
			th, ph, rt := measure(zt)
			if ok, fType = acceptable(a, th, ph); ok {
				stepOK = true
				break
			}
			if ls == 0 && m > 0 && th >= theta0 {
				if zs, okSOC, fSOC := st.secondOrder(&lu, gphi, r, rt, a, z, tau, measure, acceptable); okSOC {
					zt, stepOK, fType = zs, true, fSOC
					break
				}
			}
			a *= 0.5
		}
		if stepOK && !fType {
			filter = append(filter, filterEntry{theta: (1 - 1e-5) * theta0, phi: phi0 - 1e-8*theta0})
		}
		if !stepOK {
			log.Debug("ipm line search exhausted", "iter", it)
		}

		copy(z, zt)
		for i := range lam {
			lam[i] += a * (lamNew[i] - lam[i])
		}
		for i := 0; i < N; i++ {
			zl[i] += azmax * dzl[i]
			zu[i] += azmax * dzu[i]
			if st.hasl[i] {
				sl := z[i] - st.lo[i]
				zl[i] = math.Max(math.Min(zl[i], kappaSigma*mu/sl), mu/(kappaSigma*sl))
			}
			if st.hasu[i] {
				su := st.up[i] - z[i]
				zu[i] = math.Max(math.Min(zu[i], kappaSigma*mu/su), mu/(kappaSigma*su))
			}
		}

		rec := solver.Iteration{
			Iter:           it,
			Objective:      fx,
			Primal:         pr,
			Dual:           du,
			Mu:             mu,
			Step:           a,
			Regularization: reg,
			Elapsed:        time.Since(start),
		}
		log.Debug("ipm iteration", "iter", it, "f", fx, "inf_pr", pr, "inf_du", du, "mu", mu, "alpha", a, "reg", reg)
		if opts.Observer != nil {
			opts.Observer(rec)
		}
	}
	return result(opts.MaxIter, solver.NotConverged, "iteration limit"), nil
}

// leastSquaresMultipliers returns the row multipliers minimizing the dual
// infeasibility at z for fixed bound duals. Estimates above lamInitMax are
// discarded.
func (st *state) leastSquaresMultipliers(z, zl, zu []float64) ([]float64, bool) {
	n, m, N := st.n, st.m, st.N
	x := z[:n]
	grad := make([]float64, n)
	st.p.Gradient(x, grad)
	jac := mat.NewDense(m, n, nil)
	st.p.Jacobian(x, jac)

	// stationarity in slack form: Js' lam = -(g - zl + zu)
	jt := mat.NewDense(N, m, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			jt.Set(j, i, jac.At(i, j))
		}
	}
	for k, i := range st.ineq {
		jt.Set(n+k, i, -1)
	}
	b := make([]float64, N)
	for j := 0; j < N; j++ {
		g := 0.0
		if j < n {
			g = grad[j]
		}
		b[j] = -(g - zl[j] + zu[j])
	}
	if N < m {
		return nil, false
	}
	var lam mat.VecDense
	if err := lam.SolveVec(jt, mat.NewVecDense(N, b)); err != nil {
		return nil, false
	}
	out := lam.RawVector().Data
	for _, v := range out {
		if math.IsNaN(v) || math.Abs(v) > lamInitMax {
			return nil, false
		}
	}
	return out, true
}

// secondOrder retries the first trial step with the constraint residual
// corrected by the trial residual, reusing the factorization.
func (st *state) secondOrder(
	lu *mat.LU, gphi, r, rt []float64, a float64, z []float64, tau float64,
	measure func([]float64) (float64, float64, []float64),
	acceptable func(a, th, ph float64) (bool, bool),
) ([]float64, bool, bool) {
	N, m := st.N, st.m
	rhs := make([]float64, N+m)
	for i := 0; i < N; i++ {
		rhs[i] = -gphi[i]
	}
	for i := 0; i < m; i++ {
		rhs[N+i] = -(a*r[i] + rt[i])
	}
	s, ok := solveLU(lu, rhs)
	if !ok {
		return nil, false, false
	}
	ds := s[:N]
	as := st.fractionToBoundary(z, ds, tau)
	zs := make([]float64, N)
	floats.AddScaledTo(zs, z, as, ds)
	th, ph, _ := measure(zs)
	accepted, fType := acceptable(a, th, ph)
	return zs, accepted, fType
}

// solveLU reports false when the factorization was singular. Condition
// warnings are expected close to the solution and are ignored.
func solveLU(lu *mat.LU, rhs []float64) ([]float64, bool) {
	var x mat.VecDense
	_ = lu.SolveVecTo(&x, false, mat.NewVecDense(len(rhs), append([]float64(nil), rhs...)))
	out := x.RawVector().Data
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	return out, true
}

// positiveCurvature checks d'(W + Sigma + reg I)d > 0 on the primal block.
func positiveCurvature(K *mat.Dense, d []float64) bool {
	N := len(d)
	curv, dd := 0.0, 0.0
	for i := 0; i < N; i++ {
		row := 0.0
		for j := 0; j < N; j++ {
			row += K.At(i, j) * d[j]
		}
		curv += d[i] * row
		dd += d[i] * d[i]
	}
	return curv >= 1e-12*dd
}

// updateBFGS applies a Powell-damped BFGS update to the Lagrangian Hessian
// approximation, starting from the identity.
func updateBFGS(B *mat.SymDense, n int, x, xPrev, g, gPrev []float64, J, jPrev *mat.Dense, lam []float64) *mat.SymDense {
	if B == nil || xPrev == nil {
		B = mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			B.SetSym(i, i, 1)
		}
		return B
	}
	s := make([]float64, n)
	floats.SubTo(s, x, xPrev)
	y := make([]float64, n)
	floats.SubTo(y, g, gPrev)
	if J != nil && jPrev != nil {
		var dj mat.Dense
		dj.Sub(J, jPrev)
		var v mat.VecDense
		v.MulVec(dj.T(), mat.NewVecDense(len(lam), lam))
		for i := range y {
			y[i] += v.AtVec(i)
		}
	}

	sv := mat.NewVecDense(n, s)
	var bs mat.VecDense
	bs.MulVec(B, sv)
	sBs := mat.Dot(sv, &bs)
	if sBs <= 1e-16 {
		return B
	}
	sy := floats.Dot(s, y)
	theta := 1.0
	if sy < 0.2*sBs {
		theta = 0.8 * sBs / (sBs - sy)
	}
	rr := mat.NewVecDense(n, nil)
	rr.ScaleVec(1-theta, &bs)
	rr.AddScaledVec(rr, theta, mat.NewVecDense(n, y))
	sr := mat.Dot(sv, rr)

	B.SymRankOne(B, -1/sBs, &bs)
	B.SymRankOne(B, 1/sr, rr)
	return B
}
