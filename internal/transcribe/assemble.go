package transcribe

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/mesh"
	"github.com/san-kum/dynopt/internal/nlp"
)

// pack collects the inputs of one block.
type pack struct {
	in  []layout.Expr
	nom []float64
}

func (p *pack) push(ex layout.Expr, nominal float64) int {
	p.in = append(p.in, ex)
	p.nom = append(p.nom, nominal)
	return len(p.in) - 1
}

// pointRef locates the values of one collocation point inside a block's
// input vector.
type pointRef struct {
	dx, x, u, w, p, t int
	// h and nodes are set when derivatives are computed inline
	h, nodes int
	node     int
	sc       *mesh.Scheme
}

type assembler struct {
	l    *layout.Layout
	prob *dynamo.Problem
	m    *mesh.Mesh
	nx   int
	T    float64
	hNom float64
}

func newAssembler(l *layout.Layout) *assembler {
	return &assembler{
		l:    l,
		prob: l.Problem,
		m:    l.Mesh,
		nx:   len(l.Problem.States),
		T:    l.Problem.Horizon(),
		hNom: 1 / float64(l.Mesh.Len()),
	}
}

func (a *assembler) ref(e, node int, kind layout.Kind, i int) layout.Expr {
	return a.l.MustLookup(layout.Ref{Element: e, Node: node, Kind: kind, Index: i})
}

func (a *assembler) length(e int) layout.Expr {
	return a.ref(e, 0, layout.Length, 0)
}

func (a *assembler) pushStates(pk *pack, e, node int) int {
	off := len(pk.in)
	for i, v := range a.prob.States {
		pk.push(a.ref(e, node, layout.State, i), v.Nominal)
	}
	return off
}

func (a *assembler) pushNodes(pk *pack, e int) int {
	off := len(pk.in)
	for j := range a.m.Elements[e].Scheme.Nodes {
		a.pushStates(pk, e, j)
	}
	return off
}

// addPoint appends everything a callback needs at collocation point k of
// element e.
func (a *assembler) addPoint(pk *pack, e, k int, withDx bool) pointRef {
	sc := a.m.Elements[e].Scheme
	node := sc.Colloc[k]
	r := pointRef{dx: -1, h: -1, node: node, sc: sc}
	switch {
	case withDx && a.l.DerivativeInline():
		r.h = pk.push(a.length(e), a.hNom)
		r.nodes = a.pushNodes(pk, e)
		r.x = r.nodes + node*a.nx
	case withDx:
		r.dx = len(pk.in)
		for i, v := range a.prob.States {
			pk.push(a.ref(e, k, layout.Derivative, i), v.Nominal)
		}
		fallthrough
	default:
		if r.h < 0 {
			r.x = a.pushStates(pk, e, node)
		}
	}
	r.u = len(pk.in)
	for i, v := range a.prob.Controls {
		pk.push(a.ref(e, k, layout.Control, i), v.Nominal)
	}
	r.w = len(pk.in)
	for i, v := range a.prob.Algebraics {
		pk.push(a.ref(e, k, layout.Algebraic, i), v.Nominal)
	}
	r.p = len(pk.in)
	for i, v := range a.prob.Parameters {
		pk.push(a.l.MustLookup(layout.Ref{Kind: layout.Parameter, Index: i}), v.Nominal)
	}
	r.t = pk.push(a.l.Time(e, sc.Nodes[node]), 1)
	return r
}

func (a *assembler) decode(r pointRef, v []float64) dynamo.Point {
	nx, nu, nw, np := a.nx, len(a.prob.Controls), len(a.prob.Algebraics), len(a.prob.Parameters)
	pt := dynamo.Point{
		T: v[r.t],
		X: v[r.x : r.x+nx],
		U: v[r.u : r.u+nu],
		W: v[r.w : r.w+nw],
		P: v[r.p : r.p+np],
	}
	switch {
	case r.dx >= 0:
		pt.Dx = v[r.dx : r.dx+nx]
	case r.h >= 0:
		pt.Dx = a.inlineDer(r, v)
	}
	return pt
}

func (a *assembler) inlineDer(r pointRef, v []float64) []float64 {
	h := v[r.h] * a.T
	dx := make([]float64, a.nx)
	for j := range r.sc.Nodes {
		d := r.sc.D.At(r.node, j) / h
		if d == 0 {
			continue
		}
		for i := range dx {
			dx[i] += d * v[r.nodes+j*a.nx+i]
		}
	}
	return dx
}

func zeros(n int) []float64 {
	return make([]float64, n)
}

// boundary pins the fixed initial states.
func (a *assembler) boundary() (nlp.Block, bool) {
	var pk pack
	var starts []float64
	for i, v := range a.prob.States {
		if !v.Fixed {
			continue
		}
		pk.push(a.ref(0, 0, layout.State, i), v.Nominal)
		starts = append(starts, v.Start)
	}
	if len(starts) == 0 {
		return nlp.Block{}, false
	}
	return nlp.Block{
		Origin:  nlp.Boundary,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Rows:    len(starts),
		Lower:   zeros(len(starts)),
		Upper:   zeros(len(starts)),
		Linear:  true,
		Residual: func(v, res []float64) {
			for i := range res {
				res[i] = v[i] - starts[i]
			}
		},
	}, true
}

// element returns the rows of element e in order: per collocation point the
// collocation, DAE and path rows, then continuity with element e-1.
func (a *assembler) element(e int) []nlp.Block {
	sc := a.m.Elements[e].Scheme
	var out []nlp.Block
	for k := range sc.Colloc {
		if !a.l.Options.EliminateDerivatives {
			out = append(out, a.collocation(e, k))
		}
		out = append(out, a.dae(e, k))
		if len(a.prob.Path) > 0 {
			out = append(out, a.path(e, k))
		}
	}
	if e > 0 && !a.l.Options.EliminateContinuity {
		out = append(out, a.continuity(e))
	}
	return out
}

// collocation ties the kept derivatives to the state polynomial:
// sum_j D_kj x_j - h T dx_k = 0.
func (a *assembler) collocation(e, k int) nlp.Block {
	sc := a.m.Elements[e].Scheme
	node := sc.Colloc[k]
	nx, T := a.nx, a.T
	var pk pack
	hOff := pk.push(a.length(e), a.hNom)
	dxOff := len(pk.in)
	for i, v := range a.prob.States {
		pk.push(a.ref(e, k, layout.Derivative, i), v.Nominal)
	}
	nodes := a.pushNodes(&pk, e)
	row := mat.Row(nil, node, sc.D)
	return nlp.Block{
		Origin:  nlp.Collocation,
		Element: e,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Rows:    nx,
		Lower:   zeros(nx),
		Upper:   zeros(nx),
		Linear:  !a.m.IsFree(),
		Residual: func(v, res []float64) {
			h := v[hOff] * T
			for i := 0; i < nx; i++ {
				s := -h * v[dxOff+i]
				for j, d := range row {
					s += d * v[nodes+j*nx+i]
				}
				res[i] = s
			}
		},
	}
}

func (a *assembler) dae(e, k int) nlp.Block {
	var pk pack
	r := a.addPoint(&pk, e, k, true)
	n := a.prob.Residuals()
	f := a.prob.DAE
	return nlp.Block{
		Origin:  nlp.DAE,
		Element: e,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Rows:    n,
		Lower:   zeros(n),
		Upper:   zeros(n),
		Residual: func(v, res []float64) {
			f(a.decode(r, v), res)
		},
	}
}

func (a *assembler) path(e, k int) nlp.Block {
	var pk pack
	r := a.addPoint(&pk, e, k, false)
	cons := a.prob.Path
	lo := make([]float64, len(cons))
	hi := make([]float64, len(cons))
	for i, c := range cons {
		lo[i], hi[i] = c.Lower, c.Upper
	}
	return nlp.Block{
		Origin:  nlp.Path,
		Element: e,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Rows:    len(cons),
		Lower:   lo,
		Upper:   hi,
		Residual: func(v, res []float64) {
			pt := a.decode(r, v)
			for i, c := range cons {
				res[i] = c.Eval(pt)
			}
		},
	}
}

// continuity: x_{e,0} - sum_j End_j x_{e-1,j} = 0.
func (a *assembler) continuity(e int) nlp.Block {
	nx := a.nx
	end := a.m.Elements[e-1].Scheme.End
	var pk pack
	a.pushStates(&pk, e, 0)
	prev := a.pushNodes(&pk, e-1)
	return nlp.Block{
		Origin:  nlp.Continuity,
		Element: e,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Rows:    nx,
		Lower:   zeros(nx),
		Upper:   zeros(nx),
		Linear:  true,
		Residual: func(v, res []float64) {
			for i := 0; i < nx; i++ {
				s := v[i]
				for j, b := range end {
					s -= b * v[prev+j*nx+i]
				}
				res[i] = s
			}
		},
	}
}

// stateAt returns the interpolated states at physical time t.
func (a *assembler) stateAt(t float64) ([]layout.Expr, error) {
	out := make([]layout.Expr, a.nx)
	last := a.m.Len() - 1
	switch {
	case t >= a.prob.FinalTime:
		for i := range out {
			out[i] = a.l.End(last, i)
		}
	case t <= a.prob.StartTime:
		for i := range out {
			out[i] = a.l.StateAt(0, 0, i)
		}
	case a.m.IsFree():
		return nil, fmt.Errorf("%w: point constraint at interior time %g needs a fixed mesh", dynamo.ErrInvalidProblem, t)
	default:
		e, tau := a.m.Locate((t - a.prob.StartTime) / a.T)
		for i := range out {
			out[i] = a.l.StateAt(e, tau, i)
		}
	}
	return out, nil
}

func (a *assembler) pushParams(pk *pack) int {
	off := len(pk.in)
	for i, v := range a.prob.Parameters {
		pk.push(a.l.MustLookup(layout.Ref{Kind: layout.Parameter, Index: i}), v.Nominal)
	}
	return off
}

func (a *assembler) point(c dynamo.PointConstraint) (nlp.Block, error) {
	xs, err := a.stateAt(c.Time)
	if err != nil {
		return nlp.Block{}, err
	}
	var pk pack
	for i, ex := range xs {
		pk.push(ex, a.prob.States[i].Nominal)
	}
	p := a.pushParams(&pk)
	nx := a.nx
	eval := c.Eval
	return nlp.Block{
		Origin:  nlp.Point,
		Element: a.m.Len() - 1,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Rows:    1,
		Lower:   []float64{c.Lower},
		Upper:   []float64{c.Upper},
		Residual: func(v, res []float64) {
			res[0] = eval(v[:nx], v[p:])
		},
	}, nil
}

// meshSum keeps the free element lengths summing to one.
func (a *assembler) meshSum() nlp.Block {
	var pk pack
	for e := range a.m.Elements {
		pk.push(a.length(e), a.hNom)
	}
	return nlp.Block{
		Origin:  nlp.MeshSum,
		Element: a.m.Len() - 1,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Rows:    1,
		Lower:   []float64{1},
		Upper:   []float64{1},
		Linear:  true,
		Residual: func(v, res []float64) {
			s := 0.0
			for _, h := range v {
				s += h
			}
			res[0] = s
		},
	}
}

// lagrange integrates the running cost over element e with the quadrature
// of its scheme.
func (a *assembler) lagrange(e int) nlp.Block {
	sc := a.m.Elements[e].Scheme
	var pk pack
	hOff := pk.push(a.length(e), a.hNom)
	refs := make([]pointRef, len(sc.Colloc))
	for k := range sc.Colloc {
		refs[k] = a.addPoint(&pk, e, k, false)
	}
	L, T, w := a.prob.Lagrange, a.T, sc.Weights
	return nlp.Block{
		Origin:  nlp.Collocation,
		Element: e,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Cost: func(v []float64) float64 {
			s := 0.0
			for k, r := range refs {
				s += w[k] * L(a.decode(r, v))
			}
			return v[hOff] * T * s
		},
	}
}

func (a *assembler) mayer() nlp.Block {
	var pk pack
	last := a.m.Len() - 1
	for i, v := range a.prob.States {
		pk.push(a.l.End(last, i), v.Nominal)
	}
	p := a.pushParams(&pk)
	nx, phi := a.nx, a.prob.Mayer
	return nlp.Block{
		Origin:  nlp.Point,
		Element: last,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Cost: func(v []float64) float64 {
			return phi(v[:nx], v[p:])
		},
	}
}

// lengthPenalty is c (h T)^2 sum_k w_k dx_k' Q dx_k for element e. It
// pushes elements where the states move fast to be short.
func (a *assembler) lengthPenalty(e int) nlp.Block {
	sc := a.m.Elements[e].Scheme
	free := a.m.Free
	nx := a.nx
	var pk pack
	hOff := pk.push(a.length(e), a.hNom)
	inline := a.l.DerivativeInline()
	var nodes int
	dxOff := make([]int, len(sc.Colloc))
	if inline {
		nodes = a.pushNodes(&pk, e)
	} else {
		for k := range sc.Colloc {
			dxOff[k] = len(pk.in)
			for i, v := range a.prob.States {
				pk.push(a.ref(e, k, layout.Derivative, i), v.Nominal)
			}
		}
	}
	T, c, w, q := a.T, free.Weight, sc.Weights, free.Q
	return nlp.Block{
		Origin:  nlp.MeshSum,
		Element: e,
		Inputs:  pk.in,
		Nominal: pk.nom,
		Cost: func(v []float64) float64 {
			h := v[hOff] * T
			s := 0.0
			for k := range sc.Colloc {
				var dx []float64
				if inline {
					dx = a.inlineDer(pointRef{h: hOff, nodes: nodes, node: sc.Colloc[k], sc: sc}, v)
				} else {
					dx = v[dxOff[k] : dxOff[k]+nx]
				}
				s += w[k] * quadForm(q, dx)
			}
			return c * h * h * s
		},
	}
}

// quadForm returns x'Qx; a nil Q is the identity.
func quadForm(q *mat.SymDense, x []float64) float64 {
	s := 0.0
	if q == nil {
		for _, v := range x {
			s += v * v
		}
		return s
	}
	for i := range x {
		for j := range x {
			s += x[i] * q.At(i, j) * x[j]
		}
	}
	return s
}
