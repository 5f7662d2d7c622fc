package nlp

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/layout"
)

// Origin tags the equation a row came from.
type Origin int

const (
	Collocation Origin = iota
	DAE
	Continuity
	Path
	Point
	Boundary
	MeshSum
)

var originNames = [...]string{"collocation", "dae", "continuity", "path", "point", "boundary", "mesh"}

func (o Origin) String() string {
	if int(o) < len(originNames) {
		return originNames[o]
	}
	return fmt.Sprintf("Origin(%d)", int(o))
}

// ParseOrigin maps a row tag back to its Origin.
func ParseOrigin(s string) (Origin, error) {
	for i, name := range originNames {
		if name == s {
			return Origin(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown row origin %q", dynamo.ErrInvalidOptions, s)
}

// Block is a small dense function of a few affine inputs. A constraint block
// writes Rows residuals; a cost block returns one scalar.
type Block struct {
	Origin  Origin
	Element int
	Inputs  []layout.Expr
	Rows    int
	Lower   []float64
	Upper   []float64
	// Nominal holds the magnitude of each input; finite-difference steps
	// are taken relative to it. Nil means unit magnitudes.
	Nominal []float64
	// Linear blocks are differentiated with a unit step and skipped in the Hessian.
	Linear   bool
	Residual func(v, res []float64)
	Cost     func(v []float64) float64
}

// Evaluation selects how block derivatives are computed. It never changes
// the values, only the scheduling.
type Evaluation int

const (
	// Serial evaluates blocks one after another.
	Serial Evaluation = iota
	// Concurrent evaluates independent blocks on parallel workers.
	Concurrent
	// ConcurrentFD additionally runs the finite-difference stencils concurrently.
	ConcurrentFD
)

const hessianStep = 1e-4

// Program is a Problem assembled from blocks. Row blocks are laid out in
// order; their offsets are fixed at construction.
type Program struct {
	n       int
	m       int
	xlo     []float64
	xhi     []float64
	x0      []float64
	glo     []float64
	ghi     []float64
	rows    []Block
	costs   []Block
	offsets []int
	eval    Evaluation
}

// NewProgram checks block shapes and computes row offsets.
func NewProgram(n int, xlo, xhi, x0 []float64, rows, costs []Block, eval Evaluation) (*Program, error) {
	if len(xlo) != n || len(xhi) != n || len(x0) != n {
		return nil, fmt.Errorf("%w: bounds for %d variables", dynamo.ErrDimensionMismatch, n)
	}
	p := &Program{n: n, xlo: xlo, xhi: xhi, x0: x0, rows: rows, costs: costs, eval: eval}
	p.offsets = make([]int, len(rows))
	for i := range rows {
		b := &rows[i]
		if b.Residual == nil || len(b.Lower) != b.Rows || len(b.Upper) != b.Rows || (b.Nominal != nil && len(b.Nominal) != len(b.Inputs)) {
			return nil, fmt.Errorf("%w: %s block %d", dynamo.ErrDimensionMismatch, b.Origin, i)
		}
		if err := checkInputs(b, n); err != nil {
			return nil, err
		}
		p.offsets[i] = p.m
		p.m += b.Rows
		p.glo = append(p.glo, b.Lower...)
		p.ghi = append(p.ghi, b.Upper...)
	}
	for i := range costs {
		if costs[i].Cost == nil {
			return nil, fmt.Errorf("%w: cost block %d has no cost", dynamo.ErrDimensionMismatch, i)
		}
		if err := checkInputs(&costs[i], n); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func checkInputs(b *Block, n int) error {
	for _, ex := range b.Inputs {
		for _, t := range ex.Terms {
			if t.Pos < 0 || t.Pos >= n {
				return fmt.Errorf("%w: %s block references position %d of %d", dynamo.ErrDimensionMismatch, b.Origin, t.Pos, n)
			}
		}
	}
	return nil
}

func (p *Program) Dims() (int, int) {
	return p.n, p.m
}

func (p *Program) Bounds() (xlo, xhi, glo, ghi []float64) {
	return p.xlo, p.xhi, p.glo, p.ghi
}

func (p *Program) InitialGuess() []float64 {
	return append([]float64(nil), p.x0...)
}

// WithInitialGuess returns a copy of p starting from x0.
func (p *Program) WithInitialGuess(x0 []float64) *Program {
	q := *p
	q.x0 = append([]float64(nil), x0...)
	return &q
}

func (p *Program) RowBlocks() []Block {
	return p.rows
}

func (p *Program) CostBlocks() []Block {
	return p.costs
}

// RowOffset returns the first row of row block i.
func (p *Program) RowOffset(i int) int {
	return p.offsets[i]
}

// RowOrigins returns the origin of every row.
func (p *Program) RowOrigins() []Origin {
	out := make([]Origin, 0, p.m)
	for _, b := range p.rows {
		for r := 0; r < b.Rows; r++ {
			out = append(out, b.Origin)
		}
	}
	return out
}

func (p *Program) forEach(n int, fn func(i int)) {
	if p.eval == Serial {
		for i := 0; i < n; i++ {
			fn(i)
		}
		return
	}
	dynamo.ParallelFor(n, 8, func(start, end int) {
		for i := start; i < end; i++ {
			fn(i)
		}
	})
}

func inputs(b *Block, x []float64) []float64 {
	v := make([]float64, len(b.Inputs))
	for i, ex := range b.Inputs {
		v[i] = ex.Eval(x)
	}
	return v
}

// local evaluates a block in coordinates z = (v - v0)/nominal.
type local struct {
	v0, nom []float64
}

func newLocal(b *Block, x []float64) local {
	return local{v0: inputs(b, x), nom: b.Nominal}
}

func (l local) origin() []float64 {
	if l.nom == nil {
		return l.v0
	}
	return make([]float64, len(l.v0))
}

func (l local) at(z []float64) []float64 {
	if l.nom == nil {
		return z
	}
	v := make([]float64, len(z))
	for i := range z {
		v[i] = l.v0[i] + l.nom[i]*z[i]
	}
	return v
}

func (l local) unit(a int) float64 {
	if l.nom == nil {
		return 1
	}
	return l.nom[a]
}

func (p *Program) settings(b *Block) *fd.Settings {
	s := &fd.Settings{Formula: fd.Central, Concurrent: p.eval == ConcurrentFD}
	if b.Linear {
		s.Step = 1
	}
	return s
}

func (p *Program) Objective(x []float64) float64 {
	parts := make([]float64, len(p.costs))
	p.forEach(len(p.costs), func(i int) {
		b := &p.costs[i]
		parts[i] = b.Cost(inputs(b, x))
	})
	return floats.Sum(parts)
}

func (p *Program) Constraints(x, g []float64) {
	p.forEach(len(p.rows), func(i int) {
		b := &p.rows[i]
		off := p.offsets[i]
		b.Residual(inputs(b, x), g[off:off+b.Rows])
	})
}

func (p *Program) Gradient(x, grad []float64) {
	parts := make([][]float64, len(p.costs))
	p.forEach(len(p.costs), func(i int) {
		b := &p.costs[i]
		if len(b.Inputs) == 0 {
			return
		}
		loc := newLocal(b, x)
		d := fd.Gradient(nil, func(z []float64) float64 { return b.Cost(loc.at(z)) }, loc.origin(), p.settings(b))
		for a := range d {
			d[a] /= loc.unit(a)
		}
		parts[i] = d
	})
	for i := range grad {
		grad[i] = 0
	}
	for i, d := range parts {
		for a, ex := range p.costs[i].Inputs {
			if d[a] == 0 {
				continue
			}
			for _, t := range ex.Terms {
				grad[t.Pos] += d[a] * t.Coef
			}
		}
	}
}

func (p *Program) Jacobian(x []float64, jac *mat.Dense) {
	jac.Zero()
	// row blocks own disjoint rows, so workers scatter directly
	p.forEach(len(p.rows), func(i int) {
		b := &p.rows[i]
		if len(b.Inputs) == 0 {
			return
		}
		loc := newLocal(b, x)
		dj := mat.NewDense(b.Rows, len(b.Inputs), nil)
		s := p.settings(b)
		fd.Jacobian(dj, func(y, z []float64) { b.Residual(loc.at(z), y) }, loc.origin(), &fd.JacobianSettings{
			Formula:    s.Formula,
			Step:       s.Step,
			Concurrent: s.Concurrent,
		})
		off := p.offsets[i]
		for r := 0; r < b.Rows; r++ {
			for a, ex := range b.Inputs {
				d := dj.At(r, a) / loc.unit(a)
				if d == 0 {
					continue
				}
				for _, t := range ex.Terms {
					jac.Set(off+r, t.Pos, jac.At(off+r, t.Pos)+d*t.Coef)
				}
			}
		}
	})
}

func (p *Program) Hessian(x []float64, sigma float64, lambda []float64, hess *mat.SymDense) {
	nb := len(p.costs) + len(p.rows)
	locals := make([]*mat.SymDense, nb)
	p.forEach(nb, func(i int) {
		var b *Block
		var f func(v []float64) float64
		if i < len(p.costs) {
			b = &p.costs[i]
			if sigma == 0 {
				return
			}
			f = func(v []float64) float64 { return sigma * b.Cost(v) }
		} else {
			j := i - len(p.costs)
			b = &p.rows[j]
			lam := lambda[p.offsets[j] : p.offsets[j]+b.Rows]
			if floats.Norm(lam, 1) == 0 {
				return
			}
			f = func(v []float64) float64 {
				res := make([]float64, b.Rows)
				b.Residual(v, res)
				return floats.Dot(lam, res)
			}
		}
		if b.Linear || len(b.Inputs) == 0 {
			return
		}
		loc := newLocal(b, x)
		n := len(b.Inputs)
		h := mat.NewSymDense(n, nil)
		fd.Hessian(h, func(z []float64) float64 { return f(loc.at(z)) }, loc.origin(), &fd.Settings{
			Formula:    fd.Central,
			Step:       hessianStep,
			Concurrent: p.eval == ConcurrentFD,
		})
		if b.Nominal != nil {
			for a := 0; a < n; a++ {
				for c := a; c < n; c++ {
					h.SetSym(a, c, h.At(a, c)/(loc.unit(a)*loc.unit(c)))
				}
			}
		}
		locals[i] = h
	})

	hess.Zero()
	for i, h := range locals {
		if h == nil {
			continue
		}
		var b *Block
		if i < len(p.costs) {
			b = &p.costs[i]
		} else {
			b = &p.rows[i-len(p.costs)]
		}
		scatterHessian(hess, h, b.Inputs)
	}
}

// scatterHessian adds the chain-rule image of the block Hessian h. Only the
// upper triangle of the full matrix is accumulated.
func scatterHessian(dst, h *mat.SymDense, in []layout.Expr) {
	for a, ea := range in {
		for b, eb := range in {
			v := h.At(a, b)
			if v == 0 {
				continue
			}
			for _, ta := range ea.Terms {
				for _, tb := range eb.Terms {
					if ta.Pos > tb.Pos {
						continue
					}
					dst.SetSym(ta.Pos, tb.Pos, dst.At(ta.Pos, tb.Pos)+v*ta.Coef*tb.Coef)
				}
			}
		}
	}
}

func positions(in []layout.Expr) []int {
	seen := make(map[int]bool)
	var out []int
	for _, ex := range in {
		for _, t := range ex.Terms {
			if !seen[t.Pos] {
				seen[t.Pos] = true
				out = append(out, t.Pos)
			}
		}
	}
	sort.Ints(out)
	return out
}

func (p *Program) JacobianStructure() []Nonzero {
	var nz []Nonzero
	for i, b := range p.rows {
		cols := positions(b.Inputs)
		for r := 0; r < b.Rows; r++ {
			for _, c := range cols {
				nz = append(nz, Nonzero{Row: p.offsets[i] + r, Col: c})
			}
		}
	}
	return nz
}

func (p *Program) HessianStructure() []Nonzero {
	seen := make(map[Nonzero]bool)
	add := func(b Block) {
		if b.Linear {
			return
		}
		cols := positions(b.Inputs)
		for i, r := range cols {
			for _, c := range cols[i:] {
				seen[Nonzero{Row: r, Col: c}] = true
			}
		}
	}
	for _, b := range p.costs {
		add(b)
	}
	for _, b := range p.rows {
		add(b)
	}
	nz := make([]Nonzero, 0, len(seen))
	for k := range seen {
		nz = append(nz, k)
	}
	sort.Slice(nz, func(i, j int) bool {
		if nz[i].Row != nz[j].Row {
			return nz[i].Row < nz[j].Row
		}
		return nz[i].Col < nz[j].Col
	})
	return nz
}
