// Package layout assigns decision-vector positions to the unknowns of a
// transcribed problem and resolves every logical unknown to an affine
// expression over those positions.
package layout

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/mesh"
)

type Kind int

const (
	State Kind = iota
	Derivative
	Control
	Algebraic
	Length
	Parameter
)

func (k Kind) String() string {
	switch k {
	case State:
		return "state"
	case Derivative:
		return "derivative"
	case Control:
		return "control"
	case Algebraic:
		return "algebraic"
	case Length:
		return "length"
	case Parameter:
		return "parameter"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Ref names one logical unknown. For states Node indexes the scheme nodes;
// for derivatives, controls and algebraics it indexes the collocation points.
// Parameter refs ignore Element and Node.
type Ref struct {
	Element int
	Node    int
	Kind    Kind
	Index   int
}

func (r Ref) String() string {
	return fmt.Sprintf("%s[%d] e=%d n=%d", r.Kind, r.Index, r.Element, r.Node)
}

type Options struct {
	EliminateDerivatives bool
	EliminateContinuity  bool
	// Blocking groups consecutive elements that share one control value.
	Blocking []int
}

// maxPositions bounds the decision vector length.
var maxPositions int64 = math.MaxInt32

type Layout struct {
	Mesh    *mesh.Mesh
	Problem *dynamo.Problem
	Options Options

	owners  []Ref
	states  [][][]Expr // [element][node][state]
	ders    [][][]Expr // [element][point][state]
	ctrls   [][][]Expr
	algs    [][][]Expr
	lengths []Expr
	params  []Expr
	groups  []int
	nGroups int
	inline  bool
}

// Allocate walks the elements in time order and assigns positions. The
// result depends only on its arguments.
func Allocate(m *mesh.Mesh, prob *dynamo.Problem, opts Options) (*Layout, error) {
	groups, nGroups, err := blockGroups(m.Len(), opts.Blocking)
	if err != nil {
		return nil, err
	}

	nx, nu, nw := len(prob.States), len(prob.Controls), len(prob.Algebraics)
	keepDer := !opts.EliminateDerivatives
	var count int64
	for e, el := range m.Elements {
		if m.IsFree() {
			count++
		}
		count += int64(len(el.Scheme.Nodes) * nx)
		k := int64(el.Degree)
		if keepDer {
			count += k * int64(nx)
		}
		count += k * int64(nw)
		if opts.Blocking == nil {
			count += k * int64(nu)
		} else if e == 0 || groups[e] != groups[e-1] {
			count += int64(nu)
		}
	}
	count += int64(len(prob.FreeParameters()))
	if count > maxPositions {
		return nil, fmt.Errorf("%w: %d positions", dynamo.ErrLayoutOverflow, count)
	}

	l := &Layout{
		Mesh:    m,
		Problem: prob,
		Options: opts,
		owners:  make([]Ref, 0, count),
		states:  make([][][]Expr, m.Len()),
		ders:    make([][][]Expr, m.Len()),
		ctrls:   make([][][]Expr, m.Len()),
		algs:    make([][][]Expr, m.Len()),
		lengths: make([]Expr, m.Len()),
		params:  make([]Expr, len(prob.Parameters)),
		groups:  groups,
		nGroups: nGroups,
		inline:  opts.EliminateDerivatives && m.IsFree(),
	}
	horizon := prob.Horizon()

	for e, el := range m.Elements {
		sc := el.Scheme
		if m.IsFree() {
			l.lengths[e] = l.next(Ref{Element: e, Kind: Length})
		} else {
			l.lengths[e] = Constant(el.Length)
		}

		l.states[e] = make([][]Expr, len(sc.Nodes))
		for j := range sc.Nodes {
			l.states[e][j] = make([]Expr, nx)
			for i := 0; i < nx; i++ {
				if j == 0 && e > 0 && opts.EliminateContinuity {
					l.states[e][j][i] = l.End(e-1, i)
					continue
				}
				l.states[e][j][i] = l.next(Ref{Element: e, Node: j, Kind: State, Index: i})
			}
		}

		K := len(sc.Colloc)
		l.ders[e] = make([][]Expr, K)
		l.ctrls[e] = make([][]Expr, K)
		l.algs[e] = make([][]Expr, K)
		for k, node := range sc.Colloc {
			switch {
			case keepDer:
				l.ders[e][k] = make([]Expr, nx)
				for i := 0; i < nx; i++ {
					l.ders[e][k][i] = l.next(Ref{Element: e, Node: k, Kind: Derivative, Index: i})
				}
			case !l.inline:
				l.ders[e][k] = make([]Expr, nx)
				row := make([]float64, len(sc.Nodes))
				for j := range row {
					row[j] = sc.D.At(node, j) / (el.Length * horizon)
				}
				for i := 0; i < nx; i++ {
					l.ders[e][k][i] = Combine(row, l.StateNodes(e, i))
				}
			}

			switch {
			case opts.Blocking == nil:
				l.ctrls[e][k] = make([]Expr, nu)
				for i := 0; i < nu; i++ {
					l.ctrls[e][k][i] = l.next(Ref{Element: e, Node: k, Kind: Control, Index: i})
				}
			case k == 0 && (e == 0 || groups[e] != groups[e-1]):
				l.ctrls[e][k] = make([]Expr, nu)
				for i := 0; i < nu; i++ {
					l.ctrls[e][k][i] = l.next(Ref{Element: e, Node: k, Kind: Control, Index: i})
				}
			case k == 0:
				l.ctrls[e][k] = l.ctrls[e-1][0]
			default:
				l.ctrls[e][k] = l.ctrls[e][0]
			}

			l.algs[e][k] = make([]Expr, nw)
			for i := 0; i < nw; i++ {
				l.algs[e][k][i] = l.next(Ref{Element: e, Node: k, Kind: Algebraic, Index: i})
			}
		}
	}

	for i, p := range prob.Parameters {
		if p.Fixed {
			l.params[i] = Constant(p.Start)
			continue
		}
		l.params[i] = l.next(Ref{Kind: Parameter, Index: i})
	}
	return l, nil
}

func blockGroups(n int, factors []int) ([]int, int, error) {
	groups := make([]int, n)
	if factors == nil {
		for e := range groups {
			groups[e] = e
		}
		return groups, n, nil
	}
	e := 0
	for g, f := range factors {
		if f < 1 {
			return nil, 0, fmt.Errorf("%w: blocking factor %d", dynamo.ErrInvalidMeshConfig, f)
		}
		for j := 0; j < f; j++ {
			if e >= n {
				return nil, 0, fmt.Errorf("%w: blocking factors exceed %d elements", dynamo.ErrInvalidMeshConfig, n)
			}
			groups[e] = g
			e++
		}
	}
	if e != n {
		return nil, 0, fmt.Errorf("%w: blocking factors sum to %d, want %d", dynamo.ErrInvalidMeshConfig, e, n)
	}
	return groups, len(factors), nil
}

func (l *Layout) next(r Ref) Expr {
	pos := len(l.owners)
	l.owners = append(l.owners, r)
	return Var(pos)
}

// Len is the number of decision positions.
func (l *Layout) Len() int {
	return len(l.owners)
}

// Owner is the inverse of Lookup for retained positions.
func (l *Layout) Owner(pos int) Ref {
	return l.owners[pos]
}

// DerivativeInline reports that derivatives are eliminated on a free mesh;
// they are not affine then and must be computed from StateNodes and the
// element length.
func (l *Layout) DerivativeInline() bool {
	return l.inline
}

// Groups returns the number of control groups.
func (l *Layout) Groups() int {
	return l.nGroups
}

// Group returns the control group of element e.
func (l *Layout) Group(e int) int {
	return l.groups[e]
}

// Lookup resolves ref. The second result is false for out-of-range refs and
// for inline derivatives.
func (l *Layout) Lookup(r Ref) (Expr, bool) {
	if r.Kind == Parameter {
		if r.Index < 0 || r.Index >= len(l.params) {
			return Expr{}, false
		}
		return l.params[r.Index], true
	}
	if r.Element < 0 || r.Element >= l.Mesh.Len() {
		return Expr{}, false
	}
	var table [][]Expr
	switch r.Kind {
	case State:
		table = l.states[r.Element]
	case Derivative:
		if l.inline {
			return Expr{}, false
		}
		table = l.ders[r.Element]
	case Control:
		table = l.ctrls[r.Element]
	case Algebraic:
		table = l.algs[r.Element]
	case Length:
		return l.lengths[r.Element], true
	default:
		return Expr{}, false
	}
	if r.Node < 0 || r.Node >= len(table) || r.Index < 0 || r.Index >= len(table[r.Node]) {
		return Expr{}, false
	}
	return table[r.Node][r.Index], true
}

// MustLookup panics on refs that Lookup rejects.
func (l *Layout) MustLookup(r Ref) Expr {
	e, ok := l.Lookup(r)
	if !ok {
		panic(fmt.Sprintf("layout: no expression for %v", r))
	}
	return e
}

// StateNodes returns state i at every node of element e.
func (l *Layout) StateNodes(e, i int) []Expr {
	nodes := l.states[e]
	out := make([]Expr, len(nodes))
	for j := range nodes {
		out[j] = nodes[j][i]
	}
	return out
}

// End returns state i of element e evaluated at the element end.
func (l *Layout) End(e, i int) Expr {
	return Combine(l.Mesh.Elements[e].Scheme.End, l.StateNodes(e, i))
}

// StateAt interpolates state i inside element e.
func (l *Layout) StateAt(e int, tau float64, i int) Expr {
	return Combine(l.Mesh.Elements[e].Scheme.Basis(tau, nil), l.StateNodes(e, i))
}

// Time returns the physical time of (e, tau), affine in the element lengths.
func (l *Layout) Time(e int, tau float64) Expr {
	T := l.Problem.Horizon()
	if !l.Mesh.IsFree() {
		el := l.Mesh.Elements[e]
		return Constant(l.Problem.StartTime + T*(l.Mesh.Start(e)+el.Length*tau))
	}
	w := make([]float64, e+1)
	ex := make([]Expr, e+1)
	for i := 0; i < e; i++ {
		w[i] = T
		ex[i] = l.lengths[i]
	}
	w[e] = T * tau
	ex[e] = l.lengths[e]
	t := Combine(w, ex)
	t.Const += l.Problem.StartTime
	return t
}

// Value evaluates ref at x, computing inline derivatives when needed.
func (l *Layout) Value(r Ref, x []float64) float64 {
	if r.Kind == Derivative && l.inline {
		sc := l.Mesh.Elements[r.Element].Scheme
		node := sc.Colloc[r.Node]
		h := l.lengths[r.Element].Eval(x) * l.Problem.Horizon()
		v := 0.0
		for j, ex := range l.StateNodes(r.Element, r.Index) {
			v += sc.D.At(node, j) * ex.Eval(x)
		}
		return v / h
	}
	return l.MustLookup(r).Eval(x)
}

// Bounds returns the box bounds of every position.
func (l *Layout) Bounds() (lo, hi []float64) {
	lo = make([]float64, l.Len())
	hi = make([]float64, l.Len())
	hMin, hMax := l.Mesh.LengthBounds()
	for pos, r := range l.owners {
		v, ok := l.variable(r)
		switch {
		case r.Kind == Length:
			lo[pos], hi[pos] = hMin, hMax
		case ok:
			lo[pos], hi[pos] = v.Min, v.Max
		default:
			lo[pos], hi[pos] = math.Inf(-1), math.Inf(1)
		}
	}
	return lo, hi
}

// Start returns the default initial guess built from the variable starts.
func (l *Layout) Start() []float64 {
	x := make([]float64, l.Len())
	for pos, r := range l.owners {
		if r.Kind == Length {
			x[pos] = l.Mesh.Elements[r.Element].Length
			continue
		}
		if v, ok := l.variable(r); ok {
			x[pos] = v.Start
		}
	}
	return x
}

// Nominal returns the nominal magnitude of the variable behind ref.
func (l *Layout) Nominal(r Ref) float64 {
	switch r.Kind {
	case Length:
		return 1 / float64(l.Mesh.Len())
	case Derivative:
		return l.Problem.States[r.Index].Nominal
	}
	if v, ok := l.variable(r); ok {
		return v.Nominal
	}
	return 1
}

func (l *Layout) variable(r Ref) (dynamo.Variable, bool) {
	switch r.Kind {
	case State:
		return l.Problem.States[r.Index], true
	case Control:
		return l.Problem.Controls[r.Index], true
	case Algebraic:
		return l.Problem.Algebraics[r.Index], true
	case Parameter:
		return l.Problem.Parameters[r.Index], true
	}
	return dynamo.Variable{}, false
}

// Name returns a readable label for position pos.
func (l *Layout) Name(pos int) string {
	r := l.owners[pos]
	if v, ok := l.variable(r); ok {
		return fmt.Sprintf("%s[e=%d,n=%d]", v.Name, r.Element, r.Node)
	}
	if r.Kind == Derivative {
		return fmt.Sprintf("der(%s)[e=%d,n=%d]", l.Problem.States[r.Index].Name, r.Element, r.Node)
	}
	return fmt.Sprintf("h[%d]", r.Element)
}
