package mesh

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

// Family selects the collocation point set.
type Family int

const (
	// Radau collocates at the flipped Legendre-Gauss-Radau points, which
	// include the element end.
	Radau Family = iota
	// Gauss collocates at the Legendre-Gauss points; the element end is
	// extrapolated.
	Gauss
	// GaussRadau collocates at the Legendre-Gauss-Radau points, which include
	// the element start.
	GaussRadau
	// GaussLobatto collocates at the Legendre-Gauss-Lobatto points, both ends included.
	GaussLobatto
)

func (f Family) String() string {
	switch f {
	case Radau:
		return "Radau"
	case Gauss:
		return "LG"
	case GaussRadau:
		return "LGR"
	case GaussLobatto:
		return "LGL"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// ParseFamily accepts the short tags (Radau, LG, LGR, LGL) and the long names.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "radau":
		return Radau, nil
	case "lg", "gauss":
		return Gauss, nil
	case "lgr", "gauss-radau":
		return GaussRadau, nil
	case "lgl", "gauss-lobatto":
		return GaussLobatto, nil
	}
	return Radau, fmt.Errorf("%w: unknown collocation family %q", dynamo.ErrInvalidMeshConfig, s)
}

// Scheme holds the interpolation nodes of one element on [0, 1] together with
// the collocation subset, quadrature weights and differentiation matrix.
// Schemes are immutable and shared between elements.
type Scheme struct {
	Family Family
	Degree int

	// Nodes are the interpolation abscissas, strictly increasing, Nodes[0] == 0.
	Nodes []float64
	// Colloc indexes the nodes where the dynamics are enforced.
	Colloc []int
	// Weights are the quadrature weights of the collocation points; they sum to 1.
	Weights []float64
	// D is the differentiation matrix over the nodes: (D x)_k = p'(Nodes[k]).
	D *mat.Dense
	// End evaluates the interpolant at tau = 1.
	End []float64

	bary       []float64
	colloc     []float64
	collocBary []float64
}

var (
	schemeMu    sync.Mutex
	schemeCache = map[schemeKey]*Scheme{}
)

type schemeKey struct {
	family Family
	degree int
}

// PointsAndWeights returns the cached scheme for (family, degree).
func PointsAndWeights(family Family, degree int) (*Scheme, error) {
	if degree < 1 {
		return nil, fmt.Errorf("%w: degree %d < 1", dynamo.ErrInvalidMeshConfig, degree)
	}
	if family == GaussLobatto && degree < 2 {
		return nil, fmt.Errorf("%w: Gauss-Lobatto needs at least 2 points", dynamo.ErrInvalidMeshConfig)
	}

	key := schemeKey{family, degree}
	schemeMu.Lock()
	defer schemeMu.Unlock()
	if s, ok := schemeCache[key]; ok {
		return s, nil
	}

	s, err := newScheme(family, degree)
	if err != nil {
		return nil, err
	}
	schemeCache[key] = s
	return s, nil
}

func newScheme(family Family, k int) (*Scheme, error) {
	s := &Scheme{Family: family, Degree: k}

	switch family {
	case Radau:
		x, w := lgrPoints(k)
		// flip [-1,1) onto (0,1]
		s.Nodes = make([]float64, k+1)
		s.Weights = make([]float64, k)
		for i := 0; i < k; i++ {
			s.Nodes[k-i] = (1 - x[i]) / 2
			s.Weights[k-1-i] = w[i] / 2
		}
		s.Colloc = rangeInts(1, k+1)
	case Gauss:
		x := make([]float64, k)
		w := make([]float64, k)
		quad.Legendre{}.FixedLocations(x, w, 0, 1)
		sortPaired(x, w)
		s.Nodes = append([]float64{0}, x...)
		s.Weights = w
		s.Colloc = rangeInts(1, k+1)
	case GaussRadau:
		x, w := lgrPoints(k)
		s.Nodes = make([]float64, k+1)
		s.Weights = make([]float64, k)
		for i := 0; i < k; i++ {
			s.Nodes[i] = (x[i] + 1) / 2
			s.Weights[i] = w[i] / 2
		}
		s.Nodes[k] = 1
		s.Colloc = rangeInts(0, k)
	case GaussLobatto:
		x, w := lglPoints(k)
		s.Nodes = make([]float64, k)
		s.Weights = make([]float64, k)
		for i := range x {
			s.Nodes[i] = (x[i] + 1) / 2
			s.Weights[i] = w[i] / 2
		}
		s.Nodes[k-1] = 1
		s.Colloc = rangeInts(0, k)
	default:
		return nil, fmt.Errorf("%w: unknown family %v", dynamo.ErrInvalidMeshConfig, family)
	}
	s.Nodes[0] = 0

	s.bary = baryWeights(s.Nodes)
	s.D = diffMatrix(s.Nodes, s.bary)
	s.End = s.Basis(1, nil)

	s.colloc = make([]float64, len(s.Colloc))
	for i, n := range s.Colloc {
		s.colloc[i] = s.Nodes[n]
	}
	s.collocBary = baryWeights(s.colloc)
	return s, nil
}

// Points returns the collocation abscissas in (element-local) [0, 1].
func (s *Scheme) Points() []float64 {
	return append([]float64(nil), s.colloc...)
}

// Collocated reports whether node is a collocation point.
func (s *Scheme) Collocated(node int) bool {
	for _, c := range s.Colloc {
		if c == node {
			return true
		}
	}
	return false
}

// Basis evaluates the Lagrange basis over the nodes at tau.
func (s *Scheme) Basis(tau float64, dst []float64) []float64 {
	return lagrange(s.Nodes, s.bary, tau, dst)
}

// BasisDerivative evaluates the derivative of the node basis at tau.
func (s *Scheme) BasisDerivative(tau float64, dst []float64) []float64 {
	n := len(s.Nodes)
	if dst == nil {
		dst = make([]float64, n)
	}
	for j, xj := range s.Nodes {
		if tau == xj {
			for i := 0; i < n; i++ {
				dst[i] = s.D.At(j, i)
			}
			return dst
		}
	}
	// l_i'(t) = l_i(t) * sum_{m != i} 1/(t - x_m)
	l := s.Basis(tau, nil)
	for i := range s.Nodes {
		sum := 0.0
		for m, xm := range s.Nodes {
			if m != i {
				sum += 1 / (tau - xm)
			}
		}
		dst[i] = l[i] * sum
	}
	return dst
}

// ControlBasis evaluates the Lagrange basis over the collocation points at
// tau. Controls and algebraics only live on collocation points, so values at
// other instants are interpolated or extrapolated through this basis.
func (s *Scheme) ControlBasis(tau float64, dst []float64) []float64 {
	return lagrange(s.colloc, s.collocBary, tau, dst)
}

func lagrange(nodes, w []float64, t float64, dst []float64) []float64 {
	n := len(nodes)
	if dst == nil {
		dst = make([]float64, n)
	}
	for j, xj := range nodes {
		if t == xj {
			for i := range dst[:n] {
				dst[i] = 0
			}
			dst[j] = 1
			return dst
		}
	}
	sum := 0.0
	for j, xj := range nodes {
		dst[j] = w[j] / (t - xj)
		sum += dst[j]
	}
	for j := range nodes {
		dst[j] /= sum
	}
	return dst
}

func baryWeights(nodes []float64) []float64 {
	w := make([]float64, len(nodes))
	for j, xj := range nodes {
		p := 1.0
		for k, xk := range nodes {
			if k != j {
				p *= xj - xk
			}
		}
		w[j] = 1 / p
	}
	return w
}

func diffMatrix(nodes, w []float64) *mat.Dense {
	n := len(nodes)
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		diag := 0.0
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			v := (w[j] / w[i]) / (nodes[i] - nodes[j])
			d.Set(i, j, v)
			diag -= v
		}
		d.Set(i, i, diag)
	}
	return d
}

// legendre returns P_n(x) and P_{n-1}(x).
func legendre(n int, x float64) (float64, float64) {
	if n == 0 {
		return 1, 0
	}
	p0, p1 := 1.0, x
	for k := 2; k <= n; k++ {
		p0, p1 = p1, (float64(2*k-1)*x*p1-float64(k-1)*p0)/float64(k)
	}
	return p1, p0
}

// lgrPoints returns the n Legendre-Gauss-Radau points on [-1, 1) including -1.
func lgrPoints(n int) ([]float64, []float64) {
	x := make([]float64, n)
	for i := range x {
		x[i] = -math.Cos(2 * math.Pi * float64(i) / float64(2*n-1))
	}
	for iter := 0; iter < 100; iter++ {
		maxDelta := 0.0
		for i := 1; i < n; i++ {
			pn, pm := legendre(n, x[i])
			delta := ((1 - x[i]) / float64(n)) * (pm + pn) / (pm - pn)
			x[i] -= delta
			maxDelta = math.Max(maxDelta, math.Abs(delta))
		}
		if maxDelta < 1e-15 {
			break
		}
	}
	w := make([]float64, n)
	w[0] = 2 / float64(n*n)
	for i := 1; i < n; i++ {
		_, pm := legendre(n, x[i])
		d := float64(n) * pm
		w[i] = (1 - x[i]) / (d * d)
	}
	return x, w
}

// lglPoints returns the n Legendre-Gauss-Lobatto points on [-1, 1].
func lglPoints(n int) ([]float64, []float64) {
	order := n - 1
	x := make([]float64, n)
	for i := range x {
		x[i] = -math.Cos(math.Pi * float64(i) / float64(order))
	}
	for iter := 0; iter < 100; iter++ {
		maxDelta := 0.0
		for i := 1; i < order; i++ {
			pn, pm := legendre(order, x[i])
			delta := (x[i]*pn - pm) / (float64(n) * pn)
			x[i] -= delta
			maxDelta = math.Max(maxDelta, math.Abs(delta))
		}
		if maxDelta < 1e-15 {
			break
		}
	}
	x[0], x[order] = -1, 1
	w := make([]float64, n)
	for i := range x {
		pn, _ := legendre(order, x[i])
		w[i] = 2 / (float64(order*n) * pn * pn)
	}
	return x, w
}

func sortPaired(x, w []float64) {
	idx := rangeInts(0, len(x))
	sort.Slice(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })
	xs := make([]float64, len(x))
	ws := make([]float64, len(w))
	for i, j := range idx {
		xs[i], ws[i] = x[j], w[j]
	}
	copy(x, xs)
	copy(w, ws)
}

func rangeInts(from, to int) []int {
	r := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		r = append(r, i)
	}
	return r
}
