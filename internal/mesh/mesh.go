package mesh

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

const lengthTol = 1e-8

// FreeLengths configures solver-optimized element lengths. Lower and Upper
// are relative to the uniform length 1/n_e.
type FreeLengths struct {
	Weight float64
	// Q weights the state derivatives in the length penalty; nil means identity.
	Q            *mat.SymDense
	Lower, Upper float64
}

type Config struct {
	Elements int
	// Degree is used for every element unless Degrees is set.
	Degree  int
	Degrees []int
	Family  Family
	// Lengths are normalized element lengths summing to 1; nil means uniform.
	Lengths []float64
	Free    *FreeLengths
}

type Element struct {
	// Length is normalized; the element spans Length*horizon time units.
	// For free meshes it is the initial guess.
	Length float64
	Degree int
	Scheme *Scheme
}

// Mesh is an immutable partition of the normalized horizon [0, 1].
type Mesh struct {
	Elements []Element
	Family   Family
	Free     *FreeLengths

	starts []float64
}

// New validates cfg and builds the mesh.
func New(cfg Config) (*Mesh, error) {
	n := cfg.Elements
	if n < 1 {
		return nil, fmt.Errorf("%w: n_e = %d", dynamo.ErrInvalidMeshConfig, n)
	}
	if cfg.Degrees != nil && len(cfg.Degrees) != n {
		return nil, fmt.Errorf("%w: %d degrees for %d elements", dynamo.ErrInvalidMeshConfig, len(cfg.Degrees), n)
	}
	if cfg.Lengths != nil && cfg.Free != nil {
		return nil, fmt.Errorf("%w: fixed lengths and free lengths are exclusive", dynamo.ErrInvalidMeshConfig)
	}

	lengths := cfg.Lengths
	if lengths == nil {
		lengths = make([]float64, n)
		for i := range lengths {
			lengths[i] = 1 / float64(n)
		}
	}
	if len(lengths) != n {
		return nil, fmt.Errorf("%w: %d lengths for %d elements", dynamo.ErrInvalidMeshConfig, len(lengths), n)
	}
	sum := 0.0
	for i, h := range lengths {
		if !(h > 0) {
			return nil, fmt.Errorf("%w: element %d has length %g", dynamo.ErrInvalidMeshConfig, i, h)
		}
		sum += h
	}
	if math.Abs(sum-1) > lengthTol {
		return nil, fmt.Errorf("%w: lengths sum to %.12g, want 1", dynamo.ErrInvalidMeshConfig, sum)
	}

	if f := cfg.Free; f != nil {
		if err := validateFree(f); err != nil {
			return nil, err
		}
	}

	m := &Mesh{
		Elements: make([]Element, n),
		Family:   cfg.Family,
		Free:     cfg.Free,
		starts:   make([]float64, n+1),
	}
	for i := 0; i < n; i++ {
		deg := cfg.Degree
		if cfg.Degrees != nil {
			deg = cfg.Degrees[i]
		}
		s, err := PointsAndWeights(cfg.Family, deg)
		if err != nil {
			return nil, err
		}
		m.Elements[i] = Element{Length: lengths[i], Degree: deg, Scheme: s}
		m.starts[i+1] = m.starts[i] + lengths[i]
	}
	m.starts[n] = 1
	return m, nil
}

func validateFree(f *FreeLengths) error {
	if !(f.Lower > 0) || f.Lower > f.Upper {
		return fmt.Errorf("%w: free length bounds (%g, %g)", dynamo.ErrInvalidMeshConfig, f.Lower, f.Upper)
	}
	if f.Lower > 1 || f.Upper < 1 {
		return fmt.Errorf("%w: free length bounds (%g, %g) exclude the uniform mesh", dynamo.ErrInvalidMeshConfig, f.Lower, f.Upper)
	}
	if f.Weight < 0 {
		return fmt.Errorf("%w: free length weight %g", dynamo.ErrInvalidMeshConfig, f.Weight)
	}
	if f.Q != nil {
		var chol mat.Cholesky
		if ok := chol.Factorize(f.Q); !ok {
			return fmt.Errorf("%w: free length matrix Q is not positive definite", dynamo.ErrInvalidMeshConfig)
		}
	}
	return nil
}

func (m *Mesh) Len() int {
	return len(m.Elements)
}

func (m *Mesh) IsFree() bool {
	return m.Free != nil
}

// Start returns the normalized start of element e (initial guess for free meshes).
func (m *Mesh) Start(e int) float64 {
	return m.starts[e]
}

// Times returns the normalized element boundaries, n_e+1 values from 0 to 1.
func (m *Mesh) Times() []float64 {
	return append([]float64(nil), m.starts...)
}

// Locate returns the element containing normalized time s and the local tau.
// Boundaries belong to the later element, except s == 1.
func (m *Mesh) Locate(s float64) (int, float64) {
	n := m.Len()
	if s <= 0 {
		return 0, 0
	}
	if s >= 1 {
		return n - 1, 1
	}
	e := sort.Search(n, func(i int) bool { return m.starts[i+1] > s }) // first element ending after s
	if e >= n {
		e = n - 1
	}
	tau := (s - m.starts[e]) / m.Elements[e].Length
	return e, math.Min(math.Max(tau, 0), 1)
}

// LengthBounds returns the bounds on normalized free lengths.
func (m *Mesh) LengthBounds() (float64, float64) {
	if m.Free == nil {
		return 0, 0
	}
	n := float64(m.Len())
	return m.Free.Lower / n, m.Free.Upper / n
}

// Nodes returns the total number of interpolation nodes.
func (m *Mesh) Nodes() int {
	total := 0
	for _, el := range m.Elements {
		total += len(el.Scheme.Nodes)
	}
	return total
}

// CollocationPoints returns the total number of collocation points.
func (m *Mesh) CollocationPoints() int {
	total := 0
	for _, el := range m.Elements {
		total += len(el.Scheme.Colloc)
	}
	return total
}
