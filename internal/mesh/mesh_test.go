package mesh

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
)

func allSchemes(t *testing.T, maxDegree int) []*Scheme {
	t.Helper()
	var out []*Scheme
	for _, f := range []Family{Radau, Gauss, GaussRadau, GaussLobatto} {
		for k := 1; k <= maxDegree; k++ {
			if f == GaussLobatto && k < 2 {
				continue
			}
			s, err := PointsAndWeights(f, k)
			require.NoError(t, err)
			out = append(out, s)
		}
	}
	return out
}

func poly(c []float64, x float64) float64 {
	v := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		v = v*x + c[i]
	}
	return v
}

func polyDer(c []float64, x float64) float64 {
	v := 0.0
	for i := len(c) - 1; i >= 1; i-- {
		v = v*x + float64(i)*c[i]
	}
	return v
}

func TestSchemeInvariants(t *testing.T) {
	for _, s := range allSchemes(t, 12) {
		name := s.Family.String()

		sum := 0.0
		for _, w := range s.Weights {
			assert.Greater(t, w, 0.0, name)
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-13, "%s K=%d weights", name, s.Degree)

		assert.Equal(t, 0.0, s.Nodes[0])
		for i := 1; i < len(s.Nodes); i++ {
			assert.Greater(t, s.Nodes[i], s.Nodes[i-1], "%s K=%d nodes not increasing", name, s.Degree)
		}
		assert.Len(t, s.Colloc, s.Degree)
		for _, p := range s.Points() {
			assert.True(t, p >= 0 && p <= 1)
		}

		r, c := s.D.Dims()
		assert.Equal(t, len(s.Nodes), r)
		assert.Equal(t, len(s.Nodes), c)
	}
}

func TestSchemeEndpoints(t *testing.T) {
	tests := []struct {
		family     Family
		start, end bool
	}{
		{Radau, false, true},
		{Gauss, false, false},
		{GaussRadau, true, false},
		{GaussLobatto, true, true},
	}
	for _, tt := range tests {
		s, err := PointsAndWeights(tt.family, 4)
		require.NoError(t, err)
		pts := s.Points()
		assert.Equal(t, tt.start, pts[0] == 0, tt.family.String())
		assert.Equal(t, tt.end, pts[len(pts)-1] == 1, tt.family.String())
	}
}

func TestKnownRules(t *testing.T) {
	tests := []struct {
		family  Family
		degree  int
		points  []float64
		weights []float64
	}{
		{Radau, 1, []float64{1}, []float64{1}},
		{Radau, 2, []float64{1.0 / 3, 1}, []float64{0.75, 0.25}},
		{Gauss, 1, []float64{0.5}, []float64{1}},
		{Gauss, 2, []float64{0.5 - math.Sqrt(3)/6, 0.5 + math.Sqrt(3)/6}, []float64{0.5, 0.5}},
		{GaussRadau, 2, []float64{0, 2.0 / 3}, []float64{0.25, 0.75}},
		{GaussLobatto, 3, []float64{0, 0.5, 1}, []float64{1.0 / 6, 2.0 / 3, 1.0 / 6}},
	}
	for _, tt := range tests {
		s, err := PointsAndWeights(tt.family, tt.degree)
		require.NoError(t, err)
		assert.InDeltaSlice(t, tt.points, s.Points(), 1e-14, "%v K=%d", tt.family, tt.degree)
		assert.InDeltaSlice(t, tt.weights, s.Weights, 1e-14, "%v K=%d", tt.family, tt.degree)
	}
}

func TestQuadratureExactness(t *testing.T) {
	exactDegree := map[Family]func(k int) int{
		Radau:        func(k int) int { return 2*k - 2 },
		Gauss:        func(k int) int { return 2*k - 1 },
		GaussRadau:   func(k int) int { return 2*k - 2 },
		GaussLobatto: func(k int) int { return 2*k - 3 },
	}
	for _, s := range allSchemes(t, 10) {
		deg := exactDegree[s.Family](s.Degree)
		for p := 0; p <= deg; p++ {
			got := 0.0
			for i, tau := range s.Points() {
				got += s.Weights[i] * math.Pow(tau, float64(p))
			}
			assert.InDelta(t, 1/float64(p+1), got, 1e-12, "%v K=%d x^%d", s.Family, s.Degree, p)
		}
	}
}

func TestDifferentiationExactness(t *testing.T) {
	for _, s := range allSchemes(t, 10) {
		n := len(s.Nodes)
		c := make([]float64, n)
		for i := range c {
			c[i] = float64(i%3) - 0.5*float64(i)
		}
		vals := mat.NewVecDense(n, nil)
		for i, x := range s.Nodes {
			vals.SetVec(i, poly(c, x))
		}
		var der mat.VecDense
		der.MulVec(s.D, vals)
		for i, x := range s.Nodes {
			assert.InDelta(t, polyDer(c, x), der.AtVec(i), 1e-8, "%v K=%d node %d", s.Family, s.Degree, i)
		}

		end := 0.0
		for i := range s.Nodes {
			end += s.End[i] * vals.AtVec(i)
		}
		assert.InDelta(t, poly(c, 1), end, 1e-9, "%v K=%d end", s.Family, s.Degree)
	}
}

func TestBasisDerivative(t *testing.T) {
	s, err := PointsAndWeights(Gauss, 4)
	require.NoError(t, err)

	atNode := s.BasisDerivative(s.Nodes[2], nil)
	for j := range s.Nodes {
		assert.Equal(t, s.D.At(2, j), atNode[j])
	}

	const h = 1e-6
	tau := 0.37
	d := s.BasisDerivative(tau, nil)
	lo := s.Basis(tau-h, nil)
	hi := s.Basis(tau+h, nil)
	for j := range s.Nodes {
		assert.InDelta(t, (hi[j]-lo[j])/(2*h), d[j], 1e-6)
	}
}

func TestControlBasisReproducesLinear(t *testing.T) {
	s, err := PointsAndWeights(Radau, 3)
	require.NoError(t, err)
	pts := s.Points()
	vals := make([]float64, len(pts))
	for i, p := range pts {
		vals[i] = 2 - 3*p
	}
	b := s.ControlBasis(0, nil)
	got := 0.0
	for i := range b {
		got += b[i] * vals[i]
	}
	assert.InDelta(t, 2.0, got, 1e-12)
}

func TestSchemeCache(t *testing.T) {
	a, err := PointsAndWeights(Radau, 5)
	require.NoError(t, err)
	b, err := PointsAndWeights(Radau, 5)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestSchemeErrors(t *testing.T) {
	_, err := PointsAndWeights(Radau, 0)
	assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)

	_, err = PointsAndWeights(GaussLobatto, 1)
	assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)
}

func TestParseFamily(t *testing.T) {
	tests := []struct {
		in   string
		want Family
	}{
		{"Radau", Radau},
		{"", Radau},
		{"LG", Gauss},
		{"gauss", Gauss},
		{"LGR", GaussRadau},
		{"Gauss-Radau", GaussRadau},
		{"LGL", GaussLobatto},
		{"gauss-lobatto", GaussLobatto},
	}
	for _, tt := range tests {
		got, err := ParseFamily(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseFamily("chebyshev")
	assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)
}

func TestNewMesh(t *testing.T) {
	m, err := New(Config{Elements: 4, Degree: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, m.Len())
	assert.InDeltaSlice(t, []float64{0, 0.25, 0.5, 0.75, 1}, m.Times(), 1e-15)
	assert.Equal(t, 4*4, m.Nodes())
	assert.Equal(t, 4*3, m.CollocationPoints())
	assert.False(t, m.IsFree())

	m, err = New(Config{Elements: 3, Degrees: []int{1, 2, 3}, Lengths: []float64{0.5, 0.3, 0.2}})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Elements[1].Degree)
	assert.InDelta(t, 0.8, m.Start(2), 1e-15)
}

func TestNewMeshErrors(t *testing.T) {
	q := mat.NewSymDense(2, []float64{1, 2, 2, 1})
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no elements", Config{Elements: 0, Degree: 3}},
		{"zero degree", Config{Elements: 2, Degree: 0}},
		{"bad sum", Config{Elements: 2, Degree: 3, Lengths: []float64{0.5, 0.6}}},
		{"negative length", Config{Elements: 2, Degree: 3, Lengths: []float64{1.5, -0.5}}},
		{"wrong count", Config{Elements: 3, Degree: 3, Lengths: []float64{0.5, 0.5}}},
		{"inverted bounds", Config{Elements: 2, Degree: 3, Free: &FreeLengths{Weight: 1, Lower: 2, Upper: 0.5}}},
		{"zero lower", Config{Elements: 2, Degree: 3, Free: &FreeLengths{Weight: 1, Lower: 0, Upper: 2}}},
		{"indefinite Q", Config{Elements: 2, Degree: 3, Free: &FreeLengths{Weight: 1, Lower: 0.5, Upper: 2, Q: q}}},
		{"fixed and free", Config{Elements: 2, Degree: 3, Lengths: []float64{0.5, 0.5}, Free: &FreeLengths{Weight: 1, Lower: 0.5, Upper: 2}}},
		{"lobatto degree", Config{Elements: 2, Degree: 1, Family: GaussLobatto}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)
		})
	}
}

func TestLocate(t *testing.T) {
	m, err := New(Config{Elements: 3, Degree: 2, Lengths: []float64{0.5, 0.25, 0.25}})
	require.NoError(t, err)

	tests := []struct {
		s    float64
		e    int
		tau  float64
	}{
		{0, 0, 0},
		{0.25, 0, 0.5},
		{0.5, 1, 0},
		{0.625, 1, 0.5},
		{0.9, 2, 0.6},
		{1, 2, 1},
	}
	for _, tt := range tests {
		e, tau := m.Locate(tt.s)
		assert.Equal(t, tt.e, e, "s=%g", tt.s)
		assert.InDelta(t, tt.tau, tau, 1e-12, "s=%g", tt.s)
	}
}

func TestLengthBounds(t *testing.T) {
	m, err := New(Config{Elements: 20, Degree: 3, Free: &FreeLengths{Weight: 0.5, Lower: 0.5, Upper: 2}})
	require.NoError(t, err)
	lo, hi := m.LengthBounds()
	assert.InDelta(t, 0.025, lo, 1e-15)
	assert.InDelta(t, 0.1, hi, 1e-15)
}
