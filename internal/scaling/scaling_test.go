package scaling

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/mesh"
	"github.com/san-kum/dynopt/internal/nlp"
)

func quadProgram(t *testing.T) *nlp.Program {
	t.Helper()
	inf := math.Inf(1)
	x, y := layout.Var(0), layout.Var(1)
	rows := []nlp.Block{{
		Origin: nlp.DAE, Inputs: []layout.Expr{x, y}, Rows: 2,
		Lower: []float64{0, -1}, Upper: []float64{0, inf},
		Residual: func(v, res []float64) {
			res[0] = v[0]*v[1] - 1000
			res[1] = v[1] - 0.01*v[0]
		},
	}}
	costs := []nlp.Block{{Inputs: []layout.Expr{x, y}, Cost: func(v []float64) float64 {
		return v[0]*v[0]*1e-4 + v[1]*v[1]
	}}}
	p, err := nlp.NewProgram(2, []float64{0, -5}, []float64{2000, inf}, []float64{100, 1}, rows, costs, nlp.Serial)
	require.NoError(t, err)
	return p
}

func TestApplyConsistent(t *testing.T) {
	p := quadProgram(t)
	tab := &Table{Vars: []float64{100, 0.1}, Rows: []float64{1e-3, 10}, Objective: 0.5}
	s, err := Apply(p, tab)
	require.NoError(t, err)

	xlo, xhi, glo, ghi := s.Bounds()
	assert.Equal(t, []float64{0, -50}, xlo)
	assert.Equal(t, 20.0, xhi[0])
	assert.True(t, math.IsInf(xhi[1], 1))
	assert.Equal(t, []float64{0, -10}, glo)
	assert.True(t, math.IsInf(ghi[1], 1))
	assert.Equal(t, []float64{1, 10}, s.InitialGuess())

	xh := []float64{3, 7}
	x := []float64{300, 0.7}
	assert.InDelta(t, 0.5*p.Objective(x), s.Objective(xh), 1e-12)

	g := make([]float64, 2)
	gs := make([]float64, 2)
	p.Constraints(x, g)
	s.Constraints(xh, gs)
	assert.InDeltaSlice(t, []float64{1e-3 * g[0], 10 * g[1]}, gs, 1e-12)

	grad := make([]float64, 2)
	s.Gradient(xh, grad)
	assert.InDeltaSlice(t, []float64{0.5 * 100 * 2e-4 * 300, 0.5 * 0.1 * 2 * 0.7}, grad, 1e-7)

	jac := mat.NewDense(2, 2, nil)
	s.Jacobian(xh, jac)
	want := mat.NewDense(2, 2, []float64{
		1e-3 * 0.7 * 100, 1e-3 * 300 * 0.1,
		10 * -0.01 * 100, 10 * 1 * 0.1,
	})
	assert.True(t, mat.EqualApprox(jac, want, 1e-7), "%v", mat.Formatted(jac))

	hess := mat.NewSymDense(2, nil)
	s.Hessian(xh, 1, []float64{2, 0}, hess)
	// sigma*0.5*f + 2*1e-3*g0
	wantH := mat.NewSymDense(2, []float64{
		0.5 * 2e-4 * 1e4, 2e-3 * 100 * 0.1,
		2e-3 * 100 * 0.1, 0.5 * 2 * 0.01,
	})
	assert.True(t, mat.EqualApprox(hess, wantH, 1e-2), "%v", mat.Formatted(hess))
}

func TestRoundTrip(t *testing.T) {
	tab := &Table{Vars: []float64{3, 1e-7, 1e5, 0.1}, Rows: []float64{7}, Objective: 2}
	x := []float64{math.Pi, -1e-9, 12345.678, 0}
	require.NoError(t, tab.RoundTrip(x))

	xh := tab.Scale(x)
	back, lam := tab.Invert(xh, []float64{4})
	assert.InDeltaSlice(t, x, back, 1e-12)
	assert.Equal(t, []float64{14}, lam)
}

func TestRoundTripDetectsMismatch(t *testing.T) {
	tab := &Table{Vars: []float64{math.Inf(1)}, Rows: nil, Objective: 1}
	err := tab.RoundTrip([]float64{1})
	assert.ErrorIs(t, err, dynamo.ErrScalingInversionMismatch)
}

func TestValidate(t *testing.T) {
	for _, tab := range []*Table{
		{Vars: []float64{0}, Objective: 1},
		{Vars: []float64{1}, Rows: []float64{-1}, Objective: 1},
		{Vars: []float64{1}, Objective: math.NaN()},
	} {
		assert.ErrorIs(t, tab.Validate(), dynamo.ErrInvalidOptions)
	}
}

func TestDeriveFromNominals(t *testing.T) {
	prob := &dynamo.Problem{
		Name: "cstr", FinalTime: 1,
		States: []dynamo.Variable{
			dynamo.NewVariable("c").WithNominal(1000),
			dynamo.NewVariable("T").WithNominal(350),
		},
		Controls: []dynamo.Variable{dynamo.NewVariable("Tc")},
		DAE:      func(pt dynamo.Point, res []float64) {},
		Mayer:    func(xf, p []float64) float64 { return 0 },
	}
	m, err := mesh.New(mesh.Config{Elements: 2, Degree: 1})
	require.NoError(t, err)
	l, err := layout.Allocate(m, prob, layout.Options{})
	require.NoError(t, err)

	origins := []nlp.Origin{nlp.Boundary, nlp.Collocation, nlp.DAE}
	tab, err := Derive(l, origins, Hints{
		Nominal: map[string]float64{"Tc": 300},
		Rows:    map[nlp.Origin]float64{nlp.DAE: 0.01},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 0.01}, tab.Rows)
	for pos, s := range tab.Vars {
		switch r := l.Owner(pos); {
		case r.Kind == layout.Control:
			assert.Equal(t, 300.0, s)
		case r.Index == 0:
			assert.Equal(t, 1000.0, s)
		default:
			assert.Equal(t, 350.0, s)
		}
	}

	_, err = Derive(l, origins, Hints{Nominal: map[string]float64{"nope": 1}})
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
}

func TestScaleRowsByGradient(t *testing.T) {
	p := quadProgram(t)
	tab := Identity(2, 2)
	tab.ScaleRowsByGradient(p, []float64{100, 1})
	// row 0 gradient is (1, 100), row 1 is (-0.01, 1)
	assert.InDelta(t, 1.0, tab.Rows[0], 1e-6)
	assert.Equal(t, 1.0, tab.Rows[1])

	tab.Vars[1] = 10
	tab.ScaleRowsByGradient(p, []float64{100, 1})
	assert.InDelta(t, 0.1, tab.Rows[0], 1e-6)
}
