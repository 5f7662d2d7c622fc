package trajectory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/mesh"
)

func TestSampler(t *testing.T) {
	res := &Result{
		// the repeated instant mimics an element boundary
		Time:   []float64{0, 1, 1, 2},
		Series: map[string][]float64{"y": {0, 2, 5, 4}},
	}

	strict, err := NewSampler(res, Strict)
	require.NoError(t, err)
	v, err := strict.At("y", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1, v, 1e-12)
	v, err = strict.At("y", 1.5)
	require.NoError(t, err)
	assert.InDelta(t, 3, v, 1e-12)

	_, err = strict.At("y", 2.5)
	assert.ErrorIs(t, err, dynamo.ErrExtrapolation)
	_, err = strict.At("z", 1)
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
	assert.True(t, strict.Covers(0, 2))
	assert.False(t, strict.Covers(-1, 2))

	clamp, err := NewSampler(res, ClampHold)
	require.NoError(t, err)
	v, err = clamp.At("y", -3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
	v, err = clamp.At("y", 7)
	require.NoError(t, err)
	assert.Equal(t, 4.0, v)
}

func TestSamplerNeedsTwoSamples(t *testing.T) {
	_, err := NewSampler(&Result{Time: []float64{0}}, Strict)
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
}

func interpolated(t *testing.T, prob *dynamo.Problem) *Result {
	t.Helper()
	l := newLayout(t, prob, mesh.Config{Elements: 4, Degree: 3})
	res, err := Reconstruct(l, fill(l), Options{Mode: ElementInterpolation, EvalPoints: 5})
	require.NoError(t, err)
	res.Parameters = map[string]float64{"p": 0.7}
	return res
}

func TestInitialGuessResamples(t *testing.T) {
	prob := quadratic()
	prev := interpolated(t, prob)
	l := newLayout(t, prob, mesh.Config{Elements: 3, Degree: 2, Family: mesh.Gauss})

	x, err := InitialGuess(prev, l, Strict)
	require.NoError(t, err)
	require.Len(t, x, l.Len())

	for pos := range x {
		r := l.Owner(pos)
		sc := l.Mesh.Elements[r.Element].Scheme
		switch r.Kind {
		case layout.State:
			tm := l.Time(r.Element, sc.Nodes[r.Node]).Eval(x)
			assert.InDelta(t, tm*tm, x[pos], 0.01, l.Name(pos))
		case layout.Control:
			tm := l.Time(r.Element, sc.Nodes[sc.Colloc[r.Node]]).Eval(x)
			assert.InDelta(t, 1+tm, x[pos], 1e-9, l.Name(pos))
		case layout.Derivative:
			tm := l.Time(r.Element, sc.Nodes[sc.Colloc[r.Node]]).Eval(x)
			assert.InDelta(t, 2*tm, x[pos], 1e-9, l.Name(pos))
		case layout.Parameter:
			assert.Equal(t, 0.7, x[pos])
		}
	}
}

func TestInitialGuessHorizon(t *testing.T) {
	prev := interpolated(t, quadratic())
	longer := quadratic()
	longer.FinalTime = 3
	l := newLayout(t, longer, mesh.Config{Elements: 3, Degree: 2})

	_, err := InitialGuess(prev, l, Strict)
	assert.ErrorIs(t, err, dynamo.ErrExtrapolation)

	x, err := InitialGuess(prev, l, ClampHold)
	require.NoError(t, err)
	last := l.MustLookup(layout.Ref{Element: 2, Node: 2, Kind: layout.State}).Eval(x)
	assert.InDelta(t, 4, last, 1e-9)
}

func TestInitialGuessRejectsScaled(t *testing.T) {
	prev := interpolated(t, quadratic())
	prev.Scaled = true
	l := newLayout(t, quadratic(), mesh.Config{Elements: 2, Degree: 2})
	_, err := InitialGuess(prev, l, Strict)
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
}

func TestInitialGuessFreeLengths(t *testing.T) {
	prob := quadratic()
	free := &mesh.FreeLengths{Weight: 0.5, Lower: 0.5, Upper: 2}
	prev := interpolated(t, prob)
	prev.HOpt = []float64{0.5, 1.5, 1.5, 0.5}

	l := newLayout(t, prob, mesh.Config{Elements: 4, Degree: 2, Free: free})
	x, err := InitialGuess(prev, l, Strict)
	require.NoError(t, err)
	for e, want := range []float64{0.125, 0.375, 0.375, 0.125} {
		h := l.MustLookup(layout.Ref{Element: e, Kind: layout.Length}).Eval(x)
		assert.InDelta(t, want, h, 1e-12)
	}

	other := newLayout(t, prob, mesh.Config{Elements: 2, Degree: 2, Free: free})
	x, err = InitialGuess(prev, other, Strict)
	require.NoError(t, err)
	h := other.MustLookup(layout.Ref{Element: 1, Kind: layout.Length}).Eval(x)
	assert.InDelta(t, 0.5, h, 1e-12)
}
