package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/mesh"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/solver"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	require.NoError(t, o.Validate())

	assert.Equal(t, 50, o.Elements)
	assert.Equal(t, 3, o.Degree)
	assert.Equal(t, "Radau", o.Discr)
	assert.Equal(t, ModeCollocationPoints, o.ResultMode)
	assert.Equal(t, 20, o.EvalPoints)
	assert.True(t, o.ExactHessian)
	assert.False(t, o.EliminateDer)
	assert.False(t, o.EliminateCont)
	assert.Equal(t, "ipm", o.Solver.Family)
}

func TestDecodeOverridesDefaults(t *testing.T) {
	src := `
n_e: 40
n_cp: 2
discr: LGL
blocking_factors: [10, 30]
exact_Hessian: false
solver:
  family: auglag
  max_iter: 50
  tol: 1.0e-6
  max_time: 30s
`
	o, err := Decode(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, 40, o.Elements)
	assert.Equal(t, 2, o.Degree)
	assert.Equal(t, []int{10, 30}, o.Blocking)
	assert.Equal(t, 20, o.EvalPoints)
	assert.Equal(t, 30*time.Second, o.Solver.MaxTime)

	fam, err := o.Family()
	require.NoError(t, err)
	assert.Equal(t, mesh.GaussLobatto, fam)
	assert.Equal(t, solver.QuasiNewton, o.SolverOptions().Hessian)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader("n_e: 10\nn_elements: 4\n"))
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
}

func TestDecodeEmpty(t *testing.T) {
	o, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), o)
}

func TestLengths(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		want    Lengths
		wantErr error
	}{
		{"sequence", "n_e: 2\nhs: [0.25, 0.75]\n", Lengths{Values: []float64{0.25, 0.75}}, nil},
		{"null", "hs: null\n", Lengths{}, nil},
		{"free", "hs: free\nfree_element_lengths_data: {c: 0.5, bounds: [0.5, 2]}\n", Lengths{Free: true}, nil},
		{"bad scalar", "hs: fixed\n", Lengths{}, dynamo.ErrInvalidMeshConfig},
		{"free without data", "hs: free\n", Lengths{}, dynamo.ErrInvalidMeshConfig},
		{"count mismatch", "n_e: 3\nhs: [0.5, 0.5]\n", Lengths{}, dynamo.ErrInvalidMeshConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := Decode(strings.NewReader(tt.src))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, o.Lengths)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		edit    func(o *Options)
		wantErr error
	}{
		{"zero elements", func(o *Options) { o.Elements = 0 }, dynamo.ErrInvalidMeshConfig},
		{"zero degree", func(o *Options) { o.Degree = 0 }, dynamo.ErrInvalidMeshConfig},
		{"unknown family", func(o *Options) { o.Discr = "Chebyshev" }, dynamo.ErrInvalidMeshConfig},
		{"result mode", func(o *Options) { o.ResultMode = "mesh_points" }, dynamo.ErrInvalidOptions},
		{"eval points", func(o *Options) { o.EvalPoints = 0 }, dynamo.ErrInvalidOptions},
		{"graph", func(o *Options) { o.Graph = "LLVM" }, dynamo.ErrInvalidOptions},
		{"solver", func(o *Options) { o.Solver.Family = "" }, dynamo.ErrInvalidOptions},
		{"negative tol", func(o *Options) { o.Solver.Tol = -1 }, dynamo.ErrInvalidOptions},
		{"nominal", func(o *Options) { o.Nominal = map[string]float64{"x1": 0} }, dynamo.ErrInvalidOptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.edit(&o)
			assert.ErrorIs(t, o.Validate(), tt.wantErr)
		})
	}
}

func TestFamilyAliases(t *testing.T) {
	for alias, want := range map[string]mesh.Family{
		"Radau":         mesh.Radau,
		"LG":            mesh.Gauss,
		"Gauss":         mesh.Gauss,
		"LGR":           mesh.GaussRadau,
		"Gauss-Radau":   mesh.GaussRadau,
		"LGL":           mesh.GaussLobatto,
		"Gauss-Lobatto": mesh.GaussLobatto,
	} {
		o := DefaultOptions()
		o.Discr = alias
		fam, err := o.Family()
		require.NoError(t, err, alias)
		assert.Equal(t, want, fam, alias)
	}
}

func TestEvaluation(t *testing.T) {
	for graph, want := range map[string]nlp.Evaluation{
		GraphSX:         nlp.Serial,
		GraphMX:         nlp.Concurrent,
		GraphExpandedMX: nlp.ConcurrentFD,
	} {
		o := DefaultOptions()
		o.Graph = graph
		got, err := o.Evaluation()
		require.NoError(t, err)
		assert.Equal(t, want, got, graph)
	}
}

func TestMeshConfigFreeLengths(t *testing.T) {
	o := DefaultOptions()
	o.Elements = 4
	o.Lengths = Lengths{Free: true}
	o.FreeLengths = &FreeLengthsData{C: 0.5, Q: [][]float64{{1, 0.5}, {0.5, 2}}, Bounds: [2]float64{0.5, 2}}

	cfg, err := o.MeshConfig(2)
	require.NoError(t, err)
	require.NotNil(t, cfg.Free)
	assert.Equal(t, 0.5, cfg.Free.Weight)
	assert.Equal(t, 0.5, cfg.Free.Q.At(1, 0))
	assert.Equal(t, 2.0, cfg.Free.Upper)

	o.FreeLengths.Q = [][]float64{{1, 0.5}, {0, 2}}
	_, err = o.MeshConfig(2)
	assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)

	o.FreeLengths.Q = [][]float64{{1}, {0, 2}}
	_, err = o.MeshConfig(2)
	assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)

	_, err = o.MeshConfig(3)
	assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)
}

func TestFromMap(t *testing.T) {
	o, err := FromMap(map[string]any{
		"n_e":               12,
		"eliminate_der_var": true,
		"nominal":           map[string]any{"T": 350.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 12, o.Elements)
	assert.True(t, o.Plan().Derivatives)
	assert.Equal(t, 350.0, o.ScalingHints().Nominal["T"])

	_, err = FromMap(map[string]any{"hessian": "exact"})
	assert.True(t, errors.Is(err, dynamo.ErrInvalidOptions))
}

func TestOverride(t *testing.T) {
	base := DefaultOptions()
	base.Elements = 20
	base.Blocking = []int{10, 10}
	base.Solver.MaxIter = 77

	o, err := Override(base, map[string]any{
		"n_cp":   4,
		"solver": map[string]any{"tol": 1e-6},
	})
	require.NoError(t, err)
	assert.Equal(t, 20, o.Elements)
	assert.Equal(t, 4, o.Degree)
	assert.Equal(t, []int{10, 10}, o.Blocking)
	assert.Equal(t, 1e-6, o.Solver.Tol)
	assert.Equal(t, 77, o.Solver.MaxIter)
	assert.Equal(t, 3, base.Degree)

	_, err = Override(base, map[string]any{"n_e": 0})
	assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)
	_, err = Override(base, map[string]any{"nope": 1})
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	o := DefaultOptions()
	o.Elements = 20
	o.Lengths = Lengths{Free: true}
	o.FreeLengths = &FreeLengthsData{C: 0.5, Bounds: [2]float64{0.5, 2}}
	o.Blocking = []int{5, 15}
	o.Nominal = map[string]float64{"x1": 2}
	o.Solver.MaxTime = time.Minute

	path := filepath.Join(t.TempDir(), "opts.yaml")
	require.NoError(t, Save(path, o))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, o, got)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	o := DefaultOptions()
	o.Blocking = []int{1, 2}
	o.FreeLengths = &FreeLengthsData{Q: [][]float64{{1}}}
	o.Nominal = map[string]float64{"u": 1}

	c := o.Clone()
	c.Blocking[0] = 9
	c.FreeLengths.Q[0][0] = 9
	c.Nominal["u"] = 9

	assert.Equal(t, 1, o.Blocking[0])
	assert.Equal(t, 1.0, o.FreeLengths.Q[0][0])
	assert.Equal(t, 1.0, o.Nominal["u"])
}

func TestPresets(t *testing.T) {
	for problem := range Presets {
		names := ListPresets(problem)
		require.NotEmpty(t, names, problem)
		for _, name := range names {
			o, err := GetPreset(problem, name)
			require.NoError(t, err, "%s/%s", problem, name)
			assert.NoError(t, o.Validate(), "%s/%s", problem, name)
		}
	}

	o, err := GetPreset("vdp", "blocked")
	require.NoError(t, err)
	o.Blocking[0] = 7
	again, _ := GetPreset("vdp", "blocked")
	assert.Equal(t, 1, again.Blocking[0])

	_, err = GetPreset("vdp", "missing")
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
	_, err = GetPreset("pendulum", "small")
	assert.ErrorIs(t, err, dynamo.ErrInvalidOptions)
	assert.Empty(t, ListPresets("pendulum"))
}
