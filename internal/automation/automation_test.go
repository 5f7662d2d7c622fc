package automation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/storage"
)

const refine = `
name: refine
description: coarse solve, then a finer mesh seeded from it
steps:
  - name: coarse
    problem: double_integrator
    options:
      n_e: 2
      n_cp: 3
      result_mode: element_interpolation
  - name: fine
    problem: double_integrator
    init_from: coarse
    integrator: rk4
    save: true
    options:
      n_e: 6
      n_cp: 3
`

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(refine))
	require.NoError(t, err)
	assert.Equal(t, "refine", sc.Name)
	require.Len(t, sc.Steps, 2)
	assert.Equal(t, "coarse", sc.Steps[1].InitFrom)
	assert.Equal(t, 2, sc.Steps[0].Options["n_e"])

	unnamed, err := ParseScenario([]byte("steps:\n  - problem: vdp\n  - problem: vdp\n    init_from: step1\n"))
	require.NoError(t, err)
	assert.Equal(t, "step2", unnamed.Steps[1].Name)
}

func TestParseScenarioErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":       "name: x\n",
		"unknown key": "steps:\n  - problem: vdp\n    colour: red\n",
		"no problem":  "steps:\n  - name: a\n",
		"duplicate":   "steps:\n  - {name: a, problem: vdp}\n  - {name: a, problem: vdp}\n",
		"forward ref": "steps:\n  - {name: a, problem: vdp, init_from: b}\n  - {name: b, problem: vdp}\n",
	} {
		_, err := ParseScenario([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(refine), 0644))
	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Len(t, sc.Steps, 2)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(refine))
	require.NoError(t, err)
	store := storage.New(t.TempDir())

	results, err := RunScenario(context.Background(), sc, experiment.NewRegistry(), store, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Empty(t, results[0].RunID)
	fine := results[1]
	assert.Equal(t, "fine", fine.Step)
	assert.InDelta(t, 12, fine.Outcome.Result.Cost, 1e-6)
	assert.Equal(t, 6, fine.Outcome.Stats.Elements)
	assert.NotNil(t, fine.Outcome.Replay)

	require.NotEmpty(t, fine.RunID)
	stored, err := store.LoadResult(fine.RunID)
	require.NoError(t, err)
	assert.Equal(t, fine.Outcome.Result.Cost, stored.Cost)
}

func TestRunScenarioStopsOnError(t *testing.T) {
	sc, err := ParseScenario([]byte(`
steps:
  - {name: ok, problem: double_integrator, options: {n_e: 2}}
  - {name: bad, problem: double_integrator, options: {n_e: 0}}
  - {name: never, problem: double_integrator}
`))
	require.NoError(t, err)

	results, err := RunScenario(context.Background(), sc, experiment.NewRegistry(), nil, nil)
	assert.ErrorIs(t, err, dynamo.ErrInvalidMeshConfig)
	assert.Len(t, results, 1)

	sc.Steps = []Step{{Name: "s", Problem: "double_integrator", Save: true}}
	_, err = RunScenario(context.Background(), sc, experiment.NewRegistry(), nil, nil)
	assert.Error(t, err)
}
