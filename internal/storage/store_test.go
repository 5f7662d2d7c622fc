package storage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/trajectory"
)

func sampleResult() *trajectory.Result {
	return &trajectory.Result{
		Problem:    "vdp",
		Solver:     "ipm",
		Mode:       "collocation_points",
		Time:       []float64{0, 0.5, 1.0 / 3},
		Names:      []string{"x1", "der(x1)", "u"},
		Series: map[string][]float64{
			"x1":      {1, 0.1234567890123, -2e-9},
			"der(x1)": {0, 1, 2},
			"u":       {0.5, 0.25, 0.125},
		},
		Cost:       2.471555915589,
		Status:     "converged",
		Iterations: 17,
		Timings:    trajectory.Timings{Init: time.Millisecond, Sol: 2 * time.Second},
		HOpt:       []float64{0.5, 1.5},
		Parameters: map[string]float64{"k": 2},
		Metrics:    map[string]float64{"control_effort": 1.5},
	}
}

func fixedClock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

func TestStoreSaveLoadResult(t *testing.T) {
	st := New(t.TempDir())
	res := sampleResult()
	opts := config.DefaultOptions()
	opts.Elements = 7

	runID, err := st.Save(res, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	meta, err := st.Load(runID)
	require.NoError(t, err)
	assert.Equal(t, runID, meta.ID)
	assert.Equal(t, "vdp", meta.Result.Problem)
	assert.Equal(t, 17, meta.Result.Iterations)
	assert.Equal(t, 1.5, meta.Result.Metrics["control_effort"])
	assert.Nil(t, meta.Result.Series)

	got, err := st.LoadResult(runID)
	require.NoError(t, err)
	assert.Equal(t, res.Time, got.Time)
	assert.Equal(t, res.Series, got.Series)
	assert.Equal(t, res.Names, got.Names)
	assert.Equal(t, res.HOpt, got.HOpt)
	assert.Equal(t, res.Timings, got.Timings)
	assert.Equal(t, res.Cost, got.Cost)

	loaded, err := st.LoadOptions(runID)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Elements)
}

func TestStoreFileStructure(t *testing.T) {
	dir := t.TempDir()
	st := New(dir)

	runID, err := st.Save(sampleResult(), config.DefaultOptions())
	require.NoError(t, err)

	for _, name := range []string{"metadata.json", "options.yaml", "trajectory.csv"} {
		assert.FileExists(t, filepath.Join(dir, runID, name))
	}
	data, err := os.ReadFile(filepath.Join(dir, runID, "trajectory.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "time,x1,der(x1),u\n")
}

func TestStoreList(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "runs"))

	runs, err := st.List()
	require.NoError(t, err)
	assert.Empty(t, runs)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = fixedClock(t0, t0.Add(time.Hour), t0.Add(time.Hour))

	first, err := st.Save(sampleResult(), config.DefaultOptions())
	require.NoError(t, err)
	second, err := st.Save(sampleResult(), config.DefaultOptions())
	require.NoError(t, err)
	third, err := st.Save(sampleResult(), config.DefaultOptions())
	require.NoError(t, err)
	assert.NotEqual(t, second, third)

	require.NoError(t, os.Mkdir(filepath.Join(st.baseDir, "junk"), 0755))

	runs, err = st.List()
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, third, runs[0].ID)
	assert.Equal(t, second, runs[1].ID)
	assert.Equal(t, first, runs[2].ID)
}

func TestStoreMissingRun(t *testing.T) {
	st := New(t.TempDir())

	_, err := st.Load("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = st.LoadResult("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = st.LoadOptions("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStoreHeaderMismatch(t *testing.T) {
	dir := t.TempDir()
	st := New(dir)
	runID, err := st.Save(sampleResult(), config.DefaultOptions())
	require.NoError(t, err)

	csvPath := filepath.Join(dir, runID, "trajectory.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("time,x1,u\n0,1,2\n"), 0644))

	_, err = st.LoadResult(runID)
	assert.Error(t, err)
}

func TestExportJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ExportJSON(&buf, sampleResult()))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "vdp", doc["problem"])
	assert.Len(t, doc["time"], 3)
	series, ok := doc["series"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, series, 3)
	assert.Contains(t, series, "der(x1)")
}
