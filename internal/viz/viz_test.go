package viz

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/dynopt/internal/solver"
	"github.com/san-kum/dynopt/internal/trajectory"
	"github.com/san-kum/dynopt/internal/transcribe"
)

// circle samples x = cos, y = sin on a non-uniform grid.
func circle() *trajectory.Result {
	n := 41
	res := &trajectory.Result{
		Problem:    "circle",
		Solver:     "ipm",
		Mode:       "collocation_points",
		Status:     "converged",
		Cost:       1.25,
		Iterations: 12,
		Names:      []string{"x", "y"},
		Series:     map[string][]float64{},
		HOpt:       []float64{0.5, 1.5},
		Parameters: map[string]float64{"k": 2},
		Metrics:    map[string]float64{"u_norm": 0.5},
	}
	xs, ys := make([]float64, n), make([]float64, n)
	for i := range n {
		s := float64(i) / float64(n-1)
		t := 2 * math.Pi * s * s
		res.Time = append(res.Time, t)
		xs[i], ys[i] = math.Cos(t), math.Sin(t)
	}
	res.Series["x"], res.Series["y"] = xs, ys
	return res
}

func TestCanvas(t *testing.T) {
	c := NewCanvas(4, 2)
	w, h := c.Dots()
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, h)

	c.Set(0, 0)
	c.Set(7, 7)
	c.Set(-1, 3)
	c.Set(8, 0)
	assert.True(t, c.IsSet(0, 0))
	assert.True(t, c.IsSet(7, 7))
	assert.False(t, c.IsSet(1, 0))

	c.Clear()
	c.Line(0, 0, 7, 7)
	for i := range 8 {
		assert.True(t, c.IsSet(i, i))
	}
	lines := strings.Split(strings.TrimRight(c.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, 4, len([]rune(lines[0])))
}

func TestResample(t *testing.T) {
	res := circle()
	ts, vs, err := Resample(res, "x", 9)
	require.NoError(t, err)
	require.Len(t, ts, 9)
	assert.Equal(t, 0.0, ts[0])
	assert.InDelta(t, 2*math.Pi, ts[8], 1e-12)
	assert.InDelta(t, 1, vs[0], 1e-12)
	assert.InDelta(t, 1, vs[8], 1e-12)

	_, _, err = Resample(res, "x", 1)
	assert.Error(t, err)
	_, _, err = Resample(res, "z", 5)
	assert.Error(t, err)
}

func TestChart(t *testing.T) {
	res := circle()
	one, err := Chart(res, []string{"x"}, 40, 8)
	require.NoError(t, err)
	assert.Contains(t, one, "x over t")

	both, err := Chart(res, []string{"x", "y"}, 40, 8)
	require.NoError(t, err)
	assert.Contains(t, both, "x, y")

	_, err = Chart(res, nil, 40, 8)
	assert.Error(t, err)
}

func TestPhasePortrait(t *testing.T) {
	out, err := PhasePortrait(circle(), "x", "y", 20, 10)
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 11)
	assert.Contains(t, lines[10], "y in")

	_, err = PhasePortrait(circle(), "x", "nope", 20, 10)
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	out := Summary(circle())
	for _, want := range []string{"CIRCLE", "converged", "1.25", "ipm", "h_opt range", "PARAMETERS", "u_norm"} {
		assert.Contains(t, out, want)
	}

	st := StatsView(transcribe.Stats{Variables: 108, Rows: 89, Elements: 4, Points: 20, ByOrigin: map[string]int{"collocation": 40}})
	assert.Contains(t, st, "108")
	assert.Contains(t, st, "collocation")
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, strings.Repeat("─", 5), Sparkline(nil, 5))
	assert.NotEmpty(t, Sparkline([]float64{1, 2, 3}, 5))
	assert.Contains(t, ProgressBar(2, 4), "████")
}

func TestProgress(t *testing.T) {
	cancelled := false
	m := NewProgress("vdp", 100, func() { cancelled = true })
	assert.NotNil(t, m.Init())
	assert.Contains(t, m.View(), "waiting")

	var model tea.Model = m
	for i := 1; i <= 3; i++ {
		model, _ = model.Update(IterationMsg(solver.Iteration{
			Iter: i, Objective: 10 / float64(i), Primal: math.Pow(10, -float64(i)), Dual: 1e-2, Mu: 0.1,
			Step: 1, Elapsed: time.Duration(i) * time.Millisecond,
		}))
	}
	view := model.View()
	assert.Contains(t, view, "3/100")
	assert.Contains(t, view, "log10 primal")

	model, cmd := model.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)

	_, cmd = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.NotNil(t, cmd)
	assert.True(t, cancelled)

	quit, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	_, err := quit.(Progress).Outcome()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressDone(t *testing.T) {
	m := NewProgress("circle", 0, nil)
	model, cmd := m.Update(DoneMsg{Result: circle()})
	assert.NotNil(t, cmd)
	res, err := model.(Progress).Outcome()
	require.NoError(t, err)
	assert.Equal(t, "circle", res.Problem)
	assert.Contains(t, model.View(), "converged")

	failed, _ := m.Update(DoneMsg{Err: errors.New("boom")})
	assert.Contains(t, failed.View(), "boom")

	_, err = m.Outcome()
	assert.Error(t, err)
}

func TestRunLive(t *testing.T) {
	var out bytes.Buffer
	res, err := RunLive(context.Background(), "circle", 10, func(ctx context.Context, obs solver.Observer) (*trajectory.Result, error) {
		obs(solver.Iteration{Iter: 1, Objective: 1})
		return circle(), nil
	}, tea.WithInput(nil), tea.WithOutput(&out))
	require.NoError(t, err)
	assert.Equal(t, "circle", res.Problem)
}

func TestSaveFigure(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "plots", "circle.png")
	require.NoError(t, SavePNG(circle(), []string{"x", "y"}, png))
	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	fig, err := ResultFigure(circle(), []string{"x"})
	require.NoError(t, err)
	svg := filepath.Join(dir, "circle.svg")
	require.NoError(t, fig.Save(svg, 4, 3, 72))
	assert.FileExists(t, svg)

	_, err = ResultFigure(circle(), []string{"nope"})
	assert.Error(t, err)
	assert.Error(t, Figure{Title: "empty"}.Save(filepath.Join(dir, "e.png"), 4, 3, 72))
}
