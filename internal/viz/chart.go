package viz

import (
	"fmt"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/dynopt/internal/trajectory"
)

// Resample evaluates a series on n uniformly spaced times over the result
// horizon. Collocation samples are not uniform in time, and the chart
// libraries assume they are.
func Resample(res *trajectory.Result, name string, n int) (ts, vs []float64, err error) {
	if n < 2 {
		return nil, nil, fmt.Errorf("resample to %d points", n)
	}
	smp, err := trajectory.NewSampler(res, trajectory.ClampHold)
	if err != nil {
		return nil, nil, err
	}
	t0, tf := res.Horizon()
	ts, vs = make([]float64, n), make([]float64, n)
	for i := range ts {
		ts[i] = t0 + (tf-t0)*float64(i)/float64(n-1)
		if vs[i], err = smp.At(name, ts[i]); err != nil {
			return nil, nil, err
		}
	}
	return ts, vs, nil
}

// Chart plots the named series against time in one asciigraph frame.
func Chart(res *trajectory.Result, names []string, width, height int) (string, error) {
	if len(names) == 0 {
		return "", fmt.Errorf("no series to plot")
	}
	data := make([][]float64, len(names))
	for i, name := range names {
		_, vs, err := Resample(res, name, width)
		if err != nil {
			return "", err
		}
		data[i] = vs
	}
	t0, tf := res.Horizon()
	caption := fmt.Sprintf("%s over t in [%g, %g]", strings.Join(names, ", "), t0, tf)
	opts := []asciigraph.Option{
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	}
	if len(data) == 1 {
		return asciigraph.Plot(data[0], opts...), nil
	}
	return asciigraph.PlotMany(data, opts...), nil
}
