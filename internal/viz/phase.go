package viz

import (
	"fmt"

	"github.com/san-kum/dynopt/internal/trajectory"
)

// PhasePortrait draws series yname against xname on a Braille canvas of
// w x h cells, joining consecutive samples.
func PhasePortrait(res *trajectory.Result, xname, yname string, w, h int) (string, error) {
	xs, err := res.Get(xname)
	if err != nil {
		return "", err
	}
	ys, err := res.Get(yname)
	if err != nil {
		return "", err
	}
	if len(xs) == 0 {
		return "", fmt.Errorf("empty result")
	}

	xlo, xhi := bounds(xs)
	ylo, yhi := bounds(ys)
	c := NewCanvas(w, h)
	dw, dh := c.Dots()
	project := func(x, y float64) (int, int) {
		px := int((x - xlo) / (xhi - xlo) * float64(dw-1))
		py := int((yhi - y) / (yhi - ylo) * float64(dh-1))
		return px, py
	}

	px, py := project(xs[0], ys[0])
	c.Set(px, py)
	for i := 1; i < len(xs); i++ {
		nx, ny := project(xs[i], ys[i])
		c.Line(px, py, nx, ny)
		px, py = nx, ny
	}
	caption := fmt.Sprintf("%s in [%.3g, %.3g] vs %s in [%.3g, %.3g]", yname, ylo, yhi, xname, xlo, xhi)
	return c.String() + Subtle.Render(caption), nil
}

// bounds widens degenerate ranges so projection never divides by zero.
func bounds(vs []float64) (float64, float64) {
	lo, hi := vs[0], vs[0]
	for _, v := range vs {
		lo, hi = min(lo, v), max(hi, v)
	}
	if hi == lo {
		lo, hi = lo-1, hi+1
	}
	return lo, hi
}
