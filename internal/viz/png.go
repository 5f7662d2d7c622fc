package viz

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/san-kum/dynopt/internal/trajectory"
)

type Series struct {
	Name string
	X, Y []float64
}

// Figure is a set of line series sharing axes.
type Figure struct {
	Title, XLabel, YLabel string
	Series                []Series
}

// ResultFigure plots the named series of res against time.
func ResultFigure(res *trajectory.Result, names []string) (Figure, error) {
	fig := Figure{Title: res.Problem, XLabel: "time", YLabel: strings.Join(names, ", ")}
	for _, name := range names {
		vs, err := res.Get(name)
		if err != nil {
			return Figure{}, err
		}
		fig.Series = append(fig.Series, Series{Name: name, X: res.Time, Y: vs})
	}
	return fig, nil
}

func (f Figure) plot() (*plot.Plot, error) {
	if len(f.Series) == 0 {
		return nil, fmt.Errorf("figure %q has no series", f.Title)
	}
	p := plot.New()
	p.Title.Text = f.Title
	p.X.Label.Text = f.XLabel
	p.Y.Label.Text = f.YLabel
	style(p)

	for i, s := range f.Series {
		if len(s.X) != len(s.Y) || len(s.X) == 0 {
			return nil, fmt.Errorf("series %q: %d x values, %d y values", s.Name, len(s.X), len(s.Y))
		}
		pts := make(plotter.XYs, len(s.X))
		for k := range s.X {
			pts[k].X, pts[k].Y = s.X[k], s.Y[k]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("series %q: %w", s.Name, err)
		}
		line.LineStyle.Width = vg.Points(2)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		if len(f.Series) > 1 {
			p.Legend.Add(s.Name, line)
		}
	}
	p.Legend.Top = true
	return p, nil
}

func style(p *plot.Plot) {
	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.Title.Padding = vg.Points(8)
	p.X.Label.TextStyle.Font.Size = vg.Points(13)
	p.Y.Label.TextStyle.Font.Size = vg.Points(13)
	p.X.Tick.Label.Font.Size = vg.Points(11)
	p.Y.Tick.Label.Font.Size = vg.Points(11)
	p.X.Tick.Marker = limitedTicker(8)
	p.Y.Tick.Marker = limitedTicker(8)
	p.Add(plotter.NewGrid())
}

func limitedTicker(n int) plot.Ticker {
	return plot.TickerFunc(func(lo, hi float64) []plot.Tick {
		if math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) {
			return nil
		}
		if lo == hi {
			return []plot.Tick{{Value: lo, Label: fmt.Sprintf("%.3g", lo)}}
		}
		step := (hi - lo) / float64(n-1)
		ticks := make([]plot.Tick, n)
		for i := range ticks {
			v := lo + float64(i)*step
			ticks[i] = plot.Tick{Value: v, Label: fmt.Sprintf("%.3g", v)}
		}
		return ticks
	})
}

// Save writes the figure. A .png path is rendered at dpi; any other
// extension gonum/plot knows (svg, pdf, eps) is delegated to plot.Save.
func (f Figure) Save(path string, widthIn, heightIn float64, dpi int) error {
	p, err := f.plot()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	w, h := vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch
	if !strings.EqualFold(filepath.Ext(path), ".png") {
		return p.Save(w, h, path)
	}
	return savePNG(p, w, h, dpi, path)
}

func savePNG(p *plot.Plot, w, h vg.Length, dpi int, path string) (err error) {
	c := vgimg.NewWith(vgimg.UseWH(w, h), vgimg.UseDPI(dpi))
	p.Draw(draw.New(c))

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return bw.Flush()
}

// SavePNG is the common case of plotting result series to a PNG file.
func SavePNG(res *trajectory.Result, names []string, path string) error {
	fig, err := ResultFigure(res, names)
	if err != nil {
		return err
	}
	return fig.Save(path, 8, 5, 150)
}
