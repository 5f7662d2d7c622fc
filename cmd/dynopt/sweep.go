package main

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/optim"
	"github.com/san-kum/dynopt/internal/viz"
)

var (
	sweepParams  []string
	sweepMetric  string
	sweepWorkers int
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep [problem]",
		Short: "solve over a grid of options and rank the results",
		Example: `  dynopt sweep vdp --param n_e=10,20,40 --param n_cp=2,3
  dynopt sweep two_state --param solver.tol=1e-6,1e-8 --metric iterations`,
		Args: cobra.ExactArgs(1),
		RunE: sweepProblem,
	}
	cmd.Flags().StringArrayVar(&sweepParams, "param", nil, "option=v1,v2,... or model.<name>=v1,v2,... (repeatable)")
	cmd.Flags().StringVar(&sweepMetric, "metric", "cost", "figure of merit to minimize")
	cmd.Flags().IntVar(&sweepWorkers, "workers", 0, "concurrent solves, default GOMAXPROCS")
	cmd.Flags().StringVar(&preset, "preset", "", "start from a named preset")
	cmd.Flags().StringVar(&configFile, "config", "", "options file (yaml), applied after the preset")
	cmd.Flags().StringVar(&pngPath, "png", "", "plot the metric against the first parameter")
	return cmd
}

func parseParams(specs []string) ([]string, [][]float64, error) {
	if len(specs) == 0 {
		return nil, nil, fmt.Errorf("at least one --param is required")
	}
	names := make([]string, len(specs))
	ranges := make([][]float64, len(specs))
	for i, spec := range specs {
		name, list, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("--param %q: want name=v1,v2", spec)
		}
		names[i] = name
		for _, field := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("--param %s: %w", name, err)
			}
			ranges[i] = append(ranges[i], v)
		}
	}
	return names, ranges, nil
}

func parseModelParams(specs []string) (map[string]float64, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(specs))
	for _, spec := range specs {
		name, val, ok := strings.Cut(spec, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("--model-param %q: want name=value", spec)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("--model-param %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func sweepProblem(cmd *cobra.Command, args []string) error {
	problem := args[0]
	names, ranges, err := parseParams(sweepParams)
	if err != nil {
		return err
	}
	opts, err := resolveOptions(cmd, problem)
	if err != nil {
		return err
	}
	grid, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}
	grid.Workers = sweepWorkers

	base := experiment.Config{Problem: problem, Options: opts}
	build := optim.OptionBuilder(experiment.NewRegistry(), base, logger())
	fmt.Printf("sweeping %s over %d points...\n", problem, len(grid.Points()))
	samples, best, err := grid.Search(cmd.Context(), build, sweepMetric)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(names, "\t"))+"\tSTATUS\tCOST\tITER\t"+strings.ToUpper(sweepMetric))
	for i, s := range samples {
		var cols []string
		for _, n := range names {
			cols = append(cols, strconv.FormatFloat(s.Params[n], 'g', -1, 64))
		}
		status := s.Status
		if s.Err != nil {
			status = "error: " + s.Err.Error()
		}
		mark := ""
		if i == best {
			mark = " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%.8g\t%d\t%.6g%s\n", strings.Join(cols, "\t"), status, s.Cost, s.Iterations, s.Value, mark)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if best < 0 {
		fmt.Println("\nno converged point")
	}

	if pngPath != "" {
		if err := sweepFigure(names, samples).Save(pngPath, 8, 5, 150); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", pngPath)
	}
	return nil
}

// sweepFigure draws the metric against the first parameter, one line per
// combination of the others.
func sweepFigure(names []string, samples []optim.Sample) viz.Figure {
	fig := viz.Figure{Title: sweepMetric, XLabel: names[0], YLabel: sweepMetric}
	groups := make(map[string]*viz.Series)
	var keys []string
	for _, s := range samples {
		if math.IsNaN(s.Value) {
			continue
		}
		var parts []string
		for _, n := range names[1:] {
			parts = append(parts, fmt.Sprintf("%s=%g", n, s.Params[n]))
		}
		key := strings.Join(parts, " ")
		g, ok := groups[key]
		if !ok {
			g = &viz.Series{Name: key}
			if key == "" {
				g.Name = sweepMetric
			}
			groups[key] = g
			keys = append(keys, key)
		}
		g.X = append(g.X, s.Params[names[0]])
		g.Y = append(g.Y, s.Value)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fig.Series = append(fig.Series, *groups[k])
	}
	return fig
}

// loadOverrides reads an options file as raw keys, so that only the keys it
// names replace the preset.
func loadOverrides(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := make(map[string]any)
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
