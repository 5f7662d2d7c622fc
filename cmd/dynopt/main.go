package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/dynopt/internal/automation"
	"github.com/san-kum/dynopt/internal/config"
	"github.com/san-kum/dynopt/internal/experiment"
	"github.com/san-kum/dynopt/internal/solver"
	"github.com/san-kum/dynopt/internal/storage"
	"github.com/san-kum/dynopt/internal/trajectory"
	"github.com/san-kum/dynopt/internal/transcribe"
	"github.com/san-kum/dynopt/internal/viz"
)

var (
	dataDir string
	verbose bool

	// solve
	preset     string
	configFile string
	elements   int
	degree     int
	discr      string
	solverName string
	maxIter    int
	tol        float64
	resultMode string
	scale      bool
	initRun    string
	clamp      bool
	integrator string
	dt         float64
	live       bool
	noSave     bool
	modelArgs  []string

	// output
	series  string
	pngPath string
	phase   string
	outPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "dynopt",
		Short:         "dynamic optimization by direct collocation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".dynopt", "run directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	solveCmd := &cobra.Command{
		Use:   "solve [problem]",
		Short: "transcribe and solve a problem",
		Args:  cobra.ExactArgs(1),
		RunE:  solveProblem,
	}
	solveCmd.Flags().StringVar(&preset, "preset", "", "start from a named preset")
	solveCmd.Flags().StringVar(&configFile, "config", "", "options file (yaml), applied after the preset")
	solveCmd.Flags().IntVar(&elements, "n-e", config.DefaultElements, "number of elements")
	solveCmd.Flags().IntVar(&degree, "n-cp", config.DefaultDegree, "collocation points per element")
	solveCmd.Flags().StringVar(&discr, "discr", "Radau", "collocation family: Radau, LG, LGR, LGL")
	solveCmd.Flags().StringVar(&solverName, "solver", config.DefaultSolver, "NLP solver")
	solveCmd.Flags().IntVar(&maxIter, "max-iter", 0, "solver iteration limit")
	solveCmd.Flags().Float64Var(&tol, "tol", 0, "solver tolerance")
	solveCmd.Flags().StringVar(&resultMode, "mode", config.ModeCollocationPoints, "result mode")
	solveCmd.Flags().BoolVar(&scale, "scale", false, "scale variables and rows")
	solveCmd.Flags().StringVar(&initRun, "init", "", "warm start from a stored run id")
	solveCmd.Flags().BoolVar(&clamp, "clamp", false, "hold the initial trajectory outside its horizon")
	solveCmd.Flags().StringVar(&integrator, "integrator", "", "replay the controls with this integrator")
	solveCmd.Flags().Float64Var(&dt, "dt", 0, "replay step, default horizon/1000")
	solveCmd.Flags().BoolVar(&live, "live", false, "show solver progress")
	solveCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	solveCmd.Flags().StringArrayVar(&modelArgs, "model-param", nil, "set a model constant, name=value (repeatable)")
	solveCmd.Flags().StringVar(&series, "plot", "", "comma separated series to chart")
	solveCmd.Flags().StringVar(&pngPath, "png", "", "write the charted series to an image")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list problems, solvers and integrators",
		RunE:  listProblems,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list presets of a problem",
		Args:  cobra.ExactArgs(1),
		RunE:  listPresets,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "chart a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&series, "series", "", "comma separated series, default all states and controls")
	plotCmd.Flags().StringVar(&pngPath, "png", "", "also write an image")
	plotCmd.Flags().StringVar(&phase, "phase", "", "phase portrait of two series, x,y")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file, default stdout")

	simulateCmd := &cobra.Command{
		Use:   "simulate [run_id]",
		Short: "replay the controls of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  simulateRun,
	}
	simulateCmd.Flags().StringVar(&integrator, "integrator", "rk45", "integrator")
	simulateCmd.Flags().Float64Var(&dt, "dt", 0, "step, default horizon/1000")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted sequence of solves",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}

	rootCmd.AddCommand(solveCmd, listCmd, problemsCmd, presetsCmd, plotCmd, exportCmd, simulateCmd, scenarioCmd, newSweepCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// resolveOptions layers defaults, preset, config file and changed flags.
func resolveOptions(cmd *cobra.Command, problem string) (config.Options, error) {
	opts := config.DefaultOptions()
	if preset != "" {
		p, err := config.GetPreset(problem, preset)
		if err != nil {
			return opts, fmt.Errorf("%w (available: %v)", err, config.ListPresets(problem))
		}
		opts = p
	}
	if configFile != "" {
		overrides, err := loadOverrides(configFile)
		if err != nil {
			return opts, fmt.Errorf("failed to load config: %w", err)
		}
		if opts, err = config.Override(opts, overrides); err != nil {
			return opts, err
		}
	}

	f := cmd.Flags()
	if f.Changed("n-e") {
		opts.Elements = elements
	}
	if f.Changed("n-cp") {
		opts.Degree = degree
	}
	if f.Changed("discr") {
		opts.Discr = discr
	}
	if f.Changed("solver") {
		opts.Solver.Family = solverName
	}
	if f.Changed("max-iter") {
		opts.Solver.MaxIter = maxIter
	}
	if f.Changed("tol") {
		opts.Solver.Tol = tol
	}
	if f.Changed("mode") {
		opts.ResultMode = resultMode
	}
	if f.Changed("scale") {
		opts.EnableScaling = scale
	}
	if f.Changed("init") {
		opts.InitTraj = initRun
	}
	return opts, opts.Validate()
}

func solveProblem(cmd *cobra.Command, args []string) error {
	problem := args[0]
	opts, err := resolveOptions(cmd, problem)
	if err != nil {
		return err
	}

	params, err := parseModelParams(modelArgs)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	cfg := experiment.Config{Problem: problem, Options: opts, Integrator: integrator, Dt: dt, Params: params}
	if opts.InitTraj != "" {
		if cfg.InitTraj, err = st.LoadResult(opts.InitTraj); err != nil {
			return fmt.Errorf("init_traj: %w", err)
		}
		if clamp {
			cfg.Policy = trajectory.ClampHold
		}
	}

	log := logger()
	reg := experiment.NewRegistry()
	var out *experiment.Outcome
	run := func(ctx context.Context, obs solver.Observer) (*trajectory.Result, error) {
		exp := experiment.New(reg, cfg, log)
		var extra []transcribe.Option
		if obs != nil {
			extra = append(extra, transcribe.WithObserver(obs))
		}
		if err := exp.Setup(extra...); err != nil {
			return nil, err
		}
		o, err := exp.Run(ctx)
		if err != nil {
			return nil, err
		}
		out = o
		return o.Result, nil
	}

	if live {
		if _, err := viz.RunLive(cmd.Context(), problem, opts.Solver.MaxIter, run); err != nil {
			return err
		}
	} else {
		fmt.Printf("solving %s (%d x %d %s, %s)...\n", problem, opts.Elements, opts.Degree, opts.Discr, opts.Solver.Family)
		if _, err := run(cmd.Context(), nil); err != nil {
			return err
		}
		fmt.Println(viz.Summary(out.Result))
	}
	res := out.Result
	fmt.Println(viz.StatsView(out.Stats))

	if out.Replay != nil {
		fmt.Printf("\nreplay (%s): max deviation %.3e\n", integrator, out.MaxDeviation())
	}
	if err := chart(res, series, pngPath); err != nil {
		return err
	}

	if noSave {
		return nil
	}
	runID, err := st.Save(res, opts)
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func chart(res *trajectory.Result, list, png string) error {
	if list == "" {
		return nil
	}
	names := strings.Split(list, ",")
	graph, err := viz.Chart(res, names, 80, 12)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(graph)
	if png != "" {
		if err := viz.SavePNG(res, names, png); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", png)
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tSOLVER\tSTATUS\tCOST\tITER")
	for _, run := range runs {
		r := run.Result
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.8g\t%d\n",
			run.ID,
			r.Problem,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			r.Solver,
			r.Status,
			r.Cost,
			r.Iterations,
		)
	}
	return w.Flush()
}

func listProblems(cmd *cobra.Command, args []string) error {
	reg := experiment.NewRegistry()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBLEM\tSTATES\tCONTROLS\tHORIZON\tPRESETS")
	for _, name := range reg.ListProblems() {
		p, err := reg.GetProblem(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%g\t%s\n", name, len(p.States), len(p.Controls), p.Horizon(), strings.Join(config.ListPresets(name), ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nsolvers: %s\n", strings.Join(reg.ListSolvers(), ", "))
	fmt.Printf("integrators: %s\n", strings.Join(reg.ListIntegrators(), ", "))
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	presets := config.ListPresets(args[0])
	if len(presets) == 0 {
		fmt.Printf("no presets for problem: %s\n", args[0])
		return nil
	}
	fmt.Printf("presets for %s:\n", args[0])
	for _, name := range presets {
		o, err := config.GetPreset(args[0], name)
		if err != nil {
			return err
		}
		fmt.Printf("  %-14s %d x %d %s\n", name, o.Elements, o.Degree, o.Discr)
	}
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	res, err := st.LoadResult(args[0])
	if err != nil {
		return err
	}
	fmt.Println(viz.Summary(res))

	list := series
	if list == "" {
		list, err = defaultSeries(res)
		if err != nil {
			return err
		}
	}
	if err := chart(res, list, pngPath); err != nil {
		return err
	}

	if phase != "" {
		xy := strings.Split(phase, ",")
		if len(xy) != 2 {
			return fmt.Errorf("--phase wants x,y, got %q", phase)
		}
		portrait, err := viz.PhasePortrait(res, xy[0], xy[1], 40, 16)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(portrait)
	}
	return nil
}

// defaultSeries lists the states and controls of the problem behind res.
func defaultSeries(res *trajectory.Result) (string, error) {
	p, err := experiment.NewRegistry().GetProblem(res.Problem)
	if err != nil {
		return "", err
	}
	var names []string
	for _, v := range p.States {
		names = append(names, v.Name)
	}
	for _, v := range p.Controls {
		names = append(names, v.Name)
	}
	return strings.Join(names, ","), nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	res, err := storage.New(dataDir).LoadResult(args[0])
	if err != nil {
		return err
	}
	if outPath == "" {
		return storage.ExportJSON(os.Stdout, res)
	}
	return storage.ExportJSONFile(outPath, res)
}

func simulateRun(cmd *cobra.Command, args []string) error {
	res, err := storage.New(dataDir).LoadResult(args[0])
	if err != nil {
		return err
	}
	reg := experiment.NewRegistry()
	prob, err := reg.GetProblem(res.Problem)
	if err != nil {
		return err
	}
	integ, err := reg.GetIntegrator(integrator, prob)
	if err != nil {
		return err
	}
	step := dt
	if step <= 0 {
		step = prob.Horizon() / 1000
	}
	sim, err := trajectory.Simulate(prob, res, integ, step)
	if err != nil {
		return err
	}

	var states []string
	for _, v := range prob.States {
		states = append(states, v.Name)
	}
	dev, err := trajectory.Deviation(res, sim, states)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tFINAL (COLLOCATION)\tFINAL (REPLAY)\tMAX DEVIATION")
	for _, name := range states {
		fmt.Fprintf(w, "%s\t%.8g\t%.8g\t%.3e\n", name, res.Final(name), sim.Final(name), dev[name])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	graph, err := viz.Chart(sim, states, 80, 12)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(graph)
	return nil
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("scenario %s: %d steps\n", sc.Name, len(sc.Steps))
	results, err := automation.RunScenario(cmd.Context(), sc, experiment.NewRegistry(), storage.New(dataDir), logger())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tCOST\tITER\tSOL\tRUN")
	for _, r := range results {
		res := r.Outcome.Result
		fmt.Fprintf(w, "%s\t%s\t%.10g\t%d\t%s\t%s\n", r.Step, res.Status, res.Cost, res.Iterations, res.Timings.Sol, r.RunID)
	}
	if ferr := w.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}
