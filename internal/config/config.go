package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/elim"
	"github.com/san-kum/dynopt/internal/mesh"
	"github.com/san-kum/dynopt/internal/nlp"
	"github.com/san-kum/dynopt/internal/scaling"
	"github.com/san-kum/dynopt/internal/solver"
)

const (
	DefaultElements   = 50
	DefaultDegree     = 3
	DefaultEvalPoints = 20
	DefaultSolver     = "ipm"

	ModeCollocationPoints     = "collocation_points"
	ModeElementInterpolation = "element_interpolation"

	GraphSX         = "SX"
	GraphMX         = "MX"
	GraphExpandedMX = "expanded_MX"
)

// Options is the closed option record of one transcription. It is passed
// by value; nothing in the pipeline mutates it.
type Options struct {
	Elements          int                `yaml:"n_e"`
	Degree            int                `yaml:"n_cp"`
	Lengths           Lengths            `yaml:"hs,omitempty"`
	FreeLengths       *FreeLengthsData   `yaml:"free_element_lengths_data,omitempty"`
	Blocking          []int              `yaml:"blocking_factors,omitempty"`
	Discr             string             `yaml:"discr"`
	ResultMode        string             `yaml:"result_mode"`
	EvalPoints        int                `yaml:"n_eval_points"`
	EliminateDer      bool               `yaml:"eliminate_der_var"`
	EliminateCont     bool               `yaml:"eliminate_cont_var"`
	ExactHessian      bool               `yaml:"exact_Hessian"`
	Graph             string             `yaml:"graph"`
	EnableScaling     bool               `yaml:"enable_scaling"`
	WriteScaled       bool               `yaml:"write_scaled_result"`
	InitTraj          string             `yaml:"init_traj,omitempty"`
	Solver            SolverConfig       `yaml:"solver"`
	Nominal           map[string]float64 `yaml:"nominal,omitempty"`
	VerifyElimination bool               `yaml:"verify_elimination"`
}

// Lengths is either a sequence of normalized element lengths or the
// literal "free". The zero value means uniform.
type Lengths struct {
	Free   bool
	Values []float64
}

func (l Lengths) IsZero() bool {
	return !l.Free && l.Values == nil
}

func (l *Lengths) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*l = Lengths{}
			return nil
		}
		if node.Value != "free" {
			return fmt.Errorf("%w: hs must be a sequence or \"free\", got %q", dynamo.ErrInvalidMeshConfig, node.Value)
		}
		*l = Lengths{Free: true}
		return nil
	case yaml.SequenceNode:
		var v []float64
		if err := node.Decode(&v); err != nil {
			return err
		}
		*l = Lengths{Values: v}
		return nil
	}
	return fmt.Errorf("%w: hs must be a sequence or \"free\"", dynamo.ErrInvalidMeshConfig)
}

func (l Lengths) MarshalYAML() (any, error) {
	if l.Free {
		return "free", nil
	}
	return l.Values, nil
}

type FreeLengthsData struct {
	C float64 `yaml:"c"`
	// Q is nil for identity.
	Q      [][]float64 `yaml:"Q,omitempty"`
	Bounds [2]float64  `yaml:"bounds"`
}

type SolverConfig struct {
	Family        string        `yaml:"family"`
	MaxIter       int           `yaml:"max_iter"`
	Tol           float64       `yaml:"tol"`
	AcceptableTol float64       `yaml:"acceptable_tol,omitempty"`
	MaxTime       time.Duration `yaml:"max_time,omitempty"`
}

func DefaultOptions() Options {
	d := solver.DefaultOptions()
	return Options{
		Elements:     DefaultElements,
		Degree:       DefaultDegree,
		Discr:        mesh.Radau.String(),
		ResultMode:   ModeCollocationPoints,
		EvalPoints:   DefaultEvalPoints,
		ExactHessian: true,
		Graph:        GraphSX,
		Solver: SolverConfig{
			Family:        DefaultSolver,
			MaxIter:       d.MaxIter,
			Tol:           d.Tol,
			AcceptableTol: d.AcceptableTol,
		},
	}
}

// Validate checks option values that do not depend on a problem.
func (o Options) Validate() error {
	if o.Elements < 1 {
		return fmt.Errorf("%w: n_e = %d", dynamo.ErrInvalidMeshConfig, o.Elements)
	}
	if o.Degree < 1 {
		return fmt.Errorf("%w: n_cp = %d", dynamo.ErrInvalidMeshConfig, o.Degree)
	}
	if _, err := mesh.ParseFamily(o.Discr); err != nil {
		return err
	}
	if o.Lengths.Free != (o.FreeLengths != nil) {
		return fmt.Errorf("%w: free_element_lengths_data is required iff hs is \"free\"", dynamo.ErrInvalidMeshConfig)
	}
	if o.Lengths.Values != nil && len(o.Lengths.Values) != o.Elements {
		return fmt.Errorf("%w: %d lengths for %d elements", dynamo.ErrInvalidMeshConfig, len(o.Lengths.Values), o.Elements)
	}
	switch o.ResultMode {
	case ModeCollocationPoints, ModeElementInterpolation:
	default:
		return fmt.Errorf("%w: result_mode %q", dynamo.ErrInvalidOptions, o.ResultMode)
	}
	if o.EvalPoints < 1 {
		return fmt.Errorf("%w: n_eval_points = %d", dynamo.ErrInvalidOptions, o.EvalPoints)
	}
	if _, err := o.Evaluation(); err != nil {
		return err
	}
	if o.Solver.Family == "" {
		return fmt.Errorf("%w: empty solver family", dynamo.ErrInvalidOptions)
	}
	if o.Solver.MaxIter < 0 || o.Solver.Tol < 0 || o.Solver.AcceptableTol < 0 || o.Solver.MaxTime < 0 {
		return fmt.Errorf("%w: negative solver limit", dynamo.ErrInvalidOptions)
	}
	for name, v := range o.Nominal {
		if !(v > 0) {
			return fmt.Errorf("%w: nominal %s = %g", dynamo.ErrInvalidOptions, name, v)
		}
	}
	return nil
}

func (o Options) Family() (mesh.Family, error) {
	return mesh.ParseFamily(o.Discr)
}

// MeshConfig converts the mesh options for a problem with nx states.
func (o Options) MeshConfig(nx int) (mesh.Config, error) {
	fam, err := o.Family()
	if err != nil {
		return mesh.Config{}, err
	}
	cfg := mesh.Config{
		Elements: o.Elements,
		Degree:   o.Degree,
		Family:   fam,
		Lengths:  o.Lengths.Values,
	}
	if f := o.FreeLengths; f != nil {
		free := &mesh.FreeLengths{Weight: f.C, Lower: f.Bounds[0], Upper: f.Bounds[1]}
		if f.Q != nil {
			if len(f.Q) != nx {
				return mesh.Config{}, fmt.Errorf("%w: Q has %d rows for %d states", dynamo.ErrInvalidMeshConfig, len(f.Q), nx)
			}
			for i, row := range f.Q {
				if len(row) != nx {
					return mesh.Config{}, fmt.Errorf("%w: Q row %d has %d entries", dynamo.ErrInvalidMeshConfig, i, len(row))
				}
			}
			q := mat.NewSymDense(nx, nil)
			for i, row := range f.Q {
				for j := i; j < nx; j++ {
					if row[j] != f.Q[j][i] {
						return mesh.Config{}, fmt.Errorf("%w: Q is not symmetric", dynamo.ErrInvalidMeshConfig)
					}
					q.SetSym(i, j, row[j])
				}
			}
			free.Q = q
		}
		cfg.Free = free
	}
	return cfg, nil
}

func (o Options) Plan() elim.Plan {
	return elim.Plan{Derivatives: o.EliminateDer, Continuity: o.EliminateCont}
}

// Evaluation maps the graph hint onto the block evaluator schedule.
func (o Options) Evaluation() (nlp.Evaluation, error) {
	switch o.Graph {
	case GraphSX, "":
		return nlp.Serial, nil
	case GraphMX:
		return nlp.Concurrent, nil
	case GraphExpandedMX:
		return nlp.ConcurrentFD, nil
	}
	return 0, fmt.Errorf("%w: graph %q", dynamo.ErrInvalidOptions, o.Graph)
}

// SolverOptions returns the backend options; logger and observer are left
// to the caller.
func (o Options) SolverOptions() solver.Options {
	mode := solver.QuasiNewton
	if o.ExactHessian {
		mode = solver.Exact
	}
	return solver.Options{
		Hessian:       mode,
		MaxIter:       o.Solver.MaxIter,
		MaxTime:       o.Solver.MaxTime,
		Tol:           o.Solver.Tol,
		AcceptableTol: o.Solver.AcceptableTol,
	}
}

func (o Options) ScalingHints() scaling.Hints {
	return scaling.Hints{Nominal: o.Nominal}
}

// Clone returns a deep copy.
func (o Options) Clone() Options {
	c := o
	c.Lengths.Values = append([]float64(nil), o.Lengths.Values...)
	c.Blocking = append([]int(nil), o.Blocking...)
	if o.FreeLengths != nil {
		f := *o.FreeLengths
		f.Q = nil
		for _, row := range o.FreeLengths.Q {
			f.Q = append(f.Q, append([]float64(nil), row...))
		}
		c.FreeLengths = &f
	}
	if o.Nominal != nil {
		c.Nominal = make(map[string]float64, len(o.Nominal))
		for k, v := range o.Nominal {
			c.Nominal[k] = v
		}
	}
	return c
}

// Decode reads YAML on top of the defaults. Unknown keys are rejected.
func Decode(r io.Reader) (Options, error) {
	return decodeOnto(DefaultOptions(), r)
}

// Override applies the keys of m on top of base, leaving the rest of base
// untouched.
func Override(base Options, m map[string]any) (Options, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", dynamo.ErrInvalidOptions, err)
	}
	return decodeOnto(base.Clone(), bytes.NewReader(data))
}

func decodeOnto(opts Options, r io.Reader) (Options, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return Options{}, fmt.Errorf("%w: %w", dynamo.ErrInvalidOptions, err)
	}
	return opts, opts.Validate()
}

// FromMap builds options from a loosely typed key/value map, as produced by
// a front end. Unknown keys are rejected.
func FromMap(m map[string]any) (Options, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", dynamo.ErrInvalidOptions, err)
	}
	return Decode(bytes.NewReader(data))
}

func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	return Decode(bytes.NewReader(data))
}

func Save(path string, opts Options) error {
	data, err := yaml.Marshal(opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
