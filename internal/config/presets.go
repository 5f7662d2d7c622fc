package config

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynopt/internal/dynamo"
)

func preset(edit func(o *Options)) Options {
	o := DefaultOptions()
	edit(&o)
	return o
}

// Presets are named option records per problem of the model library.
var Presets = map[string]map[string]Options{
	"vdp": {
		"coarse": preset(func(o *Options) {
			o.Elements, o.Degree = 20, 3
		}),
		"reference": preset(func(o *Options) {
			o.Elements, o.Degree = 100, 1
		}),
		"blocked": preset(func(o *Options) {
			o.Elements, o.Degree = 40, 3
			o.Blocking = repeat(1, 40)
		}),
		"interpolated": preset(func(o *Options) {
			o.Elements, o.Degree = 30, 3
			o.ResultMode = ModeElementInterpolation
			o.EvalPoints = 10
		}),
		"quasi_newton": preset(func(o *Options) {
			o.Elements, o.Degree = 30, 3
			o.ExactHessian = false
			o.Solver.MaxIter = 2000
		}),
	},
	"vdp_mayer": {
		"free_lengths": preset(func(o *Options) {
			o.Elements, o.Degree = 20, 3
			o.Lengths = Lengths{Free: true}
			o.FreeLengths = &FreeLengthsData{C: 0.5, Bounds: [2]float64{0.5, 2}}
		}),
		"eliminated": preset(func(o *Options) {
			o.Elements, o.Degree = 30, 3
			o.EliminateDer = true
		}),
	},
	"vdp_path": {
		"default": preset(func(o *Options) {
			o.Elements, o.Degree = 30, 3
		}),
	},
	"two_state": {
		"single": preset(func(o *Options) {
			o.Elements, o.Degree = 1, 30
		}),
		"lobatto": preset(func(o *Options) {
			o.Elements, o.Degree = 4, 5
			o.Discr = "LGL"
		}),
	},
	"double_integrator": {
		"eliminated": preset(func(o *Options) {
			o.Elements, o.Degree = 10, 3
			o.EliminateDer, o.EliminateCont = true, true
			o.VerifyElimination = true
		}),
	},
	"cstr": {
		"scaled": preset(func(o *Options) {
			o.Elements, o.Degree = 30, 3
			o.EnableScaling = true
		}),
	},
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// GetPreset returns a copy of the named preset.
func GetPreset(problem, name string) (Options, error) {
	byName, ok := Presets[problem]
	if !ok {
		return Options{}, fmt.Errorf("%w: no presets for %q", dynamo.ErrInvalidOptions, problem)
	}
	o, ok := byName[name]
	if !ok {
		return Options{}, fmt.Errorf("%w: unknown preset %s/%s", dynamo.ErrInvalidOptions, problem, name)
	}
	return o.Clone(), nil
}

func ListPresets(problem string) []string {
	byName := Presets[problem]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
