// Package models is a library of ready-made optimal control problems used
// by the CLI, the sweeps and the tests.
package models

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynopt/internal/dynamo"
)

var catalog = map[string]func() *dynamo.Problem{
	"vdp":               VDP,
	"vdp_mayer":         VDPMayer,
	"vdp_path":          VDPConstrained,
	"oscillator":        Oscillator,
	"oscillator_gain":   OscillatorGain,
	"oscillator_dae":    OscillatorDAE,
	"two_state":         TwoState,
	"double_integrator": DoubleIntegrator,
	"cstr":              CSTR,
}

// Get builds a fresh copy of the named problem.
func Get(name string) (*dynamo.Problem, error) {
	fn, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown problem %q", dynamo.ErrInvalidProblem, name)
	}
	return fn(), nil
}

func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
