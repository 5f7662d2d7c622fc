package transcribe

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/solver"
	"github.com/san-kum/dynopt/internal/solver/auglag"
	"github.com/san-kum/dynopt/internal/solver/ipm"
)

var solvers = map[string]func() solver.Solver{
	"ipm":    func() solver.Solver { return ipm.New() },
	"auglag": func() solver.Solver { return auglag.New() },
}

// NewSolver returns a fresh backend of the named family.
func NewSolver(family string) (solver.Solver, error) {
	fn, ok := solvers[family]
	if !ok {
		return nil, fmt.Errorf("%w: unknown solver family %q", dynamo.ErrInvalidOptions, family)
	}
	return fn(), nil
}

func Solvers() []string {
	names := make([]string, 0, len(solvers))
	for name := range solvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
