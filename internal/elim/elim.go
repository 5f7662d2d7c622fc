// Package elim removes derivative and continuity unknowns from a
// transcription and checks that the reduced program describes the same
// problem as the full one.
package elim

import (
	"fmt"
	"math"

	"github.com/san-kum/dynopt/internal/dynamo"
	"github.com/san-kum/dynopt/internal/layout"
	"github.com/san-kum/dynopt/internal/mesh"
	"github.com/san-kum/dynopt/internal/nlp"
)

// Plan selects the eliminations applied when the layout is allocated.
type Plan struct {
	Derivatives bool
	Continuity  bool
}

// Validate rejects combinations that would change the problem.
//
// Continuity elimination on a free mesh would tie the boundary states to
// element lengths that move during the solve, and together with a Mayer term
// the terminal value is read through the eliminated chain. Both are refused.
func (p Plan) Validate(prob *dynamo.Problem, m *mesh.Mesh) error {
	if !p.Continuity {
		return nil
	}
	if m.IsFree() {
		return fmt.Errorf("%w: continuity elimination with free element lengths", dynamo.ErrUnsupportedEliminationCombination)
	}
	if prob.Mayer != nil {
		return fmt.Errorf("%w: continuity elimination with a Mayer term", dynamo.ErrUnsupportedEliminationCombination)
	}
	return nil
}

// Apply returns the layout options for p.
func (p Plan) Apply(blocking []int) layout.Options {
	return layout.Options{
		EliminateDerivatives: p.Derivatives,
		EliminateContinuity:  p.Continuity,
		Blocking:             blocking,
	}
}

func (p Plan) String() string {
	switch {
	case p.Derivatives && p.Continuity:
		return "derivatives+continuity"
	case p.Derivatives:
		return "derivatives"
	case p.Continuity:
		return "continuity"
	}
	return "none"
}

// Expand maps a reduced decision vector onto the positions of the full
// layout. Both layouts must share the mesh, problem and blocking.
func Expand(reduced, full *layout.Layout, xr []float64) ([]float64, error) {
	if reduced.Mesh.Len() != full.Mesh.Len() || reduced.Problem != full.Problem {
		return nil, fmt.Errorf("%w: layouts describe different transcriptions", dynamo.ErrDimensionMismatch)
	}
	if len(xr) != reduced.Len() {
		return nil, fmt.Errorf("%w: %d values for %d positions", dynamo.ErrDimensionMismatch, len(xr), reduced.Len())
	}
	xf := make([]float64, full.Len())
	for pos := range xf {
		xf[pos] = reduced.Value(full.Owner(pos), xr)
	}
	return xf, nil
}

type Report struct {
	MaxViolation float64
	ObjectiveGap float64
	Rows         int
}

// Check evaluates the full program at xf. Every full-model equation must
// hold within tol and the objective must match the reduced one.
func Check(full nlp.Problem, xf []float64, objective, tol float64) (Report, error) {
	_, m := full.Dims()
	r := Report{
		MaxViolation: nlp.Violation(full, xf),
		ObjectiveGap: math.Abs(full.Objective(xf) - objective),
		Rows:         m,
	}
	scale := math.Max(1, math.Abs(objective))
	if r.MaxViolation > tol || r.ObjectiveGap > tol*scale {
		return r, fmt.Errorf("%w: violation %.3g, objective gap %.3g", dynamo.ErrEliminationMismatch, r.MaxViolation, r.ObjectiveGap)
	}
	return r, nil
}
