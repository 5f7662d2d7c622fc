package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for transcription operations.
var (
	// ErrInvalidMeshConfig indicates malformed element counts, lengths or bounds.
	ErrInvalidMeshConfig = errors.New("dynamo: invalid mesh configuration")

	// ErrUnsupportedEliminationCombination indicates an elimination plan that
	// would silently change the model.
	ErrUnsupportedEliminationCombination = errors.New("dynamo: unsupported elimination combination")

	// ErrLayoutOverflow indicates the decision vector would exceed the addressable size.
	ErrLayoutOverflow = errors.New("dynamo: decision layout overflow")

	// ErrSolverNotConverged indicates the solver stopped before meeting its tolerance.
	ErrSolverNotConverged = errors.New("dynamo: solver did not converge")

	// ErrScalingInversionMismatch indicates scale/unscale did not reproduce the input.
	ErrScalingInversionMismatch = errors.New("dynamo: scaling inversion mismatch")

	// ErrEliminationMismatch indicates a reduced program disagrees with the full one.
	ErrEliminationMismatch = errors.New("dynamo: eliminated program is not equivalent")

	// ErrInvalidProblem indicates inconsistent problem dimensions or callbacks.
	ErrInvalidProblem = errors.New("dynamo: invalid problem")

	// ErrInvalidOptions indicates an option value outside its recognised set.
	ErrInvalidOptions = errors.New("dynamo: invalid options")

	// ErrExtrapolation indicates an initial trajectory does not cover the horizon.
	ErrExtrapolation = errors.New("dynamo: initial trajectory does not cover horizon")

	// ErrDimensionMismatch indicates mismatched state/control dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")
)

// StageError wraps an error with the pipeline stage that produced it.
type StageError struct {
	Stage   string
	Wrapped error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Wrapped)
}

func (e *StageError) Unwrap() error {
	return e.Wrapped
}

// Stage wraps err with a stage name, returning nil for a nil err.
func Stage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Wrapped: err}
}
