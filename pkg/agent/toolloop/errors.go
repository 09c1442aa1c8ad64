package toolloop

import (
	"errors"
	"fmt"
)

var (
	// ErrNoClient indicates the agent was built without a decision-maker.
	ErrNoClient = errors.New("no LLM client configured")

	// ErrRunInProgress indicates Run was called while another run owns the context.
	ErrRunInProgress = errors.New("agent run already in progress")

	// ErrNotStructured indicates RunTyped could not decode the final answer.
	ErrNotStructured = errors.New("answer is not the requested JSON")
)

// IterationError tags a call-level failure with the iteration it happened in.
// It unwraps to the underlying error unchanged, so errors.Is and errors.As still
// reach the root cause (an llmerrors.Error, circuit.ErrOpen, context.Canceled).
type IterationError struct {
	Err       error
	Iteration int // 1-indexed
}

func (e *IterationError) Error() string {
	return fmt.Sprintf("iteration %d: %v", e.Iteration, e.Err)
}

func (e *IterationError) Unwrap() error {
	return e.Err
}
