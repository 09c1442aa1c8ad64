package toolloop

import (
	"fmt"
	"time"

	"github.com/Lynx-Eco/lib-ai/pkg/agent/llm"
)

// State is the position of an agent run in its state machine.
type State int

const (
	// Running means the next decision is being requested.
	Running State = iota

	// AwaitingToolResults means the tools requested in this round are executing.
	AwaitingToolResults

	// Completed means the decision-maker answered without requesting tools.
	Completed

	// Failed means a call-level failure ended the run. Tool failures never do.
	Failed

	// IterationLimitReached means the round budget ran out; the answer is partial.
	IterationLimitReached
)

// String returns human-readable name for State.
func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case AwaitingToolResults:
		return "AwaitingToolResults"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case IterationLimitReached:
		return "IterationLimitReached"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == IterationLimitReached
}

// Result describes a finished run.
//
//nolint:govet // Field order optimized for readability over memory alignment
type Result struct {
	// RunID identifies the run in logs, metrics and snapshots.
	RunID string

	// Answer is the final text, or the best partial answer when Truncated or Failed.
	Answer string

	// Truncated is set when the iteration budget ran out before a final answer.
	Truncated bool

	// Iterations counts completed tool rounds.
	Iterations int

	// State is the terminal state of the run.
	State State

	// ToolCalls counts tool invocations across all rounds, missing tools included.
	ToolCalls int

	// Usage sums the provider-reported usage of every decision.
	Usage llm.Usage

	// Duration is the wall time of the run.
	Duration time.Duration
}
