package consumer

import (
	"fmt"

	"hivemail/internal/stream"
)

// Phase is the consumer's position in the batch lifecycle:
//
//	Idle → BatchAcquired → Invoking → Committing → Idle
//
// with Retrying looping back into Invoking after a backoff, and Failed
// terminal once the retry budget is exhausted or a permanent error is
// seen.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBatchAcquired
	PhaseInvoking
	PhaseRetrying
	PhaseCommitting
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBatchAcquired:
		return "batch-acquired"
	case PhaseInvoking:
		return "invoking"
	case PhaseRetrying:
		return "retrying"
	case PhaseCommitting:
		return "committing"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Batch is a bounded run of contiguous events from one partition.
// RetryCount counts transient whole-batch failures; once it passes the
// configured maximum the batch is Failed, so in the Failed state it
// reads one past the budget.
type Batch struct {
	Partition  int
	Events     []stream.Event
	RetryCount int
}

// State is the tagged machine state. Transitions happen only through
// Step, which is a pure function of (state, outcome), so the machine is
// unit-testable without a live stream or summarizer.
type State struct {
	Phase Phase
	Batch *Batch
}

// Outcome is an observed result fed into the machine.
type Outcome int

const (
	// OutcomeBatchPulled reports a new batch acquired from the stream.
	OutcomeBatchPulled Outcome = iota
	// OutcomeInvokeStarted begins (or re-begins) inference for the batch.
	OutcomeInvokeStarted
	// OutcomeInvokedAll reports every summarizable event succeeded.
	OutcomeInvokedAll
	// OutcomeTransientFailure reports a retryable failure of the attempt,
	// from inference or from commit.
	OutcomeTransientFailure
	// OutcomePermanentFailure reports a non-retryable inference failure.
	OutcomePermanentFailure
	// OutcomeCommitted reports all summaries upserted.
	OutcomeCommitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBatchPulled:
		return "batch-pulled"
	case OutcomeInvokeStarted:
		return "invoke-started"
	case OutcomeInvokedAll:
		return "invoked-all"
	case OutcomeTransientFailure:
		return "transient-failure"
	case OutcomePermanentFailure:
		return "permanent-failure"
	case OutcomeCommitted:
		return "committed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Step applies one outcome to the state and returns the next state.
//
// A transient failure increments the batch's retry count; once it would
// exceed maxRetries the batch is Failed instead of Retrying. A permanent
// failure goes straight to Failed without touching the retry budget;
// waiting out a backoff cannot fix rejected content.
func Step(st State, o Outcome, maxRetries int) (State, error) {
	switch {
	case st.Phase == PhaseIdle && o == OutcomeBatchPulled:
		return State{Phase: PhaseBatchAcquired, Batch: st.Batch}, nil

	case st.Phase == PhaseBatchAcquired && o == OutcomeInvokeStarted:
		return State{Phase: PhaseInvoking, Batch: st.Batch}, nil

	case st.Phase == PhaseRetrying && o == OutcomeInvokeStarted:
		return State{Phase: PhaseInvoking, Batch: st.Batch}, nil

	case st.Phase == PhaseInvoking && o == OutcomeInvokedAll:
		return State{Phase: PhaseCommitting, Batch: st.Batch}, nil

	case (st.Phase == PhaseInvoking || st.Phase == PhaseCommitting) && o == OutcomeTransientFailure:
		st.Batch.RetryCount++
		if st.Batch.RetryCount > maxRetries {
			return State{Phase: PhaseFailed, Batch: st.Batch}, nil
		}
		return State{Phase: PhaseRetrying, Batch: st.Batch}, nil

	case st.Phase == PhaseInvoking && o == OutcomePermanentFailure:
		return State{Phase: PhaseFailed, Batch: st.Batch}, nil

	case st.Phase == PhaseCommitting && o == OutcomeCommitted:
		return State{Phase: PhaseIdle, Batch: nil}, nil

	default:
		return st, fmt.Errorf("invalid transition: %s + %s", st.Phase, o)
	}
}
