package consumer

import (
	"testing"
)

func TestStepHappyPath(t *testing.T) {
	batch := &Batch{Partition: 0}
	st := State{Phase: PhaseIdle, Batch: batch}

	steps := []struct {
		outcome Outcome
		want    Phase
	}{
		{OutcomeBatchPulled, PhaseBatchAcquired},
		{OutcomeInvokeStarted, PhaseInvoking},
		{OutcomeInvokedAll, PhaseCommitting},
		{OutcomeCommitted, PhaseIdle},
	}
	for i, s := range steps {
		var err error
		st, err = Step(st, s.outcome, 2)
		if err != nil {
			t.Fatalf("step %d (%s): %v", i, s.outcome, err)
		}
		if st.Phase != s.want {
			t.Fatalf("step %d (%s): phase = %s, want %s", i, s.outcome, st.Phase, s.want)
		}
	}
	if st.Batch != nil {
		t.Error("batch should be released after commit")
	}
}

func TestStepTransientRetryLoop(t *testing.T) {
	batch := &Batch{}
	st := State{Phase: PhaseInvoking, Batch: batch}

	// Two transient failures stay within a budget of two retries.
	for attempt := 1; attempt <= 2; attempt++ {
		var err error
		st, err = Step(st, OutcomeTransientFailure, 2)
		if err != nil {
			t.Fatalf("transient %d: %v", attempt, err)
		}
		if st.Phase != PhaseRetrying {
			t.Fatalf("transient %d: phase = %s, want retrying", attempt, st.Phase)
		}
		if batch.RetryCount != attempt {
			t.Fatalf("transient %d: RetryCount = %d", attempt, batch.RetryCount)
		}
		st, err = Step(st, OutcomeInvokeStarted, 2)
		if err != nil {
			t.Fatalf("reinvoke %d: %v", attempt, err)
		}
		if st.Phase != PhaseInvoking {
			t.Fatalf("reinvoke %d: phase = %s", attempt, st.Phase)
		}
	}

	// The third transient failure exhausts the budget.
	st, err := Step(st, OutcomeTransientFailure, 2)
	if err != nil {
		t.Fatalf("final transient: %v", err)
	}
	if st.Phase != PhaseFailed {
		t.Errorf("phase = %s, want failed after budget exhaustion", st.Phase)
	}
	if batch.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", batch.RetryCount)
	}
}

func TestStepZeroRetriesFailsImmediately(t *testing.T) {
	st := State{Phase: PhaseInvoking, Batch: &Batch{}}
	st, err := Step(st, OutcomeTransientFailure, 0)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if st.Phase != PhaseFailed {
		t.Errorf("phase = %s, want failed with no retry budget", st.Phase)
	}
}

func TestStepPermanentShortCircuits(t *testing.T) {
	batch := &Batch{}
	st := State{Phase: PhaseInvoking, Batch: batch}

	st, err := Step(st, OutcomePermanentFailure, 2)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if st.Phase != PhaseFailed {
		t.Errorf("phase = %s, want failed", st.Phase)
	}
	if batch.RetryCount != 0 {
		t.Errorf("RetryCount = %d, permanent failures must not burn the retry budget", batch.RetryCount)
	}
}

func TestStepCommitFailureIsRetryable(t *testing.T) {
	batch := &Batch{}
	st := State{Phase: PhaseCommitting, Batch: batch}

	st, err := Step(st, OutcomeTransientFailure, 2)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if st.Phase != PhaseRetrying {
		t.Errorf("phase = %s, want retrying after commit failure", st.Phase)
	}
}

func TestStepInvalidTransitions(t *testing.T) {
	tests := []struct {
		phase   Phase
		outcome Outcome
	}{
		{PhaseIdle, OutcomeInvokedAll},
		{PhaseIdle, OutcomeCommitted},
		{PhaseBatchAcquired, OutcomeBatchPulled},
		{PhaseInvoking, OutcomeCommitted},
		{PhaseCommitting, OutcomePermanentFailure},
		{PhaseFailed, OutcomeInvokeStarted},
		{PhaseFailed, OutcomeBatchPulled},
	}
	for _, tt := range tests {
		st := State{Phase: tt.phase, Batch: &Batch{}}
		if _, err := Step(st, tt.outcome, 2); err == nil {
			t.Errorf("Step(%s, %s) accepted an invalid transition", tt.phase, tt.outcome)
		}
	}
}

func TestPhaseAndOutcomeStrings(t *testing.T) {
	if PhaseRetrying.String() != "retrying" {
		t.Errorf("PhaseRetrying = %q", PhaseRetrying.String())
	}
	if OutcomeTransientFailure.String() != "transient-failure" {
		t.Errorf("OutcomeTransientFailure = %q", OutcomeTransientFailure.String())
	}
	if Phase(42).String() != "phase(42)" {
		t.Errorf("unknown phase = %q", Phase(42).String())
	}
}
