package tasks

import (
	"errors"
	"testing"

	"svs-converter/internal/domain"
)

// TestRunCompletesAfterEveryTaskFinishes checks direct-mode completion.
func TestRunCompletesAfterEveryTaskFinishes(t *testing.T) {
	r := NewRun()
	if err := r.Begin(domain.ConversionModeDirect, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("begin: %v", err)
	}

	for _, id := range []string{"a", "b"} {
		r.Transition(id, PhaseRunning)
		r.Transition(id, PhaseMoving)
		r.Transition(id, PhaseSucceeded)
	}
	if p := r.Progress(); p.Complete || p.Finished != 2 {
		t.Fatalf("progress = %+v, want 2 finished and incomplete", p)
	}

	r.Transition("c", PhaseFailed)
	p := r.Progress()
	if !p.Complete || p.Finished != 3 || p.Expected != 3 {
		t.Fatalf("progress = %+v, want complete 3/3", p)
	}
}

// TestRunMergeExpectsSingleResult checks merge-mode completion.
func TestRunMergeExpectsSingleResult(t *testing.T) {
	r := NewRun()
	if err := r.Begin(domain.ConversionModeMerge, []string{"a", "b"}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if r.Progress().Expected != 1 {
		t.Fatalf("expected = %d, want 1", r.Progress().Expected)
	}

	r.Transition("a", PhaseSucceeded)
	if !r.Progress().Complete {
		t.Fatalf("progress = %+v, want complete", r.Progress())
	}
}

// TestRunTerminalPhasesAreSticky verifies re-delivery cannot double count.
func TestRunTerminalPhasesAreSticky(t *testing.T) {
	r := NewRun()
	_ = r.Begin(domain.ConversionModeDirect, []string{"a", "b"})

	if !r.Transition("a", PhaseSucceeded) {
		t.Fatal("first terminal transition should apply")
	}
	if r.Transition("a", PhaseSucceeded) || r.Transition("a", PhaseFailed) || r.Transition("a", PhaseMoving) {
		t.Fatal("transitions out of a terminal phase should be ignored")
	}
	if r.Transition("ghost", PhaseSucceeded) {
		t.Fatal("unknown id should be ignored")
	}
	if p := r.Progress(); p.Finished != 1 {
		t.Fatalf("finished = %d, want 1", p.Finished)
	}
}

// TestRunRejectsOverlappingBatches checks the one-batch-at-a-time guard.
func TestRunRejectsOverlappingBatches(t *testing.T) {
	r := NewRun()
	_ = r.Begin(domain.ConversionModeDirect, []string{"a"})
	if err := r.Begin(domain.ConversionModeDirect, []string{"b"}); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("err = %v, want %v", err, ErrRunInProgress)
	}

	r.Transition("a", PhaseSkipped)
	if err := r.Begin(domain.ConversionModeDirect, []string{"b"}); err != nil {
		t.Fatalf("begin after completion: %v", err)
	}
	if p := r.Progress(); p.Finished != 0 || p.State != RunStateDispatched {
		t.Fatalf("progress = %+v, want reset count", p)
	}
}

// TestRunConflictFlow checks conflict edges back to moving.
func TestRunConflictFlow(t *testing.T) {
	r := NewRun()
	_ = r.Begin(domain.ConversionModeDirect, []string{"a"})
	r.Transition("a", PhaseMoving)
	if !r.Transition("a", PhaseConflict) {
		t.Fatal("moving -> conflict should apply")
	}
	if !r.Transition("a", PhaseMoving) {
		t.Fatal("conflict -> moving should apply")
	}
	if phase, _ := r.Phase("a"); phase != PhaseMoving {
		t.Fatalf("phase = %s", phase)
	}
}

// TestRunResetReturnsToIdle checks reset clears state.
func TestRunResetReturnsToIdle(t *testing.T) {
	r := NewRun()
	_ = r.Begin(domain.ConversionModeSplit, []string{"a"})
	r.Reset()
	if r.Busy() || r.Progress().State != RunStateIdle {
		t.Fatalf("progress = %+v, want idle", r.Progress())
	}
}

// TestRunMergeAdoptsSyntheticTask checks a merged output reported under an
// id outside the batch still completes the run.
func TestRunMergeAdoptsSyntheticTask(t *testing.T) {
	r := NewRun()
	_ = r.Begin(domain.ConversionModeMerge, []string{"a", "b"})

	if !r.Transition("merged", PhaseMoving) {
		t.Fatal("expected synthetic id to be adopted")
	}
	r.Transition("merged", PhaseSucceeded)
	if p := r.Progress(); !p.Complete || p.Finished != 1 {
		t.Fatalf("progress = %+v, want complete 1/1", p)
	}
	if r.Transition("late", PhaseSucceeded) {
		t.Fatal("finished run should not adopt more ids")
	}
}

// TestRunMergeCountsOneResult checks a merge batch never counts past one.
func TestRunMergeCountsOneResult(t *testing.T) {
	r := NewRun()
	_ = r.Begin(domain.ConversionModeMerge, []string{"a", "b"})

	if !r.Transition("a", PhaseSucceeded) {
		t.Fatal("first terminal transition should apply")
	}
	if r.Transition("b", PhaseSucceeded) {
		t.Fatal("finished merge run should ignore other tasks")
	}
	if p := r.Progress(); p.Finished != 1 || p.Expected != 1 || !p.Complete {
		t.Fatalf("progress = %+v, want complete 1/1", p)
	}
}

// TestRunMergeAdoptsOnlyOneUnknownID checks a second outside id is rejected.
func TestRunMergeAdoptsOnlyOneUnknownID(t *testing.T) {
	r := NewRun()
	_ = r.Begin(domain.ConversionModeMerge, []string{"a", "b"})

	if !r.Transition("merged", PhaseRunning) {
		t.Fatal("expected first outside id to be adopted")
	}
	if r.Transition("other", PhaseMoving) {
		t.Fatal("second outside id should be ignored")
	}
	if phase, ok := r.Phase("merged"); !ok || phase != PhaseRunning {
		t.Fatalf("merged phase = %s, %v", phase, ok)
	}
}

// TestRunIgnoresIDsOfEarlierBatches checks late events of a replaced batch.
func TestRunIgnoresIDsOfEarlierBatches(t *testing.T) {
	r := NewRun()
	_ = r.Begin(domain.ConversionModeMerge, []string{"a", "b"})
	r.Reset()
	_ = r.Begin(domain.ConversionModeMerge, []string{"c", "d"})

	if r.Transition("a", PhaseFailed) {
		t.Fatal("id of an earlier batch should not be adopted")
	}
	if p := r.Progress(); p.Finished != 0 || p.Complete {
		t.Fatalf("progress = %+v, want untouched run", p)
	}

	if !r.Transition("c", PhaseSucceeded) || !r.Progress().Complete {
		t.Fatalf("progress = %+v, want current batch to complete", r.Progress())
	}
}
