package tasks

import (
	"errors"
	"sync"

	"svs-converter/internal/domain"
)

// ErrRunInProgress is returned when starting a batch while another one has
// unresolved tasks.
var ErrRunInProgress = errors.New("conversion run already in progress")

// RunState is the lifecycle of one batch.
type RunState string

const (
	RunStateIdle       RunState = "idle"
	RunStateDispatched RunState = "dispatched"
	RunStateFinished   RunState = "finished"
)

// Phase tracks one task inside a dispatched batch.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseRunning   Phase = "running"
	PhaseMoving    Phase = "moving"
	PhaseConflict  Phase = "conflict"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseSkipped   Phase = "skipped"
)

// Terminal reports whether the phase counts toward the finished count.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseSkipped:
		return true
	default:
		return false
	}
}

// Progress is a snapshot of the current run.
type Progress struct {
	State    RunState              `json:"state"`
	Mode     domain.ConversionMode `json:"mode,omitempty"`
	Finished int                   `json:"finished"`
	Expected int                   `json:"expected"`
	Complete bool                  `json:"complete"`
}

// Run counts finished tasks of the current batch and guards against
// overlapping batches.
type Run struct {
	mu       sync.RWMutex
	state    RunState
	mode     domain.ConversionMode
	expected int
	finished int
	phases   map[string]Phase
	// adopted is the merge output id taken from outside the batch.
	adopted string
	// retired holds ids of earlier batches so late events never count again.
	retired map[string]struct{}
}

// NewRun creates a tracker in idle state.
func NewRun() *Run {
	return &Run{state: RunStateIdle, phases: map[string]Phase{}, retired: map[string]struct{}{}}
}

// ExpectedTotal returns how many terminal events complete a batch: a merge
// produces a single output regardless of the number of inputs.
func ExpectedTotal(mode domain.ConversionMode, taskCount int) int {
	if mode == domain.ConversionModeMerge && taskCount > 0 {
		return 1
	}
	return taskCount
}

// Begin registers a new batch and resets the finished count.
func (r *Run) Begin(mode domain.ConversionMode, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == RunStateDispatched {
		return ErrRunInProgress
	}

	r.retireLocked()
	r.state = RunStateDispatched
	r.mode = mode
	r.expected = ExpectedTotal(mode, len(ids))
	r.finished = 0
	r.phases = make(map[string]Phase, len(ids))
	for _, id := range ids {
		r.phases[id] = PhaseQueued
	}
	if r.expected == 0 {
		r.state = RunStateFinished
	}
	return nil
}

// Reset clears run metadata and returns the tracker to idle.
func (r *Run) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retireLocked()
	r.state = RunStateIdle
	r.mode = ""
	r.expected = 0
	r.finished = 0
	r.phases = map[string]Phase{}
}

func (r *Run) retireLocked() {
	if r.retired == nil {
		r.retired = map[string]struct{}{}
	}
	for id := range r.phases {
		r.retired[id] = struct{}{}
	}
	r.adopted = ""
}

// Transition moves a task to phase when the edge is allowed. It reports
// whether the phase changed; unknown ids, repeated phases, edges out of a
// terminal phase and anything after the batch finished are ignored so
// re-delivered events are harmless. A merge batch may report its single
// output under an id outside the batch; the first such id is adopted.
func (r *Run) Transition(id string, to Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != RunStateDispatched {
		return false
	}
	from, ok := r.phases[id]
	adopt := !ok && r.canAdoptLocked(id)
	if adopt {
		from, ok = PhaseQueued, true
	}
	if !ok || from == to || !isValidTransition(from, to) {
		return false
	}

	if adopt {
		r.adopted = id
	}
	r.phases[id] = to
	if to.Terminal() {
		r.finished++
		if r.finished >= r.expected {
			r.state = RunStateFinished
		}
	}
	return true
}

func (r *Run) canAdoptLocked(id string) bool {
	if r.mode != domain.ConversionModeMerge || r.adopted != "" || id == "" {
		return false
	}
	_, stale := r.retired[id]
	return !stale
}

// Phase returns the tracked phase of a task.
func (r *Run) Phase(id string) (Phase, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	phase, ok := r.phases[id]
	return phase, ok
}

// Progress returns a snapshot of the current run.
func (r *Run) Progress() Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Progress{
		State:    r.state,
		Mode:     r.mode,
		Finished: r.finished,
		Expected: r.expected,
		Complete: r.state == RunStateFinished,
	}
}

// Busy reports whether a dispatched batch still has unresolved tasks.
func (r *Run) Busy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == RunStateDispatched
}

// isValidTransition enforces the allowed task phase edges.
func isValidTransition(from, to Phase) bool {
	switch from {
	case PhaseQueued:
		return to == PhaseRunning || to == PhaseMoving || to == PhaseConflict || to.Terminal()
	case PhaseRunning:
		return to == PhaseMoving || to == PhaseConflict || to.Terminal()
	case PhaseMoving:
		return to == PhaseConflict || to.Terminal()
	case PhaseConflict:
		return to == PhaseMoving || to.Terminal()
	default:
		return false
	}
}
