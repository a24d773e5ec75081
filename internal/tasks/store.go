package tasks

import (
	"errors"
	"sync"

	"github.com/samber/lo"

	"svs-converter/internal/domain"
)

// PageSize is the fixed number of tasks shown per list page.
const PageSize = 5

// Step is the active wizard step.
type Step int

const (
	StepImport Step = iota
	StepExportConfig
	StepOptions
	StepRun
)

// OptionTab selects the options panel shown on StepOptions.
type OptionTab int

const (
	OptionTabInput OptionTab = iota
	OptionTabOutput
	OptionTabMiddleware
)

var (
	// ErrNoTasks is returned when advancing past import with an empty list.
	ErrNoTasks = errors.New("no conversion tasks")
	// ErrNoInputFormat is returned when advancing past import without an input format.
	ErrNoInputFormat = errors.New("input format not selected")
	// ErrNoOutputFormat is returned when advancing past export config without an output format.
	ErrNoOutputFormat = errors.New("output format not selected")
	// ErrStartRequired is returned when advancing from the options step; only
	// starting a run leaves it.
	ErrStartRequired = errors.New("start a conversion to continue")
)

// Store owns the ordered task list and the wizard/page state.
type Store struct {
	mu         sync.RWMutex
	tasks      []domain.ConversionTask
	activeStep Step
	optionTab  OptionTab
	page       int
}

// NewStore creates an empty store on the import step.
func NewStore() *Store {
	return &Store{page: 1}
}

// AddTasks appends tasks in arrival order. Duplicate paths are kept as
// distinct entries. Any non-empty addition returns the wizard to import.
func (s *Store) AddTasks(tasks ...domain.ConversionTask) {
	if len(tasks) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, tasks...)
	s.activeStep = StepImport
}

// RemoveTask deletes the task with the given id and returns the input format
// of the task that is now last. ok is false when the list is empty.
func (s *Store) RemoveTask(id string) (format string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.tasks)
	s.tasks = lo.Filter(s.tasks, func(task domain.ConversionTask, _ int) bool {
		return task.ID != id
	})
	if len(s.tasks) == 0 {
		if before > 0 {
			s.activeStep = StepImport
		}
		s.clampPageLocked()
		return "", false
	}
	s.clampPageLocked()
	return s.tasks[len(s.tasks)-1].InputFormat, true
}

// UpdateTask merges patch into the task with the given id. It reports whether
// a task was found; a missing id is not an error.
func (s *Store) UpdateTask(id string, patch domain.TaskPatch) (domain.ConversionTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, idx, found := lo.FindIndexOf(s.tasks, func(task domain.ConversionTask) bool {
		return task.ID == id
	})
	if !found {
		return domain.ConversionTask{}, false
	}
	s.tasks[idx] = patch.Apply(s.tasks[idx])
	return s.tasks[idx], true
}

// FilterByInputFormat keeps only tasks with the given input format and
// resets the wizard to import.
func (s *Store) FilterByInputFormat(format string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = lo.Filter(s.tasks, func(task domain.ConversionTask, _ int) bool {
		return task.InputFormat == format
	})
	s.activeStep = StepImport
	s.clampPageLocked()
}

// Clear empties the list and resets the wizard to import.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = nil
	s.activeStep = StepImport
	s.page = 1
}

// Get returns the task with the given id.
func (s *Store) Get(id string) (domain.ConversionTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Find(s.tasks, func(task domain.ConversionTask) bool {
		return task.ID == id
	})
}

// Tasks returns a snapshot of the list in order.
func (s *Store) Tasks() []domain.ConversionTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ConversionTask(nil), s.tasks...)
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// PageCount returns ceil(len/PageSize).
func (s *Store) PageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return pageCount(len(s.tasks))
}

// SetPage selects a 1-based page, clamped to the valid range.
func (s *Store) SetPage(page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = page
	s.clampPageLocked()
	return s.page
}

// CurrentPage returns the selected 1-based page.
func (s *Store) CurrentPage() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// PageTasks returns the tasks shown on the selected page.
func (s *Store) PageTasks() []domain.ConversionTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := lo.Chunk(s.tasks, PageSize)
	if len(chunks) == 0 {
		return nil
	}
	return append([]domain.ConversionTask(nil), chunks[s.page-1]...)
}

// ActiveStep returns the current wizard step.
func (s *Store) ActiveStep() Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeStep
}

// SetActiveStep jumps to a step, clamped to the wizard range.
func (s *Store) SetActiveStep(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeStep = clampStep(step)
}

// Advance moves to the next step when its prerequisites hold.
func (s *Store) Advance(inputFormat, outputFormat string) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.activeStep {
	case StepImport:
		if len(s.tasks) == 0 {
			return s.activeStep, ErrNoTasks
		}
		if inputFormat == "" {
			return s.activeStep, ErrNoInputFormat
		}
	case StepExportConfig:
		if outputFormat == "" {
			return s.activeStep, ErrNoOutputFormat
		}
	default:
		return s.activeStep, ErrStartRequired
	}
	s.activeStep++
	return s.activeStep, nil
}

// Back moves one step back, stopping at import.
func (s *Store) Back() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeStep = clampStep(s.activeStep - 1)
	return s.activeStep
}

// OptionTab returns the selected options panel.
func (s *Store) OptionTab() OptionTab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.optionTab
}

// SetOptionTab selects an options panel, clamped to the known tabs.
func (s *Store) SetOptionTab(tab OptionTab) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case tab < OptionTabInput:
		tab = OptionTabInput
	case tab > OptionTabMiddleware:
		tab = OptionTabMiddleware
	}
	s.optionTab = tab
}

func (s *Store) clampPageLocked() {
	last := max(pageCount(len(s.tasks)), 1)
	switch {
	case s.page < 1:
		s.page = 1
	case s.page > last:
		s.page = last
	}
}

func pageCount(n int) int {
	return (n + PageSize - 1) / PageSize
}

func clampStep(step Step) Step {
	switch {
	case step < StepImport:
		return StepImport
	case step > StepRun:
		return StepRun
	default:
		return step
	}
}
