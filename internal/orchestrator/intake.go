package orchestrator

import (
	"svs-converter/internal/domain"
	"svs-converter/internal/tasks"
)

// AddPaths resolves picked (or, with dropped set, drag-and-dropped) paths
// into tasks, appends them and selects the input format of the last one.
// It returns the number of tasks added.
func (o *Orchestrator) AddPaths(paths []string, dropped bool) int {
	current := o.settings.Snapshot().InputFormat

	var added []domain.ConversionTask
	if dropped {
		added = o.resolver.FromDrop(paths, current)
	} else {
		added = o.resolver.FromPicker(paths, current)
	}
	if len(added) == 0 {
		return 0
	}

	o.tasks.AddTasks(added...)
	o.publishList()
	o.settings.SetInputFormat(added[len(added)-1].InputFormat)
	return len(added)
}

// RemoveTask deletes one task and keeps the input format consistent with
// the tasks that remain.
func (o *Orchestrator) RemoveTask(id string) {
	format, ok := o.tasks.RemoveTask(id)
	o.publishList()
	if ok {
		o.settings.SetInputFormat(format)
	}
}

// SetOutputStem edits the output file name of a task before dispatch.
func (o *Orchestrator) SetOutputStem(id, stem string) (domain.ConversionTask, bool) {
	task, ok := o.tasks.UpdateTask(id, domain.TaskPatch{OutputStem: &stem})
	if ok {
		o.publishTask(task)
	}
	return task, ok
}

// Reset clears every task and returns the wizard and run to idle. It is
// refused while a dispatched batch still has unresolved tasks.
func (o *Orchestrator) Reset() error {
	if o.run.Busy() {
		return tasks.ErrRunInProgress
	}
	o.tasks.Clear()
	o.run.Reset()
	o.publishList()
	o.publishProgress()
	return nil
}

func (o *Orchestrator) publishList() {
	o.sink.Publish(tasks.Event{Type: tasks.EventTypeList})
}

func (o *Orchestrator) publishTask(task domain.ConversionTask) {
	o.sink.Publish(tasks.Event{Type: tasks.EventTypeTask, TaskID: task.ID, Task: &task})
}

func (o *Orchestrator) publishProgress() {
	progress := o.run.Progress()
	o.sink.Publish(tasks.Event{Type: tasks.EventTypeRun, Progress: &progress})
}

func (o *Orchestrator) notice(level tasks.NoticeLevel, taskID, message string) {
	o.sink.Publish(tasks.Event{Type: tasks.EventTypeNotice, Level: level, TaskID: taskID, Message: message})
}
