package orchestrator

import (
	"context"
	"fmt"

	"svs-converter/internal/domain"
	"svs-converter/internal/engine"
	"svs-converter/internal/logging"
	"svs-converter/internal/tasks"
)

// SkippedWarning is attached to tasks whose output was left untouched
// because the destination already existed.
const SkippedWarning = "output file already exists, conversion result was not written"

// Handle applies one pushed engine event. Events are applied in the order
// they are handled; re-delivered events overwrite the same fields and do
// not count twice.
func (o *Orchestrator) Handle(ctx context.Context, msg engine.Message) {
	switch msg.Kind {
	case engine.KindTaskProgress:
		o.onProgress(ctx, msg.Task)
	case engine.KindMoveResult:
		o.onMoveResult(msg.Task)
	case engine.KindMoveCallback:
		o.onMoveCallback(ctx, msg.Callback)
	default:
		o.logger.Warn("unhandled engine message", logging.String(logging.FieldEventType, string(msg.Kind)))
	}
}

func (o *Orchestrator) onProgress(ctx context.Context, update domain.ConversionTask) {
	o.applyUpdate(update)

	if update.Running {
		o.run.Transition(update.ID, tasks.PhaseRunning)
		return
	}
	if update.Success == domain.OutcomeFailed {
		if o.run.Transition(update.ID, tasks.PhaseFailed) {
			o.notice(tasks.NoticeError, update.ID, failureMessage(update))
			o.afterTerminal()
		}
		return
	}
	if !o.run.Transition(update.ID, tasks.PhaseMoving) {
		return
	}
	o.async(func() {
		o.requestMove(ctx, update.ID, false)
	})
}

func (o *Orchestrator) onMoveResult(update domain.ConversionTask) {
	o.applyUpdate(update)

	phase := tasks.PhaseSucceeded
	if update.Success == domain.OutcomeFailed {
		phase = tasks.PhaseFailed
	}
	if !o.run.Transition(update.ID, phase) {
		return
	}

	if phase == tasks.PhaseFailed {
		o.notice(tasks.NoticeError, update.ID, failureMessage(update))
	} else if update.OutputPath != "" && o.settings.Snapshot().RevealFileOnFinish && o.revealer != nil {
		if err := o.revealer.Reveal(update.OutputPath); err != nil {
			o.logger.Warn("reveal output failed",
				logging.TaskID(update.ID),
				logging.String("path", update.OutputPath),
				logging.Error(err),
			)
		}
	}
	o.afterTerminal()
}

func (o *Orchestrator) onMoveCallback(ctx context.Context, cb domain.MoveCallback) {
	if cb.ConflictPolicy == domain.ConflictPolicySkip {
		o.markSkipped(cb.ID)
		return
	}
	if !o.run.Transition(cb.ID, tasks.PhaseConflict) {
		return
	}

	o.async(func() {
		overwrite := false
		if o.prompter != nil {
			var err error
			overwrite, err = o.prompter.ConfirmOverwrite(ctx, cb.OutputPath)
			if err != nil {
				o.logger.Warn("overwrite prompt failed", logging.TaskID(cb.ID), logging.Error(err))
				overwrite = false
			}
		}
		if !overwrite {
			o.markSkipped(cb.ID)
			return
		}
		if o.run.Transition(cb.ID, tasks.PhaseMoving) {
			o.requestMove(ctx, cb.ID, true)
		}
	})
}

// requestMove asks the engine to move a finished output. A failed request
// resolves the task as failed so the run can still complete.
func (o *Orchestrator) requestMove(ctx context.Context, id string, force bool) {
	err := o.engine.MoveFile(ctx, domain.MoveFileParams{ID: id, ForceOverwrite: force})
	if err == nil {
		return
	}

	o.logger.Warn("move file failed", logging.TaskID(id), logging.Bool("force", force), logging.Error(err))
	running := false
	failed := domain.OutcomeFailed
	message := fmt.Sprintf("move output: %v", err)
	if task, ok := o.tasks.UpdateTask(id, domain.TaskPatch{Running: &running, Success: &failed, Error: &message}); ok {
		o.publishTask(task)
	}
	if o.run.Transition(id, tasks.PhaseFailed) {
		o.notice(tasks.NoticeError, id, message)
		o.afterTerminal()
	}
}

func (o *Orchestrator) markSkipped(id string) {
	running := false
	succeeded := domain.OutcomeSucceeded
	warning := SkippedWarning
	if task, ok := o.tasks.UpdateTask(id, domain.TaskPatch{Running: &running, Success: &succeeded, Warning: &warning}); ok {
		o.publishTask(task)
	}
	if !o.run.Transition(id, tasks.PhaseSkipped) {
		return
	}
	if !o.settings.Snapshot().IgnoreWarnings {
		o.notice(tasks.NoticeWarning, id, warning)
	}
	o.afterTerminal()
}

func (o *Orchestrator) applyUpdate(update domain.ConversionTask) {
	if task, ok := o.tasks.UpdateTask(update.ID, update.StatePatch()); ok {
		o.publishTask(task)
	}
}

func (o *Orchestrator) afterTerminal() {
	o.publishProgress()
	progress := o.run.Progress()
	if progress.Complete {
		o.logger.Info("conversion run complete", logging.Int("finished", progress.Finished))
		o.notice(tasks.NoticeSuccess, "", "conversion finished")
	}
}

func failureMessage(task domain.ConversionTask) string {
	if task.Error != "" {
		return task.Error
	}
	return "conversion failed"
}
