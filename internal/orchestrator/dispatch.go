package orchestrator

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"svs-converter/internal/domain"
	"svs-converter/internal/logging"
	"svs-converter/internal/tasks"
)

// Start flushes staged option edits, snapshots the batch and submits it to
// the engine. The wizard moves to the run step once the engine accepts it.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.run.Busy() {
		return tasks.ErrRunInProgress
	}

	current := o.settings.Snapshot()
	switch {
	case o.tasks.Len() == 0:
		return tasks.ErrNoTasks
	case current.InputFormat == "":
		return tasks.ErrNoInputFormat
	case current.OutputFormat == "":
		return tasks.ErrNoOutputFormat
	}

	o.settings.CommitPendingForms()
	forms := o.settings.Forms()

	batch := resetForDispatch(o.tasks, o.tasks.Tasks())
	if len(batch) == 0 {
		return tasks.ErrNoTasks
	}
	ids := lo.Map(batch, func(task domain.ConversionTask, _ int) string { return task.ID })

	req := domain.BatchRequest{
		InputFormat:         current.InputFormat,
		OutputFormat:        current.OutputFormat,
		Language:            current.Language,
		Mode:                current.ConversionMode,
		MaxTrackCount:       current.MaxTrackCount,
		ConversionTasks:     batch,
		InputOptions:        forms.Input,
		OutputOptions:       forms.Output,
		SelectedMiddlewares: forms.SelectedMiddlewares,
		MiddlewareOptions:   forms.MiddlewareOptions,
		OutputDir:           current.OutputDirectory,
		ConflictPolicy:      current.ConflictPolicy,
	}

	if err := o.run.Begin(req.Mode, ids); err != nil {
		return err
	}
	if err := o.engine.StartConversion(ctx, req); err != nil {
		o.run.Reset()
		o.logger.Error("start conversion failed", logging.Error(err))
		o.notice(tasks.NoticeError, "", err.Error())
		return fmt.Errorf("start conversion: %w", err)
	}

	o.logger.Info("conversion started",
		logging.Int("tasks", len(batch)),
		logging.String("mode", string(req.Mode)),
		logging.String("input_format", req.InputFormat),
		logging.String("output_format", req.OutputFormat),
	)
	o.tasks.SetActiveStep(tasks.StepRun)
	o.publishList()
	o.publishProgress()
	return nil
}

// resetForDispatch clears the run fields of listed tasks and returns the
// fresh copies. Tasks removed since listing are left out.
func resetForDispatch(store *tasks.Store, listed []domain.ConversionTask) []domain.ConversionTask {
	return lo.FilterMap(listed, func(task domain.ConversionTask, _ int) (domain.ConversionTask, bool) {
		return store.UpdateTask(task.ID, idlePatch())
	})
}

// idlePatch clears the engine-owned fields of a previous run.
func idlePatch() domain.TaskPatch {
	return domain.ConversionTask{}.StatePatch()
}
