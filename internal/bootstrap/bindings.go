package bootstrap

import (
	"context"
	"fmt"

	"svs-converter/internal/diagnostics"
	"svs-converter/internal/domain"
	"svs-converter/internal/settings"
	"svs-converter/internal/tasks"
)

// TaskView is the paged task list and wizard position shown by the view.
type TaskView struct {
	ActiveStep int                     `json:"activeStep"`
	OptionTab  int                     `json:"optionTab"`
	Page       int                     `json:"page"`
	PageCount  int                     `json:"pageCount"`
	Total      int                     `json:"total"`
	Tasks      []domain.ConversionTask `json:"tasks"`
}

// Catalog lists the formats and middlewares the view can offer.
type Catalog struct {
	InputFormats  []domain.PluginInfo `json:"inputFormats"`
	OutputFormats []domain.PluginInfo `json:"outputFormats"`
	Middlewares   []string            `json:"middlewares"`
}

// View returns the current page of tasks and wizard state.
func (a *App) View() TaskView {
	return TaskView{
		ActiveStep: int(a.tasks.ActiveStep()),
		OptionTab:  int(a.tasks.OptionTab()),
		Page:       a.tasks.CurrentPage(),
		PageCount:  a.tasks.PageCount(),
		Total:      a.tasks.Len(),
		Tasks:      a.tasks.PageTasks(),
	}
}

// Tasks returns every queued task in insertion order.
func (a *App) Tasks() []domain.ConversionTask {
	return a.tasks.Tasks()
}

// SetPage selects a task list page and returns the clamped page.
func (a *App) SetPage(page int) int {
	return a.tasks.SetPage(page)
}

// RemoveTask drops one task from the list.
func (a *App) RemoveTask(id string) {
	a.orch.RemoveTask(id)
}

// SetOutputStem renames the output of a task before dispatch.
func (a *App) SetOutputStem(id, stem string) (domain.ConversionTask, error) {
	task, ok := a.orch.SetOutputStem(id, stem)
	if !ok {
		return domain.ConversionTask{}, fmt.Errorf("task %q not found", id)
	}
	return task, nil
}

// Reset clears the task list and returns to the import step.
func (a *App) Reset() error {
	return a.orch.Reset()
}

// Next advances the wizard when the current step's prerequisites hold.
func (a *App) Next() (int, error) {
	current := a.settings.Snapshot()
	step, err := a.tasks.Advance(current.InputFormat, current.OutputFormat)
	return int(step), err
}

// Back returns to the previous wizard step.
func (a *App) Back() int {
	return int(a.tasks.Back())
}

// SetOptionTab selects the input, output or middleware options panel.
func (a *App) SetOptionTab(tab int) int {
	a.tasks.SetOptionTab(tasks.OptionTab(tab))
	return int(a.tasks.OptionTab())
}

// Start dispatches the queued tasks to the engine.
func (a *App) Start() error {
	return a.orch.Start(a.baseContext())
}

// Progress returns the current run snapshot.
func (a *App) Progress() tasks.Progress {
	return a.orch.Progress()
}

// Events returns feed events newer than sinceSeq.
func (a *App) Events(sinceSeq int64) []tasks.Event {
	return a.events.Since(sinceSeq)
}

// EngineVersion returns the engine version, empty until it answers.
func (a *App) EngineVersion() string {
	return a.orch.Version()
}

// Catalog returns the known formats and middlewares.
func (a *App) Catalog() Catalog {
	return Catalog{
		InputFormats:  a.catalog.InputFormats(),
		OutputFormats: a.catalog.OutputFormats(),
		Middlewares:   a.catalog.Middlewares(),
	}
}

// GetSettings returns the persisted preferences.
func (a *App) GetSettings() domain.Settings {
	return a.settings.Snapshot()
}

// SetInputFormat selects the input format; tasks of other formats are dropped.
func (a *App) SetInputFormat(format string) error {
	if format != "" && !a.catalog.IsInput(format) {
		return fmt.Errorf("unknown input format %q", format)
	}
	a.settings.SetInputFormat(format)
	return nil
}

// SetOutputFormat selects the output format.
func (a *App) SetOutputFormat(format string) error {
	if format != "" && !a.catalog.IsOutput(format) {
		return fmt.Errorf("unknown output format %q", format)
	}
	a.settings.SetOutputFormat(format)
	return nil
}

// SetLanguage switches the UI and schema language and returns the normalized tag.
func (a *App) SetLanguage(lang string) string {
	return a.settings.SetLanguage(lang)
}

// SetConversionMode selects direct, split or merge.
func (a *App) SetConversionMode(mode string) error {
	return a.settings.SetConversionMode(domain.ConversionMode(mode))
}

// SetMaxTrackCount stores the split track limit and returns the stored value.
func (a *App) SetMaxTrackCount(n int) int {
	return a.settings.SetMaxTrackCount(n)
}

// SetConflictPolicy selects how existing outputs are handled.
func (a *App) SetConflictPolicy(policy string) error {
	return a.settings.SetConflictPolicy(domain.ConflictPolicy(policy))
}

// SetOutputDirectory stores the output directory.
func (a *App) SetOutputDirectory(dir string) {
	a.settings.SetOutputDirectory(dir)
}

// SetRevealFileOnFinish toggles revealing produced files.
func (a *App) SetRevealFileOnFinish(reveal bool) {
	a.settings.SetRevealFileOnFinish(reveal)
}

// SetIgnoreWarnings toggles warning notices.
func (a *App) SetIgnoreWarnings(ignore bool) {
	a.settings.SetIgnoreWarnings(ignore)
}

// SetThemeMode stores the appearance preference.
func (a *App) SetThemeMode(mode string) error {
	return a.settings.SetThemeMode(domain.ThemeMode(mode))
}

// InputForm returns the input options schema and values.
func (a *App) InputForm() domain.OptionForm {
	return a.settings.InputForm()
}

// OutputForm returns the output options schema and values.
func (a *App) OutputForm() domain.OptionForm {
	return a.settings.OutputForm()
}

// MiddlewareForm returns the options schema and values of one middleware.
func (a *App) MiddlewareForm(id string) (domain.OptionForm, error) {
	form, ok := a.settings.MiddlewareForm(id)
	if !ok {
		return domain.OptionForm{}, fmt.Errorf("%w: %s%s", settings.ErrUnknownForm, settings.FormMiddlewarePrefix, id)
	}
	return form, nil
}

// StageFormData records an unsaved form edit; it is committed on Start.
func (a *App) StageFormData(formID string, data domain.Options) error {
	return a.settings.StageFormData(formID, data)
}

// SetSelectedMiddlewares chooses the middlewares applied to the next run.
func (a *App) SetSelectedMiddlewares(ids []string) error {
	for _, id := range ids {
		if !a.catalog.IsMiddleware(id) {
			return fmt.Errorf("unknown middleware %q", id)
		}
	}
	a.settings.SetSelectedMiddlewares(ids)
	return nil
}

// SelectedMiddlewares returns the chosen middlewares.
func (a *App) SelectedMiddlewares() []string {
	return a.settings.SelectedMiddlewares()
}

// GetDiagnostics returns the last diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reruns the environment checks.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	return a.runDiagnostics(a.baseContext())
}

func (a *App) runDiagnostics(ctx context.Context) domain.DiagnosticReport {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout())
	defer cancel()

	report := a.checker.Run(ctx, diagnostics.Input{
		EngineURL:     a.cfg.Engine.URL,
		EngineCommand: a.cfg.Engine.Command,
		OutputDir:     a.settings.Snapshot().OutputDirectory,
		StorageDir:    a.cfg.Storage.Dir,
	})

	a.mu.Lock()
	a.diagnostics = report
	a.mu.Unlock()
	return report
}
