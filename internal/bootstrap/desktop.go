package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/samber/lo"

	"svs-converter/internal/domain"
	"svs-converter/internal/tasks"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// hostBridge exposes desktop services to the orchestrator without binding
// them to the view.
type hostBridge struct {
	app *App
}

// Publish forwards a feed event to history and the view.
func (b *hostBridge) Publish(event tasks.Event) tasks.Event {
	return b.app.publishEvent(event)
}

// ConfirmOverwrite asks whether an existing output may be replaced.
func (b *hostBridge) ConfirmOverwrite(ctx context.Context, outputPath string) (bool, error) {
	runtimeCtx, err := b.app.runtimeContext()
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	message := "The output file already exists. Overwrite it?"
	if outputPath != "" {
		message = fmt.Sprintf("%s already exists. Overwrite it?", outputPath)
	}
	answer, err := wailsruntime.MessageDialog(runtimeCtx, wailsruntime.MessageDialogOptions{
		Type:          wailsruntime.QuestionDialog,
		Title:         "File already exists",
		Message:       message,
		Buttons:       []string{overwriteButton, skipButton},
		DefaultButton: skipButton,
		CancelButton:  skipButton,
	})
	if err != nil {
		return false, fmt.Errorf("overwrite prompt: %w", err)
	}
	return acceptsOverwrite(answer), nil
}

// Reveal selects path in the platform file manager.
func (b *hostBridge) Reveal(path string) error {
	name, args := revealCommand(goruntime.GOOS, path)
	return b.app.launch(name, args...)
}

const (
	overwriteButton = "Overwrite"
	skipButton      = "Skip"
)

// acceptsOverwrite maps dialog answers across platforms. Windows and Linux
// report Yes/No for question dialogs and ignore custom buttons.
func acceptsOverwrite(answer string) bool {
	switch strings.TrimSpace(answer) {
	case overwriteButton, "Yes", "Ok", "OK":
		return true
	default:
		return false
	}
}

// inputDialogFilters lists one pattern per input format plus a catch-all.
func inputDialogFilters(formats []domain.PluginInfo) []wailsruntime.FileFilter {
	patterns := lo.FilterMap(formats, func(info domain.PluginInfo, _ int) (string, bool) {
		suffix := strings.TrimPrefix(strings.TrimSpace(info.Suffix), ".")
		return "*." + suffix, suffix != ""
	})
	filters := make([]wailsruntime.FileFilter, 0, 2)
	if len(patterns) > 0 {
		filters = append(filters, wailsruntime.FileFilter{
			DisplayName: "Project files",
			Pattern:     strings.Join(lo.Uniq(patterns), ";"),
		})
	}
	return append(filters, wailsruntime.FileFilter{
		DisplayName: "All files",
		Pattern:     "*",
	})
}

// AddFiles opens a native multi-file picker and queues the selection.
func (a *App) AddFiles() (int, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return 0, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select project files",
		Filters: inputDialogFilters(a.catalog.InputFormats()),
	})
	if err != nil {
		return 0, err
	}
	return a.orch.AddPaths(paths, false), nil
}

// PickOutputDirectory opens a native directory picker and stores the choice.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:            "Select output directory",
		DefaultDirectory: a.settings.Snapshot().OutputDirectory,
	})
	if err != nil {
		return "", err
	}

	path = strings.TrimSpace(path)
	if path != "" {
		a.settings.SetOutputDirectory(path)
	}
	return path, nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.settings.Snapshot().OutputDirectory
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	name, args := fileManagerCommand(goruntime.GOOS, openPath)
	return a.launch(name, args...)
}

// CopyText places an error or warning message on the clipboard.
func (a *App) CopyText(text string) error {
	ctx, err := a.runtimeContext()
	if err != nil {
		return err
	}
	return wailsruntime.ClipboardSetText(ctx, text)
}

// MinimiseWindow minimises the frameless window.
func (a *App) MinimiseWindow() {
	if ctx, err := a.runtimeContext(); err == nil {
		wailsruntime.WindowMinimise(ctx)
	}
}

// ToggleMaximiseWindow switches between maximised and restored size.
func (a *App) ToggleMaximiseWindow() {
	if ctx, err := a.runtimeContext(); err == nil {
		wailsruntime.WindowToggleMaximise(ctx)
	}
}

// CloseWindow quits the application; Shutdown stops the engine.
func (a *App) CloseWindow() {
	if ctx, err := a.runtimeContext(); err == nil {
		wailsruntime.Quit(ctx)
	}
}

// fileManagerCommand builds the command that opens dir in the file explorer.
func fileManagerCommand(goos, dir string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{dir}
	case "windows":
		return "explorer", []string{filepath.Clean(dir)}
	default:
		return "xdg-open", []string{dir}
	}
}

// revealCommand builds the command that highlights path in the file explorer.
// xdg-open cannot select a file, so Linux opens the containing directory.
func revealCommand(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{"-R", path}
	case "windows":
		return "explorer", []string{"/select," + filepath.Clean(path)}
	default:
		return "xdg-open", []string{filepath.Dir(path)}
	}
}

// startDetached launches a helper without waiting for it.
func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
