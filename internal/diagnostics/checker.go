package diagnostics

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/samber/lo"

	"svs-converter/internal/domain"
)

// VersionProber answers the engine version probe.
type VersionProber interface {
	Version(ctx context.Context) (string, error)
}

// Input names what the checks inspect.
type Input struct {
	EngineURL     string
	EngineCommand string
	OutputDir     string
	StorageDir    string
}

// Checker validates the engine, its launcher and required directories.
type Checker struct {
	engine     VersionProber
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker(engine VersionProber) *Checker {
	return &Checker{
		engine:     engine,
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, in Input) domain.DiagnosticReport {
	engineItem, version := c.checkEngine(ctx, in.EngineURL)
	items := []domain.DiagnosticItem{
		engineItem,
		c.checkSidecar(in.EngineCommand),
		c.checkWritable("output_dir", "Output directory", in.OutputDir,
			"Choose a writable directory for converted project files."),
		c.checkWritable("storage_dir", "Settings directory", in.StorageDir,
			"Settings cannot be saved until this directory is writable."),
	}

	return domain.DiagnosticReport{
		GeneratedAt:   time.Now().UTC(),
		HasFailures:   lo.ContainsBy(items, func(item domain.DiagnosticItem) bool { return item.Status == domain.DiagnosticStatusFail }),
		EngineVersion: version,
		Items:         items,
	}
}

// checkEngine probes the engine once.
func (c *Checker) checkEngine(ctx context.Context, url string) (domain.DiagnosticItem, string) {
	item := domain.DiagnosticItem{
		ID:   "engine",
		Name: "Conversion engine",
	}
	if c.engine == nil {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "No engine client configured."
		return item, ""
	}

	version, err := c.engine.Version(ctx)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Engine not reachable at %s: %v", url, err)
		item.Hint = "Start the conversion engine or check engine.url in config.toml."
		return item, ""
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Engine %s is running", version)
	return item, version
}

// checkSidecar verifies the configured engine executable is on PATH.
func (c *Checker) checkSidecar(command string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "engine_command",
		Name: "Engine executable",
	}
	if strings.TrimSpace(command) == "" {
		item.Status = domain.DiagnosticStatusSkip
		item.Message = "Engine launching is disabled."
		return item
	}

	path, err := c.lookPath(command)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Executable not found: %s", command)
		item.Hint = "Install the engine and ensure it is on PATH, or set engine.command to its full path."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkWritable validates directory existence and write access.
func (c *Checker) checkWritable(id, name, dir, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = hint
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = hint
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = hint
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}
