// Package intake turns picked or dropped file paths into conversion tasks.
package intake

import (
	"io/fs"
	"os"
	"path"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"svs-converter/internal/catalog"
	"svs-converter/internal/domain"
)

// Resolver maps file paths to tasks using the plugin catalog.
type Resolver struct {
	catalog *catalog.Catalog
	stat    func(string) (fs.FileInfo, error)
	newID   func() string
	windows bool
}

// NewResolver creates a resolver for the running platform.
func NewResolver(plugins *catalog.Catalog) *Resolver {
	return &Resolver{
		catalog: plugins,
		stat:    os.Stat,
		newID:   uuid.NewString,
		windows: runtime.GOOS == "windows",
	}
}

// FromPicker resolves paths returned by the file dialog. currentFormat is
// used for files whose extension is not a known input plugin; when it is
// empty such files are dropped.
func (r *Resolver) FromPicker(paths []string, currentFormat string) []domain.ConversionTask {
	out := make([]domain.ConversionTask, 0, len(paths))
	for _, p := range paths {
		if task, ok := r.resolve(p, currentFormat); ok {
			out = append(out, task)
		}
	}
	return out
}

// FromDrop resolves paths from a drag-and-drop event. Directories and
// paths that cannot be inspected are skipped.
func (r *Resolver) FromDrop(paths []string, currentFormat string) []domain.ConversionTask {
	out := make([]domain.ConversionTask, 0, len(paths))
	for _, p := range paths {
		info, err := r.stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		if task, ok := r.resolve(p, currentFormat); ok {
			out = append(out, task)
		}
	}
	return out
}

func (r *Resolver) resolve(filePath, currentFormat string) (domain.ConversionTask, bool) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return domain.ConversionTask{}, false
	}
	if r.windows {
		filePath = strings.ReplaceAll(filePath, `\`, "/")
	}

	name, stem, ext := splitName(filePath)
	format := currentFormat
	if ext != "" && r.catalog.IsInput(ext) {
		format = ext
	}
	if format == "" {
		return domain.ConversionTask{}, false
	}

	return domain.ConversionTask{
		ID:          r.newID(),
		InputPath:   filePath,
		BaseName:    name,
		OutputStem:  stem,
		InputFormat: format,
	}, true
}

// splitName returns the file name, the name without extension and the
// lowercased extension without its dot.
func splitName(filePath string) (name, stem, ext string) {
	name = path.Base(filePath)
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return name, name, ""
	}
	return name, name[:dot], strings.ToLower(name[dot+1:])
}
