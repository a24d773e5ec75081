// Package settings holds the user's conversion parameters, the option
// schemas fetched for the selected plugins and the live option form values.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"

	"svs-converter/internal/bus"
	"svs-converter/internal/config"
	"svs-converter/internal/domain"
	"svs-converter/internal/logging"
)

// Form identifiers accepted by StageFormData.
const (
	FormInput            = "input"
	FormOutput           = "output"
	FormMiddlewarePrefix = "middleware:"
)

var (
	ErrInvalidMode   = errors.New("invalid conversion mode")
	ErrInvalidPolicy = errors.New("invalid conflict policy")
	ErrInvalidTheme  = errors.New("invalid theme mode")
	ErrUnknownForm   = errors.New("unknown option form")
)

// SchemaFetcher loads option schemas from the engine.
type SchemaFetcher interface {
	OptionSchema(ctx context.Context, option domain.PluginOption) (domain.SchemaConfig, error)
}

// Forms is a snapshot of every option payload a batch request carries.
type Forms struct {
	Input               domain.Options
	Output              domain.Options
	SelectedMiddlewares []string
	MiddlewareOptions   map[string]domain.Options
}

// Store owns settings and option form state. Setters persist the settings
// blob; persistence failures are logged and the in-memory value is kept.
type Store struct {
	mu      sync.RWMutex
	persist config.Store
	schemas SchemaFetcher
	topics  *bus.Bus
	logger  *slog.Logger

	settings    domain.Settings
	inputForm   domain.OptionForm
	outputForm  domain.OptionForm
	middlewares []string
	middleForms map[string]domain.OptionForm
	pending     map[string]domain.Options
}

// New restores persisted settings and returns a ready store.
func New(persist config.Store, schemas SchemaFetcher, topics *bus.Bus, logger *slog.Logger) (*Store, error) {
	loaded, err := persist.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	loaded.Language = NormalizeLanguage(loaded.Language)
	if loaded.MaxTrackCount < 1 {
		loaded.MaxTrackCount = 1
	}

	return &Store{
		persist:     persist,
		schemas:     schemas,
		topics:      topics,
		logger:      logging.NewComponentLogger(logger, "settings"),
		settings:    loaded,
		inputForm:   emptyForm(),
		outputForm:  emptyForm(),
		middleForms: map[string]domain.OptionForm{},
		pending:     map[string]domain.Options{},
	}, nil
}

// Snapshot returns the current settings.
func (s *Store) Snapshot() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetInputFormat selects the input format and reports whether it changed.
// Subscribers of TopicInputFormatChanged run only on an actual change.
func (s *Store) SetInputFormat(format string) bool {
	old, changed := s.update(func(st *domain.Settings) string {
		old := st.InputFormat
		st.InputFormat = format
		return old
	})
	if changed {
		s.topics.Publish(bus.TopicInputFormatChanged, old, format)
	}
	return changed
}

// SetOutputFormat selects the output format.
func (s *Store) SetOutputFormat(format string) {
	old, changed := s.update(func(st *domain.Settings) string {
		old := st.OutputFormat
		st.OutputFormat = format
		return old
	})
	if changed {
		s.topics.Publish(bus.TopicOutputFormatChanged, old, format)
	}
}

// SetLanguage stores the normalized UI language and returns it.
func (s *Store) SetLanguage(lang string) string {
	lang = NormalizeLanguage(lang)
	old, changed := s.update(func(st *domain.Settings) string {
		old := st.Language
		st.Language = lang
		return old
	})
	if changed {
		s.topics.Publish(bus.TopicLanguageChanged, old, lang)
	}
	return lang
}

// SetConversionMode selects direct, split or merge.
func (s *Store) SetConversionMode(mode domain.ConversionMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	s.update(func(st *domain.Settings) string {
		st.ConversionMode = mode
		return ""
	})
	return nil
}

// SetMaxTrackCount stores the split-mode track limit, raised to at least 1.
func (s *Store) SetMaxTrackCount(n int) int {
	n = max(n, 1)
	s.update(func(st *domain.Settings) string {
		st.MaxTrackCount = n
		return ""
	})
	return n
}

// SetConflictPolicy selects how existing output files are handled.
func (s *Store) SetConflictPolicy(policy domain.ConflictPolicy) error {
	if !policy.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}
	s.update(func(st *domain.Settings) string {
		st.ConflictPolicy = policy
		return ""
	})
	return nil
}

// SetOutputDirectory stores the destination directory.
func (s *Store) SetOutputDirectory(dir string) {
	dir = strings.TrimSpace(dir)
	s.update(func(st *domain.Settings) string {
		st.OutputDirectory = dir
		return ""
	})
}

// SetRevealFileOnFinish toggles revealing produced files.
func (s *Store) SetRevealFileOnFinish(reveal bool) {
	s.update(func(st *domain.Settings) string {
		st.RevealFileOnFinish = reveal
		return ""
	})
}

// SetIgnoreWarnings toggles suppressing warning notices.
func (s *Store) SetIgnoreWarnings(ignore bool) {
	s.update(func(st *domain.Settings) string {
		st.IgnoreWarnings = ignore
		return ""
	})
}

// SetThemeMode stores the appearance preference.
func (s *Store) SetThemeMode(mode domain.ThemeMode) error {
	switch mode {
	case domain.ThemeModeLight, domain.ThemeModeDark, domain.ThemeModeSystem:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTheme, mode)
	}
	s.update(func(st *domain.Settings) string {
		st.ThemeMode = mode
		return ""
	})
	return nil
}

// update applies fn under lock, persists when the settings changed, and
// returns fn's result with the change flag.
func (s *Store) update(fn func(*domain.Settings) string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.settings
	result := fn(&s.settings)
	if s.settings == before {
		return result, false
	}
	if err := s.persist.Save(s.settings); err != nil {
		s.logger.Warn("persist settings failed", logging.Error(err))
	}
	return result, true
}

// LoadInputFormatSchema fetches the load schema of format and replaces the
// cached input form. On failure the previous form is kept.
func (s *Store) LoadInputFormatSchema(ctx context.Context, format, lang string) error {
	form, err := s.fetchForm(ctx, format, domain.SchemaCategoryLoad, lang)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.InputFormat != format {
		return nil
	}
	s.inputForm = form
	delete(s.pending, FormInput)
	return nil
}

// LoadOutputFormatSchema fetches the dump schema of format and replaces the
// cached output form. On failure the previous form is kept.
func (s *Store) LoadOutputFormatSchema(ctx context.Context, format, lang string) error {
	form, err := s.fetchForm(ctx, format, domain.SchemaCategoryDump, lang)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings.OutputFormat != format {
		return nil
	}
	s.outputForm = form
	delete(s.pending, FormOutput)
	return nil
}

// LoadMiddlewareSchema fetches the process schema of a middleware.
func (s *Store) LoadMiddlewareSchema(ctx context.Context, id, lang string) error {
	form, err := s.fetchForm(ctx, id, domain.SchemaCategoryProcess, lang)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleForms[id] = form
	delete(s.pending, FormMiddlewarePrefix+id)
	return nil
}

func (s *Store) fetchForm(ctx context.Context, id string, category domain.SchemaCategory, lang string) (domain.OptionForm, error) {
	if id == "" {
		return domain.OptionForm{}, fmt.Errorf("load %s schema: empty identifier", category)
	}
	schema, err := s.schemas.OptionSchema(ctx, domain.PluginOption{
		Identifier: id,
		Category:   category,
		Language:   lang,
	})
	if err != nil {
		s.logger.Warn("option schema fetch failed",
			logging.String("plugin", id),
			logging.String("category", string(category)),
			logging.Error(err),
		)
		return domain.OptionForm{}, fmt.Errorf("load %s schema for %s: %w", category, id, err)
	}
	return domain.OptionForm{
		Schema:   domain.CloneOptions(schema.JSONSchema),
		UISchema: domain.CloneOptions(schema.UISchema),
		FormData: domain.CloneOptions(schema.DefaultValue),
	}, nil
}

// InputForm returns the cached input schema and values.
func (s *Store) InputForm() domain.OptionForm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneForm(s.inputForm)
}

// OutputForm returns the cached output schema and values.
func (s *Store) OutputForm() domain.OptionForm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneForm(s.outputForm)
}

// MiddlewareForm returns the cached schema and values of one middleware.
func (s *Store) MiddlewareForm(id string) (domain.OptionForm, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	form, ok := s.middleForms[id]
	if !ok {
		return domain.OptionForm{}, false
	}
	return cloneForm(form), true
}

// SetInputFormatFormData replaces the committed input option values.
func (s *Store) SetInputFormatFormData(data domain.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputForm.FormData = domain.CloneOptions(data)
}

// SetOutputFormatFormData replaces the committed output option values.
func (s *Store) SetOutputFormatFormData(data domain.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputForm.FormData = domain.CloneOptions(data)
}

// SetMiddlewareFormData replaces the committed values of one middleware.
func (s *Store) SetMiddlewareFormData(id string, data domain.Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	form, ok := s.middleForms[id]
	if !ok {
		form = emptyForm()
	}
	form.FormData = domain.CloneOptions(data)
	s.middleForms[id] = form
}

// SetSelectedMiddlewares stores the enabled middleware ids in order,
// dropping duplicates and blanks.
func (s *Store) SetSelectedMiddlewares(ids []string) {
	ids = lo.Uniq(lo.Compact(ids))
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = ids
}

// SelectedMiddlewares returns the enabled middleware ids.
func (s *Store) SelectedMiddlewares() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.middlewares...)
}

// StageFormData records uncommitted edits of an options form. Staged data is
// applied by CommitPendingForms.
func (s *Store) StageFormData(formID string, data domain.Options) error {
	if !validFormID(formID) {
		return fmt.Errorf("%w: %q", ErrUnknownForm, formID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[formID] = domain.CloneOptions(data)
	return nil
}

// CommitPendingForms moves staged edits into the committed form values and
// reports how many forms were flushed.
func (s *Store) CommitPendingForms() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	flushed := len(s.pending)
	for formID, data := range s.pending {
		switch {
		case formID == FormInput:
			s.inputForm.FormData = data
		case formID == FormOutput:
			s.outputForm.FormData = data
		default:
			id := strings.TrimPrefix(formID, FormMiddlewarePrefix)
			form, ok := s.middleForms[id]
			if !ok {
				form = emptyForm()
			}
			form.FormData = data
			s.middleForms[id] = form
		}
	}
	s.pending = map[string]domain.Options{}
	return flushed
}

// Forms snapshots the committed option payloads for a batch request.
// Only selected middlewares contribute options.
func (s *Store) Forms() Forms {
	s.mu.RLock()
	defer s.mu.RUnlock()

	middlewareOptions := make(map[string]domain.Options, len(s.middlewares))
	for _, id := range s.middlewares {
		middlewareOptions[id] = domain.CloneOptions(s.middleForms[id].FormData)
	}
	return Forms{
		Input:               domain.CloneOptions(s.inputForm.FormData),
		Output:              domain.CloneOptions(s.outputForm.FormData),
		SelectedMiddlewares: append([]string{}, s.middlewares...),
		MiddlewareOptions:   middlewareOptions,
	}
}

func validFormID(formID string) bool {
	if formID == FormInput || formID == FormOutput {
		return true
	}
	id, ok := strings.CutPrefix(formID, FormMiddlewarePrefix)
	return ok && id != ""
}

func emptyForm() domain.OptionForm {
	return domain.OptionForm{Schema: domain.Options{}, UISchema: domain.Options{}, FormData: domain.Options{}}
}

func cloneForm(form domain.OptionForm) domain.OptionForm {
	return domain.OptionForm{
		Schema:   domain.CloneOptions(form.Schema),
		UISchema: domain.CloneOptions(form.UISchema),
		FormData: domain.CloneOptions(form.FormData),
	}
}
