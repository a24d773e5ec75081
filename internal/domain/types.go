package domain

import (
	"encoding/json"
	"fmt"
)

// ConversionMode selects how a batch of input files maps to output files.
type ConversionMode string

const (
	ConversionModeDirect ConversionMode = "direct"
	ConversionModeSplit  ConversionMode = "split"
	ConversionModeMerge  ConversionMode = "merge"
)

// Valid reports whether the mode is one the engine understands.
func (m ConversionMode) Valid() bool {
	switch m {
	case ConversionModeDirect, ConversionModeSplit, ConversionModeMerge:
		return true
	default:
		return false
	}
}

// ConflictPolicy governs what happens when an output path already exists.
type ConflictPolicy string

const (
	ConflictPolicyOverwrite ConflictPolicy = "overwrite"
	ConflictPolicySkip      ConflictPolicy = "skip"
	ConflictPolicyRename    ConflictPolicy = "rename"
	ConflictPolicyPrompt    ConflictPolicy = "prompt"
)

// Valid reports whether the policy is a known value.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictPolicyOverwrite, ConflictPolicySkip, ConflictPolicyRename, ConflictPolicyPrompt:
		return true
	default:
		return false
	}
}

// ThemeMode is the persisted appearance preference.
type ThemeMode string

const (
	ThemeModeLight  ThemeMode = "light"
	ThemeModeDark   ThemeMode = "dark"
	ThemeModeSystem ThemeMode = "system"
)

// SchemaCategory names which plugin entry point an option schema belongs to.
type SchemaCategory string

const (
	SchemaCategoryLoad    SchemaCategory = "load"
	SchemaCategoryDump    SchemaCategory = "dump"
	SchemaCategoryProcess SchemaCategory = "process"
)

// Outcome is the tri-state success flag of a task. It encodes as
// JSON null (unknown), true or false.
type Outcome int8

const (
	OutcomeUnknown Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
)

// MarshalJSON encodes the outcome as null, true or false.
func (o Outcome) MarshalJSON() ([]byte, error) {
	switch o {
	case OutcomeSucceeded:
		return []byte("true"), nil
	case OutcomeFailed:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes null, true or false.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*o = OutcomeUnknown
	case "true":
		*o = OutcomeSucceeded
	case "false":
		*o = OutcomeFailed
	default:
		return fmt.Errorf("invalid outcome %s", data)
	}
	return nil
}

// String returns a log-friendly name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConversionTask is one file queued for conversion.
type ConversionTask struct {
	ID          string  `json:"id"`
	InputPath   string  `json:"inputPath"`
	BaseName    string  `json:"baseName"`
	OutputStem  string  `json:"outputStem"`
	InputFormat string  `json:"inputFormat"`
	Running     bool    `json:"running"`
	Success     Outcome `json:"success"`
	Error       string  `json:"error,omitempty"`
	Warning     string  `json:"warning,omitempty"`
	OutputPath  string  `json:"outputPath,omitempty"`
}

// TaskPatch carries the fields to merge into an existing task. Nil fields are
// left untouched.
type TaskPatch struct {
	OutputStem *string  `json:"outputStem,omitempty"`
	Running    *bool    `json:"running,omitempty"`
	Success    *Outcome `json:"success,omitempty"`
	Error      *string  `json:"error,omitempty"`
	Warning    *string  `json:"warning,omitempty"`
	OutputPath *string  `json:"outputPath,omitempty"`
}

// Apply merges the patch into task and returns the result.
func (p TaskPatch) Apply(task ConversionTask) ConversionTask {
	if p.OutputStem != nil {
		task.OutputStem = *p.OutputStem
	}
	if p.Running != nil {
		task.Running = *p.Running
	}
	if p.Success != nil {
		task.Success = *p.Success
	}
	if p.Error != nil {
		task.Error = *p.Error
	}
	if p.Warning != nil {
		task.Warning = *p.Warning
	}
	if p.OutputPath != nil {
		task.OutputPath = *p.OutputPath
	}
	return task
}

// StatePatch returns a patch holding every engine-owned field of the task.
// Engine events are full snapshots, so all of them are overwritten.
func (t ConversionTask) StatePatch() TaskPatch {
	running := t.Running
	success := t.Success
	errText := t.Error
	warning := t.Warning
	outputPath := t.OutputPath
	return TaskPatch{
		Running:    &running,
		Success:    &success,
		Error:      &errText,
		Warning:    &warning,
		OutputPath: &outputPath,
	}
}

// Options is a free-form JSON object of plugin option values.
type Options map[string]any

// BatchRequest is the immutable payload that starts one conversion run.
type BatchRequest struct {
	InputFormat         string             `json:"inputFormat"`
	OutputFormat        string             `json:"outputFormat"`
	Language            string             `json:"language"`
	Mode                ConversionMode     `json:"mode"`
	MaxTrackCount       int                `json:"maxTrackCount"`
	ConversionTasks     []ConversionTask   `json:"conversionTasks"`
	InputOptions        Options            `json:"inputOptions"`
	OutputOptions       Options            `json:"outputOptions"`
	SelectedMiddlewares []string           `json:"selectedMiddlewares"`
	MiddlewareOptions   map[string]Options `json:"middlewareOptions"`
	OutputDir           string             `json:"outputDir"`
	ConflictPolicy      ConflictPolicy     `json:"conflictPolicy"`
}

// MoveFileParams asks the engine to move a finished temp output into place.
type MoveFileParams struct {
	ID             string `json:"id"`
	ForceOverwrite bool   `json:"forceOverwrite"`
}

// MoveCallback is the engine's notice that an output path already exists.
type MoveCallback struct {
	ID             string         `json:"id"`
	OutputPath     string         `json:"outputPath,omitempty"`
	ConflictPolicy ConflictPolicy `json:"conflictPolicy"`
}

// PluginOption identifies one option schema to fetch from the engine.
type PluginOption struct {
	Identifier string         `json:"identifier"`
	Category   SchemaCategory `json:"category"`
	Language   string         `json:"language"`
}

// SchemaConfig is the engine's option schema for a plugin entry point.
type SchemaConfig struct {
	JSONSchema   Options `json:"json_schema"`
	DefaultValue Options `json:"default_value"`
	UISchema     Options `json:"ui_schema,omitempty"`
}

// OptionForm is the cached schema triple plus the live form values.
type OptionForm struct {
	Schema   Options `json:"schema"`
	UISchema Options `json:"uiSchema"`
	FormData Options `json:"formData"`
}

// Settings is the user preference blob persisted across restarts.
type Settings struct {
	Language           string         `json:"language"`
	ThemeMode          ThemeMode      `json:"darkMode"`
	InputFormat        string         `json:"inputFormat"`
	OutputFormat       string         `json:"outputFormat"`
	ConversionMode     ConversionMode `json:"conversionMode"`
	MaxTrackCount      int            `json:"maxTrackCount"`
	OutputDirectory    string         `json:"outputDirectory"`
	ConflictPolicy     ConflictPolicy `json:"conflictPolicy"`
	RevealFileOnFinish bool           `json:"revealFileOnFinish"`
	IgnoreWarnings     bool           `json:"ignoreWarnings"`
}

// CloneOptions deep-copies an option object through JSON so later edits by
// the caller cannot leak into a snapshot.
func CloneOptions(in Options) Options {
	if in == nil {
		return Options{}
	}
	data, err := json.Marshal(in)
	if err != nil {
		out := make(Options, len(in))
		for k, v := range in {
			out[k] = v
		}
		return out
	}
	var out Options
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return Options{}
	}
	return out
}
