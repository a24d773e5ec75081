package domain

import "time"

// DiagnosticStatus indicates the outcome of a single startup check.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusFail DiagnosticStatus = "fail"
	DiagnosticStatusSkip DiagnosticStatus = "skip"
)

// DiagnosticItem is one check result with an optional remediation hint.
type DiagnosticItem struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Status  DiagnosticStatus `json:"status"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
}

// DiagnosticReport aggregates the shell's startup checks for the view.
type DiagnosticReport struct {
	GeneratedAt   time.Time        `json:"generatedAt"`
	HasFailures   bool             `json:"hasFailures"`
	EngineVersion string           `json:"engineVersion,omitempty"`
	Items         []DiagnosticItem `json:"items"`
}
