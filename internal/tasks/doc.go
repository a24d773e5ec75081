// Package tasks owns the conversion task list, the wizard step state, the
// per-batch run tracker and the sequenced event feed the view reads from.
package tasks
