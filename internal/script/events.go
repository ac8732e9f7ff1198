// SPDX-License-Identifier: MPL-2.0

package script

// Diagnostic is the structured record emitted with a Failure event. Exactly
// one is produced per aborted run.
type Diagnostic struct {
	// RunID identifies the interpreter run that failed.
	RunID string
	// Script is the name of the script being interpreted when the run failed.
	Script string
	// Line is the raw text of the offending line.
	Line string
	// LineNo is the 1-based number of the offending line, 0 when the
	// failure happened outside line execution.
	LineNo int
	// Status is the accumulated flag set at the time of failure.
	Status Status
	// Message is the error text, when an error is available.
	Message string
	// ExitCode is the exit code of the failed external process, if any.
	ExitCode int
	// Stdout and Stderr carry captured process output when RedirectOutput
	// was enabled for the failing process invocation.
	Stdout string
	Stderr string
}

// Events is the set of callbacks the interpreter notifies. Any field may be
// nil; the interpreter checks before calling. The host wires these to its
// UI or logging; the core holds no subscriber logic beyond these checks.
type Events struct {
	// Message receives informational text from the Message builtin.
	Message func(text string)
	// Notify receives user-facing text from the Notify builtin.
	Notify func(text string)
	// Success fires once when a run unwinds to depth zero without failure.
	Success func()
	// Failure fires once with the diagnostic of an aborted run.
	Failure func(d Diagnostic)
}

func (e Events) emitMessage(text string) {
	if e.Message != nil {
		e.Message(text)
	}
}

func (e Events) emitNotify(text string) {
	if e.Notify != nil {
		e.Notify(text)
	}
}

func (e Events) emitSuccess() {
	if e.Success != nil {
		e.Success()
	}
}

func (e Events) emitFailure(d Diagnostic) {
	if e.Failure != nil {
		e.Failure(d)
	}
}
