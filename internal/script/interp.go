// SPDX-License-Identifier: MPL-2.0

// Package script implements the stager install-script engine: a line-oriented
// interpreter with macro substitution, a fixed set of typed variables, a small
// builtin command table, and external-process orchestration. Scripts drive
// install, uninstall and upgrade workflows; payloads move through the archive
// codec in pkg/archive.
package script

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"stager-cli/internal/platform"
	"stager-cli/internal/resource"
	"stager-cli/pkg/archive"
)

// ErrMalformedScript marks syntax-level failures: a bad assignment left side,
// an unknown variable, unresolvable macros, or a builtin invoked with missing
// arguments. Malformed-script conditions abort the run immediately and are
// never suppressed by IgnoreErrors.
var ErrMalformedScript = errors.New("malformed script")

// ErrProcessTimeout marks an external process that exceeded
// ProcessTimeoutSeconds. Timeouts are always fatal, distinct from an
// ordinary non-zero exit.
var ErrProcessTimeout = errors.New("process timed out")

// errExit is the internal signal raised by the exit sentinel. It unwinds
// every nesting level; the top-level Run converts it to a clean stop.
var errExit = errors.New("exit requested")

// Config assembles an Interpreter. Resources is required; every other field
// has a usable default.
type Config struct {
	// Resources locates scripts, pack file lists and archive payloads.
	Resources resource.Locator
	// Events receives interpreter notifications. Nil callbacks are skipped.
	Events Events
	// Services controls host services for ServiceStart/ServiceStop.
	// Defaults to the platform controller (a stub outside Windows).
	Services ServiceController
	// Prober supplies the installed version for IfUpgradeTo. Defaults to
	// the version.properties metadata prober.
	Prober VersionProber
	// EngineVersion is the running engine's own version, compared by
	// IfUpgradeTo against the probed install.
	EngineVersion Version
	// Resolver supplies the read-only platform values for macro resolution.
	Resolver *platform.Resolver
	// Archive selects the codec options used by Pack and Unpack.
	Archive *archive.Options
	// Stdout and Stderr receive external process output when
	// RedirectOutput is off. Default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
	// Logger receives debug/warn logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// Interpreter executes install scripts. One instance owns its variable store,
// resolver cache and run state; it is not safe for concurrent use and a run
// is strictly sequential by design.
type Interpreter struct {
	vars      *Variables
	resources resource.Locator
	events    Events
	services  ServiceController
	prober    VersionProber
	version   Version
	resolver  *platform.Resolver
	archOpts  *archive.Options
	stdout    io.Writer
	stderr    io.Writer
	log       *slog.Logger

	runID       string
	scriptName  string
	currentLine string
	lineNo      int
	depth       int
	status      Status
	failed      bool
}

// New builds an Interpreter from cfg, filling defaults for unset fields.
func New(cfg Config) *Interpreter {
	in := &Interpreter{
		vars:      NewVariables(),
		resources: cfg.Resources,
		events:    cfg.Events,
		services:  cfg.Services,
		prober:    cfg.Prober,
		version:   cfg.EngineVersion,
		resolver:  cfg.Resolver,
		archOpts:  cfg.Archive,
		stdout:    cfg.Stdout,
		stderr:    cfg.Stderr,
		log:       cfg.Logger,
	}
	if in.services == nil {
		in.services = defaultServiceController()
	}
	if in.prober == nil {
		in.prober = MetadataProber{}
	}
	if in.resolver == nil {
		in.resolver = platform.NewResolver()
	}
	if in.archOpts == nil {
		in.archOpts = archive.DefaultOptions()
	}
	if in.stdout == nil {
		in.stdout = os.Stdout
	}
	if in.stderr == nil {
		in.stderr = os.Stderr
	}
	if in.log == nil {
		in.log = slog.Default()
	}
	return in
}

// Vars exposes the variable store so hosts can preset Source/Target before a
// run.
func (in *Interpreter) Vars() *Variables { return in.vars }

// Status returns the flag set accumulated so far.
func (in *Interpreter) Status() Status { return in.status }

// RunID identifies the current (or last) run.
func (in *Interpreter) RunID() string { return in.runID }

// Run interprets each named script in order, stopping early on exit or
// failure. Run is re-entrant: the Run builtin recurses through it, tracked by
// a depth counter. The Success event fires only when execution unwinds back
// to depth zero with no failure recorded.
func (in *Interpreter) Run(ctx context.Context, names ...string) error {
	if in.depth == 0 {
		// A fresh top-level run starts from a clean slate; variables are
		// deliberately kept so hosts can preset them between runs.
		in.runID = uuid.NewString()
		in.status = StatusOK
		in.failed = false
		in.log.Debug("run starting", "run_id", in.runID, "scripts", names)
	}

	in.depth++
	err := in.runScripts(ctx, names)
	in.depth--

	if in.depth == 0 {
		if errors.Is(err, errExit) {
			err = nil // $(Exit) is a clean stop, not a failure
		}
		if err == nil && !in.failed {
			in.log.Debug("run succeeded", "run_id", in.runID, "status", in.status.String())
			in.events.emitSuccess()
		}
	}
	return err
}

func (in *Interpreter) runScripts(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := in.runScript(ctx, Unquote(name)); err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) runScript(ctx context.Context, name string) error {
	text, err := in.resources.Text(name)
	if err != nil {
		return in.fail(StatusFileNotFound, err)
	}

	prevName, prevLine := in.scriptName, in.lineNo
	in.scriptName = name
	defer func() { in.scriptName, in.lineNo = prevName, prevLine }()

	in.log.Debug("interpreting script", "script", name, "depth", in.depth)
	for i, raw := range strings.Split(text, "\n") {
		in.lineNo = i + 1
		if err := ctx.Err(); err != nil {
			return in.fail(StatusOK, fmt.Errorf("run canceled: %w", err))
		}
		if err := in.executeLine(ctx, strings.TrimSuffix(raw, "\r")); err != nil {
			return err
		}
	}
	return nil
}

// executeLine classifies one raw line and executes it: comments and blanks
// are skipped, the exit sentinel unwinds, assignments mutate the variable
// store, and everything else is macro-resolved, tokenized and dispatched.
func (in *Interpreter) executeLine(ctx context.Context, raw string) error {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	if i := indexOutsideQuotes(line, '#'); i >= 0 {
		line = strings.TrimSpace(line[:i])
		if line == "" {
			return nil
		}
	}
	in.currentLine = line

	// The exit sentinel is recognized on the raw line, before macro
	// resolution, so it never reaches the resolver as an unknown name.
	if firstField(line) == ExitSentinel {
		in.log.Debug("exit sentinel", "script", in.scriptName)
		return errExit
	}

	if i := indexOutsideQuotes(line, '='); i >= 0 {
		return in.executeAssignment(line[:i], line[i+1:])
	}

	resolved, err := in.expandMacros(line)
	if err != nil {
		return in.fail(StatusNullReference, err)
	}
	return in.executeTokens(ctx, Tokenize(resolved))
}

// executeAssignment handles `$(Name) = value`. The left side must be exactly
// one macro span; the right side is macro-resolved, unquoted and coerced to
// the variable's declared type.
func (in *Interpreter) executeAssignment(lhs, rhs string) error {
	m := assignTargetPattern.FindStringSubmatch(strings.TrimSpace(lhs))
	if m == nil {
		return in.fail(StatusOK, fmt.Errorf("%w: assignment left side must be $(Name), got %q", ErrMalformedScript, strings.TrimSpace(lhs)))
	}
	name := m[1]

	resolved, err := in.expandMacros(strings.TrimSpace(rhs))
	if err != nil {
		return in.fail(StatusNullReference, err)
	}
	value := Unquote(resolved)

	if err := in.vars.Set(name, value); err != nil {
		if platform.Known(name) {
			return in.fail(StatusOK, fmt.Errorf("%w: $(%s) is a read-only value", ErrMalformedScript, name))
		}
		return in.fail(StatusOK, fmt.Errorf("%w: %v", ErrMalformedScript, err))
	}
	in.log.Debug("assignment", "name", name, "value", value)
	return nil
}

// executeTokens is the single dispatch point for a resolved token sequence.
// Conditional builtins re-enter it with their trailing tokens, so exit and
// failure propagate as returned signals through one code path.
func (in *Interpreter) executeTokens(ctx context.Context, tokens []string) error {
	cmd := tokens[0]
	if cmd == "" {
		return nil
	}
	if cmd == ExitSentinel {
		return errExit
	}
	if fn, ok := builtins[cmd]; ok {
		in.log.Debug("builtin", "command", cmd, "args", tokens[1:])
		return fn(in, ctx, tokens[1:])
	}
	return in.runProcess(ctx, cmd, tokens[1:])
}

// fail records a terminal failure: it accumulates st, emits the single
// Failure diagnostic for this run, and returns err for unwinding.
func (in *Interpreter) fail(st Status, err error) error {
	return in.failProcess(st, err, nil)
}

func (in *Interpreter) failProcess(st Status, err error, proc *processResult) error {
	in.status |= st
	if !in.failed {
		in.failed = true
		d := Diagnostic{
			RunID:   in.runID,
			Script:  in.scriptName,
			Line:    in.currentLine,
			LineNo:  in.lineNo,
			Status:  in.status,
			Message: err.Error(),
		}
		if proc != nil {
			d.ExitCode = proc.exitCode
			d.Stdout = proc.stdout
			d.Stderr = proc.stderr
		}
		in.log.Error("run failed",
			"run_id", in.runID,
			"script", in.scriptName,
			"line", in.currentLine,
			"status", in.status.String(),
			"error", err)
		in.events.emitFailure(d)
	}
	return err
}

// recoverable records st and err; when IgnoreErrors is set the condition is
// logged and execution continues, otherwise it escalates to fail.
func (in *Interpreter) recoverable(st Status, err error) error {
	if in.vars.IgnoreErrors {
		in.status |= st
		in.log.Warn("error ignored", "script", in.scriptName, "status", st.String(), "error", err)
		return nil
	}
	return in.fail(st, err)
}

// indexOutsideQuotes returns the index of the first occurrence of c outside
// double-quoted spans, or -1.
func indexOutsideQuotes(line string, c byte) int {
	quoted := false
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '"':
			quoted = !quoted
		case line[i] == c && !quoted:
			return i
		}
	}
	return -1
}

func firstField(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}
