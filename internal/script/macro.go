// SPDX-License-Identifier: MPL-2.0

package script

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// ErrUnresolvedMacro is returned when a $(Name) placeholder matches neither
// a script variable nor a resolvable value. Like any malformed-script
// condition it aborts the run regardless of IgnoreErrors.
var ErrUnresolvedMacro = errors.New("unresolved macro")

// macroPattern matches a $(Identifier) span. Identifiers may not contain
// parentheses or '$'.
var macroPattern = regexp.MustCompile(`\$\(([^()$]+)\)`)

// assignTargetPattern matches the left-hand side of an assignment line:
// exactly one macro span and nothing else.
var assignTargetPattern = regexp.MustCompile(`^\$\(([^()$]+)\)$`)

// ExitSentinel is the reserved token that requests early termination of the
// whole run. It is recognized on the raw line, before macro resolution.
const ExitSentinel = "$(Exit)"

// expandMacros rewrites every $(Name) span in line with its resolved value.
// Each span is resolved independently in a single pass; resolved values are
// not re-scanned for nested macros. A value containing a space is wrapped in
// double quotes so it survives tokenization as one token.
func (in *Interpreter) expandMacros(line string) (string, error) {
	var firstErr error
	out := macroPattern.ReplaceAllStringFunc(line, func(span string) string {
		name := span[2 : len(span)-1]
		val, err := in.resolveMacro(name)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return span
		}
		if strings.Contains(val, " ") {
			return `"` + val + `"`
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// resolveMacro maps an identifier to its textual value: bare file names are
// rooted under Target without a store lookup; otherwise the variable store
// is consulted first, then the resolvable store.
func (in *Interpreter) resolveMacro(name string) (string, error) {
	if looksLikeFileName(name) {
		return filepath.Join(in.vars.Target, name), nil
	}
	if val, ok := in.vars.Lookup(name); ok {
		return val, nil
	}
	val, known, err := in.resolver.Lookup(name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve $(%s): %w", name, err)
	}
	if known {
		return val, nil
	}
	return "", fmt.Errorf("%w: $(%s)", ErrUnresolvedMacro, name)
}

// looksLikeFileName reports whether an identifier is a bare file name: it
// ends in a dot followed by an extension of two or more letters.
func looksLikeFileName(name string) bool {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return false
	}
	ext := name[dot+1:]
	if len(ext) < 2 {
		return false
	}
	for _, r := range ext {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
