// SPDX-License-Identifier: MPL-2.0

package script

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownVariable is returned when a script assigns to or reads a name
// outside the fixed variable set. It is a malformed-script condition and is
// never suppressed by IgnoreErrors.
var ErrUnknownVariable = errors.New("unknown script variable")

// Variables is the fixed set of assignable, typed script variables. Only
// these five names accept assignment; everything else the macro resolver
// sees comes from the read-only resolvable store.
type Variables struct {
	// Source is the input directory or resource name for Pack/Unpack.
	Source string
	// Target is the output path; bare-filename macros are rooted under it.
	Target string
	// IgnoreErrors keeps the run going past recoverable failures.
	IgnoreErrors bool
	// RedirectOutput captures external process stdout/stderr for diagnostics.
	RedirectOutput bool
	// ProcessTimeoutSeconds bounds each external process invocation.
	ProcessTimeoutSeconds int
}

// DefaultProcessTimeoutSeconds is the timeout applied when a script never
// assigns ProcessTimeoutSeconds.
const DefaultProcessTimeoutSeconds = 300

// NewVariables returns a variable store with the documented defaults.
func NewVariables() *Variables {
	return &Variables{ProcessTimeoutSeconds: DefaultProcessTimeoutSeconds}
}

// accessor binds a variable name to its typed get and set operations. The
// table is fixed at compile time; there is no reflective field lookup.
type accessor struct {
	get func(v *Variables) string
	set func(v *Variables, raw string) error
}

var accessors = map[string]accessor{
	"Source": {
		get: func(v *Variables) string { return v.Source },
		set: func(v *Variables, raw string) error { v.Source = raw; return nil },
	},
	"Target": {
		get: func(v *Variables) string { return v.Target },
		set: func(v *Variables, raw string) error { v.Target = raw; return nil },
	},
	"IgnoreErrors": {
		get: func(v *Variables) string { return strconv.FormatBool(v.IgnoreErrors) },
		set: func(v *Variables, raw string) error { v.IgnoreErrors = CoerceBool(raw); return nil },
	},
	"RedirectOutput": {
		get: func(v *Variables) string { return strconv.FormatBool(v.RedirectOutput) },
		set: func(v *Variables, raw string) error { v.RedirectOutput = CoerceBool(raw); return nil },
	},
	"ProcessTimeoutSeconds": {
		get: func(v *Variables) string { return strconv.Itoa(v.ProcessTimeoutSeconds) },
		set: func(v *Variables, raw string) error {
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("invalid integer %q for ProcessTimeoutSeconds: %w", raw, err)
			}
			v.ProcessTimeoutSeconds = n
			return nil
		},
	},
}

// falsyWords is the case-insensitive vocabulary that coerces to false.
// Any other value is true.
var falsyWords = map[string]struct{}{
	"0": {}, "false": {}, "no": {}, "nope": {}, "off": {}, "disable": {},
}

// CoerceBool applies the boolean coercion rules for variable assignment.
func CoerceBool(raw string) bool {
	_, falsy := falsyWords[strings.ToLower(strings.TrimSpace(raw))]
	return !falsy
}

// Lookup returns the textual value of a variable, reporting whether the name
// is part of the variable set.
func (v *Variables) Lookup(name string) (string, bool) {
	acc, ok := accessors[name]
	if !ok {
		return "", false
	}
	return acc.get(v), true
}

// Set coerces raw to the variable's declared type and stores it. Assigning
// to a name outside the fixed set returns ErrUnknownVariable.
func (v *Variables) Set(name, raw string) error {
	acc, ok := accessors[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return acc.set(v, raw)
}
