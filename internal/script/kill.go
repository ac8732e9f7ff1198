// SPDX-License-Identifier: MPL-2.0

package script

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// biKill terminates, for each argument, the first running process whose
// executable name matches the argument's base name (extension dropped).
// A name with no matching process is not an error.
func biKill(in *Interpreter, ctx context.Context, args []string) error {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		// Without a process list there is nothing to match against; the
		// absence of a matching process is never an error, so neither is this.
		in.log.Warn("failed to list processes", "error", err)
		return nil
	}

	for _, a := range args {
		want := processName(Unquote(a))
		if want == "" {
			continue
		}
		for _, p := range procs {
			name, err := p.NameWithContext(ctx)
			if err != nil {
				continue
			}
			if !strings.EqualFold(processName(name), want) {
				continue
			}
			if err := p.KillWithContext(ctx); err != nil {
				in.log.Warn("failed to kill process", "name", want, "pid", p.Pid, "error", err)
			} else {
				in.log.Debug("killed process", "name", want, "pid", p.Pid)
			}
			break
		}
	}
	return nil
}

// processName reduces a path to the bare process name: base name without
// extension.
func processName(path string) string {
	base := filepath.Base(strings.ReplaceAll(path, "\\", "/"))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
