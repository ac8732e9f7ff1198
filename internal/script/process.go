// SPDX-License-Identifier: MPL-2.0

package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// processResult carries what a failed external process left behind for the
// failure diagnostic.
type processResult struct {
	exitCode int
	stdout   string
	stderr   string
}

// runProcess spawns an external executable without a shell and blocks until
// it exits or ProcessTimeoutSeconds elapses. Timeout expiry is fatal
// regardless of IgnoreErrors; a non-zero exit code is fatal unless
// IgnoreErrors is set, in which case the status flag is recorded and the run
// continues.
func (in *Interpreter) runProcess(ctx context.Context, path string, argTokens []string) error {
	args := make([]string, len(argTokens))
	for i, a := range argTokens {
		args[i] = Unquote(a)
	}

	timeout := time.Duration(in.vars.ProcessTimeoutSeconds) * time.Second
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(pctx, Unquote(path), args...)

	// Installers conventionally run relative to the target tree.
	if t := in.vars.Target; t != "" {
		if info, err := os.Stat(t); err == nil && info.IsDir() {
			cmd.Dir = t
		}
	}

	var stdout, stderr bytes.Buffer
	if in.vars.RedirectOutput {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	} else {
		cmd.Stdout = in.stdout
		cmd.Stderr = in.stderr
	}

	in.log.Debug("spawning process", "path", path, "args", args, "timeout", timeout)
	err := cmd.Run()
	if err == nil {
		return nil
	}

	if errors.Is(pctx.Err(), context.DeadlineExceeded) {
		res := &processResult{exitCode: -1, stdout: stdout.String(), stderr: stderr.String()}
		return in.failProcess(StatusOK, fmt.Errorf("%w: %s did not finish within %s", ErrProcessTimeout, path, timeout), res)
	}
	if cerr := ctx.Err(); cerr != nil {
		return in.fail(StatusOK, fmt.Errorf("process %s canceled: %w", path, cerr))
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res := &processResult{
			exitCode: exitErr.ExitCode(),
			stdout:   stdout.String(),
			stderr:   stderr.String(),
		}
		perr := fmt.Errorf("process %s exited with code %d", path, res.exitCode)
		if in.vars.IgnoreErrors {
			in.status |= StatusNonZeroExitCode
			in.log.Warn("non-zero exit ignored", "path", path, "exit_code", res.exitCode)
			return nil
		}
		return in.failProcess(StatusNonZeroExitCode, perr, res)
	}

	// The process never started: missing binary, permission problem.
	return in.recoverable(StatusFileNotFound, fmt.Errorf("failed to start process %s: %w", path, err))
}
