// SPDX-License-Identifier: MPL-2.0

package script

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"stager-cli/pkg/archive"
)

// builtinFunc is the signature every builtin command implements. args are
// the tokens following the command name, quotes still attached.
type builtinFunc func(in *Interpreter, ctx context.Context, args []string) error

// builtins is the fixed command table. A token sequence whose first token is
// not found here is dispatched as an external process instead.
var builtins map[string]builtinFunc

// init populates builtins at runtime; a composite literal would create an
// initialization cycle through biRun -> Interpreter.Run -> executeTokens.
func init() {
	builtins = map[string]builtinFunc{
		"Run":                 biRun,
		"Message":             biMessage,
		"Notify":              biNotify,
		"Pack":                biPack,
		"Unpack":              biUnpack,
		"Delete":              biDelete,
		"Kill":                biKill,
		"ServiceStart":        biServiceStart,
		"ServiceStop":         biServiceStop,
		"IfExists":            biIfExists,
		"IfNotExists":         biIfNotExists,
		"IfUpgradeTo":         biIfUpgradeTo,
		"PassAssemblyVersion": biPassAssemblyVersion,
	}
}

// biRun loads and interprets each named script in order, re-entering the
// interpreter's Run loop so exit and failure unwind through every level.
func biRun(in *Interpreter, ctx context.Context, args []string) error {
	return in.Run(ctx, args...)
}

func biMessage(in *Interpreter, _ context.Context, args []string) error {
	in.events.emitMessage(Unquote(strings.Join(args, " ")))
	return nil
}

func biNotify(in *Interpreter, _ context.Context, args []string) error {
	in.events.emitNotify(Unquote(strings.Join(args, " ")))
	return nil
}

// biPack reads a newline-delimited file list from the named resource,
// resolves each entry under Source, and writes an archive rooted at Source
// to the file named by Target. The list order is preserved; deterministic
// archives come from deterministic lists.
func biPack(in *Interpreter, _ context.Context, args []string) error {
	if len(args) < 1 || Unquote(args[0]) == "" {
		return in.fail(StatusNullReference, fmt.Errorf("%w: Pack requires a file list resource", ErrMalformedScript))
	}
	src, dst := in.vars.Source, in.vars.Target
	if src == "" || dst == "" {
		return in.fail(StatusNullReference, fmt.Errorf("%w: Pack requires Source and Target to be set", ErrMalformedScript))
	}

	listName := Unquote(args[0])
	list, err := in.resources.Text(listName)
	if err != nil {
		return in.recoverable(StatusFileNotFound, err)
	}

	var files []string
	for _, entry := range strings.Split(list, "\n") {
		entry = strings.TrimSpace(strings.TrimSuffix(entry, "\r"))
		if entry == "" {
			continue
		}
		files = append(files, filepath.Join(src, filepath.FromSlash(entry)))
	}

	f, err := os.Create(dst)
	if err != nil {
		return in.recoverable(StatusFileAccessDenied, fmt.Errorf("failed to create archive %s: %w", dst, err))
	}
	err = archive.Create(f, src, files, in.archOpts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		st := StatusFileAccessDenied
		if errors.Is(err, fs.ErrNotExist) {
			st = StatusFileNotFound
		}
		return in.recoverable(st, fmt.Errorf("failed to pack %s: %w", dst, err))
	}

	in.log.Debug("packed archive", "target", dst, "files", len(files), "compression", in.archOpts.Compression)
	return nil
}

// biUnpack extracts the archive resource named by Source into the directory
// named by Target.
func biUnpack(in *Interpreter, _ context.Context, _ []string) error {
	src, dst := in.vars.Source, in.vars.Target
	if src == "" || dst == "" {
		return in.fail(StatusNullReference, fmt.Errorf("%w: Unpack requires Source and Target to be set", ErrMalformedScript))
	}

	rc, err := in.resources.Open(src)
	if err != nil {
		return in.recoverable(StatusFileNotFound, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return in.recoverable(StatusDirectoryAccessDenied, fmt.Errorf("failed to create target directory %s: %w", dst, err))
	}
	if err := archive.Extract(rc, dst, in.archOpts); err != nil {
		return in.recoverable(StatusFileAccessDenied, fmt.Errorf("failed to unpack %s: %w", src, err))
	}

	in.log.Debug("unpacked archive", "source", src, "target", dst)
	return nil
}

// biDelete removes each existing path, recursively for directories. Missing
// paths are skipped; access failures set the matching status flag and, with
// IgnoreErrors, the remaining targets are still processed.
func biDelete(in *Interpreter, _ context.Context, args []string) error {
	for _, a := range args {
		path := Unquote(a)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			if rerr := in.recoverable(StatusFileAccessDenied, fmt.Errorf("failed to stat %s: %w", path, err)); rerr != nil {
				return rerr
			}
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			st := StatusFileAccessDenied
			if info.IsDir() {
				st = StatusDirectoryAccessDenied
			}
			if rerr := in.recoverable(st, fmt.Errorf("failed to delete %s: %w", path, err)); rerr != nil {
				return rerr
			}
			continue
		}
		in.log.Debug("deleted", "path", path, "dir", info.IsDir())
	}
	return nil
}

// biIfExists dispatches the trailing tokens as a new command line when the
// path exists (file or directory); otherwise it is a no-op.
func biIfExists(in *Interpreter, ctx context.Context, args []string) error {
	if len(args) < 2 {
		return in.fail(StatusOK, fmt.Errorf("%w: IfExists requires a path and a command", ErrMalformedScript))
	}
	if _, err := os.Stat(Unquote(args[0])); err == nil {
		return in.executeTokens(ctx, args[1:])
	}
	return nil
}

// biIfNotExists is the inverse of IfExists.
func biIfNotExists(in *Interpreter, ctx context.Context, args []string) error {
	if len(args) < 2 {
		return in.fail(StatusOK, fmt.Errorf("%w: IfNotExists requires a path and a command", ErrMalformedScript))
	}
	if _, err := os.Stat(Unquote(args[0])); err != nil {
		return in.executeTokens(ctx, args[1:])
	}
	return nil
}
