// SPDX-License-Identifier: MPL-2.0

package script

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Version is a dotted numeric version of up to four parts; missing parts are
// zero. "1.4" and "1.4.0.0" compare equal.
type Version [4]int

// ParseVersion parses a dotted numeric version string.
func ParseVersion(s string) (Version, error) {
	var v Version
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 4 {
		return v, fmt.Errorf("invalid version %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q: component %q", s, p)
		}
		v[i] = n
	}
	return v, nil
}

// Compare returns -1, 0 or 1 as v is older than, equal to, or newer than o.
func (v Version) Compare(o Version) int {
	for i := range v {
		switch {
		case v[i] < o[i]:
			return -1
		case v[i] > o[i]:
			return 1
		}
	}
	return 0
}

// String renders the full four-part form.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}

// VersionProber supplies the version of an installed binary. Probing
// mechanics (file metadata, --version output, a registry) are the host's
// concern; the engine only consumes the parsed value.
type VersionProber interface {
	Probe(path string) (Version, error)
}

// VersionMetadataFile is the fixed relative name of the version metadata
// file read by PassAssemblyVersion and the default prober.
const VersionMetadataFile = "version.properties"

var (
	versionLinePattern     = regexp.MustCompile(`(?m)^(\s*version\s*=\s*)"([^"]*)"`)
	fileVersionLinePattern = regexp.MustCompile(`(?m)^(\s*file-version\s*=\s*)"([^"]*)"`)
)

// MetadataProber probes versions from the version.properties file next to
// the target binary.
type MetadataProber struct{}

// Probe implements VersionProber.
func (MetadataProber) Probe(path string) (Version, error) {
	metaPath := filepath.Join(filepath.Dir(path), VersionMetadataFile)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return Version{}, fmt.Errorf("failed to read version metadata %s: %w", metaPath, err)
	}
	m := versionLinePattern.FindSubmatch(data)
	if m == nil {
		return Version{}, fmt.Errorf("no version field in %s", metaPath)
	}
	return ParseVersion(string(m[2]))
}

// biIfUpgradeTo compares the engine's own version against the install at the
// given path. A missing path counts as an upgrade, as does a strictly newer
// engine version; in both cases the trailing tokens are dispatched. An equal
// or newer existing install sets AlreadyInstalled and aborts the run unless
// IgnoreErrors is set. Note the tie-break: an equal version blocks.
func biIfUpgradeTo(in *Interpreter, ctx context.Context, args []string) error {
	if len(args) < 1 {
		return in.fail(StatusOK, fmt.Errorf("%w: IfUpgradeTo requires a path", ErrMalformedScript))
	}
	path := Unquote(args[0])
	rest := args[1:]

	if _, err := os.Stat(path); err != nil {
		return in.dispatchRest(ctx, rest)
	}

	existing, err := in.prober.Probe(path)
	if err != nil {
		return in.recoverable(StatusFileNotFound, fmt.Errorf("failed to probe version of %s: %w", path, err))
	}

	if in.version.Compare(existing) > 0 {
		in.log.Debug("upgrade allowed", "path", path, "installed", existing, "engine", in.version)
		return in.dispatchRest(ctx, rest)
	}
	return in.recoverable(StatusAlreadyInstalled,
		fmt.Errorf("version %s at %s is not older than %s", existing, path, in.version))
}

func (in *Interpreter) dispatchRest(ctx context.Context, rest []string) error {
	if len(rest) == 0 {
		return nil
	}
	return in.executeTokens(ctx, rest)
}

// biPassAssemblyVersion copies the version and file-version fields from the
// source project's version.properties into the destination project's file,
// rewriting the destination in place. Either metadata file missing is a
// failure.
func biPassAssemblyVersion(in *Interpreter, _ context.Context, args []string) error {
	if len(args) < 2 {
		return in.fail(StatusOK, fmt.Errorf("%w: PassAssemblyVersion requires source and destination directories", ErrMalformedScript))
	}
	srcPath := filepath.Join(Unquote(args[0]), VersionMetadataFile)
	dstPath := filepath.Join(Unquote(args[1]), VersionMetadataFile)

	srcData, err := os.ReadFile(srcPath)
	if err != nil {
		st := StatusFileAccessDenied
		if errors.Is(err, fs.ErrNotExist) {
			st = StatusFileNotFound
		}
		return in.recoverable(st, fmt.Errorf("failed to read version metadata %s: %w", srcPath, err))
	}

	versionMatch := versionLinePattern.FindSubmatch(srcData)
	fileVersionMatch := fileVersionLinePattern.FindSubmatch(srcData)
	if versionMatch == nil || fileVersionMatch == nil {
		return in.fail(StatusOK, fmt.Errorf("%w: %s is missing version or file-version", ErrMalformedScript, srcPath))
	}

	dstData, err := os.ReadFile(dstPath)
	if err != nil {
		st := StatusFileAccessDenied
		if errors.Is(err, fs.ErrNotExist) {
			st = StatusFileNotFound
		}
		return in.recoverable(st, fmt.Errorf("failed to read version metadata %s: %w", dstPath, err))
	}

	updated := versionLinePattern.ReplaceAll(dstData, []byte(`${1}"`+string(versionMatch[2])+`"`))
	updated = fileVersionLinePattern.ReplaceAll(updated, []byte(`${1}"`+string(fileVersionMatch[2])+`"`))

	if err := os.WriteFile(dstPath, updated, 0o644); err != nil {
		return in.recoverable(StatusFileAccessDenied, fmt.Errorf("failed to rewrite %s: %w", dstPath, err))
	}
	in.log.Debug("version metadata passed",
		"from", srcPath, "to", dstPath, "version", string(versionMatch[2]))
	return nil
}
