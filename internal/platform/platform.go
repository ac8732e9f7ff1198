// SPDX-License-Identifier: MPL-2.0

// Package platform exposes the read-only, environment-derived values the
// script engine makes available to macro resolution alongside the mutable
// script variables. Values are computed on first reference and memoized for
// the life of the resolver; they are never invalidated.
package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultMarkerFile is the file name whose presence marks the installation
// root when walking parent directories.
const DefaultMarkerFile = "stager.root"

// ErrMarkerNotFound is returned when no parent directory carries the marker
// file.
var ErrMarkerNotFound = errors.New("installation root marker not found")

// Resolver supplies named, lazily computed platform values. A Resolver is
// owned by one interpreter instance and is not safe for concurrent use;
// interpretation is strictly sequential so no locking is needed.
type Resolver struct {
	// MarkerFile is the installation-root marker name. Defaults to
	// DefaultMarkerFile when empty.
	MarkerFile string
	// StartDir is where the InstallRoot walk begins. Defaults to the
	// current working directory when empty.
	StartDir string

	cache map[string]string
}

// NewResolver returns a resolver with default marker and start directory.
func NewResolver() *Resolver {
	return &Resolver{}
}

// resolvers is the fixed name -> compute function table. Like the variable
// store, lookup is a compile-time table rather than reflection.
var resolvers = map[string]func(*Resolver) (string, error){
	"InstallRoot":  (*Resolver).installRoot,
	"Platform":     (*Resolver).platformTag,
	"ProgramFiles": (*Resolver).programFiles,
	"SystemDir":    (*Resolver).systemDir,
	"WindowsDir":   (*Resolver).windowsDir,
	"RuntimeDir":   (*Resolver).runtimeDir,
	"ToolPath":     (*Resolver).toolPath,
}

// Known reports whether name is a resolvable value.
func Known(name string) bool {
	_, ok := resolvers[name]
	return ok
}

// Lookup computes (or returns the memoized) value for name. The second
// return is false when the name is not a resolvable at all.
func (r *Resolver) Lookup(name string) (string, bool, error) {
	fn, ok := resolvers[name]
	if !ok {
		return "", false, nil
	}
	if v, cached := r.cache[name]; cached {
		return v, true, nil
	}
	v, err := fn(r)
	if err != nil {
		return "", true, err
	}
	if r.cache == nil {
		r.cache = make(map[string]string)
	}
	r.cache[name] = v
	return v, true, nil
}

// installRoot walks parent directories from StartDir looking for the marker
// file and returns the first directory that carries it.
func (r *Resolver) installRoot() (string, error) {
	marker := r.MarkerFile
	if marker == "" {
		marker = DefaultMarkerFile
	}

	dir := r.StartDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to determine working directory: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve start directory: %w", err)
	}

	for {
		if info, err := os.Stat(filepath.Join(dir, marker)); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w: no %q in %s or any parent", ErrMarkerNotFound, marker, r.StartDir)
		}
		dir = parent
	}
}

func (r *Resolver) platformTag() (string, error) {
	return runtime.GOOS + "-" + runtime.GOARCH, nil
}

// programFiles resolves the machine-wide program installation directory.
// On Windows the environment decides between the native and 32-bit trees.
func (r *Resolver) programFiles() (string, error) {
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("ProgramFiles"); dir != "" {
			return dir, nil
		}
		return `C:\Program Files`, nil
	}
	return "/usr/local", nil
}

func (r *Resolver) systemDir() (string, error) {
	if runtime.GOOS == "windows" {
		win, err := r.windowsDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(win, "System32"), nil
	}
	return "/usr/lib", nil
}

func (r *Resolver) windowsDir() (string, error) {
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("SystemRoot"); dir != "" {
			return dir, nil
		}
		if dir := os.Getenv("windir"); dir != "" {
			return dir, nil
		}
		return `C:\Windows`, nil
	}
	// Non-Windows hosts have no Windows directory; the filesystem root is
	// the closest stand-in so path joins still produce usable paths.
	return string(os.PathSeparator), nil
}

// runtimeDir resolves the Go toolchain root, the managed-runtime directory
// of this engine.
func (r *Resolver) runtimeDir() (string, error) {
	if root := os.Getenv("GOROOT"); root != "" {
		return root, nil
	}
	return runtime.GOROOT(), nil
}

// toolPath is the toolchain binary under the runtime directory.
func (r *Resolver) toolPath() (string, error) {
	root, err := r.runtimeDir()
	if err != nil {
		return "", err
	}
	tool := "go"
	if runtime.GOOS == "windows" {
		tool += ".exe"
	}
	return filepath.Join(root, "bin", tool), nil
}
