// SPDX-License-Identifier: MPL-2.0

// Package resource locates the named payloads the script engine consumes:
// script text, pack file lists, and archive byte streams. The engine only
// ever asks for a bare name; where the bytes live (a directory, an embedded
// fs.FS, a test fixture) is the locator's concern.
package resource

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// Locator resolves bare resource names to their content.
type Locator interface {
	// Text returns a resource's full text, for scripts and file lists.
	Text(name string) (string, error)
	// Open returns a resource's byte stream, for archive payloads.
	// The caller closes the returned reader.
	Open(name string) (io.ReadCloser, error)
}

// FSLocator serves resources from an fs.FS. It works equally over a
// directory (os.DirFS) or an embedded filesystem (go:embed).
type FSLocator struct {
	fsys fs.FS
}

// NewFSLocator wraps an fs.FS as a Locator.
func NewFSLocator(fsys fs.FS) *FSLocator {
	return &FSLocator{fsys: fsys}
}

// NewDirLocator serves resources from the given directory.
func NewDirLocator(dir string) *FSLocator {
	return &FSLocator{fsys: os.DirFS(dir)}
}

// Text implements Locator.
func (l *FSLocator) Text(name string) (string, error) {
	data, err := fs.ReadFile(l.fsys, fsName(name))
	if err != nil {
		return "", fmt.Errorf("failed to load resource %q: %w", name, err)
	}
	return string(data), nil
}

// Open implements Locator.
func (l *FSLocator) Open(name string) (io.ReadCloser, error) {
	f, err := l.fsys.Open(fsName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open resource %q: %w", name, err)
	}
	return f, nil
}

// fsName normalizes a resource name to the slash-separated, rooted form
// fs.FS requires.
func fsName(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "./")
}
