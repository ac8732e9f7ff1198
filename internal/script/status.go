// SPDX-License-Identifier: MPL-2.0

package script

import "strings"

// Status is a bit-flag set recording the kinds of failure seen during a run.
// Flags accumulate: a run that hits a missing file and later a non-zero exit
// code carries both bits.
type Status uint32

const (
	// StatusNullReference marks an unresolvable macro or an empty required value.
	StatusNullReference Status = 1 << iota
	// StatusFileNotFound marks a missing file or resource.
	StatusFileNotFound
	// StatusDirectoryNotFound marks a missing directory.
	StatusDirectoryNotFound
	// StatusFileAccessDenied marks a permission failure on a file.
	StatusFileAccessDenied
	// StatusDirectoryAccessDenied marks a permission failure on a directory.
	StatusDirectoryAccessDenied
	// StatusAlreadyInstalled marks an upgrade blocked by an equal or newer install.
	StatusAlreadyInstalled
	// StatusNonZeroExitCode marks an external process that exited non-zero.
	StatusNonZeroExitCode
)

// StatusOK is the zero value: no failure recorded.
const StatusOK Status = 0

var statusNames = []struct {
	flag Status
	name string
}{
	{StatusNullReference, "NullReference"},
	{StatusFileNotFound, "FileNotFound"},
	{StatusDirectoryNotFound, "DirectoryNotFound"},
	{StatusFileAccessDenied, "FileAccessDenied"},
	{StatusDirectoryAccessDenied, "DirectoryAccessDenied"},
	{StatusAlreadyInstalled, "AlreadyInstalled"},
	{StatusNonZeroExitCode, "NonZeroExitCode"},
}

// Has reports whether every bit of flag is set in s.
func (s Status) Has(flag Status) bool { return s&flag == flag }

// String renders the set as "OK" or a pipe-joined flag list.
func (s Status) String() string {
	if s == StatusOK {
		return "OK"
	}
	var parts []string
	for _, sn := range statusNames {
		if s.Has(sn.flag) {
			parts = append(parts, sn.name)
		}
	}
	return strings.Join(parts, "|")
}
