// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for stager.
//
// This package implements the Cobra command hierarchy for the stager CLI:
// the root command, script execution, archive inspection and manipulation,
// and configuration management.
package cmd
