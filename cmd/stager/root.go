// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"stager-cli/internal/config"
	"stager-cli/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables debug logging and full error chains.
	verbose bool
	// cfgDir allows specifying a custom config directory.
	cfgDir string

	// cfg is the effective engine configuration, loaded before any RunE.
	cfg = config.DefaultConfig()

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "stager",
		Short: "An embeddable install-script runner",
		Long: TitleStyle.Render("stager") + SubtitleStyle.Render(" - An embeddable install-script runner") + `

stager interprets line-oriented install scripts: small text files that
assign a fixed set of variables, expand $(Name) macros against the host
environment, and drive a table of builtin commands for packing and
unpacking payload archives, running external tools, and managing
services during install, uninstall and upgrade flows.

` + SubtitleStyle.Render("Examples:") + `
  stager run setup.stg              Run an install script
  stager run --target /opt/app setup.stg
  stager archive list payload.stp   List archive contents
  stager archive extract payload.stp ./out
  stager config show                Show current configuration`,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config-dir", "", "config directory (default is the platform config directory)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(configCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig loads the config file and installs the default logger.
func initRootConfig() {
	if cfgDir != "" {
		config.SetConfigDirOverride(cfgDir)
	}

	loaded, _, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, verbose))
	} else {
		cfg = loaded
	}

	if cfg.Verbose {
		verbose = true
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "stager",
		ReportTimestamp: true,
	})
	if verbose {
		handler.SetLevel(log.DebugLevel)
	} else {
		handler.SetLevel(log.WarnLevel)
	}
	slog.SetDefault(slog.New(handler))
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		msg := ae.Format(verboseMode)
		if !verboseMode && !ae.HasSuggestions() {
			msg += "\n  • Run with --verbose for the full error chain"
		}
		return msg
	}
	return err.Error()
}
