// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"strings"

	"stager-cli/internal/issue"
	"stager-cli/internal/platform"
	"stager-cli/internal/resource"
	"stager-cli/internal/script"
	"stager-cli/pkg/archive"

	"github.com/spf13/cobra"
)

var (
	runScriptDir   string
	runSource      string
	runTarget      string
	runCompression string
	runTimeout     int
	runIgnoreErrs  bool
	runRedirect    bool

	runCmd = &cobra.Command{
		Use:   "run <script> [script...]",
		Short: "Run one or more install scripts",
		Long: `Run one or more install scripts in order.

Scripts are resolved relative to the script directory (--dir). Variables
set on the command line seed the interpreter before the first line runs;
scripts may still reassign them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScripts(cmd, args)
		},
	}
)

func init() {
	runCmd.Flags().StringVarP(&runScriptDir, "dir", "d", ".", "directory scripts and pack lists are resolved against")
	runCmd.Flags().StringVar(&runSource, "source", "", "preset the Source variable")
	runCmd.Flags().StringVar(&runTarget, "target", "", "preset the Target variable")
	runCmd.Flags().StringVar(&runCompression, "compression", "", "archive compression: none, deflate or xz (default from config)")
	runCmd.Flags().IntVar(&runTimeout, "timeout", 0, "process timeout in seconds (default from config)")
	runCmd.Flags().BoolVar(&runIgnoreErrs, "ignore-errors", false, "preset IgnoreErrors to continue past recoverable failures")
	runCmd.Flags().BoolVar(&runRedirect, "redirect-output", false, "preset RedirectOutput to capture process output")
}

func runScripts(cmd *cobra.Command, names []string) error {
	opts, err := archiveOptions(runCompression)
	if err != nil {
		return err
	}

	engineVersion, err := script.ParseVersion(Version)
	if err != nil {
		// Dev builds have no parsable version; IfUpgradeTo then never
		// sees the engine as newer.
		engineVersion = script.Version{}
	}

	var lastDiag *script.Diagnostic
	in := script.New(script.Config{
		Resources: resource.NewDirLocator(runScriptDir),
		Resolver:  &platform.Resolver{MarkerFile: cfg.MarkerFile},
		Archive:   opts,
		Events: script.Events{
			Message: func(text string) {
				fmt.Fprintln(os.Stdout, text)
			},
			Notify: func(text string) {
				fmt.Fprintln(os.Stderr, PathStyle.Render("» ")+text)
			},
			Success: func() {
				fmt.Fprintln(os.Stderr, SuccessStyle.Render("✓ ")+"run completed")
			},
			Failure: func(d script.Diagnostic) {
				lastDiag = &d
				fmt.Fprintln(os.Stderr, renderFailure(d))
			},
		},
		EngineVersion: engineVersion,
	})

	presetVariables(in)

	if err := in.Run(cmd.Context(), names...); err != nil {
		ec := issue.NewErrorContext().
			WithOperation("run script").
			WithResource(strings.Join(names, ", ")).
			WithSuggestions(
				"Run with --verbose for the full error chain",
				"Set $(IgnoreErrors) or pass --ignore-errors to continue past recoverable failures",
			).
			Wrap(err)
		if lastDiag != nil {
			ec = ec.WithScript(lastDiag.Script, lastDiag.LineNo)
		}
		return &ExitError{Code: 1, Err: ec.BuildError()}
	}
	return nil
}

// presetVariables seeds the interpreter variables from config and flags.
// Flags win over config; scripts win over both.
func presetVariables(in *script.Interpreter) {
	vars := in.Vars()
	vars.ProcessTimeoutSeconds = cfg.DefaultTimeoutSeconds
	vars.RedirectOutput = cfg.RedirectOutput

	if runTimeout > 0 {
		vars.ProcessTimeoutSeconds = runTimeout
	}
	if runRedirect {
		vars.RedirectOutput = true
	}
	if runIgnoreErrs {
		vars.IgnoreErrors = true
	}
	vars.Source = runSource
	vars.Target = runTarget
}

// archiveOptions resolves the effective compression, flag over config.
func archiveOptions(flagValue string) (*archive.Options, error) {
	raw := flagValue
	if raw == "" {
		raw = cfg.Compression
	}
	comp, err := archive.ParseCompression(raw)
	if err != nil {
		return nil, err
	}
	return &archive.Options{Compression: comp}, nil
}

// renderFailure formats the diagnostic card printed when a run aborts.
func renderFailure(d script.Diagnostic) string {
	var sb strings.Builder

	sb.WriteString(failHeaderStyle.Render("✗ Script run failed!"))
	sb.WriteString("\n\n")

	if d.Script != "" {
		sb.WriteString(failLabelStyle.Render("Script:"))
		sb.WriteString(" " + PathStyle.Render(d.Script) + "\n")
	}
	if d.Line != "" {
		sb.WriteString(failLabelStyle.Render("Line:"))
		sb.WriteString("   " + failValueStyle.Render(d.Line) + "\n")
	}
	if d.Message != "" {
		sb.WriteString(failLabelStyle.Render("Error:"))
		sb.WriteString("  " + failValueStyle.Render(d.Message) + "\n")
	}
	sb.WriteString(failLabelStyle.Render("Status:"))
	sb.WriteString(" " + failValueStyle.Render(d.Status.String()) + "\n")

	if d.ExitCode != 0 {
		sb.WriteString(failLabelStyle.Render("Exit:"))
		sb.WriteString("   " + failValueStyle.Render(fmt.Sprintf("%d", d.ExitCode)) + "\n")
	}
	if d.Stdout != "" {
		sb.WriteString("\n" + failLabelStyle.Render("Captured stdout:") + "\n")
		sb.WriteString(failValueStyle.Render(strings.TrimRight(d.Stdout, "\n")) + "\n")
	}
	if d.Stderr != "" {
		sb.WriteString("\n" + failLabelStyle.Render("Captured stderr:") + "\n")
		sb.WriteString(failValueStyle.Render(strings.TrimRight(d.Stderr, "\n")) + "\n")
	}
	if verbose && d.RunID != "" {
		sb.WriteString("\n" + VerboseStyle.Render("run id: "+d.RunID))
	}

	return sb.String()
}
