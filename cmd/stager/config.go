// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"stager-cli/internal/config"
	"stager-cli/internal/issue"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stager configuration",
	Long: `Manage stager configuration.

Configuration is stored in:
  - Linux: ~/.config/stager/config.toml
  - macOS: ~/Library/Application Support/stager/config.toml
  - Windows: %APPDATA%\stager\config.toml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig()
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfigFile()
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath()
		},
	})
}

func showConfig() error {
	loaded, cfgPath, err := config.Load()
	if err != nil {
		return issue.WrapWithOperation(err, "load config")
	}

	fmt.Println(TitleStyle.Render("Current Configuration"))
	fmt.Println()

	if cfgPath != "" {
		fmt.Printf("%s: %s\n", PathStyle.Render("Config file"), cfgPath)
	} else {
		fmt.Printf("%s: %s\n", PathStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Println()

	fmt.Printf("%s: %s\n", PathStyle.Render("default_timeout_seconds"), SuccessStyle.Render(fmt.Sprintf("%d", loaded.DefaultTimeoutSeconds)))
	fmt.Printf("%s: %s\n", PathStyle.Render("redirect_output"), SuccessStyle.Render(fmt.Sprintf("%v", loaded.RedirectOutput)))
	fmt.Printf("%s: %s\n", PathStyle.Render("compression"), SuccessStyle.Render(loaded.Compression))
	fmt.Printf("%s: %s\n", PathStyle.Render("marker_file"), SuccessStyle.Render(loaded.MarkerFile))
	fmt.Printf("%s: %s\n", PathStyle.Render("verbose"), SuccessStyle.Render(fmt.Sprintf("%v", loaded.Verbose)))

	return nil
}

func initConfigFile() error {
	cfgPath, err := config.Save(config.DefaultConfig())
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("create config").
			WithSuggestion("Check permissions on the config directory").
			Wrap(err).
			BuildError()
	}

	fmt.Printf("%s Created default configuration at %s\n", SuccessStyle.Render("✓"), cfgPath)
	return nil
}

func showConfigPath() error {
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}

	fmt.Printf("Config directory: %s\n", dir)
	fmt.Printf("Config file: %s\n", filepath.Join(dir, config.ConfigFileName+"."+config.ConfigFileExt))
	return nil
}
