// SPDX-License-Identifier: MPL-2.0

// Package config loads the stager engine configuration: a small TOML file
// under the platform config directory, merged over built-in defaults with
// viper. Everything in it is optional; a missing file means defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name, used for the config directory.
	AppName = "stager"
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
)

// Config holds the engine-level settings a host can tune without touching
// scripts. Script variables always win over these defaults at run time.
type Config struct {
	// DefaultTimeoutSeconds seeds ProcessTimeoutSeconds for each run.
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds"`
	// RedirectOutput seeds the RedirectOutput variable for each run.
	RedirectOutput bool `mapstructure:"redirect_output"`
	// Compression selects the archive codec wrapper: none, deflate or xz.
	Compression string `mapstructure:"compression"`
	// MarkerFile names the installation-root marker searched for by the
	// InstallRoot resolvable.
	MarkerFile string `mapstructure:"marker_file"`
	// Verbose enables debug logging without the --verbose flag.
	Verbose bool `mapstructure:"verbose"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeoutSeconds: 300,
		RedirectOutput:        false,
		Compression:           "deflate",
		MarkerFile:            "stager.root",
	}
}

// configDirOverride lets tests redirect the config directory.
var configDirOverride string

// SetConfigDirOverride redirects config loading to dir. Intended for tests
// and the --config flag.
func SetConfigDirOverride(dir string) { configDirOverride = dir }

// ConfigDir returns the stager configuration directory using platform
// conventions: %APPDATA% on Windows, ~/Library/Application Support on macOS,
// $XDG_CONFIG_HOME (default ~/.config) elsewhere.
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(configDir, AppName), nil
}

// Load reads the config file, when present, over the defaults. It returns
// the effective config and the path of the file that was read ("" when only
// defaults applied).
func Load() (*Config, string, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("default_timeout_seconds", defaults.DefaultTimeoutSeconds)
	v.SetDefault("redirect_output", defaults.RedirectOutput)
	v.SetDefault("compression", defaults.Compression)
	v.SetDefault("marker_file", defaults.MarkerFile)
	v.SetDefault("verbose", false)

	cfgDir, err := ConfigDir()
	if err != nil {
		return nil, "", err
	}

	v.SetConfigName(ConfigFileName)
	v.SetConfigType(ConfigFileExt)
	v.AddConfigPath(cfgDir)
	v.AddConfigPath(".")

	resolvedPath := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
		// No file: defaults only.
	} else {
		resolvedPath = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, resolvedPath, nil
}

// Save writes cfg to the config file, creating the directory as needed.
func Save(cfg *Config) (string, error) {
	cfgDir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(cfgPath, []byte(GenerateTOML(cfg)), 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return cfgPath, nil
}

// GenerateTOML renders cfg as a commented TOML document.
func GenerateTOML(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("# stager configuration file\n\n")
	sb.WriteString(fmt.Sprintf("default_timeout_seconds = %d\n", cfg.DefaultTimeoutSeconds))
	sb.WriteString(fmt.Sprintf("redirect_output = %v\n", cfg.RedirectOutput))
	sb.WriteString(fmt.Sprintf("compression = %q\n", cfg.Compression))
	sb.WriteString(fmt.Sprintf("marker_file = %q\n", cfg.MarkerFile))
	sb.WriteString(fmt.Sprintf("verbose = %v\n", cfg.Verbose))
	return sb.String()
}
