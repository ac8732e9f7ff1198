// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"stager-cli/internal/issue"
	"stager-cli/pkg/archive"

	"github.com/spf13/cobra"
)

var (
	archiveCompression string

	archiveCmd = &cobra.Command{
		Use:   "archive",
		Short: "Create, extract and inspect payload archives",
		Long: `Create, extract and inspect stager payload archives.

Archives are flat length-prefixed containers with no index; entries are
read sequentially in the order they were written. The same compression
setting must be used to read an archive as was used to write it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	archiveCreateCmd = &cobra.Command{
		Use:   "create <archive> <dir>",
		Short: "Create an archive from a directory tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return createArchive(args[0], args[1])
		},
	}

	archiveExtractCmd = &cobra.Command{
		Use:   "extract <archive> <dest>",
		Short: "Extract an archive into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return extractArchive(args[0], args[1])
		},
	}

	archiveListCmd = &cobra.Command{
		Use:   "list <archive>",
		Short: "List archive entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return listArchive(args[0])
		},
	}
)

func init() {
	archiveCmd.PersistentFlags().StringVar(&archiveCompression, "compression", "", "archive compression: none, deflate or xz (default from config)")

	archiveCmd.AddCommand(archiveCreateCmd)
	archiveCmd.AddCommand(archiveExtractCmd)
	archiveCmd.AddCommand(archiveListCmd)
}

func createArchive(archivePath, dir string) error {
	opts, err := archiveOptions(archiveCompression)
	if err != nil {
		return err
	}

	files, err := collectFiles(dir)
	if err != nil {
		return issue.WrapWithContext(err, "create archive", dir)
	}
	if len(files) == 0 {
		return issue.NewErrorContext().
			WithOperation("create archive").
			WithResource(dir).
			WithSuggestion("The directory contains no regular files").
			BuildError()
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return issue.WrapWithContext(err, "create archive", archivePath)
	}
	defer out.Close()

	if err := archive.Create(out, dir, files, opts); err != nil {
		return issue.WrapWithContext(err, "create archive", archivePath)
	}
	if err := out.Close(); err != nil {
		return issue.WrapWithContext(err, "create archive", archivePath)
	}

	fmt.Printf("%s Wrote %s (%d entries)\n", SuccessStyle.Render("✓"), PathStyle.Render(archivePath), len(files))
	return nil
}

func extractArchive(archivePath, dest string) error {
	opts, err := archiveOptions(archiveCompression)
	if err != nil {
		return err
	}

	in, err := os.Open(archivePath)
	if err != nil {
		return issue.WrapWithContext(err, "extract archive", archivePath)
	}
	defer in.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return issue.WrapWithContext(err, "extract archive", dest)
	}
	if err := archive.Extract(in, dest, opts); err != nil {
		return issue.NewErrorContext().
			WithOperation("extract archive").
			WithResource(archivePath).
			WithSuggestion("Check that --compression matches the setting the archive was created with").
			Wrap(err).
			BuildError()
	}

	fmt.Printf("%s Extracted %s into %s\n", SuccessStyle.Render("✓"), PathStyle.Render(archivePath), PathStyle.Render(dest))
	return nil
}

func listArchive(archivePath string) error {
	opts, err := archiveOptions(archiveCompression)
	if err != nil {
		return err
	}

	in, err := os.Open(archivePath)
	if err != nil {
		return issue.WrapWithContext(err, "list archive", archivePath)
	}
	defer in.Close()

	entries, err := archive.List(in, opts)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("list archive").
			WithResource(archivePath).
			WithSuggestion("Check that --compression matches the setting the archive was created with").
			Wrap(err).
			BuildError()
	}

	var total int64
	for _, e := range entries {
		fmt.Printf("%10d  %s\n", e.Size, PathStyle.Render(e.Path))
		total += e.Size
	}
	fmt.Println(SubtitleStyle.Render(fmt.Sprintf("%d entries, %d bytes", len(entries), total)))
	return nil
}

// collectFiles walks dir and returns every regular file in lexical order,
// which keeps archive creation deterministic for a given tree.
func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
