package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/onepai/onepai/internal/cli"
	"github.com/onepai/onepai/pkg/manager"
	"github.com/spf13/cobra"
)

var listFilter string

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listFilter, "filter", "", "Filter expression: type:, tag:, date:, size: (e.g. \"size:>1024\")")
}

var listCmd = &cobra.Command{
	Use:   "list [archive]",
	Short: "List the files in the archive tree",
	Long: `List the files in one archive category, or in all of them. The
category accepts a glob pattern.

Results are sorted newest first. Documents carrying a metadata block
also show their declared type and tags.

Examples:
  # List every category
  onepai list

  # List one category
  onepai list treasures

  # Shadows and silences
  onepai list 's*'

  # Only shadow captures
  onepai list shadows --filter type:shadow

  # Documents tagged attention, any category
  onepai list --filter tag:attention

  # Files over 1 KiB
  onepai list --filter "size:>1024"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}

		names := m.Archives()
		if len(args) == 1 {
			names, err = cli.ExpandPattern(args[0], names)
			if err != nil {
				return err
			}
		}

		total := 0
		var warnings []string
		for _, name := range names {
			listing, err := m.List(name, listFilter)
			if err != nil {
				return fmt.Errorf("failed to list %s: %w", name, err)
			}
			warnings = append(warnings, listing.Warnings...)

			files := listing.Files[name]
			if len(files) == 0 && !verbose {
				continue
			}
			fmt.Printf("%s (%d files)\n", name, len(files))
			for _, f := range files {
				fmt.Println(formatFileLine(f))
			}
			total += len(files)
		}
		if total == 0 {
			fmt.Println("No files found")
		}

		printWarnings(warnings)
		return nil
	},
}

// formatFileLine renders one listing entry.
func formatFileLine(f manager.FileInfo) string {
	line := fmt.Sprintf("  %-36s %9s  %s  %s",
		f.Name, humanize.Bytes(uint64(f.Size)), f.Modified.Format("2006-01-02 15:04"), f.Type)
	if f.DocType != "" && f.DocType != f.Type {
		line += " (" + f.DocType + ")"
	}
	if len(f.Tags) > 0 {
		line += fmt.Sprintf(" [%s]", strings.Join(f.Tags, ","))
	}
	if verbose {
		if f.Source != "" {
			line += " source:" + f.Source
		}
		if f.Significance > 0 {
			line += fmt.Sprintf(" significance:%.2f", f.Significance)
		}
	}
	return line
}
