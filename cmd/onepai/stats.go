package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/onepai/onepai/internal/cli"
	"github.com/spf13/cobra"
)

var statsDetailed bool

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().BoolVar(&statsDetailed, "detailed", false, "Include per-file entries and duplicate content groups")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show archive tree statistics",
	Long: `Aggregate per-category and overall numbers for the archive tree.
Detailed mode also lists every file and groups byte-identical copies.

Examples:
  onepai stats
  onepai stats --detailed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}

		stats, err := m.Statistics(cmd.Context(), statsDetailed)
		if err != nil {
			return fmt.Errorf("failed to gather statistics: %w", err)
		}

		fmt.Printf("Archives:   %d\n", stats.Summary.TotalArchives)
		fmt.Printf("Files:      %d\n", stats.Summary.TotalFiles)
		fmt.Printf("Total size: %s\n", humanize.Bytes(uint64(stats.Summary.TotalSizeBytes)))
		if stats.Summary.OldestFile != "" {
			fmt.Printf("Oldest:     %s\n", stats.Summary.OldestFile)
			fmt.Printf("Newest:     %s\n", stats.Summary.NewestFile)
		}

		fmt.Println()
		for _, name := range cli.MapKeys(stats.ByArchive) {
			a := stats.ByArchive[name]
			line := fmt.Sprintf("%-12s %4d files  %9s", name, a.FileCount, humanize.Bytes(uint64(a.TotalSize)))
			if len(a.FileTypes) > 0 {
				line += "  " + formatTypeHistogram(a.FileTypes)
			}
			fmt.Println(line)
			if statsDetailed {
				for _, f := range a.Files {
					fmt.Println(formatFileLine(f))
				}
			}
		}

		if len(stats.Duplicates) > 0 {
			fmt.Printf("\nDuplicate content (%d groups):\n", len(stats.Duplicates))
			for _, g := range stats.Duplicates {
				fmt.Printf("  %s  %d copies, %s each\n", g.Hash[:12], g.Count, humanize.Bytes(uint64(g.Size)))
				for _, p := range g.Paths {
					fmt.Printf("    %s\n", p)
				}
			}
		}

		printWarnings(stats.Warnings)
		return nil
	},
}

// formatTypeHistogram renders a file-type histogram like
// "record:3 archive:1".
func formatTypeHistogram(types map[string]int) string {
	parts := make([]string, 0, len(types))
	for _, t := range cli.MapKeys(types) {
		parts = append(parts, fmt.Sprintf("%s:%d", t, types[t]))
	}
	return strings.Join(parts, " ")
}
