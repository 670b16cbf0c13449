package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/onepai/onepai/internal/cli"
	"github.com/onepai/onepai/pkg/manager"
	"github.com/spf13/cobra"
)

var (
	cleanOlderThan string
	cleanArchive   string
	cleanDryRun    bool
	cleanForce     bool
)

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().StringVar(&cleanOlderThan, "older-than", "", "Remove files older than this (plain days or 30d-style duration)")
	cleanCmd.Flags().StringVar(&cleanArchive, "archive", "", "Restrict cleaning to one category")
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanCmd.Flags().BoolVarP(&cleanForce, "force", "f", false, "Skip confirmation prompt")
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old files from the archive tree",
	Long: `Remove files whose modification time is older than the retention
cutoff. The walk is recursive, so derived artifacts in nested
directories age out too.

Examples:
  # Preview what 30-day retention would remove
  onepai clean --older-than 30 --dry-run

  # Remove shadows older than four weeks
  onepai clean --older-than 4w --archive shadows

  # No confirmation prompt
  onepai clean --older-than 90d --force`,
	RunE: executeClean,
}

func executeClean(cmd *cobra.Command, args []string) error {
	if cleanOlderThan == "" {
		return fmt.Errorf("--older-than flag is required")
	}
	days, err := parseOlderThanDays(cleanOlderThan)
	if err != nil {
		return err
	}

	m, err := newManager()
	if err != nil {
		return err
	}

	opts := manager.CleanOptions{
		OlderThanDays: days,
		Archive:       cleanArchive,
		DryRun:        true,
	}
	preview, err := m.Clean(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("clean failed: %w", err)
	}
	count := removedCount(preview.Removed)

	if count == 0 {
		fmt.Println("No files older than the cutoff")
		return nil
	}

	if cleanDryRun {
		fmt.Printf("Would remove %d files older than %s:\n", count, cleanOlderThan)
		printRemoved(preview.Removed)
		return nil
	}

	if !cleanForce {
		fmt.Printf("This will remove %d files older than %s.\n", count, cleanOlderThan)
		if !confirm() {
			fmt.Println("Aborted")
			return nil
		}
	}

	opts.DryRun = false
	result, err := m.Clean(cmd.Context(), opts)
	if err != nil {
		return fmt.Errorf("clean failed: %w", err)
	}

	fmt.Printf("Removed %d files\n", removedCount(result.Removed))
	if verbose {
		printRemoved(result.Removed)
	}
	return nil
}

// parseOlderThanDays parses --older-than: a bare day count or a
// d/w/m/y suffixed duration. Sub-day durations are rejected so a
// mistyped unit cannot empty the tree.
func parseOlderThanDays(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid --older-than %q: days must not be negative", s)
		}
		return n, nil
	}
	d, err := parseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid --older-than %q: %w", s, err)
	}
	if d <= 0 || d%(24*time.Hour) != 0 {
		return 0, fmt.Errorf("invalid --older-than %q: must be a whole number of days", s)
	}
	return int(d / (24 * time.Hour)), nil
}

func removedCount(removed map[string][]string) int {
	count := 0
	for _, paths := range removed {
		count += len(paths)
	}
	return count
}

func printRemoved(removed map[string][]string) {
	for _, name := range cli.MapKeys(removed) {
		for _, p := range removed[name] {
			fmt.Printf("  %s\n", p)
		}
	}
}
