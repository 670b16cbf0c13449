package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Journal list flags
var (
	journalLimit int
	journalSince string
)

// Journal export flags
var (
	journalExportFormat string
	journalExportSince  string
	journalExportUntil  string
	journalExportOutput string
)

// Journal prune flags
var (
	journalPruneOlderThan string
	journalPruneDryRun    bool
	journalPruneForce     bool
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalVerifyCmd)
	journalCmd.AddCommand(journalExportCmd)
	journalCmd.AddCommand(journalPruneCmd)

	journalListCmd.Flags().IntVar(&journalLimit, "limit", 100, "Maximum number of events to show")
	journalListCmd.Flags().StringVar(&journalSince, "since", "", "Show events since duration (e.g. 24h)")

	journalExportCmd.Flags().StringVar(&journalExportFormat, "format", "json", "Output format: json, csv")
	journalExportCmd.Flags().StringVar(&journalExportSince, "since", "", "Export events since duration (e.g. 30d)")
	journalExportCmd.Flags().StringVar(&journalExportUntil, "until", "", "Export events until date (RFC 3339)")
	journalExportCmd.Flags().StringVarP(&journalExportOutput, "output", "o", "", "Output file path (default: stdout)")

	journalPruneCmd.Flags().StringVar(&journalPruneOlderThan, "older-than", "", "Delete events older than duration (e.g. 12m for 12 months)")
	journalPruneCmd.Flags().BoolVar(&journalPruneDryRun, "dry-run", false, "Show what would be deleted without deleting")
	journalPruneCmd.Flags().BoolVarP(&journalPruneForce, "force", "f", false, "Skip confirmation prompt")
}

// journalCmd is the parent command for operations journal access.
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Operations journal access",
}

// journalListCmd lists journal events.
var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journal events",
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if journalSince != "" {
			duration, err := parseDuration(journalSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}

		j, err := openJournal()
		if err != nil {
			return err
		}

		events, err := j.List(journalLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list journal events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No journal events found")
			return nil
		}

		for _, event := range events {
			line := fmt.Sprintf("%s %s %s", event.Timestamp, event.Operation, event.Result)
			if event.Target != "" {
				line += " target:" + event.Target
			}
			if event.Actor.Source != "" {
				line += " source:" + event.Actor.Source
			}
			if event.Error != nil {
				line += " error:" + event.Error.Code
			}
			fmt.Println(line)
		}

		fmt.Printf("\nTotal: %d events\n", len(events))
		return nil
	},
}

// journalVerifyCmd verifies the journal HMAC chain.
var journalVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the journal HMAC chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		j, err := openJournal()
		if err != nil {
			return err
		}

		fmt.Println("Verifying journal integrity...")
		result, err := j.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify journal: %w", err)
		}

		if !result.Valid {
			fmt.Println("Journal verification FAILED")
			fmt.Printf("  Records total: %d\n", result.RecordsTotal)
			fmt.Printf("  Records verified: %d\n", result.RecordsVerified)
			fmt.Println("  Errors:")
			for _, e := range result.Errors {
				fmt.Printf("    - %s\n", e)
			}
			return fmt.Errorf("journal integrity check failed")
		}

		fmt.Printf("Journal verified: %d records, chain intact\n", result.RecordsTotal)
		if verbose {
			jsonResult, _ := json.Marshal(result)
			fmt.Printf("JSON: %s\n", string(jsonResult))
		}
		return nil
	},
}

// journalExportCmd exports journal events.
var journalExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export journal events to JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if journalExportFormat != "json" && journalExportFormat != "csv" {
			return fmt.Errorf("invalid format: %s (use 'json' or 'csv')", journalExportFormat)
		}

		var since, until time.Time
		if journalExportSince != "" {
			duration, err := parseDuration(journalExportSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}
		if journalExportUntil != "" {
			var err error
			until, err = time.Parse(time.RFC3339, journalExportUntil)
			if err != nil {
				return fmt.Errorf("invalid until format (use RFC 3339): %w", err)
			}
		}

		j, err := openJournal()
		if err != nil {
			return err
		}

		data, err := j.Export(journalExportFormat, since, until)
		if err != nil {
			return fmt.Errorf("failed to export journal: %w", err)
		}

		if journalExportOutput == "" {
			os.Stdout.Write(data)
			return nil
		}

		absPath, err := validateOutputPath(journalExportOutput)
		if err != nil {
			return err
		}
		if err := os.WriteFile(absPath, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Journal exported to %s\n", absPath)
		return nil
	},
}

// validateOutputPath resolves an export destination and keeps it inside
// the current directory, the home directory, or /tmp.
func validateOutputPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid output path: %w", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	homeDir, _ := os.UserHomeDir()

	for _, prefix := range []string{cwd, homeDir, os.TempDir()} {
		if prefix != "" && strings.HasPrefix(absPath, prefix) {
			return absPath, nil
		}
	}
	return "", fmt.Errorf("output path must be within the current directory, home directory, or the temp directory")
}

// journalPruneCmd deletes old journal events.
var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old journal events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if journalPruneOlderThan == "" {
			return fmt.Errorf("--older-than flag is required")
		}
		duration, err := parseDuration(journalPruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid older-than format: %w", err)
		}

		j, err := openJournal()
		if err != nil {
			return err
		}

		count, err := j.PrunePreview(duration)
		if err != nil {
			return fmt.Errorf("failed to preview prune: %w", err)
		}

		if journalPruneDryRun {
			fmt.Printf("Would delete %d journal events older than %s\n", count, journalPruneOlderThan)
			return nil
		}
		if count == 0 {
			fmt.Println("No journal events to delete")
			return nil
		}

		if !journalPruneForce {
			fmt.Printf("This will delete %d journal events older than %s.\n", count, journalPruneOlderThan)
			if !confirm() {
				fmt.Println("Aborted")
				return nil
			}
		}

		deleted, err := j.Prune(duration)
		if err != nil {
			return fmt.Errorf("failed to prune journal: %w", err)
		}

		fmt.Printf("Deleted %d journal events\n", deleted)
		return nil
	},
}
