package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyFix bool

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().BoolVar(&verifyFix, "fix", false, "Repair what can be repaired")
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the integrity of the archive tree",
	Long: `Walk every archive category checking document parseability, metadata
presence, key sidecar pairing, and record archive checksums.

With --fix: missing metadata blocks are synthesized, orphaned .key
files are deleted, and damaged record archives are truncated to their
valid prefix. Corrupted documents cannot be repaired and always leave
the command failing.

Examples:
  onepai verify
  onepai verify --fix`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}

		report, err := m.Verify(cmd.Context(), verifyFix)
		if err != nil {
			return fmt.Errorf("verify failed: %w", err)
		}

		fmt.Printf("Checked %d files\n", report.TotalFiles)
		printIssueList("Corrupted", report.CorruptedFiles)
		printIssueList("Missing metadata", report.MissingMetadata)
		printIssueList("Orphaned keys", report.OrphanedKeys)
		if len(report.FixedIssues) > 0 {
			fmt.Printf("Fixed %d issues:\n", len(report.FixedIssues))
			for _, f := range report.FixedIssues {
				fmt.Printf("  %s\n", f)
			}
		}
		printWarnings(report.Warnings)

		// Every fixed issue also appears in exactly one of the issue
		// lists, so the difference is what remains broken.
		issues := len(report.CorruptedFiles) + len(report.MissingMetadata) + len(report.OrphanedKeys)
		if remaining := issues - len(report.FixedIssues); remaining > 0 {
			return fmt.Errorf("verification found %d unresolved issues", remaining)
		}
		if issues == 0 {
			fmt.Println("All archives verified")
		}
		return nil
	},
}

func printIssueList(label string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Printf("%s (%d):\n", label, len(paths))
	for _, p := range paths {
		fmt.Printf("  %s\n", p)
	}
}
