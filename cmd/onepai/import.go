package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/onepai/onepai/pkg/manager"
	"github.com/spf13/cobra"
)

var importMerge bool

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importMerge, "merge", false, "Add alongside existing documents, skipping ids that already exist")
}

var importCmd = &cobra.Command{
	Use:   "import <export-file>",
	Short: "Import documents from an exchange file",
	Long: `Read an export envelope and write its documents back into the archive
tree as <id>.json. The format is detected from the file extension.

Without --merge, the import refuses to write into categories that
already hold data.

Examples:
  onepai import onepai_export_20240101_120000.json
  onepai import findings.yaml --merge`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newManager()
		if err != nil {
			return err
		}

		result, err := m.Import(cmd.Context(), args[0], manager.ImportOptions{Merge: importMerge})
		if err != nil {
			var conflict *manager.ConflictError
			if errors.As(err, &conflict) {
				fmt.Fprintln(os.Stderr, "Import would write into non-empty archives:")
				for _, p := range conflict.Paths {
					fmt.Fprintf(os.Stderr, "  %s\n", p)
				}
				return fmt.Errorf("import aborted; use --merge to add alongside existing documents")
			}
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Printf("Imported %d documents", result.Imported)
		if result.Skipped > 0 {
			fmt.Printf(" (%d skipped)", result.Skipped)
		}
		fmt.Println()
		printWarnings(result.Warnings)
		return nil
	},
}
