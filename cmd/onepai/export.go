package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/onepai/onepai/pkg/exchange"
	"github.com/onepai/onepai/pkg/manager"
	"github.com/spf13/cobra"
)

var (
	exportFormat       string
	exportOutput       string
	exportWithMetadata bool
)

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format: json, yaml, csv, xml")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: onepai_export_<timestamp>.<format>)")
	exportCmd.Flags().BoolVar(&exportWithMetadata, "with-metadata", false, "Attach file stat metadata to each document")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export archive documents to an exchange file",
	Long: `Gather every parseable .json document in the archive tree into one
envelope and write it in the chosen exchange format. Documents that
cannot be read are skipped and reported.

CSV and XML are lossy flattenings; use json or yaml when the export is
meant to be imported again.

Examples:
  onepai export
  onepai export -f yaml -o findings.yaml
  onepai export -f csv --with-metadata`,
	RunE: executeExport,
}

func executeExport(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(exportFormat)
	if _, err := exchange.ForFormat(format); err != nil {
		return fmt.Errorf("invalid format %q (use one of: %s)", exportFormat, strings.Join(exchange.ValidFormats(), ", "))
	}
	if exchange.Lossy(exchange.Format(format)) {
		fmt.Fprintf(os.Stderr, "Warning: %s export keeps metadata only; use json or yaml for a lossless round-trip\n", format)
	}

	m, err := newManager()
	if err != nil {
		return err
	}

	result, err := m.Export(cmd.Context(), manager.ExportOptions{
		Format:          format,
		Output:          exportOutput,
		IncludeMetadata: exportWithMetadata,
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Printf("Exported %d documents to %s\n", result.Documents, result.Path)
	printWarnings(result.Warnings)
	return nil
}
