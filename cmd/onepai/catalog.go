package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/onepai/onepai/internal/cli"
	"github.com/onepai/onepai/pkg/catalog"
	"github.com/spf13/cobra"
)

var (
	catalogAddType       string
	catalogAddContent    string
	catalogAddConfidence float64
	catalogAddReason     string
	catalogAddContext    []string

	catalogListLimit   int
	catalogListTypes   []string
	catalogListSince   string
	catalogListMinConf float64

	catalogExportIDs    []string
	catalogExportOutput string
	catalogExportFormat string
)

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogAddCmd)
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogStatsCmd)
	catalogCmd.AddCommand(catalogExportCmd)

	catalogAddCmd.Flags().StringVarP(&catalogAddType, "type", "t", "", "Content type of the item")
	catalogAddCmd.Flags().StringVarP(&catalogAddContent, "content", "c", "", "Content as JSON, or - to read from stdin")
	catalogAddCmd.Flags().Float64Var(&catalogAddConfidence, "confidence", 0, "Pertinence estimate (0-1)")
	catalogAddCmd.Flags().StringVar(&catalogAddReason, "reason", "", "Why the content was withheld")
	catalogAddCmd.Flags().StringArrayVar(&catalogAddContext, "context", nil, "Context entry (key=value, can be repeated)")
	_ = catalogAddCmd.MarkFlagRequired("type")
	_ = catalogAddCmd.MarkFlagRequired("content")

	catalogListCmd.Flags().IntVar(&catalogListLimit, "limit", 50, "Maximum number of items to show")
	catalogListCmd.Flags().StringSliceVar(&catalogListTypes, "type", nil, "Only items of these content types")
	catalogListCmd.Flags().StringVar(&catalogListSince, "since", "", "Only items newer than duration (e.g. 7d)")
	catalogListCmd.Flags().Float64Var(&catalogListMinConf, "min-confidence", 0, "Only items at or above this confidence")

	catalogExportCmd.Flags().StringSliceVar(&catalogExportIDs, "id", nil, "Item ids to export (default: all)")
	catalogExportCmd.Flags().StringVarP(&catalogExportOutput, "output", "o", "", "Output file path")
	catalogExportCmd.Flags().StringVarP(&catalogExportFormat, "format", "f", "json", "Output format: json, csv")
	_ = catalogExportCmd.MarkFlagRequired("output")
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Withheld-content catalog operations",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store a withheld item in the catalog",
	Long: `Store one withheld item with its content, confidence and rejection
reason. The content must be valid JSON.

Examples:
  onepai catalog add -t draft_response -c '"the withheld text"' \
      --confidence 0.7 --reason safety_filter

  generate-dump | onepai catalog add -t activation_dump -c - \
      --context layer=12 --context head=3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw := catalogAddContent
		if raw == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read content from stdin: %w", err)
			}
			raw = string(data)
		}
		var content any
		if err := json.Unmarshal([]byte(raw), &content); err != nil {
			return fmt.Errorf("invalid content: %w", err)
		}

		var context map[string]any
		for _, entry := range catalogAddContext {
			k, v, ok := strings.Cut(entry, "=")
			if !ok {
				return fmt.Errorf("invalid context format %q (expected key=value)", entry)
			}
			if context == nil {
				context = make(map[string]any)
			}
			context[k] = v
		}

		c, err := openCatalog()
		if err != nil {
			return err
		}

		item, err := c.Add(catalogAddType, content, catalog.AddOptions{
			Context:         context,
			Confidence:      catalogAddConfidence,
			RejectionReason: catalogAddReason,
		})
		if err != nil {
			return fmt.Errorf("failed to add item: %w", err)
		}

		fmt.Printf("Added item %s\n", item.ID)
		return nil
	},
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog items",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := catalog.Filter{
			ContentTypes:  catalogListTypes,
			MinConfidence: catalogListMinConf,
		}
		if catalogListSince != "" {
			d, err := parseDuration(catalogListSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			filter.Since = time.Now().Add(-d)
		}

		c, err := openCatalog()
		if err != nil {
			return err
		}

		items, err := c.Query(filter, catalogListLimit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No items found")
			return nil
		}

		for _, item := range items {
			line := fmt.Sprintf("%s %s %s confidence:%.2f",
				item.Timestamp.Format(time.RFC3339), item.ID, item.ContentType, item.Confidence)
			if item.RejectionReason != "" {
				line += " reason:" + item.RejectionReason
			}
			fmt.Println(line)
		}

		fmt.Printf("\nTotal: %d items\n", len(items))
		return nil
	},
}

var catalogStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCatalog()
		if err != nil {
			return err
		}

		stats := c.Statistics()
		fmt.Printf("Items:           %d\n", stats.TotalItems)
		fmt.Printf("Mean confidence: %.2f\n", stats.ConfidenceMean)
		if len(stats.ContentTypes) > 0 {
			fmt.Println("By content type:")
			for _, t := range cli.MapKeys(stats.ContentTypes) {
				fmt.Printf("  %-24s %d\n", t, stats.ContentTypes[t])
			}
		}
		if len(stats.RejectionReasons) > 0 {
			fmt.Println("By rejection reason:")
			for _, r := range cli.MapKeys(stats.RejectionReasons) {
				fmt.Printf("  %-24s %d\n", r, stats.RejectionReasons[r])
			}
		}
		if verbose && len(stats.ByMonth) > 0 {
			fmt.Println("By month:")
			for _, m := range cli.MapKeys(stats.ByMonth) {
				fmt.Printf("  %s  %d\n", m, stats.ByMonth[m])
			}
		}
		return nil
	},
}

var catalogExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export catalog items",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCatalog()
		if err != nil {
			return err
		}

		ids := catalogExportIDs
		if len(ids) == 0 {
			items, err := c.Query(catalog.Filter{}, 0)
			if err != nil {
				return err
			}
			for _, item := range items {
				ids = append(ids, item.ID)
			}
		}

		// Export skips unknown ids, so the id count is only an upper
		// bound when --id was given explicitly.
		if err := c.Export(ids, catalogExportOutput, catalogExportFormat); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Export written to %s\n", catalogExportOutput)
		return nil
	},
}
