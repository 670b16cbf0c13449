package main

import (
	"fmt"
	"time"

	"github.com/onepai/onepai/internal/cli"
	"github.com/spf13/cobra"
)

var (
	tracesLimit          int
	tracesPruneOlderThan string
	tracesPruneForce     bool
)

func init() {
	rootCmd.AddCommand(tracesCmd)
	tracesCmd.AddCommand(tracesListCmd)
	tracesCmd.AddCommand(tracesSummaryCmd)
	tracesCmd.AddCommand(tracesPruneCmd)

	tracesListCmd.Flags().IntVar(&tracesLimit, "limit", 50, "Maximum number of traces to show")

	tracesPruneCmd.Flags().StringVar(&tracesPruneOlderThan, "older-than", "", "Delete traces older than duration (e.g. 90d)")
	tracesPruneCmd.Flags().BoolVarP(&tracesPruneForce, "force", "f", false, "Skip confirmation prompt")
}

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Trace registry operations",
}

var tracesListCmd = &cobra.Command{
	Use:   "list <layer>",
	Short: "List the traces recorded for a layer",
	Long: `List traces for one layer, newest first. Use "onepai traces summary"
to see which layers exist.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRegistry()
		if err != nil {
			return err
		}
		defer r.Close()

		traces, err := r.Get(args[0], tracesLimit)
		if err != nil {
			return err
		}
		if len(traces) == 0 {
			fmt.Println("No traces found")
			return nil
		}

		for _, t := range traces {
			line := fmt.Sprintf("%s %s", t.RecordedAt.Format(time.RFC3339), t.Source)
			if t.Archive != "" {
				line += " archive:" + t.Archive
			}
			if c := t.Checksum; c != "" {
				if len(c) > 12 {
					c = c[:12]
				}
				line += " checksum:" + c
			}
			fmt.Println(line)
		}

		fmt.Printf("\nTotal: %d traces\n", len(traces))
		return nil
	},
}

var tracesSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the trace count per layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRegistry()
		if err != nil {
			return err
		}
		defer r.Close()

		summary, err := r.Summary()
		if err != nil {
			return err
		}
		if len(summary) == 0 {
			fmt.Println("No traces recorded")
			return nil
		}

		for _, layer := range cli.MapKeys(summary) {
			fmt.Printf("%-20s %d\n", layer, summary[layer])
		}
		return nil
	},
}

var tracesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old traces",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tracesPruneOlderThan == "" {
			return fmt.Errorf("--older-than flag is required")
		}
		d, err := parseDuration(tracesPruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid older-than format: %w", err)
		}
		before := time.Now().Add(-d)

		if !tracesPruneForce {
			fmt.Printf("This will delete every trace recorded before %s.\n", before.Format(time.RFC3339))
			if !confirm() {
				fmt.Println("Aborted")
				return nil
			}
		}

		r, err := openRegistry()
		if err != nil {
			return err
		}
		defer r.Close()

		n, err := r.Prune(before)
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d traces\n", n)
		return nil
	},
}
