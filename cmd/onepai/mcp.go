package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/onepai/onepai/internal/mcp"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start the MCP server that gives AI assistants read-only access to the
archive tree over stdio.

Available tools:
  - archive_list:   List archive files with metadata (no contents)
  - archive_stats:  Aggregate archive statistics
  - archive_verify: Integrity check that reports but never repairs
  - record_read:    Read records from one .onepai archive (policy-gated)

Policy:
  Create <data-dir>/mcp-policy.yaml to choose which archives are
  visible and whether record_read is enabled. Without a policy file
  the server runs in metadata-only mode and record_read is refused.

Every record_read, allowed or denied, is written to the operations
journal.

Example MCP client configuration:
  {
    "mcpServers": {
      "onepai": {
        "type": "stdio",
        "command": "/path/to/onepai",
        "args": ["mcp-server", "--data-dir", "/path/to/data"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer()
	},
}

func runMCPServer() error {
	j, err := openJournal()
	if err != nil {
		return err
	}

	server, err := mcp.NewServer(&mcp.ServerOptions{
		DataDir: dataDir,
		Journal: j,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
