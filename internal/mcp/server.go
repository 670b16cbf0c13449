// Package mcp implements the MCP (Model Context Protocol) server for the
// archive tree. Every tool is read-only: agents can inspect categories,
// statistics, and integrity state, and, when the policy allows it, read
// record contents as truncated previews. Nothing exposed here mutates the
// tree.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/onepai/onepai/pkg/journal"
	"github.com/onepai/onepai/pkg/manager"
)

// serverName identifies this server in the MCP handshake.
const serverName = "onepai"

// Server exposes the archive tree over MCP stdio transport.
type Server struct {
	server  *mcp.Server
	manager *manager.Manager
	dataDir string
	policy  *Policy
	journal *journal.Journal
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// DataDir is the root of the archive tree. Defaults to "data".
	DataDir string

	// Archives overrides the managed categories.
	// Defaults to manager.DefaultArchives.
	Archives []string

	// Journal, when set, receives an event for every record_read call.
	Journal *journal.Journal
}

// NewServer creates a new MCP server instance over the archive tree.
//
// The policy is loaded once at startup. A missing or unloadable policy is
// not fatal: the server then runs in metadata-only mode, where category
// listings, statistics, and integrity checks work but record contents are
// refused.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil {
		opts = &ServerOptions{}
	}

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = "data"
	}

	policy, err := LoadPolicy(dataDir)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			log.Printf("no MCP policy in %s; running in metadata-only mode", dataDir)
		} else {
			log.Printf("warning: failed to load MCP policy: %v; running in metadata-only mode", err)
		}
		policy = nil
	}

	categories := opts.Archives
	if len(categories) == 0 {
		categories = manager.DefaultArchives
	}

	// The manager is scoped to the visible categories, so every tool is
	// filtered the same way. When the policy denies all of them there is
	// no manager at all and the tools answer with an error.
	visible := visibleArchives(policy, categories)
	var m *manager.Manager
	if len(visible) > 0 {
		m, err = manager.New(manager.Config{DataDir: dataDir, Archives: visible})
		if err != nil {
			return nil, fmt.Errorf("failed to open archive tree: %w", err)
		}
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: manager.Version,
		},
		nil,
	)

	s := &Server{
		server:  mcpServer,
		manager: m,
		dataDir: dataDir,
		policy:  policy,
		journal: opts.Journal,
	}

	s.registerTools()

	return s, nil
}

// visibleArchives filters categories down to what the policy exposes.
// Without a policy every category stays visible; only record contents are
// locked behind one.
func visibleArchives(p *Policy, categories []string) []string {
	if p == nil {
		return categories
	}
	visible := make([]string, 0, len(categories))
	for _, name := range categories {
		if allowed, _ := p.IsArchiveAllowed(name); allowed {
			visible = append(visible, name)
		}
	}
	return visible
}

// visibleManager returns the policy-scoped manager, or an error when the
// policy exposes no categories at all.
func (s *Server) visibleManager() (*manager.Manager, error) {
	if s.manager == nil {
		return nil, errors.New("no archives are allowed by the MCP policy")
	}
	return s.manager, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	// archive_list - file metadata per category (no record contents)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "archive_list",
		Description: "List files in the archive categories with metadata: name, size, modification time, inferred type, and document annotations. Does NOT return file or record contents.",
	}, s.handleArchiveList)

	// archive_stats - aggregate numbers over the tree
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "archive_stats",
		Description: "Aggregate statistics over the archive tree: file counts, sizes, and type breakdown per category. Detailed mode adds duplicate content groups.",
	}, s.handleArchiveStats)

	// archive_verify - integrity check, never repairs
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "archive_verify",
		Description: "Check archive integrity: document parseability, metadata presence, key sidecar pairing, and record archive framing. Reports problems but never repairs anything.",
	}, s.handleArchiveVerify)

	// record_read - record contents, gated by policy
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "record_read",
		Description: "Read records from one archive file as truncated payload previews. Requires a policy with allow_record_read; the policy also caps record count and preview size.",
	}, s.handleRecordRead)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
