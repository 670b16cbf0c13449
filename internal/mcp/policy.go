package mcp

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Policy gates what the MCP tools may expose from the archive tree.
// Categories outside the allowed set are invisible to every tool, and
// record contents stay locked unless allow_record_read is set.
type Policy struct {
	Version         int      `yaml:"version"`
	DefaultAction   string   `yaml:"default_action"`
	AllowedArchives []string `yaml:"allowed_archives"`
	AllowRecordRead bool     `yaml:"allow_record_read"`
	MaxRecords      int      `yaml:"max_records"`
	MaxPreviewBytes int      `yaml:"max_preview_bytes"`
}

// PolicyFileName is the name of the policy file inside the data directory.
const PolicyFileName = "mcp-policy.yaml"

// Policy action constants
const (
	ActionAllow = "allow"
	ActionDeny  = "deny"
)

// Caps applied when the policy file leaves them unset (or non-positive).
const (
	DefaultMaxRecords      = 100
	DefaultMaxPreviewBytes = 2048
)

// ErrPolicyNotFound is returned when no policy file exists
var ErrPolicyNotFound = errors.New("MCP policy file not found")

// ErrPolicyInsecure is returned when the policy file has insecure permissions
var ErrPolicyInsecure = errors.New("MCP policy file has insecure permissions")

// ErrPolicySymlink is returned when the policy file is a symlink
var ErrPolicySymlink = errors.New("MCP policy file is a symlink")

// ErrPolicyNotOwnedByUser is returned when the policy file is not owned by the current user
var ErrPolicyNotOwnedByUser = errors.New("MCP policy file not owned by current user")

// LoadPolicy loads the MCP policy from the data directory. The file is
// opened without following symlinks and all checks run against the open
// descriptor, so nothing can be swapped underneath between check and read.
func LoadPolicy(dataDir string) (*Policy, error) {
	policyPath := filepath.Join(dataDir, PolicyFileName)

	f, err := openPolicyFile(policyPath)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) || errors.Is(err, ErrPolicySymlink) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open policy file: %w", err)
	}
	defer f.Close()

	// fstat on the descriptor we actually read from
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat policy file: %w", err)
	}

	if perm := info.Mode().Perm(); perm != 0600 {
		return nil, fmt.Errorf("%w: %o (expected 0600)", ErrPolicyInsecure, perm)
	}

	if err := checkFileOwnership(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	// Absent default_action means deny
	if policy.DefaultAction == "" {
		policy.DefaultAction = ActionDeny
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	if policy.MaxRecords <= 0 {
		policy.MaxRecords = DefaultMaxRecords
	}
	if policy.MaxPreviewBytes <= 0 {
		policy.MaxPreviewBytes = DefaultMaxPreviewBytes
	}

	return &policy, nil
}

// IsArchiveAllowed checks whether a category is visible under the policy.
// Evaluation order:
// 1. allowed_archives → allow
// 2. default_action
func (p *Policy) IsArchiveAllowed(name string) (allowed bool, reason string) {
	for _, a := range p.AllowedArchives {
		if a == name {
			return true, ""
		}
	}

	if p.DefaultAction == ActionAllow {
		return true, ""
	}

	return false, fmt.Sprintf("archive '%s' not in allowed_archives list", name)
}

// Validate checks the policy configuration.
func (p *Policy) Validate() error {
	if p.Version != 1 {
		return fmt.Errorf("unsupported policy version: %d", p.Version)
	}

	if p.DefaultAction != ActionDeny && p.DefaultAction != ActionAllow {
		return fmt.Errorf("invalid default_action: %s (must be '%s' or '%s')", p.DefaultAction, ActionDeny, ActionAllow)
	}

	return nil
}
