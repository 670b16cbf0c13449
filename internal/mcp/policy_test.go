package mcp

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePolicyFile(t *testing.T, dir, content string) {
	t.Helper()
	policyPath := filepath.Join(dir, PolicyFileName)
	if err := os.WriteFile(policyPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}
}

func TestLoadPolicy_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := LoadPolicy(tmpDir)
	if err != ErrPolicyNotFound {
		t.Errorf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestLoadPolicy_Success(t *testing.T) {
	tmpDir := t.TempDir()

	writePolicyFile(t, tmpDir, `version: 1
default_action: deny
allowed_archives:
  - treasures
  - shadows
allow_record_read: true
max_records: 25
max_preview_bytes: 512
`)

	policy, err := LoadPolicy(tmpDir)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	if policy.Version != 1 {
		t.Errorf("expected version 1, got %d", policy.Version)
	}
	if policy.DefaultAction != ActionDeny {
		t.Errorf("expected default_action 'deny', got '%s'", policy.DefaultAction)
	}
	if len(policy.AllowedArchives) != 2 {
		t.Errorf("expected 2 allowed archives, got %d", len(policy.AllowedArchives))
	}
	if !policy.AllowRecordRead {
		t.Error("expected allow_record_read to be true")
	}
	if policy.MaxRecords != 25 {
		t.Errorf("expected max_records 25, got %d", policy.MaxRecords)
	}
	if policy.MaxPreviewBytes != 512 {
		t.Errorf("expected max_preview_bytes 512, got %d", policy.MaxPreviewBytes)
	}
}

func TestLoadPolicy_InsecurePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicyFile(t, tmpDir, "version: 1\ndefault_action: deny\n")

	// Loosen after the write so the umask cannot interfere
	if err := os.Chmod(filepath.Join(tmpDir, PolicyFileName), 0644); err != nil {
		t.Fatalf("failed to chmod policy file: %v", err)
	}

	_, err := LoadPolicy(tmpDir)
	if !errors.Is(err, ErrPolicyInsecure) {
		t.Errorf("expected ErrPolicyInsecure, got %v", err)
	}
}

func TestLoadPolicy_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicyFile(t, tmpDir, `invalid: yaml: content: [[[`)

	_, err := LoadPolicy(tmpDir)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadPolicy_UnsupportedVersion(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicyFile(t, tmpDir, "version: 99\ndefault_action: deny\n")

	_, err := LoadPolicy(tmpDir)
	if err == nil {
		t.Error("expected error for unsupported version")
	}
}

func TestLoadPolicy_InvalidDefaultAction(t *testing.T) {
	tmpDir := t.TempDir()
	writePolicyFile(t, tmpDir, "version: 1\ndefault_action: maybe\n")

	_, err := LoadPolicy(tmpDir)
	if err == nil {
		t.Error("expected error for invalid default_action")
	}
}

func TestLoadPolicy_Defaults(t *testing.T) {
	tmpDir := t.TempDir()

	// Neither default_action nor the caps are set
	writePolicyFile(t, tmpDir, "version: 1\nallow_record_read: true\n")

	policy, err := LoadPolicy(tmpDir)
	if err != nil {
		t.Fatalf("LoadPolicy failed: %v", err)
	}

	if policy.DefaultAction != ActionDeny {
		t.Errorf("expected default_action 'deny', got '%s'", policy.DefaultAction)
	}
	if policy.MaxRecords != DefaultMaxRecords {
		t.Errorf("expected max_records %d, got %d", DefaultMaxRecords, policy.MaxRecords)
	}
	if policy.MaxPreviewBytes != DefaultMaxPreviewBytes {
		t.Errorf("expected max_preview_bytes %d, got %d", DefaultMaxPreviewBytes, policy.MaxPreviewBytes)
	}
}

func TestLoadPolicy_Symlink(t *testing.T) {
	tmpDir := t.TempDir()

	realPath := filepath.Join(tmpDir, "real-policy.yaml")
	if err := os.WriteFile(realPath, []byte("version: 1\ndefault_action: deny\n"), 0600); err != nil {
		t.Fatalf("failed to write real policy file: %v", err)
	}

	policyPath := filepath.Join(tmpDir, PolicyFileName)
	if err := os.Symlink(realPath, policyPath); err != nil {
		t.Skipf("cannot create symlinks here: %v", err)
	}

	_, err := LoadPolicy(tmpDir)
	if err != ErrPolicySymlink {
		t.Errorf("expected ErrPolicySymlink, got %v", err)
	}
}

func TestIsArchiveAllowed_DefaultDeny(t *testing.T) {
	policy := &Policy{
		Version:         1,
		DefaultAction:   ActionDeny,
		AllowedArchives: []string{"treasures", "shadows"},
	}

	tests := []struct {
		archive string
		allowed bool
	}{
		{"treasures", true},
		{"shadows", true},
		{"silences", false},
		{"voids", false},
	}

	for _, tt := range tests {
		t.Run(tt.archive, func(t *testing.T) {
			allowed, reason := policy.IsArchiveAllowed(tt.archive)
			if allowed != tt.allowed {
				t.Errorf("IsArchiveAllowed(%s) = %v, want %v", tt.archive, allowed, tt.allowed)
			}
			if !tt.allowed && reason == "" {
				t.Errorf("expected reason for denied archive '%s'", tt.archive)
			}
		})
	}
}

func TestIsArchiveAllowed_DefaultAllow(t *testing.T) {
	policy := &Policy{
		Version:       1,
		DefaultAction: ActionAllow,
	}

	for _, archive := range []string{"treasures", "shadows", "anything"} {
		t.Run(archive, func(t *testing.T) {
			allowed, _ := policy.IsArchiveAllowed(archive)
			if !allowed {
				t.Errorf("expected '%s' to be allowed", archive)
			}
		})
	}
}

func TestValidate_Valid(t *testing.T) {
	tests := []struct {
		name   string
		policy *Policy
	}{
		{
			name: "deny policy",
			policy: &Policy{
				Version:       1,
				DefaultAction: ActionDeny,
			},
		},
		{
			name: "allow policy",
			policy: &Policy{
				Version:       1,
				DefaultAction: ActionAllow,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.policy.Validate(); err != nil {
				t.Errorf("Validate failed: %v", err)
			}
		})
	}
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		policy *Policy
	}{
		{
			name: "invalid version",
			policy: &Policy{
				Version:       99,
				DefaultAction: ActionDeny,
			},
		},
		{
			name: "invalid default_action",
			policy: &Policy{
				Version:       1,
				DefaultAction: "invalid",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.policy.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestPolicyConstants(t *testing.T) {
	if ActionAllow != "allow" {
		t.Errorf("ActionAllow = %s, want 'allow'", ActionAllow)
	}
	if ActionDeny != "deny" {
		t.Errorf("ActionDeny = %s, want 'deny'", ActionDeny)
	}
	if PolicyFileName != "mcp-policy.yaml" {
		t.Errorf("PolicyFileName = %s, want 'mcp-policy.yaml'", PolicyFileName)
	}
}

func TestPolicyErrors(t *testing.T) {
	// Verify error variables are defined
	if ErrPolicyNotFound == nil {
		t.Error("ErrPolicyNotFound is nil")
	}
	if ErrPolicyInsecure == nil {
		t.Error("ErrPolicyInsecure is nil")
	}
	if ErrPolicySymlink == nil {
		t.Error("ErrPolicySymlink is nil")
	}
	if ErrPolicyNotOwnedByUser == nil {
		t.Error("ErrPolicyNotOwnedByUser is nil")
	}
}
