package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// TestEncryptFileDefaultPath tests the default ".encrypted" output path
func TestEncryptFileDefaultPath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "notes.json")
	plaintext := []byte(`{"id":"n1","text":"plain"}`)
	if err := os.WriteFile(src, plaintext, 0600); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	c, err := NewFromPassword("file-test-password")
	if err != nil {
		t.Fatalf("NewFromPassword() error = %v", err)
	}

	dst, err := c.EncryptFile(src, "")
	if err != nil {
		t.Fatalf("EncryptFile() error = %v", err)
	}
	if dst != src+EncryptedSuffix {
		t.Errorf("EncryptFile() dst = %q, want %q", dst, src+EncryptedSuffix)
	}

	blob, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read encrypted file: %v", err)
	}
	if bytes.Contains(blob, plaintext) {
		t.Error("encrypted file should not contain the plaintext")
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(dst)
		if err != nil {
			t.Fatalf("failed to stat encrypted file: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("encrypted file mode = %o, want 0600", info.Mode().Perm())
		}
	}
}

// TestEncryptDecryptFileRoundTrip tests that decrypting restores the
// original name and content
func TestEncryptDecryptFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "archive.tar.gz")
	plaintext := []byte("pretend this is a tarball")
	if err := os.WriteFile(src, plaintext, 0600); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	c, err := NewFromPassword("round-trip")
	if err != nil {
		t.Fatalf("NewFromPassword() error = %v", err)
	}

	enc, err := c.EncryptFile(src, "")
	if err != nil {
		t.Fatalf("EncryptFile() error = %v", err)
	}
	if err := os.Remove(src); err != nil {
		t.Fatalf("failed to remove source file: %v", err)
	}

	dec, err := c.DecryptFile(enc, "")
	if err != nil {
		t.Fatalf("DecryptFile() error = %v", err)
	}
	if dec != src {
		t.Errorf("DecryptFile() dst = %q, want original path %q", dec, src)
	}

	got, err := os.ReadFile(dec)
	if err != nil {
		t.Fatalf("failed to read decrypted file: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("DecryptFile() content = %q, want %q", got, plaintext)
	}
}

// TestDecryptFileDefaultPaths tests the default output naming rules
func TestDecryptFileDefaultPaths(t *testing.T) {
	tests := []struct {
		name    string
		srcName string
		want    string
	}{
		{"strips encrypted suffix", "backup.tar.gz.encrypted", "backup.tar.gz"},
		{"replaces final extension", "payload.bin", "payload.decrypted"},
		{"no extension", "payload", "payload.decrypted"},
	}

	c, err := NewFromPassword("naming-rules")
	if err != nil {
		t.Fatalf("NewFromPassword() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			blob, err := c.Encrypt([]byte("payload bytes"))
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			src := filepath.Join(dir, tt.srcName)
			if err := os.WriteFile(src, blob, 0600); err != nil {
				t.Fatalf("failed to write blob: %v", err)
			}

			dst, err := c.DecryptFile(src, "")
			if err != nil {
				t.Fatalf("DecryptFile() error = %v", err)
			}
			if dst != filepath.Join(dir, tt.want) {
				t.Errorf("DecryptFile() dst = %q, want %q", dst, filepath.Join(dir, tt.want))
			}
		})
	}
}

// TestDecryptFileTampered tests that a modified encrypted file is rejected
func TestDecryptFileTampered(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data.json")
	if err := os.WriteFile(src, []byte(`{"v":1}`), 0600); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	c, err := NewFromPassword("tamper-test")
	if err != nil {
		t.Fatalf("NewFromPassword() error = %v", err)
	}

	enc, err := c.EncryptFile(src, "")
	if err != nil {
		t.Fatalf("EncryptFile() error = %v", err)
	}

	blob, err := os.ReadFile(enc)
	if err != nil {
		t.Fatalf("failed to read encrypted file: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if err := os.WriteFile(enc, blob, 0600); err != nil {
		t.Fatalf("failed to write tampered file: %v", err)
	}

	if _, err := c.DecryptFile(enc, ""); err != ErrAuthentication {
		t.Errorf("DecryptFile() on tampered file error = %v, want %v", err, ErrAuthentication)
	}
}

// TestSidecarPath tests the encrypted artifact <-> key file mapping
func TestSidecarPath(t *testing.T) {
	tests := []struct {
		encPath string
		keyPath string
	}{
		{"backup.tar.gz.encrypted", "backup.tar.gz.key"},
		{"onepai_backup_20240101_120000.encrypted", "onepai_backup_20240101_120000.key"},
		{"/data/export.json.encrypted", "/data/export.json.key"},
	}

	for _, tt := range tests {
		if got := SidecarPath(tt.encPath); got != tt.keyPath {
			t.Errorf("SidecarPath(%q) = %q, want %q", tt.encPath, got, tt.keyPath)
		}
		if got := EncryptedPathFor(tt.keyPath); got != tt.encPath {
			t.Errorf("EncryptedPathFor(%q) = %q, want %q", tt.keyPath, got, tt.encPath)
		}
	}
}

// TestWriteReadKeyFile tests the sidecar round trip, including whitespace
// trimming on read
func TestWriteReadKeyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backup.key")

	if err := WriteKeyFile(path, "auto_generated_1700000000"); err != nil {
		t.Fatalf("WriteKeyFile() error = %v", err)
	}

	got, err := ReadKeyFile(path)
	if err != nil {
		t.Fatalf("ReadKeyFile() error = %v", err)
	}
	if got != "auto_generated_1700000000" {
		t.Errorf("ReadKeyFile() = %q, want %q", got, "auto_generated_1700000000")
	}

	// Editors tend to add trailing newlines; reads must tolerate them.
	if err := os.WriteFile(path, []byte("password-with-newline\n"), 0600); err != nil {
		t.Fatalf("failed to rewrite key file: %v", err)
	}
	got, err = ReadKeyFile(path)
	if err != nil {
		t.Fatalf("ReadKeyFile() error = %v", err)
	}
	if got != "password-with-newline" {
		t.Errorf("ReadKeyFile() = %q, want trimmed password", got)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("failed to stat key file: %v", err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("key file mode = %o, want 0600", info.Mode().Perm())
		}
	}
}
