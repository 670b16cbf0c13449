package crypto

import (
	"fmt"
	"os"
	"strings"
)

// SidecarPath returns the key-file path paired with an encrypted artifact:
// the same base name with ".encrypted" replaced by ".key". The restore path
// uses the same mapping, so the two sides always agree.
func SidecarPath(encPath string) string {
	return strings.TrimSuffix(encPath, EncryptedSuffix) + KeySuffix
}

// EncryptedPathFor is the inverse of SidecarPath: the encrypted artifact a
// key file belongs to.
func EncryptedPathFor(keyPath string) string {
	return strings.TrimSuffix(keyPath, KeySuffix) + EncryptedSuffix
}

// WriteKeyFile writes a password to a sidecar key file with 0600
// permissions. The content is plaintext: sidecars exist so auto-generated
// backup passwords are not lost, not as a secure store.
func WriteKeyFile(path, password string) error {
	if err := os.WriteFile(path, []byte(password), 0600); err != nil {
		return fmt.Errorf("crypto: failed to write key file: %w", err)
	}
	return nil
}

// ReadKeyFile reads a password from a sidecar key file, trimming
// surrounding whitespace.
func ReadKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to read key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
