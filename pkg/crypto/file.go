package crypto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File name suffixes used by the file wrapper and its callers.
const (
	// EncryptedSuffix marks an encrypted artifact.
	EncryptedSuffix = ".encrypted"

	// DecryptedSuffix marks a decrypted artifact whose original name had a
	// different extension.
	DecryptedSuffix = ".decrypted"

	// KeySuffix marks a sidecar key file holding the password for the
	// encrypted artifact of the same base name.
	KeySuffix = ".key"
)

// EncryptFile encrypts the file at src and writes the blob to dst.
// An empty dst defaults to src + ".encrypted". The whole file is held in
// memory, which bounds the practical artifact size. Returns the path
// written.
func (c *Cipher) EncryptFile(src, dst string) (string, error) {
	if dst == "" {
		dst = src + EncryptedSuffix
	}

	plaintext, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to read %s: %w", src, err)
	}

	blob, err := c.Encrypt(plaintext)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(dst, blob, 0600); err != nil {
		return "", fmt.Errorf("crypto: failed to write %s: %w", dst, err)
	}
	return dst, nil
}

// DecryptFile decrypts the blob at src and writes the plaintext to dst.
// An empty dst strips a trailing ".encrypted" from src; if src has no such
// suffix, its final extension is replaced with ".decrypted". Returns the
// path written, or ErrAuthentication when the blob fails verification.
func (c *Cipher) DecryptFile(src, dst string) (string, error) {
	if dst == "" {
		if strings.HasSuffix(src, EncryptedSuffix) {
			dst = strings.TrimSuffix(src, EncryptedSuffix)
		} else {
			dst = strings.TrimSuffix(src, filepath.Ext(src)) + DecryptedSuffix
		}
	}

	blob, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to read %s: %w", src, err)
	}

	plaintext, err := c.Decrypt(blob)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(dst, plaintext, 0600); err != nil {
		return "", fmt.Errorf("crypto: failed to write %s: %w", dst, err)
	}
	return dst, nil
}
