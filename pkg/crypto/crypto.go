// Package crypto implements the encryption layer shared by archives, file
// artifacts, and backups.
//
// Keys are 256-bit AES keys derived from a password with PBKDF2-HMAC-SHA256
// or drawn from crypto/rand. Encrypted blobs use AES-256-GCM and are laid
// out as nonce || tag || ciphertext; every existing encrypted artifact uses
// this layout, so it is load-bearing and must not change.
//
// # Example Usage
//
//	// Derive a cipher from a password
//	c, err := crypto.NewFromPassword("correct horse battery staple")
//
//	// Encrypt data
//	blob, err := c.Encrypt(plaintext)
//
//	// Decrypt data (fails closed on tampering or a wrong key)
//	plaintext, err := c.Decrypt(blob)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// TagLength is the length of the GCM authentication tag in bytes.
	TagLength = 16

	// KDFIterations is the PBKDF2 iteration count for password-derived keys.
	KDFIterations = 100000

	// minBlobLength is the smallest well-formed blob: nonce plus tag,
	// zero-length ciphertext.
	minBlobLength = NonceLength + TagLength
)

// kdfSalt is deliberately fixed: the same password must always derive the
// same key, or previously encrypted archives become unreadable.
var kdfSalt = []byte("onepai_salt_2024")

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrAuthentication indicates decryption failed: the blob is truncated,
	// tampered with, or encrypted under a different key.
	ErrAuthentication = errors.New("crypto: decryption failed, authentication tag verification failed")
)

// Cipher performs authenticated encryption with a fixed 256-bit key.
type Cipher struct {
	key  []byte
	aead cipher.AEAD
}

// NewFromPassword derives a cipher from a password using
// PBKDF2-HMAC-SHA256 with the fixed salt and 100000 iterations.
// The same password always yields the same key.
func NewFromPassword(password string) (*Cipher, error) {
	key := pbkdf2.Key([]byte(password), kdfSalt, KDFIterations, KeyLength, sha256.New)
	return newCipher(key)
}

// NewRandom creates a cipher with a fresh key from crypto/rand.
// The key is retrievable via Key for callers that need to persist it.
func NewRandom() (*Cipher, error) {
	key := make([]byte, KeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate key: %w", err)
	}
	return newCipher(key)
}

// NewFromKey creates a cipher from an existing 32-byte key.
// Returns ErrInvalidKeyLength for any other length.
func NewFromKey(key []byte) (*Cipher, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	k := make([]byte, KeyLength)
	copy(k, key)
	return newCipher(k)
}

func newCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return &Cipher{key: key, aead: gcm}, nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// A cryptographically secure random 12-byte nonce is generated per call.
// The returned blob is nonce || tag || ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// gcm.Seal appends the tag after the ciphertext; the blob layout puts
	// the tag first, so reorder.
	sealed := c.aead.Seal(nil, nonce, plaintext, nil)
	ctLen := len(sealed) - TagLength

	blob := make([]byte, 0, NonceLength+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, sealed[ctLen:]...)
	blob = append(blob, sealed[:ctLen]...)
	return blob, nil
}

// Decrypt decrypts a nonce || tag || ciphertext blob.
//
// The authentication tag is verified before any plaintext is returned.
// Truncated input, tampering, and a wrong key all yield ErrAuthentication;
// callers cannot distinguish the cases, which is intentional.
func (c *Cipher) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < minBlobLength {
		return nil, ErrAuthentication
	}

	nonce := blob[:NonceLength]
	tag := blob[NonceLength:minBlobLength]
	ciphertext := blob[minBlobLength:]

	// Rebuild the ciphertext || tag ordering gcm.Open expects.
	sealed := make([]byte, 0, len(ciphertext)+TagLength)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Key returns a copy of the raw key. Callers that persist it are
// responsible for wiping their copy with SecureWipe.
func (c *Cipher) Key() []byte {
	k := make([]byte, len(c.key))
	copy(k, c.key)
	return k
}

// Fingerprint returns the first 16 hex characters of the key's SHA-256.
// It identifies a key in logs and tooling without revealing it.
func (c *Cipher) Fingerprint() string {
	sum := sha256.Sum256(c.key)
	return hex.EncodeToString(sum[:])[:16]
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
// This is critical for securely destroying key material.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive ensures the write operations are not optimized away
	// by the compiler since b is still "in use" after the loop.
	runtime.KeepAlive(b)
}
