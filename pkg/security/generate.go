package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Character set constants
const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
	charsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	// MinPasswordLength is the shortest password GeneratePassword accepts.
	MinPasswordLength = 8
	// MaxPasswordLength is the longest password GeneratePassword accepts.
	MaxPasswordLength = 256
	// DefaultPasswordLength is used when GenerateOptions.Length is zero.
	DefaultPasswordLength = 24
)

// GenerateOptions controls password generation.
type GenerateOptions struct {
	// Length is the password length; zero means DefaultPasswordLength.
	Length int
	// NoSymbols excludes symbols from the character set.
	NoSymbols bool
	// NoNumbers excludes digits from the character set.
	NoNumbers bool
	// NoUppercase excludes uppercase letters from the character set.
	NoUppercase bool
	// NoLowercase excludes lowercase letters from the character set.
	NoLowercase bool
	// Exclude lists individual characters to remove from the set, for
	// example ambiguous ones like "0O1lI".
	Exclude string
}

// GeneratePassword generates a cryptographically secure random password.
func GeneratePassword(opts GenerateOptions) (string, error) {
	length := opts.Length
	if length == 0 {
		length = DefaultPasswordLength
	}
	if length < MinPasswordLength {
		return "", fmt.Errorf("password length must be at least %d characters", MinPasswordLength)
	}
	if length > MaxPasswordLength {
		return "", fmt.Errorf("password length must be at most %d characters", MaxPasswordLength)
	}

	charset, err := buildCharset(opts)
	if err != nil {
		return "", err
	}

	charsetLen := big.NewInt(int64(len(charset)))
	password := make([]byte, length)
	for i := 0; i < length; i++ {
		idx, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		password[i] = charset[idx.Int64()]
	}
	return string(password), nil
}

// BackupPassword generates the password used when an encrypted backup is
// requested without one. Symbols are excluded so the sidecar content stays
// shell-quoting safe.
func BackupPassword() (string, error) {
	return GeneratePassword(GenerateOptions{Length: DefaultPasswordLength, NoSymbols: true})
}

// buildCharset builds the character set from the options.
func buildCharset(opts GenerateOptions) (string, error) {
	var charset strings.Builder

	if !opts.NoLowercase {
		charset.WriteString(charsetLowercase)
	}
	if !opts.NoUppercase {
		charset.WriteString(charsetUppercase)
	}
	if !opts.NoNumbers {
		charset.WriteString(charsetDigits)
	}
	if !opts.NoSymbols {
		charset.WriteString(charsetSymbols)
	}

	result := charset.String()
	if opts.Exclude != "" {
		result = removeChars(result, opts.Exclude)
	}

	if result == "" {
		return "", fmt.Errorf("character set is empty: adjust options to include at least one character type")
	}
	return result, nil
}

// removeChars removes specified characters from a string.
func removeChars(s, chars string) string {
	excludeSet := make(map[rune]bool)
	for _, c := range chars {
		excludeSet[c] = true
	}

	var result strings.Builder
	for _, c := range s {
		if !excludeSet[c] {
			result.WriteRune(c)
		}
	}
	return result.String()
}
