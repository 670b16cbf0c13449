package main

import (
	"fmt"

	"github.com/onepai/onepai/pkg/crypto"
	"github.com/onepai/onepai/pkg/security"
	"github.com/spf13/cobra"
)

const maxKeygenCount = 100

var (
	keygenLength      int
	keygenCount       int
	keygenNoSymbols   bool
	keygenNoNumbers   bool
	keygenNoUppercase bool
	keygenNoLowercase bool
	keygenExclude     string
	keygenKeyFile     string
	keygenFingerprint bool
)

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().IntVarP(&keygenLength, "length", "l", security.DefaultPasswordLength, "Password length (8-256)")
	keygenCmd.Flags().IntVarP(&keygenCount, "count", "n", 1, "Number of passwords to generate (1-100)")
	keygenCmd.Flags().BoolVar(&keygenNoSymbols, "no-symbols", false, "Exclude symbols")
	keygenCmd.Flags().BoolVar(&keygenNoNumbers, "no-numbers", false, "Exclude numbers")
	keygenCmd.Flags().BoolVar(&keygenNoUppercase, "no-uppercase", false, "Exclude uppercase letters")
	keygenCmd.Flags().BoolVar(&keygenNoLowercase, "no-lowercase", false, "Exclude lowercase letters")
	keygenCmd.Flags().StringVar(&keygenExclude, "exclude", "", "Characters to exclude")
	keygenCmd.Flags().StringVar(&keygenKeyFile, "key-file", "", "Write the password to this key file (0600) instead of stdout")
	keygenCmd.Flags().BoolVar(&keygenFingerprint, "fingerprint", false, "Print the fingerprint of the derived encryption key")
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate archive encryption passwords",
	Long: `Generate cryptographically secure random passwords for archive
encryption.

Examples:
  # Generate a 24-character password (default)
  onepai keygen

  # Longer, letters and digits only
  onepai keygen -l 32 --no-symbols

  # Generate 5 passwords
  onepai keygen -n 5

  # Write a key sidecar for backup.tar.gz.encrypted
  onepai keygen --key-file backup.tar.gz.key

  # Show which key fingerprint the password derives to
  onepai keygen --fingerprint

  # Avoid ambiguous characters
  onepai keygen --exclude "0O1lI"`,
	RunE: executeKeygen,
}

func executeKeygen(cmd *cobra.Command, args []string) error {
	if err := validateKeygenFlags(); err != nil {
		return err
	}

	opts := security.GenerateOptions{
		Length:      keygenLength,
		NoSymbols:   keygenNoSymbols,
		NoNumbers:   keygenNoNumbers,
		NoUppercase: keygenNoUppercase,
		NoLowercase: keygenNoLowercase,
		Exclude:     keygenExclude,
	}

	for i := 0; i < keygenCount; i++ {
		password, err := security.GeneratePassword(opts)
		if err != nil {
			return fmt.Errorf("failed to generate password: %w", err)
		}

		if keygenKeyFile != "" {
			if err := crypto.WriteKeyFile(keygenKeyFile, password); err != nil {
				return fmt.Errorf("failed to write key file: %w", err)
			}
			fmt.Printf("Key file written: %s\n", keygenKeyFile)
		} else {
			fmt.Println(password)
		}

		if keygenFingerprint {
			c, err := crypto.NewFromPassword(password)
			if err != nil {
				return fmt.Errorf("failed to derive key: %w", err)
			}
			fmt.Printf("Fingerprint: %s\n", c.Fingerprint())
		}
	}
	return nil
}

func validateKeygenFlags() error {
	if keygenCount < 1 {
		return fmt.Errorf("count must be at least 1")
	}
	if keygenCount > maxKeygenCount {
		return fmt.Errorf("count must be at most %d", maxKeygenCount)
	}
	if keygenKeyFile != "" && keygenCount != 1 {
		return fmt.Errorf("--key-file requires --count 1")
	}
	if keygenFingerprint && keygenCount != 1 {
		return fmt.Errorf("--fingerprint requires --count 1")
	}
	return nil
}
