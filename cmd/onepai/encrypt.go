package main

import (
	"fmt"
	"os"

	"github.com/onepai/onepai/pkg/crypto"
	"github.com/onepai/onepai/pkg/security"
	"github.com/spf13/cobra"
)

var (
	encryptPassword string
	encryptKeyFile  string
	encryptOutput   string
	encryptGenerate bool
)

func init() {
	rootCmd.AddCommand(encryptCmd)

	encryptCmd.Flags().StringVar(&encryptPassword, "password", "", "Encryption password")
	encryptCmd.Flags().StringVar(&encryptKeyFile, "key-file", "", "Read the password from this key file")
	encryptCmd.Flags().StringVarP(&encryptOutput, "output", "o", "", "Output path (default: <file>.encrypted)")
	encryptCmd.Flags().BoolVar(&encryptGenerate, "generate", false, "Generate a password and write it to a .key sidecar")
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt <file>",
	Short: "Encrypt a file",
	Long: `Encrypt a file with AES-256-GCM, deriving the key from a password.
With no password flag the command prompts interactively.

Examples:
  # Prompt for a password
  onepai encrypt findings.json

  # Generate a password, keep it in findings.json.key
  onepai encrypt findings.json --generate

  # Reuse the password from an existing key file
  onepai encrypt weights.onepai --key-file backup.key`,
	Args: cobra.ExactArgs(1),
	RunE: executeEncrypt,
}

func executeEncrypt(cmd *cobra.Command, args []string) error {
	if err := validateEncryptFlags(); err != nil {
		return err
	}

	password := encryptPassword
	switch {
	case encryptKeyFile != "":
		pw, err := crypto.ReadKeyFile(encryptKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read key file: %w", err)
		}
		password = pw
	case encryptGenerate:
		pw, err := security.BackupPassword()
		if err != nil {
			return fmt.Errorf("failed to generate password: %w", err)
		}
		password = pw
	case password == "":
		pw, err := promptNewPassword()
		if err != nil {
			return err
		}
		password = pw
	}

	if !encryptGenerate && security.CheckPasswordStrength(password) == security.PasswordWeak {
		fmt.Fprintln(os.Stderr, "Warning: password is weak; consider a longer one")
	}

	c, err := crypto.NewFromPassword(password)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}

	dst, err := c.EncryptFile(args[0], encryptOutput)
	if err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	fmt.Printf("Encrypted: %s\n", dst)

	if encryptGenerate {
		keyPath := crypto.SidecarPath(dst)
		if err := crypto.WriteKeyFile(keyPath, password); err != nil {
			return fmt.Errorf("failed to write key sidecar: %w", err)
		}
		fmt.Printf("Generated key written to %s\n", keyPath)
	}
	if verbose {
		fmt.Printf("Key fingerprint: %s\n", c.Fingerprint())
	}
	return nil
}

func validateEncryptFlags() error {
	set := 0
	if encryptPassword != "" {
		set++
	}
	if encryptKeyFile != "" {
		set++
	}
	if encryptGenerate {
		set++
	}
	if set > 1 {
		return fmt.Errorf("--password, --key-file and --generate are mutually exclusive")
	}
	return nil
}
