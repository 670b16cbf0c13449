package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/onepai/onepai/pkg/crypto"
	"github.com/spf13/cobra"
)

var (
	decryptPassword string
	decryptKeyFile  string
	decryptOutput   string
)

func init() {
	rootCmd.AddCommand(decryptCmd)

	decryptCmd.Flags().StringVar(&decryptPassword, "password", "", "Decryption password")
	decryptCmd.Flags().StringVar(&decryptKeyFile, "key-file", "", "Read the password from this key file")
	decryptCmd.Flags().StringVarP(&decryptOutput, "output", "o", "", "Output path (default: original name without .encrypted)")
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <file>",
	Short: "Decrypt an encrypted file",
	Long: `Decrypt a file produced by encrypt or an encrypted backup blob. The
password comes from --password, --key-file, the .key sidecar beside the
file, or an interactive prompt, in that order.

A wrong password or a tampered file fails authentication; nothing is
written in that case.

Examples:
  # Sidecar beside the file is found automatically
  onepai decrypt findings.json.encrypted

  # Explicit key file
  onepai decrypt backup.tar.gz.encrypted --key-file backup.tar.gz.key`,
	Args: cobra.ExactArgs(1),
	RunE: executeDecrypt,
}

func executeDecrypt(cmd *cobra.Command, args []string) error {
	src := args[0]

	if decryptPassword != "" && decryptKeyFile != "" {
		return fmt.Errorf("--password and --key-file are mutually exclusive")
	}

	password := decryptPassword
	switch {
	case decryptKeyFile != "":
		pw, err := crypto.ReadKeyFile(decryptKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read key file: %w", err)
		}
		password = pw
	case password == "":
		sidecar := crypto.SidecarPath(src)
		pw, err := crypto.ReadKeyFile(sidecar)
		switch {
		case err == nil:
			password = pw
			if verbose {
				fmt.Printf("Using key sidecar %s\n", sidecar)
			}
		case errors.Is(err, os.ErrNotExist):
			pw, err := promptPassword("Enter password: ")
			if err != nil {
				return err
			}
			password = pw
		default:
			return fmt.Errorf("failed to read key sidecar: %w", err)
		}
	}

	c, err := crypto.NewFromPassword(password)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}

	dst, err := c.DecryptFile(src, decryptOutput)
	if err != nil {
		return fmt.Errorf("decryption failed: %w", err)
	}
	fmt.Printf("Decrypted: %s\n", dst)
	return nil
}
