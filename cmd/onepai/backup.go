package main

import (
	"fmt"

	"github.com/onepai/onepai/pkg/manager"
	"github.com/spf13/cobra"
)

var (
	backupOutputDir string
	backupCompress  bool
	backupEncrypt   bool
	backupPassword  string
)

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.Flags().StringVarP(&backupOutputDir, "output-dir", "o", ".", "Directory receiving the backup artifact")
	backupCmd.Flags().BoolVar(&backupCompress, "compress", false, "Pack every category into a single tar.gz")
	backupCmd.Flags().BoolVar(&backupEncrypt, "encrypt", false, "Encrypt the backup artifact")
	backupCmd.Flags().StringVar(&backupPassword, "password", "", "Encryption password (default: generated, written to a .key sidecar)")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a backup of the archive tree",
	Long: `Snapshot every archive category into a timestamped backup artifact.

Examples:
  # Directory-style backup with a manifest
  onepai backup -o ~/backups

  # Single compressed file
  onepai backup -o ~/backups --compress

  # Encrypted, password generated and kept in a .key sidecar
  onepai backup -o ~/backups --compress --encrypt

  # Encrypted with your own password (never written to disk)
  onepai backup --encrypt --password "correct horse battery staple"`,
	RunE: executeBackup,
}

func executeBackup(cmd *cobra.Command, args []string) error {
	if backupPassword != "" && !backupEncrypt {
		return fmt.Errorf("--password requires --encrypt")
	}

	m, err := newManager()
	if err != nil {
		return err
	}

	result, err := m.CreateBackup(cmd.Context(), manager.BackupOptions{
		OutputDir: backupOutputDir,
		Compress:  backupCompress,
		Encrypt:   backupEncrypt,
		Password:  backupPassword,
	})
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	fmt.Printf("Backup created: %s\n", result.Path)
	if result.KeyPath != "" {
		fmt.Printf("Generated key written to %s\n", result.KeyPath)
		fmt.Println("Keep the key file safe; the backup cannot be decrypted without it")
	}
	return nil
}
