package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/onepai/onepai/pkg/crypto"
	"github.com/onepai/onepai/pkg/manager"
	"github.com/spf13/cobra"
)

var (
	restorePassword string
	restoreForce    bool
)

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringVar(&restorePassword, "password", "", "Decryption password for encrypted backups")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "Replace non-empty archive directories")
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-path>",
	Short: "Restore the archive tree from a backup",
	Long: `Restore archive categories from a backup artifact: a category
directory tree, a tar.gz, or an encrypted blob of either.

Without --force, the restore refuses to touch categories that already
hold data. Encrypted backups are decrypted with --password, the .key
sidecar beside the backup, or an interactive prompt, in that order.

Examples:
  # Restore a plain backup
  onepai restore ~/backups/onepai_backup_20240101_120000

  # Restore an encrypted backup using its key sidecar
  onepai restore backup.tar.gz.encrypted

  # Replace existing archives
  onepai restore backup.tar.gz --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		backupPath := args[0]

		password := restorePassword
		if password == "" && needsPassword(backupPath) {
			pw, err := promptPassword("Enter backup password: ")
			if err != nil {
				return err
			}
			password = pw
		}

		m, err := newManager()
		if err != nil {
			return err
		}

		result, err := m.Restore(cmd.Context(), backupPath, manager.RestoreOptions{
			Password: password,
			Force:    restoreForce,
		})
		if err != nil {
			var conflict *manager.ConflictError
			if errors.As(err, &conflict) {
				fmt.Fprintln(os.Stderr, "Restore would replace existing data in:")
				for _, p := range conflict.Paths {
					fmt.Fprintf(os.Stderr, "  %s\n", p)
				}
				return fmt.Errorf("restore aborted; use --force to replace existing archives")
			}
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored archives: %s\n", strings.Join(result.Archives, ", "))
		if verbose && result.Decrypted {
			fmt.Println("Backup was encrypted; decrypted successfully")
		}
		return nil
	},
}

// needsPassword reports whether the backup is an encrypted artifact
// with no key sidecar to consult, so the password has to come from the
// user.
func needsPassword(path string) bool {
	if !strings.HasSuffix(path, crypto.EncryptedSuffix) {
		return false
	}
	_, err := os.Stat(crypto.SidecarPath(path))
	return err != nil
}
