package manager

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/onepai/onepai/pkg/crypto"
	"github.com/onepai/onepai/pkg/journal"
)

// RestoreOptions configures Restore.
type RestoreOptions struct {
	// Password decrypts .encrypted backups. When empty the key sidecar
	// beside the backup is consulted.
	Password string
	// Force replaces non-empty archive directories instead of failing.
	Force bool
}

// RestoreResult describes what Restore installed.
type RestoreResult struct {
	// Archives lists the categories installed from the backup.
	Archives []string `json:"archives"`
	// Decrypted indicates the backup was an encrypted blob.
	Decrypted bool `json:"decrypted"`
}

// Restore replaces the archive tree with the contents of a backup
// artifact: a category directory tree, a tar.gz, or an encrypted blob of
// either. The conflict check runs before anything is written: without
// Force, any non-empty category directory aborts with a *ConflictError
// and the tree is left untouched.
func (m *Manager) Restore(ctx context.Context, backupPath string, opts RestoreOptions) (*RestoreResult, error) {
	result, err := m.restore(ctx, backupPath, opts)
	m.logOp(journal.OpBackupRestore, backupPath, err, map[string]any{"force": opts.Force})
	return result, err
}

func (m *Manager) restore(ctx context.Context, backupPath string, opts RestoreOptions) (*RestoreResult, error) {
	info, err := os.Stat(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	// 1. Conflict check before any mutation
	if !opts.Force {
		var conflicts []string
		for _, name := range m.archives {
			nonEmpty, err := dirNonEmpty(m.ArchivePath(name))
			if err != nil {
				return nil, err
			}
			if nonEmpty {
				conflicts = append(conflicts, m.ArchivePath(name))
			}
		}
		if len(conflicts) > 0 {
			return nil, &ConflictError{Paths: conflicts}
		}
	}

	// 2. Directory backups install by copy, leaving the source in place
	if info.IsDir() {
		archives, err := m.installCategories(ctx, backupPath, false)
		if err != nil {
			return nil, err
		}
		return &RestoreResult{Archives: archives}, nil
	}

	// 3. File artifact: decrypt if needed, then sniff the container.
	// The suffix alone cannot tell a tarball from a tarred directory, so
	// the decrypted bytes are checked for the gzip magic and ustar tag.
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	decrypted := false
	if strings.HasSuffix(backupPath, crypto.EncryptedSuffix) {
		data, err = decryptBackup(backupPath, data, opts.Password)
		if err != nil {
			return nil, err
		}
		decrypted = true
	}

	archives, err := m.installFromTar(ctx, data)
	if err != nil {
		return nil, err
	}
	return &RestoreResult{Archives: archives, Decrypted: decrypted}, nil
}

// decryptBackup decrypts an encrypted backup blob, consulting the key
// sidecar when no password is supplied.
func decryptBackup(path string, blob []byte, password string) ([]byte, error) {
	if password == "" {
		p, err := crypto.ReadKeyFile(crypto.SidecarPath(path))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, ErrPasswordRequired
			}
			return nil, err
		}
		password = p
	}
	cipher, err := crypto.NewFromPassword(password)
	if err != nil {
		return nil, err
	}
	plain, err := cipher.Decrypt(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt backup: %w", err)
	}
	return plain, nil
}

// installFromTar extracts a tar or tar.gz byte stream into a staging
// directory inside the data dir, then installs the category layout.
func (m *Manager) installFromTar(ctx context.Context, data []byte) ([]string, error) {
	var r io.Reader = bytes.NewReader(data)
	switch {
	case isGzip(data):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case isTar(data):
	default:
		return nil, ErrUnrecognizedBackup
	}

	staging, err := os.MkdirTemp(m.dataDir, ".onepai-restore-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)
	if err := os.Chmod(staging, 0700); err != nil {
		return nil, fmt.Errorf("failed to set staging permissions: %w", err)
	}

	if err := extractTar(ctx, tar.NewReader(r), staging); err != nil {
		return nil, err
	}
	return m.installCategories(ctx, staging, true)
}

// installCategories installs every category present under root into the
// data directory. When move is set the category directories are renamed
// into place (copy fallback across devices); otherwise they are copied.
func (m *Manager) installCategories(ctx context.Context, root string, move bool) ([]string, error) {
	root, err := m.locateBackupRoot(root)
	if err != nil {
		return nil, err
	}

	var installed []string
	for _, name := range m.archives {
		if err := ctx.Err(); err != nil {
			return installed, err
		}
		src := filepath.Join(root, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := m.ArchivePath(name)
		if err := os.RemoveAll(dst); err != nil {
			return installed, fmt.Errorf("failed to clear archive %s: %w", name, err)
		}
		if move {
			if err := os.Rename(src, dst); err != nil {
				// Cross-device rename falls back to copy
				if err := copyTree(ctx, src, dst); err != nil {
					return installed, fmt.Errorf("failed to install archive %s: %w", name, err)
				}
			}
		} else {
			if err := copyTree(ctx, src, dst); err != nil {
				return installed, fmt.Errorf("failed to install archive %s: %w", name, err)
			}
		}
		installed = append(installed, name)
	}
	return installed, nil
}

// locateBackupRoot finds the directory holding the category layout:
// either root itself, or a single backup directory one level down (the
// shape an encrypted directory backup unpacks to).
func (m *Manager) locateBackupRoot(root string) (string, error) {
	for _, name := range m.archives {
		if _, err := os.Stat(filepath.Join(root, name)); err == nil {
			return root, nil
		}
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("failed to read backup: %w", err)
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	if len(dirs) == 1 {
		sub := filepath.Join(root, dirs[0])
		for _, name := range m.archives {
			if _, err := os.Stat(filepath.Join(sub, name)); err == nil {
				return sub, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no archive categories found", ErrUnrecognizedBackup)
}

// isGzip reports whether data starts with the gzip magic bytes.
func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// isTar reports whether data carries the ustar tag at offset 257.
func isTar(data []byte) bool {
	return len(data) >= 262 && string(data[257:262]) == "ustar"
}

// extractTar unpacks entries under dst, rejecting paths that escape it.
// Only directories and regular files are extracted.
func extractTar(ctx context.Context, tr *tar.Reader, dst string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("tar entry escapes extraction root: %s", hdr.Name)
		}
		target := filepath.Join(dst, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0700); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			_, cerr := io.Copy(f, tr)
			if err := f.Close(); cerr == nil {
				cerr = err
			}
			if cerr != nil {
				return fmt.Errorf("failed to extract %s: %w", hdr.Name, cerr)
			}
		}
	}
}
