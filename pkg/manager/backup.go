package manager

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/onepai/onepai/pkg/crypto"
	"github.com/onepai/onepai/pkg/journal"
	"github.com/onepai/onepai/pkg/security"
)

// backupNameFormat timestamps backup and export artifact names.
const backupNameFormat = "20060102_150405"

// backupMetadataFile is the manifest written into directory-style backups.
const backupMetadataFile = "backup_metadata.json"

// BackupOptions configures CreateBackup.
type BackupOptions struct {
	// OutputDir is the directory receiving the backup artifact.
	OutputDir string
	// Compress packs every category into a single tar.gz file.
	Compress bool
	// Encrypt wraps the artifact in an AES-256-GCM blob.
	Encrypt bool
	// Password encrypts with a caller-chosen password. When empty a
	// random password is generated and written to the key sidecar.
	Password string
}

// BackupResult describes the artifact CreateBackup produced.
type BackupResult struct {
	// Path is the final backup artifact.
	Path string `json:"path"`
	// KeyPath is the password sidecar, set only when the password was
	// generated. Caller-supplied passwords are never written to disk.
	KeyPath string `json:"key_path,omitempty"`
	// Encrypted indicates the artifact is an encrypted blob.
	Encrypted bool `json:"encrypted"`
}

// backupMetadata is the manifest inside directory-style backups.
type backupMetadata struct {
	BackupTimestamp  string   `json:"backup_timestamp"`
	Version          string   `json:"version"`
	ArchivesIncluded []string `json:"archives_included"`
	TotalFiles       int      `json:"total_files"`
}

// CreateBackup snapshots every category into a new artifact named
// onepai_backup_<timestamp> under OutputDir. The artifact is assembled in
// a hidden staging directory and renamed into place, so a crash never
// leaves a partial backup at the final path.
func (m *Manager) CreateBackup(ctx context.Context, opts BackupOptions) (*BackupResult, error) {
	result, err := m.createBackup(ctx, opts)
	target := opts.OutputDir
	if result != nil {
		target = result.Path
	}
	m.logOp(journal.OpBackupCreate, target, err, map[string]any{
		"compress": opts.Compress,
		"encrypt":  opts.Encrypt,
	})
	return result, err
}

func (m *Manager) createBackup(ctx context.Context, opts BackupOptions) (*BackupResult, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(opts.OutputDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Stage inside the output directory so the final rename stays on one
	// filesystem.
	staging, err := os.MkdirTemp(opts.OutputDir, ".onepai-backup-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)
	if err := os.Chmod(staging, 0700); err != nil {
		return nil, fmt.Errorf("failed to set staging permissions: %w", err)
	}

	name := "onepai_backup_" + time.Now().Format(backupNameFormat)

	var artifact string
	if opts.Compress {
		artifact = filepath.Join(staging, name+".tar.gz")
		if err := m.writeCompressedBackup(ctx, artifact); err != nil {
			return nil, err
		}
	} else {
		artifact = filepath.Join(staging, name)
		if err := m.writeDirectoryBackup(ctx, artifact); err != nil {
			return nil, err
		}
	}

	result := &BackupResult{Path: filepath.Join(opts.OutputDir, filepath.Base(artifact))}

	if opts.Encrypt {
		encPath, keyPath, err := m.encryptBackup(ctx, artifact, opts.Password)
		if err != nil {
			return nil, err
		}
		// Drop the unencrypted intermediate
		if err := os.RemoveAll(artifact); err != nil {
			return nil, fmt.Errorf("failed to remove unencrypted intermediate: %w", err)
		}
		result = &BackupResult{
			Path:      filepath.Join(opts.OutputDir, filepath.Base(encPath)),
			Encrypted: true,
		}
		if keyPath != "" {
			result.KeyPath = filepath.Join(opts.OutputDir, filepath.Base(keyPath))
		}
	}

	// Move the finished artifacts out of staging
	entries, err := os.ReadDir(staging)
	if err != nil {
		return nil, fmt.Errorf("failed to read staging directory: %w", err)
	}
	for _, entry := range entries {
		src := filepath.Join(staging, entry.Name())
		dst := filepath.Join(opts.OutputDir, entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return nil, fmt.Errorf("failed to finalize backup: %w", err)
		}
	}
	return result, nil
}

// writeCompressedBackup packs every existing category into one tar.gz
// with the category name as the top-level entry.
func (m *Manager) writeCompressedBackup(ctx context.Context, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	werr := func() error {
		for _, name := range m.archives {
			if err := addTreeToTar(ctx, tw, m.ArchivePath(name), name); err != nil {
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return fmt.Errorf("failed to finish tar stream: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
		return nil
	}()
	if werr != nil {
		f.Close()
		return werr
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close backup file: %w", err)
	}
	return nil
}

// writeDirectoryBackup copies every existing category under dir and
// writes the backup manifest beside them.
func (m *Manager) writeDirectoryBackup(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	totalFiles := 0
	for _, name := range m.archives {
		src := m.ArchivePath(name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		if err := copyTree(ctx, src, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to copy archive %s: %w", name, err)
		}
		n, err := countRegularFiles(src)
		if err != nil {
			return err
		}
		totalFiles += n
	}

	meta := backupMetadata{
		BackupTimestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:          m.version,
		ArchivesIncluded: m.Archives(),
		TotalFiles:       totalFiles,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, backupMetadataFile), data, 0600); err != nil {
		return fmt.Errorf("failed to write backup metadata: %w", err)
	}
	return nil
}

// encryptBackup wraps the artifact at path in an encrypted blob beside
// it. Directories are packed into an in-memory tar.gz first. Returns the
// encrypted path and, when the password was generated, the sidecar path.
func (m *Manager) encryptBackup(ctx context.Context, path, password string) (string, string, error) {
	generated := false
	if password == "" {
		p, err := security.BackupPassword()
		if err != nil {
			return "", "", fmt.Errorf("failed to generate backup password: %w", err)
		}
		password = p
		generated = true
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat backup artifact: %w", err)
	}

	var plain []byte
	if info.IsDir() {
		plain, err = packTree(ctx, path)
	} else {
		plain, err = os.ReadFile(path)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read backup artifact: %w", err)
	}

	cipher, err := crypto.NewFromPassword(password)
	if err != nil {
		return "", "", err
	}
	blob, err := cipher.Encrypt(plain)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt backup: %w", err)
	}

	encPath := path + crypto.EncryptedSuffix
	if err := os.WriteFile(encPath, blob, 0600); err != nil {
		return "", "", fmt.Errorf("failed to write encrypted backup: %w", err)
	}

	if !generated {
		return encPath, "", nil
	}
	keyPath := crypto.SidecarPath(encPath)
	if err := crypto.WriteKeyFile(keyPath, password); err != nil {
		return "", "", err
	}
	return encPath, keyPath, nil
}

// packTree writes the directory at root into an in-memory tar.gz with
// the directory's base name as the top-level entry.
func packTree(ctx context.Context, root string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := addTreeToTar(ctx, tw, root, filepath.Base(root)); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// addTreeToTar writes the directory tree at root into tw under arcname.
// A missing root is skipped so absent categories do not fail the backup.
// Non-regular files (sockets, symlinks) are left out.
func addTreeToTar(ctx context.Context, tw *tar.Writer, root, arcname string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !d.IsDir() && !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := arcname
		if rel != "." {
			name = arcname + "/" + filepath.ToSlash(rel)
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, cerr := io.Copy(tw, f)
		f.Close()
		return cerr
	})
}

// copyTree copies a directory tree, creating directories 0700 and files
// 0600. Non-regular files are skipped. The context is checked before
// each copy.
func copyTree(ctx context.Context, src, dst string) error {
	if err := os.MkdirAll(dst, 0700); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := copyTree(ctx, srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		data, err := os.ReadFile(srcPath)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dstPath, data, 0600); err != nil {
			return err
		}
	}
	return nil
}

// countRegularFiles counts regular files under root, recursively.
func countRegularFiles(root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
