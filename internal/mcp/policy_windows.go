//go:build windows

package mcp

import (
	"os"
)

// openPolicyFile opens the policy file on Windows. O_NOFOLLOW is not
// available here, so the symlink check runs on an Lstat of the path just
// before the open. That leaves a small window between check and open that
// the unix variant does not have.
func openPolicyFile(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrPolicySymlink
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return f, nil
}

// checkFileOwnership is a no-op on Windows. Ownership lives in ACLs there,
// which need a different mechanism entirely; the permission check in
// LoadPolicy remains the primary control.
func checkFileOwnership(_ os.FileInfo) error {
	return nil
}
