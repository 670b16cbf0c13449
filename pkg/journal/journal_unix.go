//go:build !windows

package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// checkDiskSpace verifies sufficient free space before a journal write.
// A failed probe only warns; the write itself will surface a real error.
func (j *Journal) checkDiskSpace() error {
	dir := j.dir
	if _, err := os.Stat(dir); err != nil {
		// Directory not created yet: probe the parent instead
		dir = filepath.Dir(dir)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to check disk space for journal: %v\n", err)
		return nil
	}

	available := stat.Bavail * uint64(stat.Bsize)
	if available < MinDiskSpace {
		return fmt.Errorf("journal: insufficient disk space: only %d bytes available, need at least %d", available, MinDiskSpace)
	}
	return nil
}
