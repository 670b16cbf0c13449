//go:build windows

package journal

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// checkDiskSpace verifies sufficient free space before a journal write.
// A failed probe only warns; the write itself will surface a real error.
func (j *Journal) checkDiskSpace() error {
	dir := j.dir
	if _, err := os.Stat(dir); err != nil {
		// Directory not created yet: probe the parent instead
		dir = filepath.Dir(dir)
	}

	dirPtr, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return nil
	}

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(dirPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to check disk space for journal: %v\n", err)
		return nil
	}

	if freeBytesAvailable < MinDiskSpace {
		return fmt.Errorf("journal: insufficient disk space: only %d bytes available, need at least %d", freeBytesAvailable, MinDiskSpace)
	}
	return nil
}
