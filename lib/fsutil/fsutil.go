// Package fsutil collects small filesystem helpers shared by the content
// store, hash index and repository packages: path-below-root checks,
// read-only-bit management, and cross-device move detection.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// RelativeSubtreePath reports the path of path relative to root, without
// any ".." elements, if path lies at or below root. It returns ok=false
// if path is not below root.
func RelativeSubtreePath(path, root string) (rel string, ok bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	rel, err = filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// IsReadonly reports whether mode lacks every write permission bit.
func IsReadonly(mode fs.FileMode) bool {
	return mode&0o222 == 0
}

// RemoveWritePermissions strips every write permission bit from path.
func RemoveWritePermissions(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	mode := info.Mode()
	if IsReadonly(mode.Perm()) {
		return nil
	}
	if err := os.Chmod(path, mode.Perm()&^0o222); err != nil {
		return fmt.Errorf("fsutil: remove write permissions on %s: %w", path, err)
	}
	return nil
}

// IsCrossDevice reports whether err is the "invalid cross-device link"
// error a rename or hard link returns when its source and destination
// live on different filesystems.
func IsCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
