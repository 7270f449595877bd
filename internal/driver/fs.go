package driver

import (
	"os"
	"path/filepath"
)

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// existingParentDir returns the parent directory of path if path exists
// on disk, mirroring the original implementation's "grant access to the
// directory containing the referenced file" behavior.
func existingParentDir(path string) (string, bool) {
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return filepath.Dir(path), true
}
