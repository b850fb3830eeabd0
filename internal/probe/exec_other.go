//go:build !unix

package probe

import (
	"os"
	"path/filepath"
	"strings"
)

// osExecutable falls back to extension and mode checks where access(2) is
// unavailable. On Windows any .exe is runnable.
func osExecutable(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".exe") {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
