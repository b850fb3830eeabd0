//go:build unix

package probe

import "golang.org/x/sys/unix"

// osExecutable asks the kernel, which accounts for ownership and ACLs that
// plain mode bits do not capture.
func osExecutable(path string) bool {
	return unix.Access(path, unix.X_OK) == nil
}
