//go:build !windows

package agent

import "golang.org/x/sys/unix"

// UsableSpace reports the free bytes available to the agent on the volume
// holding path, or -1 when it cannot be determined.
func UsableSpace(path string) int64 {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return -1
	}
	return int64(stat.Bavail) * int64(stat.Bsize)
}
