//go:build windows

package agent

import "golang.org/x/sys/windows"

// UsableSpace reports the free bytes available to the agent on the volume
// holding path, or -1 when it cannot be determined.
func UsableSpace(path string) int64 {
	var free, total, totalFree uint64
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return -1
	}
	if err := windows.GetDiskFreeSpaceEx(p, &free, &total, &totalFree); err != nil {
		return -1
	}
	return int64(free)
}
