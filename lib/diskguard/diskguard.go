// Package diskguard reports free disk space for the local root, backing
// the QUEUE precondition that refuses to start a download that can't
// possibly fit (SPEC_FULL.md §4.4).
package diskguard

import "github.com/shirou/gopsutil/v4/disk"

// FreeBytes returns the number of free bytes on the filesystem containing
// path.
func FreeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
