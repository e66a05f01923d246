package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// MinDiskSpaceBytes is the free space required under the data directory.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// MinFileDescriptors is the open file limit the watcher and stores need.
const MinFileDescriptors = 1024

// existingParent returns the closest existing ancestor of path, so checks
// work before the data directory is created.
func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

// CheckDiskSpace checks free space on the data directory's filesystem.
func (c *Checker) CheckDiskSpace() Result {
	r := Result{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(existingParent(c.dataDir), &stat); err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("failed to check disk space: %v", err)
		return r
	}
	available := stat.Bavail * uint64(stat.Bsize)
	r.Message = fmt.Sprintf("%s free (minimum: %s)", formatBytes(available), formatBytes(c.minDisk))
	r.Status = StatusPass
	if available < c.minDisk {
		r.Status = StatusFail
	}
	return r
}

// CheckWritePermissions creates and removes a probe file in the data
// directory, creating the directory when needed.
func (c *Checker) CheckWritePermissions() Result {
	r := Result{Name: "write_permissions", Required: true}

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("cannot create %s: %v", c.dataDir, err)
		return r
	}
	f, err := os.CreateTemp(c.dataDir, ".preflight-*")
	if err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("permission denied: %v", err)
		r.Hint = "choose a writable --data-dir"
		return r
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	r.Status = StatusPass
	r.Message = c.dataDir
	return r
}

// CheckFileDescriptors checks the soft open file limit.
func (c *Checker) CheckFileDescriptors() Result {
	r := Result{Name: "file_descriptors", Required: true}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		r.Status = StatusFail
		r.Message = fmt.Sprintf("failed to read the file descriptor limit: %v", err)
		return r
	}
	r.Message = fmt.Sprintf("%d (minimum: %d)", limit.Cur, c.minFDs)
	r.Status = StatusPass
	if uint64(limit.Cur) < c.minFDs {
		r.Status = StatusFail
		r.Hint = "run 'ulimit -n 10240' to raise the limit"
	}
	return r
}

func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
