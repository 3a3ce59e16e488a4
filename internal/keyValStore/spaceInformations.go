package keyValStore

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// calculateDirectorySize calculates the total size of files within a directory
func calculateDirectorySize(path string) (size int64, err error) {
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return
}

// getDeviceAndMountPoint picks the partition with the longest mount point
// containing path.
func getDeviceAndMountPoint(path string) (device, mountPoint string, err error) {
	partitions, err := disk.Partitions(true)
	if err != nil {
		return "", "", fmt.Errorf("unable to list partitions: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}

	for _, p := range partitions {
		if !strings.HasPrefix(abs, p.Mountpoint) || len(p.Mountpoint) <= len(mountPoint) {
			continue
		}
		device, mountPoint = p.Device, p.Mountpoint
	}
	if mountPoint == "" {
		return "", "", fmt.Errorf("unable to find mount for path %s", path)
	}
	return device, mountPoint, nil
}

// displayDiskUsage displays the disk usage information using structured logging
func (k *KeyValStore) displayDiskUsage(paths []string) error {
	for _, path := range paths {
		usage, err := disk.Usage(path)
		if err != nil {
			return fmt.Errorf("error retrieving disk usage stats for %s: %w", path, err)
		}

		fields := logrus.Fields{
			"Path":       path,
			"Total (GB)": fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
			"Used (GB)":  fmt.Sprintf("%.2f", float64(usage.Used)/1e9),
			"Free (GB)":  fmt.Sprintf("%.2f", float64(usage.Free)/1e9),
		}

		device, mountPoint, err := getDeviceAndMountPoint(path)
		if err == nil {
			fields["Device"] = device
			fields["Mount Point"] = mountPoint
		}

		pathSize, err := calculateDirectorySize(path)
		if err != nil {
			return fmt.Errorf("error calculating directory size of %s: %w", path, err)
		}
		fields["Usage by DB"] = fmt.Sprintf("%.2f", float64(pathSize)/1e9)

		k.log.WithFields(fields).Info("Disk Usage")
	}

	return nil
}
