//go:build linux

// Package discover enumerates the Spectranext accessory's CDC-ACM serial
// port, grounded on the ardnew-softusb pack's sysfs USB walker
// (host/hal/linux/sysfs.go's scanUSBDevices/parseUSBDevice) but reading the
// two attributes spx actually needs — idVendor/idProduct and the device's
// tty child — rather than the full device/configuration/interface
// descriptor tree that a USB host controller needs.
package discover

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"spx/internal/spxerr"
)

const (
	sysfsUSBPath = "/sys/bus/usb/devices"
	vendorID     = 0x1337
	productID    = 0x0001
)

// Find scans /sys/bus/usb/devices for a device matching VID=0x1337
// PID=0x0001 and returns its /dev/ttyACM* path and serial number (empty if
// the device didn't report one).
func Find(ctx context.Context) (path string, serialNumber string, err error) {
	entries, readErr := os.ReadDir(sysfsUSBPath)
	if readErr != nil {
		return "", "", spxerr.New(spxerr.NotFound, "discover.Find", readErr)
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return "", "", spxerr.New(spxerr.Io, "discover.Find", ctx.Err())
		default:
		}

		name := entry.Name()
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}

		devPath := filepath.Join(sysfsUSBPath, name)
		vid, err1 := readSysfsHex(filepath.Join(devPath, "idVendor"))
		pid, err2 := readSysfsHex(filepath.Join(devPath, "idProduct"))
		if err1 != nil || err2 != nil || vid != vendorID || pid != productID {
			continue
		}

		tty, found := findTTYChild(devPath)
		if !found {
			continue
		}

		sn, _ := readSysfsString(filepath.Join(devPath, "serial"))
		return filepath.Join("/dev", tty), sn, nil
	}

	return "", "", spxerr.Errorf(spxerr.NotFound, "discover.Find", "no device with VID=%#04x PID=%#04x found", vendorID, productID)
}

// findTTYChild looks for a "ttyACM*" directory at any depth under a USB
// device's sysfs node, resolving the node's symlink first.
func findTTYChild(devPath string) (string, bool) {
	if resolved, err := filepath.EvalSymlinks(devPath); err == nil {
		devPath = resolved
	}
	var found string
	_ = filepath.WalkDir(devPath, func(p string, d os.DirEntry, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), "ttyACM") {
			found = d.Name()
		}
		return nil
	})
	return found, found != ""
}

func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsHex(path string) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	s = strings.TrimPrefix(s, "0x")
	return strconv.ParseUint(s, 16, 64)
}
