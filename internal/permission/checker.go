package permission

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"syscall"
)

// Checker reports what the operating system allows.
type Checker interface {
	Status() (Status, error)
}

// DeviceChecker probes the video device node. Systems without device
// nodes are treated as unrestricted.
type DeviceChecker struct {
	Device int
	// open is replaced in tests.
	open func(name string) (*os.File, error)
}

// NewDeviceChecker creates a checker for /dev/videoN.
func NewDeviceChecker(device int) *DeviceChecker {
	return &DeviceChecker{Device: device, open: os.Open}
}

// Path returns the device node checked.
func (c *DeviceChecker) Path() string {
	return fmt.Sprintf("/dev/video%d", c.Device)
}

// Status returns Restricted when the node exists but cannot be opened
// because of its permissions, and Authorized otherwise. A missing node is
// left for the camera to report as unavailable.
func (c *DeviceChecker) Status() (Status, error) {
	if runtime.GOOS != "linux" {
		return Authorized, nil
	}

	open := c.open
	if open == nil {
		open = os.Open
	}

	f, err := open(c.Path())
	if err == nil {
		f.Close()
		return Authorized, nil
	}

	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return Restricted, nil
	case errors.Is(err, fs.ErrNotExist):
		return Authorized, nil
	case errors.Is(err, syscall.EBUSY):
		return Authorized, nil
	}
	return NotDetermined, fmt.Errorf("probe %s: %w", c.Path(), err)
}

// StaticChecker always returns the same status.
type StaticChecker Status

// Status returns s.
func (s StaticChecker) Status() (Status, error) { return Status(s), nil }
