//go:build !linux

package camera

import (
	"context"
	"fmt"
)

// V4L2Driver is only functional on linux
type V4L2Driver struct {
	Devices  map[Facing]string
	MaxWidth uint32
	Timeout  uint32
}

// NewV4L2Driver creates a new V4L2Driver
func NewV4L2Driver(devices map[Facing]string, maxWidth uint32) *V4L2Driver {
	return &V4L2Driver{Devices: devices, MaxWidth: maxWidth}
}

// Open always fails outside linux.
func (d *V4L2Driver) Open(ctx context.Context, facing Facing) ([]Track, error) {
	return nil, fmt.Errorf("%w: video4linux is not supported on this platform", ErrCameraUnavailable)
}
