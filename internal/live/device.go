package live

import (
	"context"
	"errors"
)

// ErrNoDevice indicates local capture hardware could not be acquired.
var ErrNoDevice = errors.New("media devices unavailable")

// Track is one local capture track. Tracks are the only locally owned
// resource that requires explicit teardown.
type Track interface {
	Kind() string
	SetEnabled(enabled bool)
	Stop()
}

// MediaStream groups the tracks acquired for one join.
type MediaStream interface {
	Tracks() []Track
}

// DeviceOpener acquires the local camera and microphone. Implementations sit
// behind this interface because the sync client itself never captures media;
// the embedding application injects the real device layer.
type DeviceOpener interface {
	Open(ctx context.Context) (MediaStream, error)
}

// NoDeviceOpener always reports absent hardware. Joins proceed in degraded
// no-preview mode.
type NoDeviceOpener struct{}

// Open implements DeviceOpener.
func (NoDeviceOpener) Open(context.Context) (MediaStream, error) {
	return nil, ErrNoDevice
}
