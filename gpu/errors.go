package gpu

import "github.com/cockroachdb/errors"

// Driver status errors. Backends wrap them so errors.Is classifies the failure.
var (
	ErrTimeout           = errors.New("gpu: wait timed out")
	ErrOutOfDate         = errors.New("gpu: swapchain out of date")
	ErrSuboptimal        = errors.New("gpu: swapchain suboptimal")
	ErrOutOfPoolMemory   = errors.New("gpu: descriptor pool out of memory")
	ErrFragmentedPool    = errors.New("gpu: descriptor pool fragmented")
	ErrOutOfDeviceMemory = errors.New("gpu: out of device memory")
	ErrOutOfHostMemory   = errors.New("gpu: out of host memory")
	ErrDeviceLost        = errors.New("gpu: device lost")
	ErrNotHostVisible    = errors.New("gpu: allocation is not host visible")
	ErrUnknownHandle     = errors.New("gpu: unknown handle")
)

// IsStale reports whether err means the swapchain no longer matches the surface.
func IsStale(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal)
}

// IsPoolExhausted reports whether a descriptor allocation failed for lack of pool space.
func IsPoolExhausted(err error) bool {
	return errors.Is(err, ErrOutOfPoolMemory) || errors.Is(err, ErrFragmentedPool)
}
