package vulkan

import (
	"fmt"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/dieselframe/gpu"
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// newError maps a driver result onto the gpu status taxonomy. The returned error carries the
// caller's stack so a failing call site shows up in %+v output.
func newError(ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	msg := resultName(ret)
	if sentinel := resultSentinel(ret); sentinel != nil {
		return errors.WithStackDepth(errors.Wrapf(sentinel, "vulkan: %s", msg), 1)
	}
	return errors.WithStackDepth(errors.Newf("vulkan error: %s", msg), 1)
}

func resultSentinel(ret vk.Result) error {
	switch ret {
	case vk.Timeout, vk.NotReady:
		return gpu.ErrTimeout
	case vk.Suboptimal:
		return gpu.ErrSuboptimal
	case vk.ErrorOutOfDate:
		return gpu.ErrOutOfDate
	case vk.ErrorOutOfPoolMemory:
		return gpu.ErrOutOfPoolMemory
	case vk.ErrorFragmentedPool:
		return gpu.ErrFragmentedPool
	case vk.ErrorOutOfDeviceMemory:
		return gpu.ErrOutOfDeviceMemory
	case vk.ErrorOutOfHostMemory:
		return gpu.ErrOutOfHostMemory
	case vk.ErrorDeviceLost:
		return gpu.ErrDeviceLost
	}
	return nil
}

func resultName(ret vk.Result) string {
	if err := vk.Error(ret); err != nil {
		return fmt.Sprintf("%s (%d)", err.Error(), ret)
	}
	return fmt.Sprintf("result %d", ret)
}
