package vulkan

import (
	vk "github.com/vulkan-go/vulkan"
)

// queueFamilies are the queue family properties of one physical device.
type queueFamilies []vk.QueueFamilyProperties

func queueFamiliesOf(gpu vk.PhysicalDevice) queueFamilies {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)
	for i := range props {
		props[i].Deref()
	}
	return props
}

// find returns the first family whose flags include all of flags and that accepts presents,
// as reported by canPresent.
func (q queueFamilies) find(flags vk.QueueFlags, canPresent func(family uint32) bool) (uint32, bool) {
	for i := range q {
		if q[i].QueueCount == 0 || q[i].QueueFlags&flags != flags {
			continue
		}
		if canPresent != nil && !canPresent(uint32(i)) {
			continue
		}
		return uint32(i), true
	}
	return 0, false
}

// graphicsPresent finds a family that runs graphics, compute and transfer work and presents to
// surface, so one queue serves every submission the engine makes.
func (q queueFamilies) graphicsPresent(gpu vk.PhysicalDevice, surface vk.Surface) (uint32, bool) {
	return q.find(vk.QueueFlags(vk.QueueGraphicsBit|vk.QueueComputeBit), func(family uint32) bool {
		var supported vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(gpu, family, surface, &supported)
		return supported.B()
	})
}
