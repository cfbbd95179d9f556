package vulkan

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/dieselframe/gpu"
)

// findMemoryType returns the first memory type allowed by typeBits whose properties include all
// of required.
func findMemoryType(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, required vk.MemoryPropertyFlags) (uint32, bool) {
	count := props.MemoryTypeCount
	if n := uint32(len(props.MemoryTypes)); count > n {
		count = n
	}
	for i := uint32(0); i < count; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		props.MemoryTypes[i].Deref()
		if props.MemoryTypes[i].PropertyFlags&required == required {
			return i, true
		}
	}
	return 0, false
}

// memoryTypeFor tries the preferred property sets of usage in order.
func memoryTypeFor(props vk.PhysicalDeviceMemoryProperties, typeBits uint32, usage gpu.MemoryUsage) (uint32, bool) {
	for _, flags := range memoryPreferences(usage) {
		if i, ok := findMemoryType(props, typeBits, flags); ok {
			return i, true
		}
	}
	return 0, false
}

func memoryPreferences(usage gpu.MemoryUsage) []vk.MemoryPropertyFlags {
	const (
		local    = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
		visible  = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
		coherent = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
		cached   = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit)
	)
	switch usage {
	case gpu.MemoryCPUOnly:
		return []vk.MemoryPropertyFlags{visible | coherent}
	case gpu.MemoryCPUToGPU:
		return []vk.MemoryPropertyFlags{local | visible | coherent, visible | coherent}
	case gpu.MemoryGPUToCPU:
		return []vk.MemoryPropertyFlags{visible | coherent | cached, visible | coherent}
	}
	return []vk.MemoryPropertyFlags{local, 0}
}

func bufferUsageFlags(u gpu.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	for bit, vkBit := range map[gpu.BufferUsage]vk.BufferUsageFlagBits{
		gpu.BufferUsageTransferSrc: vk.BufferUsageTransferSrcBit,
		gpu.BufferUsageTransferDst: vk.BufferUsageTransferDstBit,
		gpu.BufferUsageUniform:     vk.BufferUsageUniformBufferBit,
		gpu.BufferUsageStorage:     vk.BufferUsageStorageBufferBit,
		gpu.BufferUsageIndex:       vk.BufferUsageIndexBufferBit,
		gpu.BufferUsageVertex:      vk.BufferUsageVertexBufferBit,
	} {
		if u&bit != 0 {
			flags |= vkBit
		}
	}
	return vk.BufferUsageFlags(flags)
}

func imageUsageFlags(u gpu.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	for bit, vkBit := range map[gpu.ImageUsage]vk.ImageUsageFlagBits{
		gpu.ImageUsageTransferSrc:     vk.ImageUsageTransferSrcBit,
		gpu.ImageUsageTransferDst:     vk.ImageUsageTransferDstBit,
		gpu.ImageUsageSampled:         vk.ImageUsageSampledBit,
		gpu.ImageUsageStorage:         vk.ImageUsageStorageBit,
		gpu.ImageUsageColorAttachment: vk.ImageUsageColorAttachmentBit,
		gpu.ImageUsageDepthAttachment: vk.ImageUsageDepthStencilAttachmentBit,
	} {
		if u&bit != 0 {
			flags |= vkBit
		}
	}
	return vk.ImageUsageFlags(flags)
}

func vkFormat(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatR8G8B8A8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatB8G8R8A8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatR8G8B8A8Srgb:
		return vk.FormatR8g8b8a8Srgb
	case gpu.FormatB8G8R8A8Srgb:
		return vk.FormatB8g8r8a8Srgb
	case gpu.FormatR16G16B16A16Sfloat:
		return vk.FormatR16g16b16a16Sfloat
	case gpu.FormatD32Sfloat:
		return vk.FormatD32Sfloat
	}
	return vk.FormatUndefined
}

func gpuFormat(f vk.Format) gpu.Format {
	switch f {
	case vk.FormatR8g8b8a8Unorm:
		return gpu.FormatR8G8B8A8Unorm
	case vk.FormatB8g8r8a8Unorm:
		return gpu.FormatB8G8R8A8Unorm
	case vk.FormatR8g8b8a8Srgb:
		return gpu.FormatR8G8B8A8Srgb
	case vk.FormatB8g8r8a8Srgb:
		return gpu.FormatB8G8R8A8Srgb
	case vk.FormatR16g16b16a16Sfloat:
		return gpu.FormatR16G16B16A16Sfloat
	case vk.FormatD32Sfloat:
		return gpu.FormatD32Sfloat
	}
	return gpu.FormatUndefined
}

func aspectOf(f vk.Format) vk.ImageAspectFlags {
	if f == vk.FormatD32Sfloat {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func vkLayout(l gpu.ImageLayout) vk.ImageLayout {
	switch l {
	case gpu.ImageLayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.ImageLayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.ImageLayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.ImageLayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.ImageLayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.ImageLayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

func vkDescriptorType(t gpu.DescriptorType) vk.DescriptorType {
	switch t {
	case gpu.DescriptorTypeSampler:
		return vk.DescriptorTypeSampler
	case gpu.DescriptorTypeCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	case gpu.DescriptorTypeSampledImage:
		return vk.DescriptorTypeSampledImage
	case gpu.DescriptorTypeStorageImage:
		return vk.DescriptorTypeStorageImage
	case gpu.DescriptorTypeUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	}
	return vk.DescriptorTypeStorageBuffer
}

func shaderStageFlags(s gpu.ShaderStage) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlagBits
	if s&gpu.ShaderStageVertex != 0 {
		flags |= vk.ShaderStageVertexBit
	}
	if s&gpu.ShaderStageFragment != 0 {
		flags |= vk.ShaderStageFragmentBit
	}
	if s&gpu.ShaderStageCompute != 0 {
		flags |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(flags)
}
