// Package gpu holds the driver-neutral handles, flags and interfaces the engine core is written
// against. A backend (see gpu/vulkan) maps each handle onto a driver object; the core never sees
// the driver types directly.
package gpu

import "fmt"

// Handles are opaque references to driver-owned objects. The zero value is the null handle.
type (
	Fence               uint64
	Semaphore           uint64
	CommandPool         uint64
	CommandBuffer       uint64
	DescriptorPool      uint64
	DescriptorSetLayout uint64
	DescriptorSet       uint64
	Buffer              uint64
	Image               uint64
	ImageView           uint64
	// Allocation is the backing memory of a Buffer or Image.
	Allocation uint64
)

// DescriptorType is the kind of resource a descriptor binding references.
type DescriptorType uint32

const (
	DescriptorTypeSampler DescriptorType = iota
	DescriptorTypeCombinedImageSampler
	DescriptorTypeSampledImage
	DescriptorTypeStorageImage
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorTypeSampler:
		return "sampler"
	case DescriptorTypeCombinedImageSampler:
		return "combined-image-sampler"
	case DescriptorTypeSampledImage:
		return "sampled-image"
	case DescriptorTypeStorageImage:
		return "storage-image"
	case DescriptorTypeUniformBuffer:
		return "uniform-buffer"
	case DescriptorTypeStorageBuffer:
		return "storage-buffer"
	}
	return fmt.Sprintf("descriptor-type(%d)", uint32(t))
}

// DescriptorPoolSize is the number of descriptors of one type a pool provisions.
type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorBinding describes one binding slot of a descriptor set layout.
type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

// ShaderStage is a bit set of pipeline stages a binding is visible to.
type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute
	ShaderStageAll = ShaderStageVertex | ShaderStageFragment | ShaderStageCompute
)

// DescriptorWrite points one binding of a set at a buffer range or an image.
type DescriptorWrite struct {
	Binding uint32
	Type    DescriptorType
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	View    ImageView
	Layout  ImageLayout
}

// BufferUsage is a bit set of ways a buffer is used.
type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
)

// ImageUsage is a bit set of ways an image is used.
type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthAttachment
)

// MemoryUsage selects where an allocation lives and who can touch it.
type MemoryUsage int

const (
	// MemoryGPUOnly is device local and not host visible.
	MemoryGPUOnly MemoryUsage = iota
	// MemoryCPUOnly is host visible and coherent, used for staging.
	MemoryCPUOnly
	// MemoryCPUToGPU is host visible, written by the CPU every frame and read by the GPU.
	MemoryCPUToGPU
	// MemoryGPUToCPU is host visible and cached, for readback.
	MemoryGPUToCPU
)

func (m MemoryUsage) HostVisible() bool {
	return m != MemoryGPUOnly
}

func (m MemoryUsage) String() string {
	switch m {
	case MemoryGPUOnly:
		return "gpu-only"
	case MemoryCPUOnly:
		return "cpu-only"
	case MemoryCPUToGPU:
		return "cpu-to-gpu"
	case MemoryGPUToCPU:
		return "gpu-to-cpu"
	}
	return fmt.Sprintf("memory-usage(%d)", int(m))
}

// Format is a pixel format.
type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatR8G8B8A8Srgb
	FormatB8G8R8A8Srgb
	FormatR16G16B16A16Sfloat
	FormatD32Sfloat
)

// BytesPerPixel returns the texel size of color formats, 0 for depth and undefined.
func (f Format) BytesPerPixel() uint64 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatB8G8R8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Srgb:
		return 4
	case FormatR16G16B16A16Sfloat:
		return 8
	}
	return 0
}

// ImageLayout is the memory layout an image is in on the GPU.
type ImageLayout uint32

const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutShaderReadOnly
	ImageLayoutColorAttachment
	ImageLayoutPresentSrc
)

type Extent2D struct {
	Width  uint32
	Height uint32
}

// Empty reports whether either dimension is zero, as for a minimized window.
func (e Extent2D) Empty() bool {
	return e.Width == 0 || e.Height == 0
}

type Extent3D struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

func (e Extent3D) Extent2D() Extent2D {
	return Extent2D{Width: e.Width, Height: e.Height}
}

// BufferCreateInfo describes a buffer and where its memory comes from.
type BufferCreateInfo struct {
	Size   uint64
	Usage  BufferUsage
	Memory MemoryUsage
}

// ImageCreateInfo describes a 2D image, its default view and where its memory comes from.
type ImageCreateInfo struct {
	Format    Format
	Extent    Extent3D
	Usage     ImageUsage
	Memory    MemoryUsage
	MipLevels uint32
}

// SubmitInfo is one command buffer submission to the graphics queue.
// Null semaphores are skipped.
type SubmitInfo struct {
	CommandBuffer CommandBuffer
	Wait          Semaphore
	Signal        Semaphore
}
