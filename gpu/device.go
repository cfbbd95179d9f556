package gpu

import "time"

// Device is the slice of the driver the engine core drives. Implementations are not required to
// be safe for concurrent use; the core calls in from a single controlling thread and serializes
// immediate submissions itself.
type Device interface {
	CreateFence(signaled bool) (Fence, error)
	// WaitForFence blocks until the fence is signaled or the timeout elapses, in which case it
	// returns ErrTimeout.
	WaitForFence(fence Fence, timeout time.Duration) error
	ResetFence(fence Fence) error
	DestroyFence(fence Fence)

	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)

	// CreateCommandPool creates a pool on the graphics queue family whose buffers can be reset
	// individually.
	CreateCommandPool() (CommandPool, error)
	AllocateCommandBuffer(pool CommandPool) (CommandBuffer, error)
	ResetCommandPool(pool CommandPool) error
	DestroyCommandPool(pool CommandPool)
	// BeginCommandBuffer starts recording a one-time-submit primary command buffer.
	BeginCommandBuffer(cmd CommandBuffer) error
	EndCommandBuffer(cmd CommandBuffer) error
	// Submit queues work on the graphics queue. The fence, if not null, is signaled once the GPU
	// has finished executing it.
	Submit(info SubmitInfo, fence Fence) error

	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)
	ResetDescriptorPool(pool DescriptorPool) error
	DestroyDescriptorPool(pool DescriptorPool)
	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	// AllocateDescriptorSet returns ErrOutOfPoolMemory or ErrFragmentedPool when the pool cannot
	// hold another set.
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSet(set DescriptorSet, writes []DescriptorWrite)

	// CreateBuffer creates the buffer and binds freshly allocated memory to it.
	CreateBuffer(info BufferCreateInfo) (Buffer, Allocation, error)
	DestroyBuffer(buffer Buffer, allocation Allocation)
	// CreateImage creates the image, binds memory and creates a default 2D view.
	CreateImage(info ImageCreateInfo) (Image, ImageView, Allocation, error)
	DestroyImage(image Image, view ImageView, allocation Allocation)
	// WriteMemory copies data into a host-visible allocation at offset.
	WriteMemory(allocation Allocation, offset uint64, data []byte) error

	WaitIdle() error

	Commands
}

// Commands records transfer work into a command buffer in the recording state.
type Commands interface {
	CmdCopyBuffer(cmd CommandBuffer, src, dst Buffer, size uint64)
	CmdCopyBufferToImage(cmd CommandBuffer, src Buffer, dst Image, extent Extent3D)
	CmdTransitionImage(cmd CommandBuffer, image Image, from, to ImageLayout)
	// CmdBlitImage copies src into dst with scaling. src must be in ImageLayoutTransferSrc and
	// dst in ImageLayoutTransferDst.
	CmdBlitImage(cmd CommandBuffer, src, dst Image, srcExtent, dstExtent Extent2D)
}

// Swapchain is the set of presentable images owned by the surface collaborator.
type Swapchain interface {
	// AcquireNextImage returns the index of the next presentable image and arranges for signal
	// to be signaled once it can be written. ErrOutOfDate means the swapchain must be recreated.
	AcquireNextImage(timeout time.Duration, signal Semaphore) (uint32, error)
	// Present queues image index for display once wait is signaled.
	Present(index uint32, wait Semaphore) error
	Image(index uint32) Image
	ImageCount() int
	Format() Format
	Extent() Extent2D
	// Recreate rebuilds the swapchain for a new extent. The caller must have drained the GPU.
	Recreate(extent Extent2D) error
	Destroy()
}

// Surface is the window the engine presents to.
type Surface interface {
	// Extent is the current drawable size in pixels; zero while minimized.
	Extent() Extent2D
	// ResizePending reports and clears a pending framebuffer resize.
	ResizePending() bool
	ShouldClose() bool
	PollEvents()
}
