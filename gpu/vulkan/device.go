package vulkan

import (
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

type image struct {
	handle vk.Image
	format vk.Format
	extent gpu.Extent3D
	// external images belong to the swapchain and are never destroyed through the device.
	external bool
}

type allocation struct {
	memory  vk.DeviceMemory
	size    uint64
	visible bool
}

type commandPool struct {
	handle  vk.CommandPool
	buffers []gpu.CommandBuffer
}

type descriptorPool struct {
	handle vk.DescriptorPool
	sets   []gpu.DescriptorSet
}

// Device implements gpu.Device on a Platform. Handles are looked up in per-kind tables; every
// driver object created through the device is released by the matching Destroy call.
type Device struct {
	platform *Platform
	device   vk.Device
	queue    vk.Queue
	log      *slog.Logger

	fences      *table[gpu.Fence, vk.Fence]
	semaphores  *table[gpu.Semaphore, vk.Semaphore]
	pools       *table[gpu.CommandPool, *commandPool]
	cmds        *table[gpu.CommandBuffer, vk.CommandBuffer]
	descPools   *table[gpu.DescriptorPool, *descriptorPool]
	layouts     *table[gpu.DescriptorSetLayout, vk.DescriptorSetLayout]
	sets        *table[gpu.DescriptorSet, vk.DescriptorSet]
	buffers     *table[gpu.Buffer, vk.Buffer]
	images      *table[gpu.Image, image]
	views       *table[gpu.ImageView, vk.ImageView]
	allocations *table[gpu.Allocation, allocation]

	// sampler backs combined image sampler writes.
	sampler vk.Sampler
}

var _ gpu.Device = (*Device)(nil)

func NewDevice(p *Platform, log *slog.Logger) (*Device, error) {
	if p == nil || p.device == nil {
		return nil, errors.New("vulkan: platform has no device")
	}
	d := &Device{
		platform:    p,
		device:      p.device,
		queue:       p.queue,
		log:         orDiscard(log).With(slog.String("component", "vulkan-device")),
		fences:      newTable[gpu.Fence, vk.Fence]("fence"),
		semaphores:  newTable[gpu.Semaphore, vk.Semaphore]("semaphore"),
		pools:       newTable[gpu.CommandPool, *commandPool]("command pool"),
		cmds:        newTable[gpu.CommandBuffer, vk.CommandBuffer]("command buffer"),
		descPools:   newTable[gpu.DescriptorPool, *descriptorPool]("descriptor pool"),
		layouts:     newTable[gpu.DescriptorSetLayout, vk.DescriptorSetLayout]("descriptor set layout"),
		sets:        newTable[gpu.DescriptorSet, vk.DescriptorSet]("descriptor set"),
		buffers:     newTable[gpu.Buffer, vk.Buffer]("buffer"),
		images:      newTable[gpu.Image, image]("image"),
		views:       newTable[gpu.ImageView, vk.ImageView]("image view"),
		allocations: newTable[gpu.Allocation, allocation]("allocation"),
	}
	ret := vk.CreateSampler(d.device, &vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.FilterLinear,
		MinFilter:    vk.FilterLinear,
		MipmapMode:   vk.SamplerMipmapModeLinear,
		AddressModeU: vk.SamplerAddressModeClampToEdge,
		AddressModeV: vk.SamplerAddressModeClampToEdge,
		AddressModeW: vk.SamplerAddressModeClampToEdge,
		MaxLod:       1,
	}, nil, &d.sampler)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create sampler")
	}
	return d, nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	ret := vk.CreateFence(d.device, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &fence)
	if isError(ret) {
		return 0, newError(ret)
	}
	return d.fences.add(fence), nil
}

func (d *Device) WaitForFence(f gpu.Fence, timeout time.Duration) error {
	fence, err := d.fences.get(f)
	if err != nil {
		return err
	}
	if timeout < 0 {
		timeout = 0
	}
	ret := vk.WaitForFences(d.device, 1, []vk.Fence{fence}, vk.True, uint64(timeout.Nanoseconds()))
	return newError(ret)
}

func (d *Device) ResetFence(f gpu.Fence) error {
	fence, err := d.fences.get(f)
	if err != nil {
		return err
	}
	return newError(vk.ResetFences(d.device, 1, []vk.Fence{fence}))
}

func (d *Device) DestroyFence(f gpu.Fence) {
	if fence, ok := d.fences.remove(f); ok {
		vk.DestroyFence(d.device, fence, nil)
	}
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(d.device, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	if isError(ret) {
		return 0, newError(ret)
	}
	return d.semaphores.add(sem), nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	if sem, ok := d.semaphores.remove(s); ok {
		vk.DestroySemaphore(d.device, sem, nil)
	}
}

func (d *Device) CreateCommandPool() (gpu.CommandPool, error) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.platform.queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if isError(ret) {
		return 0, newError(ret)
	}
	return d.pools.add(&commandPool{handle: pool}), nil
}

func (d *Device) AllocateCommandBuffer(p gpu.CommandPool) (gpu.CommandBuffer, error) {
	pool, err := d.pools.get(p)
	if err != nil {
		return 0, err
	}
	bufs := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(d.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs)
	if isError(ret) {
		return 0, newError(ret)
	}
	cmd := d.cmds.add(bufs[0])
	pool.buffers = append(pool.buffers, cmd)
	return cmd, nil
}

func (d *Device) ResetCommandPool(p gpu.CommandPool) error {
	pool, err := d.pools.get(p)
	if err != nil {
		return err
	}
	return newError(vk.ResetCommandPool(d.device, pool.handle, 0))
}

// DestroyCommandPool frees the pool and every command buffer allocated from it.
func (d *Device) DestroyCommandPool(p gpu.CommandPool) {
	pool, ok := d.pools.remove(p)
	if !ok {
		return
	}
	for _, cmd := range pool.buffers {
		d.cmds.remove(cmd)
	}
	vk.DestroyCommandPool(d.device, pool.handle, nil)
}

func (d *Device) BeginCommandBuffer(c gpu.CommandBuffer) error {
	cmd, err := d.cmds.get(c)
	if err != nil {
		return err
	}
	return newError(vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
}

func (d *Device) EndCommandBuffer(c gpu.CommandBuffer) error {
	cmd, err := d.cmds.get(c)
	if err != nil {
		return err
	}
	return newError(vk.EndCommandBuffer(cmd))
}

func (d *Device) Submit(info gpu.SubmitInfo, f gpu.Fence) error {
	cmd, err := d.cmds.get(info.CommandBuffer)
	if err != nil {
		return err
	}
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cmd},
	}
	if info.Wait != 0 {
		wait, err := d.semaphores.get(info.Wait)
		if err != nil {
			return err
		}
		submit.WaitSemaphoreCount = 1
		submit.PWaitSemaphores = []vk.Semaphore{wait}
		submit.PWaitDstStageMask = []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
	}
	if info.Signal != 0 {
		signal, err := d.semaphores.get(info.Signal)
		if err != nil {
			return err
		}
		submit.SignalSemaphoreCount = 1
		submit.PSignalSemaphores = []vk.Semaphore{signal}
	}
	fence := vk.NullFence
	if f != 0 {
		if fence, err = d.fences.get(f); err != nil {
			return err
		}
	}
	return newError(vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{submit}, fence))
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize) (gpu.DescriptorPool, error) {
	vkSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		vkSizes[i] = vk.DescriptorPoolSize{Type: vkDescriptorType(s.Type), DescriptorCount: s.Count}
	}
	var pool vk.DescriptorPool
	ret := vk.CreateDescriptorPool(d.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(vkSizes)),
		PPoolSizes:    vkSizes,
	}, nil, &pool)
	if isError(ret) {
		return 0, newError(ret)
	}
	return d.descPools.add(&descriptorPool{handle: pool}), nil
}

// ResetDescriptorPool returns every set of the pool to it. Handles of those sets go stale.
func (d *Device) ResetDescriptorPool(p gpu.DescriptorPool) error {
	pool, err := d.descPools.get(p)
	if err != nil {
		return err
	}
	if err := newError(vk.ResetDescriptorPool(d.device, pool.handle, 0)); err != nil {
		return err
	}
	d.forgetSets(pool)
	return nil
}

func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPool) {
	pool, ok := d.descPools.remove(p)
	if !ok {
		return
	}
	d.forgetSets(pool)
	vk.DestroyDescriptorPool(d.device, pool.handle, nil)
}

func (d *Device) forgetSets(pool *descriptorPool) {
	for _, set := range pool.sets {
		d.sets.remove(set)
	}
	pool.sets = pool.sets[:0]
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vkDescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      shaderStageFlags(b.Stages),
		}
	}
	var layout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(d.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}, nil, &layout)
	if isError(ret) {
		return 0, newError(ret)
	}
	return d.layouts.add(layout), nil
}

func (d *Device) DestroyDescriptorSetLayout(l gpu.DescriptorSetLayout) {
	if layout, ok := d.layouts.remove(l); ok {
		vk.DestroyDescriptorSetLayout(d.device, layout, nil)
	}
}

func (d *Device) AllocateDescriptorSet(p gpu.DescriptorPool, l gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	pool, err := d.descPools.get(p)
	if err != nil {
		return 0, err
	}
	layout, err := d.layouts.get(l)
	if err != nil {
		return 0, err
	}
	var set vk.DescriptorSet
	ret := vk.AllocateDescriptorSets(d.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}, &set)
	if isError(ret) {
		return 0, newError(ret)
	}
	h := d.sets.add(set)
	pool.sets = append(pool.sets, h)
	return h, nil
}

// UpdateDescriptorSet skips writes that name unknown handles and logs them.
func (d *Device) UpdateDescriptorSet(s gpu.DescriptorSet, writes []gpu.DescriptorWrite) {
	set, err := d.sets.get(s)
	if err != nil {
		d.log.Warn("descriptor update skipped", slog.String("error", err.Error()))
		return
	}
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  vkDescriptorType(w.Type),
		}
		switch w.Type {
		case gpu.DescriptorTypeUniformBuffer, gpu.DescriptorTypeStorageBuffer:
			buf, err := d.buffers.get(w.Buffer)
			if err != nil {
				d.log.Warn("descriptor write skipped", slog.Int("binding", int(w.Binding)), slog.String("error", err.Error()))
				continue
			}
			size := vk.DeviceSize(w.Range)
			if w.Range == 0 {
				size = vk.DeviceSize(^uint64(0))
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{Buffer: buf, Offset: vk.DeviceSize(w.Offset), Range: size}}
		default:
			view, err := d.views.get(w.View)
			if err != nil && w.Type != gpu.DescriptorTypeSampler {
				d.log.Warn("descriptor write skipped", slog.Int("binding", int(w.Binding)), slog.String("error", err.Error()))
				continue
			}
			info := vk.DescriptorImageInfo{ImageView: view, ImageLayout: vkLayout(w.Layout)}
			if w.Type == gpu.DescriptorTypeCombinedImageSampler || w.Type == gpu.DescriptorTypeSampler {
				info.Sampler = d.sampler
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		}
		vkWrites = append(vkWrites, write)
	}
	if len(vkWrites) > 0 {
		vk.UpdateDescriptorSets(d.device, uint32(len(vkWrites)), vkWrites, 0, nil)
	}
}

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, gpu.Allocation, error) {
	if info.Size == 0 {
		return 0, 0, errors.New("vulkan: zero-sized buffer")
	}
	var buffer vk.Buffer
	ret := vk.CreateBuffer(d.device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Usage:       bufferUsageFlags(info.Usage),
		Size:        vk.DeviceSize(info.Size),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buffer)
	if isError(ret) {
		return 0, 0, newError(ret)
	}
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device, buffer, &reqs)
	reqs.Deref()

	mem, err := d.allocate(reqs, info.Memory)
	if err != nil {
		vk.DestroyBuffer(d.device, buffer, nil)
		return 0, 0, err
	}
	if ret := vk.BindBufferMemory(d.device, buffer, mem.memory, 0); isError(ret) {
		vk.FreeMemory(d.device, mem.memory, nil)
		vk.DestroyBuffer(d.device, buffer, nil)
		return 0, 0, newError(ret)
	}
	return d.buffers.add(buffer), d.allocations.add(mem), nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer, a gpu.Allocation) {
	if buffer, ok := d.buffers.remove(b); ok {
		vk.DestroyBuffer(d.device, buffer, nil)
	}
	if mem, ok := d.allocations.remove(a); ok {
		vk.FreeMemory(d.device, mem.memory, nil)
	}
}

func (d *Device) CreateImage(info gpu.ImageCreateInfo) (gpu.Image, gpu.ImageView, gpu.Allocation, error) {
	format := vkFormat(info.Format)
	if format == vk.FormatUndefined {
		return 0, 0, 0, errors.Newf("vulkan: unsupported image format %d", info.Format)
	}
	extent := info.Extent
	if extent.Depth == 0 {
		extent.Depth = 1
	}
	mips := info.MipLevels
	if mips == 0 {
		mips = 1
	}
	var img vk.Image
	ret := vk.CreateImage(d.device, &vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        format,
		Extent:        vk.Extent3D{Width: extent.Width, Height: extent.Height, Depth: extent.Depth},
		MipLevels:     mips,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	if isError(ret) {
		return 0, 0, 0, newError(ret)
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device, img, &reqs)
	reqs.Deref()

	mem, err := d.allocate(reqs, info.Memory)
	if err != nil {
		vk.DestroyImage(d.device, img, nil)
		return 0, 0, 0, err
	}
	if ret := vk.BindImageMemory(d.device, img, mem.memory, 0); isError(ret) {
		vk.FreeMemory(d.device, mem.memory, nil)
		vk.DestroyImage(d.device, img, nil)
		return 0, 0, 0, newError(ret)
	}
	view, err := d.createView(img, format, mips)
	if err != nil {
		vk.FreeMemory(d.device, mem.memory, nil)
		vk.DestroyImage(d.device, img, nil)
		return 0, 0, 0, err
	}
	h := d.images.add(image{handle: img, format: format, extent: extent})
	return h, d.views.add(view), d.allocations.add(mem), nil
}

func (d *Device) createView(img vk.Image, format vk.Format, mips uint32) (vk.ImageView, error) {
	var view vk.ImageView
	ret := vk.CreateImageView(d.device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectOf(format),
			LevelCount: mips,
			LayerCount: 1,
		},
	}, nil, &view)
	if isError(ret) {
		return vk.NullImageView, newError(ret)
	}
	return view, nil
}

func (d *Device) DestroyImage(i gpu.Image, v gpu.ImageView, a gpu.Allocation) {
	if view, ok := d.views.remove(v); ok {
		vk.DestroyImageView(d.device, view, nil)
	}
	if img, ok := d.images.remove(i); ok && !img.external {
		vk.DestroyImage(d.device, img.handle, nil)
	}
	if mem, ok := d.allocations.remove(a); ok {
		vk.FreeMemory(d.device, mem.memory, nil)
	}
}

// registerExternal makes a swapchain image addressable by the core. The returned view is
// destroyed by releaseExternal.
func (d *Device) registerExternal(img vk.Image, format vk.Format, extent gpu.Extent2D) (gpu.Image, gpu.ImageView, error) {
	view, err := d.createView(img, format, 1)
	if err != nil {
		return 0, 0, err
	}
	h := d.images.add(image{
		handle:   img,
		format:   format,
		extent:   gpu.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
		external: true,
	})
	return h, d.views.add(view), nil
}

func (d *Device) releaseExternal(i gpu.Image, v gpu.ImageView) {
	d.DestroyImage(i, v, 0)
}

func (d *Device) WriteMemory(a gpu.Allocation, offset uint64, data []byte) error {
	mem, err := d.allocations.get(a)
	if err != nil {
		return err
	}
	if !mem.visible {
		return errors.Wrapf(gpu.ErrNotHostVisible, "allocation %d", uint64(a))
	}
	if offset+uint64(len(data)) > mem.size {
		return errors.Newf("vulkan: write of %d bytes at %d overflows allocation of %d", len(data), offset, mem.size)
	}
	if len(data) == 0 {
		return nil
	}
	var ptr unsafe.Pointer
	ret := vk.MapMemory(d.device, mem.memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &ptr)
	if isError(ret) {
		return errors.Wrap(newError(ret), "map memory")
	}
	n := vk.Memcopy(ptr, data)
	vk.UnmapMemory(d.device, mem.memory)
	if n != len(data) {
		return errors.Newf("vulkan: copied %d of %d bytes", n, len(data))
	}
	return nil
}

func (d *Device) allocate(reqs vk.MemoryRequirements, usage gpu.MemoryUsage) (allocation, error) {
	index, ok := memoryTypeFor(d.platform.memoryProperties, reqs.MemoryTypeBits, usage)
	if !ok {
		return allocation{}, errors.Wrapf(gpu.ErrOutOfDeviceMemory, "no memory type for %s", usage)
	}
	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(d.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}, nil, &mem)
	if isError(ret) {
		return allocation{}, newError(ret)
	}
	return allocation{memory: mem, size: uint64(reqs.Size), visible: usage.HostVisible()}, nil
}

func (d *Device) WaitIdle() error {
	return newError(vk.DeviceWaitIdle(d.device))
}

// Destroy waits for the GPU, releases whatever handles are still live and logs them as leaks.
func (d *Device) Destroy() {
	if d.device == nil {
		return
	}
	vk.DeviceWaitIdle(d.device)
	leaked := 0
	for _, pool := range d.descPools.drain() {
		vk.DestroyDescriptorPool(d.device, pool.handle, nil)
		leaked++
	}
	d.sets.drain()
	for _, layout := range d.layouts.drain() {
		vk.DestroyDescriptorSetLayout(d.device, layout, nil)
		leaked++
	}
	for _, pool := range d.pools.drain() {
		vk.DestroyCommandPool(d.device, pool.handle, nil)
		leaked++
	}
	d.cmds.drain()
	for _, fence := range d.fences.drain() {
		vk.DestroyFence(d.device, fence, nil)
		leaked++
	}
	for _, sem := range d.semaphores.drain() {
		vk.DestroySemaphore(d.device, sem, nil)
		leaked++
	}
	for _, view := range d.views.drain() {
		vk.DestroyImageView(d.device, view, nil)
		leaked++
	}
	for _, img := range d.images.drain() {
		if !img.external {
			vk.DestroyImage(d.device, img.handle, nil)
			leaked++
		}
	}
	for _, buf := range d.buffers.drain() {
		vk.DestroyBuffer(d.device, buf, nil)
		leaked++
	}
	for _, mem := range d.allocations.drain() {
		vk.FreeMemory(d.device, mem.memory, nil)
	}
	vk.DestroySampler(d.device, d.sampler, nil)
	if leaked > 0 {
		d.log.Warn("device destroyed with live objects", slog.Int("count", leaked))
	}
	d.device = nil
}
