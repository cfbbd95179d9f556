package dieselframe

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// FrameState is where a frame slot is in its cycle. A slot only returns to Idle when the loop
// comes back around to it and its fence wait succeeds.
type FrameState int

const (
	FrameIdle FrameState = iota
	FrameRecording
	FrameSubmitted
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FrameRecording:
		return "recording"
	case FrameSubmitted:
		return "submitted"
	}
	return fmt.Sprintf("frame-state(%d)", int(s))
}

// FrameContext is one slot of the frame ring: the synchronization primitives, the command pool
// and buffer, and the deletion queue and descriptor allocator scoped to the slot. It is created
// once at init and reused every ring-size frames.
//
// One command pool per slot keeps the door open for per-thread pools later; today only the
// controlling thread records into it.
type FrameContext struct {
	index int

	swapchainSemaphore gpu.Semaphore
	renderSemaphore    gpu.Semaphore
	renderFence        gpu.Fence

	commandPool       gpu.CommandPool
	mainCommandBuffer gpu.CommandBuffer

	deletion    *DeletionQueue
	descriptors *DescriptorAllocator

	state FrameState
	uses  int
}

// frameDescriptorRatios provisions the per-frame allocator for transient sets.
var frameDescriptorRatios = []PoolSizeRatio{
	{Type: gpu.DescriptorTypeStorageImage, Ratio: 3},
	{Type: gpu.DescriptorTypeStorageBuffer, Ratio: 3},
	{Type: gpu.DescriptorTypeUniformBuffer, Ratio: 3},
	{Type: gpu.DescriptorTypeCombinedImageSampler, Ratio: 4},
}

func newFrameContext(device gpu.Device, index int, cfg Config, log *slog.Logger) (f *FrameContext, err error) {
	f = &FrameContext{index: index}
	defer func() {
		if err != nil {
			f.destroy(device)
		}
	}()

	// Created signaled so the first wait on a fresh slot returns at once.
	if f.renderFence, err = device.CreateFence(true); err != nil {
		return f, errors.Wrapf(err, "frame %d fence", index)
	}
	if f.swapchainSemaphore, err = device.CreateSemaphore(); err != nil {
		return f, errors.Wrapf(err, "frame %d swapchain semaphore", index)
	}
	if f.renderSemaphore, err = device.CreateSemaphore(); err != nil {
		return f, errors.Wrapf(err, "frame %d render semaphore", index)
	}
	if f.commandPool, err = device.CreateCommandPool(); err != nil {
		return f, errors.Wrapf(err, "frame %d command pool", index)
	}
	if f.mainCommandBuffer, err = device.AllocateCommandBuffer(f.commandPool); err != nil {
		return f, errors.Wrapf(err, "frame %d command buffer", index)
	}

	name := fmt.Sprintf("frame/%d", index)
	f.deletion = NewDeletionQueue(name, log)
	f.descriptors = NewDescriptorAllocator(device, cfg.Descriptors, log.With(slog.Int("frame", index)))
	if err = f.descriptors.InitPool(cfg.DescriptorMaxSets, frameDescriptorRatios); err != nil {
		return f, errors.Wrapf(err, "frame %d descriptors", index)
	}
	return f, nil
}

func (f *FrameContext) Index() int { return f.index }

func (f *FrameContext) State() FrameState { return f.state }

// Uses returns how many frames have been recorded in this slot.
func (f *FrameContext) Uses() int { return f.uses }

func (f *FrameContext) DeletionQueue() *DeletionQueue { return f.deletion }

func (f *FrameContext) Descriptors() *DescriptorAllocator { return f.descriptors }

// destroy releases the slot's primitives. The caller must have drained the GPU and flushed the
// slot's deletion queue.
func (f *FrameContext) destroy(device gpu.Device) {
	if f.descriptors != nil {
		f.descriptors.DestroyPools()
	}
	if f.commandPool != 0 {
		device.DestroyCommandPool(f.commandPool)
		f.commandPool = 0
		f.mainCommandBuffer = 0
	}
	if f.renderFence != 0 {
		device.DestroyFence(f.renderFence)
		f.renderFence = 0
	}
	if f.renderSemaphore != 0 {
		device.DestroySemaphore(f.renderSemaphore)
		f.renderSemaphore = 0
	}
	if f.swapchainSemaphore != 0 {
		device.DestroySemaphore(f.swapchainSemaphore)
		f.swapchainSemaphore = 0
	}
}

// FrameScope is what rendering techniques see of the frame being recorded: the command buffer,
// the frame index and the frame-scoped resources. Synchronization primitives stay private to the
// loop.
type FrameScope struct {
	Cmd         gpu.CommandBuffer
	FrameNumber uint64
	Slot        int

	DrawImage       *AllocatedImage
	DrawExtent      gpu.Extent2D
	SwapchainImage  gpu.Image
	SwapchainExtent gpu.Extent2D

	frame     *FrameContext
	device    gpu.Device
	allocator *Allocator
}

// Commands records transfer work into Cmd.
func (s *FrameScope) Commands() gpu.Commands { return s.device }

// Device exposes the device for descriptor updates.
func (s *FrameScope) Device() gpu.Device { return s.device }

func (s *FrameScope) Allocator() *Allocator { return s.allocator }

// DeletionQueue is flushed the next time this slot is reused, after its fence wait.
func (s *FrameScope) DeletionQueue() *DeletionQueue { return s.frame.deletion }

// AllocateDescriptorSet returns a transient set valid until this slot is reused.
func (s *FrameScope) AllocateDescriptorSet(layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	return s.frame.descriptors.Allocate(layout)
}

// TransientBuffer creates a buffer that lives until this slot is reused.
func (s *FrameScope) TransientBuffer(size uint64, usage gpu.BufferUsage, memory gpu.MemoryUsage) (*AllocatedBuffer, error) {
	b, err := s.allocator.CreateBuffer(size, usage, memory)
	if err != nil {
		return nil, err
	}
	s.frame.deletion.PushBuffer(s.allocator, b)
	return b, nil
}

// Pass records one technique into a frame. Passes run in registration order.
type Pass interface {
	Name() string
	Record(scope *FrameScope) error
}

// PassInitializer is implemented by passes that create persistent resources at engine init.
// Anything created there must be registered into the main deletion queue.
type PassInitializer interface {
	Init(e *Engine) error
}
