package dieselframe

import (
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// AllocatedBuffer is a buffer handle paired with the memory backing it. It is either fully live
// or fully destroyed; Allocator.DestroyBuffer releases both halves together.
type AllocatedBuffer struct {
	Buffer     gpu.Buffer
	Allocation gpu.Allocation
	Size       uint64
	Usage      gpu.BufferUsage
	Memory     gpu.MemoryUsage

	owner     string
	destroyed bool
}

// Owner names the deletion queue responsible for the buffer, empty if none.
func (b *AllocatedBuffer) Owner() string { return b.owner }

// Valid reports whether the buffer and its memory are live.
func (b *AllocatedBuffer) Valid() bool { return b != nil && !b.destroyed }

// AllocatedImage is an image, its default view and the memory backing it.
type AllocatedImage struct {
	Image      gpu.Image
	View       gpu.ImageView
	Allocation gpu.Allocation
	Format     gpu.Format
	Extent     gpu.Extent3D
	Usage      gpu.ImageUsage

	owner     string
	destroyed bool
}

func (img *AllocatedImage) Owner() string { return img.owner }

func (img *AllocatedImage) Valid() bool { return img != nil && !img.destroyed }

// Allocator creates buffers and images with their backing memory. It keeps no ownership
// registry: callers register the matching destroy into a DeletionQueue at creation time.
type Allocator struct {
	device gpu.Device
	log    *slog.Logger

	mu     sync.Mutex
	live   int
	closed bool
}

func NewAllocator(device gpu.Device, log *slog.Logger) *Allocator {
	return &Allocator{
		device: device,
		log:    orDiscard(log).With(slog.String("component", "allocator")),
	}
}

// Live returns the number of buffers and images created and not yet destroyed.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// reserve counts a resource about to be created. It refuses once the allocator is destroyed;
// the caller releases the reservation if the device call fails.
func (a *Allocator) reserve() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.Wrap(ErrNotInitialized, "allocator destroyed")
	}
	a.live++
	return nil
}

func (a *Allocator) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live--
}

// CreateBuffer allocates a buffer of size bytes.
func (a *Allocator) CreateBuffer(size uint64, usage gpu.BufferUsage, memory gpu.MemoryUsage) (*AllocatedBuffer, error) {
	if size == 0 {
		return nil, errors.New("buffer size must be positive")
	}
	if err := a.reserve(); err != nil {
		return nil, err
	}
	buf, alloc, err := a.device.CreateBuffer(gpu.BufferCreateInfo{Size: size, Usage: usage, Memory: memory})
	if err != nil {
		a.release()
		return nil, errors.Wrapf(err, "create %s buffer of %d bytes", memory, size)
	}
	return &AllocatedBuffer{
		Buffer:     buf,
		Allocation: alloc,
		Size:       size,
		Usage:      usage,
		Memory:     memory,
	}, nil
}

// DestroyBuffer frees the buffer and its memory. Destroying twice is a no-op.
func (a *Allocator) DestroyBuffer(b *AllocatedBuffer) {
	if b == nil || b.destroyed {
		return
	}
	a.device.DestroyBuffer(b.Buffer, b.Allocation)
	b.destroyed = true
	a.release()
}

// CreateImage allocates a 2D image with a default view.
func (a *Allocator) CreateImage(format gpu.Format, extent gpu.Extent3D, usage gpu.ImageUsage, memory gpu.MemoryUsage) (*AllocatedImage, error) {
	if extent.Width == 0 || extent.Height == 0 {
		return nil, errors.Newf("image extent %dx%d is empty", extent.Width, extent.Height)
	}
	if extent.Depth == 0 {
		extent.Depth = 1
	}
	if err := a.reserve(); err != nil {
		return nil, err
	}
	img, view, alloc, err := a.device.CreateImage(gpu.ImageCreateInfo{
		Format:    format,
		Extent:    extent,
		Usage:     usage,
		Memory:    memory,
		MipLevels: 1,
	})
	if err != nil {
		a.release()
		return nil, errors.Wrapf(err, "create %dx%d image", extent.Width, extent.Height)
	}
	return &AllocatedImage{
		Image:      img,
		View:       view,
		Allocation: alloc,
		Format:     format,
		Extent:     extent,
		Usage:      usage,
	}, nil
}

// DestroyImage frees the view, the image and its memory. Destroying twice is a no-op.
func (a *Allocator) DestroyImage(img *AllocatedImage) {
	if img == nil || img.destroyed {
		return
	}
	a.device.DestroyImage(img.Image, img.View, img.Allocation)
	img.destroyed = true
	a.release()
}

// Write copies data into a host-visible buffer.
func (a *Allocator) Write(b *AllocatedBuffer, offset uint64, data []byte) error {
	if !b.Valid() {
		return errors.AssertionFailedf("write to destroyed buffer")
	}
	if offset+uint64(len(data)) > b.Size {
		return errors.AssertionFailedf("write of %d bytes at %d overflows buffer of %d bytes", len(data), offset, b.Size)
	}
	return errors.Wrap(a.device.WriteMemory(b.Allocation, offset, data), "write buffer")
}

// UploadBuffer creates a GPU-only buffer holding data. The copy goes through a staging buffer
// and an immediate submission, so it blocks until the GPU has finished.
func (a *Allocator) UploadBuffer(imm *ImmediateSubmitter, data []byte, usage gpu.BufferUsage) (*AllocatedBuffer, error) {
	size := uint64(len(data))
	staging, err := a.stage(data)
	if err != nil {
		return nil, err
	}
	defer a.DestroyBuffer(staging)

	dst, err := a.CreateBuffer(size, usage|gpu.BufferUsageTransferDst, gpu.MemoryGPUOnly)
	if err != nil {
		return nil, err
	}
	err = imm.Submit(func(cmd gpu.CommandBuffer) error {
		a.device.CmdCopyBuffer(cmd, staging.Buffer, dst.Buffer, size)
		return nil
	})
	if err != nil {
		a.DestroyBuffer(dst)
		return nil, errors.Wrap(err, "upload buffer")
	}
	return dst, nil
}

// UploadImage creates a GPU-only image filled with data and leaves it ready for sampling.
func (a *Allocator) UploadImage(imm *ImmediateSubmitter, data []byte, format gpu.Format, extent gpu.Extent3D, usage gpu.ImageUsage) (*AllocatedImage, error) {
	if extent.Depth == 0 {
		extent.Depth = 1
	}
	want := uint64(extent.Width) * uint64(extent.Height) * uint64(extent.Depth) * format.BytesPerPixel()
	if uint64(len(data)) != want {
		return nil, errors.AssertionFailedf("image data is %d bytes, want %d", len(data), want)
	}
	staging, err := a.stage(data)
	if err != nil {
		return nil, err
	}
	defer a.DestroyBuffer(staging)

	img, err := a.CreateImage(format, extent, usage|gpu.ImageUsageTransferDst, gpu.MemoryGPUOnly)
	if err != nil {
		return nil, err
	}
	err = imm.Submit(func(cmd gpu.CommandBuffer) error {
		a.device.CmdTransitionImage(cmd, img.Image, gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDst)
		a.device.CmdCopyBufferToImage(cmd, staging.Buffer, img.Image, extent)
		a.device.CmdTransitionImage(cmd, img.Image, gpu.ImageLayoutTransferDst, gpu.ImageLayoutShaderReadOnly)
		return nil
	})
	if err != nil {
		a.DestroyImage(img)
		return nil, errors.Wrap(err, "upload image")
	}
	return img, nil
}

func (a *Allocator) stage(data []byte) (*AllocatedBuffer, error) {
	staging, err := a.CreateBuffer(uint64(len(data)), gpu.BufferUsageTransferSrc, gpu.MemoryCPUOnly)
	if err != nil {
		return nil, errors.Wrap(err, "staging buffer")
	}
	staging.owner = "staging"
	if err := a.Write(staging, 0, data); err != nil {
		a.DestroyBuffer(staging)
		return nil, err
	}
	return staging, nil
}

// Destroy closes the allocator. Anything still live at this point was never registered into a
// deletion queue and has leaked.
func (a *Allocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	if a.live > 0 {
		a.log.Warn("allocator destroyed with live resources", slog.Int("live", a.live))
	}
}
