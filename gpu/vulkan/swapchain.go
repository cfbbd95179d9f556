package vulkan

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// Swapchain implements gpu.Swapchain on the platform's surface. Its images are registered with
// the Device so the core can transition and blit into them like any other image.
type Swapchain struct {
	device  *Device
	surface vk.Surface
	handle  vk.Swapchain
	format  vk.SurfaceFormat
	extent  gpu.Extent2D
	desired uint32
	images  []gpu.Image
	views   []gpu.ImageView
	log     *slog.Logger
}

var _ gpu.Swapchain = (*Swapchain)(nil)

// NewSwapchain creates a FIFO swapchain of at least desired images.
func NewSwapchain(device *Device, extent gpu.Extent2D, desired int, log *slog.Logger) (*Swapchain, error) {
	if desired < 1 {
		desired = 1
	}
	s := &Swapchain{
		device:  device,
		surface: device.platform.surface,
		desired: uint32(desired),
		log:     orDiscard(log).With(slog.String("component", "swapchain")),
	}
	if err := s.create(extent); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Swapchain) create(requested gpu.Extent2D) error {
	gpuDev := s.device.platform.gpu
	var caps vk.SurfaceCapabilities
	if ret := vk.GetPhysicalDeviceSurfaceCapabilities(gpuDev, s.surface, &caps); isError(ret) {
		return errors.Wrap(newError(ret), "surface capabilities")
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	format, err := s.pickFormat(gpuDev)
	if err != nil {
		return err
	}

	extent := caps.CurrentExtent
	if extent.Width == math.MaxUint32 {
		extent = vk.Extent2D{
			Width:  clamp(requested.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
			Height: clamp(requested.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
		}
	}
	if extent.Width == 0 || extent.Height == 0 {
		return errors.Newf("vulkan: surface extent %dx%d", extent.Width, extent.Height)
	}

	count := s.desired
	if count < caps.MinImageCount {
		count = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}

	transform := caps.CurrentTransform
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&vk.SurfaceTransformIdentityBit != 0 {
		transform = vk.SurfaceTransformIdentityBit
	}
	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, flag := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	// FIFO is the only present mode every driver must support.
	old := s.handle
	var swapchain vk.Swapchain
	ret := vk.CreateSwapchain(s.device.device, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          s.surface,
		MinImageCount:    count,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     transform,
		CompositeAlpha:   compositeAlpha,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		PresentMode:      vk.PresentModeFifo,
		OldSwapchain:     old,
		Clipped:          vk.True,
	}, nil, &swapchain)
	if isError(ret) {
		return errors.Wrap(newError(ret), "create swapchain")
	}

	s.releaseImages()
	if old != vk.NullSwapchain {
		vk.DestroySwapchain(s.device.device, old, nil)
	}
	s.handle = swapchain
	s.format = format
	s.extent = gpu.Extent2D{Width: extent.Width, Height: extent.Height}

	var n uint32
	if ret := vk.GetSwapchainImages(s.device.device, swapchain, &n, nil); isError(ret) {
		return errors.Wrap(newError(ret), "swapchain images")
	}
	images := make([]vk.Image, n)
	if ret := vk.GetSwapchainImages(s.device.device, swapchain, &n, images); isError(ret) {
		return errors.Wrap(newError(ret), "swapchain images")
	}
	for _, img := range images {
		h, view, err := s.device.registerExternal(img, format.Format, s.extent)
		if err != nil {
			return err
		}
		s.images = append(s.images, h)
		s.views = append(s.views, view)
	}
	s.log.Info("swapchain created",
		slog.Int("images", len(s.images)),
		slog.Uint64("width", uint64(extent.Width)),
		slog.Uint64("height", uint64(extent.Height)))
	return nil
}

// pickFormat prefers B8G8R8A8 unorm in sRGB nonlinear color space and falls back to the first
// format the surface reports.
func (s *Swapchain) pickFormat(gpuDev vk.PhysicalDevice) (vk.SurfaceFormat, error) {
	var count uint32
	vk.GetPhysicalDeviceSurfaceFormats(gpuDev, s.surface, &count, nil)
	if count == 0 {
		return vk.SurfaceFormat{}, errors.New("vulkan: surface reports no formats")
	}
	formats := make([]vk.SurfaceFormat, count)
	vk.GetPhysicalDeviceSurfaceFormats(gpuDev, s.surface, &count, formats)
	for i := range formats {
		formats[i].Deref()
	}
	if count == 1 && formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: formats[0].ColorSpace}, nil
	}
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f, nil
		}
	}
	return formats[0], nil
}

func (s *Swapchain) releaseImages() {
	for i := range s.images {
		s.device.releaseExternal(s.images[i], s.views[i])
	}
	s.images = s.images[:0]
	s.views = s.views[:0]
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, error) {
	sem, err := s.device.semaphores.get(signal)
	if err != nil {
		return 0, err
	}
	var index uint32
	ret := vk.AcquireNextImage(s.device.device, s.handle, uint64(timeout.Nanoseconds()), sem, vk.NullFence, &index)
	return index, newError(ret)
}

func (s *Swapchain) Present(index uint32, wait gpu.Semaphore) error {
	sem, err := s.device.semaphores.get(wait)
	if err != nil {
		return err
	}
	ret := vk.QueuePresent(s.device.queue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{index},
	})
	return newError(ret)
}

func (s *Swapchain) Image(index uint32) gpu.Image {
	if int(index) >= len(s.images) {
		return 0
	}
	return s.images[index]
}

func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

func (s *Swapchain) Format() gpu.Format {
	return gpuFormat(s.format.Format)
}

func (s *Swapchain) Extent() gpu.Extent2D {
	return s.extent
}

// Recreate rebuilds the swapchain, passing the old one to the driver for reuse.
func (s *Swapchain) Recreate(extent gpu.Extent2D) error {
	return s.create(extent)
}

func (s *Swapchain) Destroy() {
	s.releaseImages()
	if s.handle != vk.NullSwapchain {
		vk.DestroySwapchain(s.device.device, s.handle, nil)
		s.handle = vk.NullSwapchain
	}
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
