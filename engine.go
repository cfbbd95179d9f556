package dieselframe

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// minimizedWait is how long Run sleeps between event polls while the surface has no area.
var minimizedWait = 100 * time.Millisecond

// Engine owns the frame loop, the allocators and the main deletion queue for one device and
// one swapchain. The swapchain and surface belong to the platform that created them; the engine
// only recreates the swapchain when it goes stale.
//
// Every method except ImmediateSubmit must be called from the controlling thread.
type Engine struct {
	cfg       Config
	log       *slog.Logger
	device    gpu.Device
	swapchain gpu.Swapchain
	surface   gpu.Surface

	initialized bool
	cleaned     bool

	guard       recordingGuard
	allocator   *Allocator
	immediate   *ImmediateSubmitter
	main        *DeletionQueue
	descriptors *DescriptorAllocator
	loop        *FrameLoop

	drawImage  *AllocatedImage
	drawLayout gpu.DescriptorSetLayout
	drawSet    gpu.DescriptorSet

	passes   []Pass
	overlays []Pass

	stopRendering bool
}

// New returns an engine for the given device and swapchain. Nothing is created on the device
// until Init.
func New(device gpu.Device, swapchain gpu.Swapchain, surface gpu.Surface, cfg Config, log *slog.Logger) (*Engine, error) {
	if device == nil || swapchain == nil || surface == nil {
		return nil, errors.AssertionFailedf("engine needs a device, a swapchain and a surface")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "engine config")
	}
	return &Engine{
		cfg:       cfg,
		log:       orDiscard(log),
		device:    device,
		swapchain: swapchain,
		surface:   surface,
	}, nil
}

// AddPass appends a technique recorded into the draw image every frame.
func (e *Engine) AddPass(p Pass) error {
	if err := e.initPass(p); err != nil {
		return err
	}
	e.passes = append(e.passes, p)
	return nil
}

// AddOverlay appends a technique recorded directly onto the swapchain image after the draw
// image has been copied there.
func (e *Engine) AddOverlay(p Pass) error {
	if err := e.initPass(p); err != nil {
		return err
	}
	e.overlays = append(e.overlays, p)
	return nil
}

func (e *Engine) initPass(p Pass) error {
	if p == nil {
		return errors.AssertionFailedf("nil pass")
	}
	if !e.initialized {
		return nil
	}
	if in, ok := p.(PassInitializer); ok {
		return errors.Wrapf(in.Init(e), "init pass %s", p.Name())
	}
	return nil
}

// Init creates the frame ring, the immediate submitter, the draw image and the global
// descriptors, then initializes every registered pass. It must be called exactly once.
func (e *Engine) Init() (err error) {
	if e.initialized {
		return ErrAlreadyInitialized
	}
	if e.cleaned {
		return errors.Wrap(ErrAlreadyInitialized, "engine was cleaned up")
	}
	defer func() {
		if err != nil {
			e.log.Error("engine init failed", slog.Any("error", err))
			e.release()
		}
	}()

	e.allocator = NewAllocator(e.device, e.log)
	e.main = NewDeletionQueue("main", e.log)

	if e.immediate, err = newImmediateSubmitter(e.device, &e.guard, e.cfg.FenceTimeout, e.log); err != nil {
		return err
	}
	e.main.PushKind(KindCommandPool, e.immediate.Destroy)

	e.loop = &FrameLoop{
		device:    e.device,
		swapchain: e.swapchain,
		allocator: e.allocator,
		guard:     &e.guard,
		log:       e.log.With(slog.String("component", "frame-loop")),
		timeout:   e.cfg.FenceTimeout,
	}
	for i := 0; i < e.cfg.FrameOverlap; i++ {
		f, err := newFrameContext(e.device, i, e.cfg, e.log)
		if err != nil {
			return err
		}
		e.loop.frames = append(e.loop.frames, f)
	}

	if err = e.initDrawImage(); err != nil {
		return err
	}
	e.initialized = true

	for _, p := range append(append([]Pass(nil), e.passes...), e.overlays...) {
		if err = e.initPass(p); err != nil {
			e.initialized = false
			return err
		}
	}
	e.log.Info("engine initialized",
		slog.String("app", e.cfg.AppName),
		slog.Int("frames", e.cfg.FrameOverlap),
		slog.Int("swapchain_images", e.swapchain.ImageCount()))
	return nil
}

// initDrawImage creates the off-screen target and a storage-image descriptor pointing at it.
func (e *Engine) initDrawImage() error {
	extent := e.cfg.WindowExtent
	img, err := e.allocator.CreateImage(e.cfg.DrawFormat,
		gpu.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
		gpu.ImageUsageTransferSrc|gpu.ImageUsageTransferDst|gpu.ImageUsageStorage|gpu.ImageUsageColorAttachment,
		gpu.MemoryGPUOnly)
	if err != nil {
		return errors.Wrap(err, "draw image")
	}
	e.main.PushImage(e.allocator, img)
	e.drawImage = img
	e.loop.drawImage = img

	e.descriptors = NewDescriptorAllocator(e.device, e.cfg.Descriptors, e.log)
	if err := e.descriptors.InitPool(10, []PoolSizeRatio{
		{Type: gpu.DescriptorTypeStorageImage, Ratio: 1},
		{Type: gpu.DescriptorTypeUniformBuffer, Ratio: 1},
		{Type: gpu.DescriptorTypeCombinedImageSampler, Ratio: 1},
	}); err != nil {
		return errors.Wrap(err, "global descriptors")
	}
	e.main.PushDescriptorAllocator(e.descriptors)

	var builder DescriptorLayoutBuilder
	builder.AddBinding(0, gpu.DescriptorTypeStorageImage)
	if e.drawLayout, err = builder.Build(e.device, gpu.ShaderStageCompute); err != nil {
		return err
	}
	e.main.PushDescriptorSetLayout(e.device, e.drawLayout)

	if e.drawSet, err = e.descriptors.Allocate(e.drawLayout); err != nil {
		return errors.Wrap(err, "draw image descriptor")
	}
	var writer DescriptorWriter
	writer.WriteImage(0, img.View, gpu.ImageLayoutGeneral, gpu.DescriptorTypeStorageImage).UpdateSet(e.device, e.drawSet)
	return nil
}

func (e *Engine) checkInit() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	return nil
}

// Draw renders one frame. See FrameLoop.Draw.
func (e *Engine) Draw() error {
	if err := e.checkInit(); err != nil {
		return err
	}
	return e.loop.Draw(e.passes, e.overlays)
}

// Run draws frames until ctx is done or the surface asks to close. While the surface has no
// area, drawing stops and events keep being polled. A fatal draw error ends the run and is
// returned; the caller still owes a Cleanup.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.checkInit(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		e.surface.PollEvents()
		if e.surface.ShouldClose() {
			return nil
		}
		if e.surface.ResizePending() {
			e.loop.resizeRequested = true
		}

		if e.surface.Extent().Empty() {
			if !e.stopRendering {
				e.log.Debug("surface minimized, rendering stopped")
			}
			e.stopRendering = true
			timer := time.NewTimer(minimizedWait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		e.stopRendering = false

		if e.loop.resizeRequested {
			if err := e.RecreateSwapchain(); err != nil {
				e.log.Error("swapchain recreation failed", slog.Any("error", err))
				return err
			}
		}
		if err := e.Draw(); err != nil {
			e.log.Error("frame failed", slog.Uint64("frame", e.loop.frameNumber), slog.Any("error", err))
			return err
		}
	}
}

// ResizeRequested reports whether the swapchain must be recreated before the next frame.
func (e *Engine) ResizeRequested() bool {
	return e.loop != nil && e.loop.resizeRequested
}

// RecreateSwapchain waits for the device to go idle and rebuilds the swapchain at the surface's
// current extent. An empty extent leaves the request pending.
func (e *Engine) RecreateSwapchain() error {
	if err := e.checkInit(); err != nil {
		return err
	}
	extent := e.surface.Extent()
	if extent.Empty() {
		return nil
	}
	if err := e.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait idle before swapchain recreation")
	}
	if err := e.swapchain.Recreate(extent); err != nil {
		return errors.Wrapf(err, "recreate swapchain at %dx%d", extent.Width, extent.Height)
	}
	e.loop.resizeRequested = false
	e.loop.stats.Recreations++
	e.log.Debug("swapchain recreated", slog.Uint64("width", uint64(extent.Width)), slog.Uint64("height", uint64(extent.Height)))
	return nil
}

// CurrentFrame returns the frame context the next Draw records into.
func (e *Engine) CurrentFrame() (*FrameContext, error) {
	if err := e.checkInit(); err != nil {
		return nil, err
	}
	return e.loop.current(), nil
}

// FrameNumber returns the number of frames submitted so far.
func (e *Engine) FrameNumber() uint64 {
	if e.loop == nil {
		return 0
	}
	return e.loop.frameNumber
}

// ImmediateSubmit records with fn and blocks until the GPU has executed it. It must not be
// called while a frame is recording.
func (e *Engine) ImmediateSubmit(fn func(cmd gpu.CommandBuffer) error) error {
	if !e.initialized {
		return ErrSurfaceNotReady
	}
	return e.immediate.Submit(fn)
}

// Immediate returns the submitter used for uploads.
func (e *Engine) Immediate() *ImmediateSubmitter { return e.immediate }

func (e *Engine) Allocator() *Allocator { return e.allocator }

func (e *Engine) Device() gpu.Device { return e.device }

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) Logger() *slog.Logger { return e.log }

// MainDeletionQueue holds everything that lives until Cleanup.
func (e *Engine) MainDeletionQueue() *DeletionQueue { return e.main }

// AllocateDescriptorSet returns a persistent set from the global allocator. Its pools are
// destroyed by the main deletion queue.
func (e *Engine) AllocateDescriptorSet(layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	if err := e.checkInit(); err != nil {
		return 0, err
	}
	return e.descriptors.Allocate(layout)
}

func (e *Engine) DrawImage() *AllocatedImage { return e.drawImage }

// DrawImageDescriptors returns the layout and set binding the draw image as a storage image.
func (e *Engine) DrawImageDescriptors() (gpu.DescriptorSetLayout, gpu.DescriptorSet) {
	return e.drawLayout, e.drawSet
}

// Stopped reports whether Run has suspended drawing for a minimized surface.
func (e *Engine) Stopped() bool { return e.stopRendering }

func (e *Engine) Stats() Stats {
	if e.loop == nil {
		return Stats{}
	}
	s := e.loop.stats
	if e.main != nil {
		s.DeletionsFlushed += e.main.Flushed()
	}
	if e.descriptors != nil {
		s.DescriptorPoolGrowth += e.descriptors.GrowthEvents()
	}
	for _, f := range e.loop.frames {
		s.DescriptorPoolGrowth += f.descriptors.GrowthEvents()
	}
	return s
}

// Cleanup drains in-flight frames, flushes the per-frame deletion queues and then the main
// queue, and destroys the frame ring and the allocator. Teardown continues past errors; the
// first ones are returned combined.
func (e *Engine) Cleanup() error {
	if e.cleaned {
		return nil
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	var errs error
	if err := e.loop.drain(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if err := e.device.WaitIdle(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrap(err, "wait idle"))
	}
	if errs != nil {
		e.log.Warn("cleanup with GPU work possibly in flight", slog.Any("error", errs))
	}
	e.release()
	e.log.Info("engine cleaned up", slog.Uint64("frames", e.loop.frameNumber), slog.Int("deletions", e.Stats().DeletionsFlushed))
	return errs
}

// release tears down whatever exists, in dependency order.
func (e *Engine) release() {
	if e.loop != nil {
		e.loop.flush()
	}
	if e.main != nil {
		e.main.Flush()
	}
	if e.loop != nil {
		e.loop.destroy()
	}
	if e.allocator != nil {
		e.allocator.Destroy()
	}
	e.initialized = false
	e.cleaned = true
}
