package dieselframe

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// Stats counts what the frame loop has done since init.
type Stats struct {
	FramesPresented      uint64
	StaleAcquires        int
	StalePresents        int
	Recreations          int
	DescriptorPoolGrowth int
	DeletionsFlushed     int
}

// FrameLoop drives acquire, record, submit and present over a fixed ring of frame contexts.
// Only the controlling thread calls into it.
type FrameLoop struct {
	device    gpu.Device
	swapchain gpu.Swapchain
	allocator *Allocator
	guard     *recordingGuard
	log       *slog.Logger
	timeout   time.Duration

	frames      []*FrameContext
	frameNumber uint64
	drawImage   *AllocatedImage

	resizeRequested bool
	stats           Stats
}

func (l *FrameLoop) current() *FrameContext {
	return l.frames[l.frameNumber%uint64(len(l.frames))]
}

// FrameNumber is the number of frames submitted so far. It only advances on a submitted frame.
func (l *FrameLoop) FrameNumber() uint64 {
	return l.frameNumber
}

// Draw renders and presents one frame, recording passes then overlays into the slot's command
// buffer. A stale swapchain on acquire skips the frame without advancing the frame number; the
// caller recreates the swapchain and calls Draw again. Every error returned is fatal.
func (l *FrameLoop) Draw(passes, overlays []Pass) error {
	f := l.current()

	// The GPU must be done with this slot's previous frame before anything it used is touched.
	if err := l.device.WaitForFence(f.renderFence, l.timeout); err != nil {
		return errors.Wrapf(err, "wait for frame %d", f.index)
	}
	f.state = FrameIdle
	l.stats.DeletionsFlushed += f.deletion.Flush()
	if err := f.descriptors.ClearPools(); err != nil {
		return errors.Wrapf(err, "clear frame %d descriptors", f.index)
	}

	index, err := l.swapchain.AcquireNextImage(l.timeout, f.swapchainSemaphore)
	switch {
	case err == nil:
	case errors.Is(err, gpu.ErrSuboptimal):
		// The image is still acquired and its semaphore will signal; draw it and recreate after.
		l.resizeRequested = true
	case gpu.IsStale(err):
		l.resizeRequested = true
		l.stats.StaleAcquires++
		l.log.Debug("stale swapchain on acquire", slog.Uint64("frame", l.frameNumber))
		return nil
	default:
		return errors.Wrap(err, "acquire swapchain image")
	}

	// Reset only once work is certain to be submitted, so a skipped frame leaves the fence signaled.
	if err := l.device.ResetFence(f.renderFence); err != nil {
		return errors.Wrapf(err, "reset frame %d fence", f.index)
	}
	if err := l.device.ResetCommandPool(f.commandPool); err != nil {
		return errors.Wrapf(err, "reset frame %d commands", f.index)
	}
	cmd := f.mainCommandBuffer
	if err := l.device.BeginCommandBuffer(cmd); err != nil {
		return errors.Wrapf(err, "begin frame %d", f.index)
	}
	l.guard.frame.Store(true)
	f.state = FrameRecording
	f.uses++

	err = l.record(f, index, passes, overlays)
	l.guard.frame.Store(false)
	if endErr := l.device.EndCommandBuffer(cmd); err == nil && endErr != nil {
		err = errors.Wrapf(endErr, "end frame %d", f.index)
	}
	if err != nil {
		return err
	}

	submit := gpu.SubmitInfo{
		CommandBuffer: cmd,
		Wait:          f.swapchainSemaphore,
		Signal:        f.renderSemaphore,
	}
	if err := l.device.Submit(submit, f.renderFence); err != nil {
		return errors.Wrapf(err, "submit frame %d", l.frameNumber)
	}
	f.state = FrameSubmitted

	switch err := l.swapchain.Present(index, f.renderSemaphore); {
	case err == nil:
		l.stats.FramesPresented++
	case gpu.IsStale(err):
		l.resizeRequested = true
		l.stats.StalePresents++
		l.log.Debug("stale swapchain on present", slog.Uint64("frame", l.frameNumber))
	default:
		return errors.Wrap(err, "present")
	}

	l.frameNumber++
	return nil
}

func (l *FrameLoop) record(f *FrameContext, index uint32, passes, overlays []Pass) error {
	swapImage := l.swapchain.Image(index)
	swapExtent := l.swapchain.Extent()
	scope := &FrameScope{
		Cmd:             f.mainCommandBuffer,
		FrameNumber:     l.frameNumber,
		Slot:            f.index,
		DrawImage:       l.drawImage,
		DrawExtent:      drawExtent(l.drawImage.Extent.Extent2D(), swapExtent),
		SwapchainImage:  swapImage,
		SwapchainExtent: swapExtent,
		frame:           f,
		device:          l.device,
		allocator:       l.allocator,
	}
	cmd, draw := scope.Cmd, l.drawImage.Image

	l.device.CmdTransitionImage(cmd, draw, gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDst)
	for _, p := range passes {
		if err := p.Record(scope); err != nil {
			return errors.Wrapf(err, "record pass %s", p.Name())
		}
	}

	l.device.CmdTransitionImage(cmd, draw, gpu.ImageLayoutTransferDst, gpu.ImageLayoutTransferSrc)
	l.device.CmdTransitionImage(cmd, swapImage, gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDst)
	l.device.CmdBlitImage(cmd, draw, swapImage, scope.DrawExtent, swapExtent)

	final := gpu.ImageLayoutTransferDst
	if len(overlays) > 0 {
		l.device.CmdTransitionImage(cmd, swapImage, final, gpu.ImageLayoutColorAttachment)
		final = gpu.ImageLayoutColorAttachment
		for _, p := range overlays {
			if err := p.Record(scope); err != nil {
				return errors.Wrapf(err, "record overlay %s", p.Name())
			}
		}
	}
	l.device.CmdTransitionImage(cmd, swapImage, final, gpu.ImageLayoutPresentSrc)
	return nil
}

func drawExtent(draw, swap gpu.Extent2D) gpu.Extent2D {
	if swap.Width < draw.Width {
		draw.Width = swap.Width
	}
	if swap.Height < draw.Height {
		draw.Height = swap.Height
	}
	return draw
}

// drain waits for every submitted frame. Slots that never reached submission have nothing
// in flight.
func (l *FrameLoop) drain() error {
	var errs error
	for _, f := range l.frames {
		if f.state != FrameSubmitted {
			continue
		}
		if err := l.device.WaitForFence(f.renderFence, l.timeout); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "drain frame %d", f.index))
			continue
		}
		f.state = FrameIdle
	}
	return errs
}

// flush runs every slot's deletion queue. The caller must have drained first.
func (l *FrameLoop) flush() {
	for _, f := range l.frames {
		l.stats.DeletionsFlushed += f.deletion.Flush()
	}
}

func (l *FrameLoop) destroy() {
	for _, f := range l.frames {
		f.destroy(l.device)
	}
	l.frames = nil
}
