// Package technique holds rendering techniques that plug into the engine as passes. They only
// touch the GPU through the engine's allocator, deletion queues and frame scope.
package technique

import (
	"image/color"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe"
	"github.com/andewx/dieselframe/gpu"
)

// Background fills the draw image with a vertical gradient each frame. The gradient is uploaded
// once at init and blitted, so the per-frame cost is two transitions and a blit.
type Background struct {
	Extent gpu.Extent2D
	Top    color.RGBA
	Bottom color.RGBA

	image *dieselframe.AllocatedImage
	log   *slog.Logger
}

var (
	_ dieselframe.Pass            = (*Background)(nil)
	_ dieselframe.PassInitializer = (*Background)(nil)
)

func NewBackground(extent gpu.Extent2D, top, bottom color.RGBA) *Background {
	return &Background{Extent: extent, Top: top, Bottom: bottom}
}

func (b *Background) Name() string { return "background" }

// Image is the uploaded gradient, nil before Init.
func (b *Background) Image() *dieselframe.AllocatedImage { return b.image }

func (b *Background) Init(e *dieselframe.Engine) error {
	b.log = e.Logger().With(slog.String("pass", b.Name()))
	if b.Extent.Width == 0 || b.Extent.Height == 0 {
		b.Extent = e.Config().WindowExtent
	}
	extent := gpu.Extent3D{Width: b.Extent.Width, Height: b.Extent.Height, Depth: 1}
	img, err := e.Allocator().UploadImage(e.Immediate(), Gradient(b.Extent, b.Top, b.Bottom),
		gpu.FormatR8G8B8A8Unorm, extent, gpu.ImageUsageSampled|gpu.ImageUsageTransferSrc)
	if err != nil {
		return errors.Wrap(err, "background gradient")
	}
	e.MainDeletionQueue().PushImage(e.Allocator(), img)
	b.image = img
	b.log.Debug("gradient uploaded",
		slog.Uint64("width", uint64(b.Extent.Width)),
		slog.Uint64("height", uint64(b.Extent.Height)))
	return nil
}

// Record expects the draw image in transfer-dst layout and leaves it there.
func (b *Background) Record(s *dieselframe.FrameScope) error {
	if !b.image.Valid() {
		return errors.Wrap(dieselframe.ErrNotInitialized, "background")
	}
	cmds := s.Commands()
	cmds.CmdTransitionImage(s.Cmd, b.image.Image, gpu.ImageLayoutShaderReadOnly, gpu.ImageLayoutTransferSrc)
	cmds.CmdBlitImage(s.Cmd, b.image.Image, s.DrawImage.Image, b.Extent, s.DrawExtent)
	cmds.CmdTransitionImage(s.Cmd, b.image.Image, gpu.ImageLayoutTransferSrc, gpu.ImageLayoutShaderReadOnly)
	return nil
}

// Gradient returns RGBA8 texels blending top into bottom row by row.
func Gradient(extent gpu.Extent2D, top, bottom color.RGBA) []byte {
	w, h := int(extent.Width), int(extent.Height)
	out := make([]byte, 0, w*h*4)
	for y := 0; y < h; y++ {
		t := float32(0)
		if h > 1 {
			t = float32(y) / float32(h-1)
		}
		px := [4]byte{
			lerp(top.R, bottom.R, t),
			lerp(top.G, bottom.G, t),
			lerp(top.B, bottom.B, t),
			lerp(top.A, bottom.A, t),
		}
		for x := 0; x < w; x++ {
			out = append(out, px[:]...)
		}
	}
	return out
}

func lerp(a, b uint8, t float32) uint8 {
	return uint8(float32(a) + (float32(b)-float32(a))*t + 0.5)
}
