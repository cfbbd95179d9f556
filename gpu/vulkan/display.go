package vulkan

import (
	"io"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// Display is a glfw window the engine presents to. glfw must be initialized and every method
// called from the main thread.
type Display struct {
	window  *glfw.Window
	surface vk.Surface
	resized atomic.Bool
	log     *slog.Logger
}

// NewDisplay opens a resizable window without a client API so Vulkan can own its surface.
func NewDisplay(title string, extent gpu.Extent2D, log *slog.Logger) (*Display, error) {
	if extent.Empty() {
		return nil, errors.Newf("vulkan: window extent %dx%d", extent.Width, extent.Height)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.Visible, glfw.True)
	window, err := glfw.CreateWindow(int(extent.Width), int(extent.Height), title, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "vulkan: create window")
	}
	d := &Display{window: window, log: orDiscard(log)}
	window.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		d.log.Debug("framebuffer resized", slog.Int("width", width), slog.Int("height", height))
		d.resized.Store(true)
	})
	return d, nil
}

func (d *Display) Window() *glfw.Window {
	return d.window
}

// RequiredInstanceExtensions lists the instance extensions glfw needs to create a surface.
func (d *Display) RequiredInstanceExtensions() []string {
	return d.window.GetRequiredInstanceExtensions()
}

// CreateSurface creates the window surface once; later calls return the same surface.
func (d *Display) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	if d.surface != vk.NullSurface {
		return d.surface, nil
	}
	ptr, err := d.window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "vulkan: create window surface")
	}
	d.surface = vk.SurfaceFromPointer(ptr)
	return d.surface, nil
}

// Extent is the framebuffer size in pixels, zero while the window is minimized.
func (d *Display) Extent() gpu.Extent2D {
	w, h := d.window.GetFramebufferSize()
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return gpu.Extent2D{Width: uint32(w), Height: uint32(h)}
}

func (d *Display) ResizePending() bool {
	return d.resized.Swap(false)
}

func (d *Display) ShouldClose() bool {
	return d.window.ShouldClose()
}

func (d *Display) PollEvents() {
	glfw.PollEvents()
}

// Destroy closes the window. The surface belongs to the Platform that was built on it.
func (d *Display) Destroy() {
	if d.window != nil {
		d.window.Destroy()
		d.window = nil
	}
}

func orDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return log
}
