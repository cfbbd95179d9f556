package vulkan_test

import (
	"os"
	"runtime"
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe"
	"github.com/andewx/dieselframe/gpu"
	"github.com/andewx/dieselframe/gpu/vulkan"
)

// TestRenderFrames drives the engine against a real GPU and window. It needs a display and a
// Vulkan driver, so it only runs with DIESELFRAME_GPU_TEST=1.
func TestRenderFrames(t *testing.T) {
	if os.Getenv("DIESELFRAME_GPU_TEST") != "1" {
		t.Skip("set DIESELFRAME_GPU_TEST=1 to run against a GPU")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := glfw.Init(); err != nil {
		t.Fatal(err)
	}
	defer glfw.Terminate()
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		t.Fatal(err)
	}

	log := dieselframe.NewLogger(os.Stderr, slog.LevelInfo)
	cfg := dieselframe.DefaultConfig()
	cfg.WindowExtent = gpu.Extent2D{Width: 500, Height: 500}
	cfg.Validation = true

	display, err := vulkan.NewDisplay("dieselframe smoke", cfg.WindowExtent, log)
	if err != nil {
		t.Fatal(err)
	}
	defer display.Destroy()
	platform, err := vulkan.NewPlatform(vulkan.Options{AppName: "smoke", Validation: cfg.Validation}, display, log)
	if err != nil {
		t.Fatal(err)
	}
	defer platform.Destroy()
	device, err := vulkan.NewDevice(platform, log)
	if err != nil {
		t.Fatal(err)
	}
	defer device.Destroy()
	swapchain, err := vulkan.NewSwapchain(device, display.Extent(), 3, log)
	if err != nil {
		t.Fatal(err)
	}
	defer swapchain.Destroy()

	engine, err := dieselframe.New(device, swapchain, display, cfg, log)
	if err != nil {
		t.Fatal(err)
	}
	if err := engine.Init(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		display.PollEvents()
		if engine.ResizeRequested() {
			if err := engine.RecreateSwapchain(); err != nil {
				t.Fatal(err)
			}
		}
		if err := engine.Draw(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if err := engine.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if got := engine.Stats().FramesPresented; got == 0 {
		t.Fatalf("no frames presented")
	}
}
