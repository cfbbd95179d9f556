package main

import (
	"context"
	"flag"
	"image/color"
	"math"
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/vulkan-go/vulkan"
	"github.com/xlab/closer"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe"
	"github.com/andewx/dieselframe/gpu/vulkan"
	"github.com/andewx/dieselframe/technique"
)

func init() {
	// glfw and the Vulkan surface must stay on the main thread.
	runtime.LockOSThread()
}

var (
	width         = flag.Int("width", 1280, "window width")
	height        = flag.Int("height", 720, "window height")
	frames        = flag.Int("frames", 2, "frames in flight")
	fenceTimeout  = flag.Int("fence-timeout-ms", 1000, "fence and acquire timeout in milliseconds")
	maxSets       = flag.Int("descriptor-sets", 1000, "initial sets per frame descriptor pool")
	growth        = flag.Float64("descriptor-growth", 1.5, "descriptor pool growth factor")
	maxPools      = flag.Int("descriptor-pools", 64, "descriptor pools per allocator")
	validation    = flag.Bool("validation", false, "enable validation layers")
	fov           = flag.Float64("fov", 60, "camera vertical field of view in degrees")
	verbose       = flag.Bool("v", false, "debug logging")
	swapchainSize = flag.Int("swapchain-images", 3, "desired swapchain images")
)

func usage() *dieselframe.Usage {
	use := dieselframe.NewUsage("dieselframe", 10)
	use.String_props[dieselframe.UsageAppName] = "dieselframe"
	use.Int_props[dieselframe.UsageWindowWidth] = *width
	use.Int_props[dieselframe.UsageWindowHeight] = *height
	use.Int_props[dieselframe.UsageFrameOverlap] = *frames
	use.Int_props[dieselframe.UsageFenceTimeoutMs] = *fenceTimeout
	use.Int_props[dieselframe.UsageDescriptorMaxSets] = *maxSets
	use.Float_props[dieselframe.UsageDescriptorGrowth] = float32(*growth)
	use.Int_props[dieselframe.UsageDescriptorMaxPools] = *maxPools
	use.Bool_props[dieselframe.UsageValidation] = *validation

	scene := dieselframe.NewUsage("scene", 1)
	scene.Float_props["FovY"] = float32(*fov)
	use.Linked_usage = scene
	return use
}

func main() {
	flag.Parse()
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := dieselframe.NewLogger(os.Stderr, level)
	use := usage()
	if *verbose {
		use.Print(os.Stderr)
	}

	// closer runs its hooks off the main thread; they only stop the loop and wait for the
	// teardown below.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	closer.Bind(func() {
		cancel()
		<-done
	})

	err := run(ctx, use, log)
	close(done)
	if err != nil {
		log.Error("dieselframe stopped", slog.Any("error", err))
		closer.Fatalln(err)
	}
	closer.Close()
}

func run(ctx context.Context, use *dieselframe.Usage, log *slog.Logger) (err error) {
	cfg, err := dieselframe.ConfigFromUsage(use)
	if err != nil {
		return err
	}

	if err := glfw.Init(); err != nil {
		return errors.Wrap(err, "glfw")
	}
	defer glfw.Terminate()
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	if err := vk.Init(); err != nil {
		return errors.Wrap(err, "vulkan loader")
	}

	display, err := vulkan.NewDisplay(cfg.AppName, cfg.WindowExtent, log)
	if err != nil {
		return err
	}
	defer display.Destroy()
	platform, err := vulkan.NewPlatform(vulkan.Options{AppName: cfg.AppName, Validation: cfg.Validation}, display, log)
	if err != nil {
		return err
	}
	defer platform.Destroy()
	device, err := vulkan.NewDevice(platform, log)
	if err != nil {
		return err
	}
	defer device.Destroy()
	swapchain, err := vulkan.NewSwapchain(device, display.Extent(), *swapchainSize, log)
	if err != nil {
		return err
	}
	defer swapchain.Destroy()

	engine, err := dieselframe.New(device, swapchain, display, cfg, log)
	if err != nil {
		return err
	}
	cam := technique.DefaultCamera()
	if scene, ok := use.Find("scene"); ok {
		if deg, ok := scene.Float_props["FovY"]; ok && deg > 0 {
			cam.FovY = deg * math.Pi / 180
		}
	}
	bg := technique.NewBackground(cfg.WindowExtent,
		color.RGBA{R: 24, G: 28, B: 48, A: 255},
		color.RGBA{R: 180, G: 110, B: 60, A: 255})
	for _, p := range []dieselframe.Pass{bg, technique.NewScene(cam)} {
		if err := engine.AddPass(p); err != nil {
			return err
		}
	}
	if err := engine.Init(); err != nil {
		return err
	}
	defer func() {
		if cerr := engine.Cleanup(); err == nil {
			err = cerr
		}
		stats := engine.Stats()
		log.Info("engine stopped",
			slog.Uint64("frames", stats.FramesPresented),
			slog.Int("recreations", stats.Recreations),
			slog.Int("descriptor_growth", stats.DescriptorPoolGrowth))
	}()
	return engine.Run(ctx)
}
