package vulkan

import (
	"context"
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"
)

const portabilityEnumerationBit = 0x00000001

var (
	// DefaultValidationLayers are enabled when Options.Validation is set and the loader has them.
	DefaultValidationLayers = []string{"VK_LAYER_KHRONOS_validation"}
	DefaultAPIVersion       = vk.MakeVersion(1, 1, 0)
)

// Options selects how the Vulkan instance and device are brought up.
type Options struct {
	AppName string
	// Validation enables validation layers and routes their reports into the logger.
	Validation bool
	Layers     []string
	// DeviceExtensions are enabled when present, in addition to the swapchain.
	DeviceExtensions []string
}

// Platform owns the instance, the physical and logical device, the single graphics queue and
// the window surface.
type Platform struct {
	instance      vk.Instance
	gpu           vk.PhysicalDevice
	device        vk.Device
	queue         vk.Queue
	queueFamily   uint32
	surface       vk.Surface
	debugCallback vk.DebugReportCallback

	gpuProperties    vk.PhysicalDeviceProperties
	memoryProperties vk.PhysicalDeviceMemoryProperties

	log *slog.Logger
}

// NewPlatform creates the instance, a surface on display, and a device with one queue that can
// both render and present to it.
func NewPlatform(opts Options, display *Display, log *slog.Logger) (_ *Platform, err error) {
	p := &Platform{log: orDiscard(log).With(slog.String("component", "vulkan"))}
	defer func() {
		if err != nil {
			p.Destroy()
		}
	}()

	instanceExtensions, layers, err := p.instanceNames(opts, display)
	if err != nil {
		return nil, err
	}
	var flags vk.InstanceCreateFlags
	if runtime.GOOS == "darwin" {
		flags = vk.InstanceCreateFlags(portabilityEnumerationBit)
	}
	var instance vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		Flags: flags,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(DefaultAPIVersion),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   safeString(opts.AppName),
			PEngineName:        "dieselframe\x00",
		},
		EnabledExtensionCount:   uint32(len(instanceExtensions)),
		PpEnabledExtensionNames: safeStrings(instanceExtensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}, nil, &instance)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create instance")
	}
	p.instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return nil, errors.Wrap(err, "vulkan: load instance functions")
	}

	if opts.Validation {
		ret := vk.CreateDebugReportCallback(instance, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugReporter(p.log),
		}, nil, &p.debugCallback)
		if isError(ret) {
			p.log.Warn("debug report unavailable", slog.String("error", newError(ret).Error()))
		}
	}

	if p.surface, err = display.CreateSurface(instance); err != nil {
		return nil, err
	}
	if err := p.pickDevice(); err != nil {
		return nil, err
	}

	available, err := DeviceExtensions(p.log, p.gpu)
	if err != nil {
		return nil, err
	}
	deviceExtensions, missing, err := extensionSet{
		kind:     "device extensions",
		required: []string{"VK_KHR_swapchain"},
		wanted:   append([]string{"VK_KHR_portability_subset"}, opts.DeviceExtensions...),
	}.resolve(available)
	if err != nil {
		return nil, err
	}
	p.logMissing("device extensions", missing)

	var device vk.Device
	ret = vk.CreateDevice(p.gpu, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: p.queueFamily,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}},
		EnabledExtensionCount:   uint32(len(deviceExtensions)),
		PpEnabledExtensionNames: safeStrings(deviceExtensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}, nil, &device)
	if isError(ret) {
		return nil, errors.Wrap(newError(ret), "create device")
	}
	p.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, p.queueFamily, 0, &queue)
	p.queue = queue

	p.log.Info("device ready",
		slog.String("gpu", vk.ToString(p.gpuProperties.DeviceName[:])),
		slog.Uint64("queue_family", uint64(p.queueFamily)),
		slog.Int("device_extensions", len(deviceExtensions)),
		slog.Int("layers", len(layers)))
	return p, nil
}

func (p *Platform) instanceNames(opts Options, display *Display) (extensions, layers []string, err error) {
	wanted := []string{}
	if opts.Validation {
		wanted = append(wanted, "VK_EXT_debug_report")
	}
	if runtime.GOOS == "darwin" {
		wanted = append(wanted, "VK_KHR_portability_enumeration", "VK_KHR_get_physical_device_properties2")
	}
	actual, err := InstanceExtensions(p.log)
	if err != nil {
		return nil, nil, err
	}
	extensions, missing, err := extensionSet{
		kind:     "instance extensions",
		required: display.RequiredInstanceExtensions(),
		wanted:   wanted,
	}.resolve(actual)
	if err != nil {
		return nil, nil, err
	}
	p.logMissing("instance extensions", missing)

	if !opts.Validation {
		return extensions, nil, nil
	}
	requested := opts.Layers
	if len(requested) == 0 {
		requested = DefaultValidationLayers
	}
	available, err := ValidationLayers(p.log)
	if err != nil {
		return nil, nil, err
	}
	layers, missing, _ = extensionSet{kind: "layers", wanted: requested}.resolve(available)
	p.logMissing("layers", missing)
	return extensions, layers, nil
}

// pickDevice selects the first GPU with a queue family that renders and presents, preferring a
// discrete GPU.
func (p *Platform) pickDevice() error {
	var count uint32
	if ret := vk.EnumeratePhysicalDevices(p.instance, &count, nil); isError(ret) {
		return errors.Wrap(newError(ret), "enumerate physical devices")
	}
	if count == 0 {
		return errors.New("vulkan: no GPU devices found")
	}
	gpus := make([]vk.PhysicalDevice, count)
	if ret := vk.EnumeratePhysicalDevices(p.instance, &count, gpus); isError(ret) {
		return errors.Wrap(newError(ret), "enumerate physical devices")
	}

	found := false
	for _, candidate := range gpus {
		family, ok := queueFamiliesOf(candidate).graphicsPresent(candidate, p.surface)
		if !ok {
			continue
		}
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(candidate, &props)
		props.Deref()
		if found && props.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
			continue
		}
		p.gpu, p.queueFamily, p.gpuProperties = candidate, family, props
		found = true
		if props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			break
		}
	}
	if !found {
		return errors.New("vulkan: no GPU has a queue family that can render and present")
	}
	vk.GetPhysicalDeviceMemoryProperties(p.gpu, &p.memoryProperties)
	p.memoryProperties.Deref()
	return nil
}

func (p *Platform) logMissing(kind string, names []string) {
	if len(names) > 0 {
		p.log.Warn("optional "+kind+" unavailable", slog.Any("names", names))
	}
}

func (p *Platform) Instance() vk.Instance { return p.instance }

func (p *Platform) PhysicalDevice() vk.PhysicalDevice { return p.gpu }

func (p *Platform) Device() vk.Device { return p.device }

func (p *Platform) Queue() vk.Queue { return p.queue }

func (p *Platform) QueueFamily() uint32 { return p.queueFamily }

func (p *Platform) Surface() vk.Surface { return p.surface }

func (p *Platform) MemoryProperties() vk.PhysicalDeviceMemoryProperties {
	return p.memoryProperties
}

// Destroy releases the device, surface and instance. Everything created from the device must
// already be gone.
func (p *Platform) Destroy() {
	if p.device != nil {
		vk.DeviceWaitIdle(p.device)
		vk.DestroyDevice(p.device, nil)
		p.device = nil
	}
	if p.surface != vk.NullSurface {
		vk.DestroySurface(p.instance, p.surface, nil)
		p.surface = vk.NullSurface
	}
	if p.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(p.instance, p.debugCallback, nil)
		p.debugCallback = vk.NullDebugReportCallback
	}
	if p.instance != nil {
		vk.DestroyInstance(p.instance, nil)
		p.instance = nil
	}
}

func debugReporter(log *slog.Logger) vk.DebugReportCallbackFunc {
	return func(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
		object uint64, location uint, messageCode int32, pLayerPrefix string,
		pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

		level := slog.LevelInfo
		switch {
		case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
			level = slog.LevelError
		case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
			level = slog.LevelWarn
		case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
			level = slog.LevelDebug
		}
		log.Log(context.Background(), level, pMessage,
			slog.String("layer", pLayerPrefix),
			slog.Int("code", int(messageCode)),
			slog.Uint64("object", object))
		return vk.Bool32(vk.False)
	}
}
