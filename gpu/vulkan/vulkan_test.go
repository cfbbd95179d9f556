package vulkan

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

func TestResultMapping(t *testing.T) {
	for _, tc := range []struct {
		ret  vk.Result
		want error
	}{
		{vk.Timeout, gpu.ErrTimeout},
		{vk.NotReady, gpu.ErrTimeout},
		{vk.Suboptimal, gpu.ErrSuboptimal},
		{vk.ErrorOutOfDate, gpu.ErrOutOfDate},
		{vk.ErrorOutOfPoolMemory, gpu.ErrOutOfPoolMemory},
		{vk.ErrorFragmentedPool, gpu.ErrFragmentedPool},
		{vk.ErrorOutOfDeviceMemory, gpu.ErrOutOfDeviceMemory},
		{vk.ErrorOutOfHostMemory, gpu.ErrOutOfHostMemory},
		{vk.ErrorDeviceLost, gpu.ErrDeviceLost},
	} {
		err := newError(tc.ret)
		if !errors.Is(err, tc.want) {
			t.Errorf("result %d: %v, want %v", tc.ret, err, tc.want)
		}
	}
	if err := newError(vk.Success); err != nil {
		t.Fatalf("success mapped to %v", err)
	}
	if !gpu.IsStale(newError(vk.Suboptimal)) || !gpu.IsStale(newError(vk.ErrorOutOfDate)) {
		t.Fatalf("swapchain results not stale")
	}
	if !gpu.IsPoolExhausted(newError(vk.ErrorFragmentedPool)) {
		t.Fatalf("fragmented pool not exhausted")
	}

	other := newError(vk.ErrorInitializationFailed)
	if other == nil || gpu.IsStale(other) || errors.Is(other, gpu.ErrDeviceLost) {
		t.Fatalf("unmapped result: %v", other)
	}
	if !strings.Contains(other.Error(), "vulkan") {
		t.Fatalf("message %q does not name the driver", other.Error())
	}
}

func TestTableHandles(t *testing.T) {
	tbl := newTable[gpu.Fence, string]("fence")
	a := tbl.add("a")
	b := tbl.add("b")
	if a == 0 || b == 0 || a == b {
		t.Fatalf("handles %d and %d", a, b)
	}
	if v, err := tbl.get(b); err != nil || v != "b" {
		t.Fatalf("get(%d) = %q, %v", b, v, err)
	}
	if v, ok := tbl.remove(a); !ok || v != "a" {
		t.Fatalf("remove(%d) = %q, %t", a, v, ok)
	}
	if _, ok := tbl.remove(a); ok {
		t.Fatalf("second remove succeeded")
	}
	if _, err := tbl.get(a); !errors.Is(err, gpu.ErrUnknownHandle) {
		t.Fatalf("stale handle: %v", err)
	}
	if err := tbl.set(a, "x"); !errors.Is(err, gpu.ErrUnknownHandle) {
		t.Fatalf("set on stale handle: %v", err)
	}
	if c := tbl.add("c"); c == a {
		t.Fatalf("handle %d reused", c)
	}
	if tbl.len() != 2 {
		t.Fatalf("len %d, want 2", tbl.len())
	}
	if got := tbl.drain(); len(got) != 2 || tbl.len() != 0 {
		t.Fatalf("drain returned %v, %d left", got, tbl.len())
	}
}

func TestTableConcurrentAdds(t *testing.T) {
	tbl := newTable[gpu.Buffer, int]("buffer")
	var wg sync.WaitGroup
	seen := make([]gpu.Buffer, 64)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = tbl.add(i)
		}(i)
	}
	wg.Wait()
	unique := make(map[gpu.Buffer]bool)
	for _, h := range seen {
		unique[h] = true
	}
	if len(unique) != len(seen) {
		t.Fatalf("%d unique handles from %d adds", len(unique), len(seen))
	}
}

func TestExtensionSetResolve(t *testing.T) {
	actual := []string{"VK_KHR_surface", "VK_KHR_xcb_surface", "VK_EXT_debug_report"}

	enabled, missing, err := extensionSet{
		kind:     "instance extensions",
		required: []string{"VK_KHR_surface", "VK_KHR_xcb_surface", "VK_KHR_surface"},
		wanted:   []string{"VK_EXT_debug_report", "VK_KHR_portability_enumeration"},
	}.resolve(actual)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(enabled, ",") != "VK_KHR_surface,VK_KHR_xcb_surface,VK_EXT_debug_report" {
		t.Fatalf("enabled %v", enabled)
	}
	if len(missing) != 1 || missing[0] != "VK_KHR_portability_enumeration" {
		t.Fatalf("missing %v", missing)
	}

	_, _, err = extensionSet{kind: "device extensions", required: []string{"VK_KHR_swapchain"}}.resolve(actual)
	if err == nil || !strings.Contains(err.Error(), "VK_KHR_swapchain") {
		t.Fatalf("missing required extension: %v", err)
	}
}

func TestSafeStrings(t *testing.T) {
	got := safeStrings([]string{"a", "b\x00"})
	if got[0] != "a\x00" || got[1] != "b\x00" {
		t.Fatalf("safeStrings = %q", got)
	}
}

func memoryProps(types ...vk.MemoryPropertyFlagBits) vk.PhysicalDeviceMemoryProperties {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = uint32(len(types))
	for i, flags := range types {
		props.MemoryTypes[i].PropertyFlags = vk.MemoryPropertyFlags(flags)
	}
	return props
}

func TestEnumerate(t *testing.T) {
	entries := []string{"VK_KHR_swapchain", "VK_KHR_maintenance1", "VK_EXT_debug_utils"}
	query := func(count *uint32, out []string) vk.Result {
		if out == nil {
			*count = uint32(len(entries))
			return vk.Success
		}
		*count = uint32(copy(out, entries[:2]))
		return vk.Incomplete
	}
	names, err := enumerate(nil, "device extensions", query, func(s *string) string { return *s })
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(names, ",") != "VK_KHR_swapchain,VK_KHR_maintenance1" {
		t.Fatalf("incomplete query kept %v", names)
	}

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	failing := func(count *uint32, out []string) vk.Result { return vk.ErrorOutOfHostMemory }
	names, err = enumerate(log, "layers", failing, func(s *string) string { return *s })
	if !errors.Is(err, gpu.ErrOutOfHostMemory) || names != nil {
		t.Fatalf("names %v, err %v", names, err)
	}
	if !strings.Contains(buf.String(), "query=layers") || !strings.Contains(buf.String(), "level=ERROR") {
		t.Fatalf("failure not logged: %q", buf.String())
	}

	empty := func(count *uint32, out []string) vk.Result { *count = 0; return vk.Success }
	if names, err := enumerate(nil, "layers", empty, func(s *string) string { return *s }); err != nil || names != nil {
		t.Fatalf("empty query: %v %v", names, err)
	}
}

func TestMemoryTypeSelection(t *testing.T) {
	props := memoryProps(
		vk.MemoryPropertyDeviceLocalBit,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit|vk.MemoryPropertyHostCachedBit,
	)
	all := uint32(0b111)
	for _, tc := range []struct {
		usage    gpu.MemoryUsage
		typeBits uint32
		want     uint32
	}{
		{gpu.MemoryGPUOnly, all, 0},
		{gpu.MemoryCPUOnly, all, 1},
		{gpu.MemoryCPUToGPU, all, 1},
		{gpu.MemoryGPUToCPU, all, 2},
		{gpu.MemoryGPUToCPU, 0b011, 1},
		// Device-local memory is preferred but any allowed type will do.
		{gpu.MemoryGPUOnly, 0b010, 1},
	} {
		got, ok := memoryTypeFor(props, tc.typeBits, tc.usage)
		if !ok || got != tc.want {
			t.Errorf("%s with bits %03b: type %d (%t), want %d", tc.usage, tc.typeBits, got, ok, tc.want)
		}
	}
	if _, ok := memoryTypeFor(props, 0b001, gpu.MemoryCPUOnly); ok {
		t.Fatalf("host-visible usage matched device-local memory")
	}
}

func TestFlagTranslation(t *testing.T) {
	buf := bufferUsageFlags(gpu.BufferUsageTransferDst | gpu.BufferUsageVertex)
	if buf != vk.BufferUsageFlags(vk.BufferUsageTransferDstBit|vk.BufferUsageVertexBufferBit) {
		t.Fatalf("buffer usage %b", buf)
	}
	img := imageUsageFlags(gpu.ImageUsageStorage | gpu.ImageUsageTransferSrc)
	if img != vk.ImageUsageFlags(vk.ImageUsageStorageBit|vk.ImageUsageTransferSrcBit) {
		t.Fatalf("image usage %b", img)
	}
	if shaderStageFlags(gpu.ShaderStageCompute) != vk.ShaderStageFlags(vk.ShaderStageComputeBit) {
		t.Fatalf("compute stage not translated")
	}
	for _, f := range []gpu.Format{
		gpu.FormatR8G8B8A8Unorm, gpu.FormatB8G8R8A8Unorm, gpu.FormatR8G8B8A8Srgb,
		gpu.FormatB8G8R8A8Srgb, gpu.FormatR16G16B16A16Sfloat, gpu.FormatD32Sfloat,
	} {
		if back := gpuFormat(vkFormat(f)); back != f {
			t.Errorf("format %d round-tripped to %d", f, back)
		}
	}
	if aspectOf(vk.FormatD32Sfloat) != vk.ImageAspectFlags(vk.ImageAspectDepthBit) {
		t.Fatalf("depth format has color aspect")
	}
	if vkLayout(gpu.ImageLayoutPresentSrc) != vk.ImageLayoutPresentSrc || vkLayout(gpu.ImageLayoutUndefined) != vk.ImageLayoutUndefined {
		t.Fatalf("layout translation")
	}
}
