package dieselframe

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/andewx/dieselframe/gpu"
	"github.com/andewx/dieselframe/gpu/gputest"
)

func TestAllocatorBufferLifetime(t *testing.T) {
	dev := gputest.NewDevice(0)
	a := NewAllocator(dev, nil)

	if _, err := a.CreateBuffer(0, gpu.BufferUsageVertex, gpu.MemoryGPUOnly); err == nil {
		t.Fatalf("zero-sized buffer created")
	}
	b, err := a.CreateBuffer(256, gpu.BufferUsageVertex, gpu.MemoryGPUOnly)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Valid() || a.Live() != 1 {
		t.Fatalf("valid %t live %d", b.Valid(), a.Live())
	}
	a.DestroyBuffer(b)
	a.DestroyBuffer(b)
	if b.Valid() || a.Live() != 0 {
		t.Fatalf("valid %t live %d after destroy", b.Valid(), a.Live())
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Fatalf("double destroy reached the device: %v", v)
	}
}

func TestAllocatorImageLifetime(t *testing.T) {
	dev := gputest.NewDevice(0)
	a := NewAllocator(dev, nil)

	if _, err := a.CreateImage(gpu.FormatR8G8B8A8Unorm, gpu.Extent3D{Width: 0, Height: 4}, gpu.ImageUsageSampled, gpu.MemoryGPUOnly); err == nil {
		t.Fatalf("empty image created")
	}
	img, err := a.CreateImage(gpu.FormatR8G8B8A8Unorm, gpu.Extent3D{Width: 4, Height: 4}, gpu.ImageUsageSampled, gpu.MemoryGPUOnly)
	if err != nil {
		t.Fatal(err)
	}
	if img.Extent.Depth != 1 {
		t.Fatalf("depth %d, want 1", img.Extent.Depth)
	}
	a.DestroyImage(img)
	if img.Valid() {
		t.Fatalf("image valid after destroy")
	}
	if live := dev.Live(); len(live) != 0 {
		t.Fatalf("device still holds %v", live)
	}
}

func TestAllocatorWrite(t *testing.T) {
	dev := gputest.NewDevice(0)
	a := NewAllocator(dev, nil)

	host, err := a.CreateBuffer(8, gpu.BufferUsageUniform, gpu.MemoryCPUToGPU)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Write(host, 2, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if got := dev.Memory(host.Allocation); !bytes.Equal(got, []byte{0, 0, 1, 2, 3, 0, 0, 0}) {
		t.Fatalf("memory %v", got)
	}
	if err := a.Write(host, 6, []byte{1, 2, 3}); !errors.HasAssertionFailure(err) {
		t.Fatalf("overflowing write: %v", err)
	}

	local, err := a.CreateBuffer(8, gpu.BufferUsageStorage, gpu.MemoryGPUOnly)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Write(local, 0, []byte{1}); !errors.Is(err, gpu.ErrNotHostVisible) {
		t.Fatalf("write to GPU-only memory: %v", err)
	}
	a.DestroyBuffer(local)
	if err := a.Write(local, 0, []byte{1}); !errors.HasAssertionFailure(err) {
		t.Fatalf("write to destroyed buffer: %v", err)
	}
	a.DestroyBuffer(host)
}

func TestAllocatorDeviceFailure(t *testing.T) {
	dev := gputest.NewDevice(0)
	dev.BufferErr = errors.Wrap(gpu.ErrOutOfDeviceMemory, "heap 0")
	a := NewAllocator(dev, nil)

	if _, err := a.CreateBuffer(64, gpu.BufferUsageVertex, gpu.MemoryGPUOnly); !errors.Is(err, gpu.ErrOutOfDeviceMemory) {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if _, err := a.CreateImage(gpu.FormatR8G8B8A8Unorm, gpu.Extent3D{Width: 1, Height: 1}, gpu.ImageUsageSampled, gpu.MemoryGPUOnly); !errors.Is(err, gpu.ErrOutOfDeviceMemory) {
		t.Fatalf("CreateImage: %v", err)
	}
	if a.Live() != 0 {
		t.Fatalf("failed creations counted as live")
	}
}

func TestAllocatorClosed(t *testing.T) {
	dev := gputest.NewDevice(0)
	a := NewAllocator(dev, nil)
	a.Destroy()
	if _, err := a.CreateBuffer(16, gpu.BufferUsageVertex, gpu.MemoryGPUOnly); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("CreateBuffer after Destroy: %v", err)
	}
	if _, err := a.CreateImage(gpu.FormatR8G8B8A8Unorm, gpu.Extent3D{Width: 4, Height: 4}, gpu.ImageUsageSampled, gpu.MemoryGPUOnly); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("CreateImage after Destroy: %v", err)
	}
	if a.Live() != 0 {
		t.Fatalf("allocator counts %d live after refused creations", a.Live())
	}
	if live := dev.Live(); len(live) != 0 {
		t.Fatalf("closed allocator created device objects: %v", live)
	}
}

func TestAllocatorDestroyAfterLiveResources(t *testing.T) {
	dev := gputest.NewDevice(0)
	a := NewAllocator(dev, nil)
	buf, err := a.CreateBuffer(16, gpu.BufferUsageVertex, gpu.MemoryCPUToGPU)
	if err != nil {
		t.Fatal(err)
	}
	a.Destroy()
	if a.Live() != 1 {
		t.Fatalf("live %d, want the leaked buffer counted", a.Live())
	}
	// Resources created before Destroy can still be released.
	a.DestroyBuffer(buf)
	if a.Live() != 0 || len(dev.Live()) != 0 {
		t.Fatalf("allocator live %d, device live %v", a.Live(), dev.Live())
	}
}

func TestAllocatorUploadBuffer(t *testing.T) {
	dev := gputest.NewDevice(time.Millisecond)
	imm := newTestSubmitter(t, dev, &recordingGuard{}, time.Second)
	defer imm.Destroy()
	a := NewAllocator(dev, nil)

	data := []byte("vertices")
	b, err := a.UploadBuffer(imm, data, gpu.BufferUsageVertex)
	if err != nil {
		t.Fatal(err)
	}
	if b.Memory != gpu.MemoryGPUOnly || b.Size != uint64(len(data)) {
		t.Fatalf("uploaded buffer %+v", b)
	}
	if b.Usage&gpu.BufferUsageTransferDst == 0 {
		t.Fatalf("uploaded buffer cannot be a copy destination")
	}
	if a.Live() != 1 {
		t.Fatalf("staging buffer leaked: %d live", a.Live())
	}

	subs := dev.Submissions()
	if len(subs) != 1 || len(subs[0].Commands) != 1 {
		t.Fatalf("submissions %+v", subs)
	}
	if !strings.HasPrefix(subs[0].Commands[0], "copy-buffer ") {
		t.Fatalf("recorded %q", subs[0].Commands[0])
	}

	a.DestroyBuffer(b)
	if live := dev.Live(); live["buffer"] != 0 {
		t.Fatalf("device still holds %v", live)
	}
}

func TestAllocatorUploadImage(t *testing.T) {
	dev := gputest.NewDevice(time.Millisecond)
	imm := newTestSubmitter(t, dev, &recordingGuard{}, time.Second)
	defer imm.Destroy()
	a := NewAllocator(dev, nil)

	extent := gpu.Extent3D{Width: 2, Height: 2}
	if _, err := a.UploadImage(imm, make([]byte, 15), gpu.FormatR8G8B8A8Unorm, extent, gpu.ImageUsageSampled); err == nil {
		t.Fatalf("short image data accepted")
	}

	img, err := a.UploadImage(imm, make([]byte, 16), gpu.FormatR8G8B8A8Unorm, extent, gpu.ImageUsageSampled)
	if err != nil {
		t.Fatal(err)
	}
	defer a.DestroyImage(img)

	cmds := dev.Submissions()[0].Commands
	if len(cmds) != 3 {
		t.Fatalf("recorded %v", cmds)
	}
	if want := fmt.Sprintf("transition %d %d->%d", img.Image, gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDst); cmds[0] != want {
		t.Fatalf("first command %q, want %q", cmds[0], want)
	}
	if !strings.HasPrefix(cmds[1], "copy-buffer-to-image ") || !strings.HasSuffix(cmds[1], fmt.Sprintf("->%d 2x2", img.Image)) {
		t.Fatalf("second command %q", cmds[1])
	}
	if want := fmt.Sprintf("transition %d %d->%d", img.Image, gpu.ImageLayoutTransferDst, gpu.ImageLayoutShaderReadOnly); cmds[2] != want {
		t.Fatalf("last command %q, want %q", cmds[2], want)
	}
	if a.Live() != 1 {
		t.Fatalf("staging buffer leaked: %d live", a.Live())
	}
}

func TestAllocatorUploadFailsWithoutSubmitter(t *testing.T) {
	dev := gputest.NewDevice(0)
	a := NewAllocator(dev, nil)
	if _, err := a.UploadBuffer(nil, []byte{1, 2}, gpu.BufferUsageIndex); !errors.Is(err, ErrSurfaceNotReady) {
		t.Fatalf("UploadBuffer without a submitter: %v", err)
	}
	if a.Live() != 0 {
		t.Fatalf("failed upload left %d live resources", a.Live())
	}
}
