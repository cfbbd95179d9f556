package dieselframe

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/andewx/dieselframe/gpu"
	"github.com/andewx/dieselframe/gpu/gputest"
)

var storageRatios = []PoolSizeRatio{{Type: gpu.DescriptorTypeStorageImage, Ratio: 1}}

func testLayout(t *testing.T, dev gpu.Device) gpu.DescriptorSetLayout {
	t.Helper()
	var b DescriptorLayoutBuilder
	layout, err := b.AddBinding(0, gpu.DescriptorTypeStorageImage).Build(dev, gpu.ShaderStageCompute)
	if err != nil {
		t.Fatal(err)
	}
	return layout
}

func newDescriptors(t *testing.T, dev gpu.Device, sets uint32, limits DescriptorLimits) *DescriptorAllocator {
	t.Helper()
	d := NewDescriptorAllocator(dev, limits, nil)
	if err := d.InitPool(sets, storageRatios); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestDescriptorAllocateBeforeInit(t *testing.T) {
	dev := gputest.NewDevice(0)
	d := NewDescriptorAllocator(dev, DefaultConfig().Descriptors, nil)
	if _, err := d.Allocate(testLayout(t, dev)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Allocate before InitPool: %v", err)
	}
}

func TestDescriptorInitPoolValidates(t *testing.T) {
	dev := gputest.NewDevice(0)
	d := NewDescriptorAllocator(dev, DefaultConfig().Descriptors, nil)
	if err := d.InitPool(0, storageRatios); err == nil {
		t.Fatalf("InitPool accepted zero sets")
	}
	if err := d.InitPool(8, nil); err == nil {
		t.Fatalf("InitPool accepted no ratios")
	}
	bad := NewDescriptorAllocator(dev, DescriptorLimits{Growth: 0.5, MaxSetsPerPool: 10, MaxPools: 2}, nil)
	if err := bad.InitPool(8, storageRatios); err == nil {
		t.Fatalf("InitPool accepted a shrinking growth factor")
	}
	if err := d.InitPool(8, storageRatios); err != nil {
		t.Fatal(err)
	}
	if err := d.InitPool(8, storageRatios); err == nil {
		t.Fatalf("second InitPool succeeded")
	}
}

func TestDescriptorPoolSizesFollowRatios(t *testing.T) {
	dev := gputest.NewDevice(0)
	d := NewDescriptorAllocator(dev, DefaultConfig().Descriptors, nil)
	err := d.InitPool(10, []PoolSizeRatio{
		{Type: gpu.DescriptorTypeStorageImage, Ratio: 1.5},
		{Type: gpu.DescriptorTypeUniformBuffer, Ratio: 0.01},
	})
	if err != nil {
		t.Fatal(err)
	}
	sizes := dev.DescriptorPoolSizes(d.active)
	want := []gpu.DescriptorPoolSize{
		{Type: gpu.DescriptorTypeStorageImage, Count: 15},
		{Type: gpu.DescriptorTypeUniformBuffer, Count: 1},
	}
	if len(sizes) != len(want) {
		t.Fatalf("pool sizes %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("pool sizes %v, want %v", sizes, want)
		}
	}
	if got := dev.DescriptorPoolCapacity(d.active); got != 10 {
		t.Fatalf("pool capacity %d, want 10", got)
	}
}

func TestDescriptorGrowAndRetry(t *testing.T) {
	dev := gputest.NewDevice(0)
	layout := testLayout(t, dev)
	d := newDescriptors(t, dev, 4, DescriptorLimits{Growth: 2, MaxSetsPerPool: 100, MaxPools: 8})

	for i := 0; i < 4; i++ {
		if _, err := d.Allocate(layout); err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
	}
	if d.GrowthEvents() != 0 {
		t.Fatalf("grew before the first pool was exhausted")
	}

	if _, err := d.Allocate(layout); err != nil {
		t.Fatalf("allocation after exhaustion: %v", err)
	}
	if d.GrowthEvents() != 1 || d.Pools() != 2 {
		t.Fatalf("growth %d pools %d, want 1 and 2", d.GrowthEvents(), d.Pools())
	}
	if got := dev.DescriptorPoolCapacity(d.active); got != 8 {
		t.Fatalf("grown pool holds %d sets, want 8", got)
	}

	// The grown pool has room for seven more before the next growth.
	for i := 0; i < 7; i++ {
		if _, err := d.Allocate(layout); err != nil {
			t.Fatal(err)
		}
	}
	if d.GrowthEvents() != 1 {
		t.Fatalf("growth %d, want 1", d.GrowthEvents())
	}
	if _, err := d.Allocate(layout); err != nil {
		t.Fatal(err)
	}
	if d.GrowthEvents() != 2 {
		t.Fatalf("growth %d, want 2", d.GrowthEvents())
	}
	if got := dev.DescriptorPoolCapacity(d.active); got != 16 {
		t.Fatalf("grown pool holds %d sets, want 16", got)
	}
}

func TestDescriptorGrowthCappedPerPool(t *testing.T) {
	dev := gputest.NewDevice(0)
	layout := testLayout(t, dev)
	d := newDescriptors(t, dev, 4, DescriptorLimits{Growth: 10, MaxSetsPerPool: 6, MaxPools: 8})
	for i := 0; i < 5; i++ {
		if _, err := d.Allocate(layout); err != nil {
			t.Fatal(err)
		}
	}
	if got := dev.DescriptorPoolCapacity(d.active); got != 6 {
		t.Fatalf("grown pool holds %d sets, want the cap of 6", got)
	}
}

func TestDescriptorHugeGrowthClampsToCap(t *testing.T) {
	dev := gputest.NewDevice(0)
	layout := testLayout(t, dev)
	d := newDescriptors(t, dev, 4, DescriptorLimits{Growth: 1e12, MaxSetsPerPool: 4096, MaxPools: 8})
	for i := 0; i < 5; i++ {
		if _, err := d.Allocate(layout); err != nil {
			t.Fatal(err)
		}
	}
	if got := dev.DescriptorPoolCapacity(d.active); got != 4096 {
		t.Fatalf("grown pool holds %d sets, want the cap of 4096", got)
	}
	if d.GrowthEvents() != 1 {
		t.Fatalf("%d growth events", d.GrowthEvents())
	}
}

func TestDescriptorPoolLimitIsFatal(t *testing.T) {
	dev := gputest.NewDevice(0)
	layout := testLayout(t, dev)
	d := newDescriptors(t, dev, 2, DescriptorLimits{Growth: 1, MaxSetsPerPool: 100, MaxPools: 2})

	for i := 0; i < 4; i++ {
		if _, err := d.Allocate(layout); err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
	}
	_, err := d.Allocate(layout)
	if !errors.Is(err, ErrPoolLimit) {
		t.Fatalf("allocation past the pool cap: %v", err)
	}
	if !IsFatal(err) {
		t.Fatalf("pool limit not fatal")
	}
	if dev.DescriptorPools() != 2 {
		t.Fatalf("%d pools alive, want 2", dev.DescriptorPools())
	}
}

// Allocating 1000 sets from pools of 100 that never grow creates one pool per hundred.
func TestDescriptorThousandAllocations(t *testing.T) {
	dev := gputest.NewDevice(0)
	layout := testLayout(t, dev)
	d := newDescriptors(t, dev, 100, DescriptorLimits{Growth: 1, MaxSetsPerPool: 4092, MaxPools: 64})

	for i := 0; i < 1000; i++ {
		if _, err := d.Allocate(layout); err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
	}
	if got, want := d.GrowthEvents(), (1000+99)/100-1; got != want {
		t.Fatalf("growth events %d, want %d", got, want)
	}
	if d.Pools() != 10 || dev.DescriptorPools() != 10 {
		t.Fatalf("pools %d (device %d), want 10", d.Pools(), dev.DescriptorPools())
	}
	if d.Allocated() != 1000 {
		t.Fatalf("allocated %d, want 1000", d.Allocated())
	}
}

func TestDescriptorClearReusesPools(t *testing.T) {
	dev := gputest.NewDevice(0)
	layout := testLayout(t, dev)
	d := newDescriptors(t, dev, 100, DescriptorLimits{Growth: 1, MaxSetsPerPool: 100, MaxPools: 8})

	allocate := func(n int) {
		t.Helper()
		for i := 0; i < n; i++ {
			if _, err := d.Allocate(layout); err != nil {
				t.Fatalf("allocation %d: %v", i, err)
			}
		}
	}
	allocate(250)
	if d.GrowthEvents() != 2 || d.Pools() != 3 {
		t.Fatalf("growth %d pools %d, want 2 and 3", d.GrowthEvents(), d.Pools())
	}
	if err := d.ClearPools(); err != nil {
		t.Fatal(err)
	}
	if d.Allocated() != 0 {
		t.Fatalf("allocated %d after clear", d.Allocated())
	}

	allocate(300)
	if d.GrowthEvents() != 2 || dev.DescriptorPools() != 3 {
		t.Fatalf("growth %d device pools %d after clear, want 2 and 3", d.GrowthEvents(), dev.DescriptorPools())
	}

	d.DestroyPools()
	if dev.DescriptorPools() != 0 {
		t.Fatalf("%d pools alive after destroy", dev.DescriptorPools())
	}
	if _, err := d.Allocate(layout); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Allocate after DestroyPools: %v", err)
	}
}

type failingSets struct {
	*gputest.Device
	err error
}

func (f failingSets) AllocateDescriptorSet(gpu.DescriptorPool, gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	return 0, f.err
}

func TestDescriptorSecondFailureIsFatal(t *testing.T) {
	dev := failingSets{Device: gputest.NewDevice(0), err: errors.Wrap(gpu.ErrFragmentedPool, "driver")}
	layout := testLayout(t, dev)
	d := newDescriptors(t, dev, 4, DefaultConfig().Descriptors)

	_, err := d.Allocate(layout)
	if !errors.Is(err, ErrDescriptorExhausted) {
		t.Fatalf("retry failure not marked exhausted: %v", err)
	}
	if !errors.Is(err, gpu.ErrFragmentedPool) {
		t.Fatalf("driver cause lost: %v", err)
	}
	if d.GrowthEvents() != 1 {
		t.Fatalf("growth %d, want exactly one retry", d.GrowthEvents())
	}
}

func TestDescriptorOtherErrorsNotRetried(t *testing.T) {
	dev := failingSets{Device: gputest.NewDevice(0), err: gpu.ErrDeviceLost}
	layout := testLayout(t, dev)
	d := newDescriptors(t, dev, 4, DefaultConfig().Descriptors)

	if _, err := d.Allocate(layout); !errors.Is(err, gpu.ErrDeviceLost) {
		t.Fatalf("Allocate: %v", err)
	}
	if d.GrowthEvents() != 0 || d.Pools() != 1 {
		t.Fatalf("device loss triggered pool growth")
	}
}

func TestDescriptorWriterBatches(t *testing.T) {
	dev := gputest.NewDevice(0)
	layout := testLayout(t, dev)
	d := newDescriptors(t, dev, 4, DefaultConfig().Descriptors)
	set, err := d.Allocate(layout)
	if err != nil {
		t.Fatal(err)
	}

	var w DescriptorWriter
	w.WriteImage(0, 7, gpu.ImageLayoutGeneral, gpu.DescriptorTypeStorageImage).
		WriteBuffer(1, 9, 64, 0, gpu.DescriptorTypeUniformBuffer)
	w.UpdateSet(dev, set)
	w.Clear()
	w.UpdateSet(dev, set)

	var updates int
	for _, e := range dev.Events() {
		if strings.HasPrefix(e, "update-descriptor-set") {
			updates++
			if !strings.HasSuffix(e, "writes=2") {
				t.Fatalf("update event %q, want two writes", e)
			}
		}
	}
	if updates != 1 {
		t.Fatalf("%d updates, want 1", updates)
	}
}
