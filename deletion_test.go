package dieselframe

import (
	"reflect"
	"strings"
	"testing"

	"github.com/andewx/dieselframe/gpu"
	"github.com/andewx/dieselframe/gpu/gputest"
)

func TestDeletionQueueFlushOrder(t *testing.T) {
	q := NewDeletionQueue("main", nil)
	var order []string
	for _, name := range []string{"A", "B", "C"} {
		name := name
		q.Push(func() { order = append(order, name) })
	}
	if got := q.Flush(); got != 3 {
		t.Fatalf("Flush ran %d actions, want 3", got)
	}
	if want := []string{"C", "B", "A"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("flush order %v, want %v", order, want)
	}
	if q.Len() != 0 {
		t.Fatalf("queue holds %d actions after flush", q.Len())
	}

	if got := q.Flush(); got != 0 {
		t.Fatalf("second Flush ran %d actions", got)
	}
	if len(order) != 3 {
		t.Fatalf("second flush re-ran actions: %v", order)
	}
	if q.Flushed() != 3 {
		t.Fatalf("Flushed() = %d, want 3", q.Flushed())
	}
}

func TestDeletionQueueRegisterDuringFlush(t *testing.T) {
	q := NewDeletionQueue("main", nil)
	var order []string
	q.Push(func() { order = append(order, "A") })
	q.Push(func() {
		order = append(order, "B")
		q.Push(func() { order = append(order, "B.child") })
	})
	q.Push(func() { order = append(order, "C") })

	if got := q.Flush(); got != 4 {
		t.Fatalf("Flush ran %d actions, want 4", got)
	}
	if want := []string{"C", "B", "A", "B.child"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("flush order %v, want %v", order, want)
	}
	if q.Len() != 0 || q.Flushed() != 4 {
		t.Fatalf("len %d, flushed %d after flush", q.Len(), q.Flushed())
	}
	if got := q.Flush(); got != 0 {
		t.Fatalf("late registration ran again: %d actions", got)
	}
}

func TestDeletionQueueEmptyFlush(t *testing.T) {
	q := NewDeletionQueue("frame/0", nil)
	q.Push(nil)
	if q.Len() != 0 {
		t.Fatalf("nil action was registered")
	}
	if got := q.Flush(); got != 0 {
		t.Fatalf("Flush on empty queue ran %d actions", got)
	}
}

func TestDeletionQueuePanicDoesNotStopTeardown(t *testing.T) {
	q := NewDeletionQueue("main", nil)
	var ran []string
	q.Push(func() { ran = append(ran, "A") })
	q.Push(func() { panic("driver refused") })
	q.Push(func() { ran = append(ran, "C") })

	if got := q.Flush(); got != 3 {
		t.Fatalf("Flush ran %d actions, want 3", got)
	}
	if want := []string{"C", "A"}; !reflect.DeepEqual(ran, want) {
		t.Fatalf("ran %v, want %v", ran, want)
	}
}

func TestDeletionQueueBufferOwnership(t *testing.T) {
	dev := gputest.NewDevice(0)
	alloc := NewAllocator(dev, nil)
	b, err := alloc.CreateBuffer(64, gpu.BufferUsageUniform, gpu.MemoryCPUToGPU)
	if err != nil {
		t.Fatal(err)
	}

	frame := NewDeletionQueue("frame/0", nil)
	main := NewDeletionQueue("main", nil)
	frame.PushBuffer(alloc, b)
	main.PushBuffer(alloc, b)

	if b.Owner() != "frame/0" {
		t.Fatalf("owner %q, want frame/0", b.Owner())
	}
	if main.Len() != 0 {
		t.Fatalf("buffer registered into a second queue")
	}

	frame.Flush()
	if b.Valid() {
		t.Fatalf("buffer still valid after its queue flushed")
	}
	if alloc.Live() != 0 {
		t.Fatalf("allocator reports %d live resources", alloc.Live())
	}
	if live := dev.Live(); len(live) != 0 {
		t.Fatalf("device still holds %v", live)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Fatalf("violations: %v", v)
	}
}

func TestDeletionQueueDependentsFirst(t *testing.T) {
	dev := gputest.NewDevice(0)
	q := NewDeletionQueue("main", nil)

	d := NewDescriptorAllocator(dev, DefaultConfig().Descriptors, nil)
	if err := d.InitPool(4, []PoolSizeRatio{{Type: gpu.DescriptorTypeUniformBuffer, Ratio: 1}}); err != nil {
		t.Fatal(err)
	}
	q.PushDescriptorAllocator(d)

	var builder DescriptorLayoutBuilder
	layout, err := builder.AddBinding(0, gpu.DescriptorTypeUniformBuffer).Build(dev, gpu.ShaderStageVertex)
	if err != nil {
		t.Fatal(err)
	}
	q.PushDescriptorSetLayout(dev, layout)

	q.Flush()
	events := dev.Events()
	layoutAt, poolAt := -1, -1
	for i, e := range events {
		switch {
		case strings.HasPrefix(e, "destroy-descriptor-set-layout"):
			layoutAt = i
		case strings.HasPrefix(e, "destroy-descriptor-pool"):
			poolAt = i
		}
	}
	if layoutAt < 0 || poolAt < 0 || layoutAt > poolAt {
		t.Fatalf("layout destroyed at %d, pool at %d; want layout first: %v", layoutAt, poolAt, events)
	}
	if live := dev.Live(); len(live) != 0 {
		t.Fatalf("device still holds %v", live)
	}
}
