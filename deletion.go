package dieselframe

import (
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// ResourceKind tags a deletion record with what it releases.
type ResourceKind int

const (
	KindCustom ResourceKind = iota
	KindBuffer
	KindImage
	KindDescriptorPools
	KindDescriptorSetLayout
	KindFence
	KindSemaphore
	KindCommandPool
)

func (k ResourceKind) String() string {
	switch k {
	case KindBuffer:
		return "buffer"
	case KindImage:
		return "image"
	case KindDescriptorPools:
		return "descriptor-pools"
	case KindDescriptorSetLayout:
		return "descriptor-set-layout"
	case KindFence:
		return "fence"
	case KindSemaphore:
		return "semaphore"
	case KindCommandPool:
		return "command-pool"
	}
	return "custom"
}

type deletion struct {
	kind ResourceKind
	fn   func()
}

// DeletionQueue is an ordered ledger of destruction actions. Flush runs them newest first, so
// anything registered after its dependencies is destroyed before them.
//
// A queue is owned by one thread; the frame queues and the main queue are only touched from the
// controlling thread.
type DeletionQueue struct {
	name     string
	log      *slog.Logger
	deletors []deletion
	flushed  int
}

func NewDeletionQueue(name string, log *slog.Logger) *DeletionQueue {
	return &DeletionQueue{
		name: name,
		log:  orDiscard(log).With(slog.String("queue", name)),
	}
}

// Name is the owner tag recorded on resources registered into the queue.
func (q *DeletionQueue) Name() string {
	return q.name
}

// Len returns the number of pending actions.
func (q *DeletionQueue) Len() int {
	return len(q.deletors)
}

// Flushed returns the number of actions executed over the queue's lifetime.
func (q *DeletionQueue) Flushed() int {
	return q.flushed
}

// Push registers an arbitrary destruction action.
func (q *DeletionQueue) Push(fn func()) {
	q.PushKind(KindCustom, fn)
}

func (q *DeletionQueue) PushKind(kind ResourceKind, fn func()) {
	if fn == nil {
		return
	}
	q.deletors = append(q.deletors, deletion{kind: kind, fn: fn})
}

// PushBuffer hands ownership of b to the queue. A buffer already owned by a queue is not
// registered twice.
func (q *DeletionQueue) PushBuffer(a *Allocator, b *AllocatedBuffer) {
	if b == nil {
		return
	}
	if b.owner != "" {
		q.log.Warn("buffer already owned", slog.String("owner", b.owner), slog.Uint64("buffer", uint64(b.Buffer)))
		return
	}
	b.owner = q.name
	q.PushKind(KindBuffer, func() { a.DestroyBuffer(b) })
}

// PushImage hands ownership of img to the queue.
func (q *DeletionQueue) PushImage(a *Allocator, img *AllocatedImage) {
	if img == nil {
		return
	}
	if img.owner != "" {
		q.log.Warn("image already owned", slog.String("owner", img.owner), slog.Uint64("image", uint64(img.Image)))
		return
	}
	img.owner = q.name
	q.PushKind(KindImage, func() { a.DestroyImage(img) })
}

// PushDescriptorSetLayout registers the destruction of a layout.
func (q *DeletionQueue) PushDescriptorSetLayout(device gpu.Device, layout gpu.DescriptorSetLayout) {
	q.PushKind(KindDescriptorSetLayout, func() { device.DestroyDescriptorSetLayout(layout) })
}

// PushDescriptorAllocator registers the destruction of every pool of d.
func (q *DeletionQueue) PushDescriptorAllocator(d *DescriptorAllocator) {
	q.PushKind(KindDescriptorPools, d.DestroyPools)
}

// Flush executes every pending action newest first and empties the queue. Actions registered
// by a running action run in the same flush, after the batch that registered them. A panicking
// action is logged and does not stop the rest of the teardown. It returns the number of actions
// run.
func (q *DeletionQueue) Flush() int {
	n := 0
	for len(q.deletors) > 0 {
		pending := q.deletors
		q.deletors = nil
		for i := len(pending) - 1; i >= 0; i-- {
			q.run(pending[i])
			pending[i] = deletion{}
		}
		n += len(pending)
	}
	if n == 0 {
		return 0
	}
	q.flushed += n
	q.log.Debug("flushed", slog.Int("actions", n))
	return n
}

func (q *DeletionQueue) run(d deletion) {
	var err error
	defer func() {
		if err != nil {
			q.log.Warn("destruction action failed", slog.String("kind", d.kind.String()), slog.Any("error", err))
		}
	}()
	defer checkErr(&err)
	d.fn()
}
