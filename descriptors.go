package dieselframe

import (
	"math"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// PoolSizeRatio is how many descriptors of Type each set in a pool is provisioned with.
type PoolSizeRatio struct {
	Type  gpu.DescriptorType
	Ratio float32
}

// DescriptorAllocator hands out descriptor sets from a growing list of pools.
//
// Exactly one pool is active at a time. When it runs out, it moves to the full list and the
// allocator switches to a recycled pool or creates a larger one, then retries once. Full pools
// are only reset by ClearPools and only destroyed by DestroyPools.
type DescriptorAllocator struct {
	device gpu.Device
	limits DescriptorLimits
	log    *slog.Logger

	ratios      []PoolSizeRatio
	setsPerPool uint32
	active      gpu.DescriptorPool
	ready       []gpu.DescriptorPool
	full        []gpu.DescriptorPool
	growth      int
	allocated   int
}

func NewDescriptorAllocator(device gpu.Device, limits DescriptorLimits, log *slog.Logger) *DescriptorAllocator {
	return &DescriptorAllocator{
		device: device,
		limits: limits,
		log:    orDiscard(log).With(slog.String("component", "descriptors")),
	}
}

// InitPool creates the first pool, sized for maxSets sets mixed according to ratios.
func (d *DescriptorAllocator) InitPool(maxSets uint32, ratios []PoolSizeRatio) error {
	if d.active != 0 || len(d.full) > 0 || len(d.ready) > 0 {
		return errors.New("descriptor allocator already initialized")
	}
	if maxSets == 0 {
		return errors.New("descriptor pool needs at least one set")
	}
	if len(ratios) == 0 {
		return errors.New("descriptor pool needs at least one type ratio")
	}
	if err := d.limits.Validate(); err != nil {
		return err
	}
	d.ratios = append([]PoolSizeRatio(nil), ratios...)
	pool, err := d.createPool(maxSets)
	if err != nil {
		return err
	}
	d.active = pool
	d.setsPerPool = maxSets
	return nil
}

func (d *DescriptorAllocator) createPool(sets uint32) (gpu.DescriptorPool, error) {
	sizes := make([]gpu.DescriptorPoolSize, 0, len(d.ratios))
	for _, r := range d.ratios {
		count := uint32(math.Ceil(float64(r.Ratio) * float64(sets)))
		if count == 0 {
			count = 1
		}
		sizes = append(sizes, gpu.DescriptorPoolSize{Type: r.Type, Count: count})
	}
	pool, err := d.device.CreateDescriptorPool(sets, sizes)
	if err != nil {
		return 0, errors.Wrapf(err, "create descriptor pool of %d sets", sets)
	}
	return pool, nil
}

// Pools returns the number of pools the allocator owns.
func (d *DescriptorAllocator) Pools() int {
	n := len(d.ready) + len(d.full)
	if d.active != 0 {
		n++
	}
	return n
}

// GrowthEvents returns how many pools were created because the active one was exhausted.
func (d *DescriptorAllocator) GrowthEvents() int {
	return d.growth
}

// Allocated returns how many sets were handed out since the last clear.
func (d *DescriptorAllocator) Allocated() int {
	return d.allocated
}

// Allocate returns a set for layout, growing the pool list once if the active pool is exhausted.
func (d *DescriptorAllocator) Allocate(layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	if d.active == 0 {
		return 0, errors.Wrap(ErrNotInitialized, "descriptor allocator has no pool")
	}
	set, err := d.device.AllocateDescriptorSet(d.active, layout)
	if err == nil {
		d.allocated++
		return set, nil
	}
	if !gpu.IsPoolExhausted(err) {
		return 0, errors.Wrap(err, "allocate descriptor set")
	}

	if err := d.rotate(); err != nil {
		return 0, err
	}
	set, err = d.device.AllocateDescriptorSet(d.active, layout)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "retry on fresh pool of %d sets", d.setsPerPool), ErrDescriptorExhausted)
	}
	d.allocated++
	return set, nil
}

// rotate retires the active pool and activates a recycled or newly grown one.
func (d *DescriptorAllocator) rotate() error {
	if n := len(d.ready); n > 0 {
		d.full = append(d.full, d.active)
		d.active = d.ready[n-1]
		d.ready = d.ready[:n-1]
		return nil
	}
	if d.Pools() >= d.limits.MaxPools {
		return errors.Wrapf(ErrPoolLimit, "%d pools in use", d.Pools())
	}
	// Capped before narrowing; a large growth factor would overflow uint32.
	next := d.limits.MaxSetsPerPool
	if grown := math.Ceil(float64(d.setsPerPool) * d.limits.Growth); grown < float64(next) {
		next = uint32(grown)
	}
	pool, err := d.createPool(next)
	if err != nil {
		return err
	}
	d.full = append(d.full, d.active)
	d.active = pool
	d.setsPerPool = next
	d.growth++
	d.log.Debug("descriptor pool grown", slog.Int("pools", d.Pools()), slog.Uint64("sets", uint64(next)))
	return nil
}

// ClearPools resets every pool so all of them can be reused. Sets allocated before the call are
// invalid afterwards. Pools are not destroyed.
func (d *DescriptorAllocator) ClearPools() error {
	if d.active == 0 {
		return nil
	}
	var errs error
	reset := func(p gpu.DescriptorPool) {
		if err := d.device.ResetDescriptorPool(p); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "reset descriptor pool %d", p))
		}
	}
	reset(d.active)
	for _, p := range d.ready {
		reset(p)
	}
	for _, p := range d.full {
		reset(p)
		d.ready = append(d.ready, p)
	}
	d.full = d.full[:0]
	d.allocated = 0
	return errs
}

// DestroyPools releases every pool. The allocator must be initialized again before reuse.
func (d *DescriptorAllocator) DestroyPools() {
	if d.active != 0 {
		d.device.DestroyDescriptorPool(d.active)
	}
	for _, p := range d.ready {
		d.device.DestroyDescriptorPool(p)
	}
	for _, p := range d.full {
		d.device.DestroyDescriptorPool(p)
	}
	d.active = 0
	d.ready = nil
	d.full = nil
	d.allocated = 0
}

// DescriptorLayoutBuilder collects bindings for a descriptor set layout.
type DescriptorLayoutBuilder struct {
	bindings []gpu.DescriptorBinding
}

func (b *DescriptorLayoutBuilder) AddBinding(binding uint32, typ gpu.DescriptorType) *DescriptorLayoutBuilder {
	b.bindings = append(b.bindings, gpu.DescriptorBinding{Binding: binding, Type: typ, Count: 1})
	return b
}

func (b *DescriptorLayoutBuilder) Clear() {
	b.bindings = b.bindings[:0]
}

// Build creates a layout whose bindings are all visible to stages.
func (b *DescriptorLayoutBuilder) Build(device gpu.Device, stages gpu.ShaderStage) (gpu.DescriptorSetLayout, error) {
	if len(b.bindings) == 0 {
		return 0, errors.New("descriptor set layout needs at least one binding")
	}
	bindings := make([]gpu.DescriptorBinding, len(b.bindings))
	for i, bind := range b.bindings {
		bind.Stages |= stages
		bindings[i] = bind
	}
	layout, err := device.CreateDescriptorSetLayout(bindings)
	return layout, errors.Wrap(err, "create descriptor set layout")
}

// DescriptorWriter batches writes into a descriptor set.
type DescriptorWriter struct {
	writes []gpu.DescriptorWrite
}

func (w *DescriptorWriter) WriteBuffer(binding uint32, buffer gpu.Buffer, size, offset uint64, typ gpu.DescriptorType) *DescriptorWriter {
	w.writes = append(w.writes, gpu.DescriptorWrite{
		Binding: binding,
		Type:    typ,
		Buffer:  buffer,
		Offset:  offset,
		Range:   size,
	})
	return w
}

func (w *DescriptorWriter) WriteImage(binding uint32, view gpu.ImageView, layout gpu.ImageLayout, typ gpu.DescriptorType) *DescriptorWriter {
	w.writes = append(w.writes, gpu.DescriptorWrite{
		Binding: binding,
		Type:    typ,
		View:    view,
		Layout:  layout,
	})
	return w
}

func (w *DescriptorWriter) Clear() {
	w.writes = w.writes[:0]
}

// UpdateSet applies the batched writes to set.
func (w *DescriptorWriter) UpdateSet(device gpu.Device, set gpu.DescriptorSet) {
	if len(w.writes) == 0 {
		return
	}
	device.UpdateDescriptorSet(set, w.writes)
}
