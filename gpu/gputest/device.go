// Package gputest provides a simulated GPU for exercising the engine core without a driver.
//
// Submissions execute asynchronously and in queue order: each one completes Latency after it was
// submitted, or after the previous submission completed, whichever is later. The device records
// every misuse a validation layer would flag (re-recording an in-flight command buffer, resetting
// a pending fence, destroying an unknown handle) as a violation rather than failing the call.
package gputest

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/andewx/dieselframe/gpu"
)

// Submission is one queue submission as seen by the simulated GPU.
type Submission struct {
	Index         int
	CommandBuffer gpu.CommandBuffer
	Fence         gpu.Fence
	Wait          gpu.Semaphore
	Signal        gpu.Semaphore
	Commands      []string
	SubmittedAt   time.Time
	CompletedAt   time.Time
	Done          bool
}

type fence struct {
	signaled bool
	pending  int // submissions that will signal this fence
	done     chan struct{}
}

type commandBuffer struct {
	pool      gpu.CommandPool
	recording bool
	inFlight  int
	commands  []string
	begins    int
}

type descriptorPool struct {
	maxSets uint32
	sizes   []gpu.DescriptorPoolSize
	used    uint32
}

type memory struct {
	hostVisible bool
	data        []byte
}

// Device is a gpu.Device backed by bookkeeping instead of hardware.
type Device struct {
	// Latency is how long each submission takes to execute.
	Latency time.Duration
	// Hang stops the GPU from ever completing submissions.
	Hang bool
	// SubmitErr, when set, is returned by every Submit.
	SubmitErr error
	// BufferErr, when set, is returned by every CreateBuffer and CreateImage.
	BufferErr error

	mu          sync.Mutex
	next        uint64
	lastDone    time.Time
	fences      map[gpu.Fence]*fence
	semaphores  map[gpu.Semaphore]struct{}
	pools       map[gpu.CommandPool][]gpu.CommandBuffer
	cmds        map[gpu.CommandBuffer]*commandBuffer
	descPools   map[gpu.DescriptorPool]*descriptorPool
	layouts     map[gpu.DescriptorSetLayout][]gpu.DescriptorBinding
	sets        map[gpu.DescriptorSet]gpu.DescriptorPool
	buffers     map[gpu.Buffer]gpu.Allocation
	images      map[gpu.Image]gpu.Allocation
	views       map[gpu.ImageView]gpu.Image
	allocations map[gpu.Allocation]*memory
	submissions []*Submission
	events      []string
	violations  []string
}

var _ gpu.Device = (*Device)(nil)

// NewDevice returns a simulated device whose submissions take latency to complete.
func NewDevice(latency time.Duration) *Device {
	return &Device{
		Latency:     latency,
		fences:      make(map[gpu.Fence]*fence),
		semaphores:  make(map[gpu.Semaphore]struct{}),
		pools:       make(map[gpu.CommandPool][]gpu.CommandBuffer),
		cmds:        make(map[gpu.CommandBuffer]*commandBuffer),
		descPools:   make(map[gpu.DescriptorPool]*descriptorPool),
		layouts:     make(map[gpu.DescriptorSetLayout][]gpu.DescriptorBinding),
		sets:        make(map[gpu.DescriptorSet]gpu.DescriptorPool),
		buffers:     make(map[gpu.Buffer]gpu.Allocation),
		images:      make(map[gpu.Image]gpu.Allocation),
		views:       make(map[gpu.ImageView]gpu.Image),
		allocations: make(map[gpu.Allocation]*memory),
	}
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) logf(format string, args ...interface{}) {
	d.events = append(d.events, fmt.Sprintf(format, args...))
}

func (d *Device) violatef(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

// Events returns the ordered log of driver calls.
func (d *Device) Events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

// Violations returns every misuse recorded so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Submissions returns a snapshot of every submission in queue order.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Submission, len(d.submissions))
	for i, s := range d.submissions {
		out[i] = *s
		out[i].Commands = append([]string(nil), s.Commands...)
	}
	return out
}

// Recorded returns the commands recorded into cmd since it last began recording.
func (d *Device) Recorded(cmd gpu.CommandBuffer) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.cmds[cmd]; ok {
		return append([]string(nil), c.commands...)
	}
	return nil
}

// Live returns the number of live objects per kind.
func (d *Device) Live() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	live := map[string]int{
		"fence":                 len(d.fences),
		"semaphore":             len(d.semaphores),
		"command-pool":          len(d.pools),
		"descriptor-pool":       len(d.descPools),
		"descriptor-set-layout": len(d.layouts),
		"buffer":                len(d.buffers),
		"image":                 len(d.images),
		"allocation":            len(d.allocations),
	}
	for k, v := range live {
		if v == 0 {
			delete(live, k)
		}
	}
	return live
}

// DescriptorPools returns the number of descriptor pools currently alive.
func (d *Device) DescriptorPools() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.descPools)
}

// Memory returns a copy of the bytes written to a host-visible allocation.
func (d *Device) Memory(a gpu.Allocation) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.allocations[a]; ok {
		return append([]byte(nil), m.data...)
	}
	return nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := gpu.Fence(d.handle())
	st := &fence{signaled: signaled, done: make(chan struct{})}
	if signaled {
		close(st.done)
	}
	d.fences[f] = st
	d.logf("create-fence %d signaled=%t", f, signaled)
	return f, nil
}

func (d *Device) WaitForFence(f gpu.Fence, timeout time.Duration) error {
	d.mu.Lock()
	st, ok := d.fences[f]
	if !ok {
		d.violatef("wait on unknown fence %d", f)
		d.mu.Unlock()
		return errors.Wrapf(gpu.ErrUnknownHandle, "fence %d", f)
	}
	done := st.done
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		d.mu.Lock()
		d.logf("wait-fence %d", f)
		d.mu.Unlock()
		return nil
	case <-timer.C:
		return errors.Wrapf(gpu.ErrTimeout, "fence %d after %s", f, timeout)
	}
}

func (d *Device) ResetFence(f gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.fences[f]
	if !ok {
		d.violatef("reset of unknown fence %d", f)
		return errors.Wrapf(gpu.ErrUnknownHandle, "fence %d", f)
	}
	if st.pending > 0 {
		d.violatef("fence %d reset while %d submissions pending", f, st.pending)
	}
	if st.signaled {
		st.signaled = false
		st.done = make(chan struct{})
	}
	d.logf("reset-fence %d", f)
	return nil
}

func (d *Device) DestroyFence(f gpu.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.fences[f]
	if !ok {
		d.violatef("destroy of unknown fence %d", f)
		return
	}
	if st.pending > 0 {
		d.violatef("fence %d destroyed while in use", f)
	}
	delete(d.fences, f)
	d.logf("destroy-fence %d", f)
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := gpu.Semaphore(d.handle())
	d.semaphores[s] = struct{}{}
	d.logf("create-semaphore %d", s)
	return s, nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.semaphores[s]; !ok {
		d.violatef("destroy of unknown semaphore %d", s)
		return
	}
	delete(d.semaphores, s)
	d.logf("destroy-semaphore %d", s)
}

func (d *Device) CreateCommandPool() (gpu.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := gpu.CommandPool(d.handle())
	d.pools[p] = nil
	d.logf("create-command-pool %d", p)
	return p, nil
}

func (d *Device) AllocateCommandBuffer(pool gpu.CommandPool) (gpu.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pools[pool]; !ok {
		d.violatef("allocate from unknown command pool %d", pool)
		return 0, errors.Wrapf(gpu.ErrUnknownHandle, "command pool %d", pool)
	}
	c := gpu.CommandBuffer(d.handle())
	d.pools[pool] = append(d.pools[pool], c)
	d.cmds[c] = &commandBuffer{pool: pool}
	return c, nil
}

func (d *Device) ResetCommandPool(pool gpu.CommandPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bufs, ok := d.pools[pool]
	if !ok {
		d.violatef("reset of unknown command pool %d", pool)
		return errors.Wrapf(gpu.ErrUnknownHandle, "command pool %d", pool)
	}
	for _, c := range bufs {
		st := d.cmds[c]
		if st.inFlight > 0 {
			d.violatef("command pool %d reset while buffer %d in flight", pool, c)
		}
		st.recording = false
		st.commands = nil
	}
	d.logf("reset-command-pool %d", pool)
	return nil
}

func (d *Device) DestroyCommandPool(pool gpu.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bufs, ok := d.pools[pool]
	if !ok {
		d.violatef("destroy of unknown command pool %d", pool)
		return
	}
	for _, c := range bufs {
		if d.cmds[c].inFlight > 0 {
			d.violatef("command pool %d destroyed while buffer %d in flight", pool, c)
		}
		delete(d.cmds, c)
	}
	delete(d.pools, pool)
	d.logf("destroy-command-pool %d", pool)
}

func (d *Device) BeginCommandBuffer(cmd gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.cmds[cmd]
	if !ok {
		d.violatef("begin of unknown command buffer %d", cmd)
		return errors.Wrapf(gpu.ErrUnknownHandle, "command buffer %d", cmd)
	}
	if st.inFlight > 0 {
		d.violatef("command buffer %d re-recorded while in flight", cmd)
	}
	if st.recording {
		d.violatef("command buffer %d begun while already recording", cmd)
	}
	st.recording = true
	st.commands = nil
	st.begins++
	d.logf("begin %d", cmd)
	return nil
}

func (d *Device) EndCommandBuffer(cmd gpu.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.cmds[cmd]
	if !ok || !st.recording {
		d.violatef("end of command buffer %d that is not recording", cmd)
		return errors.Newf("command buffer %d is not recording", cmd)
	}
	st.recording = false
	d.logf("end %d", cmd)
	return nil
}

func (d *Device) Submit(info gpu.SubmitInfo, f gpu.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SubmitErr != nil {
		return d.SubmitErr
	}
	st, ok := d.cmds[info.CommandBuffer]
	if !ok {
		d.violatef("submit of unknown command buffer %d", info.CommandBuffer)
		return errors.Wrapf(gpu.ErrUnknownHandle, "command buffer %d", info.CommandBuffer)
	}
	if st.recording {
		d.violatef("command buffer %d submitted while recording", info.CommandBuffer)
	}
	var fs *fence
	if f != 0 {
		if fs, ok = d.fences[f]; !ok {
			d.violatef("submit with unknown fence %d", f)
			return errors.Wrapf(gpu.ErrUnknownHandle, "fence %d", f)
		}
		if fs.signaled || fs.pending > 0 {
			d.violatef("submit with fence %d that is not reset", f)
		}
		fs.pending++
	}
	st.inFlight++

	now := time.Now()
	sub := &Submission{
		Index:         len(d.submissions),
		CommandBuffer: info.CommandBuffer,
		Fence:         f,
		Wait:          info.Wait,
		Signal:        info.Signal,
		Commands:      append([]string(nil), st.commands...),
		SubmittedAt:   now,
	}
	d.submissions = append(d.submissions, sub)
	d.logf("submit %d cmd=%d fence=%d wait=%d signal=%d", sub.Index, info.CommandBuffer, f, info.Wait, info.Signal)

	if d.Hang {
		return nil
	}
	at := now.Add(d.Latency)
	if at.Before(d.lastDone) {
		at = d.lastDone
	}
	d.lastDone = at
	time.AfterFunc(at.Sub(now), func() { d.complete(sub.Index) })
	return nil
}

// complete retires every outstanding submission up to and including index, in queue order.
func (d *Device) complete(index int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sub := range d.submissions[:index+1] {
		if sub.Done {
			continue
		}
		sub.Done = true
		sub.CompletedAt = time.Now()
		if st, ok := d.cmds[sub.CommandBuffer]; ok {
			st.inFlight--
		}
		if sub.Fence == 0 {
			continue
		}
		if fs, ok := d.fences[sub.Fence]; ok {
			fs.pending--
			if !fs.signaled {
				fs.signaled = true
				close(fs.done)
			}
		}
	}
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []gpu.DescriptorPoolSize) (gpu.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := gpu.DescriptorPool(d.handle())
	d.descPools[p] = &descriptorPool{maxSets: maxSets, sizes: append([]gpu.DescriptorPoolSize(nil), sizes...)}
	d.logf("create-descriptor-pool %d max=%d", p, maxSets)
	return p, nil
}

// DescriptorPoolSizes returns the per-type sizes pool was created with.
func (d *Device) DescriptorPoolSizes(pool gpu.DescriptorPool) []gpu.DescriptorPoolSize {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.descPools[pool]; ok {
		return append([]gpu.DescriptorPoolSize(nil), p.sizes...)
	}
	return nil
}

// DescriptorPoolCapacity returns the maximum set count pool was created with.
func (d *Device) DescriptorPoolCapacity(pool gpu.DescriptorPool) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.descPools[pool]; ok {
		return p.maxSets
	}
	return 0
}

func (d *Device) ResetDescriptorPool(pool gpu.DescriptorPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.descPools[pool]
	if !ok {
		d.violatef("reset of unknown descriptor pool %d", pool)
		return errors.Wrapf(gpu.ErrUnknownHandle, "descriptor pool %d", pool)
	}
	p.used = 0
	for s, owner := range d.sets {
		if owner == pool {
			delete(d.sets, s)
		}
	}
	d.logf("reset-descriptor-pool %d", pool)
	return nil
}

func (d *Device) DestroyDescriptorPool(pool gpu.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.descPools[pool]; !ok {
		d.violatef("destroy of unknown descriptor pool %d", pool)
		return
	}
	for s, owner := range d.sets {
		if owner == pool {
			delete(d.sets, s)
		}
	}
	delete(d.descPools, pool)
	d.logf("destroy-descriptor-pool %d", pool)
}

func (d *Device) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := gpu.DescriptorSetLayout(d.handle())
	d.layouts[l] = append([]gpu.DescriptorBinding(nil), bindings...)
	d.logf("create-descriptor-set-layout %d bindings=%d", l, len(bindings))
	return l, nil
}

func (d *Device) DestroyDescriptorSetLayout(l gpu.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.layouts[l]; !ok {
		d.violatef("destroy of unknown descriptor set layout %d", l)
		return
	}
	delete(d.layouts, l)
	d.logf("destroy-descriptor-set-layout %d", l)
}

func (d *Device) AllocateDescriptorSet(pool gpu.DescriptorPool, layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.descPools[pool]
	if !ok {
		d.violatef("allocate from unknown descriptor pool %d", pool)
		return 0, errors.Wrapf(gpu.ErrUnknownHandle, "descriptor pool %d", pool)
	}
	if _, ok := d.layouts[layout]; !ok {
		d.violatef("allocate with unknown descriptor set layout %d", layout)
		return 0, errors.Wrapf(gpu.ErrUnknownHandle, "descriptor set layout %d", layout)
	}
	if p.used >= p.maxSets {
		return 0, errors.Wrapf(gpu.ErrOutOfPoolMemory, "descriptor pool %d holds %d sets", pool, p.maxSets)
	}
	p.used++
	s := gpu.DescriptorSet(d.handle())
	d.sets[s] = pool
	return s, nil
}

func (d *Device) UpdateDescriptorSet(set gpu.DescriptorSet, writes []gpu.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sets[set]; !ok {
		d.violatef("update of unknown descriptor set %d", set)
		return
	}
	d.logf("update-descriptor-set %d writes=%d", set, len(writes))
}

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, gpu.Allocation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.BufferErr != nil {
		return 0, 0, d.BufferErr
	}
	b := gpu.Buffer(d.handle())
	a := gpu.Allocation(d.handle())
	m := &memory{hostVisible: info.Memory.HostVisible()}
	if m.hostVisible {
		m.data = make([]byte, info.Size)
	}
	d.buffers[b] = a
	d.allocations[a] = m
	d.logf("create-buffer %d size=%d memory=%s", b, info.Size, info.Memory)
	return b, a, nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer, a gpu.Allocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, ok := d.buffers[b]
	if !ok {
		d.violatef("destroy of unknown buffer %d", b)
		return
	}
	if owner != a {
		d.violatef("buffer %d destroyed with allocation %d, bound to %d", b, a, owner)
	}
	delete(d.buffers, b)
	delete(d.allocations, owner)
	d.logf("destroy-buffer %d", b)
}

func (d *Device) CreateImage(info gpu.ImageCreateInfo) (gpu.Image, gpu.ImageView, gpu.Allocation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.BufferErr != nil {
		return 0, 0, 0, d.BufferErr
	}
	img := gpu.Image(d.handle())
	view := gpu.ImageView(d.handle())
	a := gpu.Allocation(d.handle())
	d.images[img] = a
	d.views[view] = img
	d.allocations[a] = &memory{hostVisible: info.Memory.HostVisible()}
	d.logf("create-image %d %dx%d", img, info.Extent.Width, info.Extent.Height)
	return img, view, a, nil
}

func (d *Device) DestroyImage(img gpu.Image, view gpu.ImageView, a gpu.Allocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, ok := d.images[img]
	if !ok {
		d.violatef("destroy of unknown image %d", img)
		return
	}
	if owner != a {
		d.violatef("image %d destroyed with allocation %d, bound to %d", img, a, owner)
	}
	delete(d.images, img)
	delete(d.views, view)
	delete(d.allocations, owner)
	d.logf("destroy-image %d", img)
}

func (d *Device) WriteMemory(a gpu.Allocation, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.allocations[a]
	if !ok {
		d.violatef("write to unknown allocation %d", a)
		return errors.Wrapf(gpu.ErrUnknownHandle, "allocation %d", a)
	}
	if !m.hostVisible {
		return errors.Wrapf(gpu.ErrNotHostVisible, "allocation %d", a)
	}
	if offset+uint64(len(data)) > uint64(len(m.data)) {
		return errors.Newf("write of %d bytes at %d overflows allocation %d of %d bytes", len(data), offset, a, len(m.data))
	}
	copy(m.data[offset:], data)
	return nil
}

// WaitIdle blocks until every submission has completed. A hung device returns ErrTimeout after
// one second.
func (d *Device) WaitIdle() error {
	deadline := time.Now().Add(time.Second)
	for {
		d.mu.Lock()
		idle := true
		for _, s := range d.submissions {
			if !s.Done {
				idle = false
				break
			}
		}
		if idle {
			d.logf("wait-idle")
		}
		d.mu.Unlock()
		if idle {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.Wrap(gpu.ErrTimeout, "device wait idle")
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *Device) record(cmd gpu.CommandBuffer, format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.cmds[cmd]
	if !ok || !st.recording {
		d.violatef("command recorded into buffer %d that is not recording", cmd)
		return
	}
	st.commands = append(st.commands, fmt.Sprintf(format, args...))
}

func (d *Device) CmdCopyBuffer(cmd gpu.CommandBuffer, src, dst gpu.Buffer, size uint64) {
	d.record(cmd, "copy-buffer %d->%d %d", src, dst, size)
}

func (d *Device) CmdCopyBufferToImage(cmd gpu.CommandBuffer, src gpu.Buffer, dst gpu.Image, extent gpu.Extent3D) {
	d.record(cmd, "copy-buffer-to-image %d->%d %dx%d", src, dst, extent.Width, extent.Height)
}

func (d *Device) CmdTransitionImage(cmd gpu.CommandBuffer, img gpu.Image, from, to gpu.ImageLayout) {
	d.record(cmd, "transition %d %d->%d", img, from, to)
}

func (d *Device) CmdBlitImage(cmd gpu.CommandBuffer, src, dst gpu.Image, srcExtent, dstExtent gpu.Extent2D) {
	d.record(cmd, "blit %d->%d", src, dst)
}
