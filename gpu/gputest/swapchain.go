package gputest

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/andewx/dieselframe/gpu"
)

// Swapchain is a scripted gpu.Swapchain. Results queued with FailAcquire and FailPresent are
// returned by the matching call, in order, before it falls back to success.
type Swapchain struct {
	mu          sync.Mutex
	images      []gpu.Image
	extent      gpu.Extent2D
	format      gpu.Format
	next        uint32
	acquireErrs map[int]error
	presentErrs map[int]error
	acquires    int
	presents    int
	recreations int
	destroyed   bool
	presented   []uint32
}

var _ gpu.Swapchain = (*Swapchain)(nil)

// NewSwapchain returns a swapchain of count images. Image handles start at a high offset so
// they never collide with device handles.
func NewSwapchain(count int, extent gpu.Extent2D) *Swapchain {
	s := &Swapchain{
		extent:      extent,
		format:      gpu.FormatB8G8R8A8Unorm,
		acquireErrs: make(map[int]error),
		presentErrs: make(map[int]error),
	}
	for i := 0; i < count; i++ {
		s.images = append(s.images, gpu.Image(1<<32+uint64(i)))
	}
	return s
}

// FailAcquire makes the n-th acquire call (1-based) return err.
func (s *Swapchain) FailAcquire(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquireErrs[n] = err
}

// FailPresent makes the n-th present call (1-based) return err.
func (s *Swapchain) FailPresent(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presentErrs[n] = err
}

func (s *Swapchain) AcquireNextImage(timeout time.Duration, signal gpu.Semaphore) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return 0, errors.New("acquire on destroyed swapchain")
	}
	s.acquires++
	if err, ok := s.acquireErrs[s.acquires]; ok {
		return 0, err
	}
	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	return idx, nil
}

func (s *Swapchain) Present(index uint32, wait gpu.Semaphore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presents++
	if err, ok := s.presentErrs[s.presents]; ok {
		return err
	}
	s.presented = append(s.presented, index)
	return nil
}

func (s *Swapchain) Image(index uint32) gpu.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[index]
}

func (s *Swapchain) ImageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *Swapchain) Format() gpu.Format { return s.format }

func (s *Swapchain) Extent() gpu.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *Swapchain) Recreate(extent gpu.Extent2D) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extent = extent
	s.next = 0
	s.recreations++
	return nil
}

func (s *Swapchain) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

// Recreations returns how many times Recreate was called.
func (s *Swapchain) Recreations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recreations
}

// Presented returns the image indices presented successfully, in order.
func (s *Swapchain) Presented() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.presented...)
}

// Destroyed reports whether Destroy was called.
func (s *Swapchain) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

// Surface is a gpu.Surface whose size and close state tests set directly.
type Surface struct {
	mu         sync.Mutex
	extent     gpu.Extent2D
	resize     bool
	closeAfter int
	polls      int
}

var _ gpu.Surface = (*Surface)(nil)

// NewSurface returns a surface that reports ShouldClose after closeAfter polls; zero never closes.
func NewSurface(extent gpu.Extent2D, closeAfter int) *Surface {
	return &Surface{extent: extent, closeAfter: closeAfter}
}

// Resize changes the extent and flags a pending resize.
func (s *Surface) Resize(extent gpu.Extent2D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extent = extent
	s.resize = true
}

func (s *Surface) Extent() gpu.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *Surface) ResizePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.resize
	s.resize = false
	return r
}

func (s *Surface) ShouldClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeAfter > 0 && s.polls >= s.closeAfter
}

func (s *Surface) PollEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
}
