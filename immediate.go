package dieselframe

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/andewx/dieselframe/gpu"
)

// recordingGuard is set by the frame loop while a frame's command buffer is recording.
type recordingGuard struct {
	frame atomic.Bool
}

// ImmediateSubmitter runs one-shot GPU work outside the frame ring and blocks until it is done.
// It owns a dedicated fence, command pool and command buffer. Calls are serialized by a mutex;
// calls from inside frame recording are rejected.
type ImmediateSubmitter struct {
	device  gpu.Device
	guard   *recordingGuard
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	fence  gpu.Fence
	pool   gpu.CommandPool
	cmd    gpu.CommandBuffer
	broken error
	count  int
}

func newImmediateSubmitter(device gpu.Device, guard *recordingGuard, timeout time.Duration, log *slog.Logger) (s *ImmediateSubmitter, err error) {
	s = &ImmediateSubmitter{
		device:  device,
		guard:   guard,
		timeout: timeout,
		log:     orDiscard(log).With(slog.String("component", "immediate")),
	}
	defer func() {
		if err != nil {
			s.Destroy()
		}
	}()
	if s.fence, err = device.CreateFence(false); err != nil {
		return s, errors.Wrap(err, "immediate fence")
	}
	if s.pool, err = device.CreateCommandPool(); err != nil {
		return s, errors.Wrap(err, "immediate command pool")
	}
	if s.cmd, err = device.AllocateCommandBuffer(s.pool); err != nil {
		return s, errors.Wrap(err, "immediate command buffer")
	}
	return s, nil
}

// Submissions returns the number of completed submissions.
func (s *ImmediateSubmitter) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Submit begins recording, hands the command buffer to record, submits it and waits for the
// GPU to finish. A record callback that emits nothing still submits and completes.
//
// A failed fence wait leaves the GPU in an unknown state; the submitter refuses further work.
func (s *ImmediateSubmitter) Submit(record func(cmd gpu.CommandBuffer) error) error {
	if s == nil {
		return ErrSurfaceNotReady
	}
	if s.guard != nil && s.guard.frame.Load() {
		return ErrNestedRecording
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == 0 {
		return ErrSurfaceNotReady
	}
	if s.broken != nil {
		return errors.Wrap(s.broken, "immediate submitter unusable")
	}

	if err := s.device.BeginCommandBuffer(s.cmd); err != nil {
		return errors.Wrap(err, "begin immediate commands")
	}
	if record != nil {
		if err := record(s.cmd); err != nil {
			s.abandon()
			return errors.Wrap(err, "record immediate commands")
		}
	}
	if err := s.device.EndCommandBuffer(s.cmd); err != nil {
		return errors.Wrap(err, "end immediate commands")
	}
	if err := s.device.Submit(gpu.SubmitInfo{CommandBuffer: s.cmd}, s.fence); err != nil {
		s.broken = err
		return errors.Wrap(err, "submit immediate commands")
	}
	if err := s.device.WaitForFence(s.fence, s.timeout); err != nil {
		s.broken = err
		s.log.Error("immediate submit did not complete", slog.Any("error", err))
		return errors.Wrap(err, "wait immediate fence")
	}
	if err := s.device.ResetFence(s.fence); err != nil {
		s.broken = err
		return errors.Wrap(err, "reset immediate fence")
	}
	if err := s.device.ResetCommandPool(s.pool); err != nil {
		s.broken = err
		return errors.Wrap(err, "reset immediate command pool")
	}
	s.count++
	return nil
}

// abandon ends and discards a partial recording. If the driver refuses either step the
// command buffer state is unknown and the submitter refuses further work.
func (s *ImmediateSubmitter) abandon() {
	if err := s.device.EndCommandBuffer(s.cmd); err != nil {
		s.broken = errors.Wrap(err, "end abandoned immediate commands")
	}
	if err := s.device.ResetCommandPool(s.pool); err != nil && s.broken == nil {
		s.broken = errors.Wrap(err, "reset abandoned immediate commands")
	}
	if s.broken != nil {
		s.log.Error("immediate submitter unusable", slog.Any("error", s.broken))
	}
}

// Destroy releases the fence and command pool. Later submissions return ErrSurfaceNotReady.
func (s *ImmediateSubmitter) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != 0 {
		s.device.DestroyCommandPool(s.pool)
		s.pool = 0
		s.cmd = 0
	}
	if s.fence != 0 {
		s.device.DestroyFence(s.fence)
		s.fence = 0
	}
}
