package dieselframe

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotInitialized is returned when frame or resource APIs are used before Init.
	ErrNotInitialized = errors.New("engine not initialized")
	// ErrAlreadyInitialized is returned by a second call to Init.
	ErrAlreadyInitialized = errors.New("engine already initialized")
	// ErrSurfaceNotReady is returned by an immediate submission before the device is set up
	// or after it has been torn down.
	ErrSurfaceNotReady = errors.New("surface not ready for immediate submit")
	// ErrNestedRecording is returned by an immediate submission issued while a frame's command
	// buffer is recording.
	ErrNestedRecording = errors.New("immediate submit inside frame recording")
	// ErrPoolLimit is returned when a descriptor allocator would need more pools than allowed.
	ErrPoolLimit = errors.New("descriptor pool limit reached")
	// ErrDescriptorExhausted is returned when allocation still fails after growing the pool.
	ErrDescriptorExhausted = errors.New("descriptor allocation failed after pool growth")
	// ErrSwapchainStale marks a frame skipped because the swapchain no longer matches the
	// surface. It never escapes Draw.
	ErrSwapchainStale = errors.New("swapchain stale")
)

// IsFatal reports whether err must end the run. Only a stale swapchain is recoverable.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrSwapchainStale)
}

// checkErr turns a panic in the deferring function into an error.
func checkErr(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = errors.WithStack(e)
			return
		}
		*err = errors.Newf("%+v", v)
	}
}
