package recorder

import "context"

// Device abstracts the platform audio input so sessions can be driven by a
// fake in tests.
type Device interface {
	// RequestPermission confirms the microphone may be used, prompting the
	// platform if needed. Returns ErrPermissionDenied (possibly wrapped)
	// when access is refused.
	RequestPermission(ctx context.Context) error

	// Open starts capturing and delivers sample chunks to sink until the
	// returned stream is stopped. Sink is called from the capture goroutine.
	Open(ctx context.Context, sink func(samples []int16)) (CaptureStream, error)
}

// CaptureStream is a live audio capture.
type CaptureStream interface {
	// Stop finalizes the capture. After Stop returns no further sink calls
	// are made.
	Stop() error

	// Close releases the underlying device resources.
	Close() error
}
