package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parlachat/parla/audio"
)

// State models the recording session lifecycle.
type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StateRecording            State = "recording"
	StateStopping             State = "stopping"
)

var (
	// ErrPermissionDenied means microphone access was refused. The user can
	// retry after granting access; nothing is retried automatically.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrSessionActive means Start was called while a session is already
	// live. At most one session exists per recorder.
	ErrSessionActive = errors.New("recording session already active")

	// ErrNotRecording means Stop was called without an active session.
	ErrNotRecording = errors.New("no active recording session")
)

// CaptureError is a device-level recording failure. It is terminal for the
// session; the caller must start a new one.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("audio capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Handle is an opaque reference to a finished capture on local disk.
type Handle struct {
	ID       uuid.UUID
	Path     string
	Duration time.Duration
}

// Open implements the audio source contract used by the dispatcher.
func (h Handle) Open() (io.ReadCloser, error) {
	return os.Open(h.Path)
}

// Name returns the filename to present when uploading the capture.
func (h Handle) Name() string {
	return filepath.Base(h.Path)
}

// Config contains recorder configuration.
type Config struct {
	// Directory capture files are written into.
	Dir string

	// Elapsed-time tick period. Must be one second or less; defaults to one
	// second.
	Tick time.Duration

	// OnTick, when set, receives the elapsed whole seconds on every tick
	// while recording.
	OnTick func(seconds int)

	// Clock override for tests.
	Clock func() time.Time
}

// Recorder owns at most one audio capture session at a time.
type Recorder struct {
	config Config
	device Device

	mu        sync.Mutex
	state     State
	startedAt time.Time
	elapsed   int64 // whole seconds, monotonic while recording
	handleID  uuid.UUID
	file      *os.File
	dataSize  uint32
	stream    CaptureStream
	stopTick  chan struct{}
}

// New creates a recorder backed by the given device.
func New(device Device, config Config) (*Recorder, error) {
	if device == nil {
		return nil, fmt.Errorf("device cannot be nil")
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("recordings directory cannot be empty")
	}
	if config.Tick <= 0 {
		config.Tick = time.Second
	}
	if config.Tick > time.Second {
		return nil, fmt.Errorf("tick period must be at most one second, got %v", config.Tick)
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create recordings directory: %w", err)
	}

	return &Recorder{
		config: config,
		device: device,
		state:  StateIdle,
	}, nil
}

// State returns the current session state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns the whole seconds recorded so far. Monotonic
// non-decreasing while the session is live.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording {
		r.bumpElapsedLocked()
	}
	return int(r.elapsed)
}

// Start begins a new capture session. Fails with ErrSessionActive if one is
// already live and ErrPermissionDenied if microphone access is refused; in
// both cases the previous state is preserved.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return ErrSessionActive
	}
	r.state = StateRequestingPermission
	r.mu.Unlock()

	if err := r.device.RequestPermission(ctx); err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	handleID := uuid.New()
	path := filepath.Join(r.config.Dir, fmt.Sprintf("capture_%s.wav", handleID))
	file, err := os.Create(path)
	if err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	if err := audio.WriteWavHeader(file, 0); err != nil {
		file.Close()
		os.Remove(path)
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	stream, err := r.device.Open(ctx, r.appendSamples)
	if err != nil {
		file.Close()
		os.Remove(path)
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		return &CaptureError{Err: err}
	}

	r.mu.Lock()
	r.state = StateRecording
	r.startedAt = r.config.Clock()
	r.elapsed = 0
	r.handleID = handleID
	r.file = file
	r.dataSize = 0
	r.stream = stream
	r.stopTick = make(chan struct{})
	go r.tickLoop(r.stopTick)
	r.mu.Unlock()

	slog.Debug("Recording started", "handleID", handleID, "path", path)
	return nil
}

// Stop finalizes the capture and returns its handle. A device failure while
// finalizing returns a CaptureError and no handle; either way the recorder
// is Idle afterwards.
func (r *Recorder) Stop(ctx context.Context) (Handle, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return Handle{}, ErrNotRecording
	}
	r.state = StateStopping
	r.bumpElapsedLocked()
	close(r.stopTick)
	r.stopTick = nil
	// Take ownership of the stream and file so a concurrent Cancel cannot
	// release them a second time.
	stream := r.stream
	file := r.file
	r.stream = nil
	r.file = nil
	dataSize := r.dataSize
	handleID := r.handleID
	duration := r.config.Clock().Sub(r.startedAt)
	r.mu.Unlock()

	stopErr := stream.Stop()
	if err := stream.Close(); err != nil {
		slog.Error("Failed to release capture stream", "error", err, "handleID", handleID)
	}

	if stopErr != nil {
		// Terminal for this session: drop the partial file and reset.
		path := file.Name()
		file.Close()
		os.Remove(path)
		r.reset()
		return Handle{}, &CaptureError{Err: stopErr}
	}

	if err := audio.UpdateWavHeader(file, dataSize); err != nil {
		path := file.Name()
		file.Close()
		os.Remove(path)
		r.reset()
		return Handle{}, fmt.Errorf("failed to finalize WAV header: %w", err)
	}

	path := file.Name()
	if err := file.Close(); err != nil {
		os.Remove(path)
		r.reset()
		return Handle{}, fmt.Errorf("failed to close capture file: %w", err)
	}

	r.reset()

	handle := Handle{ID: handleID, Path: path, Duration: duration}
	slog.Info("Recording stopped",
		"handleID", handleID,
		"durationSeconds", duration.Seconds(),
		"bytes", dataSize)
	return handle, nil
}

// Cancel discards any in-progress capture without producing a handle. Always
// succeeds and is safe to call repeatedly.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	if r.state != StateRecording && r.state != StateStopping {
		r.state = StateIdle
		r.mu.Unlock()
		return
	}
	if r.stopTick != nil {
		close(r.stopTick)
		r.stopTick = nil
	}
	// Take ownership; nil fields mean a concurrent Stop already holds them.
	stream := r.stream
	file := r.file
	r.stream = nil
	r.file = nil
	handleID := r.handleID
	r.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			slog.Error("Failed to stop capture stream on cancel", "error", err, "handleID", handleID)
		}
		if err := stream.Close(); err != nil {
			slog.Error("Failed to release capture stream on cancel", "error", err, "handleID", handleID)
		}
	}
	if file != nil {
		path := file.Name()
		file.Close()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Error("Failed to remove cancelled capture file", "error", err, "path", path)
		}
	}

	r.reset()
	slog.Debug("Recording cancelled", "handleID", handleID)
}

// Close tears the recorder down, discarding any live session. Cleanup
// failures are logged, not returned.
func (r *Recorder) Close() {
	r.Cancel()
}

// Release deletes the capture file behind a handle once its owner is done
// with it.
func (r *Recorder) Release(handle Handle) {
	if err := os.Remove(handle.Path); err != nil && !os.IsNotExist(err) {
		slog.Error("Failed to remove released capture file", "error", err, "path", handle.Path)
	}
}

func (r *Recorder) reset() {
	r.mu.Lock()
	r.state = StateIdle
	r.file = nil
	r.stream = nil
	r.stopTick = nil
	r.dataSize = 0
	r.mu.Unlock()
}

// appendSamples is called from the device capture goroutine.
func (r *Recorder) appendSamples(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording || r.file == nil {
		return
	}

	bytes := make([]byte, len(samples)*2)
	for i, sample := range samples {
		bytes[i*2] = byte(sample)
		bytes[i*2+1] = byte(sample >> 8)
	}
	if _, err := r.file.Write(bytes); err != nil {
		slog.Error("Failed to write capture data", "error", err, "handleID", r.handleID)
		return
	}
	r.dataSize += uint32(len(bytes))
}

func (r *Recorder) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.config.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.state != StateRecording {
				r.mu.Unlock()
				return
			}
			r.bumpElapsedLocked()
			elapsed := int(r.elapsed)
			onTick := r.config.OnTick
			r.mu.Unlock()

			if onTick != nil {
				onTick(elapsed)
			}
		}
	}
}

func (r *Recorder) bumpElapsedLocked() {
	seconds := int64(r.config.Clock().Sub(r.startedAt) / time.Second)
	if seconds > r.elapsed {
		r.elapsed = seconds
	}
}
