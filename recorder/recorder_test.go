package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlachat/parla/audio"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStream struct {
	stopErr error
	mu      sync.Mutex
	stopped bool
	closed  bool
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return s.stopErr
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeDevice struct {
	permissionErr error
	openErr       error
	stream        *fakeStream

	mu   sync.Mutex
	sink func([]int16)
}

func (d *fakeDevice) RequestPermission(ctx context.Context) error {
	return d.permissionErr
}

func (d *fakeDevice) Open(ctx context.Context, sink func([]int16)) (CaptureStream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	if d.stream == nil {
		d.stream = &fakeStream{}
	}
	return d.stream, nil
}

func (d *fakeDevice) push(samples []int16) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink(samples)
	}
}

func newTestRecorder(t *testing.T, device Device, clock *fakeClock) *Recorder {
	t.Helper()
	r, err := New(device, Config{
		Dir:   t.TempDir(),
		Clock: clock.Now,
	})
	require.NoError(t, err)
	return r
}

func TestStartWhileActiveFails(t *testing.T) {
	r := newTestRecorder(t, &fakeDevice{}, newFakeClock())
	defer r.Close()

	require.NoError(t, r.Start(context.Background()))
	require.ErrorIs(t, r.Start(context.Background()), ErrSessionActive)
	assert.Equal(t, StateRecording, r.State())
}

func TestPermissionDeniedLeavesIdle(t *testing.T) {
	device := &fakeDevice{permissionErr: ErrPermissionDenied}
	r := newTestRecorder(t, device, newFakeClock())

	err := r.Start(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, r.State())

	// Denial is not sticky; a later grant works.
	device.permissionErr = nil
	require.NoError(t, r.Start(context.Background()))
}

func TestStopWithoutStartFails(t *testing.T) {
	r := newTestRecorder(t, &fakeDevice{}, newFakeClock())

	_, err := r.Stop(context.Background())
	require.ErrorIs(t, err, ErrNotRecording)
}

func TestRecordStopProducesHandle(t *testing.T) {
	clock := newFakeClock()
	device := &fakeDevice{}
	r := newTestRecorder(t, device, clock)

	require.NoError(t, r.Start(context.Background()))

	samples := make([]int16, audio.SampleRate) // one second of audio
	device.push(samples)

	clock.Advance(3 * time.Second)
	assert.Equal(t, 3, r.Elapsed())

	handle, err := r.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, 3*time.Second, handle.Duration)
	assert.NotEqual(t, [16]byte{}, [16]byte(handle.ID))

	info, err := os.Stat(handle.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(44+len(samples)*2), info.Size())

	duration, err := audio.Duration(handle.Path)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, duration.Seconds(), 0.01)
}

func TestElapsedIsMonotonic(t *testing.T) {
	clock := newFakeClock()
	r := newTestRecorder(t, &fakeDevice{}, clock)
	defer r.Close()

	require.NoError(t, r.Start(context.Background()))

	clock.Advance(time.Second)
	first := r.Elapsed()
	clock.Advance(time.Second)
	second := r.Elapsed()

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.GreaterOrEqual(t, second, first)
}

func TestTickerReportsElapsed(t *testing.T) {
	clock := newFakeClock()
	ticks := make(chan int, 16)

	device := &fakeDevice{}
	r, err := New(device, Config{
		Dir:   t.TempDir(),
		Tick:  5 * time.Millisecond,
		Clock: clock.Now,
		OnTick: func(seconds int) {
			select {
			case ticks <- seconds:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Start(context.Background()))
	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		select {
		case s := <-ticks:
			return s == 2
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	// Ticking stops once the session ends.
	_, err = r.Stop(context.Background())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	drained := len(ticks)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, drained, len(ticks))
}

func TestCancelDiscardsCapture(t *testing.T) {
	device := &fakeDevice{}
	r := newTestRecorder(t, device, newFakeClock())

	require.NoError(t, r.Start(context.Background()))
	device.push(make([]int16, 512))

	r.Cancel()
	assert.Equal(t, StateIdle, r.State())

	// No capture file survives a cancel.
	entries, err := filepath.Glob(filepath.Join(r.config.Dir, "*.wav"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Cancel is idempotent.
	r.Cancel()
	r.Cancel()
	assert.Equal(t, StateIdle, r.State())
}

type blockingStream struct {
	stopStarted chan struct{}
	release     chan struct{}

	mu         sync.Mutex
	stopCalls  int
	closeCalls int
}

func (s *blockingStream) Stop() error {
	s.mu.Lock()
	s.stopCalls++
	first := s.stopCalls == 1
	s.mu.Unlock()

	if first {
		close(s.stopStarted)
		<-s.release
	}
	return nil
}

func (s *blockingStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

type streamDevice struct {
	stream CaptureStream
}

func (d *streamDevice) RequestPermission(ctx context.Context) error { return nil }

func (d *streamDevice) Open(ctx context.Context, sink func([]int16)) (CaptureStream, error) {
	return d.stream, nil
}

func TestCancelDuringStopReleasesResourcesOnce(t *testing.T) {
	stream := &blockingStream{
		stopStarted: make(chan struct{}),
		release:     make(chan struct{}),
	}
	r := newTestRecorder(t, &streamDevice{stream: stream}, newFakeClock())

	require.NoError(t, r.Start(context.Background()))

	var handle Handle
	var stopErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		handle, stopErr = r.Stop(context.Background())
	}()

	// Cancel while Stop is suspended inside the device stop call. Stop owns
	// the stream and file by now, so Cancel must not touch either.
	<-stream.stopStarted
	r.Cancel()
	close(stream.release)
	<-done

	require.NoError(t, stopErr)
	assert.Equal(t, StateIdle, r.State())

	stream.mu.Lock()
	assert.Equal(t, 1, stream.stopCalls)
	assert.Equal(t, 1, stream.closeCalls)
	stream.mu.Unlock()

	// The finished capture survives the racing cancel.
	_, err := os.Stat(handle.Path)
	require.NoError(t, err)
}

func TestCaptureErrorOnStopIsTerminal(t *testing.T) {
	device := &fakeDevice{stream: &fakeStream{stopErr: errors.New("device gone")}}
	r := newTestRecorder(t, device, newFakeClock())

	require.NoError(t, r.Start(context.Background()))

	handle, err := r.Stop(context.Background())
	require.Error(t, err)

	var captureErr *CaptureError
	require.ErrorAs(t, err, &captureErr)

	// No handle comes back and the recorder is usable again.
	assert.Empty(t, handle.Path)
	assert.Equal(t, StateIdle, r.State())

	device.stream = &fakeStream{}
	require.NoError(t, r.Start(context.Background()))
}

func TestReleaseRemovesCaptureFile(t *testing.T) {
	device := &fakeDevice{}
	r := newTestRecorder(t, device, newFakeClock())

	require.NoError(t, r.Start(context.Background()))
	handle, err := r.Stop(context.Background())
	require.NoError(t, err)

	r.Release(handle)
	_, err = os.Stat(handle.Path)
	assert.True(t, os.IsNotExist(err))
}
