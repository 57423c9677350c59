package recorder

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/parlachat/parla/audio"
)

const framesPerBuffer = 1024

// PortAudioDevice captures from the system microphone through PortAudio.
// DeviceID selects a specific input device; zero uses the default input.
type PortAudioDevice struct {
	DeviceID int

	initOnce sync.Once
	initErr  error
}

// NewPortAudioDevice returns a device bound to the given input device ID.
func NewPortAudioDevice(deviceID int) *PortAudioDevice {
	return &PortAudioDevice{DeviceID: deviceID}
}

func (d *PortAudioDevice) initialize() error {
	d.initOnce.Do(func() {
		d.initErr = portaudio.Initialize()
	})
	return d.initErr
}

// RequestPermission verifies an input device is available. On desktop
// platforms PortAudio surfaces OS-level microphone denial as a missing or
// unopenable input device.
func (d *PortAudioDevice) RequestPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.initialize(); err != nil {
		return fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrPermissionDenied, err)
	}

	if _, err := d.inputParams(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return nil
}

// Open starts a capture stream delivering mono int16 chunks to sink.
func (d *PortAudioDevice) Open(ctx context.Context, sink func(samples []int16)) (CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	params, err := d.inputParams()
	if err != nil {
		return nil, err
	}

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		sink(in)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	return &portAudioStream{stream: stream}, nil
}

func (d *PortAudioDevice) inputParams() (portaudio.StreamParameters, error) {
	var device *portaudio.DeviceInfo
	if d.DeviceID > 0 {
		devices, err := portaudio.Devices()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get audio devices: %w", err)
		}
		if d.DeviceID >= len(devices) {
			return portaudio.StreamParameters{}, fmt.Errorf("invalid device ID %d", d.DeviceID)
		}
		device = devices[d.DeviceID]
		if device.MaxInputChannels == 0 {
			return portaudio.StreamParameters{}, fmt.Errorf("device %q is not an input device", device.Name)
		}
	} else {
		defaultDevice, err := portaudio.DefaultInputDevice()
		if err != nil {
			return portaudio.StreamParameters{}, fmt.Errorf("failed to get default input device: %w", err)
		}
		device = defaultDevice
	}

	return portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: audio.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      audio.SampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
}

func (s *portAudioStream) Stop() error {
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	return s.stream.Close()
}

// ListDevices returns the available audio input devices.
func ListDevices() ([]portaudio.DeviceInfo, error) {
	err := portaudio.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	// Filter to only input devices
	inputDevices := make([]portaudio.DeviceInfo, 0)
	for _, device := range devices {
		if device.MaxInputChannels > 0 {
			inputDevices = append(inputDevices, *device)
		}
	}

	return inputDevices, nil
}
