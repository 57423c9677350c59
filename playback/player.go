package playback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/youpy/go-wav"
)

const framesPerBuffer = 1024

// Player plays WAV files through the default output device. Playback is
// exclusive: starting a new file stops the one in progress.
type Player struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	playing bool
}

// New creates a player.
func New() *Player {
	return &Player{}
}

// Play blocks until the file finishes, Stop is called, or ctx is cancelled.
// Any playback already in progress is stopped first.
func (p *Player) Play(ctx context.Context, filename string) error {
	p.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.cancel = cancel
	p.playing = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.playing = false
		p.cancel = nil
		p.mu.Unlock()
	}()

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	reader := wav.NewReader(file)

	format, err := reader.Format()
	if err != nil {
		return fmt.Errorf("failed to read WAV format: %w", err)
	}

	done := make(chan struct{})
	var closeDone sync.Once

	stream, err := portaudio.OpenDefaultStream(
		0,
		int(format.NumChannels),
		float64(format.SampleRate),
		framesPerBuffer,
		func(out []int16) {
			samples, err := reader.ReadSamples(uint32(len(out)))
			if err == io.EOF {
				for i := range out {
					out[i] = 0
				}
				closeDone.Do(func() { close(done) })
				return
			}
			if err != nil {
				slog.Error("Error reading from WAV file", "error", err)
				closeDone.Do(func() { close(done) })
				return
			}

			for i := 0; i < len(samples) && i < len(out); i++ {
				out[i] = int16(samples[i].Values[0])
			}
			// Fill remaining buffer with silence if needed
			for i := len(samples); i < len(out); i++ {
				out[i] = 0
			}
		},
	)
	if err != nil {
		return fmt.Errorf("failed to open audio stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
	}

	return stream.Stop()
}

// Stop halts any playback in progress.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing && p.cancel != nil {
		p.cancel()
	}
}

// Playing reports whether a file is currently being played.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
