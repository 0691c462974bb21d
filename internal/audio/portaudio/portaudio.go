// Package portaudio provides the local microphone and speaker devices.
package portaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/mezbaul-h/june/internal/audio"
)

var (
	initMu   sync.Mutex
	refCount int
)

func acquire() error {
	initMu.Lock()
	defer initMu.Unlock()
	if refCount == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize portaudio: %w", err)
		}
	}
	refCount++
	return nil
}

func release() {
	initMu.Lock()
	defer initMu.Unlock()
	refCount--
	if refCount == 0 {
		portaudio.Terminate()
	}
}

// Input reads mono 16-bit frames from the default input device
type Input struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	running bool
	closed  bool
}

// OpenInput opens the default microphone. The stream starts stopped; the
// first ReadFrame or Resume starts it.
func OpenInput(sampleRate, frameSize int) (*Input, error) {
	if err := acquire(); err != nil {
		return nil, err
	}

	buf := make([]int16, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), frameSize, buf)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	return &Input{stream: stream, buf: buf}, nil
}

// ReadFrame implements audio.InputDevice
func (in *Input) ReadFrame(frame []int16) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return audio.ErrDeviceClosed
	}
	if !in.running {
		if err := in.stream.Start(); err != nil {
			return fmt.Errorf("failed to start input stream: %w", err)
		}
		in.running = true
	}

	for filled := 0; filled < len(frame); {
		// An overflow only means samples were lost while nobody was reading
		if err := in.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return fmt.Errorf("failed to read input stream: %w", err)
		}
		filled += copy(frame[filled:], in.buf)
	}
	return nil
}

// Pause stops the stream so no audio is buffered while gated
func (in *Input) Pause() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.running || in.closed {
		return nil
	}
	in.running = false
	return in.stream.Stop()
}

// Resume restarts a paused stream
func (in *Input) Resume() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.running || in.closed {
		return nil
	}
	if err := in.stream.Start(); err != nil {
		return err
	}
	in.running = true
	return nil
}

// Close stops and releases the device
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return nil
	}
	in.closed = true
	if in.running {
		in.stream.Stop()
	}
	err := in.stream.Close()
	release()
	return err
}

// Output writes mono 16-bit PCM to the default output device. Write returns
// once the device has buffered the audio, so Busy keeps reporting true until
// the written audio has played.
type Output struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	pending []int16
	clock   *audio.PlayClock
	closed  bool
}

// OpenOutput opens and starts the default speaker
func OpenOutput(sampleRate, framesPerBuffer int) (*Output, error) {
	if err := acquire(); err != nil {
		return nil, err
	}

	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	var latency time.Duration
	if info := stream.Info(); info != nil {
		latency = info.OutputLatency
	}
	return &Output{
		stream: stream,
		buf:    buf,
		clock:  audio.NewPlayClock(audio.DefaultFormat(sampleRate), latency),
	}, nil
}

// Write implements audio.OutputDevice. Whole device buffers are written
// immediately; a partial buffer waits for more audio or Flush.
func (o *Output) Write(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return audio.ErrDeviceClosed
	}

	o.pending = append(o.pending, audio.BytesToSamples(pcm)...)
	for len(o.pending) >= len(o.buf) {
		copy(o.buf, o.pending)
		o.pending = o.pending[len(o.buf):]
		if err := o.writeBuffer(); err != nil {
			return err
		}
	}
	return nil
}

// Flush pads the pending partial buffer with silence and plays it
func (o *Output) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || len(o.pending) == 0 {
		return nil
	}
	n := copy(o.buf, o.pending)
	clear(o.buf[n:])
	o.pending = o.pending[:0]
	return o.writeBuffer()
}

func (o *Output) writeBuffer() error {
	if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return fmt.Errorf("failed to write output stream: %w", err)
	}
	o.clock.Advance(len(o.buf) * 2)
	return nil
}

// Busy implements audio.BusyReporter
func (o *Output) Busy() bool {
	return o.clock.Busy()
}

// Close stops and releases the device
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.stream.Stop()
	err := o.stream.Close()
	release()
	return err
}
