// Package capture records one utterance at a time from an input device,
// starting on the first loud frame and stopping after sustained silence.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/turn"
)

// Utterance is one span of captured speech
type Utterance struct {
	Samples    []float32 // normalized to [-1, 1]
	SampleRate int
	Frames     int
}

// Duration returns the length of the utterance
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// BusySignal reports whether output audio is still sounding
type BusySignal interface {
	IsBusy() bool
}

// Config controls voice activity detection
type Config struct {
	SampleRate   int
	FrameSize    int
	Threshold    int           // peak amplitude below which a frame is silent
	SilenceLimit time.Duration // sustained silence that ends a recording
	PollInterval time.Duration // how often a busy output is re-checked
	Classifier   audio.Classifier
}

// DefaultConfig returns 24 kHz capture in 2048-sample frames that stops after
// two seconds below amplitude 1000.
func DefaultConfig() Config {
	return Config{
		SampleRate:   24000,
		FrameSize:    2048,
		Threshold:    1000,
		SilenceLimit: 2 * time.Second,
		PollInterval: 250 * time.Millisecond,
	}
}

type state int

const (
	stateIdle state = iota
	stateRecording
	stateStopped
)

// Recorder runs the Idle -> Recording -> Stopped state machine over an
// input device. It is not safe for concurrent Record calls.
type Recorder struct {
	device     audio.InputDevice
	coord      *turn.Coordinator
	output     BusySignal
	cfg        Config
	classifier audio.Classifier
	limit      float64
	paused     bool
	logger     zerolog.Logger
}

// NewRecorder creates a recorder gated by coord and, if non-nil, output
func NewRecorder(device audio.InputDevice, coord *turn.Coordinator, output BusySignal, cfg Config) *Recorder {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = audio.PeakClassifier{Threshold: cfg.Threshold}
	}
	return &Recorder{
		device:     device,
		coord:      coord,
		output:     output,
		cfg:        cfg,
		classifier: classifier,
		limit:      audio.SilenceFrameLimit(cfg.SilenceLimit.Seconds(), cfg.SampleRate, cfg.FrameSize),
		logger:     observability.WithComponent("capture"),
	}
}

// Record blocks until one utterance has been captured. It returns nil, nil
// when the device closes before any sound is heard. A device that closes
// mid-recording yields the partial utterance. Other device errors are fatal.
func (r *Recorder) Record(ctx context.Context) (*Utterance, error) {
	var (
		current      = stateIdle
		frames       [][]int16
		silentFrames int
	)

	defer func() {
		if current == stateStopped {
			r.pause()
		}
	}()

	for current != stateStopped {
		if err := r.waitForTurn(ctx); err != nil {
			return nil, err
		}

		frame := make([]int16, r.cfg.FrameSize)
		if err := r.device.ReadFrame(frame); err != nil {
			if errors.Is(err, audio.ErrDeviceClosed) || errors.Is(err, io.EOF) {
				if current == stateRecording {
					return r.utterance(frames), nil
				}
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read audio frame: %w", err)
		}

		silent := r.classifier.IsSilent(frame)

		switch current {
		case stateIdle:
			if silent {
				continue
			}
			r.logger.Debug().Msg("Speech detected, recording")
			current = stateRecording
			frames = append(frames, frame)

		case stateRecording:
			frames = append(frames, frame)
			if !silent {
				silentFrames = 0
				continue
			}
			silentFrames++
			if float64(silentFrames) > r.limit {
				current = stateStopped
			}
		}
	}

	u := r.utterance(frames)
	r.logger.Debug().
		Int("frames", u.Frames).
		Dur("duration", u.Duration()).
		Msg("Recording stopped after silence")
	return u, nil
}

// waitForTurn blocks while a response is in flight or output is sounding.
// The device is paused while waiting and resumed before the next read.
func (r *Recorder) waitForTurn(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		inFlight := r.coord != nil && r.coord.State() == turn.ResponseInFlight
		busy := r.output != nil && r.output.IsBusy()
		if !inFlight && !busy {
			break
		}

		r.pause()

		if inFlight {
			if err := r.coord.WaitFor(ctx, turn.AwaitingInput); err != nil {
				return err
			}
			continue
		}

		timer := time.NewTimer(r.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if r.paused {
		r.paused = false
		if p, ok := r.device.(audio.Pausable); ok {
			if err := p.Resume(); err != nil {
				return fmt.Errorf("failed to resume input device: %w", err)
			}
		}
	}
	return nil
}

func (r *Recorder) pause() {
	if r.paused {
		return
	}
	r.paused = true
	if p, ok := r.device.(audio.Pausable); ok {
		if err := p.Pause(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to pause input device")
		}
	}
}

func (r *Recorder) utterance(frames [][]int16) *Utterance {
	samples := make([]float32, 0, len(frames)*r.cfg.FrameSize)
	for _, f := range frames {
		samples = append(samples, audio.Normalize(f)...)
	}
	return &Utterance{
		Samples:    samples,
		SampleRate: r.cfg.SampleRate,
		Frames:     len(frames),
	}
}
