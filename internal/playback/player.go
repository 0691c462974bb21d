// Package playback plays assembled audio on an output device in arrival
// order and keeps track of temporary audio files.
package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/observability"
)

// ErrClosed is returned when enqueueing on a closed player
var ErrClosed = errors.New("player closed")

const writeSize = 4096

type item struct {
	pcm  []byte
	path string
	gen  uint64
}

// Player owns a worker goroutine that writes queued audio to a device.
type Player struct {
	device  audio.OutputDevice
	format  audio.Format
	store   *Artifacts
	poll    time.Duration
	metrics *observability.SessionMetrics
	logger  zerolog.Logger

	mu      sync.Mutex
	queue   []item
	writing bool
	gen     uint64
	closed  bool
	wake    chan struct{}
	changed chan struct{}
	done    chan struct{}
}

// Option configures a Player
type Option func(*Player)

// WithArtifacts removes played files from store
func WithArtifacts(store *Artifacts) Option {
	return func(p *Player) { p.store = store }
}

// WithPollInterval sets how often Wait re-checks a device that reports
// itself busy.
func WithPollInterval(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithMetrics counts played bytes
func WithMetrics(m *observability.SessionMetrics) Option {
	return func(p *Player) { p.metrics = m }
}

// NewPlayer starts a player for device. format describes the PCM the device
// expects; files are converted to it.
func NewPlayer(device audio.OutputDevice, format audio.Format, opts ...Option) *Player {
	p := &Player{
		device:  device,
		format:  format,
		poll:    250 * time.Millisecond,
		logger:  observability.WithComponent("playback"),
		wake:    make(chan struct{}, 1),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Enqueue schedules raw PCM for playback
func (p *Player) Enqueue(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return p.push(item{pcm: pcm})
}

// EnqueueFile schedules a WAV file for playback
func (p *Player) EnqueueFile(path string) error {
	return p.push(item{path: path})
}

func (p *Player) push(it item) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	it.gen = p.gen
	p.queue = append(p.queue, it)
	p.notifyLocked()
	select {
	case p.wake <- struct{}{}:
	default:
	}
	p.mu.Unlock()
	return nil
}

// IsBusy reports whether audio is queued, being written or still sounding
func (p *Player) IsBusy() bool {
	p.mu.Lock()
	busy := len(p.queue) > 0 || p.writing
	p.mu.Unlock()
	if busy {
		return true
	}
	if r, ok := p.device.(audio.BusyReporter); ok {
		return r.Busy()
	}
	return false
}

// Wait blocks until the player is idle or ctx ends
func (p *Player) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		changed := p.changed
		p.mu.Unlock()

		if !p.IsBusy() {
			return nil
		}

		timer := time.NewTimer(p.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Discard drops queued audio. The write in progress stops at the next
// write boundary.
func (p *Player) Discard() {
	p.mu.Lock()
	dropped := p.queue
	p.queue = nil
	p.gen++
	p.notifyLocked()
	p.mu.Unlock()

	for _, it := range dropped {
		p.release(it)
	}
	if len(dropped) > 0 {
		p.logger.Debug().Int("items", len(dropped)).Msg("Discarded queued audio")
	}
}

// Close discards queued audio and stops the worker. The device is left open
// for its owner to close.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.wake)
	p.mu.Unlock()

	p.Discard()
	<-p.done
	return nil
}

// notifyLocked wakes Wait callers. Callers hold p.mu.
func (p *Player) notifyLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Player) run() {
	defer close(p.done)

	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			if _, ok := <-p.wake; !ok {
				return
			}
			continue
		}
		it := p.queue[0]
		p.queue = p.queue[1:]
		p.writing = true
		p.mu.Unlock()

		p.play(it)

		p.mu.Lock()
		p.writing = false
		drained := len(p.queue) == 0
		p.mu.Unlock()

		if drained {
			if f, ok := p.device.(audio.Flusher); ok {
				if err := f.Flush(); err != nil {
					p.logger.Warn().Err(err).Msg("Failed to flush output device")
				}
			}
		}

		p.mu.Lock()
		p.notifyLocked()
		p.mu.Unlock()
	}
}

func (p *Player) play(it item) {
	defer p.release(it)

	pcm := it.pcm
	if it.path != "" {
		var err error
		if pcm, err = p.load(it.path); err != nil {
			p.logger.Error().Err(err).Str("path", it.path).Msg("Failed to load audio file")
			return
		}
	}

	for len(pcm) > 0 {
		p.mu.Lock()
		stale := it.gen != p.gen
		p.mu.Unlock()
		if stale {
			return
		}

		n := min(writeSize, len(pcm))
		if err := p.device.Write(pcm[:n]); err != nil {
			p.logger.Error().Err(err).Msg("Failed to write audio")
			if p.metrics != nil {
				p.metrics.RecordError("device_write", "playback")
			}
			return
		}
		if p.metrics != nil {
			p.metrics.RecordAudioBytes("out", int64(n))
		}
		pcm = pcm[n:]
	}
}

func (p *Player) load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, pcm, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	if f != p.format {
		if pcm, err = audio.ConvertFormat(pcm, f, p.format); err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", path, err)
		}
	}
	return pcm, nil
}

func (p *Player) release(it item) {
	if it.path == "" || p.store == nil {
		return
	}
	p.store.discard(it.path)
}
