// Package assembler joins independently synthesized WAV clips into a single
// continuous audio stream.
package assembler

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/observability"
)

// DefaultBlockSize is the transfer unit for assembled audio
const DefaultBlockSize = 1024

// ErrDecode wraps failures to decode a clip. The clip is skipped and the
// stream stays usable.
var ErrDecode = errors.New("failed to decode clip")

// Stats counts what has passed through an assembler since Open
type Stats struct {
	Clips        int
	Skipped      int
	PayloadBytes int64
}

// Assembler emits one header followed by the PCM payload of every appended
// clip, cut into fixed-size blocks. It is not safe for concurrent use.
type Assembler struct {
	blockSize  int
	sizeMode   audio.SizeMode
	withHeader bool

	format     audio.Format
	headerSent bool
	pending    []byte
	stats      Stats
	logger     zerolog.Logger
}

// Option configures an Assembler
type Option func(*Assembler)

// WithBlockSize sets the output block size in bytes
func WithBlockSize(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.blockSize = n
		}
	}
}

// WithSizeMode selects the size sentinel written into the stream header
func WithSizeMode(m audio.SizeMode) Option {
	return func(a *Assembler) { a.sizeMode = m }
}

// WithoutHeader produces raw PCM blocks for consumers that play audio
// directly rather than parse a container.
func WithoutHeader() Option {
	return func(a *Assembler) { a.withHeader = false }
}

// New creates an assembler
func New(opts ...Option) *Assembler {
	a := &Assembler{
		blockSize:  DefaultBlockSize,
		withHeader: true,
		logger:     observability.WithComponent("assembler"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open starts a new stream in the given format. Clips in other formats are
// converted to it.
func (a *Assembler) Open(expected audio.Format) {
	a.format = expected
	a.headerSent = false
	a.pending = a.pending[:0]
	a.stats = Stats{}
}

// Format returns the stream format set by Open
func (a *Assembler) Format() audio.Format {
	return a.format
}

// Append decodes a clip and returns the blocks that are now complete. The
// first successful append is preceded by the stream header.
func (a *Assembler) Append(clip []byte) ([][]byte, error) {
	f, pcm, err := audio.DecodeWAV(clip)
	if err == nil && f != a.format {
		pcm, err = audio.ConvertFormat(pcm, f, a.format)
	}
	if err != nil {
		a.stats.Skipped++
		a.logger.Warn().Err(err).Int("clip_bytes", len(clip)).Msg("Skipping undecodable clip")
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	a.stats.Clips++
	a.stats.PayloadBytes += int64(len(pcm))

	var blocks [][]byte
	if h := a.header(); h != nil {
		blocks = append(blocks, h)
	}

	a.pending = append(a.pending, pcm...)
	for len(a.pending) >= a.blockSize {
		block := make([]byte, a.blockSize)
		copy(block, a.pending)
		blocks = append(blocks, block)
		a.pending = a.pending[a.blockSize:]
	}
	// Compact so the backing array does not grow without bound
	a.pending = append([]byte(nil), a.pending...)

	return blocks, nil
}

// Close returns the header if it was never sent and the final partial block
func (a *Assembler) Close() [][]byte {
	var blocks [][]byte
	if h := a.header(); h != nil {
		blocks = append(blocks, h)
	}
	if len(a.pending) > 0 {
		blocks = append(blocks, a.pending)
		a.pending = nil
	}

	a.logger.Debug().
		Int("clips", a.stats.Clips).
		Int("skipped", a.stats.Skipped).
		Int64("payload_bytes", a.stats.PayloadBytes).
		Msg("Stream closed")
	return blocks
}

// Stats returns counters for the current stream
func (a *Assembler) Stats() Stats {
	return a.stats
}

func (a *Assembler) header() []byte {
	if !a.withHeader || a.headerSent {
		return nil
	}
	a.headerSent = true
	return audio.StreamHeader(a.format, a.sizeMode)
}
