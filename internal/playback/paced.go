package playback

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mezbaul-h/june/internal/audio"
)

// PacedWriter is an output device over a network writer. Audio is released
// no faster than real time, with at most lead of audio sent ahead, and the
// device reports busy until the sent audio has had time to play.
type PacedWriter struct {
	ctx      context.Context
	w        io.Writer
	limiter *rate.Limiter
	burst   int
	clock   *audio.PlayClock

	mu     sync.Mutex
	closed bool
}

// NewPacedWriter paces writes to w at the byte rate of format. Blocked
// writes return when ctx ends.
func NewPacedWriter(ctx context.Context, w io.Writer, format audio.Format, lead time.Duration) *PacedWriter {
	byteRate := format.ByteRate()
	burst := int(float64(byteRate) * lead.Seconds())
	if align := format.BlockAlign(); align > 0 {
		burst -= burst % align
	}
	if burst < format.BlockAlign() {
		burst = max(format.BlockAlign(), 1)
	}

	return &PacedWriter{
		ctx:     ctx,
		w:       w,
		limiter: rate.NewLimiter(rate.Limit(byteRate), burst),
		burst:   burst,
		clock:   audio.NewPlayClock(format, 0),
	}
}

// Write implements audio.OutputDevice
func (p *PacedWriter) Write(pcm []byte) error {
	for len(pcm) > 0 {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return audio.ErrDeviceClosed
		}

		n := min(p.burst, len(pcm))
		if err := p.limiter.WaitN(p.ctx, n); err != nil {
			return err
		}
		if _, err := p.w.Write(pcm[:n]); err != nil {
			return err
		}
		p.clock.Advance(n)

		pcm = pcm[n:]
	}
	return nil
}

// Busy reports whether sent audio is still playing on the far end
func (p *PacedWriter) Busy() bool {
	return p.clock.Busy()
}

// Close stops further writes. The underlying writer is not closed.
func (p *PacedWriter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
