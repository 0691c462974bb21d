package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/mezbaul-h/june/internal/observability"
)

// ReconnectConfig controls Reconnect
type ReconnectConfig struct {
	MaxAttempts int
	Backoff     time.Duration // first pause
	Multiplier  float64
	MaxBackoff  time.Duration
}

// DefaultReconnectConfig returns five attempts starting at one second
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// ReconnectFunc makes one connection attempt
type ReconnectFunc func(ctx context.Context) error

// Reconnect calls fn until it connects, pausing with exponential backoff
// between attempts. Unlike Retry every error is retried and ctx.Err() is
// returned when ctx ends.
func Reconnect(ctx context.Context, name string, fn ReconnectFunc, config *ReconnectConfig) error {
	if config == nil {
		config = DefaultReconnectConfig()
	}
	logger := observability.WithComponent("reconnect").With().Str("service", name).Logger()

	var err error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(ctx); err == nil {
			if attempt > 0 {
				logger.Info().Int("attempt", attempt+1).Msg("Connected")
			}
			return nil
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		d := CalculateBackoff(attempt, config.Backoff, config.MaxBackoff, config.Multiplier)
		logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxAttempts).
			Dur("retry_in", d).
			Msg("Connection attempt failed")
		if !sleep(ctx, d) {
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed to connect to %s after %d attempts: %w", name, config.MaxAttempts, err)
}
