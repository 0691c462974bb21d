package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/observability"
)

// ArtifactPattern names temporary audio files
const ArtifactPattern = "june-va-audio-*.wav"

// Artifacts tracks temporary audio files so they can be removed at exit
type Artifacts struct {
	dir    string
	mu     sync.Mutex
	files  map[string]struct{}
	logger zerolog.Logger
}

// NewArtifacts creates a store in dir, or the system temp dir when empty
func NewArtifacts(dir string) *Artifacts {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Artifacts{
		dir:    dir,
		files:  make(map[string]struct{}),
		logger: observability.WithComponent("artifacts"),
	}
}

// Create opens a new tracked file
func (a *Artifacts) Create() (*os.File, error) {
	f, err := os.CreateTemp(a.dir, ArtifactPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio artifact: %w", err)
	}
	a.mu.Lock()
	a.files[f.Name()] = struct{}{}
	a.mu.Unlock()
	return f, nil
}

// Remove deletes a tracked file. Missing files are not an error.
func (a *Artifacts) Remove(path string) error {
	a.mu.Lock()
	delete(a.files, path)
	a.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// discard removes a file that will never be played, logging any failure
func (a *Artifacts) discard(path string) {
	if err := a.Remove(path); err != nil {
		a.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove audio file")
	}
}

// Len returns the number of files still tracked
func (a *Artifacts) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.files)
}

// Close removes every file still tracked
func (a *Artifacts) Close() error {
	a.mu.Lock()
	paths := make([]string, 0, len(a.files))
	for p := range a.files {
		paths = append(paths, p)
	}
	a.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := a.Remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(paths) > 0 {
		a.logger.Debug().Int("files", len(paths)).Msg("Removed audio artifacts")
	}
	return errors.Join(errs...)
}

// Spooler plays audio through files: every enqueued buffer is written to a
// temporary WAV file which the player removes once played.
type Spooler struct {
	player *Player
	store  *Artifacts
	format audio.Format
}

// NewSpooler creates a spooler. The player should be created with
// WithArtifacts(store) so played files are removed.
func NewSpooler(player *Player, store *Artifacts, format audio.Format) *Spooler {
	return &Spooler{player: player, store: store, format: format}
}

// Enqueue writes pcm to a new artifact and schedules it
func (s *Spooler) Enqueue(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	f, err := s.store.Create()
	if err != nil {
		return err
	}
	_, err = f.Write(audio.EncodeWAV(s.format, pcm))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.store.discard(f.Name())
		return fmt.Errorf("failed to write audio artifact: %w", err)
	}
	return s.player.EnqueueFile(f.Name())
}

// IsBusy implements the capture busy signal
func (s *Spooler) IsBusy() bool { return s.player.IsBusy() }

// Wait blocks until every spooled file has played
func (s *Spooler) Wait(ctx context.Context) error { return s.player.Wait(ctx) }

// Discard drops spooled files that have not started playing
func (s *Spooler) Discard() { s.player.Discard() }
