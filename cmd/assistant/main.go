// Command assistant runs a spoken conversation on the local microphone and
// speaker.
//
// Usage:
//
//	assistant [--text] [--no-voice] [--spool]
//
// Providers and audio settings come from the environment (and .env); see
// internal/config. Saying "exit", "quit" or "stop" ends the conversation.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mezbaul-h/june/internal/assembler"
	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/audio/portaudio"
	"github.com/mezbaul-h/june/internal/capture"
	"github.com/mezbaul-h/june/internal/chunker"
	"github.com/mezbaul-h/june/internal/config"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/pipeline"
	"github.com/mezbaul-h/june/internal/playback"
	"github.com/mezbaul-h/june/internal/provider/registry"
	"github.com/mezbaul-h/june/internal/turn"
)

type options struct {
	text    bool
	noVoice bool
	spool   bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "assistant",
		Short: "Talk to a local voice assistant",
		Long: `Start a voice conversation on the default microphone and speaker.

Input is spoken unless --text is given or no transcriber is configured.
Replies are spoken unless --no-voice is given or no synthesizer is configured.

Examples:
  assistant
  assistant --text
  GENERATOR_PROVIDER=openai SYNTHESIZER_PROVIDER=openai assistant --spool`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.text, "text", false, "type input instead of speaking")
	cmd.Flags().BoolVar(&opts.noVoice, "no-voice", false, "print replies without speaking them")
	cmd.Flags().BoolVar(&opts.spool, "spool", false, "play replies through temporary WAV files")
	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	set, err := registry.Build(cfg)
	if err != nil {
		return err
	}
	defer set.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionID := observability.NewSessionID()
	metrics := observability.NewSessionMetrics(sessionID)
	metrics.RecordSessionStart()
	defer metrics.RecordSessionEnd()

	format := audio.DefaultFormat(cfg.SampleRate)
	coord := turn.NewCoordinator()

	store := playback.NewArtifacts("")
	defer store.Close()

	synth := set.Synthesizer
	if opts.noVoice {
		synth = nil
	}

	var (
		speaker pipeline.Speaker
		busy    capture.BusySignal
	)
	if synth != nil {
		out, err := portaudio.OpenOutput(cfg.SampleRate, cfg.FrameSize)
		if err != nil {
			return err
		}
		defer out.Close()

		playerOpts := []playback.Option{
			playback.WithPollInterval(cfg.PollInterval),
			playback.WithMetrics(metrics),
		}
		if opts.spool {
			playerOpts = append(playerOpts, playback.WithArtifacts(store))
		}
		player := playback.NewPlayer(out, format, playerOpts...)
		defer player.Close()

		speaker, busy = player, player
		if opts.spool {
			speaker = playback.NewSpooler(player, store, format)
		}
	}

	var source pipeline.InputSource
	if opts.text || set.Transcriber == nil {
		source = pipeline.NewTextInput(os.Stdin, os.Stdout)
	} else {
		classifier, err := capture.NewClassifier(cfg.VADMode, cfg.VADThreshold)
		if err != nil {
			return err
		}
		in, err := portaudio.OpenInput(cfg.SampleRate, cfg.FrameSize)
		if err != nil {
			return err
		}
		defer in.Close()

		recorder := capture.NewRecorder(in, coord, busy, capture.Config{
			SampleRate:   cfg.SampleRate,
			FrameSize:    cfg.FrameSize,
			Threshold:    cfg.VADThreshold,
			SilenceLimit: cfg.SilenceLimit,
			PollInterval: cfg.PollInterval,
			Classifier:   classifier,
		})
		source = pipeline.NewVoiceInput(recorder, set.Transcriber, metrics)
		fmt.Println("Listening. Say \"exit\" to quit.")
	}

	orch := pipeline.New(coord, set.Generator, synth, speaker, pipeline.Options{
		MinChunkSize: cfg.MinChunkSize,
		QueueSize:    cfg.QueueSize,
		SystemPrompt: cfg.SystemPrompt,
		Format:       format,
		Assembler: []assembler.Option{
			assembler.WithBlockSize(cfg.BlockSize),
			assembler.WithoutHeader(),
		},
		OnInput: func(text string) {
			if !opts.text && set.Transcriber != nil {
				fmt.Printf("> %s\n", text)
			}
		},
		OnText: func(c chunker.Chunk) {
			fmt.Print(c.Content)
		},
		OnTurnError: func(err error) {
			fmt.Fprintf(os.Stderr, "\n[error] %v\n", err)
		},
		Metrics: metrics,
	})

	logger.Info().Str("session_id", sessionID).Bool("voice_output", synth != nil).Msg("Assistant started")

	err = orch.Run(ctx, source)
	fmt.Println()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
