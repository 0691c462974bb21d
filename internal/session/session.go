// Package session serves duplex voice conversations over WebSocket. Binary
// frames from the client carry microphone audio; the server answers with
// binary frames of assembled speech and JSON text frames describing the turn.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mezbaul-h/june/internal/assembler"
	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/capture"
	"github.com/mezbaul-h/june/internal/chunker"
	"github.com/mezbaul-h/june/internal/config"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/pipeline"
	"github.com/mezbaul-h/june/internal/playback"
	"github.com/mezbaul-h/june/internal/provider"
	"github.com/mezbaul-h/june/internal/turn"
)

const (
	EncodingPCM   = "pcm"   // 16-bit little-endian linear PCM
	EncodingMulaw = "mulaw" // 8-bit G.711 mu-law

	writeWait = 10 * time.Second
	// Audio sent ahead of real time
	playbackLead = 500 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Event is a JSON text frame sent to the client
type Event struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Text       string `json:"text,omitempty"`
	Role       string `json:"role,omitempty"`
	Content    string `json:"content,omitempty"`
	State      string `json:"state,omitempty"`
	Error      string `json:"error,omitempty"`
}

// controlMessage is a JSON text frame sent by the client
type controlMessage struct {
	Type string `json:"type"`
}

// Handler upgrades /ws/voice requests into voice sessions
type Handler struct {
	cfg         *config.Config
	generator   provider.Generator
	transcriber provider.Transcriber
	synthesizer provider.Synthesizer
	logger      zerolog.Logger
}

// NewHandler creates the session handler. A nil synthesizer gives sessions
// that answer with text events only.
func NewHandler(cfg *config.Config, generator provider.Generator, transcriber provider.Transcriber, synthesizer provider.Synthesizer) *Handler {
	return &Handler{
		cfg:         cfg,
		generator:   generator,
		transcriber: transcriber,
		synthesizer: synthesizer,
		logger:      observability.WithComponent("session"),
	}
}

// ServeHTTP accepts the query parameters encoding (pcm or mulaw) and rate,
// the sample rate of the client's microphone audio.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		http.Error(w, "speech to text is not configured", http.StatusNotImplemented)
		return
	}

	q := r.URL.Query()
	encoding := q.Get("encoding")
	if encoding == "" {
		encoding = EncodingPCM
	}
	if encoding != EncodingPCM && encoding != EncodingMulaw {
		http.Error(w, fmt.Sprintf("unsupported encoding %q", encoding), http.StatusBadRequest)
		return
	}
	inRate := h.cfg.SampleRate
	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid rate %q", v), http.StatusBadRequest)
			return
		}
		inRate = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	s := h.newSession(conn, encoding, inRate)
	if err := s.run(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("Session failed")
	}
}

type session struct {
	h        *Handler
	conn     *websocket.Conn
	id       string
	encoding string
	inRate   int
	format   audio.Format
	input    *audio.StreamInput
	metrics  *observability.SessionMetrics
	logger   zerolog.Logger

	writeMu sync.Mutex
}

func (h *Handler) newSession(conn *websocket.Conn, encoding string, inRate int) *session {
	id := observability.NewSessionID()
	return &session{
		h:        h,
		conn:     conn,
		id:       id,
		encoding: encoding,
		inRate:   inRate,
		format:   audio.DefaultFormat(h.cfg.SampleRate),
		input:    audio.NewStreamInput(h.cfg.InputBuffer),
		metrics:  observability.NewSessionMetrics(id),
		logger:   observability.WithSessionID(id).With().Str("component", "session").Logger(),
	}
}

var errSessionEnded = errors.New("session ended")

func (s *session) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	cfg := s.h.cfg
	s.metrics.RecordSessionStart()
	defer s.metrics.RecordSessionEnd()
	s.logger.Info().
		Str("encoding", s.encoding).
		Int("input_rate", s.inRate).
		Int("sample_rate", cfg.SampleRate).
		Msg("Voice session started")

	classifier, err := capture.NewClassifier(cfg.VADMode, cfg.VADThreshold)
	if err != nil {
		return err
	}

	pacer := playback.NewPacedWriter(ctx, audioWriter{s}, s.format, playbackLead)
	player := playback.NewPlayer(pacer, s.format,
		playback.WithPollInterval(cfg.PollInterval),
		playback.WithMetrics(s.metrics),
	)
	coord := turn.NewCoordinator()
	// Capture runs at the client rate; utterances reach the transcriber
	// unresampled.
	recorder := capture.NewRecorder(s.input, coord, player, capture.Config{
		SampleRate:   s.inRate,
		FrameSize:    max(cfg.FrameSize*s.inRate/cfg.SampleRate, 1),
		Threshold:    cfg.VADThreshold,
		SilenceLimit: cfg.SilenceLimit,
		PollInterval: cfg.PollInterval,
		Classifier:   classifier,
	})

	coord.OnChange(func(st turn.State) {
		s.send(Event{Type: "state", State: st.String()})
	})
	orch := pipeline.New(coord, s.h.generator, s.h.synthesizer, player, pipeline.Options{
		MinChunkSize: cfg.MinChunkSize,
		QueueSize:    cfg.QueueSize,
		SystemPrompt: cfg.SystemPrompt,
		Format:       s.format,
		Assembler: []assembler.Option{
			assembler.WithBlockSize(cfg.BlockSize),
			assembler.WithoutHeader(),
		},
		OnInput: func(text string) {
			s.send(Event{Type: "transcript", Text: text})
		},
		OnText: func(c chunker.Chunk) {
			s.send(Event{Type: "chunk", Role: c.Role, Content: c.Content})
		},
		OnTurnError: func(err error) {
			s.send(Event{Type: "error", Error: err.Error()})
		},
		Metrics: s.metrics,
	})

	s.send(Event{Type: "ready", SessionID: s.id, SampleRate: cfg.SampleRate, Encoding: s.encoding})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.readLoop()
	})
	g.Go(func() error {
		err := orch.Run(gctx, pipeline.NewVoiceInput(recorder, s.h.transcriber, s.metrics))
		if err != nil && gctx.Err() == nil {
			s.send(Event{Type: "error", Error: err.Error()})
			return err
		}
		if gctx.Err() == nil {
			s.send(Event{Type: "end"})
			s.closeConn(websocket.CloseNormalClosure, "")
		}
		return errSessionEnded
	})
	g.Go(func() error {
		// Unblock the reader and the recorder once either side is done
		<-gctx.Done()
		s.input.Close()
		s.conn.SetReadDeadline(time.Now())
		return nil
	})

	err = g.Wait()

	cancel()
	player.Close()
	pacer.Close()
	s.input.Close()

	s.logger.Info().Int("dropped_input_bytes", s.input.Dropped()).Msg("Voice session ended")
	if errors.Is(err, errSessionEnded) || errors.Is(err, errClientGone) {
		return nil
	}
	return err
}

var errClientGone = errors.New("client disconnected")

// readLoop feeds binary frames to the capture input until the client leaves.
// A {"type":"stop"} text frame ends input; the current turn still finishes.
func (s *session) readLoop() error {
	for {
		kind, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return errClientGone
		}

		switch kind {
		case websocket.BinaryMessage:
			if err := s.receiveAudio(message); err != nil {
				s.logger.Warn().Err(err).Msg("Dropping malformed audio frame")
				s.metrics.RecordError("input_audio", "session")
			}

		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to parse control message")
				continue
			}
			switch msg.Type {
			case "stop":
				s.logger.Info().Msg("Client stopped input")
				s.input.Close()
			default:
				s.logger.Debug().Str("type", msg.Type).Msg("Ignoring control message")
			}
		}
	}
}

func (s *session) receiveAudio(payload []byte) error {
	pcm := payload
	if s.encoding == EncodingMulaw {
		pcm = audio.DecodeMulaw(payload)
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("odd PCM frame length %d", len(pcm))
	}
	s.metrics.RecordAudioBytes("in", int64(len(pcm)))
	if _, err := s.input.Write(pcm); err != nil && !errors.Is(err, audio.ErrDeviceClosed) {
		return err
	}
	return nil
}

// send writes one JSON event. Failures are logged; the read loop notices a
// dead connection.
func (s *session) send(e Event) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(e); err != nil {
		s.logger.Debug().Err(err).Str("type", e.Type).Msg("Failed to send event")
	}
}

func (s *session) closeConn(code int, text string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, text)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to send close frame")
	}
}

// audioWriter sends PCM to the client as binary frames in the session encoding
type audioWriter struct {
	s *session
}

func (w audioWriter) Write(pcm []byte) (int, error) {
	payload := pcm
	if w.s.encoding == EncodingMulaw {
		payload = audio.EncodeMulaw(pcm)
	}

	w.s.writeMu.Lock()
	defer w.s.writeMu.Unlock()
	w.s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.s.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return 0, err
	}
	return len(pcm), nil
}
