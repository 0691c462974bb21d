// Package api serves the REST endpoints: streamed chat responses as NDJSON
// or audio, and one-shot transcription of uploaded WAV files.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/chunker"
	"github.com/mezbaul-h/june/internal/observability"
	"github.com/mezbaul-h/june/internal/pipeline"
	"github.com/mezbaul-h/june/internal/provider"
)

const maxUploadSize = 32 << 20

// Handler serves /api/chat and /api/stt
type Handler struct {
	responder   *pipeline.Responder
	transcriber provider.Transcriber
	logger      zerolog.Logger
}

// NewHandler creates the API handler. transcriber may be nil, in which
// case /api/stt answers 501.
func NewHandler(responder *pipeline.Responder, transcriber provider.Transcriber) *Handler {
	return &Handler{
		responder:   responder,
		transcriber: transcriber,
		logger:      observability.WithComponent("api"),
	}
}

// Register adds the API routes to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.Chat)
	mux.HandleFunc("POST /api/stt", h.STT)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// streamWriter sends each record as soon as it is written
type streamWriter struct {
	w           http.ResponseWriter
	rc          *http.ResponseController
	contentType string
	started     bool
}

func newStreamWriter(w http.ResponseWriter, contentType string) *streamWriter {
	return &streamWriter{w: w, rc: http.NewResponseController(w), contentType: contentType}
}

func (s *streamWriter) write(p []byte) error {
	if !s.started {
		s.w.Header().Set("Content-Type", s.contentType)
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// WriteChunk implements pipeline.TextSink
func (s *streamWriter) WriteChunk(c chunker.Chunk) error {
	line, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.write(append(line, '\n'))
}

// WriteAudio implements pipeline.AudioSink
func (s *streamWriter) WriteAudio(block []byte) error {
	return s.write(block)
}

// Chat answers a conversation. The body is a JSON list of {role, content}.
// With ?voice_output=true the answer is a streamed WAV, otherwise NDJSON
// with one record per chunk.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var history []provider.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&history); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	voice := r.URL.Query().Get("voice_output") == "true"
	if voice && !h.responder.CanSpeak() {
		writeError(w, http.StatusBadRequest, "voice output is not configured")
		return
	}

	logger := h.logger.With().Str("session_id", observability.NewSessionID()).Bool("voice_output", voice).Logger()
	logger.Info().Int("messages", len(history)).Msg("Chat request")

	var err error
	var sw *streamWriter
	if voice {
		sw = newStreamWriter(w, "audio/wav")
		err = h.responder.RespondAudio(r.Context(), history, sw)
	} else {
		sw = newStreamWriter(w, "application/x-ndjson")
		err = h.responder.RespondText(r.Context(), history, sw)
	}

	if err != nil {
		if !sw.started {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		// Headers are gone; the truncated stream is all the client gets
		logger.Error().Err(err).Msg("Chat response failed mid-stream")
		return
	}
	if !sw.started {
		// Nothing was generated
		w.Header().Set("Content-Type", sw.contentType)
		w.WriteHeader(http.StatusOK)
	}
}

type sttResponse struct {
	Text string `json:"text"`
}

// STT transcribes the WAV file uploaded in the multipart field "file"
func (h *Handler) STT(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		writeError(w, http.StatusNotImplemented, "speech to text is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing file: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read file: %v", err))
		return
	}

	f, pcm, err := audio.DecodeWAV(data)
	if err == nil && (f.Channels != 1 || f.BitsPerSample != 16) {
		mono := audio.DefaultFormat(f.SampleRate)
		pcm, err = audio.ConvertFormat(pcm, f, mono)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	samples := audio.Normalize(audio.BytesToSamples(pcm))
	text, err := h.transcriber.Transcribe(r.Context(), samples, f.SampleRate)
	if err != nil {
		h.logger.Error().Err(err).Msg("Transcription failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sttResponse{Text: text})
}
