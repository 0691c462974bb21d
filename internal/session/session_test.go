package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/config"
	"github.com/mezbaul-h/june/internal/provider"
)

const testRate = 1000

func testConfig() *config.Config {
	return &config.Config{
		SampleRate:     testRate,
		FrameSize:      100,
		VADThreshold:   1000,
		SilenceLimit:   300 * time.Millisecond,
		InputBuffer:    64 * 1024,
		MinChunkSize:   1,
		BlockSize:      1024,
		QueueSize:      8,
		HeaderSizeMode: "zero",
		PollInterval:   20 * time.Millisecond,
	}
}

type scriptedTranscriber struct {
	mu      sync.Mutex
	texts   []string
	rates   []int
	samples [][]float32
}

func (t *scriptedTranscriber) Transcribe(_ context.Context, samples []float32, rate int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rates = append(t.rates, rate)
	t.samples = append(t.samples, samples)
	if len(t.texts) == 0 {
		return "", nil
	}
	text := t.texts[0]
	t.texts = t.texts[1:]
	return text, nil
}

type replyGenerator struct{}

func (replyGenerator) Generate(ctx context.Context, _ []provider.Message) (<-chan provider.Delta, <-chan error) {
	return provider.StreamDeltas(ctx, func(send func(provider.Delta) bool) error {
		for _, d := range []string{"Hi", ".", "\n"} {
			if !send(provider.Delta{Role: provider.RoleAssistant, Content: d}) {
				return nil
			}
		}
		return nil
	})
}

// toneSynth returns 100 ms of audio at the session rate
type toneSynth struct{}

func (toneSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	return audio.EncodeWAV(audio.DefaultFormat(testRate), make([]byte, 200)), nil
}

// utterance is two loud frames followed by enough silence to stop recording
func utterance() []byte {
	loud := make([]int16, 200)
	for i := range loud {
		loud[i] = 8000
	}
	silent := make([]int16, 600)
	return audio.SamplesToBytes(append(loud, silent...))
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/voice" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

// readUntil collects events until one of type stop arrives and counts the
// binary audio bytes seen on the way.
func readUntil(t *testing.T, conn *websocket.Conn, stop func(Event) bool) ([]Event, int) {
	t.Helper()
	var events []Event
	audioBytes := 0
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage failed after %+v: %v", events, err)
		}
		if kind == websocket.BinaryMessage {
			audioBytes += len(msg)
			continue
		}
		var e Event
		if err := json.Unmarshal(msg, &e); err != nil {
			t.Fatalf("bad event %q: %v", msg, err)
		}
		events = append(events, e)
		if stop(e) {
			return events, audioBytes
		}
	}
}

func types(events []Event) string {
	var names []string
	for _, e := range events {
		names = append(names, e.Type)
	}
	return strings.Join(names, ",")
}

func newServer(tr provider.Transcriber) *httptest.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws/voice", NewHandler(testConfig(), replyGenerator{}, tr, toneSynth{}))
	return httptest.NewServer(mux)
}

func TestSession_Conversation(t *testing.T) {
	tr := &scriptedTranscriber{texts: []string{"hello there", "ok stop"}}
	srv := newServer(tr)
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()

	events, _ := readUntil(t, conn, func(e Event) bool { return e.Type == "ready" })
	if events[0].SampleRate != testRate || events[0].Encoding != EncodingPCM || events[0].SessionID == "" {
		t.Errorf("ready event = %+v", events[0])
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, utterance()); err != nil {
		t.Fatal(err)
	}
	events, audioBytes := readUntil(t, conn, func(e Event) bool {
		return e.Type == "state" && e.State == "awaiting_input"
	})
	if got := types(events); got != "transcript,state,chunk,state" {
		t.Fatalf("events = %s", got)
	}
	if events[0].Text != "hello there" {
		t.Errorf("transcript = %q", events[0].Text)
	}
	if events[1].State != "response_in_flight" {
		t.Errorf("state = %q, want response_in_flight", events[1].State)
	}
	if events[2].Content != "Hi.\n" || events[2].Role != provider.RoleAssistant {
		t.Errorf("chunk = %+v", events[2])
	}
	if audioBytes != 200 {
		t.Errorf("received %d audio bytes, want 200", audioBytes)
	}

	// Capture resumes once the turn is over
	time.Sleep(200 * time.Millisecond)
	if err := conn.WriteMessage(websocket.BinaryMessage, utterance()); err != nil {
		t.Fatal(err)
	}
	events, _ = readUntil(t, conn, func(e Event) bool { return e.Type == "end" })
	if got := types(events); got != "transcript,end" {
		t.Errorf("events = %s, want transcript,end", got)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected a normal close, got %v", err)
	}
}

func TestSession_CapturesAtClientRate(t *testing.T) {
	tr := &scriptedTranscriber{texts: []string{"hello"}}
	srv := newServer(tr)
	defer srv.Close()

	conn := dial(t, srv, "?rate=2000")
	defer conn.Close()
	readUntil(t, conn, func(e Event) bool { return e.Type == "ready" })

	// At 2000 Hz a frame is 200 samples and 300 ms of silence is 3 frames:
	// two loud frames, then the fourth silent frame ends the recording.
	loud := make([]int16, 400)
	for i := range loud {
		loud[i] = 8000
	}
	pcm := audio.SamplesToBytes(append(loud, make([]int16, 1000)...))
	// Send in uneven pieces so frames straddle message boundaries
	for _, n := range []int{300, 700, 500, 1300} {
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[:n]); err != nil {
			t.Fatal(err)
		}
		pcm = pcm[n:]
	}

	readUntil(t, conn, func(e Event) bool { return e.Type == "transcript" })

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.rates) != 1 || tr.rates[0] != 2000 {
		t.Fatalf("transcriber rates = %v, want [2000]", tr.rates)
	}
	samples := tr.samples[0]
	if len(samples) != 1200 {
		t.Errorf("transcribed %d samples, want 1200", len(samples))
	}
	want := float32(8000) / 32767
	for i := 0; i < 400; i++ {
		if samples[i] != want {
			t.Fatalf("sample %d = %f, want %f unaltered", i, samples[i], want)
		}
	}
}

func TestSession_StopEndsInput(t *testing.T) {
	srv := newServer(&scriptedTranscriber{})
	defer srv.Close()

	conn := dial(t, srv, "?encoding=mulaw")
	defer conn.Close()

	events, _ := readUntil(t, conn, func(e Event) bool { return e.Type == "ready" })
	if events[0].Encoding != EncodingMulaw {
		t.Errorf("encoding = %q, want mulaw", events[0].Encoding)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatal(err)
	}
	events, _ = readUntil(t, conn, func(e Event) bool { return e.Type == "end" })
	if got := types(events); got != "end" {
		t.Errorf("events = %s, want end", got)
	}
}

func TestHandler_Rejects(t *testing.T) {
	srv := newServer(&scriptedTranscriber{})
	defer srv.Close()

	for _, query := range []string{"?encoding=opus", "?rate=fast", "?rate=-1"} {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/voice" + query
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Errorf("%s: expected the handshake to fail", query)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %v", query, resp)
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/voice", NewHandler(testConfig(), replyGenerator{}, nil, nil))
	disabled := httptest.NewServer(mux)
	defer disabled.Close()

	url := "ws" + strings.TrimPrefix(disabled.URL, "http") + "/ws/voice"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("expected 501 without a transcriber, got %v", resp)
	}
}
