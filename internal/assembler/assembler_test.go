package assembler

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"pgregory.net/rapid"

	"github.com/mezbaul-h/june/internal/audio"
)

var mono24k = audio.DefaultFormat(24000)

func clip(f audio.Format, payloadBytes int, fill byte) []byte {
	return audio.EncodeWAV(f, bytes.Repeat([]byte{fill}, payloadBytes))
}

func join(blocks [][]byte) []byte {
	var out []byte
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

func TestAssembler_HeaderThenBlocks(t *testing.T) {
	a := New()
	a.Open(mono24k)

	blocks, err := a.Append(clip(mono24k, 2500, 1))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// header + two full blocks, 452 bytes carried
	if len(blocks) != 3 {
		t.Fatalf("Expected 3 blocks, got %d", len(blocks))
	}
	if len(blocks[0]) != audio.HeaderSize || string(blocks[0][:4]) != "RIFF" {
		t.Errorf("Expected a 44-byte RIFF header first, got %d bytes", len(blocks[0]))
	}
	for i, b := range blocks[1:] {
		if len(b) != DefaultBlockSize {
			t.Errorf("Block %d: expected %d bytes, got %d", i+1, DefaultBlockSize, len(b))
		}
	}

	blocks, err = a.Append(clip(mono24k, 600, 2))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(blocks) != 1 || len(blocks[0]) != DefaultBlockSize {
		t.Fatalf("Expected one full block from carried remainder, got %d blocks", len(blocks))
	}
	// The block straddles both clips
	if blocks[0][0] != 1 || blocks[0][DefaultBlockSize-1] != 2 {
		t.Errorf("Expected block to join clip payloads in order")
	}

	tail := a.Close()
	if len(tail) != 1 || len(tail[0]) != 2500+600-3*DefaultBlockSize {
		t.Errorf("Expected final partial block of %d bytes, got %v", 2500+600-3*DefaultBlockSize, len(tail))
	}

	stats := a.Stats()
	if stats.Clips != 2 || stats.Skipped != 0 || stats.PayloadBytes != 3100 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestAssembler_HeaderSizeModes(t *testing.T) {
	tests := []struct {
		name string
		mode audio.SizeMode
		want uint32
	}{
		{"zero", audio.SizeZero, 0},
		{"max", audio.SizeMax, 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(WithSizeMode(tt.mode))
			a.Open(mono24k)
			blocks, err := a.Append(clip(mono24k, 10, 0))
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			h := blocks[0]
			if got := binary.LittleEndian.Uint32(h[4:8]); got != tt.want {
				t.Errorf("RIFF size: expected %#x, got %#x", tt.want, got)
			}
			if got := binary.LittleEndian.Uint32(h[40:44]); got != tt.want {
				t.Errorf("data size: expected %#x, got %#x", tt.want, got)
			}
			if got := binary.LittleEndian.Uint32(h[24:28]); got != 24000 {
				t.Errorf("Expected sample rate 24000 in header, got %d", got)
			}
		})
	}
}

func TestAssembler_CorruptClipSkipped(t *testing.T) {
	a := New(WithBlockSize(4))
	a.Open(mono24k)

	_, err := a.Append([]byte("definitely not a wav file"))
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Expected ErrDecode, got %v", err)
	}

	blocks, err := a.Append(clip(mono24k, 8, 7))
	if err != nil {
		t.Fatalf("Append after corrupt clip failed: %v", err)
	}
	// The header still comes first, with the good clip's payload after it
	if len(blocks) != 3 || len(blocks[0]) != audio.HeaderSize {
		t.Fatalf("Expected header and two blocks, got %d blocks", len(blocks))
	}

	if s := a.Stats(); s.Clips != 1 || s.Skipped != 1 {
		t.Errorf("Unexpected stats %+v", s)
	}
}

func TestAssembler_WithoutHeader(t *testing.T) {
	a := New(WithoutHeader(), WithBlockSize(8))
	a.Open(mono24k)

	blocks, err := a.Append(clip(mono24k, 10, 3))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(blocks) != 1 || len(blocks[0]) != 8 {
		t.Fatalf("Expected one raw block, got %d", len(blocks))
	}
	tail := a.Close()
	if len(tail) != 1 || len(tail[0]) != 2 {
		t.Errorf("Expected 2-byte tail, got %v", tail)
	}
}

func TestAssembler_CloseWithoutClipsSendsHeader(t *testing.T) {
	a := New()
	a.Open(mono24k)

	blocks := a.Close()
	if len(blocks) != 1 || len(blocks[0]) != audio.HeaderSize {
		t.Fatalf("Expected only the header, got %d blocks", len(blocks))
	}
}

func TestAssembler_ConvertsClipFormat(t *testing.T) {
	a := New(WithoutHeader(), WithBlockSize(2))
	a.Open(mono24k)

	stereo := audio.Format{Channels: 2, SampleRate: 24000, BitsPerSample: 16}
	pcm := audio.SamplesToBytes([]int16{100, 300, -100, -300})
	blocks, err := a.Append(audio.EncodeWAV(stereo, pcm))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got := audio.BytesToSamples(join(blocks))
	if len(got) != 2 || got[0] != 200 || got[1] != -200 {
		t.Errorf("Expected down-mixed [200 -200], got %v", got)
	}

	wide := audio.Format{Channels: 1, SampleRate: 24000, BitsPerSample: 8}
	if _, err := a.Append(audio.EncodeWAV(wide, []byte{1, 2})); !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode for sample width mismatch, got %v", err)
	}
}

func TestAssembler_ResamplesClip(t *testing.T) {
	a := New(WithoutHeader())
	a.Open(mono24k)

	src := audio.DefaultFormat(48000)
	samples := make([]int16, 4800)
	for i := range samples {
		samples[i] = int16((i % 100) * 50)
	}
	blocks, err := a.Append(audio.EncodeWAV(src, audio.SamplesToBytes(samples)))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	blocks = append(blocks, a.Close()...)

	n := len(join(blocks)) / 2
	if n < 1200 || n > 2600 {
		t.Errorf("Expected roughly 2400 samples after resampling, got %d", n)
	}
}

func TestAssembler_StreamProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		blockSize := rapid.IntRange(1, 64).Draw(t, "blockSize") * 2
		sizes := rapid.SliceOf(rapid.IntRange(0, 300)).Draw(t, "clipSamples")
		corrupt := rapid.SliceOfN(rapid.Bool(), len(sizes), len(sizes)).Draw(t, "corrupt")

		a := New(WithBlockSize(blockSize))
		a.Open(mono24k)

		var out [][]byte
		var want []byte
		for i, n := range sizes {
			if corrupt[i] {
				if _, err := a.Append([]byte{'R', 'I', 'F', 'F', 0}); err == nil {
					t.Fatal("Expected corrupt clip to fail")
				}
				continue
			}
			pcm := bytes.Repeat([]byte{byte(i%250 + 1)}, n*2)
			want = append(want, pcm...)
			blocks, err := a.Append(audio.EncodeWAV(mono24k, pcm))
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			out = append(out, blocks...)
		}
		out = append(out, a.Close()...)

		stream := join(out)
		if len(stream) < audio.HeaderSize || string(stream[:4]) != "RIFF" {
			t.Fatal("stream must start with the header")
		}
		if bytes.Count(stream, []byte("RIFF")) != 1 {
			t.Fatal("header must appear exactly once")
		}
		if !bytes.Equal(stream[audio.HeaderSize:], want) {
			t.Fatalf("payload mismatch: got %d bytes, want %d", len(stream)-audio.HeaderSize, len(want))
		}

		for i, b := range out[1:] {
			if len(b) != blockSize && i != len(out)-2 {
				t.Fatalf("block %d has %d bytes, want %d", i+1, len(b), blockSize)
			}
		}
	})
}
