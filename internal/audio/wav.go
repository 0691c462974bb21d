package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

// HeaderSize is the length of the canonical RIFF/WAVE header written here
const HeaderSize = 44

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// ErrInvalidWAV is returned for clips that are not decodable PCM WAV files
var ErrInvalidWAV = errors.New("invalid wav data")

// Format describes interleaved integer PCM audio
type Format struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// DefaultFormat returns 16-bit mono at the given rate
func DefaultFormat(sampleRate int) Format {
	return Format{Channels: 1, SampleRate: sampleRate, BitsPerSample: 16}
}

// BlockAlign returns the size of one sample frame in bytes
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of bytes per second of audio
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Valid reports whether the format can describe a PCM stream
func (f Format) Valid() bool {
	return f.Channels > 0 && f.SampleRate > 0 && f.BitsPerSample > 0 && f.BitsPerSample%8 == 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRate, f.BitsPerSample, f.Channels)
}

// SizeMode selects what a streaming header puts in its size fields, since the
// total length is unknown when the header is sent.
type SizeMode int

const (
	// SizeZero writes 0 to both size fields
	SizeZero SizeMode = iota
	// SizeMax writes 0xFFFFFFFF to both size fields
	SizeMax
)

// ParseSizeMode maps "zero" and "max" to a SizeMode
func ParseSizeMode(s string) (SizeMode, error) {
	switch s {
	case "", "zero":
		return SizeZero, nil
	case "max":
		return SizeMax, nil
	}
	return SizeZero, fmt.Errorf("unknown header size mode %q", s)
}

type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func header(f Format, riffSize, dataSize uint32) []byte {
	h := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     riffSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.ByteRate()),
		BlockAlign:    uint16(f.BlockAlign()),
		BitsPerSample: uint16(f.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	// Writes to a bytes.Buffer of a fixed-size struct cannot fail
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// StreamHeader returns a header for a stream of unknown length
func StreamHeader(f Format, mode SizeMode) []byte {
	var size uint32
	if mode == SizeMax {
		size = 0xFFFFFFFF
	}
	return header(f, size, size)
}

// EncodeWAV wraps PCM bytes in a complete WAV container
func EncodeWAV(f Format, pcm []byte) []byte {
	dataSize := uint32(len(pcm))
	out := header(f, 36+dataSize, dataSize)
	return append(out, pcm...)
}

// EncodeSamples wraps normalized mono samples in a 16-bit WAV container
func EncodeSamples(samples []float32, sampleRate int) []byte {
	return EncodeWAV(DefaultFormat(sampleRate), SamplesToBytes(Denormalize(samples)))
}

// DecodeWAV parses a WAV container and returns its format and raw PCM
// payload. Streaming-style size fields (0 or 0xFFFFFFFF) are accepted; the
// payload then runs to the end of the input.
func DecodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 {
		return Format{}, nil, fmt.Errorf("%w: %d bytes", ErrInvalidWAV, len(data))
	}

	r := bytes.NewReader(data)
	d := wav.NewDecoder(r)
	if err := d.FwdToPCM(); err != nil {
		return Format{}, nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if err := d.Err(); err != nil {
		return Format{}, nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if d.NumChans == 0 || d.PCMChunk == nil {
		return Format{}, nil, fmt.Errorf("%w: missing fmt or data chunk", ErrInvalidWAV)
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return Format{}, nil, fmt.Errorf("%w: unsupported encoding %d", ErrInvalidWAV, d.WavAudioFormat)
	}

	f := Format{
		Channels:      int(d.NumChans),
		SampleRate:    int(d.SampleRate),
		BitsPerSample: int(d.BitDepth),
	}
	if !f.Valid() {
		return Format{}, nil, fmt.Errorf("%w: bad format %s", ErrInvalidWAV, f)
	}

	// The decoder leaves the reader positioned at the first payload byte
	payload := data[len(data)-r.Len():]
	if d.PCMSize > 0 && d.PCMSize <= len(payload) {
		payload = payload[:d.PCMSize]
	}
	payload = payload[:len(payload)-len(payload)%f.BlockAlign()]

	return f, payload, nil
}
