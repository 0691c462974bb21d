package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MaxSampleValue is the largest positive 16-bit sample; captured samples are
// divided by it to land in [-1, 1].
const MaxSampleValue = 32767

// BytesToSamples decodes little-endian 16-bit PCM. A trailing odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// Normalize converts integer samples to floats by dividing by MaxSampleValue
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / MaxSampleValue
	}
	return out
}

// Denormalize converts float samples back to 16-bit, clipping to range
func Denormalize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * MaxSampleValue)
		if v > MaxSampleValue {
			v = MaxSampleValue
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}

// PeakAmplitude returns the largest absolute sample value
func PeakAmplitude(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, sample := range samples {
		val := float64(sample)
		sum += val * val
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// ConvertChannels up- or down-mixes interleaved 16-bit PCM. Down-mixing
// averages the source channels; up-mixing duplicates mono samples.
func ConvertChannels(pcm []byte, from, to int) ([]byte, error) {
	if from == to {
		return pcm, nil
	}
	if from < 1 || to < 1 {
		return nil, fmt.Errorf("invalid channel conversion %d -> %d", from, to)
	}

	samples := BytesToSamples(pcm)
	frames := len(samples) / from
	out := make([]int16, frames*to)

	for f := 0; f < frames; f++ {
		var mono int
		if from == 1 {
			mono = int(samples[f])
		} else {
			for c := 0; c < from; c++ {
				mono += int(samples[f*from+c])
			}
			mono /= from
		}
		for c := 0; c < to; c++ {
			out[f*to+c] = int16(mono)
		}
	}
	return SamplesToBytes(out), nil
}

// DecodeMulaw converts G.711 PCMU (μ-law) bytes to linear 16-bit PCM bytes
func DecodeMulaw(pcmu []byte) []byte {
	pcm := make([]byte, len(pcmu)*2)
	for i, b := range pcmu {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(mulawToLinear(b)))
	}
	return pcm
}

// EncodeMulaw converts linear 16-bit PCM bytes to G.711 PCMU (μ-law)
func EncodeMulaw(pcm []byte) []byte {
	samples := BytesToSamples(pcm)
	pcmu := make([]byte, len(samples))
	for i, s := range samples {
		pcmu[i] = linearToMulaw(s)
	}
	return pcmu
}

// linearToMulaw converts a 16-bit linear PCM sample to 8-bit μ-law (ITU-T G.711)
func linearToMulaw(sample int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += bias

	exponent := 7
	for mask := 0x4000; exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

// mulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
func mulawToLinear(mulawByte byte) int16 {
	mulaw := ^mulawByte

	sign := mulaw & 0x80
	exponent := int((mulaw >> 4) & 0x07)
	mantissa := int(mulaw & 0x0F)

	sample := ((mantissa << 3) + 0x84) << exponent
	sample -= 0x84

	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}
