package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resample converts interleaved 16-bit PCM from one sample rate to another.
// Each call is independent; filter state is not carried between calls.
func Resample(pcm []byte, channels, fromRate, toRate int) ([]byte, error) {
	if fromRate == toRate || len(pcm) == 0 {
		return pcm, nil
	}
	if channels < 1 || fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid resample %d -> %d Hz with %d channels", fromRate, toRate, channels)
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	samples := BytesToSamples(pcm)
	input := make([]float64, len(samples)-len(samples)%channels)
	for i := range input {
		input[i] = float64(samples[i]) / 32768.0
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	out := make([]int16, len(output)-len(output)%channels)
	for i := range out {
		s := output[i] * 32767.0
		switch {
		case s > 32767:
			out[i] = 32767
		case s < -32768:
			out[i] = -32768
		default:
			out[i] = int16(s)
		}
	}
	return SamplesToBytes(out), nil
}

// ConvertFormat brings 16-bit PCM in format src to the channel count and
// sample rate of dst. Sample width must already match.
func ConvertFormat(pcm []byte, src, dst Format) ([]byte, error) {
	if src.BitsPerSample != dst.BitsPerSample {
		return nil, fmt.Errorf("cannot convert %d-bit audio to %d-bit", src.BitsPerSample, dst.BitsPerSample)
	}
	if src == dst {
		return pcm, nil
	}
	if src.BitsPerSample != 16 {
		return nil, fmt.Errorf("conversion requires 16-bit audio, got %d-bit", src.BitsPerSample)
	}

	out, err := ConvertChannels(pcm, src.Channels, dst.Channels)
	if err != nil {
		return nil, err
	}
	return Resample(out, dst.Channels, src.SampleRate, dst.SampleRate)
}
