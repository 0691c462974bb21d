package audio

import (
	"bytes"
	"math"
	"testing"
)

func TestBytesToSamples_RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 1000, -1000, math.MaxInt16, math.MinInt16}
	got := BytesToSamples(SamplesToBytes(samples))

	if len(got) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(got))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestBytesToSamples_IgnoresOddByte(t *testing.T) {
	got := BytesToSamples([]byte{0x01, 0x00, 0xFF})
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Expected [1], got %v", got)
	}
}

func TestSamplesToBytes_LittleEndian(t *testing.T) {
	got := SamplesToBytes([]int16{0x0102, -2})
	want := []byte{0x02, 0x01, 0xFE, 0xFF}
	if !bytes.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestNormalize(t *testing.T) {
	got := Normalize([]int16{0, 32767, -32767, 16384})

	if got[0] != 0 {
		t.Errorf("Expected 0, got %f", got[0])
	}
	if got[1] != 1 {
		t.Errorf("Expected 1, got %f", got[1])
	}
	if got[2] != -1 {
		t.Errorf("Expected -1, got %f", got[2])
	}
	if math.Abs(float64(got[3])-16384.0/32767.0) > 1e-6 {
		t.Errorf("Expected %f, got %f", 16384.0/32767.0, got[3])
	}
}

func TestDenormalize_Clips(t *testing.T) {
	got := Denormalize([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, 32767, -32767, 32767, -32768, 16384}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestPeakAmplitude(t *testing.T) {
	tests := []struct {
		name    string
		samples []int16
		want    int
	}{
		{"empty", nil, 0},
		{"positive", []int16{1, 5, 3}, 5},
		{"negative dominates", []int16{100, -2000, 300}, 2000},
		{"min int16", []int16{math.MinInt16}, 32768},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PeakAmplitude(tt.samples); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("Expected 0 for empty input, got %f", rms)
	}

	rms := CalculateRMS([]int16{1000, -1000, 1000, -1000})
	if math.Abs(rms-1000) > 0.001 {
		t.Errorf("Expected RMS 1000, got %f", rms)
	}
}

func TestConvertChannels(t *testing.T) {
	stereo := SamplesToBytes([]int16{100, 300, -200, -400})

	mono, err := ConvertChannels(stereo, 2, 1)
	if err != nil {
		t.Fatalf("ConvertChannels failed: %v", err)
	}
	got := BytesToSamples(mono)
	if len(got) != 2 || got[0] != 200 || got[1] != -300 {
		t.Errorf("Expected [200 -300], got %v", got)
	}

	back, err := ConvertChannels(mono, 1, 2)
	if err != nil {
		t.Fatalf("ConvertChannels failed: %v", err)
	}
	got = BytesToSamples(back)
	want := []int16{200, 200, -300, -300}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}

	if _, err := ConvertChannels(stereo, 0, 1); err == nil {
		t.Error("Expected error for zero channels")
	}
}

func TestMulaw_RoundTrip(t *testing.T) {
	samples := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 32000, -32000}
	decoded := BytesToSamples(DecodeMulaw(EncodeMulaw(SamplesToBytes(samples))))

	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i, s := range samples {
		// μ-law keeps roughly 13 bits of precision; allow 3% + quantization floor
		tolerance := math.Abs(float64(s))*0.03 + 8
		if diff := math.Abs(float64(decoded[i] - s)); diff > tolerance {
			t.Errorf("sample %d: %d decoded as %d (diff %.0f)", i, s, decoded[i], diff)
		}
	}
}

func TestMulaw_Silence(t *testing.T) {
	if b := linearToMulaw(0); b != 0xFF {
		t.Errorf("Expected μ-law silence 0xFF, got 0x%02X", b)
	}
	if s := mulawToLinear(0xFF); s != 0 {
		t.Errorf("Expected 0 for 0xFF, got %d", s)
	}
}
