package capture

import (
	"context"
	"testing"

	"github.com/mezbaul-h/june/internal/audio"
	"github.com/mezbaul-h/june/internal/turn"
)

func TestNewClassifier(t *testing.T) {
	tests := []struct {
		mode string
		want audio.Classifier
	}{
		{"", audio.PeakClassifier{Threshold: 500}},
		{ClassifierPeak, audio.PeakClassifier{Threshold: 500}},
		{ClassifierEnergy, audio.EnergyClassifier{Threshold: 500}},
	}
	for _, tt := range tests {
		got, err := NewClassifier(tt.mode, 500)
		if err != nil {
			t.Fatalf("NewClassifier(%q) failed: %v", tt.mode, err)
		}
		if got != tt.want {
			t.Errorf("NewClassifier(%q) = %#v, want %#v", tt.mode, got, tt.want)
		}
	}

	if _, err := NewClassifier("spectral", 500); err == nil {
		t.Error("Expected error for unknown classifier")
	}
}

// clickDevice yields one frame holding a single loud sample, then closes
type clickDevice struct{ read bool }

func (d *clickDevice) ReadFrame(frame []int16) error {
	if d.read {
		return audio.ErrDeviceClosed
	}
	d.read = true
	clear(frame)
	frame[0] = 5000
	return nil
}

func (d *clickDevice) Close() error { return nil }

func TestRecord_EnergyClassifierIgnoresClicks(t *testing.T) {
	cfg := testConfig()

	peak, err := NewClassifier(ClassifierPeak, cfg.Threshold)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Classifier = peak
	u, err := NewRecorder(&clickDevice{}, turn.NewCoordinator(), nil, cfg).Record(context.Background())
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if u == nil {
		t.Fatal("Expected the peak classifier to start recording on a click")
	}

	energy, err := NewClassifier(ClassifierEnergy, cfg.Threshold)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Classifier = energy
	u, err = NewRecorder(&clickDevice{}, turn.NewCoordinator(), nil, cfg).Record(context.Background())
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if u != nil {
		t.Errorf("Expected the energy classifier to ignore a click, got %d frames", u.Frames)
	}
}
