package capture

import (
	"fmt"

	"github.com/mezbaul-h/june/internal/audio"
)

// Classifier modes accepted by NewClassifier
const (
	ClassifierPeak   = "peak"
	ClassifierEnergy = "energy"
)

// NewClassifier returns the frame classifier for mode. An empty mode selects
// the peak classifier. Both compare against the same threshold on the int16
// scale; RMS sits well below the peak for speech, so energy mode usually
// wants a lower threshold.
func NewClassifier(mode string, threshold int) (audio.Classifier, error) {
	switch mode {
	case "", ClassifierPeak:
		return audio.PeakClassifier{Threshold: threshold}, nil
	case ClassifierEnergy:
		return audio.EnergyClassifier{Threshold: float64(threshold)}, nil
	}
	return nil, fmt.Errorf("unknown classifier %q", mode)
}
