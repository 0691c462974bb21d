package audio

// Classifier decides whether a captured frame carries speech
type Classifier interface {
	IsSilent(frame []int16) bool
}

// PeakClassifier marks a frame silent when its absolute peak amplitude is
// below Threshold.
type PeakClassifier struct {
	Threshold int
}

// IsSilent implements Classifier
func (c PeakClassifier) IsSilent(frame []int16) bool {
	return PeakAmplitude(frame) < c.Threshold
}

// EnergyClassifier marks a frame silent when its RMS energy is below
// Threshold. It is less sensitive to clicks than PeakClassifier.
type EnergyClassifier struct {
	Threshold float64
}

// IsSilent implements Classifier
func (c EnergyClassifier) IsSilent(frame []int16) bool {
	return CalculateRMS(frame) < c.Threshold
}

// SilenceFrameLimit converts a silence duration in seconds into a number of
// frames. A recording stops once the count of consecutive silent frames
// exceeds this value.
func SilenceFrameLimit(seconds float64, sampleRate, frameSize int) float64 {
	if frameSize <= 0 {
		return 0
	}
	return seconds * float64(sampleRate) / float64(frameSize)
}
