package audio

import (
	"math"
	"time"
)

// Post-processing parameters for reference audio, chosen to match the
// upstream model's expectations: edges quieter than 60 dB below the loudest
// frame are trimmed, peaks are clamped to 0.8, and a 0.2 s tail of silence
// is appended at the engine's native rate.
const (
	DefaultTopDB       = 60.0
	DefaultFrameLength = 440
	DefaultHopLength   = 220

	peakCeiling = 0.8
	padDuration = 200 * time.Millisecond
)

// Processor prepares reference clips for synthesis.
type Processor struct {
	engineRate  int
	topDB       float64
	frameLength int
	hopLength   int
}

func NewProcessor(engineRate int) *Processor {
	return &Processor{
		engineRate:  engineRate,
		topDB:       DefaultTopDB,
		frameLength: DefaultFrameLength,
		hopLength:   DefaultHopLength,
	}
}

// Process trims silent edges, normalizes the peak and appends the silence
// pad. The input clip is not mutated. Applying Process to its own output
// changes nothing further.
func (p *Processor) Process(clip Clip) Clip {
	trimmed := trim(clip.Samples, p.topDB, p.frameLength, p.hopLength)

	peak := peakAbs(trimmed)
	out := make([]float32, len(trimmed), len(trimmed)+padSamples(p.engineRate))
	if peak > peakCeiling {
		scale := float32(peakCeiling / float64(peak))
		for i, s := range trimmed {
			out[i] = s * scale
		}
	} else {
		copy(out, trimmed)
	}

	out = append(out, make([]float32, padSamples(p.engineRate))...)
	return Clip{SampleRate: clip.SampleRate, Samples: out}
}

func padSamples(engineRate int) int {
	return int(float64(engineRate) * padDuration.Seconds())
}

// trim returns the slice of samples between the first and last frame whose
// RMS energy reaches within topDB of the loudest frame. A fully silent
// signal trims to nothing.
func trim(samples []float32, topDB float64, frameLength, hopLength int) []float32 {
	if len(samples) == 0 {
		return nil
	}

	var energies []float64
	for start := 0; start < len(samples); start += hopLength {
		end := start + frameLength
		if end > len(samples) {
			end = len(samples)
		}
		energies = append(energies, rms(samples[start:end]))
		if end == len(samples) {
			break
		}
	}

	ref := 0.0
	for _, e := range energies {
		if e > ref {
			ref = e
		}
	}
	if ref == 0 {
		return nil
	}
	threshold := ref * math.Pow(10, -topDB/20)

	first, last := -1, -1
	for i, e := range energies {
		if e >= threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}

	// The kept range ends one hop past the last energetic frame, keeping
	// both edges on the hop grid so a second pass sees the same frames.
	lo := first * hopLength
	hi := (last + 1) * hopLength
	if hi > len(samples) {
		hi = len(samples)
	}
	return samples[lo:hi]
}

func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

func peakAbs(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}
