package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Clip is a mono waveform with its native sample rate. Clips are treated
// as immutable once constructed; transformations return new clips.
type Clip struct {
	SampleRate int
	Samples    []float32
}

// Silence returns a clip of zeros covering d at the given rate.
func Silence(sampleRate int, d time.Duration) Clip {
	n := int(float64(sampleRate) * d.Seconds())
	if n < 0 {
		n = 0
	}
	return Clip{SampleRate: sampleRate, Samples: make([]float32, n)}
}

func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

func (c Clip) Empty() bool {
	return len(c.Samples) == 0
}

// FromPCM16 decodes 16-bit little-endian mono PCM into a clip.
func FromPCM16(pcm []byte, sampleRate int) (Clip, error) {
	if len(pcm)%2 != 0 {
		return Clip{}, fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(s) / 32768
	}
	return Clip{SampleRate: sampleRate, Samples: samples}, nil
}

// PCM16 encodes the clip as 16-bit little-endian PCM, clipping out-of-range
// samples rather than wrapping them.
func (c Clip) PCM16() []byte {
	out := make([]byte, len(c.Samples)*2)
	for i, s := range c.Samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
