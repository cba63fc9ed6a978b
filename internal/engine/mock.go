package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/voxalabs/voxa-core/internal/audio"
)

// Mock is a deterministic in-process engine: identical seed and inputs
// produce bit-identical chunk sequences. It exists for tests and for
// running the stack without a model backend.
type Mock struct {
	sampleRate       int
	supportsInstruct bool
	chunkLen         int
	speakers         []string

	// FailAfter, when positive, makes synthesis emit that many chunks and
	// then fail mid-stream.
	FailAfter int

	mu   sync.Mutex
	seed int64
}

func NewMock(sampleRate int, supportsInstruct bool, speakers []string, chunkLen int) *Mock {
	if chunkLen <= 0 {
		chunkLen = sampleRate / 4
	}
	return &Mock{
		sampleRate:       sampleRate,
		supportsInstruct: supportsInstruct,
		chunkLen:         chunkLen,
		speakers:         speakers,
	}
}

func (m *Mock) ListSpeakers() []string {
	return append([]string(nil), m.speakers...)
}

func (m *Mock) SupportsInstruct() bool { return m.supportsInstruct }

func (m *Mock) SampleRate() int { return m.sampleRate }

func (m *Mock) ApplySeed(seed int64) {
	m.mu.Lock()
	m.seed = seed
	m.mu.Unlock()
}

func (m *Mock) SynthesizeFromSpeaker(ctx context.Context, text, speakerID string, p Params) (<-chan RawChunk, <-chan error) {
	return m.synthesize(ctx, "speaker\x00"+speakerID, text, p)
}

func (m *Mock) SynthesizeFromReference(ctx context.Context, text, referenceText string, reference audio.Clip, p Params) (<-chan RawChunk, <-chan error) {
	return m.synthesize(ctx, "reference\x00"+referenceText, text, p)
}

func (m *Mock) SynthesizeCrossLingual(ctx context.Context, text string, reference audio.Clip, p Params) (<-chan RawChunk, <-chan error) {
	return m.synthesize(ctx, "crosslingual", text, p)
}

func (m *Mock) SynthesizeWithInstruction(ctx context.Context, text, speakerID, instruction string, p Params) (<-chan RawChunk, <-chan error) {
	return m.synthesize(ctx, "instruct\x00"+speakerID+"\x00"+instruction, text, p)
}

func (m *Mock) synthesize(ctx context.Context, op, text string, p Params) (<-chan RawChunk, <-chan error) {
	m.mu.Lock()
	seed := m.seed
	m.mu.Unlock()

	chunks := make(chan RawChunk)
	errs := make(chan error, 1)

	speed := p.Speed
	if speed <= 0 {
		speed = 1
	}

	go func() {
		defer close(chunks)
		defer close(errs)

		rng := rand.New(rand.NewPCG(uint64(seed), xxhash.Sum64String(op+"\x00"+text)))

		// Roughly 60 ms of audio per input character, stretched by speed.
		total := int(float64(m.sampleRate) * 0.06 * float64(len(text)) / speed)
		if total < m.chunkLen {
			total = m.chunkLen
		}

		emitted, count := 0, 0
		for emitted < total {
			n := total - emitted
			if p.Streaming && n > m.chunkLen {
				n = m.chunkLen
			}
			buf := make([]float32, n)
			for i := range buf {
				buf[i] = float32(rng.Float64()*1.6 - 0.8)
			}
			select {
			case chunks <- RawChunk{Samples: buf}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			emitted += n
			count++
			if m.FailAfter > 0 && count >= m.FailAfter {
				errs <- errors.New("model inference failed")
				return
			}
		}
	}()

	return chunks, errs
}
