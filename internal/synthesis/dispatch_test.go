package synthesis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/voxalabs/voxa-core/internal/audio"
	"github.com/voxalabs/voxa-core/internal/engine"
)

const testRate = 24000

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// recordingEngine wraps the mock so tests can assert which operation ran
// and what reference audio it received.
type recordingEngine struct {
	*engine.Mock

	mu    sync.Mutex
	calls []string
	refs  []audio.Clip
}

func (r *recordingEngine) record(op string, ref audio.Clip) {
	r.mu.Lock()
	r.calls = append(r.calls, op)
	r.refs = append(r.refs, ref)
	r.mu.Unlock()
}

func (r *recordingEngine) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingEngine) SynthesizeFromSpeaker(ctx context.Context, text, speakerID string, p engine.Params) (<-chan engine.RawChunk, <-chan error) {
	r.record("speaker", audio.Clip{})
	return r.Mock.SynthesizeFromSpeaker(ctx, text, speakerID, p)
}

func (r *recordingEngine) SynthesizeFromReference(ctx context.Context, text, referenceText string, reference audio.Clip, p engine.Params) (<-chan engine.RawChunk, <-chan error) {
	r.record("reference", reference)
	return r.Mock.SynthesizeFromReference(ctx, text, referenceText, reference, p)
}

func (r *recordingEngine) SynthesizeCrossLingual(ctx context.Context, text string, reference audio.Clip, p engine.Params) (<-chan engine.RawChunk, <-chan error) {
	r.record("crosslingual", reference)
	return r.Mock.SynthesizeCrossLingual(ctx, text, reference, p)
}

func (r *recordingEngine) SynthesizeWithInstruction(ctx context.Context, text, speakerID, instruction string, p engine.Params) (<-chan engine.RawChunk, <-chan error) {
	r.record("instruct", audio.Clip{})
	return r.Mock.SynthesizeWithInstruction(ctx, text, speakerID, instruction, p)
}

func newTestDispatcher(t *testing.T, eng engine.Engine) *Dispatcher {
	t.Helper()
	proc, err := audio.NewProcessorCache(audio.NewProcessor(testRate), 4)
	if err != nil {
		t.Fatalf("processor cache: %v", err)
	}
	return NewDispatcher(eng, NewSeeder(eng), proc, discardLogger())
}

// collectStream drains both channels until closed, returning the chunks in
// order and the first error seen.
func collectStream(chunks <-chan Chunk, errs <-chan error) ([]Chunk, error) {
	var out []Chunk
	var firstErr error
	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			out = append(out, c)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return out, firstErr
}

func referenceTone(sampleRate int, amplitude float32) *audio.Clip {
	clip := audio.Clip{SampleRate: sampleRate, Samples: make([]float32, sampleRate)}
	for i := range clip.Samples {
		if i%2 == 0 {
			clip.Samples[i] = amplitude
		} else {
			clip.Samples[i] = -amplitude
		}
	}
	return &clip
}

func TestDispatchTagsFinalChunk(t *testing.T) {
	rec := &recordingEngine{Mock: engine.NewMock(testRate, false, nil, 0)}
	d := newTestDispatcher(t, rec)

	req := Request{
		Text:           strings.Repeat("say this again ", 4),
		Mode:           ModeFastReplication,
		ReferenceAudio: referenceTone(16000, 0.5),
		ReferenceText:  "say this again",
		Seed:           42,
		Streaming:      true,
		Speed:          1.0,
	}

	chunks, err := collectStream(d.Dispatch(context.Background(), req))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected a multi-chunk stream, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if c.SampleRate != testRate {
			t.Fatalf("chunk %d has rate %d, want %d", i, c.SampleRate, testRate)
		}
		isLast := i == len(chunks)-1
		if c.Final != isLast {
			t.Fatalf("chunk %d final=%v, want %v", i, c.Final, isLast)
		}
	}
	if calls := rec.Calls(); len(calls) != 1 || calls[0] != "reference" {
		t.Fatalf("expected one reference call, got %v", calls)
	}
}

func TestDispatchBufferedStreamIsSingleFinalChunk(t *testing.T) {
	rec := &recordingEngine{Mock: engine.NewMock(testRate, false, []string{"alto"}, 0)}
	d := newTestDispatcher(t, rec)

	req := Request{Text: "short line", Mode: ModePretrainedVoice, SpeakerID: "alto", Seed: 7, Speed: 1.0}
	chunks, err := collectStream(d.Dispatch(context.Background(), req))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected one buffered chunk, got %d", len(chunks))
	}
	if !chunks[0].Final {
		t.Fatal("single chunk must be final")
	}
}

// silentEngine completes immediately without producing any audio.
type silentEngine struct {
	*engine.Mock
}

func (silentEngine) SynthesizeFromSpeaker(context.Context, string, string, engine.Params) (<-chan engine.RawChunk, <-chan error) {
	chunks := make(chan engine.RawChunk)
	errs := make(chan error)
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestDispatchEmptyStreamEndsWithFinalChunk(t *testing.T) {
	eng := silentEngine{Mock: engine.NewMock(testRate, false, []string{"alto"}, 0)}
	d := newTestDispatcher(t, eng)

	req := Request{Text: "hello", Mode: ModePretrainedVoice, SpeakerID: "alto", Seed: 1, Speed: 1.0}
	chunks, err := collectStream(d.Dispatch(context.Background(), req))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected a single final marker, got %d chunks", len(chunks))
	}
	if !chunks[0].Final {
		t.Fatal("empty stream must still end with a final chunk")
	}
	if len(chunks[0].Samples) != 0 {
		t.Fatalf("final marker should carry no samples, got %d", len(chunks[0].Samples))
	}
	if chunks[0].SampleRate != testRate {
		t.Fatalf("final marker has rate %d, want %d", chunks[0].SampleRate, testRate)
	}
}

func TestDispatchMidStreamFailure(t *testing.T) {
	mock := engine.NewMock(testRate, false, nil, 0)
	mock.FailAfter = 2
	d := newTestDispatcher(t, mock)

	req := Request{
		Text:           strings.Repeat("long enough for many chunks ", 4),
		Mode:           ModeCrossLingual,
		ReferenceAudio: referenceTone(16000, 0.5),
		Seed:           11,
		Streaming:      true,
		Speed:          1.0,
	}

	chunks, err := collectStream(d.Dispatch(context.Background(), req))
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("expected ErrSynthesisFailed, got %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected the two chunks produced before the failure, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Final {
			t.Fatalf("chunk %d marked final on a failed stream", i)
		}
	}
}

func TestDispatchPostProcessesReference(t *testing.T) {
	rec := &recordingEngine{Mock: engine.NewMock(testRate, false, nil, 0)}
	d := newTestDispatcher(t, rec)

	// Peak of 1.6 must be scaled down to the 0.8 ceiling before the engine
	// sees the clip, and the silence pad appended.
	req := Request{
		Text:           "clone me",
		Mode:           ModeFastReplication,
		ReferenceAudio: referenceTone(16000, 1.6),
		ReferenceText:  "clone me",
		Seed:           3,
		Speed:          1.0,
	}
	if _, err := collectStream(d.Dispatch(context.Background(), req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.mu.Lock()
	got := rec.refs[0]
	rec.mu.Unlock()

	for i, s := range got.Samples {
		if s > 0.8 || s < -0.8 {
			t.Fatalf("sample %d = %f exceeds peak ceiling", i, s)
		}
	}
	pad := testRate / 5
	if len(got.Samples) < pad {
		t.Fatalf("processed reference shorter than the pad: %d samples", len(got.Samples))
	}
	for _, s := range got.Samples[len(got.Samples)-pad:] {
		if s != 0 {
			t.Fatal("expected trailing silence pad")
		}
	}
	if len(req.ReferenceAudio.Samples) != 16000 {
		t.Fatal("dispatch must not mutate the caller's reference clip")
	}
}

func TestDispatchReferenceCacheHit(t *testing.T) {
	rec := &recordingEngine{Mock: engine.NewMock(testRate, false, nil, 0)}
	d := newTestDispatcher(t, rec)

	req := Request{
		Text:           "clone me",
		Mode:           ModeFastReplication,
		ReferenceAudio: referenceTone(16000, 0.5),
		ReferenceText:  "clone me",
		Seed:           3,
		Speed:          1.0,
	}
	if _, err := collectStream(d.Dispatch(context.Background(), req)); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if _, err := collectStream(d.Dispatch(context.Background(), req)); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.refs) != 2 {
		t.Fatalf("expected two engine calls, got %d", len(rec.refs))
	}
	if &rec.refs[0].Samples[0] != &rec.refs[1].Samples[0] {
		t.Fatal("expected the cached processed clip on the second dispatch")
	}
}
