package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/voxalabs/voxa-core/internal/audio"
	"github.com/voxalabs/voxa-core/internal/config"
	"github.com/voxalabs/voxa-core/internal/engine"
	"github.com/voxalabs/voxa-core/internal/recognizer"
)

type failRecognizer struct{}

func (failRecognizer) Transcribe(context.Context, audio.Clip) (string, error) {
	return "", errors.New("decoder crashed")
}

func newTestOrchestrator(t *testing.T, eng engine.Engine, rec recognizer.Recognizer, maxConcurrent int) *Orchestrator {
	t.Helper()
	cfg := config.OrchestratorConfig{MaxConcurrent: maxConcurrent, ReferenceCache: 4}
	validator := NewValidator(Capabilities{
		SupportsInstruct: eng.SupportsInstruct(),
		MinReferenceRate: 16000,
	})
	proc, err := audio.NewProcessorCache(audio.NewProcessor(eng.SampleRate()), cfg.ReferenceCache)
	if err != nil {
		t.Fatalf("processor cache: %v", err)
	}
	dispatcher := NewDispatcher(eng, NewSeeder(eng), proc, discardLogger())
	return NewOrchestrator(cfg, validator, dispatcher, eng, rec, discardLogger())
}

func TestHandleBlockedRequestYieldsSilence(t *testing.T) {
	rec := &recordingEngine{Mock: engine.NewMock(testRate, false, []string{"alto"}, 0)}
	o := newTestOrchestrator(t, rec, recognizer.NewMock(), 2)

	req := Request{Text: "hello", Mode: ModePretrainedVoice, SpeakerID: "", Seed: 1, Speed: 1.0}
	outcome, chunks, errs := o.Handle(context.Background(), req)
	if outcome.CanProceed() {
		t.Fatal("expected the request to be blocked")
	}

	got, err := collectStream(chunks, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one placeholder chunk, got %d", len(got))
	}
	c := got[0]
	if !c.Final {
		t.Fatal("placeholder chunk must be final")
	}
	if c.SampleRate != testRate || len(c.Samples) != testRate {
		t.Fatalf("expected one second of silence at %d Hz, got %d samples at %d Hz", testRate, len(c.Samples), c.SampleRate)
	}
	for i, s := range c.Samples {
		if s != 0 {
			t.Fatalf("placeholder sample %d = %f, want silence", i, s)
		}
	}
	if calls := rec.Calls(); len(calls) != 0 {
		t.Fatalf("blocked request must not reach the engine, saw %v", calls)
	}
}

func TestHandleBlocksLowRateReferenceBeforeEngine(t *testing.T) {
	rec := &recordingEngine{Mock: engine.NewMock(testRate, false, nil, 0)}
	o := newTestOrchestrator(t, rec, recognizer.NewMock(), 2)

	req := Request{
		Text:           "bonjour",
		Mode:           ModeCrossLingual,
		ReferenceAudio: referenceTone(8000, 0.5),
		Seed:           5,
		Speed:          1.0,
	}
	outcome, chunks, errs := o.Handle(context.Background(), req)
	if outcome.CanProceed() {
		t.Fatal("expected an 8kHz reference to block")
	}
	if first, _ := outcome.FirstBlocking(); first.Code != CodeSampleRateLow {
		t.Fatalf("expected %s, got %s", CodeSampleRateLow, first.Code)
	}
	if _, err := collectStream(chunks, errs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := rec.Calls(); len(calls) != 0 {
		t.Fatalf("blocked request must not reach the engine, saw %v", calls)
	}
}

func TestHandleValidRequestStreamsToFinal(t *testing.T) {
	eng := engine.NewMock(testRate, false, nil, 0)
	o := newTestOrchestrator(t, eng, recognizer.NewMock(), 2)

	req := Request{
		Text:           strings.Repeat("replicate this voice ", 3),
		Mode:           ModeFastReplication,
		ReferenceAudio: referenceTone(16000, 0.5),
		ReferenceText:  "replicate this voice",
		Seed:           42,
		Streaming:      true,
		Speed:          1.0,
	}
	outcome, chunks, errs := o.Handle(context.Background(), req)
	if !outcome.CanProceed() {
		t.Fatalf("expected request to proceed: %+v", outcome.Diagnostics)
	}
	got, err := collectStream(chunks, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected audio chunks")
	}
	for i, c := range got {
		if c.Final != (i == len(got)-1) {
			t.Fatalf("chunk %d final=%v", i, c.Final)
		}
	}
}

func TestHandleSurfacesMidStreamFailure(t *testing.T) {
	eng := engine.NewMock(testRate, false, nil, 0)
	eng.FailAfter = 2
	o := newTestOrchestrator(t, eng, recognizer.NewMock(), 2)

	req := Request{
		Text:           strings.Repeat("this stream will not survive ", 4),
		Mode:           ModeCrossLingual,
		ReferenceAudio: referenceTone(16000, 0.5),
		Seed:           9,
		Streaming:      true,
		Speed:          1.0,
	}
	outcome, chunks, errs := o.Handle(context.Background(), req)
	if !outcome.CanProceed() {
		t.Fatalf("expected request to proceed: %+v", outcome.Diagnostics)
	}
	got, err := collectStream(chunks, errs)
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("expected ErrSynthesisFailed, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected the two chunks emitted before the failure, got %d", len(got))
	}
}

func TestHandleDeterministicForFixedSeed(t *testing.T) {
	eng := engine.NewMock(testRate, false, nil, 0)
	o := newTestOrchestrator(t, eng, recognizer.NewMock(), 2)

	req := Request{
		Text:           "same words, same seed",
		Mode:           ModeFastReplication,
		ReferenceAudio: referenceTone(16000, 0.5),
		ReferenceText:  "same words",
		Seed:           1234,
		Streaming:      true,
		Speed:          1.0,
	}

	run := func() []float32 {
		_, chunks, errs := o.Handle(context.Background(), req)
		got, err := collectStream(chunks, errs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var all []float32
		for _, c := range got {
			all = append(all, c.Samples...)
		}
		return all
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("run lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("sample %d differs: %f vs %f", i, first[i], second[i])
		}
	}
}

func TestHandleReleasesSlotAfterCancellation(t *testing.T) {
	eng := engine.NewMock(testRate, false, nil, 0)
	o := newTestOrchestrator(t, eng, recognizer.NewMock(), 1)

	req := Request{
		Text:           strings.Repeat("a very long utterance indeed ", 6),
		Mode:           ModeFastReplication,
		ReferenceAudio: referenceTone(16000, 0.5),
		ReferenceText:  "long utterance",
		Seed:           77,
		Streaming:      true,
		Speed:          1.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, chunks, errs := o.Handle(ctx, req)
	if _, ok := <-chunks; !ok {
		t.Fatal("expected at least one chunk before cancelling")
	}
	cancel()
	if _, err := collectStream(chunks, errs); err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error after cancel: %v", err)
	}

	// The abandoned request must have given its slot back or this one
	// never starts.
	next, cancelNext := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelNext()
	_, chunks, errs = o.Handle(next, req)
	got, err := collectStream(chunks, errs)
	if err != nil {
		t.Fatalf("follow-up request failed: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("follow-up request produced no audio")
	}
}

func TestHandleRequestTimeout(t *testing.T) {
	eng := engine.NewMock(testRate, false, []string{"alto"}, 0)
	cfg := config.OrchestratorConfig{MaxConcurrent: 1, RequestTimeoutMS: 1, ReferenceCache: 0}
	validator := NewValidator(Capabilities{MinReferenceRate: 16000})
	proc, err := audio.NewProcessorCache(audio.NewProcessor(testRate), 0)
	if err != nil {
		t.Fatalf("processor cache: %v", err)
	}
	dispatcher := NewDispatcher(eng, NewSeeder(eng), proc, discardLogger())
	o := NewOrchestrator(cfg, validator, dispatcher, eng, recognizer.NewMock(), discardLogger())

	req := Request{
		Text:      strings.Repeat("far too much text for one millisecond ", 50),
		Mode:      ModePretrainedVoice,
		SpeakerID: "alto",
		Seed:      1,
		Streaming: true,
		Speed:     1.0,
	}
	_, chunks, errs := o.Handle(context.Background(), req)
	time.Sleep(10 * time.Millisecond)
	if _, err := collectStream(chunks, errs); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error: %v", err)
	}

	// Slot must be free again.
	_, chunks, errs = o.Handle(context.Background(), Request{Text: "hi", Mode: ModePretrainedVoice, SpeakerID: "alto", Seed: 1, Speed: 1.0})
	if got, err := collectStream(chunks, errs); err != nil || len(got) == 0 {
		t.Fatalf("follow-up after timeout failed: chunks=%d err=%v", len(got), err)
	}
}

func TestTranscribeReference(t *testing.T) {
	eng := engine.NewMock(testRate, false, nil, 0)

	o := newTestOrchestrator(t, eng, recognizer.NewMock(), 2)
	clip := referenceTone(16000, 0.5)
	if text := o.TranscribeReference(context.Background(), *clip); text == "" {
		t.Fatal("expected a transcript from the working recognizer")
	}

	failing := newTestOrchestrator(t, eng, failRecognizer{}, 2)
	if text := failing.TranscribeReference(context.Background(), *clip); text != "" {
		t.Fatalf("recognition failure must yield an empty transcript, got %q", text)
	}

	if text := o.TranscribeReference(context.Background(), audio.Clip{SampleRate: 16000}); text != "" {
		t.Fatalf("empty clip must yield an empty transcript, got %q", text)
	}
}

func TestSpeakersDegradeToPlaceholder(t *testing.T) {
	empty := newTestOrchestrator(t, engine.NewMock(testRate, false, nil, 0), recognizer.NewMock(), 2)
	if got := empty.Speakers(); len(got) != 1 || got[0] != "" {
		t.Fatalf("expected placeholder catalog, got %v", got)
	}

	full := newTestOrchestrator(t, engine.NewMock(testRate, false, []string{"alto", "tenor"}, 0), recognizer.NewMock(), 2)
	if got := full.Speakers(); len(got) != 2 || got[0] != "alto" {
		t.Fatalf("expected engine catalog, got %v", got)
	}
}
