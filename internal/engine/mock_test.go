package engine

import (
	"context"
	"testing"

	"github.com/voxalabs/voxa-core/internal/audio"
)

func collect(t *testing.T, chunks <-chan RawChunk, errs <-chan error) ([]RawChunk, error) {
	t.Helper()
	var out []RawChunk
	var failure error
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			out = append(out, chunk)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				failure = err
			}
		}
	}
	return out, failure
}

func TestMockDeterministic(t *testing.T) {
	m := NewMock(24000, false, nil, 2400)
	p := Params{Streaming: true, Speed: 1.0}

	m.ApplySeed(42)
	firstChunks, firstErrs := m.SynthesizeFromSpeaker(context.Background(), "hello world", "alto", p)
	first, err := collect(t, firstChunks, firstErrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ApplySeed(42)
	secondChunks, secondErrs := m.SynthesizeFromSpeaker(context.Background(), "hello world", "alto", p)
	second, err := collect(t, secondChunks, secondErrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i].Samples) != len(second[i].Samples) {
			t.Fatalf("chunk %d length differs", i)
		}
		for j := range first[i].Samples {
			if first[i].Samples[j] != second[i].Samples[j] {
				t.Fatalf("chunk %d sample %d differs", i, j)
			}
		}
	}
}

func TestMockSeedChangesOutput(t *testing.T) {
	m := NewMock(24000, false, nil, 2400)
	p := Params{Streaming: false, Speed: 1.0}

	m.ApplySeed(1)
	firstChunks, firstErrs := m.SynthesizeFromSpeaker(context.Background(), "hello", "alto", p)
	first, _ := collect(t, firstChunks, firstErrs)
	m.ApplySeed(2)
	secondChunks, secondErrs := m.SynthesizeFromSpeaker(context.Background(), "hello", "alto", p)
	second, _ := collect(t, secondChunks, secondErrs)

	same := len(first) == len(second)
	if same {
	outer:
		for i := range first {
			for j := range first[i].Samples {
				if first[i].Samples[j] != second[i].Samples[j] {
					same = false
					break outer
				}
			}
		}
	}
	if same {
		t.Fatal("expected different seeds to produce different audio")
	}
}

func TestMockStreamingSplitsChunks(t *testing.T) {
	m := NewMock(24000, false, nil, 1200)

	streamedChunks, streamedErrs := m.SynthesizeCrossLingual(context.Background(), "a long enough sentence to span chunks", audio.Clip{}, Params{Streaming: true, Speed: 1.0})
	streamed, err := collect(t, streamedChunks, streamedErrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bufferedChunks, bufferedErrs := m.SynthesizeCrossLingual(context.Background(), "a long enough sentence to span chunks", audio.Clip{}, Params{Streaming: false, Speed: 1.0})
	buffered, err := collect(t, bufferedChunks, bufferedErrs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(streamed) < 2 {
		t.Fatalf("expected multiple streamed chunks, got %d", len(streamed))
	}
	if len(buffered) != 1 {
		t.Fatalf("expected one buffered chunk, got %d", len(buffered))
	}
}

func TestMockFailAfter(t *testing.T) {
	m := NewMock(24000, false, nil, 1200)
	m.FailAfter = 2

	chunkCh, errCh := m.SynthesizeFromSpeaker(context.Background(), "a long enough sentence to span several chunks", "alto", Params{Streaming: true, Speed: 1.0})
	chunks, err := collect(t, chunkCh, errCh)
	if err == nil {
		t.Fatal("expected mid-stream failure")
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks before failure, got %d", len(chunks))
	}
}

func TestMockCancellation(t *testing.T) {
	m := NewMock(24000, false, nil, 1200)
	ctx, cancel := context.WithCancel(context.Background())
	chunks, errs := m.SynthesizeFromSpeaker(ctx, "a long enough sentence to span several chunks", "alto", Params{Streaming: true, Speed: 1.0})

	<-chunks
	cancel()

	var sawErr bool
	for err := range errs {
		if err != nil {
			sawErr = true
		}
	}
	for range chunks {
	}
	if !sawErr {
		t.Fatal("expected cancellation error")
	}
}
