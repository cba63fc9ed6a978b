package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxalabs/voxa-core/internal/audio"
	"github.com/voxalabs/voxa-core/internal/engine"
)

// ErrSynthesisFailed wraps an engine error raised mid-stream. It is fatal
// to the request and never retried.
var ErrSynthesisFailed = errors.New("synthesis failed")

// Dispatcher maps a validated request to the matching engine operation,
// feeding it post-processed reference audio where required, and re-emits
// the engine's chunk stream with the final chunk tagged.
type Dispatcher struct {
	eng    engine.Engine
	seeder *Seeder
	proc   *audio.ProcessorCache
	logger *slog.Logger
}

func NewDispatcher(eng engine.Engine, seeder *Seeder, proc *audio.ProcessorCache, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		eng:    eng,
		seeder: seeder,
		proc:   proc,
		logger: logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch starts the engine call for the request. It must only be called
// when validation allowed the request to proceed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	params := engine.Params{Streaming: req.Streaming, Speed: req.Speed}

	var raw <-chan engine.RawChunk
	var rawErrs <-chan error

	switch req.Mode {
	case ModePretrainedVoice:
		d.logger.Info("pretrained voice request", slog.String("speaker", req.SpeakerID))
		raw, rawErrs = d.seeder.Seeded(req.Seed, func() (<-chan engine.RawChunk, <-chan error) {
			return d.eng.SynthesizeFromSpeaker(ctx, req.Text, req.SpeakerID, params)
		})
	case ModeFastReplication:
		d.logger.Info("fast replication request")
		reference := d.proc.Process(*req.ReferenceAudio)
		raw, rawErrs = d.seeder.Seeded(req.Seed, func() (<-chan engine.RawChunk, <-chan error) {
			return d.eng.SynthesizeFromReference(ctx, req.Text, req.ReferenceText, reference, params)
		})
	case ModeCrossLingual:
		d.logger.Info("cross-lingual request")
		reference := d.proc.Process(*req.ReferenceAudio)
		raw, rawErrs = d.seeder.Seeded(req.Seed, func() (<-chan engine.RawChunk, <-chan error) {
			return d.eng.SynthesizeCrossLingual(ctx, req.Text, reference, params)
		})
	default:
		d.logger.Info("instruct request", slog.String("speaker", req.SpeakerID))
		raw, rawErrs = d.seeder.Seeded(req.Seed, func() (<-chan engine.RawChunk, <-chan error) {
			return d.eng.SynthesizeWithInstruction(ctx, req.Text, req.SpeakerID, req.InstructionText, params)
		})
	}

	return d.relay(ctx, raw, rawErrs)
}

// relay re-emits engine chunks in order, holding one chunk back so the last
// can be marked final. An engine error terminates the stream after any held
// chunk is flushed.
func (d *Dispatcher) relay(ctx context.Context, raw <-chan engine.RawChunk, rawErrs <-chan error) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk)
	errs := make(chan error, 1)
	sampleRate := d.eng.SampleRate()

	go func() {
		defer close(out)
		defer close(errs)

		var pending *Chunk
		flush := func(final bool) bool {
			if pending == nil {
				return true
			}
			pending.Final = final
			select {
			case out <- *pending:
				pending = nil
				return true
			case <-ctx.Done():
				return false
			}
		}

		for raw != nil || rawErrs != nil {
			select {
			case chunk, ok := <-raw:
				if !ok {
					raw = nil
					continue
				}
				if !flush(false) {
					return
				}
				pending = &Chunk{SampleRate: sampleRate, Samples: chunk.Samples}
			case err, ok := <-rawErrs:
				if !ok {
					rawErrs = nil
					continue
				}
				if err != nil {
					if !flush(false) {
						return
					}
					// Caller disconnection is not an engine failure.
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						errs <- err
						return
					}
					errs <- fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
		if pending == nil {
			// The stream always ends with a final marker, even when the
			// engine emitted nothing.
			select {
			case out <- Chunk{SampleRate: sampleRate, Final: true}:
			case <-ctx.Done():
			}
			return
		}
		_ = flush(true)
	}()

	return out, errs
}
