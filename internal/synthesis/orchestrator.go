package synthesis

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxalabs/voxa-core/internal/audio"
	"github.com/voxalabs/voxa-core/internal/config"
	"github.com/voxalabs/voxa-core/internal/engine"
	"github.com/voxalabs/voxa-core/internal/recognizer"
)

// Orchestrator is the entry point for synthesis requests: validate, block
// with a silence placeholder, or dispatch and relay the stream. A semaphore
// bounds how many requests may be mid-synthesis at once; the rest queue in
// arrival order.
type Orchestrator struct {
	cfg        config.OrchestratorConfig
	validator  *Validator
	dispatcher *Dispatcher
	eng        engine.Engine
	rec        recognizer.Recognizer
	logger     *slog.Logger
	sema       chan struct{}

	meter         metric.Meter
	requestsTotal metric.Int64Counter
	blockedTotal  metric.Int64Counter
	failedTotal   metric.Int64Counter
	chunksTotal   metric.Int64Counter
}

func NewOrchestrator(cfg config.OrchestratorConfig, validator *Validator, dispatcher *Dispatcher, eng engine.Engine, rec recognizer.Recognizer, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		validator:  validator,
		dispatcher: dispatcher,
		eng:        eng,
		rec:        rec,
		logger:     logger.With(slog.String("component", "orchestrator")),
		sema:       make(chan struct{}, cfg.MaxConcurrent),
		meter:      otel.Meter("github.com/voxalabs/voxa-core/synthesis"),
	}
	if err := o.initMetrics(); err != nil {
		o.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return o
}

func (o *Orchestrator) initMetrics() error {
	var err error
	if o.requestsTotal, err = o.meter.Int64Counter("voxa.synthesis.requests", metric.WithDescription("Synthesis requests handled")); err != nil {
		return err
	}
	if o.blockedTotal, err = o.meter.Int64Counter("voxa.synthesis.blocked", metric.WithDescription("Requests blocked by validation")); err != nil {
		return err
	}
	if o.failedTotal, err = o.meter.Int64Counter("voxa.synthesis.failures", metric.WithDescription("Requests failed mid-stream")); err != nil {
		return err
	}
	if o.chunksTotal, err = o.meter.Int64Counter("voxa.synthesis.chunks", metric.WithDescription("Audio chunks emitted")); err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) count(counter metric.Int64Counter, ctx context.Context, n int64, mode Mode) {
	if counter == nil {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attribute.String("mode", mode.String())))
}

// Handle validates the request and returns its diagnostics alongside the
// response stream. A blocked request yields exactly one final chunk of
// silence at the engine's native rate, so callers always receive a
// well-formed stream.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Outcome, <-chan Chunk, <-chan error) {
	o.count(o.requestsTotal, ctx, 1, req.Mode)

	outcome := o.validator.Validate(req)
	if !outcome.CanProceed() {
		first, _ := outcome.FirstBlocking()
		o.logger.Warn("request blocked",
			slog.String("mode", req.Mode.String()),
			slog.String("code", first.Code),
			slog.String("reason", first.Message))
		o.count(o.blockedTotal, ctx, 1, req.Mode)
		return outcome, o.silence(), closedErrs()
	}

	cancel := context.CancelFunc(func() {})
	if o.cfg.RequestTimeoutMS > 0 {
		// On expiry this is equivalent to caller disconnection.
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.cfg.RequestTimeoutMS)*time.Millisecond)
	}

	out := make(chan Chunk)
	errs := make(chan error, 1)

	go func() {
		defer cancel()
		defer close(out)
		defer close(errs)

		select {
		case o.sema <- struct{}{}:
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		}
		defer func() { <-o.sema }()

		chunks, dispatchErrs := o.dispatcher.Dispatch(ctx, req)
		for chunks != nil || dispatchErrs != nil {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				select {
				case out <- chunk:
					o.count(o.chunksTotal, ctx, 1, req.Mode)
				case <-ctx.Done():
					return
				}
			case err, ok := <-dispatchErrs:
				if !ok {
					dispatchErrs = nil
					continue
				}
				if err != nil {
					o.logger.Error("synthesis failed", slog.String("mode", req.Mode.String()), slogError(err))
					o.count(o.failedTotal, ctx, 1, req.Mode)
					errs <- err
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return outcome, out, errs
}

// TranscribeReference prefills the reference transcript from a clip.
// Recognition failures are recovered locally: the caller gets an empty
// string and the field stays blank.
func (o *Orchestrator) TranscribeReference(ctx context.Context, clip audio.Clip) string {
	if o.rec == nil || clip.Empty() {
		return ""
	}
	text, err := o.rec.Transcribe(ctx, clip)
	if err != nil {
		o.logger.Warn("reference transcription failed", slogError(err))
		return ""
	}
	return text
}

// Speakers exposes the engine's pretrained voice catalog, degraded to a
// single placeholder entry when the engine reports none.
func (o *Orchestrator) Speakers() []string {
	speakers := o.eng.ListSpeakers()
	if len(speakers) == 0 {
		return []string{""}
	}
	return speakers
}

func (o *Orchestrator) silence() <-chan Chunk {
	out := make(chan Chunk, 1)
	rate := o.eng.SampleRate()
	out <- Chunk{SampleRate: rate, Samples: make([]float32, rate), Final: true}
	close(out)
	return out
}

func closedErrs() <-chan error {
	errs := make(chan error)
	close(errs)
	return errs
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
