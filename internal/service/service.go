package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voxalabs/voxa-core/internal/audio"
	"github.com/voxalabs/voxa-core/internal/bus"
	"github.com/voxalabs/voxa-core/internal/history"
	"github.com/voxalabs/voxa-core/internal/protocol"
	"github.com/voxalabs/voxa-core/internal/synthesis"
)

// Service exposes the orchestrator on the bus: synthesis requests in,
// sequence-numbered audio chunks and status messages out, plus a
// request/reply endpoint for transcription prefill.
type Service struct {
	bus     *bus.Client
	orch    *synthesis.Orchestrator
	journal *history.Store
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func New(parent context.Context, busClient *bus.Client, orch *synthesis.Orchestrator, journal *history.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:     busClient,
		orch:    orch,
		journal: journal,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "synthesis-service")),
	}
}

func (s *Service) Start() error {
	reqSub, err := s.bus.Conn().Subscribe(protocol.SubjectSynthesisRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectSynthesisRequest, err)
	}
	s.subs = append(s.subs, reqSub)

	recSub, err := s.bus.Conn().Subscribe(protocol.SubjectRecognize, s.handleRecognize)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectRecognize, err)
	}
	s.subs = append(s.subs, recSub)

	return nil
}

func (s *Service) Close() {
	s.cancel()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return len(s.subs) > 0 }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synthesis request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(req)
	}()
}

func (s *Service) serve(req protocol.SynthesisRequest) {
	started := time.Now()

	synthReq, err := ToRequest(req)
	if err != nil {
		s.logger.Warn("rejecting malformed request", slog.String("session", req.SessionID), slogError(err))
		s.publishStatus(protocol.SynthesisStatus{
			SessionID: req.SessionID,
			Blocked:   true,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		})
		return
	}

	outcome, chunks, errs := s.orch.Handle(s.ctx, synthReq)

	diags := toProtocolDiagnostics(outcome.Diagnostics)
	blocked := !outcome.CanProceed()
	s.publishStatus(protocol.SynthesisStatus{
		SessionID:   req.SessionID,
		Blocked:     blocked,
		Diagnostics: diags,
		Timestamp:   time.Now().UTC(),
	})

	var chunkCount int
	var sampleCount int64
	var streamErr error
	sequence := 0
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			s.publishChunk(req.SessionID, sequence, chunk)
			sequence++
			chunkCount++
			sampleCount += int64(len(chunk.Samples))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && streamErr == nil {
				streamErr = err
			}
		case <-s.ctx.Done():
			return
		}
	}

	status := protocol.SynthesisStatus{
		SessionID:   req.SessionID,
		Blocked:     blocked,
		Completed:   streamErr == nil,
		Diagnostics: diags,
		Timestamp:   time.Now().UTC(),
	}
	if streamErr != nil {
		status.Error = streamErr.Error()
	}
	s.publishStatus(status)

	s.record(req.SessionID, synthReq.Mode, blocked, diags, chunkCount, sampleCount, time.Since(started), streamErr)
}

func (s *Service) publishChunk(sessionID string, sequence int, chunk synthesis.Chunk) {
	packet := protocol.AudioChunk{
		SessionID:  sessionID,
		Sequence:   sequence,
		SampleRate: chunk.SampleRate,
		PCM:        audio.Clip{SampleRate: chunk.SampleRate, Samples: chunk.Samples}.PCM16(),
		Final:      chunk.Final,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		s.logger.Warn("failed to marshal audio chunk", slogError(err))
		return
	}
	subject := protocol.SubjectSynthesisAudioPrefix + "." + sessionID
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish audio chunk", slogError(err))
	}
}

func (s *Service) publishStatus(status protocol.SynthesisStatus) {
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to marshal status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSynthesisStatus, data); err != nil {
		s.logger.Warn("failed to publish status", slogError(err))
	}
}

func (s *Service) handleRecognize(msg *nats.Msg) {
	var req protocol.RecognizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode recognize request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var text string
		if clip, err := audio.FromPCM16(req.PCM, req.SampleRate); err != nil {
			s.logger.Warn("malformed recognize payload", slog.String("session", req.SessionID), slogError(err))
		} else {
			text = s.orch.TranscribeReference(s.ctx, clip)
		}

		resp := protocol.RecognizeResponse{SessionID: req.SessionID, Text: text}
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Warn("failed to marshal recognize response", slogError(err))
			return
		}
		if msg.Reply != "" {
			if err := msg.Respond(data); err != nil {
				s.logger.Warn("failed to reply to recognize request", slogError(err))
			}
		}
	}()
}

func (s *Service) record(sessionID string, mode synthesis.Mode, blocked bool, diags []protocol.Diagnostic, chunks int, samples int64, elapsed time.Duration, streamErr error) {
	if s.journal == nil {
		return
	}
	payload, err := json.Marshal(diags)
	if err != nil {
		payload = nil
	}
	rec := history.Record{
		SessionID:   sessionID,
		Mode:        mode.String(),
		Blocked:     blocked,
		Diagnostics: payload,
		Chunks:      chunks,
		Samples:     samples,
		DurationMS:  elapsed.Milliseconds(),
	}
	if streamErr != nil {
		rec.Error = streamErr.Error()
	}
	if err := s.journal.TouchSession(s.ctx, sessionID); err != nil {
		s.logger.Warn("failed to touch session", slogError(err))
		return
	}
	if err := s.journal.RecordRequest(s.ctx, rec); err != nil {
		s.logger.Warn("failed to record request", slogError(err))
	}
}

// ToRequest translates a wire request into an orchestrator request. A zero
// speed means the caller did not set one and defaults to 1.0.
func ToRequest(req protocol.SynthesisRequest) (synthesis.Request, error) {
	mode, err := synthesis.ParseMode(req.Mode)
	if err != nil {
		return synthesis.Request{}, err
	}

	out := synthesis.Request{
		Text:            req.Text,
		Mode:            mode,
		SpeakerID:       req.SpeakerID,
		ReferenceText:   req.ReferenceText,
		InstructionText: req.InstructionText,
		Seed:            req.Seed,
		Streaming:       req.Streaming,
		Speed:           req.Speed,
	}
	if out.Speed == 0 {
		out.Speed = 1.0
	}
	if len(req.ReferencePCM) > 0 {
		clip, err := audio.FromPCM16(req.ReferencePCM, req.ReferenceSampleRate)
		if err != nil {
			return synthesis.Request{}, fmt.Errorf("reference audio: %w", err)
		}
		out.ReferenceAudio = &clip
	}
	return out, nil
}

func toProtocolDiagnostics(diags []synthesis.Diagnostic) []protocol.Diagnostic {
	if len(diags) == 0 {
		return nil
	}
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		out = append(out, protocol.Diagnostic{
			Code:     d.Code,
			Severity: d.Severity.String(),
			Message:  d.Message,
		})
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
