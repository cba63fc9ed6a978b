package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxalabs/voxa-core/internal/audio"
	"github.com/voxalabs/voxa-core/internal/bus"
	"github.com/voxalabs/voxa-core/internal/capability"
	"github.com/voxalabs/voxa-core/internal/config"
	"github.com/voxalabs/voxa-core/internal/engine"
	"github.com/voxalabs/voxa-core/internal/history"
	"github.com/voxalabs/voxa-core/internal/natsserver"
	"github.com/voxalabs/voxa-core/internal/recognizer"
	"github.com/voxalabs/voxa-core/internal/service"
	"github.com/voxalabs/voxa-core/internal/synthesis"
)

// Runtime assembles the daemon: telemetry, bus, engine, orchestrator,
// synthesis service, capability registry, history journal and the HTTP
// health surface. Start blocks until the context is cancelled.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	busClient *bus.Client
	svc       *service.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.busClient = busClient

	eng, err := buildEngine(r.cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}

	rec, err := buildRecognizer(r.cfg.Recognizer)
	if err != nil {
		return fmt.Errorf("failed to build recognizer: %w", err)
	}

	journal, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer journal.Close()

	validator := synthesis.NewValidator(synthesis.Capabilities{
		SupportsInstruct: eng.SupportsInstruct(),
		MinReferenceRate: r.cfg.Engine.ReferenceSampleRate,
	})
	proc, err := audio.NewProcessorCache(audio.NewProcessor(eng.SampleRate()), r.cfg.Orchestrator.ReferenceCache)
	if err != nil {
		return fmt.Errorf("failed to build reference cache: %w", err)
	}
	dispatcher := synthesis.NewDispatcher(eng, synthesis.NewSeeder(eng), proc, r.logger)
	orch := synthesis.NewOrchestrator(r.cfg.Orchestrator, validator, dispatcher, eng, rec, r.logger)

	svc := service.New(ctx, busClient, orch, journal, r.logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start synthesis service: %w", err)
	}
	defer svc.Close()
	r.svc = svc

	registry, err := capability.NewRegistry(ctx, r.cfg.RuntimeName, eng, orch, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}
	defer registry.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine", r.cfg.Engine.Mode),
		slog.Int("sample_rate", eng.SampleRate()),
		slog.Bool("instruct", eng.SupportsInstruct()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func buildEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Mode {
	case "exec":
		return engine.NewExec(cfg)
	default:
		chunkLen := cfg.SampleRate * cfg.ChunkDurationMS / 1000
		return engine.NewMock(cfg.SampleRate, cfg.SupportsInstruct, nil, chunkLen), nil
	}
}

func buildRecognizer(cfg config.RecognizerConfig) (recognizer.Recognizer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Mode {
	case "exec":
		return recognizer.NewExec(cfg)
	default:
		return recognizer.NewMock(), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.busClient != nil && !r.busClient.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.svc == nil || r.svc.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
