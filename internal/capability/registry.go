package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxalabs/voxa-core/internal/bus"
	"github.com/voxalabs/voxa-core/internal/engine"
	"github.com/voxalabs/voxa-core/internal/synthesis"
)

const (
	announceSubject  = "ctrl.engine.announce"
	heartbeatSubject = "ctrl.engine.heartbeat"

	heartbeatInterval = 5 * time.Second
	heartbeatTimeout  = 15 * time.Second
)

// Announcement describes what one runtime's engine can do, so front-ends
// discover supported modes and speakers without a dedicated query channel.
type Announcement struct {
	RuntimeID        string    `json:"runtime_id"`
	Modes            []string  `json:"modes"`
	SupportsInstruct bool      `json:"supports_instruct"`
	SampleRate       int       `json:"sample_rate"`
	Speakers         []string  `json:"speakers"`
	Timestamp        time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	RuntimeID string    `json:"runtime_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RuntimeInfo is the registry's view of one announced runtime.
type RuntimeInfo struct {
	Announcement
	LastSeen time.Time
	Healthy  bool
}

// Registry announces the local engine's capabilities and tracks every
// runtime heard on the bus, marking silent ones unhealthy.
type Registry struct {
	runtimeID string
	log       *slog.Logger
	bus       *bus.Client
	local     Announcement

	mu       sync.RWMutex
	runtimes map[string]*RuntimeInfo

	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	meter     metric.Meter
}

func NewRegistry(ctx context.Context, runtimeID string, eng engine.Engine, orch *synthesis.Orchestrator, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		runtimeID: runtimeID,
		log:       log.With(slog.String("component", "capability-registry")),
		bus:       busClient,
		local:     localAnnouncement(runtimeID, eng, orch),
		runtimes:  make(map[string]*RuntimeInfo),
		meter:     otel.Meter("github.com/voxalabs/voxa-core/runtime"),
		cancel:    cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(heartbeatInterval)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce engine", slog.String("error", err.Error()))
	}

	return r, nil
}

func localAnnouncement(runtimeID string, eng engine.Engine, orch *synthesis.Orchestrator) Announcement {
	modes := []string{
		synthesis.ModePretrainedVoice.String(),
		synthesis.ModeFastReplication.String(),
	}
	if eng.SupportsInstruct() {
		modes = append(modes, synthesis.ModeInstructControl.String())
	} else {
		modes = append(modes, synthesis.ModeCrossLingual.String())
	}
	return Announcement{
		RuntimeID:        runtimeID,
		Modes:            modes,
		SupportsInstruct: eng.SupportsInstruct(),
		SampleRate:       eng.SampleRate(),
		Speakers:         orch.Speakers(),
	}
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(announceSubject, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(heartbeatSubject+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := r.local
	msg.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.bus.Conn().Publish(announceSubject, payload); err != nil {
		return err
	}
	r.updateRuntime(msg, msg.Timestamp)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		RuntimeID: r.runtimeID,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", heartbeatSubject, r.runtimeID)
	return r.bus.Conn().Publish(subject, payload)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement Announcement
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.updateRuntime(announcement, announcement.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.updateRuntime(Announcement{RuntimeID: hb.RuntimeID}, hb.Timestamp)
}

func (r *Registry) updateRuntime(announcement Announcement, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.runtimes[announcement.RuntimeID]
	if !ok {
		info = &RuntimeInfo{}
		r.runtimes[announcement.RuntimeID] = info
	}
	if len(announcement.Modes) > 0 {
		info.Announcement = announcement
	} else if info.RuntimeID == "" {
		info.RuntimeID = announcement.RuntimeID
	}
	info.LastSeen = timestamp
	info.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, info := range r.runtimes {
		if now.Sub(info.LastSeen) > heartbeatTimeout {
			info.Healthy = false
		}
	}
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.runtimes[r.runtimeID]
	if !ok {
		return false
	}
	return info.Healthy
}

// Query returns a snapshot of every runtime matching the filter; nil
// matches everything.
func (r *Registry) Query(filter func(RuntimeInfo) bool) []RuntimeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []RuntimeInfo
	for _, info := range r.runtimes {
		snapshot := *info
		if filter == nil || filter(snapshot) {
			results = append(results, snapshot)
		}
	}
	return results
}

// Local returns the announcement published for this runtime's engine.
func (r *Registry) Local() Announcement {
	return r.local
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	runtimeGauge, err := r.meter.Int64ObservableGauge("voxa.capabilities.runtimes", metric.WithDescription("Number of known runtimes"))
	if err != nil {
		return err
	}
	speakerGauge, err := r.meter.Int64ObservableGauge("voxa.capabilities.speakers", metric.WithDescription("Speakers advertised by the local engine"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(runtimeGauge, r.runtimeCount())
		obs.ObserveInt64(speakerGauge, int64(len(r.local.Speakers)))
		return nil
	}, runtimeGauge, speakerGauge)
	return err
}

func (r *Registry) runtimeCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.runtimes))
}

// WithModeFilter matches runtimes advertising the given synthesis mode.
func WithModeFilter(mode string) func(RuntimeInfo) bool {
	return func(info RuntimeInfo) bool {
		for _, m := range info.Modes {
			if m == mode {
				return true
			}
		}
		return false
	}
}
