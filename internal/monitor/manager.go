package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// Deps bundles the collaborators shared by every workload. All are
// constructed by the composing application and injected here; the core
// owns none of their lifetimes.
type Deps struct {
	Source     FrameSource
	Detector   Detector
	Store      EventStore
	Notifier   Notifier
	Recipients func() []Recipient
	Snapshots  SnapshotStore
	Annotate   func(frame []byte, findings []Detection) []byte
	Bus        *AlertBus
	Settings   Settings
	Clock      Clock
	Status     *StatusLog
}

// Manager owns at most one active monitoring session per workload and
// persists the "detection active" toggle so the dashboard can reflect
// it across restarts. The cooldown state itself is not persisted: a
// restart mid-cooldown fails open and may re-fire immediately.
type Manager struct {
	deps      Deps
	workloads map[WorkloadKind]WorkloadConfig

	mu          sync.Mutex
	aggregators map[WorkloadKind]*Aggregator
	running     map[WorkloadKind]*Session
	// starting reserves a workload slot while its sources open, so
	// concurrent Start calls cannot both pass the running check
	starting map[WorkloadKind]bool
}

// NewManager creates a manager with the built-in workload configs
func NewManager(deps Deps) *Manager {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	m := &Manager{
		deps:        deps,
		workloads:   DefaultWorkloads(),
		aggregators: make(map[WorkloadKind]*Aggregator),
		running:     make(map[WorkloadKind]*Session),
		starting:    make(map[WorkloadKind]bool),
	}
	for kind := range m.workloads {
		m.aggregators[kind] = NewAggregator(kind, deps.Store, deps.Clock)
	}
	return m
}

// SetWorkload overrides the configuration used by future sessions of a
// workload. A running session keeps its current configuration.
func (m *Manager) SetWorkload(cfg WorkloadConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workloads[cfg.Kind] = cfg
	if _, ok := m.aggregators[cfg.Kind]; !ok {
		m.aggregators[cfg.Kind] = NewAggregator(cfg.Kind, m.deps.Store, m.deps.Clock)
	}
}

// Workload returns the configuration for a kind
func (m *Manager) Workload(kind WorkloadKind) (WorkloadConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.workloads[kind]
	return cfg, ok
}

// Start begins a monitoring session for a workload over the given
// cameras. Fails with ErrWorkloadRunning if one is already active and
// with ErrNoActiveCameras if no camera source opens.
func (m *Manager) Start(ctx context.Context, kind WorkloadKind, handles []CameraHandle) error {
	m.mu.Lock()
	cfg, ok := m.workloads[kind]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWorkload, kind)
	}
	if _, active := m.running[kind]; active || m.starting[kind] {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkloadRunning, kind)
	}
	m.starting[kind] = true
	agg := m.aggregators[kind]
	m.mu.Unlock()

	var debounce *Debouncer
	if cfg.AlertsEnabled {
		debounce = NewDebouncer(cfg, m.deps.Store, m.deps.Notifier, m.deps.Recipients, m.deps.Clock, m.deps.Status,
			WithSnapshots(m.deps.Snapshots),
			WithAnnotator(m.deps.Annotate),
			WithAlertBus(m.deps.Bus),
		)
	}

	loop := NewLoop(cfg, m.deps.Source, m.deps.Detector, agg, debounce, m.deps.Clock, m.deps.Status)
	session, err := loop.Start(ctx, handles)

	m.mu.Lock()
	delete(m.starting, kind)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.running[kind] = session
	m.mu.Unlock()

	m.saveActive(ctx, kind, true)
	go m.watch(kind, session)

	return nil
}

// watch clears the running slot when a session ends on its own (every
// camera lost or context cancelled)
func (m *Manager) watch(kind WorkloadKind, session *Session) {
	<-session.Done()

	m.mu.Lock()
	owned := m.running[kind] == session
	if owned {
		delete(m.running, kind)
	}
	m.mu.Unlock()

	if err := session.Err(); err != nil {
		log.Printf("[Manager] %s: session ended: %v", kind, err)
		if m.deps.Status != nil {
			m.deps.Status.Record(m.deps.Clock.Now(), "%s monitoring stopped: %v", kind, err)
		}
	}
	// A cancelled context ends the session with a nil error; the
	// persisted flag still has to flip, or the workload auto-resumes on
	// the next boot. Stop already cleared it for sessions it removed.
	if owned {
		m.saveActive(context.Background(), kind, false)
	}
}

// Stop ends the active session for a workload, waiting until every
// source has been released
func (m *Manager) Stop(ctx context.Context, kind WorkloadKind) error {
	m.mu.Lock()
	session, ok := m.running[kind]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkloadNotRunning, kind)
	}
	delete(m.running, kind)
	m.mu.Unlock()

	session.Stop()
	m.saveActive(ctx, kind, false)
	log.Printf("[Manager] %s: session stopped", kind)
	return nil
}

// StopAll ends every active session
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make(map[WorkloadKind]*Session, len(m.running))
	for kind, s := range m.running {
		sessions[kind] = s
		delete(m.running, kind)
	}
	m.mu.Unlock()

	for kind, s := range sessions {
		s.Stop()
		m.saveActive(ctx, kind, false)
	}
}

// Active reports whether a workload has a live session
func (m *Manager) Active(kind WorkloadKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.running[kind]
	return ok
}

// CameraStates returns the per-camera runtime state of a live session,
// or nil when the workload is not running
func (m *Manager) CameraStates(kind WorkloadKind) []CameraStatus {
	m.mu.Lock()
	session, ok := m.running[kind]
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return session.CameraStates()
}

// Aggregator returns the aggregation engine for a workload's queries
func (m *Manager) Aggregator(kind WorkloadKind) *Aggregator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregators[kind]
}

// WorkloadOverride is the operator-tunable slice of a workload config,
// persisted to settings so it survives restarts
type WorkloadOverride struct {
	ConfidenceThreshold float32 `json:"confidence_threshold"`
	CooldownSeconds     float64 `json:"cooldown_seconds"`
	AlertsEnabled       bool    `json:"alerts_enabled"`
}

func (m *Manager) overrideKey(kind WorkloadKind) string {
	return fmt.Sprintf("workload.%s.config", kind)
}

// applyOverride layers an override onto the built-in defaults
func applyOverride(cfg WorkloadConfig, ov WorkloadOverride) WorkloadConfig {
	if ov.ConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = ov.ConfidenceThreshold
	}
	if ov.CooldownSeconds > 0 {
		cfg.CooldownDuration = time.Duration(ov.CooldownSeconds * float64(time.Second))
	}
	cfg.AlertsEnabled = ov.AlertsEnabled
	return cfg
}

// SaveOverride persists a workload override and applies it to future
// sessions. A running session keeps its current configuration.
func (m *Manager) SaveOverride(ctx context.Context, kind WorkloadKind, ov WorkloadOverride) error {
	cfg, ok := m.Workload(kind)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownWorkload, kind)
	}

	data, err := json.Marshal(ov)
	if err != nil {
		return fmt.Errorf("failed to marshal override: %w", err)
	}
	if m.deps.Settings != nil {
		if err := m.deps.Settings.SaveSetting(ctx, m.overrideKey(kind), string(data)); err != nil {
			return fmt.Errorf("failed to persist override: %w", err)
		}
	}

	m.SetWorkload(applyOverride(cfg, ov))
	return nil
}

// LoadOverrides reads persisted workload overrides and applies them on
// top of the built-in defaults. Call once at startup.
func (m *Manager) LoadOverrides(ctx context.Context) error {
	if m.deps.Settings == nil {
		return nil
	}

	for kind, cfg := range DefaultWorkloads() {
		raw, err := m.deps.Settings.Setting(ctx, m.overrideKey(kind))
		if err != nil {
			return fmt.Errorf("failed to load %s override: %w", kind, err)
		}
		if raw == "" {
			continue
		}

		var ov WorkloadOverride
		if err := json.Unmarshal([]byte(raw), &ov); err != nil {
			log.Printf("[Manager] %s: ignoring malformed override: %v", kind, err)
			continue
		}
		m.SetWorkload(applyOverride(cfg, ov))
	}
	return nil
}

func (m *Manager) activeKey(kind WorkloadKind) string {
	return fmt.Sprintf("workload.%s.active", kind)
}

func (m *Manager) saveActive(ctx context.Context, kind WorkloadKind, active bool) {
	if m.deps.Settings == nil {
		return
	}
	value := "false"
	if active {
		value = "true"
	}
	if err := m.deps.Settings.SaveSetting(ctx, m.activeKey(kind), value); err != nil {
		log.Printf("[Manager] %s: failed to persist active flag: %v", kind, err)
	}
}
