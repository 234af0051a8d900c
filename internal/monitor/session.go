// Package monitor runs continuous integrity monitoring sessions. Each
// session polls a served model on an interval, checks the snapshot for
// drift against the session baseline, and verifies the fingerprint for
// tampering. One session per model may be active at a time.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"modelguard/internal/alerting"
	"modelguard/internal/integrity"
	"modelguard/internal/metrics"
	"modelguard/internal/storage"
)

var (
	// ErrAlreadyMonitoring is returned when a session for the model is
	// already running.
	ErrAlreadyMonitoring = errors.New("model is already being monitored")
	// ErrNoCapacity is returned when all worker slots are taken.
	ErrNoCapacity = errors.New("no free monitoring worker slots")
)

// SessionState tracks the lifecycle of one monitoring session.
type SessionState int

const (
	StateCreated SessionState = iota
	StateRunning
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SnapshotProvider fetches the current state of a served model.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, modelID string) (*integrity.ModelSnapshot, error)
}

// Session is one monitoring loop for a single model. The first successful
// snapshot becomes the session baseline for both drift and fingerprint
// comparison.
type Session struct {
	ID        string
	ModelID   string
	Interval  time.Duration
	StartedAt time.Time

	mu                  sync.Mutex
	state               SessionState
	baseline            *integrity.ModelSnapshot
	baselineFingerprint *integrity.ModelFingerprint
	cancel              context.CancelFunc
	done                chan struct{}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ManagerConfig carries the tunables for the session manager.
type ManagerConfig struct {
	PollInterval time.Duration
	Workers      int
}

// Manager owns all monitoring sessions. Safe for concurrent use.
type Manager struct {
	cfg           ManagerConfig
	provider      SnapshotProvider
	drift         *integrity.DriftDetector
	fingerprinter *integrity.Fingerprinter
	store         *storage.Store
	notifier      alerting.Notifier
	metrics       *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	slots    chan struct{}
}

// NewManager wires the monitoring collaborators. store may be nil, in
// which case results are not persisted.
func NewManager(cfg ManagerConfig, provider SnapshotProvider, drift *integrity.DriftDetector, fingerprinter *integrity.Fingerprinter, store *storage.Store, notifier alerting.Notifier, m *metrics.Metrics) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Manager{
		cfg:           cfg,
		provider:      provider,
		drift:         drift,
		fingerprinter: fingerprinter,
		store:         store,
		notifier:      notifier,
		metrics:       m,
		sessions:      make(map[string]*Session),
		slots:         make(chan struct{}, cfg.Workers),
	}
}

// Start creates and launches a session for the model. Returns
// ErrAlreadyMonitoring if one is running and ErrNoCapacity when all
// worker slots are taken.
func (mgr *Manager) Start(ctx context.Context, modelID string) (*Session, error) {
	if modelID == "" {
		return nil, fmt.Errorf("model id must not be empty")
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if existing, ok := mgr.sessions[modelID]; ok && existing.State() != StateStopped {
		return nil, ErrAlreadyMonitoring
	}

	select {
	case mgr.slots <- struct{}{}:
	default:
		return nil, ErrNoCapacity
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &Session{
		ID:        uuid.NewString(),
		ModelID:   modelID,
		Interval:  mgr.cfg.PollInterval,
		StartedAt: time.Now().UTC(),
		state:     StateCreated,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	mgr.sessions[modelID] = session

	session.mu.Lock()
	session.state = StateRunning
	session.mu.Unlock()
	mgr.metrics.ActiveSessions.Inc()

	go mgr.run(sessionCtx, session)

	log.Info().
		Str("session_id", session.ID).
		Str("model_id", modelID).
		Dur("interval", session.Interval).
		Msg("monitoring session started")
	return session, nil
}

// Stop ends the session for the model. Stopping a model that is not
// monitored is a no-op.
func (mgr *Manager) Stop(modelID string) {
	mgr.mu.Lock()
	session, ok := mgr.sessions[modelID]
	mgr.mu.Unlock()
	if !ok {
		return
	}

	session.mu.Lock()
	alreadyStopped := session.state == StateStopped
	session.mu.Unlock()
	if alreadyStopped {
		return
	}

	session.cancel()
	<-session.done
}

// StopAll ends every running session. Used during shutdown.
func (mgr *Manager) StopAll() {
	mgr.mu.Lock()
	ids := make([]string, 0, len(mgr.sessions))
	for id := range mgr.sessions {
		ids = append(ids, id)
	}
	mgr.mu.Unlock()

	for _, id := range ids {
		mgr.Stop(id)
	}
}

// Session returns the session for a model, or nil if none exists.
func (mgr *Manager) Session(modelID string) *Session {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return mgr.sessions[modelID]
}

func (mgr *Manager) run(ctx context.Context, session *Session) {
	defer func() {
		session.mu.Lock()
		session.state = StateStopped
		session.mu.Unlock()

		// Deregister so the model can be monitored again. A newer session
		// may already occupy the slot after a restart race, so only remove
		// our own entry.
		mgr.mu.Lock()
		if mgr.sessions[session.ModelID] == session {
			delete(mgr.sessions, session.ModelID)
		}
		mgr.mu.Unlock()

		<-mgr.slots
		mgr.metrics.ActiveSessions.Dec()
		close(session.done)
		log.Info().
			Str("session_id", session.ID).
			Str("model_id", session.ModelID).
			Msg("monitoring session stopped")
	}()

	ticker := time.NewTicker(session.Interval)
	defer ticker.Stop()

	// First poll immediately so a baseline exists before the first tick.
	mgr.poll(ctx, session)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.poll(ctx, session)
		}
	}
}

func (mgr *Manager) poll(ctx context.Context, session *Session) {
	start := time.Now()
	defer func() {
		mgr.metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	snapshot, err := mgr.provider.Snapshot(ctx, session.ModelID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		mgr.metrics.PollFailures.Inc()
		mgr.metrics.ErrorsTotal.Inc()
		log.Warn().Err(err).
			Str("model_id", session.ModelID).
			Msg("snapshot fetch failed")
		return
	}

	session.mu.Lock()
	baseline := session.baseline
	baselineFP := session.baselineFingerprint
	session.mu.Unlock()

	if baseline == nil {
		mgr.establishBaseline(session, snapshot)
		return
	}

	mgr.checkDrift(ctx, session, snapshot, baseline)
	mgr.checkTamper(ctx, session, snapshot, baselineFP)
}

func (mgr *Manager) establishBaseline(session *Session, snapshot *integrity.ModelSnapshot) {
	fp := mgr.fingerprinter.Fingerprint(snapshot)
	mgr.metrics.FingerprintsComputed.Inc()

	session.mu.Lock()
	session.baseline = snapshot
	session.baselineFingerprint = fp
	session.mu.Unlock()

	if mgr.store != nil {
		if err := mgr.store.SaveFingerprint(fp); err != nil {
			log.Warn().Err(err).
				Str("model_id", session.ModelID).
				Msg("failed to persist baseline fingerprint")
		}
	}
	log.Info().
		Str("model_id", session.ModelID).
		Int("layers", len(fp.PerLayerHash)).
		Msg("session baseline established")
}

func (mgr *Manager) checkDrift(ctx context.Context, session *Session, current, baseline *integrity.ModelSnapshot) {
	result := mgr.drift.Detect(current, baseline)
	mgr.metrics.DriftChecks.Inc()
	mgr.metrics.DriftScore.Set(result.OverallDriftScore)

	if mgr.store != nil {
		if err := mgr.store.SaveDriftResult(session.ModelID, result); err != nil {
			log.Warn().Err(err).
				Str("model_id", session.ModelID).
				Msg("failed to persist drift result")
		}
	}

	if !result.HasDrift {
		return
	}
	mgr.metrics.DriftDetected.Inc()
	mgr.notify(ctx, alerting.NewEvent(alerting.EventDrift, session.ModelID, "warning", map[string]any{
		"overall_drift_score": result.OverallDriftScore,
		"output_drift":        result.OutputDrift,
		"per_layer_drift":     result.PerLayerDrift,
	}))
}

func (mgr *Manager) checkTamper(ctx context.Context, session *Session, current *integrity.ModelSnapshot, baselineFP *integrity.ModelFingerprint) {
	fp := mgr.fingerprinter.Fingerprint(current)
	mgr.metrics.FingerprintsComputed.Inc()

	changed := mgr.fingerprinter.Compare(fp, baselineFP)
	if len(changed) == 0 {
		return
	}

	mgr.metrics.TamperAlerts.Inc()
	log.Warn().
		Str("model_id", session.ModelID).
		Strs("changed_layers", changed).
		Msg("fingerprint mismatch detected")
	mgr.notify(ctx, alerting.NewEvent(alerting.EventTamper, session.ModelID, "critical", map[string]any{
		"changed_layers": changed,
	}))
}

func (mgr *Manager) notify(ctx context.Context, event alerting.Event) {
	if mgr.notifier == nil {
		return
	}
	if err := mgr.notifier.Notify(ctx, event); err != nil {
		mgr.metrics.AlertFailures.Inc()
		log.Warn().Err(err).
			Str("event_type", event.EventType).
			Str("model_id", event.ModelID).
			Msg("alert delivery failed")
		return
	}
	mgr.metrics.AlertsPublished.Inc()
}
