package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"modelguard/internal/alerting"
	"modelguard/internal/integrity"
	"modelguard/internal/metrics"
)

type stubProvider struct {
	mu       sync.Mutex
	snapshot *integrity.ModelSnapshot
	err      error
	calls    int
}

func (p *stubProvider) Snapshot(_ context.Context, modelID string) (*integrity.ModelSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	snap := *p.snapshot
	snap.ModelID = modelID
	return &snap, nil
}

func (p *stubProvider) set(snapshot *integrity.ModelSnapshot, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = snapshot
	p.err = err
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type captureNotifier struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureNotifier) Notify(_ context.Context, event alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureNotifier) byType(eventType string) []alerting.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []alerting.Event
	for _, e := range c.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func testSnapshot(scale float64) *integrity.ModelSnapshot {
	weights := make([]float64, 64)
	for i := range weights {
		weights[i] = scale * float64(i) / 64
	}
	return &integrity.ModelSnapshot{
		LayerWeights: map[string][]float64{
			"dense_1": weights,
			"output":  weights,
		},
		OutputDistribution: map[string]float64{"cat": 0.5, "dog": 0.5},
		CollectedAt:        time.Now().UTC(),
	}
}

func newTestManager(t *testing.T, provider SnapshotProvider, notifier alerting.Notifier, workers int) *Manager {
	t.Helper()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return NewManager(
		ManagerConfig{PollInterval: 5 * time.Millisecond, Workers: workers},
		provider,
		integrity.NewDriftDetector(integrity.DriftConfig{Threshold: 0.15}),
		integrity.NewFingerprinter(),
		nil,
		notifier,
		m,
	)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestStartRejectsDuplicateSession(t *testing.T) {
	provider := &stubProvider{snapshot: testSnapshot(1.0)}
	mgr := newTestManager(t, provider, &captureNotifier{}, 4)
	defer mgr.StopAll()

	if _, err := mgr.Start(context.Background(), "resnet50-prod"); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	_, err := mgr.Start(context.Background(), "resnet50-prod")
	if !errors.Is(err, ErrAlreadyMonitoring) {
		t.Errorf("second Start() error = %v, want ErrAlreadyMonitoring", err)
	}
}

func TestStartRespectsWorkerCapacity(t *testing.T) {
	provider := &stubProvider{snapshot: testSnapshot(1.0)}
	mgr := newTestManager(t, provider, &captureNotifier{}, 1)
	defer mgr.StopAll()

	if _, err := mgr.Start(context.Background(), "model-a"); err != nil {
		t.Fatalf("Start(model-a) error = %v", err)
	}
	_, err := mgr.Start(context.Background(), "model-b")
	if !errors.Is(err, ErrNoCapacity) {
		t.Errorf("Start(model-b) error = %v, want ErrNoCapacity", err)
	}

	// Stopping the first session frees the slot.
	mgr.Stop("model-a")
	if _, err := mgr.Start(context.Background(), "model-b"); err != nil {
		t.Errorf("Start(model-b) after Stop error = %v", err)
	}
}

func TestStartRejectsEmptyModelID(t *testing.T) {
	provider := &stubProvider{snapshot: testSnapshot(1.0)}
	mgr := newTestManager(t, provider, &captureNotifier{}, 4)

	if _, err := mgr.Start(context.Background(), ""); err == nil {
		t.Error("Start(\"\") should fail")
	}
}

func TestSessionLifecycle(t *testing.T) {
	provider := &stubProvider{snapshot: testSnapshot(1.0)}
	mgr := newTestManager(t, provider, &captureNotifier{}, 4)

	session, err := mgr.Start(context.Background(), "resnet50-prod")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if session.State() != StateRunning {
		t.Errorf("state after Start = %v, want running", session.State())
	}
	if session.ID == "" {
		t.Error("session should have an ID")
	}

	mgr.Stop("resnet50-prod")
	if session.State() != StateStopped {
		t.Errorf("state after Stop = %v, want stopped", session.State())
	}

	// Stop is idempotent.
	mgr.Stop("resnet50-prod")
	mgr.Stop("never-started")
}

func TestDriftAndTamperAlerts(t *testing.T) {
	provider := &stubProvider{snapshot: testSnapshot(1.0)}
	notifier := &captureNotifier{}
	mgr := newTestManager(t, provider, notifier, 4)
	defer mgr.StopAll()

	if _, err := mgr.Start(context.Background(), "resnet50-prod"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Let the baseline poll complete before swapping the weights.
	if !waitFor(t, 2*time.Second, func() bool { return provider.callCount() >= 1 }) {
		t.Fatal("baseline poll never ran")
	}

	// Triple the weights: both drift and fingerprint checks must fire.
	provider.set(testSnapshot(3.0), nil)

	if !waitFor(t, 2*time.Second, func() bool {
		return len(notifier.byType(alerting.EventDrift)) > 0 && len(notifier.byType(alerting.EventTamper)) > 0
	}) {
		t.Fatalf("expected drift and tamper events, got %d drift / %d tamper",
			len(notifier.byType(alerting.EventDrift)), len(notifier.byType(alerting.EventTamper)))
	}

	tamper := notifier.byType(alerting.EventTamper)[0]
	if tamper.Severity != "critical" {
		t.Errorf("tamper severity = %q, want critical", tamper.Severity)
	}
	if tamper.ModelID != "resnet50-prod" {
		t.Errorf("tamper model_id = %q, want resnet50-prod", tamper.ModelID)
	}
}

func TestUnchangedModelStaysQuiet(t *testing.T) {
	provider := &stubProvider{snapshot: testSnapshot(1.0)}
	notifier := &captureNotifier{}
	mgr := newTestManager(t, provider, notifier, 4)
	defer mgr.StopAll()

	if _, err := mgr.Start(context.Background(), "resnet50-prod"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Let several polls run against identical snapshots.
	if !waitFor(t, 2*time.Second, func() bool { return provider.callCount() >= 4 }) {
		t.Fatal("polls never ran")
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 0 {
		t.Errorf("expected no alerts for an unchanged model, got %d", len(notifier.events))
	}
}

func TestSnapshotFailureKeepsSessionAlive(t *testing.T) {
	provider := &stubProvider{snapshot: testSnapshot(1.0)}
	mgr := newTestManager(t, provider, &captureNotifier{}, 4)
	defer mgr.StopAll()

	session, err := mgr.Start(context.Background(), "resnet50-prod")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool { return provider.callCount() >= 1 }) {
		t.Fatal("baseline poll never ran")
	}

	provider.set(nil, errors.New("serving endpoint unavailable"))
	before := provider.callCount()
	if !waitFor(t, 2*time.Second, func() bool { return provider.callCount() >= before+2 }) {
		t.Fatal("polling stopped after snapshot failures")
	}

	if session.State() != StateRunning {
		t.Errorf("state after failures = %v, want running", session.State())
	}
}

func TestStopAll(t *testing.T) {
	provider := &stubProvider{snapshot: testSnapshot(1.0)}
	mgr := newTestManager(t, provider, &captureNotifier{}, 4)

	for _, id := range []string{"model-a", "model-b", "model-c"} {
		if _, err := mgr.Start(context.Background(), id); err != nil {
			t.Fatalf("Start(%s) error = %v", id, err)
		}
	}

	mgr.StopAll()
	for _, id := range []string{"model-a", "model-b", "model-c"} {
		if got := mgr.Session(id); got != nil {
			t.Errorf("Session(%s) = %v after StopAll, want nil", id, got)
		}
	}
}

func TestStopDeregistersSession(t *testing.T) {
	provider := &stubProvider{snapshot: testSnapshot(1.0)}
	mgr := newTestManager(t, provider, &captureNotifier{}, 4)

	session, err := mgr.Start(context.Background(), "resnet50-prod")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mgr.Stop("resnet50-prod")

	if got := mgr.Session("resnet50-prod"); got != nil {
		t.Errorf("Session() = %v after Stop, want nil", got)
	}
	// A held handle still reflects the final state.
	if session.State() != StateStopped {
		t.Errorf("held session state = %v, want stopped", session.State())
	}

	// The model can be monitored again.
	if _, err := mgr.Start(context.Background(), "resnet50-prod"); err != nil {
		t.Errorf("restart after Stop error = %v", err)
	}
	mgr.StopAll()
}
