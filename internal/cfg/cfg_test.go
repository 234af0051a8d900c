package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearConfigEnv removes every variable the loader reads so tests start
// from a clean slate.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CONFIG_FILE", "MODEL_SERVE_URL", "QUERY_STREAM_URL", "MODELS",
		"DATA_PATH", "KAFKA_BROKERS", "KAFKA_ALERT_TOPIC", "METRICS_PORT",
		"POLL_INTERVAL", "MONITOR_WORKERS", "DRIFT_THRESHOLD",
		"VOTING_THRESHOLD", "INFLUENCE_CUTOFF", "RECON_THRESHOLD",
		"THEFT_ALERT_LEVEL", "THEFT_WINDOW", "THEFT_INTERVAL", "REST_TIMEOUT",
		"ALERT_COOLDOWN", "ISOLATION_TREES", "ISOLATION_SAMPLES",
		"PING_INTERVAL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearConfigEnv(t)

	settings, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if settings.ServeURL != "http://localhost:9000" {
		t.Errorf("ServeURL = %q, want default", settings.ServeURL)
	}
	if settings.PollInterval != 60*time.Second {
		t.Errorf("PollInterval = %v, want 60s", settings.PollInterval)
	}
	if settings.DriftThreshold != 0.15 {
		t.Errorf("DriftThreshold = %v, want 0.15", settings.DriftThreshold)
	}
	if settings.VotingThreshold != 0.5 {
		t.Errorf("VotingThreshold = %v, want 0.5", settings.VotingThreshold)
	}
	if settings.IsolationTrees != 100 {
		t.Errorf("IsolationTrees = %v, want 100", settings.IsolationTrees)
	}
	if settings.MetricsPort != 8080 {
		t.Errorf("MetricsPort = %v, want 8080", settings.MetricsPort)
	}
	if settings.KafkaTopic != "modelguard.alerts" {
		t.Errorf("KafkaTopic = %q, want modelguard.alerts", settings.KafkaTopic)
	}
	if settings.TheftInterval != time.Minute {
		t.Errorf("TheftInterval = %v, want 1m", settings.TheftInterval)
	}
	if len(settings.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, want empty", settings.KafkaBrokers)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("MODEL_SERVE_URL", "http://serving.internal:9100")
	t.Setenv("MODELS", "resnet50-prod,bert-base")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("DRIFT_THRESHOLD", "0.25")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("MONITOR_WORKERS", "16")

	settings, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if settings.ServeURL != "http://serving.internal:9100" {
		t.Errorf("ServeURL = %q", settings.ServeURL)
	}
	if len(settings.Models) != 2 || settings.Models[0] != "resnet50-prod" {
		t.Errorf("Models = %v, want [resnet50-prod bert-base]", settings.Models)
	}
	if len(settings.KafkaBrokers) != 2 {
		t.Errorf("KafkaBrokers = %v, want two brokers", settings.KafkaBrokers)
	}
	if settings.DriftThreshold != 0.25 {
		t.Errorf("DriftThreshold = %v, want 0.25", settings.DriftThreshold)
	}
	if settings.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", settings.PollInterval)
	}
	if settings.Workers != 16 {
		t.Errorf("Workers = %v, want 16", settings.Workers)
	}
}

func TestLoadFromYAML(t *testing.T) {
	clearConfigEnv(t)

	content := `
serving:
  baseURL: "http://serving.internal:9100"
  streamURL: "ws://serving.internal:9100/queries"
  restTimeout: "10s"
  pingInterval: "20s"
monitoring:
  models: ["resnet50-prod"]
  pollInterval: "2m"
  workers: 4
  driftThreshold: 0.2
detection:
  votingThreshold: 0.6
  isolationTrees: 200
theft:
  alertLevel: 0.75
  window: "30m"
  analyzeInterval: "5m"
alerting:
  brokers: ["kafka-1:9092"]
  topic: "integrity.alerts"
  cooldown: "15m"
modelConfig:
  resnet50-prod:
    driftThreshold: 0.1
system:
  dataPath: "/var/lib/modelguard"
  metricsPort: 9090
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	settings, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if settings.ServeURL != "http://serving.internal:9100" {
		t.Errorf("ServeURL = %q", settings.ServeURL)
	}
	if settings.StreamURL != "ws://serving.internal:9100/queries" {
		t.Errorf("StreamURL = %q", settings.StreamURL)
	}
	if settings.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v, want 2m", settings.PollInterval)
	}
	if settings.RESTTimeout != 10*time.Second {
		t.Errorf("RESTTimeout = %v, want 10s", settings.RESTTimeout)
	}
	if settings.DriftThreshold != 0.2 {
		t.Errorf("DriftThreshold = %v, want 0.2", settings.DriftThreshold)
	}
	if settings.VotingThreshold != 0.6 {
		t.Errorf("VotingThreshold = %v, want 0.6", settings.VotingThreshold)
	}
	if settings.IsolationTrees != 200 {
		t.Errorf("IsolationTrees = %v, want 200", settings.IsolationTrees)
	}
	if settings.TheftAlertLevel != 0.75 {
		t.Errorf("TheftAlertLevel = %v, want 0.75", settings.TheftAlertLevel)
	}
	if settings.TheftWindow != 30*time.Minute {
		t.Errorf("TheftWindow = %v, want 30m", settings.TheftWindow)
	}
	if settings.TheftInterval != 5*time.Minute {
		t.Errorf("TheftInterval = %v, want 5m", settings.TheftInterval)
	}
	if settings.KafkaTopic != "integrity.alerts" {
		t.Errorf("KafkaTopic = %q", settings.KafkaTopic)
	}
	if settings.AlertCooldown != 15*time.Minute {
		t.Errorf("AlertCooldown = %v, want 15m", settings.AlertCooldown)
	}
	if settings.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %v, want 9090", settings.MetricsPort)
	}
	if settings.DataPath != "/var/lib/modelguard" {
		t.Errorf("DataPath = %q", settings.DataPath)
	}
	// Unset YAML values fall back to defaults.
	if settings.InfluenceCutoff != 0.7 {
		t.Errorf("InfluenceCutoff = %v, want default 0.7", settings.InfluenceCutoff)
	}
}

func TestYAMLEnvOverride(t *testing.T) {
	clearConfigEnv(t)

	content := `
serving:
  baseURL: "http://from-yaml:9000"
monitoring:
  pollInterval: "1m"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MODEL_SERVE_URL", "http://from-env:9000")

	settings, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if settings.ServeURL != "http://from-env:9000" {
		t.Errorf("ServeURL = %q, environment should win over YAML", settings.ServeURL)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")

	if _, err := Load(); err == nil {
		t.Error("Load() should fail for a missing config file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	clearConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("serving: [not: valid"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Error("Load() should fail for malformed YAML")
	}
}

func TestGetModelConfig(t *testing.T) {
	settings := Settings{
		DriftThreshold:  0.15,
		VotingThreshold: 0.5,
		TheftAlertLevel: 0.7,
		ModelConfigs: map[string]ModelConfig{
			"resnet50-prod": {DriftThreshold: 0.1, VotingThreshold: 0.6, TheftAlertLevel: 0.8},
		},
	}

	specific := settings.GetModelConfig("resnet50-prod")
	if specific.DriftThreshold != 0.1 {
		t.Errorf("specific DriftThreshold = %v, want 0.1", specific.DriftThreshold)
	}

	fallback := settings.GetModelConfig("unknown-model")
	if fallback.DriftThreshold != 0.15 {
		t.Errorf("fallback DriftThreshold = %v, want global 0.15", fallback.DriftThreshold)
	}
	if fallback.TheftAlertLevel != 0.7 {
		t.Errorf("fallback TheftAlertLevel = %v, want global 0.7", fallback.TheftAlertLevel)
	}
}
