package common

// Environment variable keys
const (
	EnvModelServeURL    = "MODEL_SERVE_URL"
	EnvQueryStreamURL   = "QUERY_STREAM_URL"
	EnvDataPath         = "DATA_PATH"
	EnvKafkaBrokers     = "KAFKA_BROKERS"
	EnvKafkaAlertTopic  = "KAFKA_ALERT_TOPIC"
	EnvMetricsPort      = "METRICS_PORT"
	EnvPollInterval     = "POLL_INTERVAL"
	EnvMonitorWorkers   = "MONITOR_WORKERS"
	EnvDriftThreshold   = "DRIFT_THRESHOLD"
	EnvVotingThreshold  = "VOTING_THRESHOLD"
	EnvInfluenceCutoff  = "INFLUENCE_CUTOFF"
	EnvReconThreshold   = "RECON_THRESHOLD"
	EnvTheftAlertLevel  = "THEFT_ALERT_LEVEL"
	EnvRESTTimeout      = "REST_TIMEOUT"
	EnvAlertCooldown    = "ALERT_COOLDOWN"
	EnvIsolationTrees   = "ISOLATION_TREES"
	EnvIsolationSamples = "ISOLATION_SAMPLES"
)

// Configuration defaults
const (
	DefaultModelServeURL   = "http://localhost:9000"
	DefaultMetricsPort     = 8080
	DefaultDriftThreshold  = 0.15
	DefaultVotingThreshold = 0.5
	DefaultInfluenceCutoff = 0.7
	DefaultReconThreshold  = 0.15
	DefaultTheftAlertLevel = 0.7
	DefaultIsolationTrees  = 100
	DefaultIsolationSample = 256
)

// Common error messages
const (
	ErrMsgServeURLRequired = "model serving base URL is required"
	ErrMsgBrokersRequired  = "at least one Kafka broker is required when alerting is enabled"
)

// Validation constants
const (
	MinMetricsPort    = 1024
	MaxMetricsPort    = 65535
	MinIsolationTrees = 10
	MaxIsolationTrees = 1000
	MinMonitorWorkers = 1
	MaxMonitorWorkers = 64
)
