package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"modelguard/internal/common"
)

type Settings struct {
	ServeURL         string
	StreamURL        string
	Models           []string
	DataPath         string
	KafkaBrokers     []string
	KafkaTopic       string
	MetricsPort      int
	PollInterval     time.Duration
	Workers          int
	Ping             time.Duration
	DriftThreshold   float64
	VotingThreshold  float64
	InfluenceCutoff  float64
	ReconThreshold   float64
	TheftAlertLevel  float64
	TheftWindow      time.Duration
	TheftInterval    time.Duration
	IsolationTrees   int
	IsolationSamples int
	AlertCooldown    time.Duration
	ModelConfigs     map[string]ModelConfig
	RESTTimeout      time.Duration
}

type ModelConfig struct {
	DriftThreshold  float64 `yaml:"driftThreshold"`
	VotingThreshold float64 `yaml:"votingThreshold"`
	TheftAlertLevel float64 `yaml:"theftAlertLevel"`
}

type ConfigFile struct {
	Serving struct {
		BaseURL      string `yaml:"baseURL"`
		StreamURL    string `yaml:"streamURL"`
		RESTTimeout  string `yaml:"restTimeout"`
		PingInterval string `yaml:"pingInterval"`
	} `yaml:"serving"`

	Monitoring struct {
		Models         []string `yaml:"models"`
		PollInterval   string   `yaml:"pollInterval"`
		Workers        int      `yaml:"workers"`
		DriftThreshold float64  `yaml:"driftThreshold"`
	} `yaml:"monitoring"`

	Detection struct {
		VotingThreshold  float64 `yaml:"votingThreshold"`
		InfluenceCutoff  float64 `yaml:"influenceCutoff"`
		ReconThreshold   float64 `yaml:"reconThreshold"`
		IsolationTrees   int     `yaml:"isolationTrees"`
		IsolationSamples int     `yaml:"isolationSamples"`
	} `yaml:"detection"`

	Theft struct {
		AlertLevel      float64 `yaml:"alertLevel"`
		Window          string  `yaml:"window"`
		AnalyzeInterval string  `yaml:"analyzeInterval"`
	} `yaml:"theft"`

	Alerting struct {
		Brokers  []string `yaml:"brokers"`
		Topic    string   `yaml:"topic"`
		Cooldown string   `yaml:"cooldown"`
	} `yaml:"alerting"`

	ModelConfig map[string]ModelConfig `yaml:"modelConfig"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		MetricsPort int    `yaml:"metricsPort"`
	} `yaml:"system"`
}

func Load() (Settings, error) {
	// Try to load from YAML file first
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Parse durations
	pollInterval, err := time.ParseDuration(config.Monitoring.PollInterval)
	if err != nil {
		pollInterval = 60 * time.Second
	}

	ping, err := time.ParseDuration(config.Serving.PingInterval)
	if err != nil {
		ping = 15 * time.Second
	}

	restTimeout, err := time.ParseDuration(config.Serving.RESTTimeout)
	if err != nil {
		restTimeout = 5 * time.Second
	}

	cooldown, err := time.ParseDuration(config.Alerting.Cooldown)
	if err != nil {
		cooldown = time.Hour
	}

	theftWindow, err := time.ParseDuration(config.Theft.Window)
	if err != nil {
		theftWindow = time.Hour
	}

	theftInterval, err := time.ParseDuration(config.Theft.AnalyzeInterval)
	if err != nil {
		theftInterval = time.Minute
	}

	settings := Settings{
		ServeURL:         getEnvOrDefault(common.EnvModelServeURL, config.Serving.BaseURL),
		StreamURL:        getEnvOrDefault(common.EnvQueryStreamURL, config.Serving.StreamURL),
		Models:           getModelsFromEnvOrConfig(config.Monitoring.Models),
		DataPath:         getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		KafkaBrokers:     getBrokersFromEnvOrConfig(config.Alerting.Brokers),
		KafkaTopic:       getEnvOrDefault(common.EnvKafkaAlertTopic, config.Alerting.Topic),
		MetricsPort:      getIntFromEnvOrConfig(common.EnvMetricsPort, config.System.MetricsPort),
		PollInterval:     pollInterval,
		Workers:          getIntFromEnvOrConfig(common.EnvMonitorWorkers, config.Monitoring.Workers),
		Ping:             ping,
		DriftThreshold:   getFloatFromEnvOrConfig(common.EnvDriftThreshold, config.Monitoring.DriftThreshold),
		VotingThreshold:  getFloatFromEnvOrConfig(common.EnvVotingThreshold, config.Detection.VotingThreshold),
		InfluenceCutoff:  getFloatFromEnvOrConfig(common.EnvInfluenceCutoff, config.Detection.InfluenceCutoff),
		ReconThreshold:   getFloatFromEnvOrConfig(common.EnvReconThreshold, config.Detection.ReconThreshold),
		TheftAlertLevel:  getFloatFromEnvOrConfig(common.EnvTheftAlertLevel, config.Theft.AlertLevel),
		TheftWindow:      theftWindow,
		TheftInterval:    theftInterval,
		IsolationTrees:   getIntFromEnvOrConfig(common.EnvIsolationTrees, config.Detection.IsolationTrees),
		IsolationSamples: getIntFromEnvOrConfig(common.EnvIsolationSamples, config.Detection.IsolationSamples),
		AlertCooldown:    cooldown,
		ModelConfigs:     config.ModelConfig,
		RESTTimeout:      restTimeout,
	}
	applyDefaults(&settings)

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ServeURL:         getEnvOrDefault(common.EnvModelServeURL, common.DefaultModelServeURL),
		StreamURL:        os.Getenv(common.EnvQueryStreamURL), // optional
		Models:           splitOrDefault(os.Getenv("MODELS"), nil),
		DataPath:         os.Getenv(common.EnvDataPath), // optional
		KafkaBrokers:     splitOrDefault(os.Getenv(common.EnvKafkaBrokers), nil),
		KafkaTopic:       getEnvOrDefault(common.EnvKafkaAlertTopic, "modelguard.alerts"),
		MetricsPort:      getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		PollInterval:     getDurationOrDefault(common.EnvPollInterval, 60*time.Second),
		Workers:          getIntOrDefault(common.EnvMonitorWorkers, 8),
		Ping:             getDurationOrDefault("PING_INTERVAL", 15*time.Second),
		DriftThreshold:   getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),
		VotingThreshold:  getFloatOrDefault(common.EnvVotingThreshold, common.DefaultVotingThreshold),
		InfluenceCutoff:  getFloatOrDefault(common.EnvInfluenceCutoff, common.DefaultInfluenceCutoff),
		ReconThreshold:   getFloatOrDefault(common.EnvReconThreshold, common.DefaultReconThreshold),
		TheftAlertLevel:  getFloatOrDefault(common.EnvTheftAlertLevel, common.DefaultTheftAlertLevel),
		TheftWindow:      getDurationOrDefault("THEFT_WINDOW", time.Hour),
		TheftInterval:    getDurationOrDefault("THEFT_INTERVAL", time.Minute),
		IsolationTrees:   getIntOrDefault(common.EnvIsolationTrees, common.DefaultIsolationTrees),
		IsolationSamples: getIntOrDefault(common.EnvIsolationSamples, common.DefaultIsolationSample),
		AlertCooldown:    getDurationOrDefault(common.EnvAlertCooldown, time.Hour),
		ModelConfigs:     make(map[string]ModelConfig),
		RESTTimeout:      getDurationOrDefault(common.EnvRESTTimeout, 5*time.Second),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// applyDefaults fills zero values left by an incomplete YAML file.
func applyDefaults(s *Settings) {
	if s.ServeURL == "" {
		s.ServeURL = common.DefaultModelServeURL
	}
	if s.KafkaTopic == "" {
		s.KafkaTopic = "modelguard.alerts"
	}
	if s.MetricsPort == 0 {
		s.MetricsPort = common.DefaultMetricsPort
	}
	if s.Workers == 0 {
		s.Workers = 8
	}
	if s.DriftThreshold == 0 {
		s.DriftThreshold = common.DefaultDriftThreshold
	}
	if s.VotingThreshold == 0 {
		s.VotingThreshold = common.DefaultVotingThreshold
	}
	if s.InfluenceCutoff == 0 {
		s.InfluenceCutoff = common.DefaultInfluenceCutoff
	}
	if s.ReconThreshold == 0 {
		s.ReconThreshold = common.DefaultReconThreshold
	}
	if s.TheftAlertLevel == 0 {
		s.TheftAlertLevel = common.DefaultTheftAlertLevel
	}
	if s.IsolationTrees == 0 {
		s.IsolationTrees = common.DefaultIsolationTrees
	}
	if s.IsolationSamples == 0 {
		s.IsolationSamples = common.DefaultIsolationSample
	}
}

// GetModelConfig returns configuration for a specific model, with fallback to global config
func (s *Settings) GetModelConfig(modelID string) ModelConfig {
	if config, exists := s.ModelConfigs[modelID]; exists {
		return config
	}

	// Return default config
	return ModelConfig{
		DriftThreshold:  s.DriftThreshold,
		VotingThreshold: s.VotingThreshold,
		TheftAlertLevel: s.TheftAlertLevel,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	return strings.Split(v, ",")
}

func getModelsFromEnvOrConfig(configModels []string) []string {
	if env := os.Getenv("MODELS"); env != "" {
		return strings.Split(env, ",")
	}
	return configModels
}

func getBrokersFromEnvOrConfig(configBrokers []string) []string {
	if env := os.Getenv(common.EnvKafkaBrokers); env != "" {
		return strings.Split(env, ",")
	}
	return configBrokers
}

func getIntFromEnvOrConfig(key string, configValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	return configValue
}

func getFloatFromEnvOrConfig(key string, configValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate serving endpoint
	if settings.ServeURL == "" {
		return fmt.Errorf("%s", common.ErrMsgServeURLRequired)
	}

	// Validate time durations
	if settings.PollInterval < time.Second || settings.PollInterval > 24*time.Hour {
		return fmt.Errorf("poll interval must be between 1s and 24h, got %v", settings.PollInterval)
	}
	if settings.Ping < time.Second || settings.Ping > 5*time.Minute {
		return fmt.Errorf("ping interval must be between 1s and 5m, got %v", settings.Ping)
	}
	if settings.RESTTimeout < time.Second || settings.RESTTimeout > time.Minute {
		return fmt.Errorf("REST timeout must be between 1s and 1m, got %v", settings.RESTTimeout)
	}
	if settings.TheftWindow < time.Minute || settings.TheftWindow > 7*24*time.Hour {
		return fmt.Errorf("theft window must be between 1m and 168h, got %v", settings.TheftWindow)
	}
	if settings.TheftInterval < 10*time.Second || settings.TheftInterval > 24*time.Hour {
		return fmt.Errorf("theft analyze interval must be between 10s and 24h, got %v", settings.TheftInterval)
	}

	// Validate integer values
	if settings.MetricsPort < common.MinMetricsPort || settings.MetricsPort > common.MaxMetricsPort {
		return fmt.Errorf("metrics port must be between %d and %d, got %d",
			common.MinMetricsPort, common.MaxMetricsPort, settings.MetricsPort)
	}
	if settings.Workers < common.MinMonitorWorkers || settings.Workers > common.MaxMonitorWorkers {
		return fmt.Errorf("monitor workers must be between %d and %d, got %d",
			common.MinMonitorWorkers, common.MaxMonitorWorkers, settings.Workers)
	}
	if settings.IsolationTrees < common.MinIsolationTrees || settings.IsolationTrees > common.MaxIsolationTrees {
		return fmt.Errorf("isolation trees must be between %d and %d, got %d",
			common.MinIsolationTrees, common.MaxIsolationTrees, settings.IsolationTrees)
	}
	if settings.IsolationSamples <= 0 || settings.IsolationSamples > 10000 {
		return fmt.Errorf("isolation sample size must be between 1 and 10000, got %d", settings.IsolationSamples)
	}

	// Validate threshold values
	if settings.DriftThreshold <= 0 || settings.DriftThreshold >= 1 {
		return fmt.Errorf("drift threshold must be between 0 and 1, got %f", settings.DriftThreshold)
	}
	if settings.VotingThreshold <= 0 || settings.VotingThreshold >= 1 {
		return fmt.Errorf("voting threshold must be between 0 and 1, got %f", settings.VotingThreshold)
	}
	if settings.InfluenceCutoff <= 0 || settings.InfluenceCutoff > 1 {
		return fmt.Errorf("influence cutoff must be between 0 and 1, got %f", settings.InfluenceCutoff)
	}
	if settings.ReconThreshold <= 0 || settings.ReconThreshold >= 1 {
		return fmt.Errorf("reconstruction threshold must be between 0 and 1, got %f", settings.ReconThreshold)
	}
	if settings.TheftAlertLevel <= 0 || settings.TheftAlertLevel >= 1 {
		return fmt.Errorf("theft alert level must be between 0 and 1, got %f", settings.TheftAlertLevel)
	}

	// Kafka alerting is optional but needs a topic when brokers are set
	if len(settings.KafkaBrokers) > 0 && settings.KafkaTopic == "" {
		return fmt.Errorf("kafka topic is required when brokers are configured")
	}

	// Validate model-specific configs
	for model, config := range settings.ModelConfigs {
		if config.DriftThreshold != 0 && (config.DriftThreshold <= 0 || config.DriftThreshold >= 1) {
			return fmt.Errorf("model %s: drift threshold must be between 0 and 1, got %f", model, config.DriftThreshold)
		}
		if config.VotingThreshold != 0 && (config.VotingThreshold <= 0 || config.VotingThreshold >= 1) {
			return fmt.Errorf("model %s: voting threshold must be between 0 and 1, got %f", model, config.VotingThreshold)
		}
		if config.TheftAlertLevel != 0 && (config.TheftAlertLevel <= 0 || config.TheftAlertLevel >= 1) {
			return fmt.Errorf("model %s: theft alert level must be between 0 and 1, got %f", model, config.TheftAlertLevel)
		}
	}

	return nil
}
