package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"modelguard/internal/alerting"
	"modelguard/internal/cfg"
	"modelguard/internal/integrity"
	"modelguard/internal/metrics"
	"modelguard/internal/modelclient"
	"modelguard/internal/monitor"
	"modelguard/internal/storage"
	"modelguard/internal/theft"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	m := metrics.New()
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	notifier, kafkaCloser := initializeNotifier(c)
	if kafkaCloser != nil {
		defer kafkaCloser()
	}

	// Start metrics server
	startMetricsServer(ctx, c, m)

	// Monitoring sessions
	mgr := monitor.NewManager(
		monitor.ManagerConfig{PollInterval: c.PollInterval, Workers: c.Workers},
		modelclient.NewREST(c.ServeURL, c.RESTTimeout),
		integrity.NewDriftDetector(integrity.DriftConfig{Threshold: c.DriftThreshold}),
		integrity.NewFingerprinter(),
		store,
		notifier,
		m,
	)
	defer mgr.StopAll()

	for _, modelID := range c.Models {
		if _, err := mgr.Start(ctx, modelID); err != nil {
			log.Error().Err(err).Str("model_id", modelID).Msg("failed to start monitoring session")
		}
	}

	var wg sync.WaitGroup

	// Query log stream and theft analysis
	if c.StreamURL != "" {
		queries := make(chan theft.QueryRecord, 256)
		errors := make(chan error, 32)

		ws := modelclient.NewWS(c.StreamURL)
		startQueryStream(ctx, ws, c, queries, errors)

		analyzer := theft.NewAnalyzer(theft.AnalyzerConfig{Window: c.TheftWindow}, nil)
		startQueryHandler(ctx, &wg, queries, analyzer, m)
		startTheftAnalysis(ctx, &wg, c, analyzer, store, notifier, m)
		startErrorHandler(ctx, &wg, errors, m)
	} else {
		log.Info().Msg("query stream URL not configured, theft analysis disabled")
	}

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, &wg)
}

// initializeStorage initializes storage if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
			return nil
		}
		return store
	}
	return nil
}

// initializeNotifier builds the alert delivery chain: log output always,
// Kafka when brokers are configured, with cooldown suppression on top.
func initializeNotifier(c cfg.Settings) (alerting.Notifier, func()) {
	fanout := alerting.Fanout{alerting.LogNotifier{}}
	var closer func()

	if len(c.KafkaBrokers) > 0 {
		kafka, err := alerting.NewKafkaNotifier(alerting.KafkaConfig{
			Brokers: c.KafkaBrokers,
			Topic:   c.KafkaTopic,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Kafka notifier unavailable, continuing with log alerts only")
		} else {
			fanout = append(fanout, kafka)
			closer = func() {
				if err := kafka.Close(); err != nil {
					log.Warn().Err(err).Msg("failed to close Kafka notifier")
				}
			}
		}
	}

	return alerting.NewCooldownNotifier(fanout, c.AlertCooldown), closer
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, c cfg.Settings, m *metrics.Metrics) {
	go func() {
		mux := http.NewServeMux()

		// Health endpoint reports degraded once errors dominate drift checks
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			errorRate := m.GetErrorRate()
			if errorRate > 0.5 {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "DEGRADED error_rate=%.2f", errorRate)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "OK error_rate=%.2f", errorRate)
		})

		// Add metrics endpoint
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// startQueryStream starts the query log WebSocket handler
func startQueryStream(ctx context.Context, ws modelclient.WS, c cfg.Settings, queries chan theft.QueryRecord, errors chan error) {
	go func() {
		if err := ws.Stream(ctx, c.Models, queries, errors, c.Ping); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("query stream ended")
			errors <- err
		}
	}()
}

// startQueryHandler feeds incoming query records into the theft analyzer
func startQueryHandler(ctx context.Context, wg *sync.WaitGroup, queries chan theft.QueryRecord, analyzer *theft.Analyzer, m *metrics.Metrics) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case rec := <-queries:
				analyzer.Record(rec)
				m.QueriesReceived.Inc()
			}
		}
	}()
}

// startTheftAnalysis periodically scores the query window for every
// monitored model and raises an alert above the configured level.
func startTheftAnalysis(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, analyzer *theft.Analyzer, store *storage.Store, notifier alerting.Notifier, m *metrics.Metrics) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.TheftInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, modelID := range c.Models {
					assessment := analyzer.Analyze(ctx, modelID)
					if assessment.QueryCount == 0 {
						continue
					}
					m.TheftAnalyses.Inc()
					m.TheftProbability.Set(assessment.TheftProbability)

					if store != nil {
						if err := store.SaveTheftAssessment(&assessment); err != nil {
							log.Warn().Err(err).Str("model_id", modelID).Msg("failed to persist theft assessment")
						}
					}

					alertLevel := c.GetModelConfig(modelID).TheftAlertLevel
					if alertLevel == 0 {
						alertLevel = c.TheftAlertLevel
					}
					if assessment.TheftProbability < alertLevel {
						continue
					}
					event := alerting.NewEvent(alerting.EventTheft, modelID, string(assessment.RiskLevel), map[string]any{
						"theft_probability": assessment.TheftProbability,
						"query_count":       assessment.QueryCount,
						"diversity":         assessment.Diversity,
						"frequency":         assessment.Frequency,
					})
					if err := notifier.Notify(ctx, event); err != nil {
						m.AlertFailures.Inc()
						log.Warn().Err(err).Str("model_id", modelID).Msg("theft alert delivery failed")
						continue
					}
					m.AlertsPublished.Inc()
				}
			}
		}
	}()
}

// startErrorHandler starts the background error handling goroutine
func startErrorHandler(ctx context.Context, wg *sync.WaitGroup, errors chan error, m *metrics.Metrics) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errors:
				log.Error().Err(err).Msg("background error")
				m.WSReconnects.Inc()
				m.ErrorsTotal.Inc()
			}
		}
	}()
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel() // Cancel context to stop all goroutines

	// Wait for all goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
