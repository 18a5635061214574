package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"screen-hr-sync/internal/aggregator"
	"screen-hr-sync/internal/capture"
	"screen-hr-sync/internal/database"
	"screen-hr-sync/internal/export"
	"screen-hr-sync/internal/handlers"
	"screen-hr-sync/internal/hrclient"
	"screen-hr-sync/internal/logging"
	"screen-hr-sync/internal/metrics"
	"screen-hr-sync/internal/models"
	"screen-hr-sync/internal/mqtt"
	"screen-hr-sync/internal/services"
	"screen-hr-sync/internal/transcode"
	"screen-hr-sync/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings {
		logger.Warnf("Config: %s", w)
	}

	if err := run(cfg, logger); err != nil {
		logger.Errorf("Service stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Info("Shutdown complete. Goodbye!")
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	logger.Info("Starting screen/heart-rate sync service...")

	// Create context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Every component stamps instants with this one clock
	clock := time.Now

	buffer := aggregator.NewHeartRateBuffer()
	m := metrics.NewMetrics("")
	if err := m.WatchHeartRate(buffer); err != nil {
		return fmt.Errorf("failed to register heart-rate gauge: %w", err)
	}

	// === Initialize ClickHouse database ===
	var store services.Store
	var history handlers.RecordingHistory
	if cfg.ClickHouseEnabled {
		db, err := database.NewClickHouseDB(ctx, database.Config{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePass,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize ClickHouse: %w", err)
		}
		defer db.Close()
		store = db
		history = db
	} else {
		logger.Info("ClickHouse disabled, recordings are only written to disk")
	}

	// === Channel Creation ===
	// Status updates (Services → MQTT)
	statusChan := make(chan models.StatusUpdate, 50)

	// === Initialize Services ===
	hrConfig := services.DefaultHeartRateServiceConfig()
	hrConfig.ChannelSize = cfg.HeartRateChannelSize
	heartRateService := services.NewHeartRateService(buffer, store, m, hrConfig, clock, logger)

	captureConfig := capture.DefaultConfig()
	captureConfig.FFmpegPath = cfg.FFmpegPath
	captureConfig.Format = cfg.CaptureFormat
	captureConfig.Input = cfg.CaptureInput
	captureConfig.AudioFormat = cfg.AudioFormat
	captureConfig.AudioInput = cfg.AudioInput
	captureConfig.FrameRate = cfg.CaptureFrameRate
	captureConfig.Timeslice = cfg.CaptureTimeslice
	captureConfig.VideoBitrate = cfg.VideoBitrate
	captureConfig.AudioBitrate = cfg.AudioBitrate

	deps := services.RecordingDeps{
		Source:     capture.NewFFmpegSource(captureConfig, logger, clock),
		Buffer:     buffer,
		Ingest:     heartRateService,
		Sink:       export.NewFileSink(cfg.OutputDir, logger),
		Store:      store,
		Metrics:    m,
		StatusChan: statusChan,
		Clock:      clock,
	}
	if cfg.ExportMP4 {
		deps.Converter = transcode.New(cfg.FFmpegPath, logger)
	}

	recConfig := services.DefaultRecordingServiceConfig()
	recConfig.Device = cfg.HRDevice
	recConfig.DeviceOnly = cfg.ExportDeviceOnly
	recordingService := services.NewRecordingService(deps, recConfig, logger)

	// === Initialize MQTT Client ===
	logger.Info("Connecting to MQTT broker...")
	mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
		Broker:   cfg.MQTTBroker,
		ClientID: cfg.MQTTClientID,
		Username: cfg.MQTTUsername,
		Password: cfg.MQTTPassword,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize MQTT client: %w", err)
	}
	defer mqttClient.Close()

	subscriber := mqtt.NewSubscriber(
		mqttClient.GetNativeClient(),
		mqtt.SubscriberConfig{
			HeartRateTopic: cfg.MQTTTopicHeartRate,
			ControlTopic:   cfg.MQTTTopicControl,
		},
		heartRateService.HeartRateChan,
		recordingService.ControlChan,
		clock,
		logger,
	)
	if err := subscriber.SubscribeAll(); err != nil {
		return fmt.Errorf("failed to subscribe to MQTT topics: %w", err)
	}

	publisher := mqtt.NewPublisher(
		mqttClient.GetNativeClient(),
		mqtt.PublisherConfig{StatusTopic: cfg.MQTTTopicStatus},
		statusChan,
		logger,
	)

	// === Initialize heart-rate relay client ===
	var relay *hrclient.Client
	var relayStatus handlers.RelayStatus
	if cfg.HRRelayURL != "" {
		relay, err = hrclient.New(cfg.HRRelayURL, logger, hrclient.WithClock(clock))
		if err != nil {
			return fmt.Errorf("failed to initialize heart-rate relay client: %w", err)
		}
		relayStatus = relay
	}

	metricsServer := &http.Server{
		Addr: cfg.MetricsAddr,
		Handler: statusMux(m, routes{
			ready:      handlers.ReadyHandler{Relay: relayStatus},
			heartRate:  handlers.HeartRateHandler{Source: buffer},
			recordings: handlers.RecordingsHandler{History: history, Logger: logger},
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		publisher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		heartRateService.Start(gctx)
		return nil
	})
	g.Go(func() error {
		recordingService.Start(gctx)
		return nil
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx, cfg.HRDevice, heartRateService.HeartRateChan)
		})
	}

	g.Go(func() error {
		logger.Infof("Metrics: listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	// === Log startup info ===
	logger.Info("=== Screen/heart-rate sync service is running ===")
	logger.Infof("Capture: %s %s at %d fps, %s timeslice", cfg.CaptureFormat, cfg.CaptureInput, cfg.CaptureFrameRate, cfg.CaptureTimeslice)
	logger.Infof("Export: %s (mp4=%t, device only=%t)", cfg.OutputDir, cfg.ExportMP4, cfg.ExportDeviceOnly)
	logger.Infof("Status: http://%s/{metrics,healthz,readyz,heartrate,recordings}", cfg.MetricsAddr)
	logger.Infof("MQTT Topics:")
	logger.Infof("  - Heart rate: %s", cfg.MQTTTopicHeartRate)
	logger.Infof("  - Control:    %s", cfg.MQTTTopicControl)
	logger.Infof("  - Status:     %s", cfg.MQTTTopicStatus)
	if cfg.HRRelayURL != "" {
		logger.Infof("Heart-rate relay: %s (device %q)", cfg.HRRelayURL, cfg.HRDevice)
	}
	logger.Info("Press Ctrl+C to exit...")

	err = g.Wait()
	logger.Info("Shutdown signal received, services stopped")
	return err
}

type routes struct {
	ready      handlers.ReadyHandler
	heartRate  handlers.HeartRateHandler
	recordings handlers.RecordingsHandler
}

func statusMux(m *metrics.Metrics, r routes) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("GET /healthz", handlers.HealthHandler{})
	mux.Handle("GET /readyz", r.ready)
	mux.Handle("GET /heartrate", r.heartRate)
	mux.Handle("GET /recordings", r.recordings)
	return mux
}
