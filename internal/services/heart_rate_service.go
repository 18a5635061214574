package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"screen-hr-sync/internal/aggregator"
	"screen-hr-sync/internal/metrics"
	"screen-hr-sync/internal/models"
)

// HeartRateService moves samples from the transports into the shared buffer
// and persists them
type HeartRateService struct {
	buffer  *aggregator.HeartRateBuffer
	store   Store
	metrics *metrics.Metrics
	clock   func() time.Time
	logger  *zap.SugaredLogger

	// Input channel from the MQTT subscriber and the relay client
	HeartRateChan chan models.HeartRateEvent

	syncChan chan chan struct{}
	stopped  chan struct{}
}

// HeartRateServiceConfig holds configuration for heart-rate service
type HeartRateServiceConfig struct {
	ChannelSize int
}

// DefaultHeartRateServiceConfig returns default configuration
func DefaultHeartRateServiceConfig() HeartRateServiceConfig {
	return HeartRateServiceConfig{
		ChannelSize: 100,
	}
}

// NewHeartRateService creates a new heart-rate service. store and m may be nil.
func NewHeartRateService(
	buffer *aggregator.HeartRateBuffer,
	store Store,
	m *metrics.Metrics,
	config HeartRateServiceConfig,
	clock func() time.Time,
	logger *zap.SugaredLogger,
) *HeartRateService {
	if config.ChannelSize <= 0 {
		config.ChannelSize = DefaultHeartRateServiceConfig().ChannelSize
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HeartRateService{
		buffer:        buffer,
		store:         store,
		metrics:       m,
		clock:         clock,
		logger:        logger,
		HeartRateChan: make(chan models.HeartRateEvent, config.ChannelSize),
		syncChan:      make(chan chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Start processes samples until ctx is cancelled. The channel is left open
// because transports may still be writing to it.
func (s *HeartRateService) Start(ctx context.Context) {
	s.logger.Info("HeartRateService: Starting...")
	defer close(s.stopped)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("HeartRateService: Shutting down...")
			return
		case event := <-s.HeartRateChan:
			s.process(ctx, event)
		case reply := <-s.syncChan:
			s.processQueued(ctx)
			close(reply)
		}
	}
}

// Sync returns once every sample queued on HeartRateChan before the call has
// reached the buffer. It returns early when the service is not running.
func (s *HeartRateService) Sync(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case s.syncChan <- reply:
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *HeartRateService) processQueued(ctx context.Context) {
	for {
		select {
		case event := <-s.HeartRateChan:
			s.process(ctx, event)
		default:
			return
		}
	}
}

// process handles a single heart-rate sample
func (s *HeartRateService) process(ctx context.Context, event models.HeartRateEvent) {
	if event.ArrivedAt.IsZero() {
		event.ArrivedAt = s.clock()
	}

	_, known := s.buffer.GetDeviceState(event.DeviceName)
	s.buffer.Append(event)

	if s.metrics != nil {
		s.metrics.RecordHeartRate(event.DeviceName)
	}

	if s.store == nil {
		return
	}

	// Best effort - a lost database write never drops the sample from the buffer
	if err := s.store.SaveHeartRate(ctx, event, event.Source); err != nil {
		s.logger.Errorf("HeartRateService: Error saving heart rate: %v", err)
	}

	if !known {
		s.registerDevice(ctx, event)
	}
}

// registerDevice records a device the first time it reports
func (s *HeartRateService) registerDevice(ctx context.Context, event models.HeartRateEvent) {
	now := event.ArrivedAt
	device := models.Device{
		DeviceName: event.DeviceName,
		Source:     event.Source,
		FirstSeen:  now,
		LastSeen:   now,
		LastValue:  event.HeartRate,
	}

	if err := s.store.UpsertDevice(ctx, device); err != nil {
		s.logger.Errorf("HeartRateService: Error registering device %s: %v", event.DeviceName, err)
		return
	}
	s.logger.Infof("HeartRateService: Registered device %s (%s)", event.DeviceName, event.Source)
}
