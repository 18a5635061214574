package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"screen-hr-sync/internal/aggregator"
	"screen-hr-sync/internal/assembler"
	"screen-hr-sync/internal/metrics"
	"screen-hr-sync/internal/models"
	"screen-hr-sync/internal/recording"
	"screen-hr-sync/internal/timeline"
)

// Control commands accepted by RecordingService
const (
	CommandStart  = "start"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandStop   = "stop"
)

// RecordingServiceConfig holds configuration for recording service
type RecordingServiceConfig struct {
	// Device names the heart-rate device when a start command omits it
	Device string

	// FallbackToDirect exports the native container when conversion fails
	FallbackToDirect bool

	// DeviceOnly drops samples from devices other than the session's
	DeviceOnly bool

	// IngestTimeout bounds the wait for queued heart-rate samples at stop
	IngestTimeout time.Duration

	ControlChannelSize int
}

// DefaultRecordingServiceConfig returns default configuration
func DefaultRecordingServiceConfig() RecordingServiceConfig {
	return RecordingServiceConfig{
		FallbackToDirect:   true,
		IngestTimeout:      2 * time.Second,
		ControlChannelSize: 10,
	}
}

// RecordingResult is the outcome of one session's stop pipeline
type RecordingResult struct {
	SessionID string
	Device    string
	Export    assembler.ExportResult
	Samples   []models.SyncedHeartRate
	Stats     models.HeartRateStats
	Err       error
}

// RecordingService drives recording sessions from control commands and runs
// the stop pipeline (drain, synchronize, export, persist, publish) exactly
// once per session.
type RecordingService struct {
	source     recording.CaptureSource
	buffer     *aggregator.HeartRateBuffer
	ingest     Ingest
	sink       assembler.Sink
	converter  assembler.Converter
	store      Store
	metrics    *metrics.Metrics
	statusChan chan<- models.StatusUpdate
	clock      func() time.Time
	logger     *zap.SugaredLogger
	config     RecordingServiceConfig

	// Input channel from the MQTT control topic
	ControlChan chan models.ControlCommand

	mu       sync.Mutex
	active   *recording.Session
	last     *RecordingResult
	finished sync.WaitGroup
}

// Ingest flushes heart-rate samples still queued ahead of the buffer
type Ingest interface {
	Sync(ctx context.Context) error
}

// RecordingDeps are the collaborators of a RecordingService. Ingest,
// Converter, Store, Metrics and StatusChan may be nil.
type RecordingDeps struct {
	Source     recording.CaptureSource
	Buffer     *aggregator.HeartRateBuffer
	Ingest     Ingest
	Sink       assembler.Sink
	Converter  assembler.Converter
	Store      Store
	Metrics    *metrics.Metrics
	StatusChan chan<- models.StatusUpdate
	Clock      func() time.Time
}

// NewRecordingService creates a new recording service
func NewRecordingService(deps RecordingDeps, config RecordingServiceConfig, logger *zap.SugaredLogger) *RecordingService {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.ControlChannelSize <= 0 {
		config.ControlChannelSize = DefaultRecordingServiceConfig().ControlChannelSize
	}
	if config.IngestTimeout <= 0 {
		config.IngestTimeout = DefaultRecordingServiceConfig().IngestTimeout
	}
	return &RecordingService{
		source:      deps.Source,
		buffer:      deps.Buffer,
		ingest:      deps.Ingest,
		sink:        deps.Sink,
		converter:   deps.Converter,
		store:       deps.Store,
		metrics:     deps.Metrics,
		statusChan:  deps.StatusChan,
		clock:       deps.Clock,
		logger:      logger,
		config:      config,
		ControlChan: make(chan models.ControlCommand, config.ControlChannelSize),
	}
}

// Start handles control commands until ctx is cancelled, then stops the
// active session and waits for its export to finish.
func (s *RecordingService) Start(ctx context.Context) {
	s.logger.Info("RecordingService: Starting...")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("RecordingService: Shutting down...")
			s.Shutdown()
			return
		case cmd := <-s.ControlChan:
			if err := s.Handle(ctx, cmd); err != nil {
				s.logger.Warnf("RecordingService: %s failed: %v", cmd.Command, err)
				s.publish(models.StatusUpdate{Device: s.deviceFor(cmd.Device), State: "error", Error: err.Error()})
			}
		}
	}
}

// Shutdown stops the active session, if any, and waits for pending exports
func (s *RecordingService) Shutdown() {
	if session := s.Active(); session != nil {
		if err := session.Stop(); err != nil {
			s.logger.Warnf("RecordingService: Error stopping session %s: %v", session.ID(), err)
		}
	}
	s.Wait()
}

// Handle applies one control command
func (s *RecordingService) Handle(ctx context.Context, cmd models.ControlCommand) error {
	switch cmd.Command {
	case CommandStart:
		_, err := s.StartRecording(ctx, cmd.Device)
		return err
	case CommandPause:
		return s.withActive(func(session *recording.Session) error { return session.Pause() })
	case CommandResume:
		return s.withActive(func(session *recording.Session) error { return session.Resume() })
	case CommandStop:
		return s.withActive(func(session *recording.Session) error { return session.Stop() })
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
}

// Active returns the current session, or nil before the first start
func (s *RecordingService) Active() *recording.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LastResult returns the outcome of the most recently finished session
func (s *RecordingService) LastResult() (RecordingResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return RecordingResult{}, false
	}
	return *s.last, true
}

// Wait blocks until every stopped session has finished its pipeline
func (s *RecordingService) Wait() {
	s.finished.Wait()
}

func (s *RecordingService) withActive(fn func(*recording.Session) error) error {
	session := s.Active()
	if session == nil {
		return fmt.Errorf("no recording session: %w", recording.ErrInvalidState)
	}
	return fn(session)
}

func (s *RecordingService) deviceFor(device string) string {
	if device != "" {
		return device
	}
	return s.config.Device
}

// StartRecording begins a new session. Only one session may be live at a
// time; a stopped session is replaced by a fresh one.
func (s *RecordingService) StartRecording(ctx context.Context, device string) (*recording.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && s.active.State() != recording.Stopped {
		return nil, fmt.Errorf("session %s is %s: %w", s.active.ID(), s.active.State(), recording.ErrInvalidState)
	}

	device = s.deviceFor(device)
	opts := []recording.Option{
		recording.WithClock(s.clock),
		recording.WithLogger(s.logger),
		recording.WithObserver(&statusObserver{svc: s, device: device}),
	}
	if s.metrics != nil {
		opts = append(opts, recording.WithObserver(s.metrics))
	}
	session := recording.NewSession(opts...)

	if err := session.Start(ctx, s.source); err != nil {
		if s.metrics != nil {
			s.metrics.RecordSession("unavailable")
		}
		return nil, err
	}

	s.active = session
	s.finished.Add(1)
	go func() {
		defer s.finished.Done()
		<-session.Done()
		s.finalize(context.WithoutCancel(ctx), session, device)
	}()

	s.logger.Infof("RecordingService: Session %s recording for %q", session.ID(), device)
	return session, nil
}

// finalize runs once per session after it stops
func (s *RecordingService) finalize(ctx context.Context, session *recording.Session, device string) {
	result := s.export(ctx, session, device)

	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()

	update := models.StatusUpdate{
		SessionID: session.ID(),
		Device:    device,
		State:     "exported",
		Chunks:    session.ChunkCount(),
		Bytes:     session.TotalBytes(),
		VideoFile: result.Export.VideoFile,
		DataFile:  result.Export.DataFile,
	}

	outcome := "exported"
	switch {
	case errors.Is(result.Err, recording.ErrEmptyBuffer):
		outcome = "empty"
		update.State = "empty"
	case result.Err != nil:
		outcome = "failed"
		update.State = "failed"
		update.Error = result.Err.Error()
	}
	if s.metrics != nil {
		s.metrics.RecordSession(outcome)
	}
	s.publish(update)
}

func (s *RecordingService) export(ctx context.Context, session *recording.Session, device string) RecordingResult {
	result := RecordingResult{SessionID: session.ID(), Device: device}

	events := s.drain(ctx, session)
	if device == "" && len(events) > 0 {
		device = events[0].DeviceName
		result.Device = device
	}
	if s.config.DeviceOnly {
		events = aggregator.FilterDevice(events, device)
	}
	result.Stats = aggregator.ComputeStats(events)

	start, _ := session.StartInstant()
	samples, err := timeline.Synchronize(start, events)
	if errors.Is(err, recording.ErrNoReferenceInstant) {
		if earliest, ok := timeline.EarliestArrival(events); ok {
			s.logger.Warnf("RecordingService: Session %s has no start instant, aligning to first sample", session.ID())
			samples, err = timeline.Synchronize(earliest, events)
		}
	}
	if err != nil {
		result.Err = err
		return result
	}
	result.Samples = samples

	req := assembler.ExportRequest{
		Device:           device,
		Samples:          samples,
		FallbackToDirect: s.config.FallbackToDirect,
		Now:              s.clock,
		OnProgress: func(p models.ConversionProgress) {
			progress := p
			s.publish(models.StatusUpdate{SessionID: session.ID(), Device: device, State: "converting", Progress: &progress})
		},
	}
	if s.converter != nil {
		req.Converter = &timedConverter{Converter: s.converter, metrics: s.metrics, clock: s.clock}
	}

	res, err := assembler.New(session, s.logger).Export(ctx, s.sink, req)
	result.Export = res
	switch {
	case errors.Is(err, recording.ErrEmptyBuffer) && res.DataFile != "":
		result.Err = err
		s.logger.Warnf("RecordingService: Session %s recorded no video, kept %d heart-rate samples in %s", session.ID(), len(events), res.DataFile)
	case err != nil:
		result.Err = err
		s.logger.Errorf("RecordingService: Export of session %s failed: %v", session.ID(), err)
		return result
	}

	s.persist(ctx, session, result)
	return result
}

// drain takes the samples that arrived up to the session's stop instant.
// Later samples stay queued for the next session.
func (s *RecordingService) drain(ctx context.Context, session *recording.Session) []models.HeartRateEvent {
	if s.ingest != nil {
		syncCtx, cancel := context.WithTimeout(ctx, s.config.IngestTimeout)
		err := s.ingest.Sync(syncCtx)
		cancel()
		if err != nil {
			s.logger.Warnf("RecordingService: Heart-rate queue not flushed for session %s: %v", session.ID(), err)
		}
	}

	stopped, ok := session.StopInstant()
	if !ok {
		return s.buffer.Drain()
	}
	return s.buffer.DrainUntil(stopped)
}

// persist is best effort: the artifacts are already on disk
func (s *RecordingService) persist(ctx context.Context, session *recording.Session, result RecordingResult) {
	if s.store == nil {
		return
	}

	started, _ := session.StartInstant()
	stopped, _ := session.StopInstant()
	summary := models.RecordingSummary{
		SessionID:  session.ID(),
		Device:     result.Device,
		StartedAt:  started,
		StoppedAt:  stopped,
		ChunkCount: session.ChunkCount(),
		TotalBytes: session.TotalBytes(),
		MimeType:   result.Export.VideoMimeType,
		VideoFile:  result.Export.VideoFile,
		DataFile:   result.Export.DataFile,
		HeartRate:  result.Stats,
	}

	if err := s.store.SaveRecording(ctx, summary); err != nil {
		s.logger.Errorf("RecordingService: Error saving recording %s: %v", session.ID(), err)
	}
	if err := s.store.SaveSyncedSeries(ctx, session.ID(), result.Samples); err != nil {
		s.logger.Errorf("RecordingService: Error saving synced series for %s: %v", session.ID(), err)
	}
}

// publish never blocks: observers run on the session's callback path
func (s *RecordingService) publish(update models.StatusUpdate) {
	if s.statusChan == nil {
		return
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = s.clock()
	}
	select {
	case s.statusChan <- update:
	default:
		s.logger.Warnf("RecordingService: Status channel full, dropping %s update", update.State)
	}
}

// statusObserver publishes every effective transition of one session
type statusObserver struct {
	svc    *RecordingService
	device string
}

func (o *statusObserver) OnTransition(t recording.Transition) {
	o.svc.publish(models.StatusUpdate{
		SessionID: t.SessionID,
		Device:    o.device,
		State:     t.To.String(),
		Timestamp: t.At,
	})
}

func (o *statusObserver) OnChunk(int, bool) {}

// timedConverter records conversion outcome and duration
type timedConverter struct {
	assembler.Converter
	metrics *metrics.Metrics
	clock   func() time.Time
}

func (c *timedConverter) Convert(ctx context.Context, data []byte, onProgress func(models.ConversionProgress)) ([]byte, error) {
	started := c.clock()
	out, err := c.Converter.Convert(ctx, data, onProgress)
	if c.metrics != nil {
		c.metrics.RecordConversion(err, c.clock().Sub(started))
	}
	return out, err
}
