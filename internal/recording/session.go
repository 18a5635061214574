package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"screen-hr-sync/internal/models"
)

// Transition describes one effective state change of a session
type Transition struct {
	SessionID string
	From      State
	To        State
	Event     Event
	At        time.Time
}

// Observer is notified of transitions and chunk deliveries. Transitions are
// delivered one at a time in the order they took effect. Callbacks must not
// block or call back into the session.
type Observer interface {
	OnTransition(Transition)
	OnChunk(size int, accepted bool)
}

// Option configures a Session
type Option func(*Session)

// WithClock replaces time.Now as the session's instant source
func WithClock(clock func() time.Time) Option {
	return func(s *Session) { s.clock = clock }
}

// WithLogger sets the session logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithID overrides the generated session ID
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithObserver attaches an observer
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observers = append(s.observers, o) }
}

// Session is a single capture→record→stop lifecycle. Stopped is terminal:
// construct a new Session to record again.
type Session struct {
	id        string
	clock     func() time.Time
	logger    *zap.SugaredLogger
	observers []Observer

	// transitionMu orders state changes with their notifications. It is never
	// held while calling into the stream.
	transitionMu sync.Mutex

	mu        sync.Mutex
	state     State
	acquiring bool
	stopping  bool
	startedAt time.Time
	stoppedAt time.Time
	stream    Stream
	buffer    *ChunkBuffer
	done      chan struct{}
}

// NewSession creates an idle session
func NewSession(opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		clock:  time.Now,
		logger: zap.NewNop().Sugar(),
		state:  Idle,
		buffer: NewChunkBuffer(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartInstant returns the instant recording began, if it has
func (s *Session) StartInstant() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt, !s.startedAt.IsZero()
}

// StopInstant returns the instant the session stopped, if it has
func (s *Session) StopInstant() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stoppedAt, !s.stoppedAt.IsZero()
}

// MimeType returns the container type of the recorded chunks
func (s *Session) MimeType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return ""
	}
	return s.stream.MimeType()
}

// Chunks returns the chunks recorded so far in arrival order
func (s *Session) Chunks() []models.Chunk {
	return s.buffer.Snapshot()
}

// ChunkCount returns the number of recorded chunks
func (s *Session) ChunkCount() int {
	return s.buffer.Len()
}

// TotalBytes returns the recorded payload size
func (s *Session) TotalBytes() int64 {
	return s.buffer.Size()
}

// Done is closed once the session has stopped and observers were notified
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start acquires the capture source and begins recording. Acquisition errors
// are returned as-is wrapped in ErrSourceUnavailable; the session stays Idle.
func (s *Session) Start(ctx context.Context, source CaptureSource) error {
	s.mu.Lock()
	if _, err := lookup(s.state, EventStart); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.acquiring {
		s.mu.Unlock()
		return &TransitionError{From: s.state, Event: EventStart}
	}
	s.acquiring = true
	s.mu.Unlock()

	stream, err := source.Acquire(ctx, func(payload []byte, at time.Time) {
		s.OnChunkAvailable(payload, at)
	})

	if err != nil {
		s.mu.Lock()
		s.acquiring = false
		s.mu.Unlock()
		if errors.Is(err, ErrSourceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	now := s.clock()
	s.transitionMu.Lock()
	s.mu.Lock()
	s.acquiring = false
	if err := s.buffer.Reset(); err != nil {
		s.mu.Unlock()
		s.transitionMu.Unlock()
		_ = stream.Release()
		return err
	}
	s.stream = stream
	s.startedAt = now
	s.state = Recording
	s.mu.Unlock()
	s.notify(Transition{SessionID: s.id, From: Idle, To: Recording, Event: EventStart, At: now})
	s.transitionMu.Unlock()

	s.logger.Infof("Session %s: recording started (mime=%s)", s.id, stream.MimeType())

	stream.OnEnded(s.handleSourceEnded)
	return nil
}

// OnChunkAvailable appends a chunk if the session is recording. Chunks that
// arrive before start, while paused, or after stop are dropped.
// It reports whether the chunk was kept.
func (s *Session) OnChunkAvailable(payload []byte, at time.Time) bool {
	if len(payload) == 0 {
		return false
	}

	s.mu.Lock()
	accepted := false
	if s.state == Recording {
		accepted = s.buffer.Append(payload, at) == nil
	}
	state := s.state
	s.mu.Unlock()

	if !accepted {
		s.logger.Debugf("Session %s: dropped %d byte chunk while %s", s.id, len(payload), state)
	}
	for _, o := range s.observers {
		o.OnChunk(len(payload), accepted)
	}
	return accepted
}

// Pause suspends recording. Pausing an already paused session is a no-op.
func (s *Session) Pause() error {
	return s.toggle(EventPause)
}

// Resume continues a paused recording. Resuming a recording session is a no-op.
func (s *Session) Resume() error {
	return s.toggle(EventResume)
}

func (s *Session) toggle(ev Event) error {
	s.mu.Lock()
	t, err := lookup(s.state, ev)
	if err == nil && s.stopping {
		err = &TransitionError{From: Stopped, Event: ev}
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if t.noop {
		state := s.state
		s.mu.Unlock()
		s.logger.Warnf("Session %s: ignoring duplicate %s while %s", s.id, ev, state)
		return nil
	}
	stream := s.stream
	s.mu.Unlock()

	// The stream may deliver the bytes it captured before pausing, which the
	// session must still accept, so it is called without the lock.
	if ev == EventPause {
		err = stream.Pause()
	} else {
		err = stream.Resume()
	}
	if err != nil {
		return fmt.Errorf("failed to %s capture: %w", ev, err)
	}

	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()

	s.mu.Lock()
	t, err = lookup(s.state, ev)
	if err == nil && s.stopping {
		err = &TransitionError{From: Stopped, Event: ev}
	}
	if err != nil || t.noop {
		s.mu.Unlock()
		return err
	}
	from := s.state
	s.state = t.next
	now := s.clock()
	s.mu.Unlock()

	s.logger.Infof("Session %s: %s -> %s", s.id, from, t.next)
	s.notify(Transition{SessionID: s.id, From: from, To: t.next, Event: ev, At: now})
	return nil
}

// Stop ends the session, releases the capture source and freezes the chunk
// buffer. Stopping a stopped session is a no-op.
func (s *Session) Stop() error {
	return s.stop(EventStop)
}

func (s *Session) handleSourceEnded() {
	if err := s.stop(EventSourceEnded); err != nil {
		s.logger.Warnf("Session %s: source ended: %v", s.id, err)
	}
}

func (s *Session) stop(ev Event) error {
	s.mu.Lock()
	t, err := lookup(s.state, ev)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if t.noop {
		s.mu.Unlock()
		if ev == EventStop {
			s.logger.Warnf("Session %s: ignoring duplicate stop", s.id)
		} else {
			s.logger.Debugf("Session %s: source ended after stop", s.id)
		}
		return nil
	}
	if s.stopping {
		s.mu.Unlock()
		// The source reports its end while it is being released.
		if ev == EventStop {
			<-s.done
		}
		return nil
	}
	s.stopping = true
	stream := s.stream
	s.mu.Unlock()

	// Releasing first lets the stream hand over what it already captured,
	// which is accepted until the state below changes.
	if stream != nil {
		if err := stream.Release(); err != nil {
			s.logger.Warnf("Session %s: failed to release capture source: %v", s.id, err)
		}
	}

	s.transitionMu.Lock()
	s.mu.Lock()
	from := s.state
	s.state = Stopped
	s.stoppedAt = s.clock()
	chunks := s.buffer.Freeze()
	now := s.stoppedAt
	s.mu.Unlock()

	s.logger.Infof("Session %s: stopped by %s (%d chunks, %d bytes)", s.id, ev, len(chunks), s.buffer.Size())
	s.notify(Transition{SessionID: s.id, From: from, To: Stopped, Event: ev, At: now})
	s.transitionMu.Unlock()

	// Observers have seen Stopped before anyone waiting on Done runs.
	close(s.done)
	return nil
}

func (s *Session) notify(t Transition) {
	for _, o := range s.observers {
		o.OnTransition(t)
	}
}
