package recording

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ============================================================================
// Test helpers
// ============================================================================

type fakeStream struct {
	mu       sync.Mutex
	paused   bool
	releases int
	pauseErr error
	onEnded  func()
	ended    bool
	onChunk  ChunkHandler
	mimeType string

	// pending is handed to onChunk when the stream pauses or is released,
	// like a recorder flushing its current timeslice.
	pending      []byte
	endOnRelease bool
}

func (f *fakeStream) Pause() error {
	f.mu.Lock()
	if f.pauseErr != nil {
		f.mu.Unlock()
		return f.pauseErr
	}
	f.paused = true
	f.mu.Unlock()
	f.deliverPending()
	return nil
}

func (f *fakeStream) deliverPending() {
	f.mu.Lock()
	p := f.pending
	f.pending = nil
	f.mu.Unlock()
	if p != nil {
		f.onChunk(p, time.Now())
	}
}

func (f *fakeStream) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = false
	return nil
}

func (f *fakeStream) OnEnded(fn func()) {
	f.mu.Lock()
	ended := f.ended
	f.onEnded = fn
	f.mu.Unlock()
	if ended {
		fn()
	}
}

func (f *fakeStream) Release() error {
	f.mu.Lock()
	f.releases++
	endOnRelease := f.endOnRelease
	f.mu.Unlock()

	f.deliverPending()
	if endOnRelease {
		f.end()
	}
	return nil
}

func (f *fakeStream) MimeType() string { return f.mimeType }

// end simulates the capture ending on its own.
func (f *fakeStream) end() {
	f.mu.Lock()
	f.ended = true
	fn := f.onEnded
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeSource struct {
	stream *fakeStream
	err    error
	calls  int
}

func (f *fakeSource) Acquire(_ context.Context, onChunk ChunkHandler) (Stream, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.stream.onChunk = onChunk
	return f.stream, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{stream: &fakeStream{mimeType: "video/webm;codecs=vp9,opus"}}
}

// manualClock returns instants relative to a fixed epoch in milliseconds.
type manualClock struct {
	epoch time.Time
	now   time.Time
}

func newManualClock() *manualClock {
	epoch := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &manualClock{epoch: epoch, now: epoch}
}

func (c *manualClock) set(ms int) { c.now = c.at(ms) }

func (c *manualClock) at(ms int) time.Time {
	return c.epoch.Add(time.Duration(ms) * time.Millisecond)
}

func (c *manualClock) Now() time.Time { return c.now }

type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
	accepted    int
	dropped     int
}

func (o *recordingObserver) OnTransition(t Transition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, t)
}

func (o *recordingObserver) OnChunk(_ int, accepted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if accepted {
		o.accepted++
	} else {
		o.dropped++
	}
}

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	base := []Option{WithLogger(zaptest.NewLogger(t).Sugar())}
	return NewSession(append(base, opts...)...)
}

// ============================================================================
// Start
// ============================================================================

func TestStart_TransitionsToRecording(t *testing.T) {
	clock := newManualClock()
	clock.set(1000)
	s := newTestSession(t, WithClock(clock.Now))
	src := newFakeSource()

	require.NoError(t, s.Start(context.Background(), src))

	assert.Equal(t, Recording, s.State())
	start, ok := s.StartInstant()
	require.True(t, ok)
	assert.Equal(t, clock.at(1000), start)
	assert.Equal(t, "video/webm;codecs=vp9,opus", s.MimeType())
}

func TestStart_SourceErrorKeepsIdle(t *testing.T) {
	s := newTestSession(t)
	src := &fakeSource{err: errors.New("permission denied")}

	err := s.Start(context.Background(), src)

	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, Idle, s.State())
	_, ok := s.StartInstant()
	assert.False(t, ok, "start instant must not be set on failure")
}

func TestStart_SourceErrorIsNotRetried(t *testing.T) {
	s := newTestSession(t)
	src := &fakeSource{err: ErrSourceUnavailable}

	require.ErrorIs(t, s.Start(context.Background(), src), ErrSourceUnavailable)
	assert.Equal(t, 1, src.calls)
}

func TestStart_TwiceFails(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Start(context.Background(), newFakeSource()))

	err := s.Start(context.Background(), newFakeSource())

	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, Recording, te.From)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestStart_AfterStopFails(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Start(context.Background(), newFakeSource()))
	require.NoError(t, s.Stop())

	assert.ErrorIs(t, s.Start(context.Background(), newFakeSource()), ErrInvalidState)
	assert.Equal(t, Stopped, s.State())
}

// ============================================================================
// Chunk delivery
// ============================================================================

func TestOnChunkAvailable_DroppedBeforeStart(t *testing.T) {
	s := newTestSession(t)

	assert.False(t, s.OnChunkAvailable([]byte("early"), time.Now()))
	assert.Equal(t, 0, s.ChunkCount())
}

func TestOnChunkAvailable_DroppedWhilePaused(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSession(t, WithObserver(obs))
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))

	src.stream.onChunk([]byte("a"), time.Now())
	require.NoError(t, s.Pause())
	src.stream.onChunk([]byte("late"), time.Now())
	require.NoError(t, s.Resume())
	src.stream.onChunk([]byte("b"), time.Now())
	require.NoError(t, s.Stop())

	chunks := s.Chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", string(chunks[0].Payload))
	assert.Equal(t, "b", string(chunks[1].Payload))
	assert.Equal(t, 2, obs.accepted)
	assert.Equal(t, 1, obs.dropped)
}

func TestOnChunkAvailable_EmptyPayloadIgnored(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Start(context.Background(), newFakeSource()))

	assert.False(t, s.OnChunkAvailable(nil, time.Now()))
	assert.False(t, s.OnChunkAvailable([]byte{}, time.Now()))
	assert.Equal(t, 0, s.ChunkCount())
}

func TestOnChunkAvailable_DroppedAfterStop(t *testing.T) {
	s := newTestSession(t)
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))
	src.stream.onChunk([]byte("a"), time.Now())
	require.NoError(t, s.Stop())

	assert.False(t, s.OnChunkAvailable([]byte("b"), time.Now()))
	assert.Equal(t, 1, s.ChunkCount())
}

func TestOnChunkAvailable_PreservesOrderAndCount(t *testing.T) {
	s := newTestSession(t)
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))

	for i := 0; i < 20; i++ {
		src.stream.onChunk([]byte{byte(i)}, time.Now())
	}
	require.NoError(t, s.Stop())

	chunks := s.Chunks()
	require.Len(t, chunks, 20)
	for i, c := range chunks {
		assert.Equal(t, byte(i), c.Payload[0], "chunk %d out of order", i)
	}
	assert.Equal(t, int64(20), s.TotalBytes())
}

// ============================================================================
// Pause / Resume
// ============================================================================

func TestPause_FromIdleFails(t *testing.T) {
	s := newTestSession(t)

	err := s.Pause()

	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, Idle, s.State())
}

func TestResume_FromIdleFails(t *testing.T) {
	s := newTestSession(t)
	assert.ErrorIs(t, s.Resume(), ErrInvalidState)
}

func TestPause_SuspendsSource(t *testing.T) {
	s := newTestSession(t)
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))

	require.NoError(t, s.Pause())
	assert.Equal(t, Paused, s.State())
	assert.True(t, src.stream.paused)

	require.NoError(t, s.Resume())
	assert.Equal(t, Recording, s.State())
	assert.False(t, src.stream.paused)
}

func TestPauseResume_DuplicatesAreNoops(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSession(t, WithObserver(obs))
	require.NoError(t, s.Start(context.Background(), newFakeSource()))

	require.NoError(t, s.Resume(), "resume while recording is a no-op")
	require.NoError(t, s.Pause())
	require.NoError(t, s.Pause(), "pause while paused is a no-op")
	assert.Equal(t, Paused, s.State())

	// start, pause
	assert.Len(t, obs.transitions, 2)
}

func TestPauseResume_LeavesChunksUnchanged(t *testing.T) {
	s := newTestSession(t)
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))
	src.stream.onChunk([]byte("a"), time.Now())
	before := s.Chunks()

	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())

	assert.Equal(t, before, s.Chunks())
}

func TestPause_AcceptsBytesFlushedBySource(t *testing.T) {
	s := newTestSession(t)
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))
	src.stream.onChunk([]byte("a"), time.Now())
	src.stream.pending = []byte("b")

	require.NoError(t, s.Pause())
	src.stream.onChunk([]byte("late"), time.Now())
	require.NoError(t, s.Resume())
	src.stream.onChunk([]byte("c"), time.Now())
	require.NoError(t, s.Stop())

	var got []string
	for _, c := range s.Chunks() {
		got = append(got, string(c.Payload))
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestPause_SourceErrorKeepsState(t *testing.T) {
	s := newTestSession(t)
	src := newFakeSource()
	src.stream.pauseErr = errors.New("no such process")
	require.NoError(t, s.Start(context.Background(), src))

	require.Error(t, s.Pause())
	assert.Equal(t, Recording, s.State())
}

func TestPause_AfterStopFails(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Start(context.Background(), newFakeSource()))
	require.NoError(t, s.Stop())

	assert.ErrorIs(t, s.Pause(), ErrInvalidState)
	assert.ErrorIs(t, s.Resume(), ErrInvalidState)
}

// ============================================================================
// Stop
// ============================================================================

func TestStop_FromIdleFails(t *testing.T) {
	s := newTestSession(t)
	assert.ErrorIs(t, s.Stop(), ErrInvalidState)
}

func TestStop_FromPaused(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, s.Start(context.Background(), newFakeSource()))
	require.NoError(t, s.Pause())

	require.NoError(t, s.Stop())
	assert.Equal(t, Stopped, s.State())
}

func TestStop_IsIdempotent(t *testing.T) {
	s := newTestSession(t)
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))
	src.stream.onChunk([]byte("a"), time.Now())
	src.stream.onChunk([]byte("b"), time.Now())

	require.NoError(t, s.Stop())
	once := s.Chunks()
	require.NoError(t, s.Stop())

	assert.Equal(t, once, s.Chunks())
	assert.Equal(t, 1, src.stream.releases, "source must be released exactly once")
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after stop")
	}
}

func TestStop_AcceptsTailFlushedOnRelease(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSession(t, WithObserver(obs))
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))
	src.stream.onChunk([]byte("a"), time.Now())
	src.stream.pending = []byte("tail")
	src.stream.endOnRelease = true

	require.NoError(t, s.Stop())

	chunks := s.Chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, "tail", string(chunks[1].Payload))
	require.Len(t, obs.transitions, 2, "the end reported during release must not stop twice")
	assert.Equal(t, EventStop, obs.transitions[1].Event)
	assert.Equal(t, 0, obs.dropped)
}

func TestStop_SourceEndedAutoStops(t *testing.T) {
	obs := &recordingObserver{}
	s := newTestSession(t, WithObserver(obs))
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))
	src.stream.onChunk([]byte("a"), time.Now())
	src.stream.onChunk([]byte("b"), time.Now())

	src.stream.end()

	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, 2, s.ChunkCount())
	require.Len(t, obs.transitions, 2)
	assert.Equal(t, EventSourceEnded, obs.transitions[1].Event)

	// A manual stop racing the source-ended signal is absorbed.
	require.NoError(t, s.Stop())
	assert.Len(t, obs.transitions, 2)
	assert.Equal(t, 1, src.stream.releases)
}

func TestStop_SourceEndedWhilePaused(t *testing.T) {
	s := newTestSession(t)
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))
	require.NoError(t, s.Pause())

	src.stream.end()

	assert.Equal(t, Stopped, s.State())
}

func TestStop_RecordsStopInstant(t *testing.T) {
	clock := newManualClock()
	clock.set(1000)
	s := newTestSession(t, WithClock(clock.Now))
	require.NoError(t, s.Start(context.Background(), newFakeSource()))

	clock.set(4200)
	require.NoError(t, s.Stop())

	stop, ok := s.StopInstant()
	require.True(t, ok)
	assert.Equal(t, clock.at(4200), stop)
}

func TestObserver_SeesStartBeforeConcurrentStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		obs := &recordingObserver{}
		s := newTestSession(t, WithObserver(obs))
		started := make(chan error, 1)

		go func() { started <- s.Start(context.Background(), newFakeSource()) }()
		require.Eventually(t, func() bool { return s.Stop() == nil }, time.Second, time.Millisecond)
		require.NoError(t, <-started)

		obs.mu.Lock()
		require.Len(t, obs.transitions, 2)
		assert.Equal(t, Recording, obs.transitions[0].To)
		assert.Equal(t, Stopped, obs.transitions[1].To)
		obs.mu.Unlock()
	}
}

// ============================================================================
// Scenario
// ============================================================================

func TestScenario_ThreeChunksBetweenStartAndStop(t *testing.T) {
	clock := newManualClock()
	clock.set(1000)
	s := newTestSession(t, WithClock(clock.Now), WithID("scenario"))
	src := newFakeSource()
	require.NoError(t, s.Start(context.Background(), src))

	for _, ms := range []int{2000, 3000, 4000} {
		clock.set(ms)
		src.stream.onChunk([]byte{byte(ms / 1000)}, clock.Now())
	}
	clock.set(4200)
	require.NoError(t, s.Stop())

	chunks := s.Chunks()
	require.Len(t, chunks, 3)
	assert.Equal(t, clock.at(2000), chunks[0].ArrivedAt)
	assert.Equal(t, clock.at(4000), chunks[2].ArrivedAt)
	assert.Equal(t, "scenario", s.ID())
}
