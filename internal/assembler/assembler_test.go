package assembler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"screen-hr-sync/internal/models"
	"screen-hr-sync/internal/recording"
)

// ============================================================================
// Test helpers
// ============================================================================

type fakeSource struct {
	state  recording.State
	chunks []models.Chunk
	start  time.Time
}

func (f *fakeSource) ID() string                      { return "session-1" }
func (f *fakeSource) State() recording.State          { return f.state }
func (f *fakeSource) Chunks() []models.Chunk          { return append([]models.Chunk(nil), f.chunks...) }
func (f *fakeSource) MimeType() string                { return "video/webm;codecs=vp9,opus" }
func (f *fakeSource) StartInstant() (time.Time, bool) { return f.start, !f.start.IsZero() }

func stoppedSource(payloads ...string) *fakeSource {
	src := &fakeSource{
		state: recording.Stopped,
		start: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, p := range payloads {
		src.chunks = append(src.chunks, models.Chunk{ArrivedAt: time.Now(), Payload: []byte(p)})
	}
	return src
}

type fakeConverter struct {
	err      error
	calls    int
	received []byte
}

func (f *fakeConverter) Convert(_ context.Context, data []byte, onProgress func(models.ConversionProgress)) ([]byte, error) {
	f.calls++
	f.received = data
	onProgress(models.ConversionProgress{Stage: models.StageLoading, Progress: 0})
	if f.err != nil {
		return nil, f.err
	}
	onProgress(models.ConversionProgress{Stage: models.StageConverting, Progress: 50})
	onProgress(models.ConversionProgress{Stage: models.StageComplete, Progress: 100})
	return append([]byte("mp4:"), data...), nil
}

func (f *fakeConverter) MimeType() string { return "video/mp4" }

type memorySink struct {
	mu    sync.Mutex
	files map[string][]byte
	err   error
}

func newMemorySink() *memorySink {
	return &memorySink{files: make(map[string][]byte)}
}

func (m *memorySink) Write(_ context.Context, data []byte, filename string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if _, exists := m.files[filename]; exists {
		return "", fmt.Errorf("%s already exists", filename)
	}
	m.files[filename] = append([]byte(nil), data...)
	return "/mem/" + filename, nil
}

func newTestAssembler(t *testing.T, src Source) *Assembler {
	return New(src, zaptest.NewLogger(t).Sugar())
}

// ============================================================================
// Blob
// ============================================================================

func TestBlob_ConcatenatesInOrder(t *testing.T) {
	a := newTestAssembler(t, stoppedSource("aa", "b", "ccc"))

	blob, err := a.Blob()

	require.NoError(t, err)
	assert.Equal(t, "aabccc", string(blob.Data))
	assert.Equal(t, "video/webm;codecs=vp9,opus", blob.MimeType)
	assert.Equal(t, 6, blob.Size())
}

func TestBlob_EmptyBuffer(t *testing.T) {
	a := newTestAssembler(t, stoppedSource())

	_, err := a.Blob()

	assert.ErrorIs(t, err, recording.ErrEmptyBuffer)
}

func TestBlob_RequiresStoppedSession(t *testing.T) {
	src := stoppedSource("a")
	src.state = recording.Recording
	a := newTestAssembler(t, src)

	_, err := a.Blob()

	assert.ErrorIs(t, err, recording.ErrInvalidState)
}

func TestBlob_IsRepeatableAndDoesNotMutateChunks(t *testing.T) {
	src := stoppedSource("a", "b")
	a := newTestAssembler(t, src)

	first, err := a.Direct()
	require.NoError(t, err)
	first.Data[0] = 'X'
	second, err := a.Direct()
	require.NoError(t, err)

	assert.Equal(t, "ab", string(second.Data))
	assert.Equal(t, "a", string(src.chunks[0].Payload))
}

// ============================================================================
// Transcode
// ============================================================================

func TestTranscode_ReportsProgressAndRetagsMime(t *testing.T) {
	a := newTestAssembler(t, stoppedSource("a", "b"))
	conv := &fakeConverter{}
	var stages []models.ConversionStage

	blob, err := a.Transcode(context.Background(), conv, func(p models.ConversionProgress) {
		stages = append(stages, p.Stage)
	})

	require.NoError(t, err)
	assert.Equal(t, "mp4:ab", string(blob.Data))
	assert.Equal(t, "video/mp4", blob.MimeType)
	assert.Equal(t, []models.ConversionStage{models.StageLoading, models.StageConverting, models.StageComplete}, stages)
}

func TestTranscode_FailureKeepsDirectPath(t *testing.T) {
	a := newTestAssembler(t, stoppedSource("one", "two", "three"))
	conv := &fakeConverter{err: errors.New("backend unavailable")}

	_, err := a.Transcode(context.Background(), conv, nil)
	require.ErrorIs(t, err, recording.ErrConversion)
	assert.Contains(t, err.Error(), "backend unavailable")

	direct, err := a.Direct()
	require.NoError(t, err)
	assert.Equal(t, "onetwothree", string(direct.Data))
}

func TestTranscode_EmptyBufferSkipsConverter(t *testing.T) {
	a := newTestAssembler(t, stoppedSource())
	conv := &fakeConverter{}

	_, err := a.Transcode(context.Background(), conv, nil)

	assert.ErrorIs(t, err, recording.ErrEmptyBuffer)
	assert.Equal(t, 0, conv.calls)
}

// ============================================================================
// Export
// ============================================================================

var idPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z_[0-9a-f]{8}$`)

func TestExport_DirectWritesCorrelatedPair(t *testing.T) {
	a := newTestAssembler(t, stoppedSource("a", "b"))
	sink := newMemorySink()
	samples := []models.SyncedHeartRate{{OffsetMs: 500, Value: 70}, {OffsetMs: 2500, Value: 75}}

	res, err := a.Export(context.Background(), sink, ExportRequest{Device: "Polar Verity Sense", Samples: samples})

	require.NoError(t, err)
	assert.Regexp(t, idPattern, res.ID)
	assert.Equal(t, "/mem/capture_"+res.ID+".webm", res.VideoFile)
	assert.Equal(t, "/mem/hr_"+res.ID+".json", res.DataFile)
	assert.False(t, res.Transcoded)
	assert.Equal(t, "ab", string(sink.files["capture_"+res.ID+".webm"]))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(sink.files["hr_"+res.ID+".json"], &doc))
	assert.Equal(t, "Polar Verity Sense", doc["device"])
	assert.Equal(t, "2025-03-01T12:00:00.000Z", doc["startedAt"])
	assert.Equal(t, []any{
		map[string]any{"t": float64(500), "hr": float64(70)},
		map[string]any{"t": float64(2500), "hr": float64(75)},
	}, doc["hr"])
}

func TestExport_TranscodedWritesMP4(t *testing.T) {
	a := newTestAssembler(t, stoppedSource("a"))
	sink := newMemorySink()

	res, err := a.Export(context.Background(), sink, ExportRequest{Converter: &fakeConverter{}})

	require.NoError(t, err)
	assert.True(t, res.Transcoded)
	assert.Equal(t, "video/mp4", res.VideoMimeType)
	assert.Equal(t, "mp4:a", string(sink.files["capture_"+res.ID+".mp4"]))
}

func TestExport_ConversionFailureWithoutFallback(t *testing.T) {
	a := newTestAssembler(t, stoppedSource("a"))
	sink := newMemorySink()

	res, err := a.Export(context.Background(), sink, ExportRequest{Converter: &fakeConverter{err: errors.New("boom")}})

	require.ErrorIs(t, err, recording.ErrConversion)
	assert.Empty(t, res.VideoFile)
	assert.NotEmpty(t, res.DataFile, "heart-rate document is written before conversion")
}

func TestExport_ConversionFailureFallsBackToDirect(t *testing.T) {
	a := newTestAssembler(t, stoppedSource("a", "b", "c"))
	sink := newMemorySink()

	res, err := a.Export(context.Background(), sink, ExportRequest{
		Converter:        &fakeConverter{err: errors.New("boom")},
		FallbackToDirect: true,
	})

	require.NoError(t, err)
	assert.ErrorIs(t, res.ConversionErr, recording.ErrConversion)
	assert.False(t, res.Transcoded)
	assert.Equal(t, "abc", string(sink.files["capture_"+res.ID+".webm"]))
}

func TestExport_IDsAreUniquePerCall(t *testing.T) {
	a := newTestAssembler(t, stoppedSource("a"))
	sink := newMemorySink()
	fixed := func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	first, err := a.Export(context.Background(), sink, ExportRequest{Now: fixed})
	require.NoError(t, err)
	second, err := a.Export(context.Background(), sink, ExportRequest{Now: fixed})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, sink.files, 4)
}

func TestExport_EmptySessionStillWritesHeartRate(t *testing.T) {
	a := newTestAssembler(t, stoppedSource())
	sink := newMemorySink()
	samples := []models.SyncedHeartRate{{OffsetMs: 0, Value: 64}}

	res, err := a.Export(context.Background(), sink, ExportRequest{Device: "dev", Samples: samples})

	require.ErrorIs(t, err, recording.ErrEmptyBuffer)
	assert.Empty(t, res.VideoFile)
	assert.Equal(t, "/mem/hr_"+res.ID+".json", res.DataFile)
	require.Len(t, sink.files, 1)
	assert.Contains(t, string(sink.files["hr_"+res.ID+".json"]), `"hr": 64`)
}

func TestExport_RequiresStoppedSession(t *testing.T) {
	src := stoppedSource("a")
	src.state = recording.Paused
	sink := newMemorySink()

	_, err := newTestAssembler(t, src).Export(context.Background(), sink, ExportRequest{})

	assert.ErrorIs(t, err, recording.ErrInvalidState)
	assert.Empty(t, sink.files)
}

// ============================================================================
// Naming
// ============================================================================

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"video/webm;codecs=vp9,opus":   "webm",
		"video/mp4":                    "mp4",
		"video/x-matroska;codecs=avc1": "mkv",
		"application/octet-stream":     "webm",
		"":                             "webm",
	}
	for mime, want := range tests {
		assert.Equal(t, want, ExtensionFor(mime), mime)
	}
}

func TestHeartRateDocument_EmptySamplesEncodeAsArray(t *testing.T) {
	doc := HeartRateDocument("dev", time.UnixMilli(1700000000123), nil)

	data, err := EncodeHeartRateDocument(doc)

	require.NoError(t, err)
	assert.JSONEq(t, `{"device":"dev","startedAt":"2023-11-14T22:13:20.123Z","hr":[]}`, string(data))
}
