package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"screen-hr-sync/internal/models"
)

const (
	defaultRecordingsLimit = 20
	maxRecordingsLimit     = 500
)

// RecordingHistory lists persisted recordings, newest first
type RecordingHistory interface {
	GetRecentRecordings(ctx context.Context, limit int) ([]models.RecordingSummary, error)
}

type recordingResp struct {
	SessionID string                `json:"sessionId"`
	Device    string                `json:"device"`
	StartedAt time.Time             `json:"startedAt"`
	StoppedAt time.Time             `json:"stoppedAt"`
	Chunks    int                   `json:"chunks"`
	Bytes     int64                 `json:"bytes"`
	MimeType  string                `json:"mimeType,omitempty"`
	VideoFile string                `json:"videoFile,omitempty"`
	DataFile  string                `json:"dataFile,omitempty"`
	HeartRate models.HeartRateStats `json:"heartRate"`
}

// RecordingsHandler serves recent recordings from the store. ?limit= caps
// the result. A nil History means persistence is disabled.
type RecordingsHandler struct {
	History RecordingHistory
	Logger  *zap.SugaredLogger
}

func (h RecordingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		writeError(w, http.StatusServiceUnavailable, "recording history is disabled")
		return
	}

	limit := defaultRecordingsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecordingsLimit)
	}

	summaries, err := h.History.GetRecentRecordings(r.Context(), limit)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Errorf("Handlers: Error listing recordings: %v", err)
		}
		writeError(w, http.StatusInternalServerError, "failed to list recordings")
		return
	}

	out := make([]recordingResp, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, recordingResp{
			SessionID: s.SessionID,
			Device:    s.Device,
			StartedAt: s.StartedAt.UTC(),
			StoppedAt: s.StoppedAt.UTC(),
			Chunks:    s.ChunkCount,
			Bytes:     s.TotalBytes,
			MimeType:  s.MimeType,
			VideoFile: s.VideoFile,
			DataFile:  s.DataFile,
			HeartRate: s.HeartRate,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
