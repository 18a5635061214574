package models

import "time"

// Chunk is one contiguous segment of recorded media
type Chunk struct {
	ArrivedAt time.Time
	Payload   []byte
}

// Size returns the payload length in bytes
func (c Chunk) Size() int {
	return len(c.Payload)
}

// ConversionStage names a phase of a transcoding run
type ConversionStage string

const (
	StageLoading    ConversionStage = "loading"
	StageConverting ConversionStage = "converting"
	StageComplete   ConversionStage = "complete"
)

// ConversionProgress is reported by a converter while it runs.
// Progress is 0-100 and never decreases within a stage.
type ConversionProgress struct {
	Stage    ConversionStage `json:"stage"`
	Progress int             `json:"progress"`
	Message  string          `json:"message"`
}

// ControlCommand is the JSON body accepted on the recording control topic
type ControlCommand struct {
	Command string `json:"command"` // start, pause, resume, stop
	Device  string `json:"device,omitempty"`
}

// StatusUpdate is published whenever a recording changes state or finishes exporting
type StatusUpdate struct {
	SessionID string              `json:"session_id"`
	Device    string              `json:"device"`
	State     string              `json:"state"`
	Timestamp time.Time           `json:"timestamp"`
	Chunks    int                 `json:"chunks"`
	Bytes     int64               `json:"bytes"`
	VideoFile string              `json:"video_file,omitempty"`
	DataFile  string              `json:"data_file,omitempty"`
	Progress  *ConversionProgress `json:"progress,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// RecordingSummary is the persisted record of a finished recording
type RecordingSummary struct {
	SessionID  string
	Device     string
	StartedAt  time.Time
	StoppedAt  time.Time
	ChunkCount int
	TotalBytes int64
	MimeType   string
	VideoFile  string
	DataFile   string
	HeartRate  HeartRateStats
}
