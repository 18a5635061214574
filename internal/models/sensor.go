package models

import "time"

// HeartRateEvent is a heart-rate sample as received from a transport.
// ArrivedAt is stamped locally at receipt and carries the process monotonic
// reading, so it is only meaningful relative to other instants from the same
// process.
type HeartRateEvent struct {
	DeviceName string    `json:"devName"`
	HeartRate  float64   `json:"heartRate"`
	ArrivedAt  time.Time `json:"-"`
	Source     string    `json:"-"` // mqtt, relay
}

// HeartRatePayload is the JSON body published on the heart-rate MQTT topic
type HeartRatePayload struct {
	DeviceName string  `json:"devName"`
	HeartRate  float64 `json:"heartRate"`
}

// SyncedHeartRate is a heart-rate sample projected onto a recording timeline
type SyncedHeartRate struct {
	OffsetMs int64   `json:"t"`  // milliseconds since recording start
	Value    float64 `json:"hr"` // beats per minute
}

// HeartRateExport is the JSON side-channel document written next to a video
type HeartRateExport struct {
	Device    string            `json:"device"`
	StartedAt string            `json:"startedAt"` // ISO-8601 UTC, millisecond precision
	Samples   []SyncedHeartRate `json:"hr"`
}

// HeartRateStats summarizes the samples captured during one recording
type HeartRateStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}
