// Package timeline projects independently clocked sensor samples onto a
// recording's relative timeline.
//
// Both the recording start and every sample arrival are read from the same
// process monotonic clock, so offsets are plain differences. Samples from a
// different clock domain need an offset calibration before they get here.
package timeline

import (
	"time"

	"screen-hr-sync/internal/models"
	"screen-hr-sync/internal/recording"
)

// Offset returns the whole milliseconds from start to at, rounded to the
// nearest millisecond and clamped at zero.
func Offset(start, at time.Time) int64 {
	ms := at.Sub(start).Round(time.Millisecond).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// Synchronize maps each event to its offset from start. Order and length are
// preserved; duplicate offsets are kept. A zero start means the recording
// never began and yields ErrNoReferenceInstant.
func Synchronize(start time.Time, events []models.HeartRateEvent) ([]models.SyncedHeartRate, error) {
	if start.IsZero() {
		return nil, recording.ErrNoReferenceInstant
	}

	out := make([]models.SyncedHeartRate, len(events))
	for i, e := range events {
		out[i] = models.SyncedHeartRate{
			OffsetMs: Offset(start, e.ArrivedAt),
			Value:    e.HeartRate,
		}
	}
	return out, nil
}

// EarliestArrival returns the smallest arrival instant among events.
// It is the usual fallback reference when no recording start exists.
func EarliestArrival(events []models.HeartRateEvent) (time.Time, bool) {
	var earliest time.Time
	for _, e := range events {
		if e.ArrivedAt.IsZero() {
			continue
		}
		if earliest.IsZero() || e.ArrivedAt.Before(earliest) {
			earliest = e.ArrivedAt
		}
	}
	return earliest, !earliest.IsZero()
}
