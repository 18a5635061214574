package aggregator

import (
	"screen-hr-sync/internal/models"
)

// ComputeStats summarizes heart-rate values. An empty input yields a zero summary.
func ComputeStats(events []models.HeartRateEvent) models.HeartRateStats {
	stats := models.HeartRateStats{Count: len(events)}
	if len(events) == 0 {
		return stats
	}

	var sum float64
	stats.Min = events[0].HeartRate
	stats.Max = events[0].HeartRate
	for _, e := range events {
		sum += e.HeartRate
		if e.HeartRate < stats.Min {
			stats.Min = e.HeartRate
		}
		if e.HeartRate > stats.Max {
			stats.Max = e.HeartRate
		}
	}
	stats.Mean = sum / float64(len(events))
	return stats
}

// FilterDevice keeps the events reported by one device. An empty name keeps all.
func FilterDevice(events []models.HeartRateEvent, deviceName string) []models.HeartRateEvent {
	if deviceName == "" {
		return events
	}
	out := make([]models.HeartRateEvent, 0, len(events))
	for _, e := range events {
		if e.DeviceName == deviceName {
			out = append(out, e)
		}
	}
	return out
}
