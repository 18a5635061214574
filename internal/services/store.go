package services

import (
	"context"

	"screen-hr-sync/internal/models"
)

// Store persists heart-rate samples and finished recordings.
// *database.ClickHouseDB implements it.
type Store interface {
	SaveHeartRate(ctx context.Context, event models.HeartRateEvent, source string) error
	UpsertDevice(ctx context.Context, device models.Device) error
	SaveRecording(ctx context.Context, summary models.RecordingSummary) error
	SaveSyncedSeries(ctx context.Context, sessionID string, samples []models.SyncedHeartRate) error
}
