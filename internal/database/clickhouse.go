package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"screen-hr-sync/internal/models"
)

type ClickHouseDB struct {
	conn   driver.Conn
	logger *zap.SugaredLogger
}

// Config holds ClickHouse connection settings
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*ClickHouseDB, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Infof("ClickHouse: Connected at %s", cfg.Addr)

	db := &ClickHouseDB{conn: conn, logger: logger}
	if err := db.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.Info("ClickHouse: Database schema initialized successfully")
	return nil
}

// SaveHeartRate saves one raw heart-rate sample
func (db *ClickHouseDB) SaveHeartRate(ctx context.Context, event models.HeartRateEvent, source string) error {
	query := `
		INSERT INTO heart_rate_samples (timestamp, device_name, heart_rate, source)
		VALUES (?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		event.ArrivedAt.Round(0),
		event.DeviceName,
		event.HeartRate,
		source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert heart-rate sample: %w", err)
	}

	return nil
}

// SaveRecording saves the summary of a finished recording
func (db *ClickHouseDB) SaveRecording(ctx context.Context, summary models.RecordingSummary) error {
	query := `
		INSERT INTO recording_sessions (session_id, device_name, started_at, stopped_at, chunk_count,
			total_bytes, mime_type, video_file, data_file, hr_count, hr_min, hr_max, hr_mean)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		summary.SessionID,
		summary.Device,
		summary.StartedAt.Round(0),
		summary.StoppedAt.Round(0),
		uint32(summary.ChunkCount),
		uint64(summary.TotalBytes),
		summary.MimeType,
		summary.VideoFile,
		summary.DataFile,
		uint32(summary.HeartRate.Count),
		summary.HeartRate.Min,
		summary.HeartRate.Max,
		summary.HeartRate.Mean,
	)
	if err != nil {
		return fmt.Errorf("failed to insert recording session: %w", err)
	}

	db.logger.Infof("ClickHouse: Saved recording %s (%d chunks, %d heart-rate samples)",
		summary.SessionID, summary.ChunkCount, summary.HeartRate.Count)
	return nil
}

// SaveSyncedSeries saves a session's synchronized heart-rate series in one batch
func (db *ClickHouseDB) SaveSyncedSeries(ctx context.Context, sessionID string, samples []models.SyncedHeartRate) error {
	if len(samples) == 0 {
		return nil
	}

	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO synced_heart_rate (session_id, offset_ms, heart_rate)")
	if err != nil {
		return fmt.Errorf("failed to prepare synced series batch: %w", err)
	}

	for _, s := range samples {
		if err := batch.Append(sessionID, s.OffsetMs, s.Value); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append synced sample: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send synced series batch: %w", err)
	}

	return nil
}

// UpsertDevice inserts or updates a device in the registry
func (db *ClickHouseDB) UpsertDevice(ctx context.Context, device models.Device) error {
	query := `
		INSERT INTO device_registry (device_name, source, first_seen, last_seen, last_value)
		VALUES (?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		device.DeviceName,
		device.Source,
		device.FirstSeen.Round(0),
		device.LastSeen.Round(0),
		device.LastValue,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// GetRecentRecordings returns the most recently started recordings
func (db *ClickHouseDB) GetRecentRecordings(ctx context.Context, limit int) ([]models.RecordingSummary, error) {
	query := `
		SELECT session_id, device_name, started_at, stopped_at, chunk_count, total_bytes,
			mime_type, video_file, data_file, hr_count, hr_min, hr_max, hr_mean
		FROM recording_sessions
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recordings: %w", err)
	}
	defer rows.Close()

	var out []models.RecordingSummary
	for rows.Next() {
		var (
			s                   models.RecordingSummary
			chunkCount, hrCount uint32
			totalBytes          uint64
		)
		if err := rows.Scan(&s.SessionID, &s.Device, &s.StartedAt, &s.StoppedAt, &chunkCount, &totalBytes,
			&s.MimeType, &s.VideoFile, &s.DataFile, &hrCount, &s.HeartRate.Min, &s.HeartRate.Max, &s.HeartRate.Mean); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		s.ChunkCount = int(chunkCount)
		s.TotalBytes = int64(totalBytes)
		s.HeartRate.Count = int(hrCount)
		out = append(out, s)
	}

	return out, rows.Err()
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.logger.Info("ClickHouse: Connection closed")
	}
	return nil
}
